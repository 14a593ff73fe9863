package config

import "github.com/spf13/viper"

type S3Config struct {
	BucketName string `mapstructure:"bucket_name"`
	Region     string `mapstructure:"region"`
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
}

func setS3Defaults(v *viper.Viper) {
	v.SetDefault("storage.s3.bucket_name", "")
	v.SetDefault("storage.s3.region", "eu-central-1")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	_ = v.BindEnv("storage.s3.bucket_name", "AWS_S3_BUCKET_NAME")
	_ = v.BindEnv("storage.s3.region", "AWS_REGION")
	_ = v.BindEnv("storage.s3.endpoint", "AWS_ENDPOINT")
	_ = v.BindEnv("storage.s3.access_key", "AWS_ACCESS_KEY")
	_ = v.BindEnv("storage.s3.secret_key", "AWS_SECRET_KEY")
}
