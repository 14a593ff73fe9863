package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	once    sync.Once
	current *Config
	loadErr error
)

// Config is the full process configuration shared by every binary.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Vision     VisionConfig     `mapstructure:"vision"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Validation ValidationConfig `mapstructure:"validation"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Bitrix     BitrixConfig     `mapstructure:"bitrix"`
	Session    SessionConfig    `mapstructure:"session"`
	Storage    StorageConfig    `mapstructure:"storage"`
}

type AppConfig struct {
	LogLevel    string `mapstructure:"log_level"`
	LogEncoding string `mapstructure:"log_encoding"`
	LogDir      string `mapstructure:"log_dir"`
	HTTPAddr    string `mapstructure:"http_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type RedisConfig struct {
	URL              string        `mapstructure:"url"`
	QueueKey         string        `mapstructure:"queue_key"`
	PollTimeout      time.Duration `mapstructure:"poll_timeout"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
	ErrorBackoff     time.Duration `mapstructure:"error_backoff"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type VisionConfig struct {
	Provider string       `mapstructure:"provider"`
	OpenAI   OpenAIConfig `mapstructure:"openai"`
	Ollama   OllamaConfig `mapstructure:"ollama"`
}

type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type OllamaConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type ExtractionConfig struct {
	EscalateBelow float64 `mapstructure:"escalate_below"`
	Pass1Images   int     `mapstructure:"pass1_images"`
	Pass2Images   int     `mapstructure:"pass2_images"`
	VariantDir    string  `mapstructure:"variant_dir"`
}

type ValidationConfig struct {
	MinConfidence float64 `mapstructure:"min_confidence"`
}

type TelegramConfig struct {
	Token        string        `mapstructure:"token"`
	BaseURL      string        `mapstructure:"base_url"`
	PhotoDir     string        `mapstructure:"photo_dir"`
	Timeout      time.Duration `mapstructure:"timeout"`
	SendAttempts int           `mapstructure:"send_attempts"`
	SendBackoff  time.Duration `mapstructure:"send_backoff"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
}

type BitrixConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	ChatID     string        `mapstructure:"chat_id"`
	Attempts   int           `mapstructure:"attempts"`
	Backoff    time.Duration `mapstructure:"backoff"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether CRM delivery is configured.
func (b BitrixConfig) Enabled() bool {
	return b.WebhookURL != "" && b.ChatID != ""
}

type SessionConfig struct {
	Backend    string        `mapstructure:"backend"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
}

type StorageConfig struct {
	Type      string        `mapstructure:"type"`
	Prefix    string        `mapstructure:"prefix"`
	Retention time.Duration `mapstructure:"retention"`
	S3        S3Config      `mapstructure:"s3"`
	Minio     MinioConfig   `mapstructure:"minio"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_encoding", "json")
	v.SetDefault("app.log_dir", "logs")
	v.SetDefault("app.http_addr", ":8080")
	v.SetDefault("app.metrics_addr", ":9090")

	v.SetDefault("redis.url", "redis://redis:6379/0")
	v.SetDefault("redis.queue_key", "tasks")
	v.SetDefault("redis.poll_timeout", 10*time.Second)
	v.SetDefault("redis.reconnect_backoff", 2*time.Second)
	v.SetDefault("redis.error_backoff", time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.ping_timeout", 5*time.Second)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("vision.provider", "openai")
	v.SetDefault("vision.openai.api_key", "")
	v.SetDefault("vision.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("vision.openai.model", "gpt-4o")
	v.SetDefault("vision.openai.max_tokens", 1200)
	v.SetDefault("vision.openai.temperature", 0.0)
	v.SetDefault("vision.openai.timeout", 120*time.Second)
	v.SetDefault("vision.ollama.endpoint", "http://localhost:11434")
	v.SetDefault("vision.ollama.model", "llava")
	v.SetDefault("vision.ollama.max_tokens", 1200)
	v.SetDefault("vision.ollama.temperature", 0.0)
	v.SetDefault("vision.ollama.timeout", 120*time.Second)

	v.SetDefault("extraction.escalate_below", 0.85)
	v.SetDefault("extraction.pass1_images", 3)
	v.SetDefault("extraction.pass2_images", 6)
	v.SetDefault("extraction.variant_dir", filepath.Join(os.TempDir(), "ocr_variants"))

	v.SetDefault("validation.min_confidence", 0.70)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.base_url", "https://api.telegram.org")
	v.SetDefault("telegram.photo_dir", "/tmp/photos")
	v.SetDefault("telegram.timeout", 20*time.Second)
	v.SetDefault("telegram.send_attempts", 3)
	v.SetDefault("telegram.send_backoff", 1500*time.Millisecond)
	v.SetDefault("telegram.poll_timeout", 30*time.Second)

	v.SetDefault("bitrix.webhook_url", "")
	v.SetDefault("bitrix.chat_id", "")
	v.SetDefault("bitrix.attempts", 3)
	v.SetDefault("bitrix.backoff", 2*time.Second)
	v.SetDefault("bitrix.timeout", 30*time.Second)

	v.SetDefault("session.backend", "redis")
	v.SetDefault("session.ttl", 30*time.Minute)
	v.SetDefault("session.max_entries", 10000)

	v.SetDefault("storage.type", "none")
	v.SetDefault("storage.prefix", "waybills")
	v.SetDefault("storage.retention", 90*24*time.Hour)
	setS3Defaults(v)
	setMinioDefaults(v)
}

// legacyEnv binds the historical flat variable names used by existing deployments.
var legacyEnv = map[string]string{
	"redis.url":                 "REDIS_URL",
	"database.url":              "DATABASE_URL",
	"vision.openai.api_key":     "OPENAI_API_KEY",
	"vision.openai.model":       "OPENAI_OCR_MODEL",
	"vision.provider":           "VISION_PROVIDER",
	"telegram.token":            "TELEGRAM_BOT_TOKEN",
	"telegram.photo_dir":        "PHOTO_DIR",
	"bitrix.webhook_url":        "BITRIX_WEBHOOK_URL",
	"bitrix.chat_id":            "BITRIX_CHAT_ID",
	"validation.min_confidence": "MIN_CONFIDENCE",
	"session.ttl":               "SESSION_TTL",
	"storage.type":              "STORAGE_TYPE",
	"app.log_level":             "LOG_LEVEL",
}

// Load reads configuration from an optional .env file, an optional config file
// and the environment. An empty path skips the config file.
func Load(envFile, path string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("WAYBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Database.URL = CleanDatabaseURL(cfg.Database.URL)
	return &cfg, nil
}

// Get returns the process-wide configuration, loading it on first use from the
// repository .env and WAYBILL_CONFIG.
func Get() *Config {
	once.Do(func() {
		_, filename, _, _ := runtime.Caller(0)
		envPath := filepath.Join(filepath.Dir(filepath.Dir(filename)), ".env")
		if _, err := os.Stat(".env"); err == nil {
			envPath = ".env"
		}
		current, loadErr = Load(envPath, os.Getenv("WAYBILL_CONFIG"))
		if loadErr != nil {
			log.Printf("Warning: %v, falling back to defaults", loadErr)
			current, _ = Load("", "")
		}
	})
	return current
}

// CleanDatabaseURL strips surrounding quotes and an accidental "DATABASE_URL=" prefix.
func CleanDatabaseURL(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, `"'`)
	s = strings.TrimPrefix(s, "DATABASE_URL=")
	return strings.Trim(strings.TrimSpace(s), `"'`)
}

// Validate reports missing settings for the named components.
func (c *Config) Validate(components ...string) error {
	var errs []error
	for _, comp := range components {
		switch comp {
		case "database":
			if c.Database.URL == "" {
				errs = append(errs, errors.New("database.url (DATABASE_URL) is required"))
			}
		case "redis":
			if c.Redis.URL == "" {
				errs = append(errs, errors.New("redis.url (REDIS_URL) is required"))
			}
		case "vision":
			switch c.Vision.Provider {
			case "openai":
				if c.Vision.OpenAI.APIKey == "" {
					errs = append(errs, errors.New("vision.openai.api_key (OPENAI_API_KEY) is required"))
				}
			case "ollama":
				if c.Vision.Ollama.Endpoint == "" {
					errs = append(errs, errors.New("vision.ollama.endpoint is required"))
				}
			default:
				errs = append(errs, fmt.Errorf("unknown vision.provider %q", c.Vision.Provider))
			}
		case "telegram":
			if c.Telegram.Token == "" {
				errs = append(errs, errors.New("telegram.token (TELEGRAM_BOT_TOKEN) is required"))
			}
		case "validation":
			if c.Validation.MinConfidence < 0 || c.Validation.MinConfidence > 1 {
				errs = append(errs, fmt.Errorf("validation.min_confidence must be within [0,1], got %v", c.Validation.MinConfidence))
			}
		case "storage":
			switch c.Storage.Type {
			case "none", "":
			case "s3":
				if c.Storage.S3.BucketName == "" {
					errs = append(errs, errors.New("storage.s3.bucket_name is required"))
				}
			case "minio":
				if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.BucketName == "" {
					errs = append(errs, errors.New("storage.minio.endpoint and bucket_name are required"))
				}
			default:
				errs = append(errs, fmt.Errorf("unknown storage.type %q", c.Storage.Type))
			}
		}
	}
	return errors.Join(errs...)
}
