package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/feichai0017/waybill-processor/config"
	"github.com/feichai0017/waybill-processor/pkg/logger"
	"github.com/feichai0017/waybill-processor/pkg/storage/minio"
	"github.com/feichai0017/waybill-processor/pkg/storage/s3"
)

// StorageType selects the photo archive backend.
type StorageType string

const (
	StorageTypeNone  StorageType = "none"
	StorageTypeS3    StorageType = "s3"
	StorageTypeMinio StorageType = "minio"
)

// Storage archives waybill photos in an object store.
type Storage interface {
	Store(ctx context.Context, reader io.Reader, key string) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// CleanupBefore removes objects under prefix last modified before threshold
	// and returns how many were deleted.
	CleanupBefore(ctx context.Context, prefix string, threshold time.Time) (int, error)
}

// NewStorage builds the backend named by cfg.Type. "none" and "" yield a no-op archive.
func NewStorage(ctx context.Context, cfg config.StorageConfig, log logger.Logger) (Storage, error) {
	switch StorageType(cfg.Type) {
	case StorageTypeNone, "":
		return Noop{}, nil
	case StorageTypeS3:
		return s3.NewS3Storage(ctx, cfg.S3, log)
	case StorageTypeMinio:
		return minio.NewMinioStorage(ctx, cfg.Minio, log)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// ArchiveKey is the object key of a photo: {prefix}/{yyyy}/{mm}/{file_id}.jpg.
func ArchiveKey(prefix, fileID string, at time.Time) string {
	if prefix == "" {
		prefix = "waybills"
	}
	name := strings.TrimSuffix(path.Base(fileID), ".jpg") + ".jpg"
	return path.Join(prefix, at.Format("2006"), at.Format("01"), name)
}

// Archive uploads the local photo at localPath and returns its object key.
func Archive(ctx context.Context, st Storage, prefix, fileID, localPath string, at time.Time) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open photo: %w", err)
	}
	defer f.Close()
	return st.Store(ctx, f, ArchiveKey(prefix, fileID, at))
}

// Noop discards everything; used when archiving is disabled.
type Noop struct{}

func (Noop) Store(_ context.Context, _ io.Reader, key string) (string, error) { return key, nil }

func (Noop) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, fmt.Errorf("photo archive disabled")
}

func (Noop) Delete(context.Context, string) error { return nil }

func (Noop) CleanupBefore(context.Context, string, time.Time) (int, error) { return 0, nil }
