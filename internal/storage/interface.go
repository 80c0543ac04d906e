package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

// FileInfo contains information about a stored object. ETag is the hex MD5
// of the object's content for both backends, which is what checksum
// verification compares downloads against.
type FileInfo struct {
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	ETag        string    `json:"etag"`
	ContentType string    `json:"contentType,omitempty"`
	ModifiedAt  time.Time `json:"modifiedAt"`
}

// Storage defines the interface for asset image storage operations.
// Implementations are local filesystem and MinIO/S3.
type Storage interface {
	// Save streams content to the given key and returns the stored
	// object's info, including its ETag.
	Save(ctx context.Context, key string, content io.Reader, size int64, contentType string) (*FileInfo, error)

	// Open returns a reader over the object's content. The caller closes it.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Stat retrieves object information without content.
	Stat(ctx context.Context, key string) (*FileInfo, error)

	// Exists checks if an object exists at the given key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the object at the given key.
	Delete(ctx context.Context, key string) error

	// List returns all keys under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// StorageType represents the type of storage backend.
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeMinio StorageType = "minio"
)

// Options selects and configures a storage backend.
type Options struct {
	Type      StorageType
	BasePath  string // local
	Endpoint  string // minio
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// New creates the storage backend named by opts.Type.
func New(ctx context.Context, opts Options) (Storage, error) {
	switch opts.Type {
	case StorageTypeLocal, "":
		return NewLocalStorage(opts.BasePath)
	case StorageTypeMinio:
		return NewMinioStorage(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", opts.Type)
	}
}
