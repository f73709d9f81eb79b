// Package storage keeps attachment bytes pulled from trackers.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/huangang/trackmirror/internal/config"
)

var ErrNotFound = errors.New("storage: object not found")

// Blob is a flat key/value byte store.
type Blob interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// NewKey returns a fresh key for a file called name. Keys never collide,
// so two attachments with the same name are stored separately.
func NewKey(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		name = "file"
	}
	return "files/" + uuid.NewString() + "_" + name
}

// New builds the store selected by cfg.Driver.
func New(ctx context.Context, cfg *config.StorageConfig) (Blob, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocal(cfg.Root)
	case "s3":
		return NewS3(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}
