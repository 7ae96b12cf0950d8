package persist

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/benmeehan/thinq-agent/pkg/encryption"
	"github.com/benmeehan/thinq-agent/pkg/file"
)

// FileCache stores one file per key under a directory.
type FileCache struct {
	computeGroup
	sealer
	dir        string
	fileClient file.FileOperations
	logger     zerolog.Logger
}

// NewFileCache creates the cache directory if needed. enc may be nil.
func NewFileCache(dir string, fileClient file.FileOperations, enc encryption.EncryptionManagerInterface, logger zerolog.Logger) (*FileCache, error) {
	if err := fileClient.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileCache{
		sealer:     sealer{enc: enc},
		dir:        dir,
		fileClient: fileClient,
		logger:     logger,
	}, nil
}

func (c *FileCache) path(key string) string {
	return filepath.Join(c.dir, url.PathEscape(key)+".cache")
}

// Get reads the value stored for key.
func (c *FileCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, err := c.fileClient.ReadFileRaw(c.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read cache entry %q: %w", key, err)
	}

	value, err := c.open(data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decrypt cache entry %q: %w", key, err)
	}
	return value, true, nil
}

// Set replaces the value stored for key.
func (c *FileCache) Set(_ context.Context, key string, value []byte) error {
	data, err := c.seal(value)
	if err != nil {
		return fmt.Errorf("failed to encrypt cache entry %q: %w", key, err)
	}
	if err := c.fileClient.WriteFileRaw(c.path(key), data); err != nil {
		return fmt.Errorf("failed to write cache entry %q: %w", key, err)
	}
	c.logger.Debug().Str("key", key).Msg("Cache entry stored")
	return nil
}

// Delete removes key; a missing key is not an error.
func (c *FileCache) Delete(_ context.Context, key string) error {
	return c.fileClient.RemoveFile(c.path(key))
}

// ComputeIfAbsentForever implements Cache.
func (c *FileCache) ComputeIfAbsentForever(ctx context.Context, key string, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	return c.computeIfAbsent(ctx, c, key, compute)
}
