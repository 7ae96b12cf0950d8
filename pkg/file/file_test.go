package file

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileService_WriteAndReadRaw(t *testing.T) {
	fs := NewFileService()
	path := filepath.Join(t.TempDir(), "entry.cache")

	require.NoError(t, fs.WriteFileRaw(path, []byte("first")))
	require.NoError(t, fs.WriteFileRaw(path, []byte("second")))

	data, err := fs.ReadFileRaw(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileService_ReadRawMissing(t *testing.T) {
	_, err := NewFileService().ReadFileRaw(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFileService_ReadYamlFile(t *testing.T) {
	fs := NewFileService()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0600))

	var cfg struct {
		Log struct {
			Level string `yaml:"level"`
		} `yaml:"log"`
	}
	require.NoError(t, fs.ReadYamlFile(path, &cfg))
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestFileService_ReadYamlFileRejectsUnknownKeys(t *testing.T) {
	fs := NewFileService()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  levle: debug\n"), 0600))

	var cfg struct {
		Log struct {
			Level string `yaml:"level"`
		} `yaml:"log"`
	}
	err := fs.ReadYamlFile(path, &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "levle")
}

func TestFileService_EnsureDirAndRemove(t *testing.T) {
	fs := NewFileService()
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, fs.EnsureDir(dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	path := filepath.Join(dir, "f")
	require.NoError(t, fs.WriteFileRaw(path, []byte("x")))
	require.NoError(t, fs.RemoveFile(path))
	require.NoError(t, fs.RemoveFile(path))
}
