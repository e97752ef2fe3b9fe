package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"
)

type fileStorage struct {
	config FileConfig
}

type FileConfig struct {
	Directory string
}

// NewFileStorage creates a new file storage backend. Put returns absolute
// paths under Directory, which Get accepts as well as the original key.
func NewFileStorage(ctx context.Context, f FileConfig) (Storage, error) {
	if f.Directory == "" {
		f.Directory = "."
	}
	directory, err := filepath.Abs(f.Directory)
	if err != nil {
		return nil, xerrors.Errorf("failed to resolve storage directory: %w", err)
	}
	f.Directory = directory

	return &fileStorage{
		config: f,
	}, nil
}

// path maps a relative key under Directory. An absolute key is a location
// returned by Put and must lie within Directory.
func (a *fileStorage) path(key string) (string, error) {
	filePath := filepath.Clean(key)
	if !filepath.IsAbs(filePath) {
		filePath = filepath.Join(a.config.Directory, filePath)
	}
	rel, err := filepath.Rel(a.config.Directory, filePath)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", xerrors.Errorf("%s: %w", key, ErrOutsideDirectory)
	}
	return filePath, nil
}

func (a *fileStorage) Put(ctx context.Context, key string, data []byte) (string, error) {
	filePath, err := a.path(key)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return "", xerrors.Errorf("failed to create output directory: %w", err)
	}

	// Readers of the same key never observe a partially written file.
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return "", xerrors.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		os.Remove(tempPath)
		return "", xerrors.Errorf("failed to rename file: %w", err)
	}

	return filePath, nil
}

func (a *fileStorage) Get(ctx context.Context, key string) ([]byte, error) {
	filePath, err := a.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, xerrors.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, xerrors.Errorf("failed to read file: %w", err)
	}

	return data, nil
}
