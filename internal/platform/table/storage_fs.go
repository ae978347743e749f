package table

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// FSStorage serves tables from an afero filesystem: the OS filesystem in
// production, an in-memory one in tests and the "memory" backend.
type FSStorage struct {
	fs afero.Fs
}

// NewFSStorage wraps fsys.
func NewFSStorage(fsys afero.Fs) *FSStorage {
	return &FSStorage{fs: fsys}
}

// Fs exposes the underlying filesystem so callers can seed it.
func (s *FSStorage) Fs() afero.Fs { return s.fs }

func (s *FSStorage) List(ctx context.Context, location string) ([]Object, error) {
	root := filepath.Clean(location)
	info, err := s.fs.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("stat %s: %w", root, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory: %w", root, fs.ErrNotExist)
	}

	var objects []Object
	err = afero.Walk(s.fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == root {
			return nil
		}
		if isHidden(info.Name()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		objects = append(objects, Object{Key: p, Path: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return objects, nil
}

func (s *FSStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	return s.fs.Open(key)
}

// isHidden matches marker files such as "_SUCCESS" and dot files, none of
// which hold rows. The Delta log directory is listed so the table can be
// read through it.
func isHidden(name string) bool {
	if name == deltaLogDir {
		return false
	}
	return strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")
}
