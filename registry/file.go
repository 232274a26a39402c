package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"gosuda.org/shmtype/internal/shm"
)

// recordExt is appended to the service name to form the record file name
const recordExt = ".shmt"

// FileStore keeps one record file per service in a directory.
// Records are written to a temporary file and hard-linked into place, so a record appears
// complete or not at all, and exactly one of several racing creators wins.
type FileStore struct {
	dir string
}

var _ Store = (*FileStore)(nil)

// NewFileStore uses dir for records, creating it if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory holding the record files
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+recordExt)
}

func (s *FileStore) CreateIfAbsent(ctx context.Context, name string, record []byte) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-"+name+"-*")
	if err != nil {
		return nil, false, err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(record); err != nil {
		tmp.Close()
		return nil, false, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, false, err
	}
	if err := tmp.Close(); err != nil {
		return nil, false, err
	}

	err = os.Link(tmp.Name(), s.path(name))
	switch {
	case err == nil:
		return record, true, nil
	case errors.Is(err, fs.ErrExist):
		committed, err := s.Load(ctx, name)
		return committed, false, err
	default:
		return nil, false, err
	}
}

func (s *FileStore) Load(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seg, err := shm.Open(s.path(name), false)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
		}
		return nil, err
	}
	defer func() {
		if err := seg.Close(); err != nil {
			Logger().Warn("failed to unmap record", zap.String("path", seg.Name()), zap.Error(err))
		}
	}()

	return append([]byte(nil), seg.Bytes()...), nil
}

func (s *FileStore) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrServiceNotFound, name)
		}
		return err
	}
	return nil
}
