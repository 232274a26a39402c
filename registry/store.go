package registry

import (
	"context"
	"fmt"
	"sync"
)

// Store persists encoded descriptor records under service names.
// A record is written once by the creator and never modified afterwards.
type Store interface {
	// CreateIfAbsent stores record under name unless a record already exists.
	// It returns the committed record and whether this call created it.
	CreateIfAbsent(ctx context.Context, name string, record []byte) (committed []byte, created bool, err error)
	// Load returns the committed record or ErrServiceNotFound
	Load(ctx context.Context, name string) ([]byte, error)
	// Remove deletes the record or returns ErrServiceNotFound
	Remove(ctx context.Context, name string) error
}

// MemoryStore keeps records in process memory
type MemoryStore struct {
	records sync.Map // name -> []byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-process store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) CreateIfAbsent(ctx context.Context, name string, record []byte) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	v, loaded := s.records.LoadOrStore(name, append([]byte(nil), record...))
	return v.([]byte), !loaded, nil
}

func (s *MemoryStore) Load(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := s.records.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	return v.([]byte), nil
}

func (s *MemoryStore) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := s.records.LoadAndDelete(name); !ok {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	return nil
}
