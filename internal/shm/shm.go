package shm

import (
	"errors"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

var (
	ErrEmptySegment = errors.New("shm: segment size must be positive")
	ErrClosed       = errors.New("shm: segment closed")
)

// SharedMemory represents a file-backed shared memory segment mapped into this process.
// Every process that maps the same file sees the same bytes, which is what the pool
// regions and the persisted descriptor records rely on.
type SharedMemory struct {
	name string    // Path of the backing file
	size int       // Size of the mapping in bytes
	file *os.File  // Backing file, kept open while mapped
	data mmap.MMap // Mapped bytes
}

// Create creates (or truncates) the backing file at name with the given size and maps it read-write
func Create(name string, size int) (*SharedMemory, error) {
	if size <= 0 {
		return nil, ErrEmptySegment
	}

	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, err
	}

	return mapFile(f, name, size, mmap.RDWR)
}

// Open maps an existing segment. Writable mappings are shared with every other mapper.
func Open(name string, writable bool) (*SharedMemory, error) {
	flag, prot := os.O_RDONLY, mmap.RDONLY
	if writable {
		flag, prot = os.O_RDWR, mmap.RDWR
	}

	f, err := os.OpenFile(name, flag, 0)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() <= 0 {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrEmptySegment, name)
	}

	return mapFile(f, name, int(st.Size()), prot)
}

func mapFile(f *os.File, name string, size int, prot int) (*SharedMemory, error) {
	m, err := mmap.MapRegion(f, size, prot, 0, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: map %s: %w", name, err)
	}
	return &SharedMemory{
		name: name,
		size: size,
		file: f,
		data: m,
	}, nil
}

// Name returns the path of the backing file
func (s *SharedMemory) Name() string {
	return s.name
}

// Size returns the size of the mapping in bytes
func (s *SharedMemory) Size() int {
	return s.size
}

// Bytes returns the mapped memory. The slice is invalid after Close.
// The mapping is page-aligned.
func (s *SharedMemory) Bytes() []byte {
	return s.data
}

// Flush writes modified pages back to the backing file
func (s *SharedMemory) Flush() error {
	if s.data == nil {
		return ErrClosed
	}
	return s.data.Flush()
}

// Close unmaps the segment and closes the backing file. The file itself is kept.
func (s *SharedMemory) Close() error {
	if s.data == nil {
		return ErrClosed
	}
	err := s.data.Unmap()
	s.data = nil
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.file = nil
	return err
}
