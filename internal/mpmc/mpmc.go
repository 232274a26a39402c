package mpmc

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"
)

var (
	ErrRegionSmall = errors.New("mpmc: region too small")
	ErrRegionAlign = errors.New("mpmc: region not 8-byte aligned")
	ErrTimeout     = errors.New("mpmc: ring not initialized before timeout")
	ErrCapacity    = errors.New("mpmc: more initial elements than capacity")
	ErrCorrupt     = errors.New("mpmc: invalid ring size in header")
)

// Ring implements a lock-free Multi-Producer Multi-Consumer ring buffer whose whole state
// lives in a caller-provided region, so several processes mapping the same region share it.
//
// The implementation uses per-element sequence numbers (Vyukov's bounded MPMC queue).
// T is copied into the region verbatim and must not contain pointers.
type Ring[T any] struct {
	mask uint64         // size - 1, size is a power of 2
	size uint64         // Number of elements
	head *ring          // Ring header at the start of the region
	data unsafe.Pointer // First element, headerSize bytes into the region
}

// Magic number to identify initialized rings
const magic uint64 = 0xc9d8c1d43f096701

// flag represents initialization flags for the ring
type flag uint64

const (
	flagReserved = flag(1) << iota // Reserved flag for future use
	flagInit                       // Ring is initialized
)

// cacheLine is the assumed cache line size in uint64 words
const cacheLine = 8

// headerSize is reserved in front of the elements
const headerSize = 256

// ring is the header stored at the beginning of the region
type ring struct {
	magic uint64 // Magic number for initialization detection
	size  uint64 // Number of elements (power of 2)
	flag  uint64 // Initialization flags
	_p0   [cacheLine - 3]uint64
	/* ======== Cache line boundary ======== */
	r   uint64 // Read position (consumer index)
	_p1 [cacheLine - 1]uint64
	/* ======== Cache line boundary ======== */
	w   uint64 // Write position (producer index)
	_p2 [cacheLine - 1]uint64
}

var _ [headerSize - unsafe.Sizeof(ring{})]byte

// elem represents a single slot of the ring
type elem[T any] struct {
	data T      // The stored value
	seq  uint64 // Sequence number for synchronization
}

// minSize is the smallest ring; with a single element a full slot and a free slot
// carry the same sequence number
const minSize = 2

// roundUpPowerOf2 rounds v up to the next power of 2
//
// Algorithm from: https://graphics.stanford.edu/~seander/bithacks.html#RoundUpPowerOf2
func roundUpPowerOf2(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	v++
	return v
}

// ringSize returns the number of elements of a ring holding at least capacity elements
func ringSize(capacity uint64) uint64 {
	return roundUpPowerOf2(max(capacity, minSize))
}

// Size returns the region size in bytes required for a ring of at least capacity elements
func Size[T any](capacity uint64) uintptr {
	return headerSize + unsafe.Sizeof(elem[T]{})*uintptr(ringSize(capacity))
}

func checkRegion[T any](region []byte, size uint64) error {
	if uintptr(len(region)) < headerSize+unsafe.Sizeof(elem[T]{})*uintptr(size) {
		return ErrRegionSmall
	}
	if uintptr(unsafe.Pointer(unsafe.SliceData(region)))%8 != 0 {
		return ErrRegionAlign
	}
	return nil
}

// Init initializes a ring in region unless another caller already did.
// The ring starts holding initial, in order. It returns true if this call initialized the ring.
//
// The memory layout is:
//
//	[Header (256 bytes)][Elements]
func Init[T any](region []byte, capacity uint64, initial ...T) (bool, error) {
	size := ringSize(capacity)
	if uint64(len(initial)) > size {
		return false, ErrCapacity
	}
	if err := checkRegion[T](region, size); err != nil {
		return false, err
	}

	base := unsafe.Pointer(unsafe.SliceData(region))
	h := (*ring)(base)

	// Check if the ring is already initialized by checking the magic number
	m := atomic.LoadUint64(&h.magic)
	if m == magic || !atomic.CompareAndSwapUint64(&h.magic, m, magic) {
		return false, nil
	}

	atomic.StoreUint64(&h.size, size)

	data := unsafe.Add(base, headerSize)
	for i := uint64(0); i < size; i++ {
		e := elemAt[T](data, i)
		if i < uint64(len(initial)) {
			e.data = initial[i]
			e.seq = i + 1 // published
		} else {
			e.data = *new(T)
			e.seq = i // free
		}
	}

	atomic.StoreUint64(&h.r, 0)
	atomic.StoreUint64(&h.w, uint64(len(initial)))

	// Mark the ring as initialized; attachers wait for this flag
	atomic.StoreUint64(&h.flag, uint64(flagInit))
	return true, nil
}

// Attach returns a handle to a ring initialized in region, waiting up to timeout (0 = forever)
func Attach[T any](region []byte, timeout time.Duration) (*Ring[T], error) {
	if len(region) < headerSize {
		return nil, ErrRegionSmall
	}
	base := unsafe.Pointer(unsafe.SliceData(region))
	h := (*ring)(base)
	start := time.Now()

	for {
		if atomic.LoadUint64(&h.magic) == magic && atomic.LoadUint64(&h.flag)&uint64(flagInit) != 0 {
			size := atomic.LoadUint64(&h.size)
			if size < minSize || size&(size-1) != 0 {
				return nil, ErrCorrupt
			}
			if err := checkRegion[T](region, size); err != nil {
				return nil, err
			}
			return &Ring[T]{
				mask: size - 1,
				size: size,
				head: h,
				data: unsafe.Add(base, headerSize),
			}, nil
		}

		if timeout > 0 && time.Since(start) >= timeout {
			return nil, ErrTimeout
		}

		// Yield to other goroutines while waiting
		runtime.Gosched()
	}
}

func elemAt[T any](data unsafe.Pointer, i uint64) *elem[T] {
	return (*elem[T])(unsafe.Add(data, unsafe.Sizeof(elem[T]{})*uintptr(i)))
}

// Capacity returns the number of elements the ring holds
func (m *Ring[T]) Capacity() uint64 {
	return m.size
}

// TryEnqueue adds v to the ring; it returns false when the ring is full
func (m *Ring[T]) TryEnqueue(v T) bool {
	p := atomic.LoadUint64(&m.head.w)
	for {
		c := elemAt[T](m.data, p&m.mask)
		seq := atomic.LoadUint64(&c.seq)

		switch diff := int64(seq - p); {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&m.head.w, p, p+1) {
				c.data = v
				// publish after the data write
				atomic.StoreUint64(&c.seq, p+1)
				return true
			}
			p = atomic.LoadUint64(&m.head.w)
		case diff < 0:
			return false
		default:
			// another producer claimed this slot
			p = atomic.LoadUint64(&m.head.w)
		}
	}
}

// TryDequeue removes the oldest element; it returns false when the ring is empty
func (m *Ring[T]) TryDequeue() (v T, ok bool) {
	p := atomic.LoadUint64(&m.head.r)
	for {
		c := elemAt[T](m.data, p&m.mask)
		seq := atomic.LoadUint64(&c.seq)

		switch diff := int64(seq - (p + 1)); {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&m.head.r, p, p+1) {
				v = c.data
				// hand the slot back to producers one lap later
				atomic.StoreUint64(&c.seq, p+m.mask+1)
				return v, true
			}
			p = atomic.LoadUint64(&m.head.r)
		case diff < 0:
			return v, false
		default:
			p = atomic.LoadUint64(&m.head.r)
		}
	}
}

// Enqueue adds v, blocking while the ring is full
func (m *Ring[T]) Enqueue(v T) {
	for !m.TryEnqueue(v) {
		runtime.Gosched()
	}
}

// Dequeue removes the oldest element, blocking while the ring is empty
func (m *Ring[T]) Dequeue() T {
	for {
		if v, ok := m.TryDequeue(); ok {
			return v
		}
		runtime.Gosched()
	}
}

// EnqueueWithContext is Enqueue that gives up when ctx is done
func (m *Ring[T]) EnqueueWithContext(ctx context.Context, v T) bool {
	done := ctx.Done()
	for !m.TryEnqueue(v) {
		select {
		case <-done:
			return false
		default:
			runtime.Gosched()
		}
	}
	return true
}

// DequeueWithContext is Dequeue that gives up when ctx is done
func (m *Ring[T]) DequeueWithContext(ctx context.Context) (v T, ok bool) {
	done := ctx.Done()
	for {
		if v, ok = m.TryDequeue(); ok {
			return v, true
		}
		select {
		case <-done:
			return v, false
		default:
			runtime.Gosched()
		}
	}
}
