package mpmc_test

import (
	"context"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosuda.org/shmtype/internal/mpmc"
)

// newRegion returns an 8-byte aligned scratch region
func newRegion(size uintptr) []byte {
	words := make([]uint64, (size+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(words))), len(words)*8)[:size]
}

func newRing[T any](t testing.TB, capacity uint64, initial ...T) *mpmc.Ring[T] {
	region := newRegion(mpmc.Size[T](capacity))
	ok, err := mpmc.Init[T](region, capacity, initial...)
	require.NoError(t, err)
	require.True(t, ok, "failed to initialize ring")

	r, err := mpmc.Attach[T](region, 0)
	require.NoError(t, err)
	return r
}

func TestMPMC(t *testing.T) {
	const size = 128
	r := newRing[uint64](t, size)
	assert.Equal(t, uint64(size), r.Capacity())

	for i := uint64(0); i < size; i++ {
		r.Enqueue(i)
	}
	assert.False(t, r.TryEnqueue(size), "ring should be full")

	for i := uint64(0); i < size; i++ {
		if n := r.Dequeue(); n != i {
			t.Fatalf("queue sequence violation: got %d, want %d", n, i)
		}
	}
	_, ok := r.TryDequeue()
	assert.False(t, ok, "ring should be empty")
}

func TestMPMCUint8(t *testing.T) {
	const size = 100
	r := newRing[uint8](t, size)
	assert.Equal(t, uint64(128), r.Capacity())

	for round := 0; round < 10; round++ {
		for i := uint8(0); i < size; i++ {
			require.True(t, r.TryEnqueue(i))
		}
		for i := uint8(0); i < size; i++ {
			n, ok := r.TryDequeue()
			require.True(t, ok)
			require.Equal(t, i, n)
		}
	}
}

type chunk struct {
	offset uint64 // relative offset of the chunk in a region
	size   uint64 // size of the chunk
}

func TestMPMCInitial(t *testing.T) {
	initial := []chunk{{0, 64}, {64, 64}, {128, 32}}
	r := newRing(t, 4, initial...)

	for _, want := range initial {
		got, ok := r.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := r.TryDequeue()
	assert.False(t, ok)

	for i := 0; i < 4; i++ {
		require.True(t, r.TryEnqueue(chunk{uint64(i), 1}))
	}
	assert.False(t, r.TryEnqueue(chunk{}))
}

func TestMPMCInitFull(t *testing.T) {
	r := newRing(t, 2, uint64(7), uint64(8))
	assert.False(t, r.TryEnqueue(9))
	assert.Equal(t, uint64(7), r.Dequeue())
	assert.True(t, r.TryEnqueue(9))
}

func TestMPMCInitOnce(t *testing.T) {
	region := newRegion(mpmc.Size[uint64](8))

	ok, err := mpmc.Init[uint64](region, 8, 1, 2, 3)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = mpmc.Init[uint64](region, 8)
	require.NoError(t, err)
	assert.False(t, ok, "second init must attach to the existing ring")

	r, err := mpmc.Attach[uint64](region, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.Dequeue())
}

func TestMPMCErrors(t *testing.T) {
	_, err := mpmc.Init[uint64](newRegion(64), 8)
	assert.ErrorIs(t, err, mpmc.ErrRegionSmall)

	region := newRegion(mpmc.Size[uint64](8) + 8)
	_, err = mpmc.Init[uint64](region[1:], 8)
	assert.ErrorIs(t, err, mpmc.ErrRegionAlign)

	_, err = mpmc.Init[uint64](newRegion(mpmc.Size[uint64](2)), 2, 1, 2, 3)
	assert.ErrorIs(t, err, mpmc.ErrCapacity)

	_, err = mpmc.Attach[uint64](newRegion(mpmc.Size[uint64](2)), 10*time.Millisecond)
	assert.ErrorIs(t, err, mpmc.ErrTimeout)
}

func TestMPMCContext(t *testing.T) {
	r := newRing[uint64](t, 2)
	ctx, cancel := context.WithCancel(context.Background())

	assert.True(t, r.EnqueueWithContext(ctx, 1))
	assert.True(t, r.EnqueueWithContext(ctx, 2))
	cancel()
	assert.False(t, r.EnqueueWithContext(ctx, 3), "full ring with cancelled context")

	for _, want := range []uint64{1, 2} {
		v, ok := r.DequeueWithContext(ctx)
		assert.True(t, ok)
		assert.Equal(t, want, v)
	}
	_, ok := r.DequeueWithContext(ctx)
	assert.False(t, ok, "empty ring with cancelled context")
}

func TestMPMCSmallCapacity(t *testing.T) {
	for _, capacity := range []uint64{0, 1} {
		r := newRing[uint64](t, capacity)
		require.Equal(t, uint64(2), r.Capacity())

		for round := uint64(0); round < 4; round++ {
			require.True(t, r.TryEnqueue(round))
			require.True(t, r.TryEnqueue(round+100))
			assert.False(t, r.TryEnqueue(round+200), "full ring must reject an element")

			for _, want := range []uint64{round, round + 100} {
				v, ok := r.TryDequeue()
				require.True(t, ok)
				assert.Equal(t, want, v)
			}
			_, ok := r.TryDequeue()
			assert.False(t, ok, "drained ring must report empty")
		}
	}

	// a single prefilled element leaves room for exactly one more
	r := newRing(t, 1, uint64(5))
	assert.True(t, r.TryEnqueue(6))
	assert.False(t, r.TryEnqueue(7))
}

func TestMPMCCorruptHeader(t *testing.T) {
	region := newRegion(mpmc.Size[uint64](4))
	ok, err := mpmc.Init[uint64](region, 4)
	require.NoError(t, err)
	require.True(t, ok)

	// ring size word follows the magic
	*(*uint64)(unsafe.Pointer(&region[8])) = 1
	_, err = mpmc.Attach[uint64](region, 0)
	assert.ErrorIs(t, err, mpmc.ErrCorrupt)
}

func TestMPMCParallel(t *testing.T) {
	const size = 1 << 10
	region := newRegion(mpmc.Size[uint64](size))
	ok, err := mpmc.Init[uint64](region, size)
	require.NoError(t, err)
	require.True(t, ok)

	var mue, mud sync.Mutex
	var enqueued, dequeued [(size + 63) / 64]uint64
	var wg sync.WaitGroup
	wg.Add(size * 2)

	for i := uint64(0); i < size; i++ {
		// Spawn Enqueue goroutine.
		go func(i uint64) {
			defer wg.Done()
			r, err := mpmc.Attach[uint64](region, 0)
			if err != nil {
				t.Error(err)
				return
			}
			r.Enqueue(i)

			mue.Lock()
			enqueued[i/64] |= 1 << (i % 64)
			mue.Unlock()
		}(i)

		// Spawn Dequeue goroutine.
		go func() {
			defer wg.Done()
			r, err := mpmc.Attach[uint64](region, 0)
			if err != nil {
				t.Error(err)
				return
			}
			v := r.Dequeue()

			mud.Lock()
			dequeued[v/64] |= 1 << (v % 64)
			mud.Unlock()
		}()
	}

	wg.Wait()

	for i := uint64(0); i < size; i++ {
		if enqueued[i/64]&(1<<(i%64)) == 0 {
			t.Errorf("Enqueue Failed at index: %d", i)
		}
		if dequeued[i/64]&(1<<(i%64)) == 0 {
			t.Errorf("Dequeue Failed at index: %d", i)
		}
	}
}

func BenchmarkMPMC(b *testing.B) {
	const size = 128
	region := newRegion(mpmc.Size[uint64](size))
	if ok, err := mpmc.Init[uint64](region, size); !ok || err != nil {
		b.Fatal("failed to initialize ring")
	}
	b.RunParallel(func(p *testing.PB) {
		r, err := mpmc.Attach[uint64](region, 0)
		if err != nil {
			b.Error(err)
			return
		}
		for p.Next() {
			r.Enqueue(0)
			_ = r.Dequeue()
		}
	})
}
