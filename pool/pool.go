package pool

import (
	"errors"
	"fmt"
	"hash/crc32"
	"math/bits"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"

	"go.uber.org/zap"

	"gosuda.org/shmtype"
	"gosuda.org/shmtype/internal/mpmc"
)

// Mode represents whether this handle set the pool up or attached to it
type Mode uint64

const (
	ModePrimary   Mode = iota // This handle initialized the free list
	ModeSecondary             // This handle attached to an existing pool
)

func (m Mode) String() string {
	switch m {
	case ModePrimary:
		return "primary"
	case ModeSecondary:
		return "secondary"
	}
	return fmt.Sprintf("Mode(%d)", uint64(m))
}

var (
	ErrMemoryAlign      = errors.New("pool: memory not aligned")
	ErrMemorySmall      = errors.New("pool: memory region too small")
	ErrInvalidSize      = errors.New("pool: invalid size")
	ErrFailedInit       = errors.New("pool: failed to initialize")
	ErrInvalidSlot      = errors.New("pool: invalid slot")
	ErrGeometryMismatch = errors.New("pool: geometry differs from the initialized pool")
)

// attachTimeout bounds how long a secondary waits for the primary to publish the pool
const attachTimeout = time.Second

// Magic number to identify initialized pools
const magic uint64 = 0x5f3a9c1e7b20d401

// Loan state of a slot
const (
	slotFree   uint64 = 0
	slotLoaned uint64 = 1
)

// headerSize is reserved in front of the free list
const headerSize = 64

// header is stored at the beginning of the region; the primary writes it once
type header struct {
	magic       uint64 // Magic number, claimed by the primary
	ready       uint64 // Set once the geometry and the free list are published
	stride      uint64 // Slot size in bytes
	align       uint64 // Slot alignment in bytes
	capacity    uint64 // Number of slots
	maxElements uint64 // Payload elements per slot
	descriptor  uint64 // CRC32 of the encoded descriptor
	_           uint64
}

var _ [headerSize - unsafe.Sizeof(header{})]byte

// Pool carves a shared region into fixed-stride message slots.
// Free slot indices live in a lock-free ring inside the same region, so every process
// mapping the region loans from the same set of slots.
type Pool struct {
	mode        Mode
	details     shmtype.MessageTypeDetails
	maxElements uint64
	capacity    uint64
	slot        shmtype.Layout // Layout of a single slot, Size is the stride
	payloadSize uint64         // Bytes reserved for maxElements payload elements
	states      []uint64       // Loan state per slot, shared
	slots       []byte         // All slots, starting at a slot-aligned address
	free        *mpmc.Ring[uint64]
}

// Slot is a loaned message slot. The views alias the shared region.
type Slot struct {
	Index      uint64
	Header     []byte
	UserHeader []byte
	Payload    []byte
}

// Pool Memory Layout:
//
// <<<< region start (aligned to max(8, SlotLayout().Align))
// HEADER (64 bytes, geometry written by the primary)
// FREE_LIST (MPMC ring of slot indices)
// <<<< aligned to 8
// SLOT_STATES (one uint64 per slot, free or loaned)
// <<<< aligned to SlotLayout().Align
// SLOT 0
// <<<< + SlotLayout().Size
// SLOT 1
// ...
// SLOT capacity-1

type geometry struct {
	slot         shmtype.Layout
	payloadSize  uint64
	ringOffset   uint64
	statesOffset uint64
	slotsOffset  uint64
	size         uint64
	descriptor   uint64
}

func layoutPool(details shmtype.MessageTypeDetails, maxElements, capacity uint64) (geometry, error) {
	if capacity == 0 {
		return geometry{}, fmt.Errorf("%w: capacity must be positive", ErrInvalidSize)
	}
	record, err := details.MarshalBinary()
	if err != nil {
		return geometry{}, fmt.Errorf("%w: %w", ErrInvalidSize, err)
	}

	slot, err := details.SampleLayout(maxElements)
	if err != nil {
		return geometry{}, err
	}
	payload, err := details.PayloadLayout(maxElements)
	if err != nil {
		return geometry{}, err
	}

	tooLarge := fmt.Errorf("%w: %d slots of %d bytes", shmtype.ErrLayoutTooLarge, capacity, slot.Size)
	ringOffset := uint64(headerSize)
	statesOffset, ok := shmtype.AlignUp(ringOffset+uint64(mpmc.Size[uint64](capacity)), 8)
	if !ok {
		return geometry{}, tooLarge
	}
	hi, statesSize := bits.Mul64(8, capacity)
	if hi != 0 || statesOffset+statesSize < statesOffset {
		return geometry{}, tooLarge
	}
	slotsOffset, ok := shmtype.AlignUp(statesOffset+statesSize, slot.Align)
	if !ok {
		return geometry{}, tooLarge
	}
	hi, slotsSize := bits.Mul64(slot.Size, capacity)
	if hi != 0 || slotsOffset+slotsSize < slotsOffset {
		return geometry{}, tooLarge
	}

	return geometry{
		slot:         slot,
		payloadSize:  payload.Size,
		ringOffset:   ringOffset,
		statesOffset: statesOffset,
		slotsOffset:  slotsOffset,
		size:         slotsOffset + slotsSize,
		descriptor:   uint64(crc32.ChecksumIEEE(record)),
	}, nil
}

// Size returns the number of bytes a pool region needs for capacity slots of up to
// maxElements payload elements each
func Size(details shmtype.MessageTypeDetails, maxElements, capacity uint64) (uint64, error) {
	g, err := layoutPool(details, maxElements, capacity)
	if err != nil {
		return 0, err
	}
	return g.size, nil
}

// Open creates or attaches to a pool in region.
// The first caller on a zeroed region becomes the primary: it records the geometry and
// fills the free list with every slot index. Later callers attach and must pass the same
// descriptor, maxElements and capacity, usually the committed descriptor from the registry.
func Open(region []byte, details shmtype.MessageTypeDetails, maxElements, capacity uint64) (*Pool, error) {
	g, err := layoutPool(details, maxElements, capacity)
	if err != nil {
		return nil, err
	}

	if len(region) == 0 {
		return nil, ErrMemorySmall
	}
	base := unsafe.Pointer(unsafe.SliceData(region))
	if uintptr(base)%uintptr(max(g.slot.Align, 8)) != 0 {
		return nil, fmt.Errorf("%w: base %#x, need %d", ErrMemoryAlign, uintptr(base), max(g.slot.Align, 8))
	}
	if uint64(len(region)) < g.size {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrMemorySmall, len(region), g.size)
	}

	p := &Pool{
		mode:        ModeSecondary,
		details:     details,
		maxElements: maxElements,
		capacity:    capacity,
		slot:        g.slot,
		payloadSize: g.payloadSize,
		states:      unsafe.Slice((*uint64)(unsafe.Add(base, g.statesOffset)), capacity),
		slots:       region[g.slotsOffset:g.size:g.size],
	}
	ringRegion := region[g.ringOffset:g.statesOffset]

	h := (*header)(base)
	if atomic.CompareAndSwapUint64(&h.magic, 0, magic) {
		p.mode = ModePrimary
		if err := p.initialize(h, g, ringRegion); err != nil {
			return nil, err
		}
	} else if err := waitReady(h); err != nil {
		return nil, err
	}
	if err := checkGeometry(h, g, capacity, maxElements); err != nil {
		return nil, err
	}

	p.free, err = mpmc.Attach[uint64](ringRegion, attachTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedInit, err)
	}

	Logger().Debug("pool opened",
		zap.Stringer("mode", p.mode),
		zap.Uint64("capacity", capacity),
		zap.Uint64("max_elements", maxElements),
		zap.Uint64("slot_size", g.slot.Size),
		zap.Uint64("slot_align", g.slot.Align),
		zap.Object("details", details),
	)
	return p, nil
}

func (p *Pool) initialize(h *header, g geometry, ringRegion []byte) error {
	atomic.StoreUint64(&h.stride, g.slot.Size)
	atomic.StoreUint64(&h.align, g.slot.Align)
	atomic.StoreUint64(&h.capacity, p.capacity)
	atomic.StoreUint64(&h.maxElements, p.maxElements)
	atomic.StoreUint64(&h.descriptor, g.descriptor)

	for i := range p.states {
		atomic.StoreUint64(&p.states[i], slotFree)
	}

	indices := make([]uint64, p.capacity)
	for i := range indices {
		indices[i] = uint64(i)
	}
	ok, err := mpmc.Init(ringRegion, p.capacity, indices...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedInit, err)
	}
	if !ok {
		return fmt.Errorf("%w: free list already initialized", ErrFailedInit)
	}

	// Publish; secondaries wait for this flag
	atomic.StoreUint64(&h.ready, 1)
	return nil
}

func waitReady(h *header) error {
	start := time.Now()
	for {
		if m := atomic.LoadUint64(&h.magic); m != magic {
			return fmt.Errorf("%w: region holds no pool (magic %#x)", ErrFailedInit, m)
		}
		if atomic.LoadUint64(&h.ready) != 0 {
			return nil
		}
		if time.Since(start) >= attachTimeout {
			return fmt.Errorf("%w: pool not published before timeout", ErrFailedInit)
		}
		runtime.Gosched()
	}
}

func checkGeometry(h *header, g geometry, capacity, maxElements uint64) error {
	for _, c := range [...]struct {
		name      string
		have, own uint64
	}{
		{"capacity", atomic.LoadUint64(&h.capacity), capacity},
		{"max_elements", atomic.LoadUint64(&h.maxElements), maxElements},
		{"slot_size", atomic.LoadUint64(&h.stride), g.slot.Size},
		{"slot_align", atomic.LoadUint64(&h.align), g.slot.Align},
		{"descriptor", atomic.LoadUint64(&h.descriptor), g.descriptor},
	} {
		if c.have != c.own {
			return fmt.Errorf("%w: %s is %d, opened with %d", ErrGeometryMismatch, c.name, c.have, c.own)
		}
	}
	return nil
}

// Loan takes a free slot; it returns false when every slot is on loan
func (p *Pool) Loan() (Slot, bool) {
	i, ok := p.free.TryDequeue()
	if !ok {
		return Slot{}, false
	}
	atomic.StoreUint64(&p.states[i], slotLoaned)
	return p.slotAt(i), true
}

// Release hands a loaned slot back to the pool.
// Releasing a slot that is not on loan fails with ErrInvalidSlot and leaves the pool unchanged.
func (p *Pool) Release(s Slot) error {
	if s.Index >= p.capacity {
		return fmt.Errorf("%w: index %d out of range", ErrInvalidSlot, s.Index)
	}
	if !atomic.CompareAndSwapUint64(&p.states[s.Index], slotLoaned, slotFree) {
		Logger().Warn("release of a slot that is not on loan", zap.Uint64("index", s.Index))
		return fmt.Errorf("%w: slot %d is not on loan", ErrInvalidSlot, s.Index)
	}
	if !p.free.TryEnqueue(s.Index) {
		// every index is either on loan or queued once, so the ring has room
		atomic.StoreUint64(&p.states[s.Index], slotLoaned)
		return fmt.Errorf("%w: free list full", ErrFailedInit)
	}
	return nil
}

// SlotAt returns the views of slot index without loaning it, for readers of a published slot
func (p *Pool) SlotAt(index uint64) (Slot, error) {
	if index >= p.capacity {
		return Slot{}, fmt.Errorf("%w: index %d out of range", ErrInvalidSlot, index)
	}
	return p.slotAt(index), nil
}

func (p *Pool) slotAt(index uint64) Slot {
	start := index * p.slot.Size
	raw := p.slots[start : start+p.slot.Size : start+p.slot.Size]

	h := uintptr(unsafe.Pointer(unsafe.SliceData(raw)))
	uh := p.details.UserHeaderOffset(h) - h
	pl := p.details.PayloadOffset(h) - h

	return Slot{
		Index:      index,
		Header:     raw[:p.details.Header.Size:p.details.Header.Size],
		UserHeader: raw[uh : uh+uintptr(p.details.UserHeader.Size) : uh+uintptr(p.details.UserHeader.Size)],
		Payload:    raw[pl : pl+uintptr(p.payloadSize) : pl+uintptr(p.payloadSize)],
	}
}

// Mode returns whether this handle initialized the pool
func (p *Pool) Mode() Mode {
	return p.mode
}

// Capacity returns the number of slots
func (p *Pool) Capacity() uint64 {
	return p.capacity
}

// MaxElements returns the number of payload elements each slot holds
func (p *Pool) MaxElements() uint64 {
	return p.maxElements
}

// SlotLayout returns the layout of one slot; its size is the stride between slots
func (p *Pool) SlotLayout() shmtype.Layout {
	return p.slot
}

// Details returns the descriptor the slots are laid out for
func (p *Pool) Details() shmtype.MessageTypeDetails {
	return p.details
}
