package shmtype

import (
	"fmt"
	"math"
	"math/bits"
)

// Layout is the size and alignment of a block of memory
type Layout struct {
	Size  uint64 // Size in bytes
	Align uint64 // Alignment in bytes, a power of two
}

// AlignUp rounds x up to the next multiple of the power of two a.
// It reports false when the result does not fit into a uint64.
func AlignUp(x, a uint64) (uint64, bool) {
	sum, carry := bits.Add64(x, a-1, 0)
	if carry != 0 {
		return 0, false
	}
	return sum &^ (a - 1), true
}

// alignAddr is AlignUp for addresses; an address that wraps is a caller bug
func alignAddr(x, a uintptr) uintptr {
	return (x + a - 1) &^ (a - 1)
}

// PadToAlign rounds the size up to a multiple of the alignment
func (l Layout) PadToAlign() (Layout, error) {
	size, ok := AlignUp(l.Size, l.Align)
	if !ok {
		return Layout{}, ErrLayoutTooLarge
	}
	return Layout{Size: size, Align: l.Align}, nil
}

// Extend appends next to l the way a compiler lays out a following struct field.
// It returns the combined layout and the offset of next within it; the result is not padded.
func (l Layout) Extend(next Layout) (Layout, uint64, error) {
	offset, ok := AlignUp(l.Size, next.Align)
	if !ok {
		return Layout{}, 0, ErrLayoutTooLarge
	}
	size, carry := bits.Add64(offset, next.Size, 0)
	if carry != 0 {
		return Layout{}, 0, ErrLayoutTooLarge
	}
	return Layout{Size: size, Align: max(l.Align, next.Align)}, offset, nil
}

// Message Slot Layout:
//
// <<<< h (aligned to Header.Alignment)
// HEADER
// <<<< UserHeaderOffset(h) (aligned to UserHeader.Alignment)
// USER_HEADER
// <<<< PayloadOffset(h) (aligned to Payload.Alignment)
// PAYLOAD[0..n]
// <<<< h + SampleLayout(n).Size

// UserHeaderOffset returns the start of the user header for a message whose header starts at h.
// h may be an absolute address or an offset into a region; it is never dereferenced.
func (d MessageTypeDetails) UserHeaderOffset(h uintptr) uintptr {
	return alignAddr(h+uintptr(d.Header.Size), uintptr(d.UserHeader.Alignment))
}

// PayloadOffset returns the start of the payload for a message whose header starts at h
func (d MessageTypeDetails) PayloadOffset(h uintptr) uintptr {
	return alignAddr(d.UserHeaderOffset(h)+uintptr(d.UserHeader.Size), uintptr(d.Payload.Alignment))
}

// SampleLayout returns the size and alignment of one message slot holding n payload elements.
//
// The size reserves the worst-case padding in front of the user header and the payload,
// so the regions found by UserHeaderOffset and PayloadOffset fit inside the slot for any
// header-aligned start. The alignment is the strictest of the three regions and the size is
// a multiple of it, so consecutive slots in a pool stay aligned for the header.
func (d MessageTypeDetails) SampleLayout(n uint64) (Layout, error) {
	payload, err := d.PayloadLayout(n)
	if err != nil {
		return Layout{}, err
	}

	size, ok := addAll(
		d.Header.Size,
		d.UserHeader.Size, d.UserHeader.Alignment-1,
		payload.Size, d.Payload.Alignment-1,
	)
	if !ok {
		return Layout{}, fmt.Errorf("%w: sample with %d elements", ErrLayoutTooLarge, n)
	}

	l, err := Layout{Size: size, Align: d.maxAlignment()}.PadToAlign()
	if err != nil {
		return Layout{}, fmt.Errorf("%w: sample with %d elements", ErrLayoutTooLarge, n)
	}
	return l, nil
}

// StructLayout returns the layout a compiler assigns to struct{ h H; u U; p [n]P }.
// It never exceeds SampleLayout(n) and is exact only when the slot start is aligned to
// the strictest region alignment.
func (d MessageTypeDetails) StructLayout(n uint64) (Layout, error) {
	payload, err := d.PayloadLayout(n)
	if err != nil {
		return Layout{}, err
	}

	l := Layout{Size: d.Header.Size, Align: d.Header.Alignment}
	if l, _, err = l.Extend(Layout{Size: d.UserHeader.Size, Align: d.UserHeader.Alignment}); err != nil {
		return Layout{}, fmt.Errorf("%w: struct with %d elements", ErrLayoutTooLarge, n)
	}
	if l, _, err = l.Extend(payload); err != nil {
		return Layout{}, fmt.Errorf("%w: struct with %d elements", ErrLayoutTooLarge, n)
	}
	if l, err = l.PadToAlign(); err != nil {
		return Layout{}, fmt.Errorf("%w: struct with %d elements", ErrLayoutTooLarge, n)
	}
	return l, nil
}

// PayloadLayout returns the layout of n contiguous payload elements
func (d MessageTypeDetails) PayloadLayout(n uint64) (Layout, error) {
	hi, size := bits.Mul64(d.Payload.Size, n)
	if hi != 0 {
		return Layout{}, fmt.Errorf("%w: %d elements of %d bytes", ErrLayoutTooLarge, n, d.Payload.Size)
	}
	return Layout{Size: size, Align: d.Payload.Alignment}, nil
}

// MaxElements returns the largest element count whose sample layout can be computed
func (d MessageTypeDetails) MaxElements() uint64 {
	if d.Payload.Size == 0 {
		return math.MaxUint64
	}
	fixed, ok := addAll(
		d.Header.Size,
		d.UserHeader.Size, d.UserHeader.Alignment-1,
		d.Payload.Alignment-1,
		d.maxAlignment()-1,
	)
	if !ok {
		return 0
	}
	return (math.MaxUint64 - fixed) / d.Payload.Size
}

func (d MessageTypeDetails) maxAlignment() uint64 {
	return max(d.Header.Alignment, d.UserHeader.Alignment, d.Payload.Alignment)
}

func addAll(vs ...uint64) (uint64, bool) {
	var sum, carry uint64
	for _, v := range vs {
		sum, carry = bits.Add64(sum, v, 0)
		if carry != 0 {
			return 0, false
		}
	}
	return sum, true
}
