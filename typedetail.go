package shmtype

import (
	"fmt"
	"math/bits"
	"reflect"
	"strings"
	"unsafe"
)

// TypeVariant classifies the contents of a message region
// Only the payload region may be Dynamic; header and user header are always FixedSize.
//
//go:generate go tool stringer -type=TypeVariant
type TypeVariant uint8

const (
	FixedSize TypeVariant = iota // Region holds exactly one value of constant size
	Dynamic                      // Region holds a runtime-length sequence of fixed-size elements
)

// MarshalText encodes the variant as used in configuration files
func (v TypeVariant) MarshalText() ([]byte, error) {
	switch v {
	case FixedSize:
		return []byte("fixed_size"), nil
	case Dynamic:
		return []byte("dynamic"), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidVariant, uint8(v))
	}
}

// UnmarshalText accepts "fixed_size"/"dynamic" as well as the constant names, case-insensitively
func (v *TypeVariant) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "fixed_size", "fixedsize", "fixed":
		*v = FixedSize
	case "dynamic", "slice":
		*v = Dynamic
	default:
		return fmt.Errorf("%w: %q", ErrInvalidVariant, text)
	}
	return nil
}

// TypeDetail describes the shape of one message region without referring to any Go type.
// TypeName takes part in compatibility checks only; Size and Alignment drive the layout.
type TypeDetail struct {
	Variant   TypeVariant // FixedSize or Dynamic
	TypeName  string      // Diagnostic/identity name of the type
	Size      uint64      // Size in bytes of one value (one element for Dynamic)
	Alignment uint64      // Required alignment in bytes, a power of two
}

// NewTypeDetail constructs a TypeDetail from explicitly supplied type information
func NewTypeDetail(variant TypeVariant, typeName string, size, alignment uint64) (TypeDetail, error) {
	t := TypeDetail{
		Variant:   variant,
		TypeName:  typeName,
		Size:      size,
		Alignment: alignment,
	}
	if err := t.Validate(); err != nil {
		return TypeDetail{}, err
	}
	return t, nil
}

// TypeDetailOf derives a TypeDetail from the Go type T.
// Size and alignment are the ones the Go compiler assigns on the host architecture.
func TypeDetailOf[T any](variant TypeVariant) TypeDetail {
	var zero T
	return TypeDetail{
		Variant:   variant,
		TypeName:  typeNameOf(reflect.TypeFor[T]()),
		Size:      uint64(unsafe.Sizeof(zero)),
		Alignment: uint64(unsafe.Alignof(zero)),
	}
}

func typeNameOf(t reflect.Type) string {
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

// WithAlignment returns a copy of t with a stricter alignment, e.g. for SIMD payloads.
// The new alignment must be a power of two and not smaller than the current one.
func (t TypeDetail) WithAlignment(alignment uint64) (TypeDetail, error) {
	if !isPowerOfTwo(alignment) {
		return TypeDetail{}, fmt.Errorf("%w: %d", ErrInvalidAlignment, alignment)
	}
	if alignment < t.Alignment {
		return TypeDetail{}, fmt.Errorf("%w: %d is below the natural alignment %d of %s",
			ErrInvalidAlignment, alignment, t.Alignment, t.TypeName)
	}
	t.Alignment = alignment
	return t, nil
}

// Validate checks the construction contract of a TypeDetail
func (t TypeDetail) Validate() error {
	if !isPowerOfTwo(t.Alignment) {
		return fmt.Errorf("%w: %s has alignment %d", ErrInvalidAlignment, t.TypeName, t.Alignment)
	}
	if t.Variant != FixedSize && t.Variant != Dynamic {
		return fmt.Errorf("%w: %s has variant %d", ErrInvalidVariant, t.TypeName, uint8(t.Variant))
	}
	return nil
}

func (t TypeDetail) String() string {
	return fmt.Sprintf("%s{%s size=%d align=%d}", t.Variant, t.TypeName, t.Size, t.Alignment)
}

func isPowerOfTwo(v uint64) bool {
	return v != 0 && bits.OnesCount64(v) == 1
}

// Header is the fixed internal control structure that prefixes every message
type Header struct {
	PublisherID      [2]uint64 // Unique id of the publishing port
	NumberOfElements uint64    // Number of payload elements stored in the slot
}

// NoUserHeader is the user header type of messages without a user header
type NoUserHeader struct{}

// HeaderTypeDetail returns the descriptor of the built-in Header
func HeaderTypeDetail() TypeDetail {
	return TypeDetailOf[Header](FixedSize)
}

// MessageTypeDetails composes the descriptors of the three regions of a message.
//
// The memory layout of one message slot is:
//
//	[Header][pad][UserHeader][pad][Payload x n][pad]
type MessageTypeDetails struct {
	Header     TypeDetail // Middleware internal header
	UserHeader TypeDetail // Optional caller-defined header
	Payload    TypeDetail // Caller data, single value or sequence
}

// NewMessageTypeDetails validates and composes three region descriptors
func NewMessageTypeDetails(header, userHeader, payload TypeDetail) (MessageTypeDetails, error) {
	d := MessageTypeDetails{
		Header:     header,
		UserHeader: userHeader,
		Payload:    payload,
	}
	if err := d.Validate(); err != nil {
		return MessageTypeDetails{}, err
	}
	return d, nil
}

// MessageTypeDetailsOf derives a MessageTypeDetails from Go types.
// H and U are always FixedSize; P uses payloadVariant.
func MessageTypeDetailsOf[H, U, P any](payloadVariant TypeVariant) MessageTypeDetails {
	return MessageTypeDetails{
		Header:     TypeDetailOf[H](FixedSize),
		UserHeader: TypeDetailOf[U](FixedSize),
		Payload:    TypeDetailOf[P](payloadVariant),
	}
}

// Validate checks every region and the variant restriction on header and user header
func (d MessageTypeDetails) Validate() error {
	for _, r := range [...]struct {
		field  Field
		detail TypeDetail
	}{
		{FieldHeader, d.Header},
		{FieldUserHeader, d.UserHeader},
		{FieldPayload, d.Payload},
	} {
		if err := r.detail.Validate(); err != nil {
			return fmt.Errorf("%s: %w", r.field, err)
		}
	}
	if d.Header.Variant != FixedSize {
		return fmt.Errorf("%s: %w: must be %s", FieldHeader, ErrInvalidVariant, FixedSize)
	}
	if d.UserHeader.Variant != FixedSize {
		return fmt.Errorf("%s: %w: must be %s", FieldUserHeader, ErrInvalidVariant, FixedSize)
	}
	return nil
}

func (d MessageTypeDetails) detail(f Field) TypeDetail {
	switch f {
	case FieldHeader:
		return d.Header
	case FieldUserHeader:
		return d.UserHeader
	default:
		return d.Payload
	}
}
