package shmtype

import "fmt"

// Field names one region of a message
//
//go:generate go tool stringer -type=Field -linecomment
type Field uint8

const (
	FieldHeader     Field = iota // header
	FieldUserHeader              // user_header
	FieldPayload                 // payload
)

// Property names one attribute of a TypeDetail
//
//go:generate go tool stringer -type=Property -linecomment
type Property uint8

const (
	PropertyVariant   Property = iota // variant
	PropertyTypeName                  // type_name
	PropertySize                      // size
	PropertyAlignment                 // alignment
)

// Mismatch is one violated compatibility rule.
// Expected holds the committed value, Actual the local one.
type Mismatch struct {
	Field    Field
	Property Property
	Expected any
	Actual   any
}

func (m Mismatch) String() string {
	if m.Property == PropertyAlignment && m.Field != FieldHeader {
		return fmt.Sprintf("%s %s: local %v exceeds committed %v", m.Field, m.Property, m.Actual, m.Expected)
	}
	return fmt.Sprintf("%s %s: expected %v, got %v", m.Field, m.Property, m.Expected, m.Actual)
}

// Compare lists every rule violated when d is used to interpret memory laid out by committed.
//
// The header must match in all properties. The user header and the payload must match in
// variant, name and size, and their local alignment must not exceed the committed one:
// memory aligned for a stricter requirement also satisfies a looser one, not vice versa.
func (d MessageTypeDetails) Compare(committed MessageTypeDetails) []Mismatch {
	var out []Mismatch
	out = compareDetail(out, FieldHeader, d.Header, committed.Header, true)
	out = compareDetail(out, FieldUserHeader, d.UserHeader, committed.UserHeader, false)
	out = compareDetail(out, FieldPayload, d.Payload, committed.Payload, false)
	return out
}

func compareDetail(out []Mismatch, f Field, local, committed TypeDetail, exact bool) []Mismatch {
	if local.Variant != committed.Variant {
		out = append(out, Mismatch{f, PropertyVariant, committed.Variant, local.Variant})
	}
	if local.TypeName != committed.TypeName {
		out = append(out, Mismatch{f, PropertyTypeName, committed.TypeName, local.TypeName})
	}
	if local.Size != committed.Size {
		out = append(out, Mismatch{f, PropertySize, committed.Size, local.Size})
	}
	if (exact && local.Alignment != committed.Alignment) || local.Alignment > committed.Alignment {
		out = append(out, Mismatch{f, PropertyAlignment, committed.Alignment, local.Alignment})
	}
	return out
}

// IsCompatibleTo reports whether d may safely interpret memory laid out according to committed.
// The relation is directional: a.IsCompatibleTo(b) does not imply b.IsCompatibleTo(a).
func (d MessageTypeDetails) IsCompatibleTo(committed MessageTypeDetails) bool {
	return len(d.Compare(committed)) == 0
}

// CheckCompatibleTo is IsCompatibleTo with a diagnostic.
// It returns nil or an *IncompatibleError matching ErrIncompatible.
func (d MessageTypeDetails) CheckCompatibleTo(committed MessageTypeDetails) error {
	if mismatches := d.Compare(committed); len(mismatches) > 0 {
		return &IncompatibleError{Mismatches: mismatches}
	}
	return nil
}
