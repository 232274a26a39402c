package shmtype

import (
	"errors"
	"fmt"
	"strings"
)

// Error definitions for descriptor construction, layout and compatibility
var (
	ErrInvalidAlignment = errors.New("shmtype: alignment must be a non-zero power of two")
	ErrInvalidVariant   = errors.New("shmtype: invalid type variant")
	ErrLayoutTooLarge   = errors.New("shmtype: layout too large")
	ErrIncompatible     = errors.New("shmtype: incompatible message type")
	ErrMalformedRecord  = errors.New("shmtype: malformed descriptor record")
)

// IncompatibleError reports every rule a local descriptor violates against a committed one
type IncompatibleError struct {
	Mismatches []Mismatch
}

func (e *IncompatibleError) Error() string {
	var b strings.Builder
	b.WriteString(ErrIncompatible.Error())
	if len(e.Mismatches) == 0 {
		return b.String()
	}
	b.WriteString(": ")
	b.WriteString(e.Mismatches[0].String())
	if n := len(e.Mismatches) - 1; n > 0 {
		fmt.Fprintf(&b, " (and %d more)", n)
	}
	return b.String()
}

// Is reports ErrIncompatible as a match so callers can use errors.Is
func (e *IncompatibleError) Is(target error) bool {
	return target == ErrIncompatible
}
