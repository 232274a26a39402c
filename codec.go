package shmtype

import (
	"fmt"

	"gosuda.org/shmtype/internal/protocol"
)

// MarshalBinary encodes d into its persisted, architecture-independent record
func (d MessageTypeDetails) MarshalBinary() ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	r := protocol.Record{
		Header:     toEntry(d.Header),
		UserHeader: toEntry(d.UserHeader),
		Payload:    toEntry(d.Payload),
	}
	b, err := r.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}
	return b, nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary
func (d *MessageTypeDetails) UnmarshalBinary(data []byte) error {
	r, err := protocol.Decode(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}
	v := MessageTypeDetails{
		Header:     fromEntry(r.Header),
		UserHeader: fromEntry(r.UserHeader),
		Payload:    fromEntry(r.Payload),
	}
	if err := v.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}
	*d = v
	return nil
}

// ParseMessageTypeDetails decodes a persisted record
func ParseMessageTypeDetails(data []byte) (MessageTypeDetails, error) {
	var d MessageTypeDetails
	err := d.UnmarshalBinary(data)
	return d, err
}

func toEntry(t TypeDetail) protocol.Entry {
	tag := protocol.TagFixedSize
	if t.Variant == Dynamic {
		tag = protocol.TagDynamic
	}
	return protocol.Entry{
		Tag:       tag,
		Name:      t.TypeName,
		Size:      t.Size,
		Alignment: t.Alignment,
	}
}

func fromEntry(e protocol.Entry) TypeDetail {
	variant := FixedSize
	if e.Tag == protocol.TagDynamic {
		variant = Dynamic
	}
	return TypeDetail{
		Variant:   variant,
		TypeName:  e.Name,
		Size:      e.Size,
		Alignment: e.Alignment,
	}
}
