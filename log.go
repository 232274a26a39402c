package shmtype

import "go.uber.org/zap/zapcore"

// MarshalLogObject implements zapcore.ObjectMarshaler
func (t TypeDetail) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("variant", t.Variant.String())
	enc.AddString("type_name", t.TypeName)
	enc.AddUint64("size", t.Size)
	enc.AddUint64("alignment", t.Alignment)
	return nil
}

// MarshalLogObject implements zapcore.ObjectMarshaler
func (d MessageTypeDetails) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if err := enc.AddObject("header", d.Header); err != nil {
		return err
	}
	if err := enc.AddObject("user_header", d.UserHeader); err != nil {
		return err
	}
	return enc.AddObject("payload", d.Payload)
}

// MarshalLogObject implements zapcore.ObjectMarshaler
func (m Mismatch) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("field", m.Field.String())
	enc.AddString("property", m.Property.String())
	if err := enc.AddReflected("expected", m.Expected); err != nil {
		return err
	}
	return enc.AddReflected("actual", m.Actual)
}
