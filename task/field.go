package task

import (
	"bytes"
	"encoding/json"
)

// Field is a value that may be absent, explicitly null, or set.
// The zero Field is absent.
type Field[T any] struct {
	present bool
	null    bool
	value   T
}

// Set returns a present, non-null Field.
func Set[T any](v T) Field[T] { return Field[T]{present: true, value: v} }

// Null returns a present, null Field.
func Null[T any]() Field[T] { return Field[T]{present: true, null: true} }

// FromPtr maps nil to Null and anything else to Set.
func FromPtr[T any](v *T) Field[T] {
	if v == nil {
		return Null[T]()
	}
	return Set(*v)
}

// IsSet reports whether the field was supplied, null or not.
func (f Field[T]) IsSet() bool { return f.present }

// IsNull reports whether the field was supplied as null.
func (f Field[T]) IsNull() bool { return f.present && f.null }

// IsZero lets encoding/json omit absent fields with the omitzero option.
func (f Field[T]) IsZero() bool { return !f.present }

// Value returns the value and true when the field is present and non-null.
func (f Field[T]) Value() (T, bool) {
	if !f.present || f.null {
		var zero T
		return zero, false
	}
	return f.value, true
}

// UnmarshalJSON records presence. It is only invoked for keys that appear
// in the document, so absent keys stay absent.
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.present = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		f.null = true
		var zero T
		f.value = zero
		return nil
	}
	f.null = false
	return json.Unmarshal(data, &f.value)
}

// MarshalJSON writes null for absent and null fields.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.present || f.null {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}
