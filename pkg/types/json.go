package types

import (
	"database/sql/driver"
	"fmt"
)

// RawJSON holds a JSON document persisted as jsonb. Values are sent as text
// so the simple query protocol does not encode them as bytea.
type RawJSON []byte

// Value implements driver.Valuer.
func (r RawJSON) Value() (driver.Value, error) {
	if len(r) == 0 {
		return nil, nil
	}
	return string(r), nil
}

// Scan implements sql.Scanner.
func (r *RawJSON) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*r = nil
	case string:
		*r = append((*r)[:0], v...)
	case []byte:
		*r = append((*r)[:0], v...)
	default:
		return fmt.Errorf("raw json: unsupported scan type %T", value)
	}
	return nil
}

// MarshalJSON emits the document as-is.
func (r RawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// UnmarshalJSON stores a copy of the document.
func (r *RawJSON) UnmarshalJSON(data []byte) error {
	*r = append((*r)[:0], data...)
	return nil
}
