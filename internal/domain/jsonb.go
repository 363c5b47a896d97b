package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// JSONBMap is a JSON object stored as a Postgres jsonb column. It implements
// sql.Scanner/driver.Valuer so repositories can read and write it like any
// other column.
type JSONBMap map[string]any

// Scan implements sql.Scanner.
func (m *JSONBMap) Scan(value any) error {
	if value == nil {
		*m = JSONBMap{}
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}

	if len(raw) == 0 {
		*m = JSONBMap{}
		return nil
	}

	var out JSONBMap
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("jsonb: unmarshal: %w", err)
	}
	*m = out
	return nil
}

// Value implements driver.Valuer.
func (m JSONBMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, fmt.Errorf("jsonb: marshal: %w", err)
	}
	return b, nil
}

// ErrorDetail is the structured shape persisted in a run/stream/data's
// error column: {location, message, metadata}.
type ErrorDetail struct {
	Location string         `json:"location"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Scan implements sql.Scanner. A nil/empty value decodes to a nil pointer
// receiver's zero value handled by the caller; here we support the
// *ErrorDetail column pattern via ErrorDetail itself when non-null.
func (e *ErrorDetail) Scan(value any) error {
	if value == nil {
		*e = ErrorDetail{}
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("error_detail: unsupported scan type %T", value)
	}

	if len(raw) == 0 {
		*e = ErrorDetail{}
		return nil
	}

	if err := json.Unmarshal(raw, e); err != nil {
		return fmt.Errorf("error_detail: unmarshal: %w", err)
	}
	return nil
}

// Value implements driver.Valuer.
func (e ErrorDetail) Value() (driver.Value, error) {
	if e.Location == "" && e.Message == "" && e.Metadata == nil {
		return nil, nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("error_detail: marshal: %w", err)
	}
	return b, nil
}

// ErrNotFound is returned by repositories when a lookup finds no row.
var ErrNotFound = errors.New("not found")
