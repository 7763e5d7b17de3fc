package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Extra holds free-form student metadata. Values are any JSON-representable data.
type Extra map[string]interface{}

// Value implements driver.Valuer, storing the map as a JSON object.
func (e Extra) Value() (driver.Value, error) {
	if len(e) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(map[string]interface{}(e))
	if err != nil {
		return nil, fmt.Errorf("encode extra: %w", err)
	}
	return string(raw), nil
}

// Scan implements sql.Scanner.
func (e *Extra) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*e = Extra{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan extra: unsupported type %T", src)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		*e = Extra{}
		return nil
	}
	decoded := Extra{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode extra: %w", err)
	}
	*e = decoded
	return nil
}

// Validate checks that keys are non-empty and every value round-trips through JSON.
func (e Extra) Validate() error {
	for k, v := range e {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("extra keys must not be empty")
		}
		if _, err := json.Marshal(v); err != nil {
			return fmt.Errorf("extra value for %q is not valid structured data", k)
		}
	}
	return nil
}

// Clone returns a deep copy so cached or returned profiles cannot alias stored state.
func (e Extra) Clone() Extra {
	if e == nil {
		return Extra{}
	}
	raw, err := json.Marshal(map[string]interface{}(e))
	if err != nil {
		out := make(Extra, len(e))
		for k, v := range e {
			out[k] = v
		}
		return out
	}
	out := Extra{}
	_ = json.Unmarshal(raw, &out)
	return out
}

// ParseExtra decodes a JSON object typed by a user.
func ParseExtra(raw string) (Extra, error) {
	out := Extra{}
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("extra must be a JSON object: %w", err)
	}
	return out, nil
}
