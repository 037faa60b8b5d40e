// Package null holds values that may be absent from a database column.
package null

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// textLayouts are the forms a driver without native time support
// stores timestamps in.
var textLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
}

// Time is a time.Time that is null when Valid is false.
type Time struct {
	Time  time.Time
	Valid bool
}

// TimeFrom returns a Time that is null for the zero time.
func TimeFrom(t time.Time) Time {
	return Time{Time: t, Valid: !t.IsZero()}
}

// Scan implements the sql.Scanner interface.
func (t *Time) Scan(value interface{}) error {
	switch x := value.(type) {
	case nil:
		*t = Time{}
	case time.Time:
		*t = Time{Time: x, Valid: true}
	case []byte:
		return t.Scan(string(x))
	case string:
		for _, layout := range textLayouts {
			if v, err := time.Parse(layout, x); err == nil {
				*t = Time{Time: v, Valid: true}
				return nil
			}
		}
		*t = Time{}
		return fmt.Errorf("null: cannot parse %q as a time", x)
	default:
		*t = Time{}
		return fmt.Errorf("null: cannot scan type %T into Time", value)
	}
	return nil
}

// Value implements the driver.Valuer interface.
func (t Time) Value() (driver.Value, error) {
	if !t.Valid {
		return nil, nil
	}
	return t.Time, nil
}

// Ptr returns the time, or nil when t is null.
func (t Time) Ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

// MarshalJSON encodes a null time as JSON null.
func (t Time) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Time) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Time{}
		return nil
	}
	var v time.Time
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*t = Time{Time: v, Valid: true}
	return nil
}
