package registry

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind is the storage and comparison type of a field
type Kind int

const (
	String Kind = iota
	Int
	Bool
	Timestamp
	// UniqueID values are lower-cased before storage and comparison (MAC addresses, hardware ids)
	UniqueID
	// Reference is a singular foreign key to another resource type
	Reference
)

// String returns the kind name used in error messages
func (k Kind) String() string {
	switch k {
	case Int:
		return "int"
	case Bool:
		return "bool"
	case Timestamp:
		return "timestamp"
	case UniqueID:
		return "unique_id"
	case Reference:
		return "reference"
	default:
		return "string"
	}
}

// Field declares one reachable attribute of a resource type
type Field struct {
	Name   string
	Column string
	Kind   Kind
	// Target is the referenced resource type for Reference fields
	Target string
	// NoAudit fields are written without producing audit records
	NoAudit bool
	// ReadOnly fields are maintained by the store (id, created, updated, updated_by)
	ReadOnly bool
}

// TimestampLayouts are accepted when parsing timestamp values from requests
var TimestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses a timestamp in any of the accepted layouts, returning UTC
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range TimestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
}

// Parse converts a raw request string into the field's typed value
func (f *Field) Parse(raw string) (any, error) {
	switch f.Kind {
	case Int, Reference:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s expects an integer, got %q", f.Name, raw)
		}
		return n, nil
	case Bool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("field %s expects a boolean, got %q", f.Name, raw)
		}
		return b, nil
	case Timestamp:
		t, err := ParseTimestamp(raw)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		return t, nil
	case UniqueID:
		return strings.ToLower(strings.TrimSpace(raw)), nil
	default:
		return raw, nil
	}
}

// Normalize converts a decoded JSON value into the field's typed value.
// Reference fields are not handled here since they need a store lookup.
func (f *Field) Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch val := v.(type) {
	case string:
		if f.Kind == String {
			return val, nil
		}
		return f.Parse(val)
	case json.Number:
		return f.Parse(val.String())
	case float64:
		switch f.Kind {
		case Int:
			if val != math.Trunc(val) {
				return nil, fmt.Errorf("field %s expects an integer, got %v", f.Name, val)
			}
			return int64(val), nil
		case String, UniqueID:
			return f.Parse(strconv.FormatFloat(val, 'f', -1, 64))
		}
	case int:
		return f.Normalize(float64(val))
	case int64:
		if f.Kind == Int {
			return val, nil
		}
		return f.Parse(strconv.FormatInt(val, 10))
	case bool:
		switch f.Kind {
		case Bool:
			return val, nil
		case String:
			return strconv.FormatBool(val), nil
		}
	case time.Time:
		if f.Kind == Timestamp {
			return val.UTC(), nil
		}
	}
	return nil, fmt.Errorf("field %s (%s) cannot hold %T", f.Name, f.Kind, v)
}

// Format renders a typed value as the string stored in audit records and compared for changes.
// Unset values render as the empty string.
func Format(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Same reports whether two typed values are equal for change detection. Timestamps compare at
// full precision; everything else compares by its formatted text.
func Same(a, b any) bool {
	at, aok := a.(time.Time)
	bt, bok := b.(time.Time)
	if aok && bok {
		return at.Equal(bt)
	}
	return Format(a) == Format(b)
}
