package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind discriminates the variants of Value.
type ValueKind int

const (
	KindString ValueKind = iota
	KindInt
	KindFloat
)

// Value is the tagged variant type for metric values. Each metric key has a
// fixed kind decided by the parser: statuses and VLAN ids are strings,
// interface counters are integers, laser diagnostics and derived rates are
// floats. The zero value is the empty string.
type Value struct {
	kind ValueKind
	s    string
	i    int64
	f    float64
}

// StringValue wraps a string.
func StringValue(s string) Value { return Value{kind: KindString, s: s} }

// IntValue wraps an integer counter.
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }

// FloatValue wraps a signed decimal reading.
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }

// Kind returns the variant tag.
func (v Value) Kind() ValueKind { return v.kind }

// AsString returns the string payload, ok=false for numeric kinds.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// AsInt returns the integer payload, ok=false for other kinds.
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

// AsFloat returns the float payload, ok=false for other kinds.
func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindFloat {
		return 0, false
	}
	return v.f, true
}

// Float64 coerces any numeric kind to float64. ok=false for strings.
func (v Value) Float64() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// String renders the value for logs and text output.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	default:
		return v.s
	}
}

// MarshalJSON emits the bare payload (JSON string or number), so a snapshot
// serialises as a flat key → value object.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		return json.Marshal(v.f)
	default:
		return json.Marshal(v.s)
	}
}

// UnmarshalJSON restores the variant from a bare JSON value. Numbers without
// a fractional part become integers; everything else numeric becomes a float.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("models: value: %w", err)
	}
	switch x := raw.(type) {
	case string:
		*v = StringValue(x)
	case json.Number:
		if i, err := strconv.ParseInt(x.String(), 10, 64); err == nil {
			*v = IntValue(i)
			return nil
		}
		f, err := x.Float64()
		if err != nil {
			return fmt.Errorf("models: value %q: %w", x.String(), err)
		}
		*v = FloatValue(f)
	default:
		return fmt.Errorf("models: value: unsupported JSON type %T", raw)
	}
	return nil
}
