package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the textual form of DateTime values and completion times.
const TimeLayout = "2006-01-02T15:04:05"

// inputLayouts are accepted by ParseTime, most specific first.
var inputLayouts = []string{
	TimeLayout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// NaiveTime drops the location and sub-second part of t, keeping its wall
// clock reading. All timestamps in the model are naive.
func NaiveTime(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

// FormatTime renders t using TimeLayout.
func FormatTime(t time.Time) string {
	return NaiveTime(t).Format(TimeLayout)
}

// ParseTime parses a naive timestamp.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range inputLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// Value is a typed cell. Only the member matching the type is meaningful.
type Value struct {
	typ FieldType
	s   string
	n   int32
	b   bool
	t   time.Time
}

// TextValue returns a Text value.
func TextValue(s string) Value { return Value{typ: Text, s: s} }

// NumberValue returns a Number value.
func NumberValue(n int32) Value { return Value{typ: Number, n: n} }

// BoolValue returns a Boolean value.
func BoolValue(b bool) Value { return Value{typ: Boolean, b: b} }

// DateTimeValue returns a DateTime value with t truncated to a naive second.
func DateTimeValue(t time.Time) Value { return Value{typ: DateTime, t: NaiveTime(t)} }

// Type returns the value's type. The zero Value has an invalid type.
func (v Value) Type() FieldType { return v.typ }

func (v Value) mustBe(t FieldType) {
	if v.typ != t {
		panic(fmt.Sprintf("schema: %v accessor called on %v value", t, v.typ))
	}
}

// Text returns the string of a Text value. It panics on other types.
func (v Value) Text() string {
	v.mustBe(Text)
	return v.s
}

// Number returns the integer of a Number value. It panics on other types.
func (v Value) Number() int32 {
	v.mustBe(Number)
	return v.n
}

// Bool returns the flag of a Boolean value. It panics on other types.
func (v Value) Bool() bool {
	v.mustBe(Boolean)
	return v.b
}

// Time returns the timestamp of a DateTime value. It panics on other types.
func (v Value) Time() time.Time {
	v.mustBe(DateTime)
	return v.t
}

// Equal reports whether both values have the same type and content.
func (v Value) Equal(other Value) bool {
	if v.typ != other.typ {
		return false
	}
	switch v.typ {
	case Text:
		return v.s == other.s
	case Number:
		return v.n == other.n
	case Boolean:
		return v.b == other.b
	case DateTime:
		return v.t.Equal(other.t)
	}
	return true
}

// String renders the value for display. ParseValue accepts the result.
func (v Value) String() string {
	switch v.typ {
	case Text:
		return v.s
	case Number:
		return strconv.FormatInt(int64(v.n), 10)
	case Boolean:
		return strconv.FormatBool(v.b)
	case DateTime:
		return v.t.Format(TimeLayout)
	}
	return "<invalid>"
}

// ParseValue converts user input into a value of type t.
func ParseValue(t FieldType, s string) (Value, error) {
	switch t {
	case Text:
		return TextValue(s), nil
	case Number:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a 32-bit integer", ErrTypeMismatch, s)
		}
		return NumberValue(int32(n)), nil
	case Boolean:
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "y", "1":
			return BoolValue(true), nil
		case "false", "no", "n", "0":
			return BoolValue(false), nil
		}
		return Value{}, fmt.Errorf("%w: %q is not a boolean", ErrTypeMismatch, s)
	case DateTime:
		ts, err := ParseTime(s)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		return DateTimeValue(ts), nil
	}
	return Value{}, fmt.Errorf("%w: %v", ErrUnknownType, t)
}

type wireValue struct {
	Type  FieldType       `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes v as {"type": ..., "value": ...}.
func (v Value) MarshalJSON() ([]byte, error) {
	var payload any
	switch v.typ {
	case Text:
		payload = v.s
	case Number:
		payload = v.n
	case Boolean:
		payload = v.b
	case DateTime:
		payload = v.t.Format(TimeLayout)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownType, v.typ)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Type: v.typ, Value: raw})
}

// UnmarshalJSON decodes the form written by MarshalJSON. The JSON kind of the
// payload must agree with the type tag.
func (v *Value) UnmarshalJSON(b []byte) error {
	var w wireValue
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if len(w.Value) == 0 || bytes.Equal(w.Value, []byte("null")) {
		return fmt.Errorf("%w: missing %v payload", ErrTypeMismatch, w.Type)
	}
	mismatch := func(err error) error {
		return fmt.Errorf("%w: %v payload %s: %v", ErrTypeMismatch, w.Type, w.Value, err)
	}
	switch w.Type {
	case Text:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return mismatch(err)
		}
		*v = TextValue(s)
	case Number:
		var n int32
		if err := json.Unmarshal(w.Value, &n); err != nil {
			return mismatch(err)
		}
		*v = NumberValue(n)
	case Boolean:
		var flag bool
		if err := json.Unmarshal(w.Value, &flag); err != nil {
			return mismatch(err)
		}
		*v = BoolValue(flag)
	case DateTime:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return mismatch(err)
		}
		ts, err := time.ParseInLocation(TimeLayout, s, time.UTC)
		if err != nil {
			return mismatch(err)
		}
		*v = DateTimeValue(ts)
	default:
		return fmt.Errorf("%w: %v", ErrUnknownType, w.Type)
	}
	return nil
}

type wireRecord struct {
	ID          uint64  `json:"id"`
	Fields      []Field `json:"fields"`
	CompletedAt *string `json:"completed_at"`
}

// MarshalJSON writes completed_at as a naive timestamp or null.
func (r Record) MarshalJSON() ([]byte, error) {
	w := wireRecord{ID: r.ID, Fields: r.Fields}
	if w.Fields == nil {
		w.Fields = []Field{}
	}
	if r.CompletedAt != nil {
		s := FormatTime(*r.CompletedAt)
		w.CompletedAt = &s
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads the form written by MarshalJSON.
func (r *Record) UnmarshalJSON(b []byte) error {
	var w wireRecord
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	out := Record{ID: w.ID, Fields: w.Fields}
	if w.CompletedAt != nil {
		ts, err := time.ParseInLocation(TimeLayout, *w.CompletedAt, time.UTC)
		if err != nil {
			return fmt.Errorf("completed_at: %w", err)
		}
		out.CompletedAt = &ts
	}
	*r = out
	return nil
}
