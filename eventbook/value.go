package eventbook

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

// Kind describes what a Value holds.
type Kind uint8

const (
	KindMissing Kind = iota
	KindNumber
	KindText
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindBool:
		return "bool"
	default:
		return "missing"
	}
}

// Value is a single scalar cell of a LabeledMatrix. The zero Value is missing.
type Value struct {
	kind Kind
	num  float64
	text string
	flag bool
}

// Num returns a numeric Value. NaN is treated as missing.
func Num(f float64) Value {
	if math.IsNaN(f) {
		return Missing()
	}

	return Value{kind: KindNumber, num: f}
}

// Text returns a text Value.
func Text(s string) Value {
	return Value{kind: KindText, text: s}
}

// Bool returns a boolean Value.
func Bool(b bool) Value {
	return Value{kind: KindBool, flag: b}
}

// Missing returns the missing Value.
func Missing() Value {
	return Value{}
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsMissing() bool {
	return v.kind == KindMissing
}

func (v Value) IsNumber() bool {
	return v.kind == KindNumber
}

// Float returns the numeric content and whether the Value is a number.
func (v Value) Float() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// Str returns the text content and whether the Value is text.
func (v Value) Str() (string, bool) {
	return v.text, v.kind == KindText
}

// Boolean returns the boolean content and whether the Value is a bool.
func (v Value) Boolean() (bool, bool) {
	return v.flag, v.kind == KindBool
}

// Equal reports whether both values have the same kind and content.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}

	switch v.kind {
	case KindNumber:
		return v.num == other.num
	case KindText:
		return v.text == other.text
	case KindBool:
		return v.flag == other.flag
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindText:
		return v.text
	case KindBool:
		return strconv.FormatBool(v.flag)
	default:
		return "<missing>"
	}
}

// MarshalJSON encodes the Value as a JSON number, string, bool or null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		if math.IsInf(v.num, 0) {
			return nil, errors.Join(ErrCodec, fmt.Errorf("can not encode %v", v.num))
		}

		return strconv.AppendFloat(nil, v.num, 'g', -1, 64), nil
	case KindText:
		return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(v.text)
	case KindBool:
		return strconv.AppendBool(nil, v.flag), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a JSON scalar into the Value.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &raw); err != nil {
		return errors.Join(ErrCodec, err)
	}

	switch typed := raw.(type) {
	case nil:
		*v = Missing()
	case float64:
		*v = Num(typed)
	case string:
		*v = Text(typed)
	case bool:
		*v = Bool(typed)
	default:
		return errors.Join(ErrCodec, fmt.Errorf("cell must be a scalar, got %T", raw))
	}

	return nil
}
