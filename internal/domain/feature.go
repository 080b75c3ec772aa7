package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNumber Kind = iota
	KindText
	KindFlag
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindFlag:
		return "flag"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a feature value: a number, a string or a boolean.
// It encodes to JSON as the bare scalar.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
	Bool bool
}

// Number returns a numeric Value.
func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }

// Text returns a string Value.
func Text(s string) Value { return Value{Kind: KindText, Str: s} }

// Flag returns a boolean Value.
func Flag(b bool) Value { return Value{Kind: KindFlag, Bool: b} }

// Interface returns the underlying Go value (float64, string or bool).
func (v Value) Interface() interface{} {
	switch v.Kind {
	case KindText:
		return v.Str
	case KindFlag:
		return v.Bool
	default:
		return v.Num
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindText:
		return v.Str
	case KindFlag:
		return strconv.FormatBool(v.Bool)
	default:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	}
}

// MarshalJSON encodes the scalar. Non-finite numbers are rejected.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Kind == KindNumber && (math.IsNaN(v.Num) || math.IsInf(v.Num, 0)) {
		return nil, fmt.Errorf("non-finite feature value: %v", v.Num)
	}
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes a JSON scalar. null decodes to the number 0.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case nil:
		*v = Number(0)
	case float64:
		*v = Number(x)
	case string:
		*v = Text(x)
	case bool:
		*v = Flag(x)
	default:
		return fmt.Errorf("feature value must be a scalar, got %T", raw)
	}
	return nil
}

// FeatureVector maps feature names to values. JSON encoding sorts keys,
// so equal vectors encode to identical bytes.
type FeatureVector map[string]Value

// Len returns the number of features.
func (fv FeatureVector) Len() int { return len(fv) }

// Coercion records a value that could not be used as given and was replaced.
type Coercion struct {
	Field  string `json:"field"`
	Raw    string `json:"raw"`
	Reason string `json:"reason"`
}
