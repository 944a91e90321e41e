package jsonstream

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// Kind discriminates the variants of a parsed JSON value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the JSON value space. Only the field
// matching Kind is meaningful. The structural scanner never produces a
// Value; it exists solely for the single post-validation parse.
type Value struct {
	Kind   Kind
	Bool   bool
	Number json.Number
	Str    string
	Array  []Value
	Object map[string]Value
}

// Parse decodes data into a Value. Numbers keep their textual form via
// json.Number. A payload that fails here despite a passing structural
// scan yields a *MalformedPayloadError.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, &MalformedPayloadError{Err: err}
	}

	// Reject trailing content after the first value.
	if err := checkTrailing(dec); err != nil {
		return Value{}, &MalformedPayloadError{Err: err}
	}

	return fromAny(raw), nil
}

func checkTrailing(dec *json.Decoder) error {
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("trailing content after json value")
	}
	return nil
}

func fromAny(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Value{Kind: KindNull}
	case bool:
		return Value{Kind: KindBool, Bool: t}
	case json.Number:
		return Value{Kind: KindNumber, Number: t}
	case string:
		return Value{Kind: KindString, Str: t}
	case []any:
		arr := make([]Value, len(t))
		for i, el := range t {
			arr[i] = fromAny(el)
		}
		return Value{Kind: KindArray, Array: arr}
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k, el := range t {
			obj[k] = fromAny(el)
		}
		return Value{Kind: KindObject, Object: obj}
	default:
		// json.Decoder only produces the cases above.
		return Value{Kind: KindNull}
	}
}
