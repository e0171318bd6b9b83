package value

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
)

// ToJSON is total over the value universe except agent handles,
// iterators, and error values, which are not serializable and throw. Cycles in list/map
// structures are detected and throw rather than recursing forever.
func ToJSON(v Value) (string, *Err) {
	var b strings.Builder
	seen := make(map[any]bool)
	if err := writeJSON(&b, v, seen); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeJSON(b *strings.Builder, v Value, seen map[any]bool) *Err {
	switch v.kind {
	case KindNone:
		b.WriteString("null")
	case KindBool:
		if v.b {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case KindNum:
		b.WriteString(formatNum(v.num))
	case KindStr:
		b.WriteString(strconv.Quote(v.s))
	case KindList:
		if seen[v.list] {
			return &Err{Kind: TypeError, Message: "to_json: cyclic list"}
		}
		seen[v.list] = true
		defer delete(seen, v.list)

		b.WriteByte('[')
		for i, e := range v.list.Values() {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeJSON(b, e, seen); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case KindMap:
		if seen[v.m] {
			return &Err{Kind: TypeError, Message: "to_json: cyclic map"}
		}
		seen[v.m] = true
		defer delete(seen, v.m)

		b.WriteByte('{')
		for i, k := range v.m.Keys() {
			if i > 0 {
				b.WriteByte(',')
			}
			val, _ := v.m.Get(k)
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			if err := writeJSON(b, val, seen); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	case KindAgentHandle:
		return &Err{Kind: TypeError, Message: "to_json: agent handles are not serializable"}
	case KindIterator:
		return &Err{Kind: TypeError, Message: "to_json: iterators are not serializable"}
	case KindError:
		return &Err{Kind: TypeError, Message: "to_json: error values are not serializable"}
	default:
		return &Err{Kind: TypeError, Message: "to_json: unsupported value"}
	}
	return nil
}

// ParseJSON parses a JSON document into the serializable subset of
// Value, preserving object member order via jsonparser's document-
// order callbacks. It throws JsonError on malformed input.
func ParseJSON(s string) (Value, *Err) {
	data := []byte(strings.TrimSpace(s))
	if len(data) == 0 {
		return Value{}, &Err{Kind: JSONError, Message: "parse_json: empty input"}
	}

	v, _, _, err := jsonparser.Get(data)
	if err != nil {
		return Value{}, &Err{Kind: JSONError, Message: fmt.Sprintf("parse_json: %s", err)}
	}
	return parseJSONValue(data, jsonparser.Unknown, v)
}

func parseJSONValue(data []byte, _ jsonparser.ValueType, _ []byte) (Value, *Err) {
	return parseAny(data)
}

// parseAny re-detects the top-level type of data and dispatches,
// since jsonparser.Get does not hand back a typed value for the root.
func parseAny(data []byte) (Value, *Err) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return Value{}, &Err{Kind: JSONError, Message: "parse_json: empty input"}
	}

	switch trimmed[0] {
	case '{':
		result := NewMap()
		var firstErr *Err
		err := jsonparser.ObjectEach([]byte(trimmed), func(key, val []byte, dataType jsonparser.ValueType, offset int) error {
			if firstErr != nil {
				return nil
			}
			child, perr := parseTyped(val, dataType)
			if perr != nil {
				firstErr = perr
				return nil
			}
			result.AsMap().Set(string(key), child)
			return nil
		})
		if err != nil {
			return Value{}, &Err{Kind: JSONError, Message: fmt.Sprintf("parse_json: %s", err)}
		}
		if firstErr != nil {
			return Value{}, firstErr
		}
		return result, nil

	case '[':
		result := NewList()
		var firstErr *Err
		_, err := jsonparser.ArrayEach([]byte(trimmed), func(val []byte, dataType jsonparser.ValueType, offset int, err error) {
			if firstErr != nil || err != nil {
				return
			}
			child, perr := parseTyped(val, dataType)
			if perr != nil {
				firstErr = perr
				return
			}
			result.AsList().Push(child)
		})
		if err != nil {
			return Value{}, &Err{Kind: JSONError, Message: fmt.Sprintf("parse_json: %s", err)}
		}
		if firstErr != nil {
			return Value{}, firstErr
		}
		return result, nil

	case '"':
		if len(trimmed) < 2 || trimmed[len(trimmed)-1] != '"' {
			return Value{}, &Err{Kind: JSONError, Message: "parse_json: unterminated string"}
		}
		s, err := jsonparser.ParseString([]byte(trimmed[1 : len(trimmed)-1]))
		if err != nil {
			return Value{}, &Err{Kind: JSONError, Message: fmt.Sprintf("parse_json: %s", err)}
		}
		return Str(s), nil

	case 't', 'f':
		b, err := jsonparser.ParseBoolean([]byte(trimmed))
		if err != nil {
			return Value{}, &Err{Kind: JSONError, Message: fmt.Sprintf("parse_json: %s", err)}
		}
		return Bool(b), nil

	case 'n':
		if trimmed == "null" {
			return None(), nil
		}
		return Value{}, &Err{Kind: JSONError, Message: "parse_json: invalid literal"}

	default:
		n, err := jsonparser.ParseFloat([]byte(trimmed))
		if err != nil {
			return Value{}, &Err{Kind: JSONError, Message: fmt.Sprintf("parse_json: %s", err)}
		}
		return Num(n), nil
	}
}

// parseTyped converts a value already typed by jsonparser's object/
// array iteration into a Value, recursing through parseAny for
// container types so that member order is preserved throughout.
func parseTyped(raw []byte, dataType jsonparser.ValueType) (Value, *Err) {
	switch dataType {
	case jsonparser.Object, jsonparser.Array:
		return parseAny(raw)
	case jsonparser.String:
		s, err := jsonparser.ParseString(raw)
		if err != nil {
			return Value{}, &Err{Kind: JSONError, Message: fmt.Sprintf("parse_json: %s", err)}
		}
		return Str(s), nil
	case jsonparser.Number:
		n, err := jsonparser.ParseFloat(raw)
		if err != nil {
			return Value{}, &Err{Kind: JSONError, Message: fmt.Sprintf("parse_json: %s", err)}
		}
		return Num(n), nil
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(raw)
		if err != nil {
			return Value{}, &Err{Kind: JSONError, Message: fmt.Sprintf("parse_json: %s", err)}
		}
		return Bool(b), nil
	case jsonparser.Null:
		return None(), nil
	default:
		return Value{}, &Err{Kind: JSONError, Message: "parse_json: unsupported JSON value"}
	}
}
