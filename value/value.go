// Package value implements the runtime value universe shared by the
// code generator (for constants) and the virtual machine.
package value

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies which alternative of the Value union is active.
type Kind byte

const (
	KindNone Kind = iota
	KindBool
	KindNum
	KindStr
	KindList
	KindMap
	KindAgentHandle
	KindIterator
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBool:
		return "bool"
	case KindNum:
		return "num"
	case KindStr:
		return "str"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindAgentHandle:
		return "agent"
	case KindIterator:
		return "iterator"
	case KindError:
		return "error"
	default:
		return "?unknown?"
	}
}

// AgentHandle is an opaque 64-bit identifier of a live agent instance.
// Handles are never reused within a single VM run.
type AgentHandle uint64

// ErrorKind classifies a caught exception (spec.md section 7).
type ErrorKind byte

const (
	TypeError ErrorKind = iota
	ArithmeticError
	IndexError
	KeyError
	AssertionError
	JSONError
	HostError
	TimeoutError
	UndefinedError
	UserError
)

func (k ErrorKind) String() string {
	switch k {
	case TypeError:
		return "TypeError"
	case ArithmeticError:
		return "ArithmeticError"
	case IndexError:
		return "IndexError"
	case KeyError:
		return "KeyError"
	case AssertionError:
		return "AssertionError"
	case JSONError:
		return "JsonError"
	case HostError:
		return "HostError"
	case TimeoutError:
		return "TimeoutError"
	case UndefinedError:
		return "UndefinedError"
	case UserError:
		return "UserError"
	default:
		return "Error"
	}
}

// Err is a caught exception value: a kind tag plus a message string.
type Err struct {
	Kind    ErrorKind
	Message string
}

func (e *Err) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// List is a mutable ordered sequence of Value, shared by reference.
type List struct {
	elems   []Value
	version uint64
}

func newList() *List { return &List{} }

func (l *List) Len() int { return len(l.elems) }

func (l *List) Get(i int) (Value, bool) {
	if i < 0 || i >= len(l.elems) {
		return Value{}, false
	}
	return l.elems[i], true
}

func (l *List) Set(i int, v Value) bool {
	if i < 0 || i >= len(l.elems) {
		return false
	}
	l.elems[i] = v
	return true
}

func (l *List) Push(v Value) {
	l.elems = append(l.elems, v)
	l.version++
}

func (l *List) Version() uint64 { return l.version }

func (l *List) Values() []Value { return l.elems }

// Map is a mutable mapping from string key to Value, shared by
// reference, preserving insertion order for iteration.
type Map struct {
	keys    []string
	index   map[string]int
	values  map[string]Value
	version uint64
}

func newMap() *Map {
	return &Map{index: make(map[string]int), values: make(map[string]Value)}
}

func (m *Map) Len() int { return len(m.keys) }

func (m *Map) Get(key string) (Value, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *Map) Set(key string, v Value) {
	if _, exists := m.index[key]; !exists {
		m.index[key] = len(m.keys)
		m.keys = append(m.keys, key)
		m.version++
	}
	m.values[key] = v
}

func (m *Map) Remove(key string) bool {
	idx, ok := m.index[key]
	if !ok {
		return false
	}
	delete(m.index, key)
	delete(m.values, key)
	m.keys = append(m.keys[:idx], m.keys[idx+1:]...)
	for i := idx; i < len(m.keys); i++ {
		m.index[m.keys[i]] = i
	}
	m.version++
	return true
}

func (m *Map) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

func (m *Map) Version() uint64 { return m.version }

// IterKind distinguishes what an Iterator walks.
type IterKind byte

const (
	IterList IterKind = iota
	IterMap
)

// Iterator is an opaque cursor over a list or map.
type Iterator struct {
	Kind        IterKind
	List        *List
	Map         *Map
	Pos         int
	baseVersion uint64
}

func (it *Iterator) containerVersion() uint64 {
	if it.Kind == IterList {
		return it.List.Version()
	}
	return it.Map.Version()
}

func (it *Iterator) containerLen() int {
	if it.Kind == IterList {
		return it.List.Len()
	}
	return it.Map.Len()
}

// Mutated reports whether the underlying container changed shape since
// the iterator was created (spec.md section 9, open question iii).
func (it *Iterator) Mutated() bool {
	return it.containerVersion() != it.baseVersion
}

// Next advances the cursor, returning the next value (list) or key
// (map, as a Str) and whether one was available.
func (it *Iterator) Next() (Value, bool) {
	if it.Pos >= it.containerLen() {
		return Value{}, false
	}
	if it.Kind == IterList {
		v, _ := it.List.Get(it.Pos)
		it.Pos++
		return v, true
	}
	keys := it.Map.Keys()
	key := keys[it.Pos]
	it.Pos++
	return Str(key), true
}

// Value is the runtime universe: None, Bool, Num, Str, List, Map,
// AgentHandle, Iterator, Error.
type Value struct {
	kind  Kind
	num   float64
	b     bool
	s     string
	list  *List
	m     *Map
	agent AgentHandle
	iter  *Iterator
	err   *Err
}

func None() Value                 { return Value{kind: KindNone} }
func Bool(b bool) Value           { return Value{kind: KindBool, b: b} }
func Num(n float64) Value         { return Value{kind: KindNum, num: n} }
func Str(s string) Value          { return Value{kind: KindStr, s: s} }
func Agent(h AgentHandle) Value   { return Value{kind: KindAgentHandle, agent: h} }
func IterValue(it *Iterator) Value { return Value{kind: KindIterator, iter: it} }
func ErrValue(e *Err) Value       { return Value{kind: KindError, err: e} }

func NewList() Value { return Value{kind: KindList, list: newList()} }
func NewMap() Value  { return Value{kind: KindMap, m: newMap()} }

func NewIterator(kind IterKind, list *List, m *Map) *Iterator {
	it := &Iterator{Kind: kind, List: list, Map: m}
	it.baseVersion = it.containerVersion()
	return it
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNone() bool { return v.kind == KindNone }

func (v Value) AsBool() bool { return v.b }

func (v Value) AsNum() float64 { return v.num }

func (v Value) AsStr() string { return v.s }

func (v Value) AsList() *List { return v.list }

func (v Value) AsMap() *Map { return v.m }

func (v Value) AsAgent() AgentHandle { return v.agent }

func (v Value) AsIterator() *Iterator { return v.iter }

func (v Value) AsErr() *Err { return v.err }

// IsTruthy implements the language's truthiness rule: none and false
// are falsy, everything else (including 0 and "") is truthy.
func (v Value) IsTruthy() bool {
	switch v.kind {
	case KindNone:
		return false
	case KindBool:
		return v.b
	default:
		return true
	}
}

// Equal implements value equality used by the comparison opcodes.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNone:
		return true
	case KindBool:
		return a.b == b.b
	case KindNum:
		return a.num == b.num
	case KindStr:
		return a.s == b.s
	case KindList:
		return a.list == b.list
	case KindMap:
		return a.m == b.m
	case KindAgentHandle:
		return a.agent == b.agent
	case KindIterator:
		return a.iter == b.iter
	case KindError:
		return a.err == b.err
	default:
		return false
	}
}

// formatNum renders a float with no trailing zeros where the value is
// exact, matching the "canonical form" required of emit and to_json.
func formatNum(n float64) string {
	if math.IsInf(n, 1) {
		return "inf"
	}
	if math.IsInf(n, -1) {
		return "-inf"
	}
	if math.IsNaN(n) {
		return "nan"
	}
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// Format renders v in the VM's canonical emit form.
func Format(v Value) string {
	switch v.kind {
	case KindNone:
		return "none"
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindNum:
		return formatNum(v.num)
	case KindStr:
		return v.s
	case KindList:
		parts := make([]string, 0, v.list.Len())
		for _, e := range v.list.Values() {
			parts = append(parts, formatNested(e))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		keys := v.m.Keys()
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			val, _ := v.m.Get(k)
			parts = append(parts, fmt.Sprintf("%q: %s", k, formatNested(val)))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case KindAgentHandle:
		return fmt.Sprintf("agent#%d", v.agent)
	case KindIterator:
		return "iterator"
	case KindError:
		// emit renders a caught error as its bare message; the
		// kind prefix from Err.Error() is reserved for CLI/diagnostic
		// reporting, not the language's own value formatting.
		return v.err.Message
	default:
		return "?"
	}
}

// formatNested quotes strings when they appear nested inside a list
// or map, but Format itself leaves a top-level string bare.
func formatNested(v Value) string {
	if v.kind == KindStr {
		return fmt.Sprintf("%q", v.s)
	}
	return Format(v)
}

// Len implements the polymorphic len() builtin over list/map/string.
func Len(v Value) (int, *Err) {
	switch v.kind {
	case KindStr:
		return len([]rune(v.s)), nil
	case KindList:
		return v.list.Len(), nil
	case KindMap:
		return v.m.Len(), nil
	default:
		return 0, &Err{Kind: TypeError, Message: fmt.Sprintf("len() not supported on %s", v.kind)}
	}
}

// SortedMapKeys is a convenience used by tests and debugging tools
// that want a deterministic (not insertion-order) view.
func SortedMapKeys(m *Map) []string {
	keys := m.Keys()
	sort.Strings(keys)
	return keys
}
