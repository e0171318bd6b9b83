package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToJSONScalars(t *testing.T) {
	s, err := ToJSON(None())
	require.Nil(t, err)
	assert.Equal(t, "null", s)

	s, err = ToJSON(Bool(true))
	require.Nil(t, err)
	assert.Equal(t, "true", s)

	s, err = ToJSON(Num(3.5))
	require.Nil(t, err)
	assert.Equal(t, "3.5", s)

	s, err = ToJSON(Str("hi\"there"))
	require.Nil(t, err)
	assert.Equal(t, `"hi\"there"`, s)
}

func TestToJSONPreservesMapOrder(t *testing.T) {
	mv := NewMap()
	m := mv.AsMap()
	m.Set("z", Num(1))
	m.Set("a", Num(2))

	s, err := ToJSON(mv)
	require.Nil(t, err)
	assert.Equal(t, `{"z":1,"a":2}`, s)
}

func TestToJSONList(t *testing.T) {
	lv := NewList()
	lv.AsList().Push(Num(1))
	lv.AsList().Push(Str("x"))

	s, err := ToJSON(lv)
	require.Nil(t, err)
	assert.Equal(t, `[1,"x"]`, s)
}

func TestToJSONRejectsCycles(t *testing.T) {
	lv := NewList()
	l := lv.AsList()
	l.Push(Num(1))
	l.Push(lv)

	_, err := ToJSON(lv)
	require.NotNil(t, err)
	assert.Equal(t, TypeError, err.Kind)
}

func TestToJSONRejectsAgentHandles(t *testing.T) {
	_, err := ToJSON(Agent(AgentHandle(1)))
	require.NotNil(t, err)
	assert.Equal(t, TypeError, err.Kind)
}

func TestParseJSONScalars(t *testing.T) {
	v, err := ParseJSON("null")
	require.Nil(t, err)
	assert.True(t, v.IsNone())

	v, err = ParseJSON("true")
	require.Nil(t, err)
	assert.Equal(t, true, v.AsBool())

	v, err = ParseJSON("42")
	require.Nil(t, err)
	assert.Equal(t, 42.0, v.AsNum())

	v, err = ParseJSON(`"hello"`)
	require.Nil(t, err)
	assert.Equal(t, "hello", v.AsStr())
}

func TestParseJSONPreservesObjectOrder(t *testing.T) {
	v, err := ParseJSON(`{"z": 1, "a": 2, "m": 3}`)
	require.Nil(t, err)
	require.Equal(t, KindMap, v.Kind())
	assert.Equal(t, []string{"z", "a", "m"}, v.AsMap().Keys())
}

func TestParseJSONNestedArray(t *testing.T) {
	v, err := ParseJSON(`[1, [2, 3], "x"]`)
	require.Nil(t, err)
	require.Equal(t, KindList, v.Kind())
	l := v.AsList()
	require.Equal(t, 3, l.Len())

	inner, _ := l.Get(1)
	require.Equal(t, KindList, inner.Kind())
	assert.Equal(t, 2, inner.AsList().Len())
}

func TestParseJSONMalformedIsJSONError(t *testing.T) {
	_, err := ParseJSON("{not valid")
	require.NotNil(t, err)
	assert.Equal(t, JSONError, err.Kind)
}

func TestParseJSONEmptyIsJSONError(t *testing.T) {
	_, err := ParseJSON("")
	require.NotNil(t, err)
	assert.Equal(t, JSONError, err.Kind)
}

func TestRoundTripThroughJSON(t *testing.T) {
	original := `{"name":"scout","tags":["a","b"],"active":true,"count":3}`
	v, err := ParseJSON(original)
	require.Nil(t, err)

	s, jerr := ToJSON(v)
	require.Nil(t, jerr)
	assert.Equal(t, original, s)
}
