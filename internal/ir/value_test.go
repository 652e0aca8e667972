package ir

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIRValueSealed(t *testing.T) {
	var _ IRValue = IRString("")
	var _ IRValue = IRInt(0)
	var _ IRValue = IRBool(false)
	var _ IRValue = IRFloat(0)
	var _ IRValue = IRArray{}
	var _ IRValue = IRObject{}
}

func TestIRObjectSortedKeys(t *testing.T) {
	obj := IRObject{"command": IRString("x"), "module": IRString("y"), "content": IRString("z")}
	assert.Equal(t, []string{"command", "content", "module"}, obj.SortedKeys())
}

func TestCompareKeysRFC8785(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"a", "b", -1},
		{"b", "a", 1},
		{"a", "a", 0},
		{"a", "ab", -1},
		{"", "a", -1},
		{"\U00010000", "\ue000", -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, compareKeysRFC8785(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestKindName(t *testing.T) {
	assert.Equal(t, "string", KindName(IRString("")))
	assert.Equal(t, "int", KindName(IRInt(0)))
	assert.Equal(t, "bool", KindName(IRBool(true)))
	assert.Equal(t, "float", KindName(IRFloat(0)))
	assert.Equal(t, "sequence", KindName(IRArray{}))
	assert.Equal(t, "mapping", KindName(IRObject{}))
	assert.Equal(t, "nothing", KindName(nil))
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b IRValue
		want bool
	}{
		{"same string", IRString("a"), IRString("a"), true},
		{"different string", IRString("a"), IRString("b"), false},
		{"int vs float", IRInt(2), IRFloat(2), false},
		{"float vs int", IRFloat(2), IRInt(2), false},
		{"same float", IRFloat(2.5), IRFloat(2.5), true},
		{"arrays", IRArray{IRInt(1), IRString("x")}, IRArray{IRInt(1), IRString("x")}, true},
		{"array order", IRArray{IRInt(1), IRInt(2)}, IRArray{IRInt(2), IRInt(1)}, false},
		{"array length", IRArray{IRInt(1)}, IRArray{IRInt(1), IRInt(1)}, false},
		{"objects", IRObject{"a": IRArray{IRBool(true)}}, IRObject{"a": IRArray{IRBool(true)}}, true},
		{"object missing key", IRObject{"a": IRInt(1)}, IRObject{"b": IRInt(1)}, false},
		{"object vs array", IRObject{}, IRArray{}, false},
		{"nil", nil, nil, true},
		{"nil vs value", nil, IRString(""), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := IRObject{"inner": IRObject{"list": IRArray{IRInt(1)}}}
	cp := orig.Clone()

	cp["inner"].(IRObject)["list"].(IRArray)[0] = IRInt(99)
	cp["extra"] = IRBool(true)

	assert.Equal(t, IRInt(1), orig["inner"].(IRObject)["list"].(IRArray)[0])
	_, ok := orig["extra"]
	assert.False(t, ok)
}

func TestObjectStringAccessor(t *testing.T) {
	obj := NewIRObject(O("module", IRString("IO")), O("count", IRInt(3)))

	s, ok := obj.String("module")
	assert.True(t, ok)
	assert.Equal(t, "IO", s)

	_, ok = obj.String("count")
	assert.False(t, ok, "non-string value")

	_, ok = obj.String("absent")
	assert.False(t, ok)
}

func TestFromGo(t *testing.T) {
	v, err := FromGo(map[string]any{
		"s": "text",
		"i": 7,
		"u": uint8(3),
		"b": true,
		"f": 1.25,
		"l": []any{"a", int64(2)},
	})
	require.NoError(t, err)

	want := IRObject{
		"s": IRString("text"),
		"i": IRInt(7),
		"u": IRInt(3),
		"b": IRBool(true),
		"f": IRFloat(1.25),
		"l": IRArray{IRString("a"), IRInt(2)},
	}
	assert.True(t, Equal(want, v), "got %#v", v)
}

func TestFromGoRejects(t *testing.T) {
	tests := []struct {
		name string
		in   any
	}{
		{"nil", nil},
		{"nested nil", map[string]any{"a": nil}},
		{"NaN", math.NaN()},
		{"Inf", math.Inf(1)},
		{"huge uint", uint64(math.MaxUint64)},
		{"struct", struct{}{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromGo(tt.in)
			assert.Error(t, err)
		})
	}
}

func TestUnmarshalIRValueNumbers(t *testing.T) {
	v, err := UnmarshalIRValue([]byte(`{"a":1,"b":1.0,"c":2e3}`))
	require.NoError(t, err)

	obj := v.(IRObject)
	assert.Equal(t, IRInt(1), obj["a"])
	assert.Equal(t, IRFloat(1), obj["b"])
	assert.Equal(t, IRFloat(2000), obj["c"])
}

func TestUnmarshalRejectsNull(t *testing.T) {
	_, err := UnmarshalIRValue([]byte(`{"a":null}`))
	assert.Error(t, err)
}

func TestIRObjectJSONRoundTrip(t *testing.T) {
	obj := IRObject{
		"command": IRString("Store"),
		"weight":  IRFloat(3),
		"n":       IRInt(3),
	}

	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"command":"Store","n":3,"weight":3.0}`, string(data))

	var back IRObject
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, Equal(obj, back))
}

func TestUnmarshalJSONRejectsNonObject(t *testing.T) {
	var obj IRObject
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &obj))
}

func TestToGo(t *testing.T) {
	got := ToGo(IRObject{"a": IRArray{IRInt(1), IRFloat(0.5), IRBool(true), IRString("x")}})
	assert.Equal(t, map[string]any{"a": []any{int64(1), 0.5, true, "x"}}, got)
}
