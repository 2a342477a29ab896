package typed

import (
	"testing"

	"github.com/specialistvlad/mgmtcore/internal/expression"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func TestToGo(t *testing.T) {
	testCases := []struct {
		name     string
		input    cty.Value
		expected any
	}{
		{name: "string", input: cty.StringVal("a"), expected: "a"},
		{name: "integral number", input: cty.NumberIntVal(42), expected: int64(42)},
		{name: "fractional number", input: cty.NumberFloatVal(1.5), expected: 1.5},
		{name: "bool", input: cty.True, expected: true},
		{name: "null", input: cty.NullVal(cty.String), expected: nil},
		{name: "expression", input: expression.New("${a.b:1}"), expected: "${a.b:1}"},
		{name: "object", input: cty.ObjectVal(map[string]cty.Value{"a": cty.NumberIntVal(1)}), expected: map[string]any{"a": int64(1)}},
		{name: "list", input: cty.ListVal([]cty.Value{cty.StringVal("x"), cty.StringVal("y")}), expected: []any{"x", "y"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ToGo(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestFromGo(t *testing.T) {
	testCases := []struct {
		name     string
		input    any
		expected cty.Value
		errorMsg string
	}{
		{name: "int", input: 3, expected: cty.NumberIntVal(3)},
		{name: "float", input: 0.25, expected: cty.NumberFloatVal(0.25)},
		{name: "nil", input: nil, expected: cty.NullVal(cty.DynamicPseudoType)},
		{name: "empty slice", input: []any{}, expected: cty.EmptyTupleVal},
		{name: "yaml map", input: map[any]any{"k": "v"}, expected: cty.ObjectVal(map[string]cty.Value{"k": cty.StringVal("v")})},
		{name: "unsupported", input: struct{}{}, errorMsg: "unsupported Go type"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FromGo(tc.input)
			if tc.errorMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.errorMsg)
				return
			}
			require.NoError(t, err)
			assert.True(t, tc.expected.RawEquals(got), "got %#v", got)
		})
	}
}

func TestMarshalJSON(t *testing.T) {
	v := cty.ObjectVal(map[string]cty.Value{
		"banner": expression.New("${banner.text}"),
		"max":    cty.NumberIntVal(10),
		"unset":  cty.NullVal(cty.DynamicPseudoType),
	})
	data, err := MarshalJSON(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"banner":"${banner.text}","max":10,"unset":null}`, string(data))

	back, err := UnmarshalJSON(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"banner", "max", "unset"}, SortedKeys(back))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, int64(7), Format(cty.NumberIntVal(7)))
	assert.Equal(t, "plain", Format("plain"))
	assert.Nil(t, SortedKeys(cty.StringVal("x")))
}
