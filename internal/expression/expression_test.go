package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func TestFromString(t *testing.T) {
	v := FromString(cty.StringVal("${http.port:8080}"))
	require.True(t, IsExpression(v))
	assert.Equal(t, "${http.port:8080}", Template(v))

	plain := FromString(cty.StringVal("8080"))
	assert.False(t, IsExpression(plain))
	assert.True(t, plain.RawEquals(cty.StringVal("8080")))

	n := FromString(cty.NumberIntVal(1))
	assert.True(t, n.RawEquals(cty.NumberIntVal(1)))
}

func TestExpression_Equality(t *testing.T) {
	assert.True(t, New("${a}").RawEquals(New("${a}")))
	assert.False(t, New("${a}").RawEquals(New("${b}")))
}

func TestResolver_ResolveString(t *testing.T) {
	t.Setenv("MGMTCORE_TEST_HOME", "/opt/app")
	r := NewResolver(map[string]string{"http.port": "9090"})

	testCases := []struct {
		name      string
		template  string
		expected  string
		expectErr bool
	}{
		{name: "property", template: "${http.port}", expected: "9090"},
		{name: "default unused", template: "${http.port:8080}", expected: "9090"},
		{name: "default used", template: "${https.port:8443}", expected: "8443"},
		{name: "empty default", template: "${missing:}", expected: ""},
		{name: "env", template: "${env.MGMTCORE_TEST_HOME}/data", expected: "/opt/app/data"},
		{name: "mixed literal", template: "host:${http.port}%{x}", expected: "host:9090%{x}"},
		{name: "two references", template: "${http.port}-${https.port:1}", expected: "9090-1"},
		{name: "literal escape sequence", template: "${http.port} costs $${", expected: "9090 costs $${"},
		{name: "directive in default", template: "${missing:50%{off}", expected: "50%{off"},
		{name: "interpolation in default", template: "${missing:$${x}", expected: "$${x"},
		{name: "quotes and backslashes", template: `"${http.port}\n"`, expected: `"9090\n"`},
		{name: "no reference", template: "plain %{ text", expected: "plain %{ text"},
		{name: "unresolved", template: "${nope}", expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.ResolveString(tc.template)
			if tc.expectErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "nope")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestResolver_ResolveNested(t *testing.T) {
	r := NewResolver(map[string]string{"a": "1"})
	r.SetProperty("b", "2")

	in := cty.ObjectVal(map[string]cty.Value{
		"plain": cty.StringVal("x"),
		"expr":  New("${a}"),
		"list":  cty.TupleVal([]cty.Value{New("${b}"), cty.NumberIntVal(3)}),
	})
	out, err := r.Resolve(in)
	require.NoError(t, err)

	assert.Equal(t, "1", out.GetAttr("expr").AsString())
	assert.Equal(t, "x", out.GetAttr("plain").AsString())
	assert.Equal(t, "2", out.GetAttr("list").Index(cty.NumberIntVal(0)).AsString())
}
