package hcl

import (
	"path/filepath"
	"testing"

	"github.com/specialistvlad/mgmtcore/internal/expression"
	"github.com/specialistvlad/mgmtcore/internal/operations"
	"github.com/specialistvlad/mgmtcore/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

const bootFile = `
properties = {
  "http.port" = 8080
  "banner"    = "hello"
}

operation "add" {
  address = "/subsystem=web"
}

operation "add" {
  address = "/subsystem=web/listener=default"
  params = {
    port      = "$${http.port:80}"
    http2     = true
    max-conns = 100
    tags      = ["a", "b"]
  }
}

operation "write-attribute" {
  address = "/subsystem=web/listener=default"
  params = {
    name  = "port"
    value = 8443
  }
}
`

func TestLoader_Parse(t *testing.T) {
	ctx := testutil.Context(t)
	boot, err := NewLoader().Parse(ctx, []byte(bootFile), "boot.hcl")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"http.port": "8080", "banner": "hello"}, boot.Properties)
	require.Len(t, boot.Operations, 3)

	first := boot.Operations[0]
	assert.Equal(t, operations.Add, first.Name)
	assert.Equal(t, "/subsystem=web", first.Address.String())
	assert.Empty(t, first.Params)

	second := boot.Operations[1]
	assert.Equal(t, "/subsystem=web/listener=default", second.Address.String())
	assert.Equal(t, "${http.port:80}", expression.Template(second.Params["port"]))
	assert.True(t, second.Params["http2"].RawEquals(cty.True))
	assert.True(t, second.Params["max-conns"].RawEquals(cty.NumberIntVal(100)))
	assert.Equal(t, 2, second.Params["tags"].LengthInt())

	steps, err := operations.Steps(boot.Composite())
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, operations.WriteAttribute, steps[2].Name)
}

func TestLoader_ParseErrors(t *testing.T) {
	testCases := []struct {
		name     string
		src      string
		errorMsg string
	}{
		{name: "syntax", src: `operation "add" {`, errorMsg: "failed to parse"},
		{name: "unknown attribute", src: `operation "add" { target = "/x=y" }`, errorMsg: "failed to decode"},
		{name: "bad address", src: `operation "add" { address = "nope" }`, errorMsg: `operation "add"`},
		{name: "params not an object", src: `operation "add" { params = 3 }`, errorMsg: "params must be an object"},
		{name: "property not a string", src: `properties = { a = ["x"] }`, errorMsg: `property "a" must be a string`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewLoader().Parse(testutil.Context(t), []byte(tc.src), "bad.hcl")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errorMsg)
		})
	}
}

func TestLoader_Load(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{
		"10-web.hcl": `operation "add" { address = "/subsystem=web" }`,
		"00-threads.hcl": `
properties = { "pool.size" = "4" }
operation "add" { address = "/subsystem=threads" }
`,
		"nested/20-sockets.hcl": `operation "add" { address = "/subsystem=sockets" }`,
		"notes.txt":             `operation "add" { address = "/subsystem=ignored" }`,
		"extra/extra.hcl":       `operation "add" { address = "/subsystem=web" }`,
	})
	extra := filepath.Join(dir, "extra", "extra.hcl")

	boot, err := NewLoader().Load(testutil.Context(t), dir, extra, filepath.Join(dir, "missing"))
	require.NoError(t, err)

	var addrs []string
	for _, op := range boot.Operations {
		addrs = append(addrs, op.Address.String())
	}
	assert.Equal(t, []string{"/subsystem=threads", "/subsystem=web", "/subsystem=web", "/subsystem=sockets"}, addrs,
		"files load in lexical path order and a file named twice loads once")
	assert.Equal(t, "4", boot.Properties["pool.size"])
}
