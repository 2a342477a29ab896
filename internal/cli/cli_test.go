package cli

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/specialistvlad/mgmtcore/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bootFile = `
operation "add" {
  address = "/subsystem=threads"
}

operation "add" {
  address = "/subsystem=threads/pool=default"
}

operation "add" {
  address = "/subsystem=sockets"
}

operation "add" {
  address = "/subsystem=sockets/binding=http"
  params = {
    port = 8080
  }
}

operation "add" {
  address = "/subsystem=web"
}

operation "add" {
  address = "/subsystem=web/listener=default"
  params = {
    socket-binding = "http"
    worker         = "default"
  }
}

operation "add" {
  address = "/subsystem=naming"
}

operation "add" {
  address = "/subsystem=naming/entry=app"
  params = {
    value = "$${app.name:unnamed}"
  }
}
`

// execute runs the command tree with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	root := NewRootCommand(out)
	root.SetErr(&testutil.SafeBuffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func bootDir(t *testing.T, extra map[string]string) string {
	t.Helper()
	files := map[string]string{"boot/standalone.hcl": bootFile}
	for k, v := range extra {
		files[k] = v
	}
	return testutil.WriteFiles(t, files)
}

func requireExitCode(t *testing.T, err error, code int) *ExitError {
	t.Helper()
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr), "expected an ExitError, got %v", err)
	assert.Equal(t, code, exitErr.Code, exitErr.Message)
	return exitErr
}

func TestExec(t *testing.T) {
	dir := bootDir(t, nil)
	boot := filepath.Join(dir, "boot")

	testCases := []struct {
		name     string
		args     []string
		code     int
		contains string
	}{
		{
			name:     "read attribute",
			args:     []string{"exec", "-b", boot, "read-attribute", "/subsystem=web/listener=default", "name=max-connections"},
			contains: `"result":100`,
		},
		{
			name:     "property from flag",
			args:     []string{"exec", "-b", boot, "-D", "app.name=demo", "lookup", "/subsystem=naming", "name=app"},
			contains: `"result":"demo"`,
		},
		{
			name:     "write requiring reload",
			args:     []string{"exec", "-b", boot, "write-attribute", "/subsystem=web/listener=default", "name=http2", "value=true"},
			contains: `"operation-requires-reload":true`,
		},
		{
			name:     "failed operation",
			args:     []string{"exec", "-b", boot, "add", "/subsystem=web/listener=default", "socket-binding=http", "worker=default"},
			code:     ExitFailed,
			contains: `"outcome":"failed"`,
		},
		{
			name: "malformed parameter",
			args: []string{"exec", "-b", boot, "read-attribute", "/subsystem=web", "name"},
			code: ExitUsage,
		},
		{
			name: "malformed address",
			args: []string{"exec", "-b", boot, "read-resource", "subsystem"},
			code: ExitUsage,
		},
		{
			name: "missing boot files",
			args: []string{"exec", "read-resource", "/"},
			code: ExitUsage,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := execute(t, tc.args...)
			if tc.code != 0 {
				requireExitCode(t, err, tc.code)
			} else {
				require.NoError(t, err)
			}
			assert.Contains(t, out, tc.contains)
		})
	}
}

func TestExec_BootFailure(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{"boot.hcl": `
operation "add" {
  address = "/subsystem=nope"
}
`})
	_, err := execute(t, "exec", "-b", filepath.Join(dir, "boot.hcl"), "read-resource", "/")
	exitErr := requireExitCode(t, err, ExitFailed)
	assert.Contains(t, exitErr.Message, "boot failed")
}

func TestDescribe(t *testing.T) {
	boot := filepath.Join(bootDir(t, nil), "boot")

	out, err := execute(t, "describe", "-b", boot, "/subsystem=web/listener=default")
	require.NoError(t, err)
	assert.Contains(t, out, "max-connections")
	assert.Contains(t, out, "reset-statistics")

	out, err = execute(t, "describe", "-b", boot, "--recursive")
	require.NoError(t, err)
	assert.Contains(t, out, "max-threads")

	_, err = execute(t, "describe", "-b", boot, "/subsystem=unknown")
	requireExitCode(t, err, ExitFailed)
}

func TestTransform(t *testing.T) {
	boot := filepath.Join(bootDir(t, nil), "boot")
	testCases := []struct {
		name     string
		args     []string
		code     int
		contains string
	}{
		{
			name:     "converted for legacy peer",
			args:     []string{"add", "/subsystem=web/listener=l2", "buffer-size=4", "max-connections=5"},
			contains: `"max-conn":5`,
		},
		{
			name:     "discarded for legacy peer",
			args:     []string{"reset-statistics", "/subsystem=web/listener=default"},
			contains: `"discarded":true`,
		},
		{
			name: "rejected for legacy peer",
			args: []string{"add", "/subsystem=web/listener=l2", "http2=true"},
			code: ExitFailed,
		},
		{
			name: "rejected through the connector alias",
			args: []string{"add", "/subsystem=web/connector=l2", "http2=true"},
			code: ExitFailed,
		},
		{
			name:     "alias converted for legacy peer",
			args:     []string{"write-attribute", "/subsystem=web/connector=default", "name=max-connections", "value=5"},
			contains: `"name":"max-conn"`,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			args := append([]string{"transform", "-b", boot, "--peer-version", "web=1.0.0"}, tc.args...)
			out, err := execute(t, args...)
			if tc.code != 0 {
				requireExitCode(t, err, tc.code)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out, tc.contains)
		})
	}

	_, err := execute(t, "transform", "-b", boot, "--peer-version", "web=one", "add", "/subsystem=web")
	requireExitCode(t, err, ExitUsage)
}

func TestLoadConfig_Sources(t *testing.T) {
	dir := bootDir(t, map[string]string{
		"mgmtcore.yaml": `
boot:
  - boot
log-level: warn
properties:
  app.name: from-file
`,
	})
	cfgFile := filepath.Join(dir, "mgmtcore.yaml")

	t.Run("config file", func(t *testing.T) {
		t.Chdir(dir)
		out, err := execute(t, "exec", "--config", cfgFile, "lookup", "/subsystem=naming", "name=app")
		require.NoError(t, err)
		assert.Contains(t, out, `"result":"from-file"`)
	})

	t.Run("flags override the config file", func(t *testing.T) {
		t.Chdir(dir)
		out, err := execute(t, "exec", "--config", cfgFile, "-D", "app.name=from-flag", "lookup", "/subsystem=naming", "name=app")
		require.NoError(t, err)
		assert.Contains(t, out, `"result":"from-flag"`)
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("MGMTCORE_LOG_FORMAT", "xml")
		_, err := execute(t, "exec", "--config", cfgFile, "read-resource", "/")
		exitErr := requireExitCode(t, err, ExitUsage)
		assert.Contains(t, exitErr.Message, "LogFormat")
	})

	t.Run("property environment prefix", func(t *testing.T) {
		t.Chdir(dir)
		t.Setenv("MGMTCORE_PROP_APP_NAME", "from-env")
		out, err := execute(t, "exec", "-b", "boot", "lookup", "/subsystem=naming", "name=app")
		require.NoError(t, err)
		assert.Contains(t, out, `"result":"from-env"`)
	})

	t.Run("missing explicit config file", func(t *testing.T) {
		_, err := execute(t, "exec", "--config", filepath.Join(dir, "absent.yaml"), "read-resource", "/")
		requireExitCode(t, err, ExitUsage)
	})
}

func TestUnknownFlag(t *testing.T) {
	_, err := execute(t, "exec", "--this-is-not-a-valid-flag")
	exitErr := requireExitCode(t, err, ExitUsage)
	assert.Contains(t, exitErr.Message, "unknown flag")
}

func TestParseValue(t *testing.T) {
	testCases := []struct {
		raw      string
		expected string
	}{
		{raw: "8080", expected: "8080"},
		{raw: "true", expected: "true"},
		{raw: `"quoted"`, expected: `"quoted"`},
		{raw: "plain", expected: `"plain"`},
		{raw: `["a","b"]`, expected: `["a","b"]`},
	}
	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			out, err := execute(t, "transform", "-b", "unused", "read-attribute", "/subsystem=web", "name="+tc.raw)
			require.NoError(t, err)
			assert.Contains(t, out, `"name":`+tc.expected)
		})
	}
}
