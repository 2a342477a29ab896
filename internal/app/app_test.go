package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/juju/version/v2"
	"github.com/specialistvlad/mgmtcore/internal/controller"
	"github.com/specialistvlad/mgmtcore/internal/failure"
	"github.com/specialistvlad/mgmtcore/internal/operations"
	"github.com/specialistvlad/mgmtcore/internal/service"
	"github.com/specialistvlad/mgmtcore/internal/testutil"
	"github.com/specialistvlad/mgmtcore/internal/transformers"
	"github.com/specialistvlad/mgmtcore/modules/naming"
	"github.com/specialistvlad/mgmtcore/modules/sockets"
	"github.com/specialistvlad/mgmtcore/modules/threads"
	"github.com/specialistvlad/mgmtcore/modules/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

const standaloneBoot = `
properties = {
  "app.name" = "from-boot-file"
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
  address = "/subsystem=threads"
}

operation "add" {
  address = "/subsystem=threads/pool=default"
  params = {
    max-threads = 4
  }
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
  address = "/subsystem=naming"
}

operation "add" {
  address = "/subsystem=naming/entry=app"
  params = {
    value = "$${app.name:unnamed}"
  }
}
`

const brokenBoot = `
operation "add" {
  address = "/subsystem=web"
}

operation "add" {
  address = "/subsystem=web/listener=default"
  params = {
    socket-binding = "http"
    worker         = "missing"
  }
}
`

// setupApp creates an app whose logs go to the returned buffer.
func setupApp(t *testing.T, boot string, props map[string]string) (*App, *testutil.SafeBuffer) {
	t.Helper()
	dir := testutil.WriteFiles(t, map[string]string{"boot/standalone.hcl": boot})
	cfg, err := NewConfig(Config{
		BootPaths:  []string{dir + "/boot"},
		LogLevel:   "debug",
		Properties: props,
	})
	require.NoError(t, err)

	logs := &testutil.SafeBuffer{}
	a, err := NewApp(logs, cfg)
	require.NoError(t, err)
	return a, logs
}

func TestNewConfig(t *testing.T) {
	testCases := []struct {
		name     string
		cfg      Config
		errorMsg string
	}{
		{name: "defaults applied", cfg: Config{BootPaths: []string{"boot.hcl"}}},
		{name: "missing boot paths", cfg: Config{}, errorMsg: "BootPaths is a required"},
		{name: "empty boot path", cfg: Config{BootPaths: []string{""}}, errorMsg: "BootPaths[0]"},
		{name: "unknown log level", cfg: Config{BootPaths: []string{"b"}, LogLevel: "trace"}, errorMsg: "LogLevel"},
		{name: "unknown log format", cfg: Config{BootPaths: []string{"b"}, LogFormat: "xml"}, errorMsg: "LogFormat"},
		{name: "port out of range", cfg: Config{BootPaths: []string{"b"}, HTTPPort: 70000}, errorMsg: "HTTPPort"},
		{name: "sample rate above one", cfg: Config{BootPaths: []string{"b"}, TraceSampleRate: 1.5}, errorMsg: "TraceSampleRate"},
		{name: "unknown exporter", cfg: Config{BootPaths: []string{"b"}, TraceExporter: "jaeger"}, errorMsg: "TraceExporter"},
		{name: "property name with colon", cfg: Config{BootPaths: []string{"b"}, Properties: map[string]string{"a:b": "x"}}, errorMsg: "Properties"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := NewConfig(tc.cfg)
			if tc.errorMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.errorMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "text", cfg.LogFormat)
			assert.Equal(t, "info", cfg.LogLevel)
			assert.Equal(t, "none", cfg.TraceExporter)
		})
	}
}

func TestEnvironmentProperties(t *testing.T) {
	environ := []string{
		"MGMTCORE_PROP_HTTP_PORT=8080",
		"MGMTCORE_PROP_APP_NAME=a=b",
		"MGMTCORE_PROP_=ignored",
		"HOME=/root",
		"MALFORMED",
	}
	assert.Equal(t, map[string]string{"http.port": "8080", "app.name": "a=b"}, EnvironmentProperties("MGMTCORE_PROP_", environ))
	assert.Empty(t, EnvironmentProperties("", environ))
}

func TestApp_Boot(t *testing.T) {
	ctx := testutil.Context(t)
	a, logs := setupApp(t, standaloneBoot, map[string]string{"app.name": "from-config"})
	assert.False(t, a.Booted())

	require.NoError(t, a.Boot(ctx))
	assert.True(t, a.Booted())
	assert.Contains(t, logs.String(), "Boot complete.")

	l, ok := web.Lookup(a.Services(), "default")
	require.True(t, ok)
	assert.Equal(t, "0.0.0.0:8080", l.Addr())
	assert.Equal(t, service.Up, a.Services().State(threads.ServiceID("default")))

	e, ok := naming.Lookup(a.Services(), "app")
	require.True(t, ok)
	assert.Equal(t, "from-config", e.Get(), "configured properties override the boot file")

	res := a.Execute(ctx, controller.NewOperation(operations.ReadChildrenNames, naming.Address,
		map[string]cty.Value{operations.ParamChildType: cty.StringVal("entry")}))
	require.True(t, res.Succeeded(), res.FailureDescription)
	assert.True(t, res.Result.RawEquals(cty.ListVal([]cty.Value{cty.StringVal("app")})))

	assert.Equal(t, map[string]version.Number{
		threads.Name: threads.ModelVersion,
		sockets.Name: sockets.ModelVersion,
		web.Name:     web.ModelVersion,
		naming.Name:  naming.ModelVersion,
	}, map[string]version.Number(a.ModelVersions()))
}

func TestApp_BootFailureRollsBack(t *testing.T) {
	ctx := testutil.Context(t)
	a, _ := setupApp(t, brokenBoot, nil)

	err := a.Boot(ctx)
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.CapabilityResolution), err.Error())
	assert.False(t, a.Booted())
	assert.Empty(t, a.Services().IDs())

	res := a.Execute(ctx, controller.NewOperation(operations.ReadResource, web.Address, nil))
	assert.False(t, res.Succeeded(), "the boot batch left no model behind")
}

func TestApp_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, _ := setupApp(t, standaloneBoot, nil)
	router := a.Handler()

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		router.ServeHTTP(w, req)
		return w
	}

	w := get("/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	require.NoError(t, a.Boot(testutil.Context(t)))

	testCases := []struct {
		name     string
		path     string
		status   int
		contains string
	}{
		{name: "health", path: "/health", status: http.StatusOK, contains: "OK"},
		{name: "metrics", path: "/metrics", status: http.StatusOK, contains: "mgmtcore_controller_batches_total"},
		{name: "listener model", path: "/model?address=/subsystem=web/listener=default", status: http.StatusOK, contains: `"socket-binding":"http"`},
		{name: "recursive model", path: "/model?recursive=true", status: http.StatusOK, contains: `"pool"`},
		{name: "runtime attributes", path: "/model?address=/subsystem=web/listener=default&include-runtime=true", status: http.StatusOK, contains: `"active-connections"`},
		{name: "missing resource", path: "/model?address=/subsystem=web/listener=nope", status: http.StatusNotFound, contains: `"outcome":"failed"`},
		{name: "bad address", path: "/model?address=subsystem", status: http.StatusBadRequest, contains: "failure-description"},
		{name: "bad flag", path: "/model?recursive=maybe", status: http.StatusBadRequest, contains: "failure-description"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := get(tc.path)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), tc.contains)
		})
	}
}

func TestApp_Transform(t *testing.T) {
	a, _ := setupApp(t, standaloneBoot, nil)
	legacy := transformers.PeerVersions{web.Name: version.MustParse("1.0.0")}

	t.Run("rejected attribute", func(t *testing.T) {
		_, err := a.Transform(controller.NewOperation(operations.Add, web.ListenerAddress("h2"), map[string]cty.Value{
			"socket-binding": cty.StringVal("http"),
			"worker":         cty.StringVal("default"),
			"http2":          cty.True,
		}), legacy)
		require.Error(t, err)
		assert.True(t, failure.Is(err, failure.TransformationRejected))
		assert.Contains(t, err.Error(), "/subsystem=web/listener=h2@http2")
	})

	t.Run("renamed and converted attributes", func(t *testing.T) {
		tr, err := a.Transform(controller.NewOperation(operations.Add, web.ListenerAddress("default"), map[string]cty.Value{
			"socket-binding":  cty.StringVal("http"),
			"worker":          cty.StringVal("default"),
			"max-connections": cty.NumberIntVal(10),
			"buffer-size":     cty.NumberIntVal(2),
		}), legacy)
		require.NoError(t, err)
		require.False(t, tr.Discarded)
		_, renamed := tr.Operation.Param("max-connections")
		assert.False(t, renamed)
		assert.True(t, tr.Operation.Params["max-conn"].RawEquals(cty.NumberIntVal(10)))
		assert.True(t, tr.Operation.Params["buffer-size"].Equals(cty.NumberIntVal(2048)).True())
	})

	t.Run("current peer is untouched", func(t *testing.T) {
		op := controller.NewOperation(web.ResetStatistics, web.ListenerAddress("default"), nil)
		tr, err := a.Transform(op, nil)
		require.NoError(t, err)
		assert.False(t, tr.Discarded)
		assert.Equal(t, op, tr.Operation)
	})

	t.Run("discarded operation", func(t *testing.T) {
		tr, err := a.Transform(controller.NewOperation(web.ResetStatistics, web.ListenerAddress("default"), nil), legacy)
		require.NoError(t, err)
		assert.True(t, tr.Discarded)
	})
}

func TestApp_Run(t *testing.T) {
	t.Run("serves until cancelled", func(t *testing.T) {
		a, _ := setupApp(t, standaloneBoot, nil)
		ctx, cancel := context.WithCancel(testutil.Context(t))
		done := make(chan error, 1)
		go func() { done <- a.Run(ctx) }()

		require.Eventually(t, a.Booted, 2*time.Second, 10*time.Millisecond)
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancellation")
		}
	})

	t.Run("failed boot stops the process", func(t *testing.T) {
		a, _ := setupApp(t, brokenBoot, nil)
		err := a.Run(testutil.Context(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boot failed")
	})
}

func TestNewLogger(t *testing.T) {
	testCases := []struct {
		level, format string
		debugShown    bool
		contains      string
	}{
		{level: "debug", format: "text", debugShown: true, contains: "level=DEBUG"},
		{level: "info", format: "json", contains: `"level":"INFO"`},
		{level: "bogus", format: "text", contains: "level=INFO"},
	}
	for _, tc := range testCases {
		t.Run(tc.level+"/"+tc.format, func(t *testing.T) {
			buf := &testutil.SafeBuffer{}
			logger := newLogger(tc.level, tc.format, buf)
			logger.Debug("debug entry")
			logger.Info("info entry")
			assert.Equal(t, tc.debugShown, strings.Contains(buf.String(), "debug entry"))
			assert.Contains(t, buf.String(), tc.contains)
			assert.Contains(t, buf.String(), "mgmtcore")
		})
	}
}
