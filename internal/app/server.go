package app

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/specialistvlad/mgmtcore/internal/address"
	"github.com/specialistvlad/mgmtcore/internal/controller"
	"github.com/specialistvlad/mgmtcore/internal/failure"
	"github.com/specialistvlad/mgmtcore/internal/operations"
	"github.com/specialistvlad/mgmtcore/internal/typed"
	"github.com/zclconf/go-cty/cty"
)

// Handler returns the HTTP handler of the management server:
//
//	GET /health   200 once boot succeeded, 503 before
//	GET /metrics  Prometheus metrics
//	GET /model    read-resource of ?address= (default the root), with
//	              ?recursive= and ?include-runtime=
func (a *App) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), a.requestLogger())
	router.GET("/health", a.healthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{})))
	router.GET("/model", a.modelHandler)
	return router
}

func (a *App) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		a.logger.Debug("Management request served.", "path", c.Request.URL.Path, "status", c.Writer.Status(), "remote_addr", c.ClientIP())
	}
}

func (a *App) healthHandler(c *gin.Context) {
	if !a.Booted() {
		c.String(http.StatusServiceUnavailable, "BOOTING")
		return
	}
	c.String(http.StatusOK, "OK")
}

func (a *App) modelHandler(c *gin.Context) {
	addr := address.Root()
	if raw := c.Query("address"); raw != "" {
		parsed, err := address.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"outcome": controller.Failed, "failure-description": err.Error()})
			return
		}
		addr = parsed
	}
	params := make(map[string]cty.Value)
	for _, name := range []string{operations.ParamRecursive, operations.ParamIncludeRuntime} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"outcome": controller.Failed, "failure-description": err.Error()})
			return
		}
		params[name] = cty.BoolVal(b)
	}

	res := a.Execute(c.Request.Context(), controller.NewOperation(operations.ReadResource, addr, params))
	body, err := typed.MarshalJSON(res.ToValue())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"outcome": controller.Failed, "failure-description": err.Error()})
		return
	}
	status := http.StatusOK
	switch {
	case res.Succeeded():
	case errors.Is(res.Err, errors.NotFound), failure.Is(res.Err, failure.OperationNotFound):
		status = http.StatusNotFound
	default:
		status = http.StatusBadRequest
	}
	c.Data(status, "application/json", body)
}
