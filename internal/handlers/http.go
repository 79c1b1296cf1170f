// Package handlers binds engine operations to HTTP routes and a websocket
// command channel.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wirefish/internal/engine"
	"wirefish/internal/models"
	"wirefish/internal/store"
)

// RouterOptions controls optional routes.
type RouterOptions struct {
	// MetricsPath mounts the Prometheus handler when Gatherer is set.
	MetricsPath string
	Gatherer    prometheus.Gatherer
}

// NewRouter creates a gin engine with all routes registered.
func NewRouter(eng *engine.Engine, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	RegisterRoutes(router, eng, opts)
	return router
}

// RegisterRoutes sets up all HTTP routes on the given router.
func RegisterRoutes(router *gin.Engine, eng *engine.Engine, opts RouterOptions) {
	api := router.Group("/api")
	api.GET("/interfaces", listInterfaces(eng))
	api.POST("/interfaces/select", selectInterface(eng))
	api.POST("/sniffing/start", startSniffing(eng))
	api.POST("/sniffing/stop", stopSniffing(eng))
	api.POST("/report", generateReport(eng))
	api.GET("/packets", getPackets(eng))
	api.GET("/status", getStatus(eng))
	api.GET("/streams/:id", getStream(eng))

	router.GET("/ws", HandleWebSocket(eng))

	if opts.Gatherer != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
}

func listInterfaces(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ifaces, err := eng.Interfaces()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": models.ErrorPayload{Type: "Internal", Description: err.Error()}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"interfaces": ifaces})
	}
}

func selectInterface(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.SelectInterfaceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		iface, err := eng.SelectInterface(req.InterfaceName)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"interface": iface})
	}
}

func startSniffing(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.StartSniffingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if err := eng.StartSniffing(req.IsResume); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, eng.Status())
	}
}

func stopSniffing(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.StopSniffingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if err := eng.StopSniffing(req.Stop); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, eng.Status())
	}
}

func generateReport(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.GenerateReportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		ok, err := eng.GenerateReport(req.ReportPath, req.FirstGeneration)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": ok})
	}
}

func getPackets(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.GetPacketsRequest
		if err := c.ShouldBindQuery(&req); err != nil {
			badRequest(c, err)
			return
		}
		pkts, total, err := eng.GetPackets(queryOf(req))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.GetPacketsResponse{Total: total, Packets: pkts})
	}
}

func getStatus(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, eng.Status())
	}
}

func getStream(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			badRequest(c, err)
			return
		}
		sd, ok := eng.Stream(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": models.ErrorPayload{Type: "NotFound", Description: "no such stream"}})
			return
		}
		c.JSON(http.StatusOK, sd)
	}
}

func queryOf(req models.GetPacketsRequest) store.Query {
	return store.Query{
		Filter: req.Filter,
		Value:  req.Value,
		Start:  req.Start,
		End:    req.End,
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": models.ErrorPayload{Type: "BadRequest", Description: err.Error()}})
}

// writeError responds with the error's kind and an HTTP status chosen by
// which side is at fault.
func writeError(c *gin.Context, err error) {
	c.JSON(statusOf(err), gin.H{"error": errorPayload(err)})
}

func statusOf(err error) int {
	switch engine.KindOf(err) {
	case engine.KindInterfaceNotFound:
		return http.StatusNotFound
	case engine.KindStartSniffingWithoutInterfaceSelection, engine.KindStopSniffingWithoutPriorStart:
		return http.StatusConflict
	case engine.KindGetPacketsIndexNotValid, engine.KindUnknownFilterType:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func errorPayload(err error) models.ErrorPayload {
	var serr *engine.SniffingError
	if errors.As(err, &serr) {
		return models.ErrorPayload{Type: serr.Kind.String(), Description: serr.Error()}
	}
	return models.ErrorPayload{Type: engine.KindUnknown.String(), Description: err.Error()}
}
