// Package httpserver exposes the analysis results as a JSON API.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinytelemetry/accesslens/internal/duckdb"
	"github.com/tinytelemetry/accesslens/internal/logger"
	"github.com/tinytelemetry/accesslens/internal/metrics"
	"github.com/tinytelemetry/accesslens/internal/model"
	"github.com/tinytelemetry/accesslens/internal/pipeline"
	"github.com/tinytelemetry/accesslens/internal/timestamp"
)

// DefaultAddr is used when no listen address is configured.
const DefaultAddr = "127.0.0.1:8080"

// Server provides an HTTP API over one analysed record set.
type Server struct {
	addr      string
	api       model.ReadAPI
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
	errc      chan error
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, api model.ReadAPI) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		api:       api,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/summary", s.handleSummary)
	r.GET("/api/columns", s.handleColumns)
	r.GET("/api/columns/:name", s.handleColumn)
	r.GET("/api/columns/:name/distribution", s.handleDistribution)
	r.GET("/api/analyze-group", s.handleGroup)
	r.GET("/api/time-range", s.handleTimeRange)
	r.GET("/api/abuse", s.handleAbuse)
	r.GET("/api/anomalies", s.handleAnomalies)
	r.GET("/api/security-summary", s.handleSecuritySummary)
	r.POST("/api/query", s.handleQuery)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.serve(listener)
	return nil
}

func (s *Server) serve(listener net.Listener) {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
	}
	s.addr = listener.Addr().String()
	s.startTime = time.Now()
	s.errc = make(chan error, 1)

	go func() {
		defer close(s.errc)
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Errorw("httpserver: serve failed", "error", err)
			s.errc <- err
		}
	}()
	logger.L().Infow("httpserver: listening", "addr", s.addr)
}

// Done is closed once the server stops serving. It first yields the error
// when serving failed for any reason other than Stop. It is nil before Start.
func (s *Server) Done() <-chan error { return s.errc }

// Addr returns the listen address, resolved once Start has run.
func (s *Server) Addr() string { return s.addr }

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"uptime":    time.Since(s.startTime).String(),
		"log_count": s.api.Summary().Processed,
	})
}

func (s *Server) handleSummary(c *gin.Context) {
	c.JSON(http.StatusOK, s.api.Summary())
}

func (s *Server) handleColumns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"columns": s.api.Columns()})
}

func (s *Server) handleColumn(c *gin.Context) {
	md, ok := s.api.Column(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown column: " + c.Param("name")})
		return
	}
	c.JSON(http.StatusOK, md)
}

func (s *Server) handleDistribution(c *gin.Context) {
	w, ok := window(c)
	if !ok {
		return
	}
	limit, ok := intParam(c, "limit", 0)
	if !ok {
		return
	}
	d, err := s.api.Distribution(c.Request.Context(), c.Param("name"), w, limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) handleGroup(c *gin.Context) {
	var columns []string
	for _, col := range strings.Split(c.Query("columns"), ",") {
		if col = strings.TrimSpace(col); col != "" {
			columns = append(columns, col)
		}
	}
	if len(columns) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "columns parameter is required"})
		return
	}
	w, ok := window(c)
	if !ok {
		return
	}
	limit, ok := intParam(c, "limit", model.DefaultGroupLimit)
	if !ok {
		return
	}

	res, err := s.api.GroupAnalysis(c.Request.Context(), model.GroupRequest{Columns: columns, Window: w, Limit: limit})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleTimeRange(c *gin.Context) {
	c.JSON(http.StatusOK, s.api.TimeRange())
}

func (s *Server) handleAbuse(c *gin.Context) {
	patterns, err := s.api.AbusePatterns()
	body := gin.H{"patterns": patterns, "count": len(patterns)}
	if patterns == nil {
		body["patterns"] = []model.AbusePattern{}
	}
	if err != nil {
		body["error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleAnomalies(c *gin.Context) {
	w, ok := window(c)
	if !ok {
		return
	}
	alerts, err := s.api.Anomalies(c.Request.Context(), w)
	if err != nil {
		fail(c, err)
		return
	}
	if alerts == nil {
		alerts = []model.AnomalyAlert{}
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts), "window": w})
}

func (s *Server) handleSecuritySummary(c *gin.Context) {
	w, ok := window(c)
	if !ok {
		return
	}
	summary, err := s.api.SecuritySummary(c.Request.Context(), w)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleQuery(c *gin.Context) {
	var req struct {
		SQL string `json:"sql" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing sql field"})
		return
	}

	results, err := s.api.Query(c.Request.Context(), req.SQL)
	if err != nil {
		fail(c, err)
		return
	}

	columns := []string{}
	if len(results) > 0 {
		for col := range results[0] {
			columns = append(columns, col)
		}
		sort.Strings(columns)
	}
	if results == nil {
		results = []model.Row{}
	}

	c.JSON(http.StatusOK, gin.H{
		"columns":   columns,
		"rows":      results,
		"row_count": len(results),
	})
}

// window reads the start and end query parameters. On failure it has
// already written a 400 response.
func window(c *gin.Context) (model.TimeWindow, bool) {
	var w model.TimeWindow
	var err error
	if w.Start, err = timestamp.ParseBound(c.Query("start")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start: " + err.Error()})
		return w, false
	}
	if w.End, err = timestamp.ParseBound(c.Query("end")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end: " + err.Error()})
		return w, false
	}
	if err := w.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return w, false
	}
	return w, true
}

func intParam(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a non-negative integer"})
		return 0, false
	}
	return n, true
}

// fail maps an error to a status code. Engine failures carry the failing
// query and the engine's diagnostic output.
func fail(c *gin.Context, err error) {
	var qe *duckdb.QueryError
	switch {
	case errors.Is(err, duckdb.ErrNotReadOnly):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, pipeline.ErrUnknownColumn):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &qe):
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		logger.L().Warnw("httpserver: engine query failed", "engine", qe.Engine, "error", err)
		c.JSON(status, gin.H{"error": err.Error(), "query": qe.Query, "diagnostic": qe.Diagnostic})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
