// Package httpserver exposes the ingestion and query API over HTTP.
package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loglens/loglens/internal/ingest"
	"github.com/loglens/loglens/internal/lenserr"
	"github.com/loglens/loglens/internal/model"
	"github.com/loglens/loglens/internal/retention"
	"github.com/loglens/loglens/internal/scorer"
)

// Ingestor accepts normalized entries into the pipeline.
type Ingestor interface {
	Append(ctx context.Context, e *model.LogEntry) (int64, error)
	AppendBatch(ctx context.Context, entries []*model.LogEntry) ([]int64, error)
}

// QueryStore is the narrow store contract required by the HTTP API.
type QueryStore interface {
	GetByID(ctx context.Context, id int64) (*model.LogEntry, error)
	PredictionFor(ctx context.Context, entryID int64) (*model.Prediction, error)
	Search(ctx context.Context, filter model.SearchFilter, page model.SearchPage) (*model.SearchResult, error)
	Scan(ctx context.Context, tr model.TimeRange, limit int, cursor string) ([]model.LogEntry, string, error)
	TotalLogCount(ctx context.Context) (int64, error)
}

// Metrics serves the rollup endpoints.
type Metrics interface {
	Aggregate(ctx context.Context, tr model.TimeRange) (*model.AggregateMetrics, error)
	TimeSeries(ctx context.Context, tr model.TimeRange, granularity string) ([]model.TimeBucket, error)
}

// Scoring exposes the model status the API reports.
type Scoring interface {
	ModelVersion() string
	Degraded() bool
	Patterns() *scorer.PatternMiner
}

// Sweeper triggers and reports on retention sweeps.
type Sweeper interface {
	RunOnce(ctx context.Context) (*retention.SweepResult, error)
	State() string
	LastSweep() *retention.SweepResult
}

// Server provides the HTTP API for ingestion, search, and metrics.
type Server struct {
	addr      string
	ingestor  Ingestor
	store     QueryStore
	metrics   Metrics
	scoring   Scoring
	sweeper   Sweeper
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates the API server. scoring and sweeper may be nil when those
// subsystems are disabled.
func NewServer(addr string, ingestor Ingestor, store QueryStore, metrics Metrics, scoring Scoring, sweeper Sweeper) *Server {
	if addr == "" {
		addr = "0.0.0.0:3000"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:     addr,
		ingestor: ingestor,
		store:    store,
		metrics:  metrics,
		scoring:  scoring,
		sweeper:  sweeper,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/api/logs", s.handleIngest)
	r.GET("/api/logs", s.handleScan)
	r.GET("/api/logs/:id", s.handleGetLog)
	r.GET("/api/search", s.handleSearch)
	r.GET("/api/metrics", s.handleMetrics)
	r.GET("/api/metrics/timeseries", s.handleTimeSeries)
	r.GET("/api/model", s.handleModel)
	r.GET("/api/health", s.handleHealth)
	r.POST("/api/admin/retention/sweep", s.handleSweep)

	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.routes(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.startTime = time.Now()

	go s.server.Serve(listener)
	return nil
}

// Addr returns the bound listen address, useful when the port was 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// writeError maps a typed error onto its HTTP status without exposing
// wrapped storage internals.
func writeError(c *gin.Context, err error) {
	status := lenserr.HTTPStatus(err)
	var le *lenserr.Error
	if errors.As(err, &le) {
		c.JSON(status, gin.H{"code": le.Code, "error": le.Message})
		return
	}
	c.JSON(status, gin.H{"error": "internal error"})
}

func (s *Server) handleIngest(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, lenserr.Validation("api.ingest", "unreadable request body"))
		return
	}

	entries, perr := parseIngestBody(body)
	if perr != nil {
		writeError(c, perr)
		return
	}

	ids, err := s.ingestor.AppendBatch(c.Request.Context(), entries)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ids": ids, "accepted": len(ids)})
}

// parseIngestBody accepts a single JSON object, a JSON array of objects, or
// an OTEL envelope, reusing the stream extractor so every surface normalizes
// entries identically.
func parseIngestBody(body []byte) ([]*model.LogEntry, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, lenserr.Validation("api.ingest", "empty request body")
	}

	var chunks []string
	if trimmed[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, lenserr.Validation("api.ingest", "malformed JSON array")
		}
		for _, r := range raw {
			chunks = append(chunks, string(r))
		}
	} else {
		chunks = []string{string(trimmed)}
	}

	var entries []*model.LogEntry
	for _, chunk := range chunks {
		parsed := ingest.ParseJSONEntries(chunk)
		if len(parsed) == 0 {
			return nil, lenserr.Validation("api.ingest", "unparseable log record")
		}
		entries = append(entries, parsed...)
	}
	return entries, nil
}

func (s *Server) handleGetLog(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, lenserr.Validation("api.get_log", "id must be a positive integer"))
		return
	}

	entry, err := s.store.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	scored := model.ScoredEntry{Entry: *entry}
	pred, err := s.store.PredictionFor(c.Request.Context(), id)
	switch {
	case err == nil:
		scored.Prediction = pred
	case lenserr.CodeOf(err) == lenserr.CodeNotFound:
		// Not scored yet.
	default:
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, scored)
}

type scanQuery struct {
	From   string `form:"from"`
	To     string `form:"to"`
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit"`
}

// handleScan pages through entries in timestamp order, oldest first. Unlike
// search it applies no dimension filters, only the time window.
func (s *Server) handleScan(c *gin.Context) {
	var q scanQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, lenserr.Validation("api.scan", "malformed query parameters"))
		return
	}

	tr, err := parseRange(q.From, q.To)
	if err != nil {
		writeError(c, err)
		return
	}

	entries, next, err := s.store.Scan(c.Request.Context(), tr, q.Limit, q.Cursor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "next_cursor": next})
}

type searchQuery struct {
	Level   string `form:"level"`
	Source  string `form:"source"`
	Service string `form:"service"`
	Text    string `form:"q"`
	From    string `form:"from"`
	To      string `form:"to"`
	Cursor  string `form:"cursor"`
	Limit   int    `form:"limit"`
}

func (s *Server) handleSearch(c *gin.Context) {
	var q searchQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, lenserr.Validation("api.search", "malformed query parameters"))
		return
	}

	tr, err := parseRange(q.From, q.To)
	if err != nil {
		writeError(c, err)
		return
	}
	if q.Level != "" && !model.ValidLevel(q.Level) {
		writeError(c, lenserr.Validation("api.search", "unknown level "+q.Level))
		return
	}

	res, err := s.store.Search(c.Request.Context(),
		model.SearchFilter{Level: q.Level, Source: q.Source, Service: q.Service, Text: q.Text, Range: tr},
		model.SearchPage{Cursor: q.Cursor, Limit: q.Limit})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries":       res.Entries,
		"next_cursor":   res.NextCursor,
		"total_matched": res.TotalMatched,
	})
}

type rangeQuery struct {
	From        string `form:"from"`
	To          string `form:"to"`
	Granularity string `form:"granularity"`
}

func (s *Server) handleMetrics(c *gin.Context) {
	var q rangeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, lenserr.Validation("api.metrics", "malformed query parameters"))
		return
	}
	tr, err := parseRange(q.From, q.To)
	if err != nil {
		writeError(c, err)
		return
	}

	m, err := s.metrics.Aggregate(c.Request.Context(), tr)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) handleTimeSeries(c *gin.Context) {
	var q rangeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, lenserr.Validation("api.timeseries", "malformed query parameters"))
		return
	}
	tr, err := parseRange(q.From, q.To)
	if err != nil {
		writeError(c, err)
		return
	}
	granularity := q.Granularity
	if granularity == "" {
		granularity = model.GranularityHour
	}

	buckets, err := s.metrics.TimeSeries(c.Request.Context(), tr, granularity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"granularity": granularity, "buckets": buckets})
}

func (s *Server) handleModel(c *gin.Context) {
	if s.scoring == nil {
		writeError(c, lenserr.ScoringUnavailable("api.model", nil))
		return
	}

	resp := gin.H{
		"model_version": s.scoring.ModelVersion(),
		"degraded":      s.scoring.Degraded(),
	}
	if p := s.scoring.Patterns(); p != nil {
		count, total := p.Stats()
		resp["pattern_count"] = count
		resp["observed_logs"] = total
		resp["top_patterns"] = p.TopPatterns(10)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHealth(c *gin.Context) {
	logCount, err := s.store.TotalLogCount(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "failed to read health metrics"})
		return
	}

	resp := gin.H{
		"status":    "ok",
		"uptime":    time.Since(s.startTime).String(),
		"log_count": logCount,
	}
	if s.scoring != nil {
		mode := "scoring"
		if s.scoring.Degraded() {
			mode = "degraded"
		}
		resp["scoring"] = mode
		resp["model_version"] = s.scoring.ModelVersion()
	}
	if s.sweeper != nil {
		resp["retention_state"] = s.sweeper.State()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSweep(c *gin.Context) {
	if s.sweeper == nil {
		writeError(c, lenserr.Validation("api.sweep", "retention is disabled"))
		return
	}

	res, err := s.sweeper.RunOnce(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// parseRange builds a half-open time range from optional RFC3339 bounds.
func parseRange(from, to string) (model.TimeRange, error) {
	var tr model.TimeRange
	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return tr, lenserr.Validation("api.range", "from must be RFC3339")
		}
		tr.From = t
	}
	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return tr, lenserr.Validation("api.range", "to must be RFC3339")
		}
		tr.To = t
	}
	if !tr.From.IsZero() && !tr.To.IsZero() && !tr.From.Before(tr.To) {
		return tr, lenserr.Validation("api.range", "from must precede to")
	}
	return tr, nil
}
