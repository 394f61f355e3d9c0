// Package httpserver exposes the audit archive over a read-only HTTP
// API.
package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dsmaudit/dsmaudit/internal/archive"
	"github.com/gin-gonic/gin"
)

// ArchiveStore is the narrow store contract required by the HTTP API.
type ArchiveStore interface {
	RecentLogs(source string, limit int) ([]archive.ArchivedLog, error)
	SeverityCounts() (map[string]int64, error)
	TopUsers(operation string, limit int) ([]archive.UserCount, error)
	Runs(limit int) ([]archive.RunInfo, error)
	TotalRecordCount() (int64, error)
	TableRowCounts() (map[string]int64, error)
	GetSchemaDescription() string
	ExecuteQuery(query string) ([]map[string]any, error)
}

// Server provides an HTTP API for querying the audit archive.
type Server struct {
	addr      string
	store     ArchiveStore
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, store ArchiveStore) *Server {
	if addr == "" {
		addr = "0.0.0.0:9080"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:   addr,
		store:  store,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/schema", s.handleSchema)
	r.GET("/api/logs", s.handleLogs)
	r.GET("/api/severity", s.handleSeverity)
	r.GET("/api/rankings", s.handleRankings)
	r.GET("/api/runs", s.handleRuns)
	r.POST("/api/query", s.handleQuery)

	s.server = &http.Server{
		Handler:           r,
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

// Addr returns the bound listen address. Before Start it returns the
// configured address, which matters when the configuration asks for
// port 0.
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

// limitParam parses the limit query parameter, falling back to def for
// missing, malformed, or non-positive values.
func limitParam(c *gin.Context, def int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	return limit
}

func (s *Server) handleHealth(c *gin.Context) {
	recordCount, err := s.store.TotalRecordCount()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read health metrics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"uptime":       time.Since(s.startTime).String(),
		"record_count": recordCount,
	})
}

func (s *Server) handleSchema(c *gin.Context) {
	description := s.store.GetSchemaDescription()

	tables, err := s.store.ExecuteQuery(
		"SELECT table_name, column_name, data_type FROM information_schema.columns WHERE table_schema = 'main' ORDER BY table_name, ordinal_position",
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read schema metadata"})
		return
	}

	schema := make(map[string][]map[string]string)
	for _, row := range tables {
		tableName := fmt.Sprintf("%v", row["table_name"])
		schema[tableName] = append(schema[tableName], map[string]string{
			"column": fmt.Sprintf("%v", row["column_name"]),
			"type":   fmt.Sprintf("%v", row["data_type"]),
		})
	}

	counts, err := s.store.TableRowCounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read table row counts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"description": description,
		"tables":      schema,
		"row_counts":  counts,
	})
}

func (s *Server) handleLogs(c *gin.Context) {
	source := c.Query("source")
	limit := limitParam(c, 100)

	logs, err := s.store.RecentLogs(source, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read archived logs"})
		return
	}
	if logs == nil {
		logs = []archive.ArchivedLog{}
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":  logs,
		"count": len(logs),
	})
}

func (s *Server) handleSeverity(c *gin.Context) {
	counts, err := s.store.SeverityCounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read severity counts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

func (s *Server) handleRankings(c *gin.Context) {
	operation := c.Query("operation")
	limit := limitParam(c, 10)

	users, err := s.store.TopUsers(operation, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read user rankings"})
		return
	}
	if users == nil {
		users = []archive.UserCount{}
	}

	c.JSON(http.StatusOK, gin.H{
		"operation": operation,
		"users":     users,
	})
}

func (s *Server) handleRuns(c *gin.Context) {
	limit := limitParam(c, 20)

	runs, err := s.store.Runs(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read collection runs"})
		return
	}
	if runs == nil {
		runs = []archive.RunInfo{}
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleQuery(c *gin.Context) {
	var req struct {
		SQL string `json:"sql" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing sql field"})
		return
	}

	results, err := s.store.ExecuteQuery(req.SQL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var columns []string
	if len(results) > 0 {
		for col := range results[0] {
			columns = append(columns, col)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"columns":   columns,
		"rows":      results,
		"row_count": len(results),
	})
}
