// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package viewer

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/leaninspect/services/inspect/trace"
)

// TraceSuffix is the file suffix of trace JSON files.
const TraceSuffix = ".trace.json"

// DefaultCacheSize is the number of rendered traces kept in memory.
const DefaultCacheSize = 64

var (
	// ErrInvalidPath indicates a requested trace path escapes the served
	// directory or does not name a trace file.
	ErrInvalidPath = errors.New("invalid trace path")

	// ErrTraceNotFound indicates the requested trace file does not exist.
	ErrTraceNotFound = errors.New("trace not found")
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code.
	Code string `json:"code,omitempty"`
}

// GoalResponse answers a goal lookup.
type GoalResponse struct {
	Line     int    `json:"line"`
	Col      int    `json:"col"`
	Found    bool   `json:"found"`
	Fallback bool   `json:"fallback"`
	Hash     string `json:"hash,omitempty"`
	ColStart int    `json:"col_start,omitempty"`
	ColEnd   int    `json:"col_end,omitempty"`
	OccLine  int    `json:"occurrence_line,omitempty"`
	Goal     string `json:"goal,omitempty"`
}

// ServerConfig configures the trace browser.
type ServerConfig struct {
	// Dir is the directory holding *.trace.json files.
	Dir string

	// SourceRoot resolves relative source paths named by traces.
	// Empty means the current directory.
	SourceRoot string

	// CacheSize bounds the rendered-page cache. Zero means DefaultCacheSize.
	CacheSize int

	// MetricsHandler serves /metrics. Nil uses the default Prometheus registry.
	MetricsHandler http.Handler

	// ServiceName names the otel instrumentation. Empty means "leaninspect-viewer".
	ServiceName string

	Logger *slog.Logger
}

// loaded is one trace file as read from disk, with its rendering.
type loaded struct {
	modTime time.Time
	size    int64
	trace   *trace.Trace
	index   *Index
	page    []byte
}

// Server serves a directory of traces as viewer pages and JSON.
//
// Thread Safety: safe for concurrent use.
type Server struct {
	cfg    ServerConfig
	logger *slog.Logger
	cache  *lru.Cache[string, *loaded]
	mu     sync.Mutex
}

// NewServer validates cfg and creates the server.
func NewServer(cfg ServerConfig) (*Server, error) {
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("trace dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("trace dir %s is not a directory", cfg.Dir)
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "leaninspect-viewer"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cache, err := lru.New[string, *loaded](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create page cache: %w", err)
	}
	return &Server{cfg: cfg, logger: cfg.Logger, cache: cache}, nil
}

// Handler builds the gin engine with all routes registered.
func (s *Server) Handler() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(s.cfg.ServiceName))

	metrics := s.cfg.MetricsHandler
	if metrics == nil {
		metrics = promhttp.Handler()
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics))
	router.GET("/", s.handleIndex)
	router.GET("/trace/*path", s.handlePage)
	router.GET("/api/trace/*path", s.handleTrace)
	router.GET("/api/goal", s.handleGoal)
	return router
}

// =============================================================================
// HANDLERS
// =============================================================================

var indexTemplate = template.Must(template.New("index").Parse(`<!doctype html>
<html><head><meta charset="utf-8" /><title>Lean goal traces</title>
<style>body{font-family:ui-sans-serif,system-ui,sans-serif;margin:2em}li{margin:.2em 0}code{color:#6b7280}</style>
</head><body>
<h1>Lean goal traces</h1>
{{if .}}<ul>{{range .}}<li><a href="/trace/{{.}}">{{.}}</a> <code><a href="/api/trace/{{.}}">json</a></code></li>{{end}}</ul>{{else}}<p>No traces found.</p>{{end}}
</body></html>
`))

func (s *Server) handleIndex(c *gin.Context) {
	traces, err := s.List()
	if err != nil {
		s.logger.Error("List traces failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "LIST_FAILED"})
		return
	}
	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, traces); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "RENDER_FAILED"})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) handlePage(c *gin.Context) {
	l, ok := s.load(c, c.Param("path"))
	if !ok {
		return
	}
	page, err := s.page(l)
	if err != nil {
		s.logger.Warn("Render trace failed", "path", c.Param("path"), "error", err)
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: "RENDER_FAILED"})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

func (s *Server) handleTrace(c *gin.Context) {
	l, ok := s.load(c, c.Param("path"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, l.trace)
}

func (s *Server) handleGoal(c *gin.Context) {
	line, errLine := strconv.Atoi(c.Query("line"))
	col, errCol := strconv.Atoi(c.Query("col"))
	if errLine != nil || errCol != nil || line < 0 || col < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "line and col must be non-negative integers",
			Code:  "INVALID_POSITION",
		})
		return
	}
	l, ok := s.load(c, c.Query("path"))
	if !ok {
		return
	}

	resp := GoalResponse{Line: line, Col: col}
	occ, fallback, found := l.index.Lookup(line, col)
	if found {
		resp.Found = true
		resp.Fallback = fallback
		resp.Hash = occ.Hash
		resp.OccLine = occ.Line
		resp.ColStart = occ.ColStart
		resp.ColEnd = occ.ColEnd
		resp.Goal = l.trace.UniqueStates[occ.Hash]
	}
	c.JSON(http.StatusOK, resp)
}

// =============================================================================
// LOADING
// =============================================================================

// List returns the slash-separated paths of all traces under Dir, sorted.
func (s *Server) List() ([]string, error) {
	var out []string
	err := filepath.WalkDir(s.cfg.Dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), TraceSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.cfg.Dir, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", s.cfg.Dir, err)
	}
	sort.Strings(out)
	return out, nil
}

// Resolve maps a request path to a trace file under Dir.
func (s *Server) Resolve(rel string) (string, error) {
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" || !strings.HasSuffix(rel, TraceSuffix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	clean := path.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, "../") || path.IsAbs(clean) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	return filepath.Join(s.cfg.Dir, filepath.FromSlash(clean)), nil
}

// load resolves and reads a trace, writing the error response on failure.
func (s *Server) load(c *gin.Context, rel string) (*loaded, bool) {
	l, err := s.get(rel)
	if err == nil {
		return l, true
	}
	switch {
	case errors.Is(err, ErrInvalidPath):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_PATH"})
	case errors.Is(err, ErrTraceNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
	case errors.Is(err, trace.ErrInvalidTrace):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: "INVALID_TRACE"})
	default:
		s.logger.Error("Load trace failed", "path", rel, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "LOAD_FAILED"})
	}
	return nil, false
}

// get returns the cached trace for rel, reloading it when the file changed.
func (s *Server) get(rel string) (*loaded, error) {
	p, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTraceNotFound, rel)
		}
		return nil, fmt.Errorf("stat %s: %w", rel, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.cache.Get(p); ok && l.modTime.Equal(info.ModTime()) && l.size == info.Size() {
		return l, nil
	}
	t, err := trace.ReadFile(p)
	if err != nil {
		return nil, err
	}
	l := &loaded{modTime: info.ModTime(), size: info.Size(), trace: t, index: NewIndex(t)}
	s.cache.Add(p, l)
	return l, nil
}

// page returns the rendered viewer for l, rendering it on first use.
func (s *Server) page(l *loaded) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.page != nil {
		return l.page, nil
	}
	page, err := s.render(l)
	if err != nil {
		return nil, err
	}
	l.page = page
	return page, nil
}

func (s *Server) render(l *loaded) ([]byte, error) {
	source, err := os.ReadFile(resolveSource(l.trace.File, s.cfg.SourceRoot))
	if err != nil {
		return nil, fmt.Errorf("read source %s: %w", l.trace.File, err)
	}
	var buf bytes.Buffer
	if err := Render(&buf, l.trace, string(source)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
