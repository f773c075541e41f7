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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/leaninspect/services/inspect/trace"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	src := t.TempDir()
	out := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "Demo.lean"),
		[]byte("theorem t : True := trivial\n\nby  simp  ok\n"), 0o644))
	require.NoError(t, trace.WriteFile(filepath.Join(out, "Demo.trace.json"), demoTrace()))
	require.NoError(t, trace.WriteFile(filepath.Join(out, "Sub", "B.trace.json"), demoTrace()))
	require.NoError(t, os.WriteFile(filepath.Join(out, "notes.txt"), []byte("x"), 0o644))

	srv, err := NewServer(ServerConfig{
		Dir:            out,
		SourceRoot:     src,
		MetricsHandler: http.NotFoundHandler(),
	})
	require.NoError(t, err)
	return srv, out
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(ServerConfig{Dir: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)

	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, nil, 0o644))
	_, err = NewServer(ServerConfig{Dir: f})
	assert.Error(t, err)
}

func TestServer_List(t *testing.T) {
	srv, _ := newTestServer(t)
	list, err := srv.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"Demo.trace.json", "Sub/B.trace.json"}, list)
}

func TestServer_Resolve(t *testing.T) {
	srv, out := newTestServer(t)

	p, err := srv.Resolve("/Sub/B.trace.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "Sub", "B.trace.json"), p)

	for _, bad := range []string{"", "/", "../x.trace.json", "Sub/../../x.trace.json", "Demo.lean"} {
		_, err := srv.Resolve(bad)
		assert.ErrorIs(t, err, ErrInvalidPath, bad)
	}
}

func TestServer_Routes(t *testing.T) {
	srv, out := newTestServer(t)
	h := srv.Handler()

	t.Run("healthz", func(t *testing.T) {
		w := get(t, h, "/healthz")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("index lists traces", func(t *testing.T) {
		w := get(t, h, "/")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `href="/trace/Demo.trace.json"`)
		assert.Contains(t, w.Body.String(), `href="/trace/Sub/B.trace.json"`)
		assert.NotContains(t, w.Body.String(), "notes.txt")
	})

	t.Run("page", func(t *testing.T) {
		w := get(t, h, "/trace/Demo.trace.json")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, w.Body.String(), "theorem t")

		// Served from cache on the second request.
		w = get(t, h, "/trace/Demo.trace.json")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("trace json", func(t *testing.T) {
		w := get(t, h, "/api/trace/Demo.trace.json")
		require.Equal(t, http.StatusOK, w.Code)
		var got trace.Trace
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, demoTrace().UniqueStates, got.UniqueStates)
	})

	t.Run("goal lookup", func(t *testing.T) {
		w := get(t, h, "/api/goal?path=Demo.trace.json&line=2&col=3")
		require.Equal(t, http.StatusOK, w.Code)
		var resp GoalResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Found)
		assert.False(t, resp.Fallback)
		assert.Equal(t, "bbbb", resp.Hash)
		assert.Equal(t, demoTrace().UniqueStates["bbbb"], resp.Goal)

		w = get(t, h, "/api/goal?path=Demo.trace.json&line=1&col=0")
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Fallback)
		assert.Equal(t, "aaaa", resp.Hash)
	})

	t.Run("errors", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/goal?path=Demo.trace.json&line=x&col=0").Code)
		assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/goal?path=../Demo.trace.json&line=0&col=0").Code)
		assert.Equal(t, http.StatusNotFound, get(t, h, "/api/trace/Nope.trace.json").Code)

		w := get(t, h, "/api/trace/notes.txt")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "INVALID_PATH", resp.Code)
	})

	t.Run("invalid trace", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(out, "Bad.trace.json"), []byte("{"), 0o644))
		assert.Equal(t, http.StatusUnprocessableEntity, get(t, h, "/api/trace/Bad.trace.json").Code)
	})

	t.Run("reloads changed file", func(t *testing.T) {
		tr := demoTrace()
		tr.UniqueStates["cccc"] = "new"
		tr.Occurrences = append(tr.Occurrences, occ("cccc", 3, 0, 1))
		require.NoError(t, trace.WriteFile(filepath.Join(out, "Demo.trace.json"), tr))

		w := get(t, h, "/api/trace/Demo.trace.json")
		var got trace.Trace
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Contains(t, got.UniqueStates, "cccc")
	})
}
