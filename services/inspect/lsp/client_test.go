// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/leaninspect/services/inspect/lsp"
	"github.com/AleutianAI/leaninspect/services/inspect/lsp/lsptest"
)

// connect wires a Protocol to a fake server and starts the read loop.
func connect(t *testing.T, handler lsptest.Handler) (*lsp.Protocol, *lsptest.Server) {
	t.Helper()
	fake := lsptest.New(handler)
	p := lsp.NewProtocol(fake.ClientReader(), fake.ClientWriter(), nil)
	go func() { _ = p.ReadLoop(context.Background()) }()
	t.Cleanup(fake.Close)
	return p, fake
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestProtocol_RequestIDs(t *testing.T) {
	p, fake := connect(t, lsptest.NullHandler)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := p.Request(ctx, lsp.MethodPlainGoal, nil); err != nil {
			t.Fatalf("Request %d: %v", i, err)
		}
	}

	msgs := fake.Received()
	if len(msgs) != 3 {
		t.Fatalf("received %d messages, want 3", len(msgs))
	}
	for i, m := range msgs {
		want := []string{"1", "2", "3"}[i]
		if string(m.ID) != want {
			t.Errorf("message %d id = %s, want %s", i, m.ID, want)
		}
	}
}

func TestProtocol_SkipsUnrelatedMessages(t *testing.T) {
	var mu sync.Mutex
	var notes []string

	handler := func(s *lsptest.Server, req lsp.Message) (any, error) {
		_ = s.Notify(lsp.MethodFileProgress, map[string]any{"processing": []any{}})
		_ = s.Send(map[string]any{"jsonrpc": "2.0", "id": 999, "result": "stale"})
		_ = s.Send(map[string]any{"jsonrpc": "2.0", "id": "text-id", "result": "odd"})
		return map[string]any{"rendered": "⊢ 1 = 1"}, nil
	}

	fake := lsptest.New(handler)
	t.Cleanup(fake.Close)
	p := lsp.NewProtocol(fake.ClientReader(), fake.ClientWriter(), nil)
	p.OnNotification(func(method string, _ json.RawMessage) {
		mu.Lock()
		notes = append(notes, method)
		mu.Unlock()
	})
	go func() { _ = p.ReadLoop(context.Background()) }()

	raw, err := p.Request(context.Background(), lsp.MethodPlainGoal, nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if string(raw) != `{"rendered":"⊢ 1 = 1"}` {
		t.Errorf("result = %s", raw)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(notes) != 1 || notes[0] != lsp.MethodFileProgress {
		t.Errorf("notifications = %v", notes)
	}
}

func TestProtocol_AnswersServerRequests(t *testing.T) {
	first := true
	handler := func(s *lsptest.Server, req lsp.Message) (any, error) {
		if first {
			first = false
			_ = s.Send(map[string]any{"jsonrpc": "2.0", "id": "cfg-1", "method": "workspace/configuration", "params": map[string]any{}})
		}
		return nil, nil
	}
	p, fake := connect(t, handler)

	if _, err := p.Request(context.Background(), lsp.MethodInitialize, lsp.InitializeParams{Capabilities: map[string]any{}}); err != nil {
		t.Fatalf("Request: %v", err)
	}

	waitFor(t, func() bool {
		for _, m := range fake.Received() {
			if string(m.ID) == `"cfg-1"` && m.Method == "" && m.Error == nil {
				return true
			}
		}
		return false
	})
}

func TestProtocol_ErrorResponse(t *testing.T) {
	handler := func(s *lsptest.Server, req lsp.Message) (any, error) {
		return nil, &lsp.ResponseError{Code: -32801, Message: "content modified"}
	}
	p, _ := connect(t, handler)

	_, err := p.Request(context.Background(), lsp.MethodPlainGoal, nil)
	var perr *lsp.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProtocolError, got %v", err)
	}
	if !perr.IsContentModified() {
		t.Errorf("code = %d", perr.Code)
	}
}

func TestProtocol_HangUp(t *testing.T) {
	handler := func(s *lsptest.Server, req lsp.Message) (any, error) {
		return nil, lsptest.ErrHangUp
	}
	p, _ := connect(t, handler)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := p.Request(ctx, lsp.MethodInitialize, nil)
	if !errors.Is(err, lsp.ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
	if _, err := p.Request(ctx, lsp.MethodShutdown, nil); !errors.Is(err, lsp.ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed for later request, got %v", err)
	}
}

func TestServer_StartMissingBinary(t *testing.T) {
	srv := lsp.NewServer(lsp.ServerConfig{Command: "definitely-not-a-lean-server-binary"}, t.TempDir(), nil)

	err := srv.Start(context.Background())
	if !errors.Is(err, lsp.ErrServerNotInstalled) {
		t.Fatalf("expected ErrServerNotInstalled, got %v", err)
	}
	if srv.State() != lsp.ServerStateStopped {
		t.Errorf("state = %s, want stopped", srv.State())
	}
	if _, err := srv.Request(context.Background(), lsp.MethodPlainGoal, nil); !errors.Is(err, lsp.ErrServerNotRunning) {
		t.Errorf("expected ErrServerNotRunning, got %v", err)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown after failed start: %v", err)
	}
}
