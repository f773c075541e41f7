// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"
)

// hookWriter calls onWrite with every frame the protocol writes.
type hookWriter struct {
	onWrite func(frame []byte)
}

func (h *hookWriter) Write(p []byte) (int, error) {
	frame := make([]byte, len(p))
	copy(frame, p)
	if h.onWrite != nil {
		h.onWrite(frame)
	}
	return len(p), nil
}

func frame(body string) string {
	return fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
}

func TestProtocol_Send(t *testing.T) {
	t.Run("writes exact framed bytes", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProtocol(nil, &buf, nil)

		req := Request{JSONRPC: JSONRPCVersion, ID: 1, Method: MethodInitialize, Params: map[string]any{}}
		if err := p.Send(req); err != nil {
			t.Fatalf("Send: %v", err)
		}

		want := frame(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
		if buf.String() != want {
			t.Errorf("frame = %q, want %q", buf.String(), want)
		}
	})

	t.Run("does not escape html characters", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProtocol(nil, &buf, nil)

		if err := p.Notify("test", map[string]string{"text": "a <b> & c"}); err != nil {
			t.Fatalf("Notify: %v", err)
		}

		want := frame(`{"jsonrpc":"2.0","method":"test","params":{"text":"a <b> & c"}}`)
		if buf.String() != want {
			t.Errorf("frame = %q, want %q", buf.String(), want)
		}
	})

	t.Run("counts bytes not runes", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProtocol(nil, &buf, nil)

		if err := p.Notify("test", map[string]string{"text": "⊢ α"}); err != nil {
			t.Fatalf("Notify: %v", err)
		}

		body := `{"jsonrpc":"2.0","method":"test","params":{"text":"⊢ α"}}`
		if !strings.HasPrefix(buf.String(), fmt.Sprintf("Content-Length: %d\r\n", len(body))) {
			t.Errorf("unexpected header in %q", buf.String())
		}
	})

	t.Run("omits params when nil", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProtocol(nil, &buf, nil)

		if err := p.Notify(MethodExit, nil); err != nil {
			t.Fatalf("Notify: %v", err)
		}
		if want := frame(`{"jsonrpc":"2.0","method":"exit"}`); buf.String() != want {
			t.Errorf("frame = %q, want %q", buf.String(), want)
		}
	})
}

func TestProtocol_ReadMessage(t *testing.T) {
	t.Run("reads body by content length", func(t *testing.T) {
		body := `{"jsonrpc":"2.0","id":1,"result":null}`
		p := NewProtocol(strings.NewReader(frame(body)), io.Discard, nil)

		got, err := p.readMessage()
		if err != nil {
			t.Fatalf("readMessage: %v", err)
		}
		if string(got) != body {
			t.Errorf("body = %q, want %q", got, body)
		}
	})

	t.Run("header names are case insensitive", func(t *testing.T) {
		body := `{"jsonrpc":"2.0","id":1,"result":{}}`
		input := fmt.Sprintf("content-length: %d\r\nContent-Type: application/vscode-jsonrpc; charset=utf-8\r\n\r\n%s", len(body), body)
		p := NewProtocol(strings.NewReader(input), io.Discard, nil)

		got, err := p.readMessage()
		if err != nil {
			t.Fatalf("readMessage: %v", err)
		}
		if string(got) != body {
			t.Errorf("body = %q, want %q", got, body)
		}
	})

	t.Run("reads consecutive frames", func(t *testing.T) {
		a := `{"jsonrpc":"2.0","id":1,"result":1}`
		b := `{"jsonrpc":"2.0","id":2,"result":2}`
		p := NewProtocol(strings.NewReader(frame(a)+frame(b)), io.Discard, nil)

		for _, want := range []string{a, b} {
			got, err := p.readMessage()
			if err != nil {
				t.Fatalf("readMessage: %v", err)
			}
			if string(got) != want {
				t.Errorf("body = %q, want %q", got, want)
			}
		}
		if _, err := p.readMessage(); !errors.Is(err, io.EOF) {
			t.Errorf("expected io.EOF after last frame, got %v", err)
		}
	})

	t.Run("missing content length is malformed", func(t *testing.T) {
		p := NewProtocol(strings.NewReader("\r\n{}"), io.Discard, nil)

		_, err := p.readMessage()
		if !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("expected ErrMalformedFrame, got %v", err)
		}
	})

	t.Run("invalid content length is malformed", func(t *testing.T) {
		p := NewProtocol(strings.NewReader("Content-Length: abc\r\n\r\n"), io.Discard, nil)

		_, err := p.readMessage()
		if !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("expected ErrMalformedFrame, got %v", err)
		}
	})

	t.Run("truncated body is unexpected eof", func(t *testing.T) {
		p := NewProtocol(strings.NewReader("Content-Length: 100\r\n\r\n{}"), io.Discard, nil)

		_, err := p.readMessage()
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
		}
	})
}

func TestProtocol_ReadLoop(t *testing.T) {
	t.Run("eof fails pending and future requests", func(t *testing.T) {
		pr, pw := io.Pipe()
		w := &hookWriter{onWrite: func([]byte) {
			go pw.Close()
		}}
		p := NewProtocol(pr, w, nil)

		loopErr := make(chan error, 1)
		go func() { loopErr <- p.ReadLoop(context.Background()) }()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_, err := p.Request(ctx, MethodPlainGoal, nil)
		if !errors.Is(err, ErrConnectionClosed) {
			t.Fatalf("expected ErrConnectionClosed, got %v", err)
		}
		if err := <-loopErr; !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("ReadLoop returned %v", err)
		}

		_, err = p.Request(ctx, MethodPlainGoal, nil)
		if !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("expected ErrConnectionClosed for later request, got %v", err)
		}
		if err := p.Notify(MethodExit, nil); !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("expected ErrConnectionClosed for notify, got %v", err)
		}
	})

	t.Run("malformed frame closes connection", func(t *testing.T) {
		p := NewProtocol(strings.NewReader("Bogus\r\n\r\n"), io.Discard, nil)

		err := p.ReadLoop(context.Background())
		if !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("expected ErrConnectionClosed, got %v", err)
		}
		if !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("expected ErrMalformedFrame, got %v", err)
		}
		if p.Err() == nil {
			t.Error("expected Err() to report the close")
		}
	})

	t.Run("response arriving just before eof is delivered", func(t *testing.T) {
		pr, pw := io.Pipe()
		w := &hookWriter{onWrite: func([]byte) {
			go func() {
				_, _ = io.WriteString(pw, frame(`{"jsonrpc":"2.0","id":1,"result":{"rendered":"⊢ True"}}`))
				_ = pw.Close()
			}()
		}}
		p := NewProtocol(pr, w, nil)
		go func() { _ = p.ReadLoop(context.Background()) }()

		raw, err := p.Request(context.Background(), MethodPlainGoal, nil)
		if err != nil {
			t.Fatalf("Request: %v", err)
		}
		var result struct {
			Rendered string `json:"rendered"`
		}
		if err := json.Unmarshal(raw, &result); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if result.Rendered != "⊢ True" {
			t.Errorf("rendered = %q", result.Rendered)
		}
	})

	t.Run("server error becomes ProtocolError", func(t *testing.T) {
		pr, pw := io.Pipe()
		w := &hookWriter{onWrite: func([]byte) {
			go func() {
				_, _ = io.WriteString(pw, frame(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"unknown method"}}`))
			}()
		}}
		p := NewProtocol(pr, w, nil)
		go func() { _ = p.ReadLoop(context.Background()) }()
		defer pw.Close()

		_, err := p.Request(context.Background(), "foo/bar", nil)
		var perr *ProtocolError
		if !errors.As(err, &perr) {
			t.Fatalf("expected *ProtocolError, got %v", err)
		}
		if !perr.IsMethodNotFound() {
			t.Errorf("code = %d, want -32601", perr.Code)
		}
		if perr.Method != "foo/bar" {
			t.Errorf("method = %q", perr.Method)
		}
	})

	t.Run("context cancellation releases the caller", func(t *testing.T) {
		pr, pw := io.Pipe()
		defer pw.Close()
		p := NewProtocol(pr, io.Discard, nil)
		go func() { _ = p.ReadLoop(context.Background()) }()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := p.Request(ctx, MethodPlainGoal, nil)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected DeadlineExceeded, got %v", err)
		}
		if p.Err() != nil {
			t.Errorf("connection should stay open, got %v", p.Err())
		}
	})
}

func TestProtocol_Close(t *testing.T) {
	p := NewProtocol(nil, io.Discard, nil)
	p.Close()
	p.Close()

	select {
	case <-p.Done():
	default:
		t.Fatal("Done not closed")
	}
	if _, err := p.Request(context.Background(), MethodShutdown, nil); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestProtocolError_Error(t *testing.T) {
	t.Run("without data", func(t *testing.T) {
		err := &ProtocolError{Method: MethodPlainGoal, Code: -32801, Message: "content modified"}
		want := "lsp error -32801 on $/lean/plainGoal: content modified"
		if err.Error() != want {
			t.Errorf("Error() = %q, want %q", err.Error(), want)
		}
		if !err.IsContentModified() {
			t.Error("expected IsContentModified")
		}
	})

	t.Run("with data", func(t *testing.T) {
		err := &ProtocolError{Method: "m", Code: -32603, Message: "boom", Data: json.RawMessage(`{"x":1}`)}
		if !strings.Contains(err.Error(), `(data: {"x":1})`) {
			t.Errorf("Error() = %q", err.Error())
		}
	})
}

func TestServerState_String(t *testing.T) {
	tests := []struct {
		state ServerState
		want  string
	}{
		{ServerStateUninitialized, "uninitialized"},
		{ServerStateStarting, "starting"},
		{ServerStateReady, "ready"},
		{ServerStateStopping, "stopping"},
		{ServerStateStopped, "stopped"},
		{ServerState(99), "ServerState(99)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("ServerState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestPathToURI(t *testing.T) {
	uri := PathToURI("/tmp/My Proofs/Main.lean")
	if uri != "file:///tmp/My%20Proofs/Main.lean" {
		t.Errorf("PathToURI = %q", uri)
	}
}
