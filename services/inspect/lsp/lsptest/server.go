// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lsptest provides an in-process fake language server for tests.
//
// The fake speaks the same Content-Length framing as a real server over a
// pair of io.Pipes. Tests supply a Handler that answers requests; the fake
// records every message it receives.
package lsptest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/AleutianAI/leaninspect/services/inspect/lsp"
)

var (
	// ErrNoReply makes the fake swallow a request without answering.
	ErrNoReply = errors.New("lsptest: no reply")

	// ErrHangUp makes the fake close its output instead of answering.
	ErrHangUp = errors.New("lsptest: hang up")
)

// Handler answers one request. Returning a *lsp.ResponseError sends it as
// the error member; ErrNoReply and ErrHangUp control the connection.
type Handler func(s *Server, req lsp.Message) (any, error)

// Server is a fake language server.
type Server struct {
	handler Handler

	toServer   *io.PipeReader
	fromClient *io.PipeWriter
	toClient   *io.PipeWriter
	fromServer *io.PipeReader

	writeMu sync.Mutex

	mu       sync.Mutex
	received []lsp.Message
	closed   bool

	done chan struct{}
}

// New starts a fake server. Call Close when done.
func New(handler Handler) *Server {
	if handler == nil {
		handler = NullHandler
	}
	c2sR, c2sW := io.Pipe()
	s2cR, s2cW := io.Pipe()
	s := &Server{
		handler:    handler,
		toServer:   c2sR,
		fromClient: c2sW,
		toClient:   s2cW,
		fromServer: s2cR,
		done:       make(chan struct{}),
	}
	go s.serve()
	return s
}

// NullHandler answers every request with a null result.
func NullHandler(_ *Server, _ lsp.Message) (any, error) {
	return nil, nil
}

// ClientReader is the stream the client reads server output from.
func (s *Server) ClientReader() io.Reader { return s.fromServer }

// ClientWriter is the stream the client writes requests to.
func (s *Server) ClientWriter() io.Writer { return s.fromClient }

// Received returns a copy of every message the fake has decoded so far.
func (s *Server) Received() []lsp.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]lsp.Message, len(s.received))
	copy(out, s.received)
	return out
}

// Methods returns the method of every received message, in order.
func (s *Server) Methods() []string {
	msgs := s.Received()
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Method)
	}
	return out
}

// Count returns how many received messages used method.
func (s *Server) Count(method string) int {
	n := 0
	for _, m := range s.Received() {
		if m.Method == method {
			n++
		}
	}
	return n
}

// Send writes an arbitrary frame to the client.
func (s *Server) Send(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.SendRaw(body)
}

// SendRaw writes body as one frame to the client.
func (s *Server) SendRaw(body []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := fmt.Fprintf(s.toClient, "Content-Length: %d\r\n\r\n%s", len(body), body)
	return err
}

// Notify sends a server notification.
func (s *Server) Notify(method string, params any) error {
	return s.Send(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
}

// HangUp closes the server's output; the client sees EOF.
func (s *Server) HangUp() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	_ = s.toClient.Close()
}

// Close stops the fake and releases both pipes.
func (s *Server) Close() {
	s.HangUp()
	_ = s.toServer.Close()
	_ = s.fromClient.Close()
	<-s.done
}

func (s *Server) serve() {
	defer close(s.done)
	r := bufio.NewReader(s.toServer)
	for {
		body, err := ReadFrame(r)
		if err != nil {
			return
		}
		var msg lsp.Message
		if err := json.Unmarshal(body, &msg); err != nil {
			continue
		}
		s.mu.Lock()
		s.received = append(s.received, msg)
		s.mu.Unlock()

		if msg.Method == "" || len(msg.ID) == 0 {
			continue
		}

		result, herr := s.handler(s, msg)
		switch {
		case errors.Is(herr, ErrNoReply):
			continue
		case errors.Is(herr, ErrHangUp):
			s.HangUp()
			continue
		}

		reply := map[string]any{"jsonrpc": "2.0", "id": msg.ID}
		var rerr *lsp.ResponseError
		switch {
		case errors.As(herr, &rerr):
			reply["error"] = rerr
		case herr != nil:
			reply["error"] = &lsp.ResponseError{Code: -32603, Message: herr.Error()}
		default:
			reply["result"] = result
		}
		if err := s.Send(reply); err != nil {
			return
		}
	}
}

// ReadFrame reads one Content-Length framed body.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	length := -1
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(key), "Content-Length") {
			length, err = strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, err
			}
		}
	}
	if length < 0 {
		return nil, errors.New("lsptest: missing Content-Length")
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return bytes.TrimSpace(body), nil
}

// Frame renders v the way a server would put it on the wire.
func Frame(v any) string {
	body, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
}
