// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/leaninspect/services/inspect/lsp"
)

// DocumentVersion is the version sent with didOpen and the readiness wait.
const DocumentVersion = 1

var (
	// ErrInvalidState indicates an operation not allowed in the current state.
	ErrInvalidState = errors.New("invalid session state")

	// ErrDocumentOpen indicates an attempt to open a second document.
	ErrDocumentOpen = errors.New("a document is already open")
)

// =============================================================================
// STATE
// =============================================================================

// State is the lifecycle state of a Session.
type State int

const (
	StateNotStarted State = iota
	StateInitialized
	StateDocumentOpen
	StateDocumentClosed
	StateTerminated
)

// String returns a human-readable state name.
func (s State) String() string {
	names := []string{"not_started", "initialized", "document_open", "document_closed", "terminated"}
	if int(s) >= 0 && int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is the server connection a Session drives. *lsp.Server
// implements it.
type Client interface {
	Start(ctx context.Context) error
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
	Notify(method string, params any) error
	Shutdown(ctx context.Context) error
	InitializeResult() lsp.InitializeResult
}

// =============================================================================
// SESSION
// =============================================================================

// Session is one handshake-to-termination lifetime of a server.
//
// Thread Safety:
//
//	State transitions are guarded, but a Session is meant to be driven by
//	one goroutine: goal queries are issued strictly one at a time.
type Session struct {
	client Client
	root   string
	logger *slog.Logger

	mu    sync.Mutex
	state State
	open  *Document
}

// New creates a session over client. Nothing is started.
//
// Inputs:
//
//	client - The server connection
//	root - Project root; the server runs there and it becomes rootUri
//	logger - Logger; nil uses slog.Default()
func New(client Client, root string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{client: client, root: root, logger: logger}
}

// Root returns the project root.
func (s *Session) Root() string { return s.root }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// InitializeResult returns the server's answer to initialize.
func (s *Session) InitializeResult() lsp.InitializeResult {
	return s.client.InitializeResult()
}

// Start spawns the server and completes the handshake.
//
// Errors:
//
//	ErrInvalidState - Start was already called
//	lsp.ErrServerNotInstalled, lsp.ErrInitializeFailed - from the client
func (s *Session) Start(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Session.Start")
	defer span.End()

	if err := s.transition(StateNotStarted, StateInitialized); err != nil {
		return err
	}
	if err := s.client.Start(ctx); err != nil {
		s.setState(StateTerminated)
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Debug("session initialized", slog.String("root", s.root))
	return nil
}

// Terminate shuts the server down. Safe to call in any state, any number
// of times; only the first call does anything.
func (s *Session) Terminate(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return nil
	}
	s.state = StateTerminated
	s.open = nil
	s.mu.Unlock()

	if err := s.client.Shutdown(ctx); err != nil {
		return fmt.Errorf("terminate server: %w", err)
	}
	return nil
}

// With starts a session, runs fn and terminates the session on every exit
// path, including a panic in fn.
//
// Outputs:
//
//	error - The first of: start error, fn error, terminate error
func With(ctx context.Context, client Client, root string, logger *slog.Logger, fn func(*Session) error) (err error) {
	s := New(client, root, logger)
	defer func() {
		// Terminate must run even when ctx is already cancelled.
		termErr := s.Terminate(context.WithoutCancel(ctx))
		if err == nil {
			err = termErr
		} else if termErr != nil {
			s.logger.Warn("terminate after failure", slog.String("error", termErr.Error()))
		}
	}()

	if err := s.Start(ctx); err != nil {
		return err
	}
	return fn(s)
}

func (s *Session) transition(from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return fmt.Errorf("%w: %s -> %s from %s", ErrInvalidState, from, to, s.state)
	}
	s.state = to
	return nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
