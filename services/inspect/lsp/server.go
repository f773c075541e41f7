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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultShutdownTimeout bounds each phase of a graceful shutdown.
const DefaultShutdownTimeout = 5 * time.Second

// =============================================================================
// SERVER STATE
// =============================================================================

// ServerState tracks one server process from spawn to exit.
type ServerState int

const (
	// ServerStateUninitialized: NewServer returned, nothing spawned yet.
	ServerStateUninitialized ServerState = iota

	// ServerStateStarting: process spawned, handshake in progress.
	ServerStateStarting

	// ServerStateReady: initialized has been sent; requests are accepted.
	ServerStateReady

	// ServerStateStopping: shutdown/exit sent, waiting for the process.
	ServerStateStopping

	// ServerStateStopped: process reaped or never started. Terminal.
	ServerStateStopped
)

var serverStateNames = [...]string{"uninitialized", "starting", "ready", "stopping", "stopped"}

func (s ServerState) String() string {
	if s >= 0 && int(s) < len(serverStateNames) {
		return serverStateNames[s]
	}
	return fmt.Sprintf("ServerState(%d)", int(s))
}

// =============================================================================
// SERVER
// =============================================================================

// ServerConfig describes how to launch the language server.
type ServerConfig struct {
	// Command is the executable, resolved through PATH when not absolute.
	Command string

	// Args are passed to Command (typically ["serve"] for lake).
	Args []string

	// Env entries are appended to the current environment.
	Env []string

	// ShutdownTimeout bounds the shutdown request and the process wait.
	// Zero means DefaultShutdownTimeout.
	ShutdownTimeout time.Duration

	// OnNotification receives server notifications. Optional.
	OnNotification NotificationHandler
}

// Server is one language server process and the connection to it.
//
// Description:
//
//	Owns one external server process: spawns it in its own process group
//	with the workspace root as working directory, runs the initialize
//	handshake and guarantees termination on Shutdown.
//
// Thread Safety:
//
//	Request and Notify may be called concurrently once Start has returned.
type Server struct {
	config   ServerConfig
	rootPath string
	logger   *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	protocol   *Protocol
	initResult InitializeResult

	state   ServerState
	stateMu sync.RWMutex

	group *errgroup.Group
}

// NewServer prepares a server; nothing is spawned until Start.
//
// Inputs:
//
//	config - Launch configuration
//	rootPath - Workspace root; becomes the working directory and rootUri
//	logger - Logger; nil uses slog.Default()
//
// Outputs:
//
//	*Server - The server in ServerStateUninitialized
func NewServer(config ServerConfig, rootPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Server{
		config:   config,
		rootPath: rootPath,
		logger:   logger,
		state:    ServerStateUninitialized,
	}
}

// Start spawns the process and runs the initialize handshake.
//
// Description:
//
//	Starts the server process, wires its pipes to a Protocol and performs
//	the initialize request followed by the initialized notification.
//
// Inputs:
//
//	ctx - Context for the handshake. The process itself outlives ctx.
//
// Outputs:
//
//	error - Spawn or handshake failure; the process is gone afterwards
//
// Errors:
//
//	ErrServerNotInstalled - Command not found on PATH
//	ErrServerAlreadyStarted - Start was already called
//	ErrInitializeFailed - Handshake failed; also wraps the cause, which is
//	                      ErrConnectionClosed when the server exited early
//
// Thread Safety:
//
//	Only the first call spawns anything.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}

	s.stateMu.Lock()
	if s.state != ServerStateUninitialized {
		s.stateMu.Unlock()
		return ErrServerAlreadyStarted
	}
	s.state = ServerStateStarting
	s.stateMu.Unlock()

	ctx, span := startServerSpan(ctx, "Start", s.config.Command)
	defer span.End()

	path, err := exec.LookPath(s.config.Command)
	if err != nil {
		s.setState(ServerStateStopped)
		recordServerSpawn(ctx, s.config.Command, false)
		s.logger.Warn("language server executable not found",
			slog.String("command", s.config.Command),
		)
		return fmt.Errorf("%w: %s", ErrServerNotInstalled, s.config.Command)
	}

	s.logger.Info("spawning language server",
		slog.String("command", path),
		slog.Any("args", s.config.Args),
		slog.String("root", s.rootPath),
	)

	s.cmd = exec.Command(path, s.config.Args...)
	s.cmd.Dir = s.rootPath
	if len(s.config.Env) > 0 {
		s.cmd.Env = append(os.Environ(), s.config.Env...)
	}
	setProcessGroup(s.cmd)

	if s.stdin, err = s.cmd.StdinPipe(); err != nil {
		s.cleanup()
		return fmt.Errorf("open server stdin: %w", err)
	}
	if s.stdout, err = s.cmd.StdoutPipe(); err != nil {
		s.cleanup()
		return fmt.Errorf("open server stdout: %w", err)
	}
	if s.stderr, err = s.cmd.StderrPipe(); err != nil {
		s.cleanup()
		return fmt.Errorf("open server stderr: %w", err)
	}

	if err := s.cmd.Start(); err != nil {
		s.cleanup()
		recordServerSpawn(ctx, s.config.Command, false)
		return fmt.Errorf("spawn %s: %w", path, err)
	}
	recordServerSpawn(ctx, s.config.Command, true)

	s.protocol = NewProtocol(s.stdout, s.stdin, s.logger)
	s.protocol.OnNotification(s.config.OnNotification)

	s.group = new(errgroup.Group)
	s.group.Go(func() error {
		err := s.protocol.ReadLoop(context.Background())
		if errors.Is(err, ErrConnectionClosed) {
			return nil
		}
		return err
	})
	stderr := s.stderr
	s.group.Go(func() error {
		s.drainStderr(stderr)
		return nil
	})

	if err := s.initialize(ctx); err != nil {
		_ = s.Shutdown(context.Background())
		return fmt.Errorf("%w: %w", ErrInitializeFailed, err)
	}

	s.setState(ServerStateReady)
	s.logger.Info("language server ready",
		slog.Int("pid", s.cmd.Process.Pid),
		slog.String("server", s.serverName()),
	)
	return nil
}

// initialize sends initialize, keeps the result, then sends initialized.
func (s *Server) initialize(ctx context.Context) error {
	params := InitializeParams{
		ProcessID:    nil,
		RootURI:      PathToURI(s.rootPath),
		Capabilities: map[string]any{},
	}

	raw, err := s.protocol.Request(ctx, MethodInitialize, params)
	if err != nil {
		return fmt.Errorf("%s: %w", MethodInitialize, err)
	}

	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &s.initResult); err != nil {
			return fmt.Errorf("decode %s result: %w", MethodInitialize, err)
		}
	}

	if err := s.protocol.Notify(MethodInitialized, struct{}{}); err != nil {
		return fmt.Errorf("%s: %w", MethodInitialized, err)
	}
	return nil
}

// drainStderr forwards server diagnostics output to the debug log so the
// pipe never fills and blocks the server.
func (s *Server) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.logger.Debug("lsp stderr", slog.String("line", scanner.Text()))
	}
}

// Shutdown terminates the server.
//
// Description:
//
//	Sends shutdown and exit with a bounded wait, closes stdin, then waits
//	for the process. If it has not exited within the timeout the whole
//	process group is killed. Worker processes left behind by a clean exit
//	are reaped the same way.
//
// Inputs:
//
//	ctx - Context for the shutdown request
//
// Outputs:
//
//	error - Non-nil only if the process could not be killed
//
// Thread Safety:
//
//	Idempotent; concurrent callers after the first return immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.stateMu.Lock()
	if s.state == ServerStateStopped || s.state == ServerStateStopping {
		s.stateMu.Unlock()
		return nil
	}
	s.state = ServerStateStopping
	s.stateMu.Unlock()

	s.logger.Info("stopping language server", slog.String("command", s.config.Command))
	defer s.cleanup()

	if s.protocol != nil && s.protocol.Err() == nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		if _, err := s.protocol.Request(shutdownCtx, MethodShutdown, nil); err != nil {
			s.logger.Debug("shutdown request failed", slog.String("error", err.Error()))
		}
		cancel()
		_ = s.protocol.Notify(MethodExit, nil)
	}
	if s.protocol != nil {
		s.protocol.Close()
	}
	if s.stdin != nil {
		_ = s.stdin.Close()
	}

	var killErr error
	if s.cmd != nil && s.cmd.Process != nil {
		done := make(chan error, 1)
		go func() { done <- s.cmd.Wait() }()

		select {
		case <-time.After(s.config.ShutdownTimeout):
			s.logger.Warn("language server ignored exit, killing its process group",
				slog.Int("pid", s.cmd.Process.Pid),
			)
			killErr = killProcessGroup(s.cmd)
			<-done
		case <-done:
			_ = killProcessGroup(s.cmd)
		}
	}

	if s.group != nil {
		waited := make(chan struct{})
		go func() {
			if err := s.group.Wait(); err != nil {
				s.logger.Debug("lsp read loop ended", slog.String("error", err.Error()))
			}
			close(waited)
		}()
		select {
		case <-waited:
		case <-time.After(time.Second):
		}
	}

	return killErr
}

// cleanup closes stdin and marks the server stopped.
func (s *Server) cleanup() {
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	s.setState(ServerStateStopped)
}

// =============================================================================
// ACCESSORS
// =============================================================================

func (s *Server) State() ServerState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// RootPath is the directory the server runs in.
func (s *Server) RootPath() string {
	return s.rootPath
}

// InitializeResult returns the server's answer to initialize.
// Zero value until Start succeeds.
func (s *Server) InitializeResult() InitializeResult {
	return s.initResult
}

// Done is closed when the connection to the server is lost.
func (s *Server) Done() <-chan struct{} {
	if s.protocol == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.protocol.Done()
}

func (s *Server) serverName() string {
	if s.initResult.ServerInfo == nil {
		return ""
	}
	return s.initResult.ServerInfo.Name
}

// =============================================================================
// REQUEST METHODS
// =============================================================================

// Request sends an LSP request and waits for the raw result.
//
// Outputs:
//
//	json.RawMessage - The result payload
//	error - ErrServerNotRunning, *ProtocolError or ErrConnectionClosed
func (s *Server) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if s.State() != ServerStateReady {
		return nil, ErrServerNotRunning
	}
	return s.protocol.Request(ctx, method, params)
}

// Notify sends a notification once the server is ready.
func (s *Server) Notify(method string, params any) error {
	if s.State() != ServerStateReady {
		return ErrServerNotRunning
	}
	return s.protocol.Notify(method, params)
}

func (s *Server) setState(state ServerState) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}
