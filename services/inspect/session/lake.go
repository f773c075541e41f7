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
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/AleutianAI/leaninspect/services/inspect/lsp"
)

// ResolveLake picks the lake executable: explicit wins, then lake on PATH,
// then the elan default install location.
func ResolveLake(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if path, err := exec.LookPath("lake"); err == nil {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "lake"
	}
	return filepath.Join(home, ".elan", "bin", "lake")
}

// ServerOptions configure the Lean server process.
type ServerOptions struct {
	// Lake is the lake executable. Empty resolves with ResolveLake.
	Lake string

	// Args are passed to lake. Nil means ["serve"].
	Args []string

	// Env entries are appended to the environment.
	Env []string

	// ShutdownTimeout bounds graceful termination.
	ShutdownTimeout time.Duration
}

// NewLakeServer builds (but does not start) a server for root.
// Server notifications are logged at debug level.
func NewLakeServer(opts ServerOptions, root string, logger *slog.Logger) *lsp.Server {
	if logger == nil {
		logger = slog.Default()
	}
	args := opts.Args
	if args == nil {
		args = []string{"serve"}
	}
	return lsp.NewServer(lsp.ServerConfig{
		Command:         ResolveLake(opts.Lake),
		Args:            args,
		Env:             opts.Env,
		ShutdownTimeout: opts.ShutdownTimeout,
		OnNotification: func(method string, params json.RawMessage) {
			logger.Debug("server notification",
				slog.String("method", method),
				slog.Int("bytes", len(params)),
			)
		},
	}, root, logger)
}
