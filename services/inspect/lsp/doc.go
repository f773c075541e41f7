// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lsp provides the client side of the Lean language server protocol.
//
// The package talks to `lake serve` over the process's stdin/stdout using
// Content-Length framed JSON-RPC 2.0 messages. It only implements what goal
// tracing needs: the handshake, document open/close, the readiness wait and
// arbitrary request/notification round trips.
//
// # Components
//
//   - Protocol: framing plus request/response correlation over any duplex stream
//   - Server: lifecycle of one external server process (spawn, handshake, terminate)
//
// # Correlation
//
// Every request gets a fresh id starting at 1. A single read loop goroutine
// decodes incoming frames and hands each response to the channel registered
// for its id. Notifications and responses for ids nobody waits on are
// inspected and discarded. When the stream ends, every pending request fails
// with ErrConnectionClosed.
//
// # Example
//
//	srv := lsp.NewServer(lsp.ServerConfig{Command: "lake", Args: []string{"serve"}}, root, logger)
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//	defer srv.Shutdown(context.Background())
//
//	raw, err := srv.Request(ctx, "$/lean/plainGoal", params)
package lsp
