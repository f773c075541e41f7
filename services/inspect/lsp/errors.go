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
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors for LSP operations.
var (
	// ErrConnectionClosed indicates the server's output stream ended (or became
	// unreadable) before a matching response arrived. Fatal for the session.
	ErrConnectionClosed = errors.New("lsp connection closed")

	// ErrMalformedFrame indicates an incoming frame violated the base protocol framing.
	ErrMalformedFrame = errors.New("malformed lsp frame")

	// ErrServerNotRunning indicates the LSP server is not in a ready state.
	ErrServerNotRunning = errors.New("lsp server not running")

	// ErrServerNotInstalled indicates the LSP server binary was not found.
	ErrServerNotInstalled = errors.New("lsp server not installed")

	// ErrInitializeFailed indicates the LSP initialize handshake failed.
	ErrInitializeFailed = errors.New("lsp initialize failed")

	// ErrServerAlreadyStarted indicates Start was called on an already running server.
	ErrServerAlreadyStarted = errors.New("server already started")
)

// ProtocolError is the error object a server returned for a request.
//
// Codes follow JSON-RPC plus the LSP additions:
//   - -32700: Parse error
//   - -32601: Method not found
//   - -32602: Invalid params
//   - -32603: Internal error
//   - -32802: Server not initialized
//   - -32800: Request cancelled
//   - -32801: Content modified
type ProtocolError struct {
	// Method is the request method that failed.
	Method string

	// Code is the JSON-RPC error code.
	Code int

	// Message is the error message from the server.
	Message string

	// Data is the optional payload, kept verbatim.
	Data json.RawMessage
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("lsp error %d on %s: %s (data: %s)", e.Code, e.Method, e.Message, e.Data)
	}
	return fmt.Sprintf("lsp error %d on %s: %s", e.Code, e.Method, e.Message)
}

// IsMethodNotFound returns true if the method is not supported by the server.
func (e *ProtocolError) IsMethodNotFound() bool {
	return e.Code == -32601
}

// IsContentModified returns true if the server dropped the request because
// the document changed underneath it.
func (e *ProtocolError) IsContentModified() bool {
	return e.Code == -32801
}

// IsRequestCancelled returns true if the request was cancelled.
func (e *ProtocolError) IsRequestCancelled() bool {
	return e.Code == -32800
}

// IsServerNotInitialized returns true if the server is not initialized.
func (e *ProtocolError) IsServerNotInitialized() bool {
	return e.Code == -32802
}
