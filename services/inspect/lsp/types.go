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
	"net/url"
	"path/filepath"
)

// Method names used by the goal tracer.
const (
	MethodInitialize         = "initialize"
	MethodInitialized        = "initialized"
	MethodShutdown           = "shutdown"
	MethodExit               = "exit"
	MethodDidOpen            = "textDocument/didOpen"
	MethodDidClose           = "textDocument/didClose"
	MethodWaitForDiagnostics = "textDocument/waitForDiagnostics"
	MethodPlainGoal          = "$/lean/plainGoal"
	MethodFileProgress       = "$/lean/fileProgress"
	MethodPublishDiagnostics = "textDocument/publishDiagnostics"
)

// LanguageLean is the languageId sent with didOpen.
const LanguageLean = "lean"

// =============================================================================
// POSITION & DOCUMENT TYPES
// =============================================================================

// Position represents a position in a text document.
// Line and character are 0-indexed; character counts UTF-16 code units.
type Position struct {
	// Line is the 0-indexed line number.
	Line int `json:"line"`

	// Character is the 0-indexed UTF-16 offset within the line.
	Character int `json:"character"`
}

// TextDocumentIdentifier identifies a text document by URI.
type TextDocumentIdentifier struct {
	URI string `json:"uri"`
}

// TextDocumentItem represents a text document with its content.
type TextDocumentItem struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int    `json:"version"`
	Text       string `json:"text"`
}

// TextDocumentPositionParams identifies a position in a text document.
type TextDocumentPositionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

// DidOpenTextDocumentParams contains params for textDocument/didOpen.
type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// DidCloseTextDocumentParams contains params for textDocument/didClose.
type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// WaitForDiagnosticsParams asks the Lean server to answer once elaboration
// of the given document version has caught up.
type WaitForDiagnosticsParams struct {
	URI     string `json:"uri"`
	Version int    `json:"version"`
}

// =============================================================================
// INITIALIZE
// =============================================================================

// InitializeParams contains the initialize request parameters.
//
// ProcessID is deliberately a pointer so it serializes as null: the server
// must not tie its lifetime to ours, since termination is driven explicitly.
type InitializeParams struct {
	ProcessID    *int           `json:"processId"`
	RootURI      string         `json:"rootUri"`
	Capabilities map[string]any `json:"capabilities"`
}

// InitializeResult contains the server's initialize response.
type InitializeResult struct {
	Capabilities json.RawMessage `json:"capabilities"`
	ServerInfo   *ServerInfo     `json:"serverInfo,omitempty"`
}

// ServerInfo identifies the server implementation.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// PathToURI converts a filesystem path into a file:// URI.
//
// The path is made absolute and percent-escaped per segment, so spaces and
// non-ASCII names survive the round trip through the server.
func PathToURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String()
}
