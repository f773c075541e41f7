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
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/leaninspect/services/inspect/lsp"
)

// Document is a file open on the server.
type Document struct {
	// Path is the file path as given by the caller.
	Path string

	// URI is the file:// identity sent to the server.
	URI string

	// Text is the full document text.
	Text string

	// Lines is Text split on LSP line terminators.
	Lines []string
}

// Open sends didOpen and blocks until the server reports that analysis of
// this version has caught up.
//
// Description:
//
//	Goal queries before readiness return stale or errorful results, so
//	the readiness wait is part of opening. If the wait fails, didClose is
//	still sent.
//
// Errors:
//
//	ErrDocumentOpen - Another document is open
//	ErrInvalidState - The session is not initialized
//	lsp.ErrConnectionClosed, *lsp.ProtocolError - from the readiness wait
func (s *Session) Open(ctx context.Context, path, text string) (*Document, error) {
	ctx, span := tracer.Start(ctx, "Session.Open", trace.WithAttributes(attribute.String("file", path)))
	defer span.End()

	s.mu.Lock()
	switch s.state {
	case StateInitialized, StateDocumentClosed:
	case StateDocumentOpen:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDocumentOpen, s.open.Path)
	default:
		st := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: open in state %s", ErrInvalidState, st)
	}
	doc := &Document{
		Path:  path,
		URI:   lsp.PathToURI(path),
		Text:  text,
		Lines: SplitLines(text),
	}
	s.state = StateDocumentOpen
	s.open = doc
	s.mu.Unlock()

	err := s.client.Notify(lsp.MethodDidOpen, lsp.DidOpenTextDocumentParams{
		TextDocument: lsp.TextDocumentItem{
			URI:        doc.URI,
			LanguageID: lsp.LanguageLean,
			Version:    DocumentVersion,
			Text:       text,
		},
	})
	if err != nil {
		s.setState(StateDocumentClosed)
		return nil, fmt.Errorf("didOpen %s: %w", path, err)
	}

	s.logger.Debug("waiting for diagnostics", slog.String("uri", doc.URI))
	_, err = s.client.Request(ctx, lsp.MethodWaitForDiagnostics, lsp.WaitForDiagnosticsParams{
		URI:     doc.URI,
		Version: DocumentVersion,
	})
	if err != nil {
		if closeErr := s.Close(doc); closeErr != nil {
			s.logger.Debug("didClose after failed wait", slog.String("error", closeErr.Error()))
		}
		return nil, fmt.Errorf("wait for diagnostics %s: %w", path, err)
	}
	return doc, nil
}

// Close sends didClose for doc. Closing a document that is not the open
// one is an error; closing twice is a no-op.
func (s *Session) Close(doc *Document) error {
	s.mu.Lock()
	if s.state != StateDocumentOpen || s.open != doc {
		closedAlready := s.state == StateDocumentClosed || s.state == StateTerminated
		s.mu.Unlock()
		if closedAlready {
			return nil
		}
		return fmt.Errorf("%w: close %s in state %s", ErrInvalidState, doc.Path, s.State())
	}
	s.state = StateDocumentClosed
	s.open = nil
	s.mu.Unlock()

	if err := s.client.Notify(lsp.MethodDidClose, lsp.DidCloseTextDocumentParams{
		TextDocument: lsp.TextDocumentIdentifier{URI: doc.URI},
	}); err != nil {
		return fmt.Errorf("didClose %s: %w", doc.Path, err)
	}
	return nil
}
