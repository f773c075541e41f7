// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package goal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/leaninspect/services/inspect/lsp"
)

// ErrMalformedResponse indicates a plainGoal result had an unexpected shape.
// Fatal for the query that produced it.
var ErrMalformedResponse = errors.New("malformed plainGoal response")

// Oracle reports the goal state at a position of the open document.
//
// Columns are UTF-16 code unit offsets, matching lsp.Position.
type Oracle interface {
	GoalAt(ctx context.Context, line, character int) (Key, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, line, character int) (Key, error)

// GoalAt calls f.
func (f OracleFunc) GoalAt(ctx context.Context, line, character int) (Key, error) {
	return f(ctx, line, character)
}

// Requester issues one request and returns its raw result.
// Satisfied by *lsp.Server and *lsp.Protocol.
type Requester interface {
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// =============================================================================
// LSP ORACLE
// =============================================================================

// LSPOracleOptions tunes an LSPOracle.
type LSPOracleOptions struct {
	// QueriesPerSecond throttles requests. Zero means unlimited.
	QueriesPerSecond float64
}

// LSPOracle answers goal queries with $/lean/plainGoal.
//
// Thread Safety:
//
//	Safe for concurrent use, although scanners only ever issue one query
//	at a time.
type LSPOracle struct {
	client  Requester
	uri     string
	limiter *rate.Limiter
}

// NewLSPOracle creates an oracle bound to one document URI.
func NewLSPOracle(client Requester, uri string, opts LSPOracleOptions) *LSPOracle {
	o := &LSPOracle{client: client, uri: uri}
	if opts.QueriesPerSecond > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(opts.QueriesPerSecond), 1)
	}
	return o
}

// GoalAt queries the goal at (line, character).
//
// Outputs:
//
//	Key - The reduced goal key
//	error - *lsp.ProtocolError, lsp.ErrConnectionClosed or ErrMalformedResponse,
//	        wrapped with the queried position
func (o *LSPOracle) GoalAt(ctx context.Context, line, character int) (Key, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return NoGoal, fmt.Errorf("throttle: %w", err)
		}
	}

	params := lsp.TextDocumentPositionParams{
		TextDocument: lsp.TextDocumentIdentifier{URI: o.uri},
		Position:     lsp.Position{Line: line, Character: character},
	}
	raw, err := o.client.Request(ctx, lsp.MethodPlainGoal, params)
	if err != nil {
		return NoGoal, fmt.Errorf("plainGoal at %d:%d: %w", line, character, err)
	}

	key, err := ParsePlainGoal(raw)
	if err != nil {
		return NoGoal, fmt.Errorf("plainGoal at %d:%d: %w", line, character, err)
	}
	return key, nil
}

// ParsePlainGoal reduces a plainGoal result to a Key.
//
// Description:
//
//	null, a missing result and {} mean no goal. An object whose
//	"rendered" member is a string yields that string, even when empty.
//	Every other shape is ErrMalformedResponse.
func ParsePlainGoal(raw json.RawMessage) (Key, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return NoGoal, nil
	}
	if trimmed[0] != '{' {
		return NoGoal, fmt.Errorf("%w: expected object, got %s", ErrMalformedResponse, abbreviate(trimmed))
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return NoGoal, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(fields) == 0 {
		return NoGoal, nil
	}

	rendered, ok := fields["rendered"]
	if !ok {
		return NoGoal, fmt.Errorf("%w: no rendered field", ErrMalformedResponse)
	}
	rendered = bytes.TrimSpace(rendered)
	if len(rendered) == 0 || rendered[0] != '"' {
		return NoGoal, fmt.Errorf("%w: rendered is not a string", ErrMalformedResponse)
	}
	var text string
	if err := json.Unmarshal(rendered, &text); err != nil {
		return NoGoal, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return Some(text), nil
}

func abbreviate(b []byte) string {
	const limit = 64
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}

// =============================================================================
// COUNTING
// =============================================================================

// CountingOracle counts the queries forwarded to an inner Oracle.
type CountingOracle struct {
	inner   Oracle
	queries atomic.Int64
}

// NewCountingOracle wraps inner.
func NewCountingOracle(inner Oracle) *CountingOracle {
	return &CountingOracle{inner: inner}
}

// GoalAt forwards to the inner oracle and counts the query.
func (c *CountingOracle) GoalAt(ctx context.Context, line, character int) (Key, error) {
	c.queries.Add(1)
	key, err := c.inner.GoalAt(ctx, line, character)
	recordQuery(ctx, key, err)
	return key, err
}

// Queries returns the number of queries issued so far.
func (c *CountingOracle) Queries() int64 {
	return c.queries.Load()
}
