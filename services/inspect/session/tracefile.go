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
	"os"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/leaninspect/services/inspect/cache"
	"github.com/AleutianAI/leaninspect/services/inspect/goal"
	"github.com/AleutianAI/leaninspect/services/inspect/scan"
	"github.com/AleutianAI/leaninspect/services/inspect/telemetry"
	"github.com/AleutianAI/leaninspect/services/inspect/trace"
)

// progressEvery is how many lines pass between progress callbacks.
const progressEvery = 20

// TraceCache stores finished traces by content key.
// *cache.Store implements it.
type TraceCache interface {
	Get(ctx context.Context, key string) (*trace.Trace, bool, error)
	Put(ctx context.Context, key string, t *trace.Trace) error
}

// Progress is reported while a file is scanned.
type Progress struct {
	File         string
	Line         int
	Start        int
	End          int
	UniqueStates int
	Occurrences  int
}

// TraceOptions controls how one file is traced.
type TraceOptions struct {
	// Mode selects the scanner. Empty means adaptive.
	Mode scan.Mode

	// Range restricts scanning to a line range.
	Range LineRange

	// Hasher derives content hashes. Zero value uses the default width.
	Hasher goal.Hasher

	// EmitEmptyLines emits [0, 0) occurrences on empty lines inside a goal.
	EmitEmptyLines bool

	// QueriesPerSecond throttles goal queries. Zero means unlimited.
	QueriesPerSecond float64

	// Cache, when set, short-circuits files whose trace is already known.
	Cache TraceCache

	// Progress, when set, is called every few lines.
	Progress func(Progress)
}

func (o TraceOptions) mode() scan.Mode {
	if o.Mode == "" {
		return scan.ModeAdaptive
	}
	return o.Mode
}

// TraceFile reads path, opens it on the server, traces it and closes it.
//
// Description:
//
//	didClose is sent on every path once the document was opened. With a
//	cache configured, a hit returns without touching the server.
//
// Outputs:
//
//	*trace.Trace - The finished trace
//	trace.Summary - Counts and timing for the file
//	error - Read, protocol or scan failure
func (s *Session) TraceFile(ctx context.Context, path string, opts TraceOptions) (*trace.Trace, trace.Summary, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.Summary{}, fmt.Errorf("read %s: %w", path, err)
	}
	return s.traceContent(ctx, path, content, opts)
}

func (s *Session) traceContent(ctx context.Context, path string, content []byte, opts TraceOptions) (tr *trace.Trace, sum trace.Summary, err error) {
	if !utf8.Valid(content) {
		return nil, trace.Summary{}, fmt.Errorf("read %s: file is not valid UTF-8", path)
	}

	started := time.Now()
	var cacheKey string
	if opts.Cache != nil {
		start, end := opts.Range.Clamp(len(SplitLines(string(content))))
		cacheKey = cache.Key(cache.KeyParams{
			File:           path,
			Content:        content,
			Mode:           string(opts.mode()),
			StartLine:      start,
			EndLine:        end,
			HashWidth:      opts.Hasher.Width(),
			EmitEmptyLines: opts.EmitEmptyLines,
		})
		cached, ok, err := opts.Cache.Get(ctx, cacheKey)
		if err != nil {
			s.logger.Warn("trace cache lookup failed", slog.String("file", path), slog.String("error", err.Error()))
		} else if ok {
			sum := trace.Summarize(cached)
			sum.Cached = true
			sum.Duration = time.Since(started)
			recordFile(ctx, string(opts.mode()), sum)
			return cached, sum, nil
		}
	}

	doc, err := s.Open(ctx, path, string(content))
	if err != nil {
		return nil, trace.Summary{}, err
	}
	defer func() {
		if closeErr := s.Close(doc); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	tr, sum, err = s.TraceDocument(ctx, doc, opts)
	if err != nil {
		return nil, trace.Summary{}, err
	}
	sum.Duration = time.Since(started)

	if opts.Cache != nil {
		if err := opts.Cache.Put(ctx, cacheKey, tr); err != nil {
			s.logger.Warn("trace cache store failed", slog.String("file", path), slog.String("error", err.Error()))
		}
	}
	recordFile(ctx, string(opts.mode()), sum)
	return tr, sum, nil
}

// TraceDocument scans the lines of an open document.
//
// Errors:
//
//	ErrInvalidState - doc is not the open document
//	lsp.ErrConnectionClosed, *lsp.ProtocolError, goal.ErrMalformedResponse,
//	trace.ErrHashCollision - first failing query aborts the file
func (s *Session) TraceDocument(ctx context.Context, doc *Document, opts TraceOptions) (*trace.Trace, trace.Summary, error) {
	s.mu.Lock()
	if s.state != StateDocumentOpen || s.open != doc {
		st := s.state
		s.mu.Unlock()
		return nil, trace.Summary{}, fmt.Errorf("%w: trace %s in state %s", ErrInvalidState, doc.Path, st)
	}
	s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "Session.TraceDocument")
	defer span.End()

	mode := opts.mode()
	scanner, err := scan.ForMode(mode)
	if err != nil {
		return nil, trace.Summary{}, err
	}

	oracle := goal.NewCountingOracle(goal.NewLSPOracle(s.client, doc.URI, goal.LSPOracleOptions{
		QueriesPerSecond: opts.QueriesPerSecond,
	}))
	builder := trace.NewBuilder(doc.Path, doc.URI, mode, trace.Options{
		Hasher:         opts.Hasher,
		EmitEmptyLines: opts.EmitEmptyLines,
	})

	start, end := opts.Range.Clamp(len(doc.Lines))
	occurrences := 0
	for ln := start; ln < end; ln++ {
		before := oracle.Queries()
		transitions, err := scanner.ScanLine(ctx, oracle, ln, doc.Lines[ln])
		if err != nil {
			err = fmt.Errorf("scan %s:%d: %w", doc.Path, ln, err)
			telemetry.RecordError(span, err, attribute.Int("line", ln))
			return nil, trace.Summary{}, err
		}
		recordLineQueries(ctx, string(mode), oracle.Queries()-before)

		n, err := builder.AddLine(ln, doc.Lines[ln], transitions)
		if err != nil {
			err = fmt.Errorf("trace %s:%d: %w", doc.Path, ln, err)
			telemetry.RecordError(span, err, attribute.Int("line", ln))
			return nil, trace.Summary{}, err
		}
		occurrences += n

		if opts.Progress != nil && (ln-start)%progressEvery == 0 {
			opts.Progress(Progress{
				File:         doc.Path,
				Line:         ln,
				Start:        start,
				End:          end,
				UniqueStates: builder.UniqueStates(),
				Occurrences:  occurrences,
			})
		}
	}

	tr := builder.Trace()
	sum := trace.Summarize(tr)
	sum.Lines = end - start
	sum.Queries = oracle.Queries()

	s.logger.Debug("traced document",
		slog.String("file", doc.Path),
		slog.Int("lines", sum.Lines),
		slog.Int64("queries", sum.Queries),
		slog.Int("unique_states", sum.UniqueStates),
		slog.Int("occurrences", sum.Occurrences),
	)
	return tr, sum, nil
}
