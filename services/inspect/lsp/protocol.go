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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// JSONRPCVersion is the JSON-RPC version used by LSP.
const JSONRPCVersion = "2.0"

// =============================================================================
// JSON-RPC MESSAGE TYPES
// =============================================================================

// Request represents an outgoing JSON-RPC request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Notification represents an outgoing JSON-RPC notification (no id, no response).
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// ResponseError represents a JSON-RPC error object.
type ResponseError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface so handlers can return it directly.
func (e *ResponseError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Message is any incoming frame: a response, a notification, or a request
// the server sends to us.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// IsResponse reports whether the message answers one of our requests.
func (m *Message) IsResponse() bool {
	return len(m.ID) > 0 && m.Method == ""
}

// numericID returns the message id when it is a JSON integer.
func (m *Message) numericID() (int64, bool) {
	if len(m.ID) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(string(m.ID), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// serverReply answers a server-initiated request with a null result.
type serverReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result"`
}

// NotificationHandler receives server notifications. It runs on the read
// loop goroutine and must not block.
type NotificationHandler func(method string, params json.RawMessage)

// =============================================================================
// PROTOCOL HANDLER
// =============================================================================

// Protocol handles JSON-RPC communication over a duplex byte stream.
//
// Description:
//
//	Implements the LSP base protocol using Content-Length headers and
//	correlates responses with pending requests by numeric id. A single
//	ReadLoop goroutine owns the read side; writes are serialized.
//
// Thread Safety:
//
//	Safe for concurrent use. The goal scanners only ever keep one request
//	in flight, but the read loop writes replies to server requests
//	concurrently with caller writes.
type Protocol struct {
	reader  *bufio.Reader
	writer  io.Writer
	writeMu sync.Mutex
	nextID  int64

	pending   map[int64]chan Message
	pendingMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	onNotify NotificationHandler
	logger   *slog.Logger
}

// NewProtocol creates a new protocol handler.
//
// Inputs:
//
//	r - Reader for server messages (e.g., stdout pipe)
//	w - Writer for client messages (e.g., stdin pipe)
//	logger - Logger for discarded frames. Nil uses slog.Default().
//
// Outputs:
//
//	*Protocol - The protocol handler. Start ReadLoop before sending requests.
func NewProtocol(r io.Reader, w io.Writer, logger *slog.Logger) *Protocol {
	var reader *bufio.Reader
	if r != nil {
		reader = bufio.NewReader(r)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Protocol{
		reader:  reader,
		writer:  w,
		pending: make(map[int64]chan Message),
		done:    make(chan struct{}),
		logger:  logger,
	}
}

// OnNotification registers a hook for server notifications.
// Must be called before ReadLoop starts.
func (p *Protocol) OnNotification(h NotificationHandler) {
	p.onNotify = h
}

// Request sends a request and waits for its response.
//
// Description:
//
//	Allocates the next id, writes the framed request and blocks until the
//	first response carrying that id arrives. Messages for other ids are
//	left to the read loop, which discards them.
//
// Inputs:
//
//	ctx - Context for caller-side cancellation
//	method - The LSP method to invoke
//	params - Method parameters (JSON-marshaled)
//
// Outputs:
//
//	json.RawMessage - The raw result ("null" or empty when the server sent none)
//	error - *ProtocolError if the server answered with an error,
//	        ErrConnectionClosed if the stream ended first
//
// Thread Safety:
//
//	Safe for concurrent use.
func (p *Protocol) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if err := p.Err(); err != nil {
		return nil, err
	}

	id := atomic.AddInt64(&p.nextID, 1)
	respCh := make(chan Message, 1)

	p.pendingMu.Lock()
	p.pending[id] = respCh
	p.pendingMu.Unlock()

	defer func() {
		p.pendingMu.Lock()
		delete(p.pending, id)
		p.pendingMu.Unlock()
	}()

	start := time.Now()
	if err := p.Send(Request{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: params}); err != nil {
		recordRequest(ctx, method, time.Since(start), outcomeWriteError)
		return nil, fmt.Errorf("write %s request: %w", method, p.writeFailed(err))
	}

	select {
	case resp := <-respCh:
		return p.finish(ctx, method, start, resp)
	case <-p.done:
		// A response may have been dispatched just before the stream ended.
		select {
		case resp := <-respCh:
			return p.finish(ctx, method, start, resp)
		default:
		}
		recordRequest(ctx, method, time.Since(start), outcomeClosed)
		return nil, p.closeErr
	case <-ctx.Done():
		recordRequest(ctx, method, time.Since(start), outcomeCancelled)
		return nil, fmt.Errorf("%s request %d: %w", method, id, ctx.Err())
	}
}

func (p *Protocol) finish(ctx context.Context, method string, start time.Time, resp Message) (json.RawMessage, error) {
	if resp.Error != nil {
		recordRequest(ctx, method, time.Since(start), outcomeServerError)
		return nil, &ProtocolError{
			Method:  method,
			Code:    resp.Error.Code,
			Message: resp.Error.Message,
			Data:    resp.Error.Data,
		}
	}
	recordRequest(ctx, method, time.Since(start), outcomeOK)
	return resp.Result, nil
}

// Notify sends a notification (no response expected).
func (p *Protocol) Notify(method string, params any) error {
	if err := p.Err(); err != nil {
		return err
	}
	if err := p.Send(Notification{JSONRPC: JSONRPCVersion, Method: method, Params: params}); err != nil {
		return fmt.Errorf("write %s notification: %w", method, p.writeFailed(err))
	}
	return nil
}

// writeFailed closes the connection after a failed write. A half-written
// frame leaves the stream unusable.
func (p *Protocol) writeFailed(err error) error {
	p.shutdown(fmt.Errorf("%w: %w", ErrConnectionClosed, err))
	return p.closeErr
}

// Send marshals v and writes it as one Content-Length framed message.
//
// The body is compact JSON with HTML escaping disabled, so the server sees
// the same bytes a plain JSON serializer would produce.
func (p *Protocol) Send(v any) error {
	frame, err := encodeFrame(v)
	if err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if p.writer == nil {
		return fmt.Errorf("no writer configured")
	}
	if _, err := p.writer.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// encodeFrame renders the header block and body for v.
func encodeFrame(v any) ([]byte, error) {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	payload := bytes.TrimSuffix(body.Bytes(), []byte("\n"))

	frame := make([]byte, 0, len(payload)+32)
	frame = append(frame, "Content-Length: "...)
	frame = strconv.AppendInt(frame, int64(len(payload)), 10)
	frame = append(frame, "\r\n\r\n"...)
	frame = append(frame, payload...)
	return frame, nil
}

// ReadLoop reads messages from the server and dispatches responses.
//
// Description:
//
//	Reads frames until the stream ends or becomes unreadable. Responses
//	are matched to pending requests; everything else is inspected and
//	discarded. On exit every pending and future request fails with an
//	error wrapping ErrConnectionClosed.
//
// Inputs:
//
//	ctx - Checked between frames; a blocked read is only released by
//	      closing the underlying stream.
//
// Outputs:
//
//	error - Always non-nil; wraps ErrConnectionClosed or ctx.Err().
//
// Thread Safety:
//
//	Must be called from a single goroutine.
func (p *Protocol) ReadLoop(ctx context.Context) error {
	if p.reader == nil {
		err := fmt.Errorf("%w: no reader configured", ErrConnectionClosed)
		p.shutdown(err)
		return err
	}

	for {
		select {
		case <-ctx.Done():
			p.shutdown(fmt.Errorf("%w: %v", ErrConnectionClosed, ctx.Err()))
			return ctx.Err()
		default:
		}

		body, err := p.readMessage()
		if err != nil {
			var closeErr error
			if errors.Is(err, io.EOF) {
				closeErr = fmt.Errorf("%w: server closed its output", ErrConnectionClosed)
			} else {
				closeErr = fmt.Errorf("%w: %w", ErrConnectionClosed, err)
			}
			p.shutdown(closeErr)
			return closeErr
		}

		p.handleMessage(body)
	}
}

// readMessage reads a single frame and returns its body.
func (p *Protocol) readMessage() ([]byte, error) {
	contentLength := -1
	sawHeader := false

	for {
		line, err := p.reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && line == "" && !sawHeader {
				return nil, io.EOF
			}
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		sawHeader = true

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: header line %q", ErrMalformedFrame, line)
		}
		// Other headers (Content-Type) are ignored.
		if !strings.EqualFold(strings.TrimSpace(key), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: invalid Content-Length %q", ErrMalformedFrame, value)
		}
		contentLength = n
	}

	if contentLength < 0 {
		return nil, fmt.Errorf("%w: missing Content-Length header", ErrMalformedFrame)
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(p.reader, body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// handleMessage dispatches a received frame.
func (p *Protocol) handleMessage(body []byte) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		recordIgnoredFrame(ignoredUndecodable)
		p.logger.Debug("discarding undecodable lsp message",
			slog.Int("bytes", len(body)),
			slog.String("error", err.Error()),
		)
		return
	}

	if msg.Method != "" {
		if len(msg.ID) > 0 {
			// Server-to-client request. We register no capabilities, so a null
			// result is always an acceptable answer.
			recordIgnoredFrame(ignoredServerRequest)
			if err := p.Send(serverReply{JSONRPC: JSONRPCVersion, ID: msg.ID}); err != nil {
				p.logger.Debug("failed to answer server request",
					slog.String("method", msg.Method),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		recordIgnoredFrame(ignoredNotification)
		if p.onNotify != nil {
			p.onNotify(msg.Method, msg.Params)
		}
		return
	}

	id, ok := msg.numericID()
	if !ok {
		return
	}

	p.pendingMu.Lock()
	ch, found := p.pending[id]
	p.pendingMu.Unlock()

	if !found {
		recordIgnoredFrame(ignoredUnmatched)
		p.logger.Debug("discarding response for unknown request", slog.Int64("id", id))
		return
	}

	// Buffered with capacity 1; a duplicate response for the same id is dropped.
	select {
	case ch <- msg:
	default:
	}
}

// Close marks the protocol as closed.
//
// Description:
//
//	Fails every pending request with ErrConnectionClosed and rejects new
//	ones. Does not close the underlying reader or writer.
//
// Thread Safety:
//
//	Safe for concurrent use. Idempotent.
func (p *Protocol) Close() {
	p.shutdown(fmt.Errorf("%w: closed by client", ErrConnectionClosed))
}

// Done is closed once the connection is no longer usable.
func (p *Protocol) Done() <-chan struct{} {
	return p.done
}

// Err returns the reason the connection closed, or nil while it is open.
func (p *Protocol) Err() error {
	select {
	case <-p.done:
		return p.closeErr
	default:
		return nil
	}
}

func (p *Protocol) shutdown(err error) {
	p.closeOnce.Do(func() {
		p.closeErr = err
		close(p.done)
	})
}
