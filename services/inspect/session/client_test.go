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
	"strings"
	"sync"

	"github.com/AleutianAI/leaninspect/services/inspect/lsp"
	"github.com/AleutianAI/leaninspect/services/inspect/lsp/lsptest"
)

// goalFunc answers plainGoal for a document: nil means "no goal".
type goalFunc func(uri string, line, character int) any

func rendered(text string) any {
	return map[string]any{"rendered": text, "goals": []string{text}}
}

// pipeClient is a Client over an in-process fake server.
type pipeClient struct {
	fake  *lsptest.Server
	proto *lsp.Protocol

	startErr error

	mu        sync.Mutex
	shutdowns int
}

func newPipeClient(goals goalFunc, failOn map[string]*lsp.ResponseError) *pipeClient {
	handler := func(_ *lsptest.Server, req lsp.Message) (any, error) {
		if rerr, ok := failOn[req.Method]; ok {
			return nil, rerr
		}
		switch req.Method {
		case lsp.MethodInitialize:
			return map[string]any{
				"capabilities": map[string]any{},
				"serverInfo":   map[string]any{"name": "fake-lean", "version": "4.0.0"},
			}, nil
		case lsp.MethodPlainGoal:
			var p lsp.TextDocumentPositionParams
			if err := json.Unmarshal(req.Params, &p); err != nil {
				return nil, err
			}
			if goals == nil {
				return nil, nil
			}
			return goals(p.TextDocument.URI, p.Position.Line, p.Position.Character), nil
		}
		return nil, nil
	}
	fake := lsptest.New(handler)
	return &pipeClient{
		fake:  fake,
		proto: lsp.NewProtocol(fake.ClientReader(), fake.ClientWriter(), nil),
	}
}

func (c *pipeClient) Start(ctx context.Context) error {
	if c.startErr != nil {
		return c.startErr
	}
	go func() { _ = c.proto.ReadLoop(context.Background()) }()
	if _, err := c.proto.Request(ctx, lsp.MethodInitialize, lsp.InitializeParams{Capabilities: map[string]any{}}); err != nil {
		return errors.Join(lsp.ErrInitializeFailed, err)
	}
	return c.proto.Notify(lsp.MethodInitialized, struct{}{})
}

func (c *pipeClient) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.proto.Request(ctx, method, params)
}

func (c *pipeClient) Notify(method string, params any) error {
	return c.proto.Notify(method, params)
}

func (c *pipeClient) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.shutdowns++
	c.mu.Unlock()

	if c.proto.Err() == nil {
		_, _ = c.proto.Request(ctx, lsp.MethodShutdown, nil)
		_ = c.proto.Notify(lsp.MethodExit, nil)
	}
	c.proto.Close()
	c.fake.Close()
	return nil
}

func (c *pipeClient) InitializeResult() lsp.InitializeResult {
	return lsp.InitializeResult{ServerInfo: &lsp.ServerInfo{Name: "fake-lean"}}
}

func (c *pipeClient) Shutdowns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdowns
}

// methods returns the methods the fake saw, excluding the handshake and
// termination traffic.
func (c *pipeClient) methods() []string {
	var out []string
	for _, m := range c.fake.Methods() {
		switch m {
		case lsp.MethodInitialize, lsp.MethodInitialized, lsp.MethodShutdown, lsp.MethodExit:
			continue
		}
		out = append(out, m)
	}
	return out
}

// uriHas reports whether a document URI ends with name.
func uriHas(uri, name string) bool {
	return strings.HasSuffix(uri, "/"+name)
}
