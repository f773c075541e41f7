// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session drives one Lean server through its lifecycle and traces
// files over it.
//
// # State machine
//
//	NotStarted -> Initialized -> (DocumentOpen <-> DocumentClosed)* -> Terminated
//
// A Session owns exactly one server process. At most one document is open
// at a time. Terminate is attempted on every exit path; With runs a
// function inside a session and guarantees it.
//
// # Project mode
//
// TraceProject walks a source tree and traces every .lean file in lexical
// order on a single session, writing <out>/<rel>.trace.json for each. The
// first fatal error stops the walk; traces already written are kept.
package session
