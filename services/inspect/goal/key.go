// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package goal answers "what is the proof goal at this position?".
//
// A Key is the canonical rendered text of the goal, or NoGoal. Two
// positions are in the same state iff their Keys are equal, so Key is a
// comparable value type and can be used directly as a map key.
package goal

import "strconv"

// Key is an optional goal text. The zero value is NoGoal.
type Key struct {
	text    string
	present bool
}

// NoGoal is the key for positions outside any proof obligation.
var NoGoal = Key{}

// Some returns the key for rendered goal text. The empty string is a valid
// goal text and is distinct from NoGoal.
func Some(text string) Key {
	return Key{text: text, present: true}
}

// Present reports whether the key carries goal text.
func (k Key) Present() bool {
	return k.present
}

// Text returns the goal text, or "" for NoGoal.
func (k Key) Text() string {
	return k.text
}

// String implements fmt.Stringer for logs and test failures.
func (k Key) String() string {
	if !k.present {
		return "<no goal>"
	}
	return strconv.Quote(k.text)
}
