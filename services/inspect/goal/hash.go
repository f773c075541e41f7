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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	// DefaultHashWidth is the number of hex digits kept from the digest.
	DefaultHashWidth = 16

	// MinHashWidth and MaxHashWidth bound a configurable width.
	MinHashWidth = 8
	MaxHashWidth = sha256.Size * 2
)

// Hasher derives the ContentHash of goal text.
//
// Description:
//
//	The hash is the first Width lowercase hex digits of SHA-256 over the
//	UTF-8 text. Equal text always yields an equal hash.
//
// Thread Safety:
//
//	Hasher is an immutable value and safe for concurrent use.
type Hasher struct {
	width int
}

// NewHasher returns a Hasher keeping width hex digits.
//
// Outputs:
//
//	Hasher - The hasher
//	error - Non-nil when width is outside [MinHashWidth, MaxHashWidth]
func NewHasher(width int) (Hasher, error) {
	if width < MinHashWidth || width > MaxHashWidth {
		return Hasher{}, fmt.Errorf("hash width %d outside [%d, %d]", width, MinHashWidth, MaxHashWidth)
	}
	return Hasher{width: width}, nil
}

// DefaultHasher returns a Hasher with DefaultHashWidth.
func DefaultHasher() Hasher {
	return Hasher{width: DefaultHashWidth}
}

// Width returns the number of hex digits produced.
func (h Hasher) Width() int {
	if h.width == 0 {
		return DefaultHashWidth
	}
	return h.width
}

// Sum returns the content hash of text.
func (h Hasher) Sum(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:h.Width()]
}
