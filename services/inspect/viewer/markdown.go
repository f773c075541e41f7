// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package viewer

import (
	"bytes"
	"html"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// goalMarkdown renders goal text. Raw HTML in goals is escaped, never
// passed through.
var goalMarkdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// RenderGoal converts the markdown Lean uses for rendered goals (a fenced
// lean block, sometimes with prose) into HTML.
func RenderGoal(text string) template.HTML {
	var buf bytes.Buffer
	if err := goalMarkdown.Convert([]byte(text), &buf); err != nil {
		return template.HTML("<pre>" + html.EscapeString(text) + "</pre>")
	}
	return template.HTML(buf.String())
}
