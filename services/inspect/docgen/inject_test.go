// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package docgen

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docPage(src string) string {
	return `<html><body><nav>` +
		`<p class="gh_nav_link"><a href="vscode://file/` + src + `">source</a></p>` +
		`</nav><main>decls</main></body></html>`
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestSourcePath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("doc-gen4 links use unix paths")
	}
	p, ok := SourcePath(docPage("/home/me/proj/Foo/Bar.lean"))
	require.True(t, ok)
	assert.Equal(t, "/home/me/proj/Foo/Bar.lean", p)

	p, ok = SourcePath(docPage("/home/me/my%20proj/A.lean"))
	require.True(t, ok)
	assert.Equal(t, "/home/me/my proj/A.lean", p)

	_, ok = SourcePath("<html>no nav</html>")
	assert.False(t, ok)
}

func TestInsertLink(t *testing.T) {
	page := docPage("/p/A.lean")

	out, changed := InsertLink(page, "../traces/A.trace.html", "trace")
	require.True(t, changed)
	assert.Contains(t, out, `source</a></p><p class="gh_nav_link"><a href="../traces/A.trace.html">trace</a></p></nav>`)

	again, changed := InsertLink(out, "../traces/A.trace.html", "trace")
	assert.False(t, changed)
	assert.Equal(t, out, again)

	_, changed = InsertLink("<html></html>", "x", "trace")
	assert.False(t, changed)

	out, _ = InsertLink(page, `a"b.html`, "<goals>")
	assert.Contains(t, out, `href="a&#34;b.html">&lt;goals&gt;</a>`)
}

func TestInjectTree(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("doc-gen4 links use unix paths")
	}
	base := t.TempDir()
	project := filepath.Join(base, "proj")
	traces := filepath.Join(base, "traces")
	docs := filepath.Join(base, "docs")

	write(t, filepath.Join(traces, "Foo", "Bar.trace.html"), "<html></html>")
	write(t, filepath.Join(docs, "Foo", "Bar.html"), docPage(filepath.Join(project, "Foo", "Bar.lean")))
	write(t, filepath.Join(docs, "Foo", "NoTrace.html"), docPage(filepath.Join(project, "Foo", "NoTrace.lean")))
	write(t, filepath.Join(docs, "Other.html"), docPage("/elsewhere/Other.lean"))
	write(t, filepath.Join(docs, "index.html"), docPage(filepath.Join(project, "Foo", "Bar.lean")))

	opts := Options{ProjectRoot: project, TraceRoot: traces, DryRun: true}
	changed, err := InjectTree(docs, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(docs, "Foo", "Bar.html")}, changed)
	data, err := os.ReadFile(filepath.Join(docs, "Foo", "Bar.html"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), ">trace<", "dry run writes nothing")

	opts.DryRun = false
	changed, err = InjectTree(docs, opts)
	require.NoError(t, err)
	require.Len(t, changed, 1)

	data, err = os.ReadFile(filepath.Join(docs, "Foo", "Bar.html"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `<a href="../../traces/Foo/Bar.trace.html">trace</a>`)

	index, err := os.ReadFile(filepath.Join(docs, "index.html"))
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(index), ">trace<"), "shared pages are skipped")

	changed, err = InjectTree(docs, opts)
	require.NoError(t, err)
	assert.Empty(t, changed, "injection is idempotent")
}
