// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package docgen links doc-gen4 declaration pages to goal trace viewers.
//
// doc-gen4 renders a "source" nav link pointing at vscode://file/<abs path>
// for every module page. The injector resolves that path against the
// project root and, when a viewer page exists for the module, adds a
// sibling nav link to it. Injection is idempotent.
package docgen

import (
	"errors"
	"fmt"
	"html"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultLabel is the text of the injected link.
const DefaultLabel = "trace"

var (
	sourceLinkRE = regexp.MustCompile(`(?i)<p class="gh_nav_link">\s*<a [^>]*href="vscode://file/([^"]+)"[^>]*>\s*source\s*</a>\s*</p>`)
	traceLinkRE  = regexp.MustCompile(`(?i)<p class="gh_nav_link">[^<]*<a [^>]*>\s*trace\s*</a>\s*</p>`)
)

// sharedPages are doc-gen4 pages that are not declaration pages.
var sharedPages = map[string]bool{
	"index.html":  true,
	"search.html": true,
	"navbar.html": true,
}

// Options configures an injection run.
type Options struct {
	// ProjectRoot is the Lean project the docs were generated from.
	ProjectRoot string

	// TraceRoot holds <rel>.trace.html viewers, mirroring ProjectRoot.
	TraceRoot string

	// Label is the link text. Empty means DefaultLabel.
	Label string

	// DryRun reports what would change without writing.
	DryRun bool

	Logger *slog.Logger
}

func (o Options) label() string {
	if o.Label == "" {
		return DefaultLabel
	}
	return o.Label
}

// SourcePath extracts the source file named by a page's "source" nav link.
func SourcePath(page string) (string, bool) {
	m := sourceLinkRE.FindStringSubmatch(page)
	if m == nil {
		return "", false
	}
	raw := html.UnescapeString(m[1])
	if unescaped, err := url.PathUnescape(raw); err == nil {
		raw = unescaped
	}
	// doc-gen4 writes vscode://file//abs/path.
	return filepath.FromSlash("/" + strings.TrimLeft(raw, "/")), true
}

// InsertLink adds a nav link to href after the source link. It returns
// the page unchanged when a trace link is already present or there is no
// source link to anchor on.
func InsertLink(page, href, label string) (string, bool) {
	if traceLinkRE.MatchString(page) {
		return page, false
	}
	loc := sourceLinkRE.FindStringIndex(page)
	if loc == nil {
		return page, false
	}
	link := fmt.Sprintf(`<p class="gh_nav_link"><a href="%s">%s</a></p>`, html.EscapeString(href), html.EscapeString(label))
	return page[:loc[1]] + link + page[loc[1]:], true
}

// InjectFile adds the trace link to one doc page.
//
// Outputs:
//
//	bool - True if the page was (or, in a dry run, would be) changed
//	error - Read or write failure
func InjectFile(pagePath string, opts Options) (bool, error) {
	data, err := os.ReadFile(pagePath)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", pagePath, err)
	}
	page := string(data)

	src, ok := SourcePath(page)
	if !ok {
		return false, nil
	}
	root, err := filepath.Abs(opts.ProjectRoot)
	if err != nil {
		return false, fmt.Errorf("project root: %w", err)
	}
	rel, err := filepath.Rel(root, src)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false, nil
	}

	viewerPath := filepath.Join(opts.TraceRoot, strings.TrimSuffix(rel, filepath.Ext(rel))+".trace.html")
	if _, err := os.Stat(viewerPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", viewerPath, err)
	}

	href, err := relativeHref(filepath.Dir(pagePath), viewerPath)
	if err != nil {
		return false, err
	}
	updated, changed := InsertLink(page, href, opts.label())
	if !changed || opts.DryRun {
		return changed, nil
	}

	info, err := os.Stat(pagePath)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", pagePath, err)
	}
	if err := os.WriteFile(pagePath, []byte(updated), info.Mode().Perm()); err != nil {
		return false, fmt.Errorf("write %s: %w", pagePath, err)
	}
	return true, nil
}

// InjectTree walks a doc-gen4 output directory and injects trace links
// into every declaration page. It returns the changed pages in walk order.
func InjectTree(docRoot string, opts Options) ([]string, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var changed []string
	err := filepath.WalkDir(docRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".html" || sharedPages[d.Name()] {
			return nil
		}
		ok, err := InjectFile(path, opts)
		if err != nil {
			return err
		}
		if ok {
			logger.Debug("injected trace link", slog.String("page", path))
			changed = append(changed, path)
		}
		return nil
	})
	if err != nil {
		return changed, fmt.Errorf("inject %s: %w", docRoot, err)
	}
	logger.Info("doc injection finished",
		slog.String("doc_root", docRoot),
		slog.Int("changed", len(changed)),
		slog.Bool("dry_run", opts.DryRun),
	)
	return changed, nil
}

func relativeHref(fromDir, target string) (string, error) {
	absFrom, err := filepath.Abs(fromDir)
	if err != nil {
		return "", err
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absFrom, absTarget)
	if err != nil {
		return "", fmt.Errorf("relative link: %w", err)
	}
	return filepath.ToSlash(rel), nil
}
