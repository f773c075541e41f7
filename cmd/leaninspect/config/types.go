// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"time"

	"github.com/AleutianAI/leaninspect/services/inspect/telemetry"
)

// Config is the full leaninspect configuration.
//
// Precedence, lowest first: DefaultConfig, the YAML file, the .env file,
// LEANINSPECT_* environment variables, command-line flags.
type Config struct {
	// Lake configures the Lean server process.
	Lake LakeConfig `yaml:"lake"`

	// Trace holds per-file tracing options.
	Trace TraceConfig `yaml:"trace"`

	// Project holds options for project-wide runs.
	Project ProjectConfig `yaml:"project"`

	// Cache configures the on-disk trace cache.
	Cache CacheConfig `yaml:"cache"`

	// Serve configures the viewer HTTP server.
	Serve ServeConfig `yaml:"serve"`

	// Watch configures watch mode.
	Watch WatchConfig `yaml:"watch"`

	Logging LoggingConfig `yaml:"logging"`

	Telemetry telemetry.Config `yaml:"telemetry"`
}

type LakeConfig struct {
	// Path is the lake executable. Empty searches PATH, then ~/.elan/bin.
	Path string `yaml:"path"`

	// Args replace the default ["serve"].
	Args []string `yaml:"args,omitempty"`

	// ShutdownTimeout bounds the graceful shutdown/exit exchange.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

type TraceConfig struct {
	Mode string `yaml:"mode" validate:"oneof=dense adaptive"`

	// HashWidth is the number of hex digits kept from SHA-256.
	HashWidth int `yaml:"hash_width" validate:"gte=8,lte=64"`

	EmitEmptyLines bool `yaml:"emit_empty_lines"`

	// QueriesPerSecond throttles goal queries. 0 is unlimited.
	QueriesPerSecond float64 `yaml:"max_queries_per_second" validate:"gte=0"`

	// HTML writes a viewer next to each trace.
	HTML bool `yaml:"html"`
}

type ProjectConfig struct {
	// SkipDirs are directory names never descended into.
	SkipDirs []string `yaml:"skip_dirs" validate:"dive,required"`
}

type CacheConfig struct {
	// Dir enables the cache. Empty disables it.
	Dir string `yaml:"dir"`

	// TTL expires entries. 0 keeps them forever.
	TTL time.Duration `yaml:"ttl" validate:"gte=0"`
}

type ServeConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`

	// PageCacheSize is the number of rendered pages kept in memory.
	PageCacheSize int `yaml:"page_cache_size" validate:"gte=1"`
}

type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`

	// Dir enables JSON file logging. Supports ~.
	Dir string `yaml:"dir"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	tel := telemetry.DefaultConfig()
	return Config{
		Lake: LakeConfig{
			ShutdownTimeout: 5 * time.Second,
		},
		Trace: TraceConfig{
			Mode:      "adaptive",
			HashWidth: 16,
		},
		Project: ProjectConfig{
			SkipDirs: []string{".git", ".lake", "lake-packages", "docbuild", "build"},
		},
		Cache: CacheConfig{
			TTL: 30 * 24 * time.Hour,
		},
		Serve: ServeConfig{
			Addr:          "127.0.0.1:8642",
			PageCacheSize: 64,
		},
		Watch: WatchConfig{
			Debounce: 300 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: tel,
	}
}
