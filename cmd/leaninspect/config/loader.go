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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultFile is read from the working directory when no path is given.
	DefaultFile = "leaninspect.yaml"

	// DefaultEnvFile is read from the working directory when present.
	DefaultEnvFile = ".env"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "LEANINSPECT_"
)

var (
	// ErrConfigNotFound indicates an explicitly named config file is missing.
	ErrConfigNotFound = errors.New("config file not found")

	// ErrInvalidConfig indicates the merged configuration failed validation.
	ErrInvalidConfig = errors.New("invalid config")
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return strings.ToLower(f.Name)
		}
		return name
	})
}

// LoadOptions locate the configuration sources.
type LoadOptions struct {
	// Path is an explicit YAML file. It must exist when set.
	Path string

	// EnvFile is an explicit dotenv file. It must exist when set.
	EnvFile string

	// LookupEnv replaces os.LookupEnv. Used by tests.
	LookupEnv func(string) (string, bool)
}

// Load merges defaults, the YAML file, the dotenv file and the environment,
// then validates the result.
//
// Description:
//
//	Without an explicit Path, DefaultFile is used if it exists. Process
//	environment variables win over dotenv entries, matching godotenv.Load.
//
// Outputs:
//
//	Config - The merged configuration
//	error - ErrConfigNotFound, a parse error, or ErrInvalidConfig
func Load(opts LoadOptions) (Config, error) {
	cfg := DefaultConfig()

	path, err := locate(opts.Path, DefaultFile)
	if err != nil {
		return cfg, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read the config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	envPath, err := locate(opts.EnvFile, DefaultEnvFile)
	if err != nil {
		return cfg, err
	}
	dotenv := map[string]string{}
	if envPath != "" {
		if dotenv, err = godotenv.Read(envPath); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", envPath, err)
		}
	}

	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := applyEnv(&cfg, env); err != nil {
		return cfg, err
	}

	return cfg, Validate(cfg)
}

// locate returns explicit if it exists, fallback if it exists, or "".
func locate(explicit, fallback string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", fmt.Errorf("%w: %s", ErrConfigNotFound, explicit)
			}
			return "", err
		}
		return explicit, nil
	}
	if _, err := os.Stat(fallback); err == nil {
		return fallback, nil
	}
	return "", nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: must satisfy %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: must satisfy %s (got %v)", field, fe.Tag(), fe.Value()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// envBinding maps one variable onto a config field.
type envBinding struct {
	name  string
	apply func(cfg *Config, v string) error
}

var envBindings = []envBinding{
	{"LAKE", func(c *Config, v string) error { c.Lake.Path = v; return nil }},
	{"SHUTDOWN_TIMEOUT", func(c *Config, v string) error { return setDuration(&c.Lake.ShutdownTimeout, v) }},
	{"MODE", func(c *Config, v string) error { c.Trace.Mode = strings.ToLower(v); return nil }},
	{"HASH_WIDTH", func(c *Config, v string) error { return setInt(&c.Trace.HashWidth, v) }},
	{"EMIT_EMPTY_LINES", func(c *Config, v string) error { return setBool(&c.Trace.EmitEmptyLines, v) }},
	{"QPS", func(c *Config, v string) error { return setFloat(&c.Trace.QueriesPerSecond, v) }},
	{"HTML", func(c *Config, v string) error { return setBool(&c.Trace.HTML, v) }},
	{"SKIP_DIRS", func(c *Config, v string) error { c.Project.SkipDirs = splitList(v); return nil }},
	{"CACHE_DIR", func(c *Config, v string) error { c.Cache.Dir = v; return nil }},
	{"CACHE_TTL", func(c *Config, v string) error { return setDuration(&c.Cache.TTL, v) }},
	{"SERVE_ADDR", func(c *Config, v string) error { c.Serve.Addr = v; return nil }},
	{"WATCH_DEBOUNCE", func(c *Config, v string) error { return setDuration(&c.Watch.Debounce, v) }},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = strings.ToLower(v); return nil }},
	{"LOG_JSON", func(c *Config, v string) error { return setBool(&c.Logging.JSON, v) }},
	{"LOG_DIR", func(c *Config, v string) error { c.Logging.Dir = v; return nil }},
	{"TRACE_EXPORTER", func(c *Config, v string) error { c.Telemetry.TraceExporter = v; return nil }},
	{"METRIC_EXPORTER", func(c *Config, v string) error { c.Telemetry.MetricExporter = v; return nil }},
	{"OTLP_ENDPOINT", func(c *Config, v string) error { c.Telemetry.OTLPEndpoint = v; return nil }},
}

func applyEnv(cfg *Config, env func(string) (string, bool)) error {
	var errs []error
	for _, b := range envBindings {
		v, ok := env(EnvPrefix + b.name)
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if err := b.apply(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, b.name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, v string) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return err
	}
	*dst = f
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// WriteDefault writes the default configuration to path, creating parent
// directories. An existing file is left alone and reported as os.ErrExist.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s: %w", path, os.ErrExist)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
