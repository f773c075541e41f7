// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/leaninspect/services/inspect/trace"
)

// keyPrefix namespaces trace entries; bump the version when the stored
// encoding changes.
const keyPrefix = "trace/v1/"

var (
	lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_cache_lookups_total",
		Help: "Trace cache lookups by result",
	}, []string{"result"})

	storedBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trace_cache_entry_bytes",
		Help:    "Size of stored trace entries",
		Buckets: prometheus.ExponentialBuckets(512, 4, 8),
	})
)

// KeyParams are the inputs that determine a trace.
type KeyParams struct {
	File           string
	Content        []byte
	Mode           string
	StartLine      int
	EndLine        int
	HashWidth      int
	EmitEmptyLines bool
}

// Key derives the cache key for p.
func Key(p KeyParams) string {
	h := sha256.New()
	writeField := func(b []byte) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(b)))
		h.Write(n[:])
		h.Write(b)
	}
	writeField([]byte(p.File))
	writeField(p.Content)
	writeField([]byte(p.Mode))
	writeField([]byte(fmt.Sprintf("%d:%d:%d:%t", p.StartLine, p.EndLine, p.HashWidth, p.EmitEmptyLines)))
	return hex.EncodeToString(h.Sum(nil))
}

// Store is a BadgerDB-backed trace cache.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Store struct {
	db     *badger.DB
	cfg    Config
	gc     *gcRunner
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Open opens (or creates) the cache described by cfg.
//
// Outputs:
//
//	*Store - The cache. Caller must Close it.
//	error - Non-nil if the database cannot be opened
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{db: db, cfg: cfg, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, logger)
		s.gc.start()
	}
	return s, nil
}

// Get returns the trace stored under key.
//
// Outputs:
//
//	*trace.Trace - The stored trace, nil on miss
//	bool - True on hit
//	error - Storage or decode failure
func (s *Store) Get(ctx context.Context, key string) (*trace.Trace, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		lookupsTotal.WithLabelValues("miss").Inc()
		return nil, false, nil
	}
	if err != nil {
		lookupsTotal.WithLabelValues("error").Inc()
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	var t trace.Trace
	if err := json.Unmarshal(raw, &t); err != nil {
		lookupsTotal.WithLabelValues("error").Inc()
		return nil, false, fmt.Errorf("cache decode: %w", err)
	}
	if t.UniqueStates == nil {
		t.UniqueStates = map[string]string{}
	}
	if t.Occurrences == nil {
		t.Occurrences = []trace.Occurrence{}
	}
	lookupsTotal.WithLabelValues("hit").Inc()
	return &t, true, nil
}

// Put stores t under key, replacing any previous entry.
func (s *Store) Put(ctx context.Context, key string, t *trace.Trace) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(keyPrefix+key), raw)
		if s.cfg.TTL > 0 {
			entry = entry.WithTTL(s.cfg.TTL)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	storedBytes.Observe(float64(len(raw)))
	return nil
}

// Len returns the number of live entries.
func (s *Store) Len() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Purge deletes every entry.
func (s *Store) Purge() error {
	return s.db.DropPrefix([]byte(keyPrefix))
}

// Close stops GC and closes the database. Idempotent.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.gc != nil {
			s.gc.stop()
		}
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}
