// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger provides an in-memory BadgerDB store for process-local state.
//
// abraxus keeps its knowledge base in memory only; the store is always opened
// with badger's InMemory option and nothing touches disk. Closing the store
// discards its contents.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/AleutianAI/abraxus/pkg/logging"
	"github.com/dgraph-io/badger/v4"
)

// ErrClosed is returned by operations on a closed DB.
var ErrClosed = errors.New("badger: store is closed")

// Config holds configuration for an in-memory store.
type Config struct {
	// Logger receives badger's internal log lines. If nil, badger logging
	// is disabled.
	Logger *logging.Logger

	// NumVersionsToKeep is the number of versions retained per key.
	// Default: 1.
	NumVersionsToKeep int
}

// badgerLogger adapts logging.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *logging.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// DB wraps an in-memory badger instance with idempotent Close.
//
// Thread Safety: Safe for concurrent use.
type DB struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
}

// OpenInMemory opens a new, empty in-memory store.
func OpenInMemory(cfg Config) (*DB, error) {
	versions := cfg.NumVersionsToKeep
	if versions <= 0 {
		versions = 1
	}
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithSyncWrites(false).
		WithNumVersionsToKeep(versions)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &DB{db: db}, nil
}

// SetIfAbsent stores key with value unless key already exists.
//
// Returns true when the key was newly written.
func (d *DB) SetIfAbsent(key, value []byte) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false, ErrClosed
	}

	added := false
	err := d.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		if err := txn.Set(key, value); err != nil {
			return err
		}
		added = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("set key of %d bytes: %w", len(key), err)
	}
	return added, nil
}

// Has reports whether key exists.
func (d *DB) Has(key []byte) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false, ErrClosed
	}

	found := false
	err := d.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// ValuesWithPrefix returns the value of every key starting with prefix,
// in key order.
func (d *DB) ValuesWithPrefix(prefix []byte) ([][]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrClosed
	}

	var values [][]byte
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			values = append(values, value)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan prefix %q: %w", prefix, err)
	}
	return values, nil
}

// Close discards the store. Safe to call multiple times.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}
