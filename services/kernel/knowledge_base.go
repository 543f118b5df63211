// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kernel

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/AleutianAI/abraxus/pkg/logging"
	store "github.com/AleutianAI/abraxus/services/storage/badger"
)

// conceptPrefix namespaces concept keys inside the store. A key is the
// prefix plus the hex SHA-256 of the concept; the value is the concept text.
// Concepts of any length therefore fit under badger's key size limit.
const conceptPrefix = "concept/"

// KnowledgeBase is a grow-only set of concept strings.
//
// There is no removal operation. Duplicates are absorbed by the store's
// set-if-absent write, so Size never decreases.
//
// Thread Safety: Safe for concurrent use.
type KnowledgeBase struct {
	db   *store.DB
	size atomic.Int64
}

// NewKnowledgeBase opens an empty in-memory knowledge base.
func NewKnowledgeBase(logger *logging.Logger) (*KnowledgeBase, error) {
	db, err := store.OpenInMemory(store.Config{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("open knowledge base: %w", err)
	}
	return &KnowledgeBase{db: db}, nil
}

// Merge adds every concept to the set and returns how many were new.
//
// Concepts are stored verbatim, including empty strings. On a store error
// the concepts merged before the failure stay merged.
func (kb *KnowledgeBase) Merge(concepts []string) (int, error) {
	added := 0
	for _, c := range concepts {
		ok, err := kb.db.SetIfAbsent(conceptKey(c), []byte(c))
		if err != nil {
			return added, fmt.Errorf("merge concept: %w", err)
		}
		if ok {
			added++
			kb.size.Add(1)
		}
	}
	return added, nil
}

// Contains reports whether concept is in the set.
func (kb *KnowledgeBase) Contains(concept string) (bool, error) {
	return kb.db.Has(conceptKey(concept))
}

// Size returns the number of distinct concepts.
func (kb *KnowledgeBase) Size() int {
	return int(kb.size.Load())
}

// Concepts returns every concept in byte order.
func (kb *KnowledgeBase) Concepts() ([]string, error) {
	values, err := kb.db.ValuesWithPrefix([]byte(conceptPrefix))
	if err != nil {
		return nil, err
	}
	concepts := make([]string, len(values))
	for i, v := range values {
		concepts[i] = string(v)
	}
	sort.Strings(concepts)
	return concepts, nil
}

// Close discards the knowledge base. Safe to call multiple times.
func (kb *KnowledgeBase) Close() error {
	if err := kb.db.Close(); err != nil && !errors.Is(err, store.ErrClosed) {
		return err
	}
	return nil
}

func conceptKey(concept string) []byte {
	sum := sha256.Sum256([]byte(concept))
	return []byte(conceptPrefix + hex.EncodeToString(sum[:]))
}
