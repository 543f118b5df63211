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
	"fmt"
	"strings"
	"testing"

	"github.com/AleutianAI/abraxus/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKnowledgeBase(t *testing.T) *KnowledgeBase {
	t.Helper()
	kb, err := NewKnowledgeBase(logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kb.Close() })
	return kb
}

func TestKnowledgeBase_SizeNeverDecreases(t *testing.T) {
	kb := newTestKnowledgeBase(t)

	batches := [][]string{
		{"gyroscope", "trail"},
		{"trail"},
		{},
		{"gyroscope", "caster", "caster"},
		{"trail", "gyroscope"},
	}
	want := []int{2, 2, 2, 3, 3}

	prev := 0
	for i, batch := range batches {
		_, err := kb.Merge(batch)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, kb.Size(), prev, "batch %d", i)
		assert.Equal(t, want[i], kb.Size(), "batch %d", i)
		prev = kb.Size()
	}
}

func TestKnowledgeBase_StoresVerbatim(t *testing.T) {
	kb := newTestKnowledgeBase(t)

	added, err := kb.Merge([]string{"", "Error response for: x", "a/b"})
	require.NoError(t, err)
	assert.Equal(t, 3, added)

	for _, c := range []string{"", "Error response for: x", "a/b"} {
		found, err := kb.Contains(c)
		require.NoError(t, err)
		assert.True(t, found, "concept %q", c)
	}
	found, err := kb.Contains("b")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestKnowledgeBase_Concepts(t *testing.T) {
	kb := newTestKnowledgeBase(t)

	concepts, err := kb.Concepts()
	require.NoError(t, err)
	assert.Empty(t, concepts)

	for i := 9; i >= 0; i-- {
		_, err := kb.Merge([]string{fmt.Sprintf("c%d", i)})
		require.NoError(t, err)
	}
	concepts, err = kb.Concepts()
	require.NoError(t, err)
	assert.Len(t, concepts, 10)
	assert.Equal(t, "c0", concepts[0])
	assert.Equal(t, "c9", concepts[9])
}

func TestKnowledgeBase_CloseIsIdempotent(t *testing.T) {
	kb, err := NewKnowledgeBase(nil)
	require.NoError(t, err)

	require.NoError(t, kb.Close())
	require.NoError(t, kb.Close())

	_, err = kb.Merge([]string{"x"})
	assert.Error(t, err)
}

func TestKnowledgeBase_LongConcepts(t *testing.T) {
	kb := newTestKnowledgeBase(t)

	long := strings.Repeat("gyroscopic precession ", 5000)
	longer := long + "and trail"
	added, err := kb.Merge([]string{long, longer, long})
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 2, kb.Size())

	found, err := kb.Contains(longer)
	require.NoError(t, err)
	assert.True(t, found)

	concepts, err := kb.Concepts()
	require.NoError(t, err)
	assert.Equal(t, []string{long, longer}, concepts)
}
