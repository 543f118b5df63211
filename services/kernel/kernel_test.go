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
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/AleutianAI/abraxus/pkg/logging"
	"github.com/AleutianAI/abraxus/services/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Doubles
// =============================================================================

// scriptedClient answers each prompt with answers[prompt], or "answer:<prompt>".
type scriptedClient struct {
	mu         sync.Mutex
	answers    map[string]string
	acquireErr error
	releaseErr error
	mode       llm.Mode
	prompts    []string
	acquired   int
	released   int
}

func (c *scriptedClient) Acquire(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acquired++
	if c.acquireErr != nil {
		return c.acquireErr
	}
	c.mode = llm.ModeLive
	return nil
}

func (c *scriptedClient) Query(_ context.Context, prompt string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, prompt)
	if a, ok := c.answers[prompt]; ok {
		return a
	}
	return "answer:" + prompt
}

// ExtractConcepts treats text itself as the comma-separated concept list.
func (c *scriptedClient) ExtractConcepts(_ context.Context, text string) []string {
	c.mu.Lock()
	c.prompts = append(c.prompts, "extract:"+text)
	c.mu.Unlock()
	pieces := strings.Split(text, ",")
	for i := range pieces {
		pieces[i] = strings.TrimSpace(pieces[i])
	}
	return pieces
}

func (c *scriptedClient) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released++
	return c.releaseErr
}

func (c *scriptedClient) Mode() llm.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func newKernel(t *testing.T, client *scriptedClient) *Kernel {
	t.Helper()
	k, err := New(Config{KnowledgeDir: "kb_dir", OutputDir: "output_dir", MaxMemory: 1000000},
		WithLogger(logging.Discard()),
		WithMetrics(nil),
		WithClientFactory(func(llm.Config) LanguageModel { return client }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })
	return k
}

func newRunningKernel(t *testing.T, client *scriptedClient) *Kernel {
	t.Helper()
	k := newKernel(t, client)
	require.NoError(t, k.Initialize(context.Background()))
	return k
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestNew_StartsUninitialized(t *testing.T) {
	k := newKernel(t, &scriptedClient{})

	assert.Equal(t, StateUninitialized, k.State())
	assert.NotEmpty(t, k.ID())
	st := k.Status()
	assert.Equal(t, 0, st.KnowledgeBaseSize)
	assert.False(t, st.Running)
	assert.Equal(t, "uninitialized", st.State)
	assert.Equal(t, "unacquired", st.Mode)
	assert.Equal(t, "kb_dir", st.KnowledgeDir)
	assert.Equal(t, "output_dir", st.OutputDir)
	assert.Equal(t, int64(1000000), st.MaxMemory)
}

func TestInitialize_MovesToRunning(t *testing.T) {
	client := &scriptedClient{}
	k := newRunningKernel(t, client)

	assert.Equal(t, StateRunning, k.State())
	assert.True(t, k.Status().Running)
	assert.Equal(t, "live", k.Status().Mode)
	assert.Equal(t, 1, client.acquired)
}

func TestInitialize_Twice(t *testing.T) {
	k := newRunningKernel(t, &scriptedClient{})

	err := k.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateRunning, k.State())
}

func TestInitialize_AfterStop(t *testing.T) {
	k := newRunningKernel(t, &scriptedClient{})
	require.NoError(t, k.Stop())

	err := k.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateStopped, k.State())
}

func TestInitialize_AcquireFailureKeepsUninitialized(t *testing.T) {
	acquireErr := errors.New("bad url")
	k := newKernel(t, &scriptedClient{acquireErr: acquireErr})

	err := k.Initialize(context.Background())
	assert.ErrorIs(t, err, acquireErr)
	assert.Equal(t, StateUninitialized, k.State())
}

func TestStop_Twice(t *testing.T) {
	client := &scriptedClient{}
	k := newRunningKernel(t, client)

	require.NoError(t, k.Stop())
	require.NoError(t, k.Stop())
	assert.Equal(t, StateStopped, k.State())
	assert.False(t, k.Status().Running)
	assert.Equal(t, 1, client.released)
}

func TestStop_BeforeInitialize(t *testing.T) {
	client := &scriptedClient{}
	k := newKernel(t, client)

	require.NoError(t, k.Stop())
	assert.Equal(t, StateStopped, k.State())
	assert.Equal(t, 0, client.released)
}

func TestStop_ReleaseErrorStillStops(t *testing.T) {
	releaseErr := errors.New("close failed")
	k := newRunningKernel(t, &scriptedClient{releaseErr: releaseErr})

	assert.ErrorIs(t, k.Stop(), releaseErr)
	assert.Equal(t, StateStopped, k.State())
	assert.NoError(t, k.Stop())
}

func TestTaskOperations_NotRunning(t *testing.T) {
	cases := map[string]func(t *testing.T) *Kernel{
		"never initialized": func(t *testing.T) *Kernel {
			return newKernel(t, &scriptedClient{})
		},
		"stopped": func(t *testing.T) *Kernel {
			k := newRunningKernel(t, &scriptedClient{})
			require.NoError(t, k.Stop())
			return k
		},
		"stopped before initialize": func(t *testing.T) *Kernel {
			k := newKernel(t, &scriptedClient{})
			require.NoError(t, k.Stop())
			return k
		},
	}
	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			k := build(t)
			ctx := context.Background()

			for _, task := range []string{"", "X", "Analyze the physics of a moving bicycle"} {
				_, err := k.ProcessTask(ctx, task)
				assert.ErrorIs(t, err, ErrNotRunning)
				_, err = k.Query(ctx, task)
				assert.ErrorIs(t, err, ErrNotRunning)
				_, err = k.ExtractConcepts(ctx, task)
				assert.ErrorIs(t, err, ErrNotRunning)
			}
			assert.Equal(t, 0, k.Status().KnowledgeBaseSize)
		})
	}
}

// =============================================================================
// Task Tests
// =============================================================================

func TestProcessTask_MergesConceptsAndReturnsRaw(t *testing.T) {
	client := &scriptedClient{answers: map[string]string{"T": "a, b , c"}}
	k := newRunningKernel(t, client)

	got, err := k.ProcessTask(context.Background(), "T")
	require.NoError(t, err)

	assert.Equal(t, "a, b , c", got)
	assert.Equal(t, []string{"T", "extract:a, b , c"}, client.prompts)
	concepts, err := k.Concepts()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, concepts)
	assert.Equal(t, 3, k.Status().KnowledgeBaseSize)
}

func TestProcessTask_DuplicatesAbsorbed(t *testing.T) {
	client := &scriptedClient{answers: map[string]string{
		"first":  "gyroscope, trail",
		"second": "trail, gyroscope, gyroscope",
	}}
	k := newRunningKernel(t, client)

	_, err := k.ProcessTask(context.Background(), "first")
	require.NoError(t, err)
	_, err = k.ProcessTask(context.Background(), "second")
	require.NoError(t, err)

	assert.Equal(t, 2, k.Status().KnowledgeBaseSize)
}

func TestQuery_LeavesKnowledgeBaseUntouched(t *testing.T) {
	client := &scriptedClient{answers: map[string]string{"probe": "x, y"}}
	k := newRunningKernel(t, client)

	got, err := k.Query(context.Background(), "probe")
	require.NoError(t, err)

	assert.Equal(t, "x, y", got)
	assert.Equal(t, []string{"probe"}, client.prompts)
	assert.Equal(t, 0, k.Status().KnowledgeBaseSize)
}

func TestExtractAndMerge(t *testing.T) {
	k := newRunningKernel(t, &scriptedClient{})
	ctx := context.Background()

	concepts, err := k.ExtractConcepts(ctx, "steel, aluminum, carbon fiber")
	require.NoError(t, err)
	assert.Equal(t, []string{"steel", "aluminum", "carbon fiber"}, concepts)
	assert.Equal(t, 0, k.Status().KnowledgeBaseSize)

	added, err := k.MergeConcepts(ctx, concepts)
	require.NoError(t, err)
	assert.Equal(t, 3, added)

	added, err = k.MergeConcepts(ctx, []string{"steel", "titanium"})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 4, k.Status().KnowledgeBaseSize)
}

func TestMergeConcepts_AfterStop(t *testing.T) {
	k := newRunningKernel(t, &scriptedClient{})
	require.NoError(t, k.Stop())

	added, err := k.MergeConcepts(context.Background(), []string{"late"})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
}

func TestClose_DiscardsKnowledgeBase(t *testing.T) {
	k, err := New(Config{}, WithLogger(logging.Discard()), WithMetrics(nil),
		WithClientFactory(func(llm.Config) LanguageModel { return &scriptedClient{} }))
	require.NoError(t, err)
	require.NoError(t, k.Initialize(context.Background()))

	require.NoError(t, k.Close())
	require.NoError(t, k.Close())
	assert.Equal(t, StateStopped, k.State())

	_, err = k.MergeConcepts(context.Background(), []string{"x"})
	assert.Error(t, err)
}

// =============================================================================
// Integration With The Real Client
// =============================================================================

func TestKernel_MockModeWithUnreachableService(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := Config{LLM: llm.DefaultConfig()}
	cfg.LLM.BaseURL = "http://" + addr
	k, err := New(cfg, WithLogger(logging.Discard()), WithMetrics(nil))
	require.NoError(t, err)
	defer k.Close()

	require.NoError(t, k.Initialize(context.Background()))
	assert.Equal(t, "mock", k.Status().Mode)

	got, err := k.ProcessTask(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, "Mock response for: X", got)

	// The echoed extraction prompt is the single merged concept.
	concepts, err := k.Concepts()
	require.NoError(t, err)
	require.Len(t, concepts, 1)
	assert.True(t, strings.HasPrefix(concepts[0], "Mock response for: Extract key concepts"))

	raw, err := k.Query(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, "Mock response for: X", raw)
	assert.Equal(t, 1, k.Status().KnowledgeBaseSize)
}

func TestKernel_MockModeLongTaskWithoutCommas(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := Config{LLM: llm.DefaultConfig()}
	cfg.LLM.BaseURL = "http://" + addr
	k, err := New(cfg, WithLogger(logging.Discard()), WithMetrics(nil))
	require.NoError(t, err)
	defer k.Close()
	require.NoError(t, k.Initialize(context.Background()))

	task := strings.Repeat("x", 70000)
	got, err := k.ProcessTask(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, "Mock response for: "+task, got)
	assert.Len(t, got, 70019)

	// The whole extraction echo is one concept, far above badger's key limit.
	concepts, err := k.Concepts()
	require.NoError(t, err)
	require.Len(t, concepts, 1)
	assert.Greater(t, len(concepts[0]), 70000)
	assert.True(t, strings.HasSuffix(concepts[0], task+"\n\nConcepts:"))

	again, err := k.ProcessTask(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, got, again)
	assert.Equal(t, 1, k.Status().KnowledgeBaseSize)
}
