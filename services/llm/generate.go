// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/abraxus/services/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// generateRequest is the /api/generate request body.
type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// generateResponse holds the fields of the /api/generate reply we read.
type generateResponse struct {
	Model    string  `json:"model"`
	Response *string `json:"response"`
	Done     bool    `json:"done"`
}

// conceptPromptTemplate wraps text for concept extraction.
const conceptPromptTemplate = "Extract key concepts from the following text:\n\n%s\n\nConcepts:"

// Query sends prompt to the inference service and returns its answer.
//
// In mock mode the answer is MockResponse(prompt) and no I/O happens. In live
// mode any failure is logged and ErrorResponse(prompt) is returned instead.
func (c *Client) Query(ctx context.Context, prompt string) string {
	if c.Mode() == ModeMock {
		c.metrics.RecordLLMQuery(ctx, ModeMock.String(), "mock", 0)
		return MockResponse(prompt)
	}

	start := time.Now()
	answer, err := c.generate(ctx, prompt)
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.RecordLLMQuery(ctx, ModeLive.String(), "error", elapsed)
		c.logger.Error("Error querying inference service",
			"error", err.Error(),
			"prompt_len", len(prompt),
			"duration_ms", elapsed.Milliseconds(),
		)
		return ErrorResponse(prompt)
	}
	c.metrics.RecordLLMQuery(ctx, ModeLive.String(), "ok", elapsed)
	return answer
}

// ExtractConcepts asks the service for the key concepts in text and splits
// the answer on commas, trimming whitespace from each piece.
//
// The result is returned verbatim: empty pieces are kept, and a failed or
// mocked query yields its echoed string as the only concept.
func (c *Client) ExtractConcepts(ctx context.Context, text string) []string {
	answer := c.Query(ctx, fmt.Sprintf(conceptPromptTemplate, text))
	pieces := strings.Split(answer, ",")
	concepts := make([]string, len(pieces))
	for i, p := range pieces {
		concepts[i] = strings.TrimSpace(p)
	}
	return concepts
}

// generate performs one live POST /api/generate call.
func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	httpClient, err := c.liveClient()
	if err != nil {
		return "", err
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerLLM, "Client.Query",
		trace.WithAttributes(
			attribute.String("llm.model", c.cfg.Model),
			attribute.String("llm.mode", ModeLive.String()),
			attribute.Int("llm.prompt_len", len(prompt)),
		),
	)
	defer span.End()

	if c.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.QueryTimeout)
		defer cancel()
	}

	body, err := json.Marshal(generateRequest{Model: c.cfg.Model, Prompt: prompt, Stream: false})
	if err != nil {
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("%w: marshal request: %v", ErrRequestFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("%w: create request: %v", ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("%w: read response: %v", ErrRequestFailed, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
		telemetry.RecordError(span, err)
		return "", err
	}

	var decoded generateResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("%w: decode response: %v", ErrRequestFailed, err)
	}
	if decoded.Response == nil {
		err := fmt.Errorf("%w: response field missing", ErrRequestFailed)
		telemetry.RecordError(span, err)
		return "", err
	}

	telemetry.SetSpanOK(span)
	c.logger.Debug("Received response from inference service", "response_len", len(*decoded.Response))
	return *decoded.Response, nil
}
