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

import "errors"

var (
	// ErrConnectionUnavailable means the endpoint could not be dialed during
	// Acquire. It is logged and downgraded to mock mode, never returned.
	ErrConnectionUnavailable = errors.New("inference service unavailable")

	// ErrRequestFailed wraps every live query failure. It is logged and
	// downgraded to an echoed error string, never returned by Query.
	ErrRequestFailed = errors.New("inference request failed")

	// ErrInvalidConfig is returned by Acquire when BaseURL has no usable host.
	ErrInvalidConfig = errors.New("invalid inference client configuration")
)

// Response prefixes for the two synthetic answers.
const (
	MockResponsePrefix  = "Mock response for: "
	ErrorResponsePrefix = "Error response for: "
)

// MockResponse is the answer a mock-mode client gives for prompt.
func MockResponse(prompt string) string {
	return MockResponsePrefix + prompt
}

// ErrorResponse is the answer a live client gives when the request for
// prompt fails.
func ErrorResponse(prompt string) string {
	return ErrorResponsePrefix + prompt
}
