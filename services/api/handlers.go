// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/AleutianAI/abraxus/services/config"
	"github.com/AleutianAI/abraxus/services/experiment"
	"github.com/AleutianAI/abraxus/services/kernel"
	"github.com/AleutianAI/abraxus/services/orchestrator"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// Wire Types
// =============================================================================

// StatusResponse is the GET /v1/status body.
type StatusResponse struct {
	kernel.Status
	Experiments int `json:"experiments"`
	HistorySize int `json:"history_size"`
}

// ExperimentResponse describes a registered pair.
type ExperimentResponse struct {
	Original    config.ExperimentSpec `json:"original"`
	Negation    config.ExperimentSpec `json:"negation"`
	Experiments int                   `json:"experiments"`
}

// RunResponse is the POST /v1/run body.
type RunResponse struct {
	RunID   string              `json:"run_id"`
	Results []experiment.Result `json:"results"`
	KBSize  int                 `json:"kb_size"`
	Error   string              `json:"error,omitempty"`
}

// HistoryEntry is one evolution log entry on the wire.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Stamp     string    `json:"stamp"`
	Message   string    `json:"message"`
}

// QueryRequest is the POST /v1/query body.
type QueryRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

// QueryResponse is the POST /v1/query body.
type QueryResponse struct {
	Response string `json:"response"`
}

// =============================================================================
// Routes
// =============================================================================

func setupRoutes(router *gin.Engine, sys *orchestrator.System, metrics http.Handler) {
	router.GET("/health", handleHealth)
	router.GET("/metrics", gin.WrapH(metrics))

	v1 := router.Group("/v1")
	{
		v1.GET("/status", handleStatus(sys))
		v1.POST("/experiments", handleAddExperiment(sys))
		v1.POST("/run", handleRun(sys))
		v1.GET("/history", handleHistory(sys))
		v1.GET("/concepts", handleConcepts(sys))
		v1.POST("/query", handleQuery(sys))
	}
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func handleStatus(sys *orchestrator.System) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, StatusResponse{
			Status:      sys.Kernel().Status(),
			Experiments: len(sys.Experiments()),
			HistorySize: len(sys.EvolutionHistory()),
		})
	}
}

// handleAddExperiment registers a pair. The HTTP surface is stricter than
// System.AddExperiment: name and procedure must be non-empty, as in
// experiment files, while hypothesis may be empty. The core accepts any
// strings.
func handleAddExperiment(sys *orchestrator.System) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req config.ExperimentSpec
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
			return
		}

		pair := sys.AddExperiment(req.Name, req.Hypothesis, req.Procedure)
		c.JSON(http.StatusCreated, ExperimentResponse{
			Original:    specOf(pair.Original()),
			Negation:    specOf(pair.Negation()),
			Experiments: len(sys.Experiments()),
		})
	}
}

func handleRun(sys *orchestrator.System) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		run, err := sys.RunExperiments(ctx)
		if errors.Is(err, orchestrator.ErrAlreadyConsumed) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		results, err := run.Collect(ctx)
		if results == nil {
			results = []experiment.Result{}
		}
		resp := RunResponse{
			RunID:   run.ID(),
			Results: results,
			KBSize:  sys.Kernel().Status().KnowledgeBaseSize,
		}
		switch {
		case err == nil:
			c.JSON(http.StatusOK, resp)
		case errors.Is(err, kernel.ErrNotRunning):
			resp.Error = err.Error()
			c.JSON(http.StatusConflict, resp)
		default:
			resp.Error = err.Error()
			c.JSON(http.StatusInternalServerError, resp)
		}
	}
}

func handleHistory(sys *orchestrator.System) gin.HandlerFunc {
	return func(c *gin.Context) {
		history := sys.EvolutionHistory()
		out := make([]HistoryEntry, len(history))
		for i, e := range history {
			out[i] = HistoryEntry{
				ID:        e.ID,
				Seq:       e.Seq,
				Timestamp: e.Timestamp,
				Stamp:     e.Stamp(),
				Message:   e.Message,
			}
		}
		c.JSON(http.StatusOK, gin.H{"entries": out})
	}
}

func handleConcepts(sys *orchestrator.System) gin.HandlerFunc {
	return func(c *gin.Context) {
		concepts, err := sys.Kernel().Concepts()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"concepts": concepts, "count": len(concepts)})
	}
}

func handleQuery(sys *orchestrator.System) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
			return
		}

		answer, err := sys.Kernel().Query(c.Request.Context(), req.Prompt)
		if errors.Is(err, kernel.ErrNotRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, QueryResponse{Response: answer})
	}
}

func specOf(e *experiment.Experiment) config.ExperimentSpec {
	return config.ExperimentSpec{Name: e.Name, Hypothesis: e.Hypothesis, Procedure: e.Procedure}
}
