// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"time"

	"github.com/google/uuid"
)

// StampLayout renders entry timestamps as YYYYMMDD_HHMMSS.
const StampLayout = "20060102_150405"

// Evolution log messages.
const (
	MsgSystemInitialized = "System initialized"
	MsgAddedExperiment   = "Added experiment: "
	MsgEvolved           = "Evolved based on experiment results"
)

// EvolutionEntry is one record in the evolution log.
type EvolutionEntry struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Stamp returns the entry's local time in StampLayout.
func (e EvolutionEntry) Stamp() string {
	return e.Timestamp.Local().Format(StampLayout)
}

// String renders the entry as "stamp: message".
func (e EvolutionEntry) String() string {
	return e.Stamp() + ": " + e.Message
}

// evolutionLog is the append-only journal of system transitions.
//
// Not safe for concurrent use; System serializes access.
type evolutionLog struct {
	entries []EvolutionEntry
	now     func() time.Time
}

func newEvolutionLog(now func() time.Time) *evolutionLog {
	if now == nil {
		now = time.Now
	}
	return &evolutionLog{now: now}
}

// append records message and returns the new entry.
func (l *evolutionLog) append(message string) EvolutionEntry {
	entry := EvolutionEntry{
		ID:        uuid.NewString(),
		Seq:       uint64(len(l.entries)) + 1,
		Timestamp: l.now(),
		Message:   message,
	}
	l.entries = append(l.entries, entry)
	return entry
}

// snapshot returns a copy of every entry in insertion order.
func (l *evolutionLog) snapshot() []EvolutionEntry {
	out := make([]EvolutionEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
