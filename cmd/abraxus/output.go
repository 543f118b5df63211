// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/AleutianAI/abraxus/services/experiment"
	"github.com/AleutianAI/abraxus/services/kernel"
	"github.com/AleutianAI/abraxus/services/llm"
	"github.com/AleutianAI/abraxus/services/orchestrator"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1
)

// =============================================================================
// Styles
// =============================================================================

var (
	colorTeal  = lipgloss.Color("#2F9E8F")
	colorGray  = lipgloss.Color("#7A7A7A")
	colorAmber = lipgloss.Color("#E0A526")
	colorRed   = lipgloss.Color("#D9534F")
)

type styles struct {
	Heading lipgloss.Style
	Muted   lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
}

var defaultStyles = styles{
	Heading: lipgloss.NewStyle().Bold(true).Foreground(colorTeal),
	Muted:   lipgloss.NewStyle().Foreground(colorGray),
	Warning: lipgloss.NewStyle().Foreground(colorAmber),
	Error:   lipgloss.NewStyle().Bold(true).Foreground(colorRed),
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// =============================================================================
// Printer
// =============================================================================

// printer renders command output. Styling is applied only on a terminal and
// never in JSON mode, so piped output stays byte-for-byte plain.
type printer struct {
	w      io.Writer
	styled bool
	styles styles
}

func newPrinter(w io.Writer, jsonMode bool) *printer {
	return &printer{w: w, styled: !jsonMode && isTerminal(w), styles: defaultStyles}
}

func (p *printer) render(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

// Result prints one experiment result as indented JSON under a heading.
func (p *printer) Result(res experiment.Result) error {
	if _, err := fmt.Fprintln(p.w, p.render(p.styles.Heading, "Experiment results:")); err != nil {
		return err
	}
	return p.JSON(res)
}

// History prints the evolution log, one "stamp: message" line per entry.
func (p *printer) History(entries []orchestrator.EvolutionEntry) error {
	if _, err := fmt.Fprintln(p.w, "\n"+p.render(p.styles.Heading, "Evolution History:")); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintf(p.w, "%s: %s\n", p.render(p.styles.Muted, e.Stamp()), e.Message); err != nil {
			return err
		}
	}
	return nil
}

// Summary prints the knowledge base size and a notice when answers were mocked.
func (p *printer) Summary(st kernel.Status) error {
	if _, err := fmt.Fprintf(p.w, "\n%s %d\n", p.render(p.styles.Muted, "Knowledge base size:"), st.KnowledgeBaseSize); err != nil {
		return err
	}
	if st.Mode == llm.ModeMock.String() {
		_, err := fmt.Fprintln(p.w, p.render(p.styles.Warning, "Inference service unavailable; all responses were mocked."))
		return err
	}
	return nil
}

// Error prints a failure line.
func (p *printer) Error(err error) {
	fmt.Fprintln(p.w, p.render(p.styles.Error, "Error: ")+err.Error())
}

// JSON writes v as two-space indented JSON without HTML escaping.
func (p *printer) JSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// YAML writes v as YAML.
func (p *printer) YAML(v any) error {
	enc := yaml.NewEncoder(p.w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
