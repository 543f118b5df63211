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
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/abraxus/pkg/logging"
	"github.com/AleutianAI/abraxus/services/api"
	"github.com/AleutianAI/abraxus/services/config"
	"github.com/AleutianAI/abraxus/services/experiment"
	"github.com/AleutianAI/abraxus/services/kernel"
	"github.com/AleutianAI/abraxus/services/orchestrator"
	"github.com/AleutianAI/abraxus/services/telemetry"
	"github.com/spf13/cobra"
)

// cli holds flag values and the per-invocation runtime.
type cli struct {
	configPath      string
	logLevel        string
	jsonOutput      bool
	experimentsPath string

	cfg               config.Config
	logger            *logging.Logger
	shutdownTelemetry func(context.Context) error
}

// newRootCmd builds the command tree and the state its commands share.
func newRootCmd() (*cobra.Command, *cli) {
	c := &cli{}

	root := &cobra.Command{
		Use:   "abraxus",
		Short: "Run hypotheses and their contrapositives through a language model",
		Long: `abraxus pairs every experiment with its automatically derived negation,
runs both through a stateful kernel backed by an Ollama-compatible model,
and grows a knowledge base from the concepts in the answers.

When the model server cannot be reached, every answer is mocked.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", config.DefaultPath, "Path to abraxus.yaml")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Override the log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the experiment catalogue once and print results and evolution history",
		Args:  cobra.NoArgs,
		RunE:  c.runExperiments,
	}
	runCmd.Flags().StringVarP(&c.experimentsPath, "experiments", "e", "", "YAML file of experiments (default: the bicycle demo)")
	runCmd.Flags().BoolVar(&c.jsonOutput, "json", false, "Print a single JSON document")

	probeCmd := &cobra.Command{
		Use:   "probe [task...]",
		Short: "Ask the model without touching the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE:  c.probe,
	}
	probeCmd.Flags().BoolVar(&c.jsonOutput, "json", false, "Print a single JSON document")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the orchestrator over HTTP",
		Args:  cobra.NoArgs,
		RunE:  c.serve,
	}
	serveCmd.Flags().StringVarP(&c.experimentsPath, "experiments", "e", "", "YAML file of experiments to register at startup")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create abraxus.yaml",
	}
	configInitCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE:  c.configInit,
	}
	configShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  c.configShow,
	}
	configCmd.AddCommand(configInitCmd, configShowCmd)

	root.AddCommand(runCmd, probeCmd, serveCmd, configCmd)
	return root, c
}

// setup loads configuration, builds the logger and starts telemetry.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	cfg.ApplyEnv()
	if c.logLevel != "" {
		cfg.Logging.Level = strings.ToLower(c.logLevel)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg

	logCfg, err := cfg.LoggingConfig()
	if err != nil {
		return err
	}
	logCfg.Output = cmd.ErrOrStderr()
	c.logger = logging.New(logCfg)

	shutdown, err := telemetry.Init(cmd.Context(), cfg.TelemetryConfig())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	c.shutdownTelemetry = shutdown
	return nil
}

// cleanup flushes telemetry and closes the logger. Safe before setup.
func (c *cli) cleanup() error {
	var errs []error
	if c.shutdownTelemetry != nil {
		if err := c.shutdownTelemetry(context.Background()); err != nil {
			errs = append(errs, err)
		}
		c.shutdownTelemetry = nil
	}
	if c.logger != nil {
		if err := c.logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newSystem builds an uninitialized System from the loaded configuration.
func (c *cli) newSystem() (*orchestrator.System, error) {
	k, err := kernel.New(c.cfg.KernelConfig(), kernel.WithLogger(c.logger))
	if err != nil {
		return nil, fmt.Errorf("create kernel: %w", err)
	}
	return orchestrator.New(k, orchestrator.WithLogger(c.logger)), nil
}

func (c *cli) experiments() ([]config.ExperimentSpec, error) {
	if c.experimentsPath == "" {
		return config.BicycleExperiments(), nil
	}
	return config.LoadExperiments(c.experimentsPath)
}

// =============================================================================
// run
// =============================================================================

// runReport is the --json output of run.
type runReport struct {
	Results []experiment.Result `json:"results"`
	History []historyLine       `json:"history"`
	Status  kernel.Status       `json:"status"`
}

type historyLine struct {
	Stamp   string `json:"timestamp"`
	Message string `json:"message"`
}

func (c *cli) runExperiments(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	specs, err := c.experiments()
	if err != nil {
		return err
	}

	sys, err := c.newSystem()
	if err != nil {
		return err
	}
	defer sys.Close()

	if err := sys.Initialize(ctx); err != nil {
		return err
	}
	for _, s := range specs {
		sys.AddExperiment(s.Name, s.Hypothesis, s.Procedure)
	}

	run, err := sys.RunExperiments(ctx)
	if err != nil {
		return err
	}

	p := newPrinter(cmd.OutOrStdout(), c.jsonOutput)
	results := []experiment.Result{}
	for run.Next(ctx) {
		res := run.Result()
		results = append(results, res)
		if !c.jsonOutput {
			if err := p.Result(res); err != nil {
				return err
			}
		}
	}
	if err := run.Err(); err != nil {
		return fmt.Errorf("run experiments: %w", err)
	}

	history := sys.EvolutionHistory()
	status := sys.Kernel().Status()
	if err := sys.Kernel().Stop(); err != nil {
		return err
	}

	if c.jsonOutput {
		report := runReport{Results: results, Status: status}
		for _, e := range history {
			report.History = append(report.History, historyLine{Stamp: e.Stamp(), Message: e.Message})
		}
		return p.JSON(report)
	}
	if err := p.History(history); err != nil {
		return err
	}
	return p.Summary(status)
}

// =============================================================================
// probe
// =============================================================================

func (c *cli) probe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sys, err := c.newSystem()
	if err != nil {
		return err
	}
	defer sys.Close()

	if err := sys.Initialize(ctx); err != nil {
		return err
	}
	task := strings.Join(args, " ")
	answer, err := sys.Kernel().Query(ctx, task)
	if err != nil {
		return err
	}

	p := newPrinter(cmd.OutOrStdout(), c.jsonOutput)
	if c.jsonOutput {
		return p.JSON(api.QueryResponse{Response: answer})
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), answer)
	return err
}

// =============================================================================
// serve
// =============================================================================

func (c *cli) serve(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	sys, err := c.newSystem()
	if err != nil {
		return err
	}
	defer sys.Close()

	if err := sys.Initialize(ctx); err != nil {
		return err
	}
	if c.experimentsPath != "" {
		specs, err := c.experiments()
		if err != nil {
			return err
		}
		for _, s := range specs {
			sys.AddExperiment(s.Name, s.Hypothesis, s.Procedure)
		}
	}

	svc, err := api.New(api.Config{
		Port:            c.cfg.Server.Port,
		GinMode:         c.cfg.Server.GinMode,
		ShutdownTimeout: c.cfg.Server.ShutdownTimeout,
		ServiceName:     c.cfg.Telemetry.ServiceName,
	}, sys, api.WithLogger(c.logger))
	if err != nil {
		return err
	}
	return svc.Run(ctx)
}

// =============================================================================
// config
// =============================================================================

func (c *cli) configInit(cmd *cobra.Command, args []string) error {
	path := config.DefaultPath
	if len(args) == 1 {
		path = args[0]
	}
	if err := config.Write(path, config.Default()); err != nil {
		return err
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", path)
	return err
}

func (c *cli) configShow(cmd *cobra.Command, _ []string) error {
	return newPrinter(cmd.OutOrStdout(), false).YAML(c.cfg)
}
