// Copyright (C) 2024-2026, Enclave Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package main is the thin CLI entrypoint wiring config.Load into a
// supervisor.Supervisor. Argument parsing beyond the --config, --log-level
// and --json-logs flags is out of scope (spec.md §1 treats the CLI surface as an external
// collaborator); this only loads config, starts the node, and waits for
// an interrupt to drive a clean shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/enclave-network/ciphernode/config"
	"github.com/enclave-network/ciphernode/supervisor"
	"github.com/enclave-network/ciphernode/telemetry"
)

var (
	configPath string
	logLevel   string
	jsonLogs   bool
)

var rootCmd = &cobra.Command{
	Use:   "enclave",
	Short: "Enclave E3 ciphernode / aggregator node",
	Long: `enclave runs one node of the Enclave network: a ciphernode that
generates and holds a threshold FHE keyshare for requested computations,
or an aggregator that additionally combines shares and publishes
results on-chain, depending on the configured role.`,
	RunE: runNode,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to the node's YAML configuration file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.Flags().BoolVar(&jsonLogs, "json-logs", false, "emit structured JSON logs instead of console output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "enclave: %v\n", err)
		os.Exit(1)
	}
}

func runNode(cmd *cobra.Command, args []string) error {
	telemetry.InitLogging(telemetry.LogConfig{
		Level:      telemetry.Level(logLevel),
		JSONOutput: jsonLogs,
	})

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("enclave: %w", err)
	}

	sup, err := supervisor.New(cfg)
	if err != nil {
		return fmt.Errorf("enclave: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return sup.Run(ctx)
}
