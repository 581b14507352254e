// Package cmd provides the CLI commands for the agent gateway.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agent-gate/agentgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "agent-gate",
	Short: "Agent Gate - policy-mediated tool gateway for LLM agents",
	Long: `Agent Gate mediates every tool call an agent makes through a policy
enforcement point: argument validation, taint and canary tracking, and an
ordered policy rule set with deny, approval, and allow effects.

Quick start:
  1. Start the ingress API:      agent-gate serve
  2. Run the benchmark suite:    agent-gate bench --scenarios scenarios/scenarios.yaml \
                                   --out results/runs.json --summary results/summary.json

Configuration:
  Config is loaded from agent-gate.yaml in the current directory,
  $HOME/.agent-gate/, or /etc/agent-gate/. Environment variables override
  config values using the same names, e.g. OPA_URL, DEFAULT_BASELINE,
  HTTP_ADAPTER=real.

Commands:
  serve       Start the ingress HTTP API (/run, /health, /metrics)
  bench       Replay a scenario catalog against the gateway baselines
  canaries    Print generated canary tokens
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./agent-gate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
