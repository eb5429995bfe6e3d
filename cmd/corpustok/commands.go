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
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/corpustok/pkg/logging"
	"github.com/AleutianAI/corpustok/pkg/ux"
	"github.com/AleutianAI/corpustok/services/tokenizer/config"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "corpustok",
		Short: "Tokenize archived source-code projects for clone detection",
		Long: `corpustok reads a list of archived projects (zip, tar, directories),
extracts function blocks, normalizes and tokenizes them, and writes
SourcererCC stats, tokens and bookkeeping files from a pool of workers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "tokenizer.yaml", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newLedgerCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the corpustok version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "corpustok %s (commit %s)\n", version, commit)
		},
	}
}

// loadConfig reads the configuration and applies the shared overrides.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		if _, err := logging.ParseLevel(o.logLevel); err != nil {
			return nil, err
		}
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}

// newLogger builds the console logger. Text on terminals, JSON otherwise,
// unless log.json decides.
func newLogger(cfg *config.Config, out io.Writer) *logging.Logger {
	json := true
	if f, ok := out.(*os.File); ok && ux.IsTerminal(f) {
		json = false
	}
	if cfg.Log.JSON != nil {
		json = *cfg.Log.JSON
	}
	return logging.New(logging.Config{
		Level:   cfg.LogLevel(),
		Service: "corpustok",
		JSON:    json,
		Output:  out,
	})
}

// newPrinter builds the summary printer for cmd's stdout.
func newPrinter(out io.Writer) *ux.Printer {
	level := ux.PersonalityMachine
	if f, ok := out.(*os.File); ok {
		level = ux.DetectPersonality(f)
	} else if env := os.Getenv(ux.EnvPersonality); env != "" {
		level = ux.ParsePersonalityLevel(env)
	}
	return ux.NewPrinter(out, level)
}
