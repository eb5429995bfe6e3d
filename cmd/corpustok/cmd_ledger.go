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
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/corpustok/pkg/logging"
	"github.com/AleutianAI/corpustok/pkg/ux"
	"github.com/AleutianAI/corpustok/services/tokenizer"
	"github.com/AleutianAI/corpustok/services/tokenizer/ledger"
)

func newLedgerCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ledger",
		Short: "Show recorded runs and the next safe init_file_id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Paths.LedgerDir == "" {
				return tokenizer.NewError(tokenizer.KindStartup, "ledger", root.configPath,
					fmt.Errorf("paths.ledger_dir is not configured"))
			}

			lcfg := ledger.DefaultConfig(cfg.Paths.LedgerDir)
			lcfg.GCInterval = 0
			lcfg.Logger = newLogger(cfg, cmd.ErrOrStderr())
			led, err := ledger.Open(lcfg)
			if err != nil {
				return tokenizer.NewError(tokenizer.KindStartup, "open ledger", cfg.Paths.LedgerDir, err)
			}
			defer led.Close()

			return printLedger(cmd, led, newPrinter(cmd.OutOrStdout()), lcfg.Logger)
		},
	}
}

func printLedger(cmd *cobra.Command, led *ledger.Ledger, p *ux.Printer, logger *logging.Logger) error {
	ctx := cmd.Context()
	runs, err := led.Runs(ctx)
	if err != nil {
		return err
	}
	counts, err := led.CountProjects(ctx)
	if err != nil {
		return err
	}
	marks, err := led.Workers(ctx)
	if err != nil {
		return err
	}
	next, err := led.SuggestInitFileID(ctx)
	if err != nil {
		return err
	}
	logger.Debug("ledger read", "runs", len(runs), "workers", len(marks))

	p.Title("corpustok ledger")
	for _, r := range runs {
		p.Table("Run "+r.RunID, []ux.Field{
			{Key: "Started", Value: r.StartedAt.Format(time.RFC3339)},
			{Key: "Finished", Value: r.FinishedAt.Format(time.RFC3339)},
			{Key: "Status", Value: r.Status},
			{Key: "Processes", Value: strconv.Itoa(r.Processes)},
			{Key: "Init file id", Value: strconv.FormatInt(r.InitFileID, 10)},
			{Key: "Projects", Value: strconv.Itoa(r.Projects)},
			{Key: "Files", Value: strconv.FormatInt(r.Files, 10)},
		})
	}

	fields := []ux.Field{
		{Key: "Runs", Value: strconv.Itoa(len(runs))},
		{Key: "Projects done", Value: strconv.Itoa(counts[ledger.ProjectDone])},
		{Key: "Projects missing", Value: strconv.Itoa(counts[ledger.ProjectMissing])},
		{Key: "Projects failed", Value: strconv.Itoa(counts[ledger.ProjectFailed])},
	}
	for _, m := range marks {
		fields = append(fields, ux.Field{
			Key:   fmt.Sprintf("Worker %d next offset", m.Worker),
			Value: strconv.FormatInt(m.NextOffset, 10),
		})
	}
	fields = append(fields, ux.Field{Key: "Suggested init_file_id", Value: strconv.FormatInt(next, 10)})
	p.Table("Ledger", fields)
	return nil
}
