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
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/corpustok/pkg/logging"
	"github.com/AleutianAI/corpustok/pkg/ux"
	"github.com/AleutianAI/corpustok/services/tokenizer"
	"github.com/AleutianAI/corpustok/services/tokenizer/archive"
	"github.com/AleutianAI/corpustok/services/tokenizer/config"
	"github.com/AleutianAI/corpustok/services/tokenizer/ledger"
	"github.com/AleutianAI/corpustok/services/tokenizer/pool"
	"github.com/AleutianAI/corpustok/services/tokenizer/remote"
	"github.com/AleutianAI/corpustok/services/tokenizer/status"
	"github.com/AleutianAI/corpustok/services/tokenizer/telemetry"
)

type runOptions struct {
	*rootOptions
	continueIDs bool
	statusAddr  string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Tokenize every project of the configured project lists",
		Long: `run creates the output directories, then processes the priority and
regular project lists with run.processes workers. It fails before doing
any work if an output directory already exists.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.continueIDs, "continue-ids", false, "Start file ids after the highest mark recorded in the ledger")
	cmd.Flags().StringVar(&opts.statusAddr, "status-addr", "", "Serve /healthz, /v1/status and /metrics on this address (overrides status_addr)")
	return cmd
}

func (o *runOptions) run(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	if o.statusAddr != "" {
		cfg.StatusAddr = o.statusAddr
	}

	runID := uuid.NewString()
	base := newLogger(cfg, cmd.ErrOrStderr())
	logger := base.With("run_id", runID)

	var led *ledger.Ledger
	if cfg.Paths.LedgerDir != "" {
		lcfg := ledger.DefaultConfig(cfg.Paths.LedgerDir)
		lcfg.Logger = logger
		led, err = ledger.Open(lcfg)
		if err != nil {
			return tokenizer.NewError(tokenizer.KindStartup, "open ledger", cfg.Paths.LedgerDir, err)
		}
		defer led.Close()
	}
	if o.continueIDs {
		if err := continueFileIDs(ctx, cfg, led, logger); err != nil {
			return err
		}
	}

	lists, err := cfg.LoadProjects(logger)
	if err != nil {
		return err
	}

	tel, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "corpustok",
		ServiceVersion: version,
		RunID:          runID,
		TraceExporter:  cfg.Telemetry.TraceExporter,
		MetricExporter: cfg.Telemetry.MetricExporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   true,
		Output:         cmd.ErrOrStderr(),
	})
	if err != nil {
		return tokenizer.NewError(tokenizer.KindStartup, "init telemetry", "", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err.Error())
		}
	}()

	var gcs *remote.Client
	var fetcher archive.Fetcher
	if needsGCS(cfg, lists) {
		gcs, err = remote.NewClient(ctx, cfg.Publish.CredentialsFile, logger)
		if err != nil {
			return tokenizer.NewError(tokenizer.KindStartup, "create gcs client", "", err)
		}
		defer gcs.Close()
		if cfg.Paths.DownloadDir != "" {
			gcs.SetTempDir(cfg.Paths.DownloadDir)
		}
		fetcher = gcs
	}

	var ln net.Listener
	if cfg.StatusAddr != "" {
		ln, err = net.Listen("tcp", cfg.StatusAddr)
		if err != nil {
			return tokenizer.NewError(tokenizer.KindStartup, "listen", cfg.StatusAddr, err)
		}
		defer ln.Close()
	}

	// Output directories are created last so a failed startup leaves
	// nothing behind that would block the next run.
	if err := cfg.PrepareOutputDirs(); err != nil {
		return err
	}
	var runLog *logging.Logger
	if cfg.Paths.LogsDir != "" {
		teed, err := base.Tee(filepath.Join(cfg.Paths.LogsDir, "corpustok.log"))
		if err != nil {
			logger.Warn("run log file disabled", "error", err.Error())
		} else {
			runLog = teed
			defer teed.Close()
			logger = teed.With("run_id", runID)
		}
	}
	abort := func(err error) error {
		if runLog != nil {
			_ = runLog.Close()
		}
		if rerr := cfg.RemoveOutputDirs(); rerr != nil {
			base.With("run_id", runID).Warn("remove output directories failed", "error", rerr.Error())
		}
		return err
	}

	w, err := newWorker(cfg, runID, led, fetcher, logger)
	if err != nil {
		return abort(err)
	}
	opts := []pool.Option{pool.WithLogger(logger)}
	if led != nil {
		opts = append(opts, pool.WithLedger(led))
	}
	p, err := pool.New(pool.Config{
		Processes:     cfg.Run.Processes,
		ProjectsBatch: cfg.Run.ProjectsBatch,
		BaseFileID:    cfg.Run.InitFileID,
		IDMultiplier:  cfg.Run.IDMultiplier,
		StallWarning:  cfg.Run.StallWarning,
		RunID:         runID,
	}, w, opts...)
	if err != nil {
		return abort(tokenizer.NewError(tokenizer.KindStartup, "create pool", "", err))
	}

	logger.Info("run started",
		"config", o.configPath,
		"language", cfg.LanguageName(),
		"mode", string(cfg.Mode()),
		"projects", lists.Len(),
		"priority", len(lists.Priority),
		"init_file_id", cfg.Run.InitFileID)

	var snap pool.Snapshot
	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServing := context.WithCancel(gctx)
	defer stopServing()
	g.Go(func() error {
		defer stopServing()
		var err error
		snap, err = p.Run(gctx, lists.Priority, lists.Regular)
		return err
	})
	if ln != nil {
		srv := status.NewServer(cfg.StatusAddr, status.NewRouter(status.NewHandlers(p, tel.MetricsHandler(), version), false), logger)
		g.Go(func() error {
			return srv.Serve(serveCtx, ln)
		})
	}
	runErr := g.Wait()

	printRunSummary(newPrinter(cmd.OutOrStdout()), runID, cfg, snap)
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			logger.Warn("run interrupted", "files", snap.Files, "projects", snap.Projects)
			return fmt.Errorf("run interrupted: %w", runErr)
		}
		return runErr
	}
	logger.Info("run finished", "files", snap.Files, "projects", snap.Projects, "errors", snap.Errors)

	if cfg.Publish.GCSBucket != "" {
		if err := publish(ctx, cfg, gcs, logger); err != nil {
			logger.Error("publish failed", "error", err.Error())
			return fmt.Errorf("publish: %w", err)
		}
	}
	return nil
}

// continueFileIDs raises run.init_file_id to the ledger's suggestion.
func continueFileIDs(ctx context.Context, cfg *config.Config, led *ledger.Ledger, logger *logging.Logger) error {
	if led == nil {
		return tokenizer.NewError(tokenizer.KindStartup, "continue ids", "",
			errors.New("--continue-ids requires paths.ledger_dir"))
	}
	next, err := led.SuggestInitFileID(ctx)
	if err != nil {
		return tokenizer.NewError(tokenizer.KindStartup, "continue ids", cfg.Paths.LedgerDir, err)
	}
	if next <= cfg.Run.InitFileID {
		return nil
	}
	if next >= cfg.Run.IDMultiplier {
		return tokenizer.NewError(tokenizer.KindStartup, "continue ids", cfg.Paths.LedgerDir,
			fmt.Errorf("suggested init_file_id %d does not fit id_multiplier %d", next, cfg.Run.IDMultiplier))
	}
	logger.Info("continuing file ids from ledger", "init_file_id", next, "configured", cfg.Run.InitFileID)
	cfg.Run.InitFileID = next
	return nil
}

func printRunSummary(p *ux.Printer, runID string, cfg *config.Config, snap pool.Snapshot) {
	var highest int64
	for _, r := range snap.Running {
		if r > highest {
			highest = r
		}
	}
	p.Table("Run Summary", []ux.Field{
		{Key: "Run ID", Value: runID},
		{Key: "Projects", Value: strconv.Itoa(snap.Projects)},
		{Key: "Files", Value: strconv.FormatInt(snap.Files, 10)},
		{Key: "Batches", Value: strconv.Itoa(snap.Spawns)},
		{Key: "Requeued", Value: strconv.Itoa(snap.Requeued)},
		{Key: "Dropped", Value: strconv.Itoa(snap.Dropped)},
		{Key: "Batch errors", Value: strconv.Itoa(snap.Errors)},
		{Key: "Next init file id", Value: strconv.FormatInt(cfg.Run.InitFileID+highest, 10)},
	})
	switch {
	case snap.Dropped > 0:
		p.Warning(fmt.Sprintf("%d projects were not processed", snap.Dropped))
	case snap.Finished:
		p.Success("all projects processed")
	}
}
