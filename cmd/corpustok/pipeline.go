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
	"strings"

	"github.com/AleutianAI/corpustok/pkg/logging"
	"github.com/AleutianAI/corpustok/services/tokenizer"
	"github.com/AleutianAI/corpustok/services/tokenizer/archive"
	"github.com/AleutianAI/corpustok/services/tokenizer/ast"
	"github.com/AleutianAI/corpustok/services/tokenizer/config"
	"github.com/AleutianAI/corpustok/services/tokenizer/ledger"
	"github.com/AleutianAI/corpustok/services/tokenizer/normalize"
	"github.com/AleutianAI/corpustok/services/tokenizer/remote"
	"github.com/AleutianAI/corpustok/services/tokenizer/tokens"
	"github.com/AleutianAI/corpustok/services/tokenizer/worker"
)

// newWorker wires the pipeline stages described by cfg.
func newWorker(cfg *config.Config, runID string, led *ledger.Ledger, fetcher archive.Fetcher, logger *logging.Logger) (*worker.Worker, error) {
	norm, err := normalize.New(normalize.Rules{
		InlineComment: cfg.Language.CommentInline,
		BlockOpen:     cfg.Language.CommentBlockOpen,
		BlockClose:    cfg.Language.CommentBlockClose,
	})
	if err != nil {
		return nil, tokenizer.NewError(tokenizer.KindStartup, "compile comment rules", "", err)
	}

	kit := worker.Toolkit{
		Reader: archive.NewReader(archive.Options{
			Extensions:   cfg.Language.Extensions,
			MaxFileBytes: cfg.Language.MaxFileBytes,
			Fetcher:      fetcher,
			Logger:       logger,
		}),
		Normalizer: norm,
		Tokenizer:  tokens.New(cfg.Language.Separators),
		Ledger:     led,
		Logger:     logger,
	}
	if cfg.Mode() == tokenizer.ModeBlock {
		registry := ast.NewDefaultRegistry(ast.WithMaxDepth(cfg.Language.MaxDepth))
		kit.Extractor, err = registry.Get(cfg.LanguageName())
		if err != nil {
			return nil, tokenizer.NewError(tokenizer.KindStartup, "select extractor", cfg.LanguageName(), err)
		}
	}

	w, err := worker.New(worker.Settings{
		Dirs:         cfg.OutputDirs(),
		LogsDir:      cfg.Paths.LogsDir,
		Mode:         cfg.Mode(),
		ProjIDPrefix: cfg.Run.ProjIDPrefix,
		IDMultiplier: cfg.Run.IDMultiplier,
		BaseFileID:   cfg.Run.InitFileID,
		BatchTimeout: cfg.Run.BatchTimeout,
		RunID:        runID,
	}, kit)
	if err != nil {
		return nil, tokenizer.NewError(tokenizer.KindStartup, "create worker", "", err)
	}
	return w, nil
}

// needsGCS reports whether any project lives in GCS or publishing is on.
func needsGCS(cfg *config.Config, lists config.ProjectLists) bool {
	if cfg.Publish.GCSBucket != "" {
		return true
	}
	for _, list := range [][]tokenizer.Project{lists.Priority, lists.Regular} {
		for _, p := range list {
			if strings.HasPrefix(p.Path, "gs://") {
				return true
			}
		}
	}
	return false
}

// publish uploads the row directories to the configured bucket.
func publish(ctx context.Context, cfg *config.Config, client *remote.Client, logger *logging.Logger) error {
	dirs := cfg.OutputDirs()
	for _, dir := range []string{dirs.Stats, dirs.Tokens, dirs.Bookkeeping} {
		logger.Info("publishing output directory", "dir", dir, "bucket", cfg.Publish.GCSBucket, "prefix", cfg.Publish.Prefix)
		if err := client.UploadDir(ctx, cfg.Publish.GCSBucket, dir, cfg.Publish.Prefix); err != nil {
			return err
		}
	}
	return nil
}
