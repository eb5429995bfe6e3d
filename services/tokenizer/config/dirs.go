// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/AleutianAI/corpustok/services/tokenizer"
	"github.com/AleutianAI/corpustok/services/tokenizer/output"
)

// OutputDirs returns the three row directories.
func (c *Config) OutputDirs() output.Dirs {
	return output.Dirs{
		Stats:       c.Paths.StatsDir,
		Tokens:      c.Paths.TokensDir,
		Bookkeeping: c.Paths.BookkeepingDir,
	}
}

// PrepareOutputDirs creates the output directories of a fresh run.
//
// Description:
//
//	If any of the stats, bookkeeping, tokens or logs directories already
//	exists, nothing is created and a KindStartup error naming every
//	offending directory is returned. The ledger directory is cross-run
//	state and is not checked.
func (c *Config) PrepareOutputDirs() error {
	dirs := []string{c.Paths.StatsDir, c.Paths.BookkeepingDir, c.Paths.TokensDir}
	if c.Paths.LogsDir != "" {
		dirs = append(dirs, c.Paths.LogsDir)
	}

	var existing []string
	for _, d := range dirs {
		if _, err := os.Stat(d); err == nil {
			existing = append(existing, d)
		} else if !errors.Is(err, os.ErrNotExist) {
			return tokenizer.NewError(tokenizer.KindStartup, "stat output dir", d, err)
		}
	}
	if len(existing) > 0 {
		return tokenizer.NewError(tokenizer.KindStartup, "prepare output dirs", strings.Join(existing, ", "),
			fmt.Errorf("%w: %d of %d", tokenizer.ErrOutputExists, len(existing), len(dirs)))
	}

	for i, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			removeAll(dirs[:i])
			return tokenizer.NewError(tokenizer.KindStartup, "create output dir", d, err)
		}
	}
	return nil
}

// RemoveOutputDirs deletes the directories PrepareOutputDirs created.
// Only call it after a successful PrepareOutputDirs of the same run,
// when startup fails before any project was processed.
func (c *Config) RemoveOutputDirs() error {
	dirs := []string{c.Paths.StatsDir, c.Paths.BookkeepingDir, c.Paths.TokensDir}
	if c.Paths.LogsDir != "" {
		dirs = append(dirs, c.Paths.LogsDir)
	}
	return removeAll(dirs)
}

func removeAll(dirs []string) error {
	var errs []error
	for _, d := range dirs {
		if err := os.RemoveAll(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
