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
	"bufio"
	"fmt"
	"os"

	"github.com/AleutianAI/corpustok/pkg/logging"
	"github.com/AleutianAI/corpustok/pkg/validation"
	"github.com/AleutianAI/corpustok/services/tokenizer"
)

// ProjectLists is the work of one run.
type ProjectLists struct {
	// Priority projects are dispatched first, one per batch.
	Priority []tokenizer.Project

	// Regular projects keep project-list order.
	Regular []tokenizer.Project
}

// Len returns the total number of projects.
func (p ProjectLists) Len() int {
	return len(p.Priority) + len(p.Regular)
}

// LoadProjects reads the project list and the optional priority list.
//
// Description:
//
//	The ordinal of the project on line i (1-based, blank lines included)
//	is run.init_proj_id + i - 1. Blank lines yield no project. Lines that
//	fail validation are logged and skipped. A priority path that also
//	appears in the main list keeps its main-list ordinal and is removed from
//	the regular list; other priority paths are numbered after the main list.
func (c *Config) LoadProjects(logger *logging.Logger) (ProjectLists, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	main, next, err := c.readList(c.Paths.ProjectListFile, c.Run.InitProjID, logger)
	if err != nil {
		return ProjectLists{}, err
	}
	if c.Paths.PriorityProjectListFile == "" {
		return ProjectLists{Regular: main}, nil
	}

	prio, _, err := c.readList(c.Paths.PriorityProjectListFile, 0, logger)
	if err != nil {
		return ProjectLists{}, err
	}

	byPath := make(map[string]int, len(main))
	for i, p := range main {
		if _, dup := byPath[p.Path]; !dup {
			byPath[p.Path] = i
		}
	}

	var lists ProjectLists
	taken := make(map[int]bool, len(prio))
	seen := make(map[string]bool, len(prio))
	for _, p := range prio {
		if seen[p.Path] {
			continue
		}
		seen[p.Path] = true
		if i, ok := byPath[p.Path]; ok {
			taken[i] = true
			lists.Priority = append(lists.Priority, main[i])
			continue
		}
		p.Ordinal = next
		next++
		lists.Priority = append(lists.Priority, p)
	}
	for i, p := range main {
		if !taken[i] {
			lists.Regular = append(lists.Regular, p)
		}
	}
	return lists, nil
}

// readList parses one list file. It returns the projects and the ordinal
// following the last line.
func (c *Config) readList(path string, first int64, logger *logging.Logger) ([]tokenizer.Project, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, tokenizer.NewError(tokenizer.KindStartup, "open project list", path, err)
	}
	defer f.Close()

	format := c.Format()
	var projects []tokenizer.Project

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	ordinal := first
	for line := 1; scanner.Scan(); line++ {
		raw := scanner.Text()
		cur := ordinal
		ordinal++

		if isBlank(raw) {
			continue
		}
		p, err := validation.SanitizeProjectPath(raw)
		if err != nil {
			logger.Warn("project list line skipped", "list", path, "line", line, "error", err.Error())
			continue
		}

		pf := format
		if pf == tokenizer.FormatAuto {
			pf = tokenizer.DetectFormat(p)
		}
		projects = append(projects, tokenizer.Project{Ordinal: cur, Path: p, Format: pf})
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, tokenizer.NewError(tokenizer.KindStartup, "read project list", path,
			fmt.Errorf("after line %d: %w", ordinal-first, err))
	}
	return projects, ordinal, nil
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\r' {
			return false
		}
	}
	return true
}
