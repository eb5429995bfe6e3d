// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pool

import "github.com/AleutianAI/corpustok/services/tokenizer"

// supply hands out batches in dispatch order: re-queued projects first,
// then priority projects one per batch, then the regular list in input
// order.
//
// Thread Safety: not safe for concurrent use; owned by the pool loop.
type supply struct {
	front    []tokenizer.Project
	priority []tokenizer.Project
	regular  []tokenizer.Project
}

func newSupply(priority, regular []tokenizer.Project) *supply {
	return &supply{
		priority: append([]tokenizer.Project(nil), priority...),
		regular:  append([]tokenizer.Project(nil), regular...),
	}
}

func (s *supply) len() int {
	return len(s.front) + len(s.priority) + len(s.regular)
}

// next pops up to size projects.
func (s *supply) next(size int) []tokenizer.Project {
	switch {
	case len(s.front) > 0:
		return take(&s.front, size)
	case len(s.priority) > 0:
		return take(&s.priority, 1)
	default:
		return take(&s.regular, size)
	}
}

// requeue puts projects back at the front, ahead of everything else.
func (s *supply) requeue(projects []tokenizer.Project) {
	s.front = append(append([]tokenizer.Project(nil), projects...), s.front...)
}

func take(list *[]tokenizer.Project, n int) []tokenizer.Project {
	if n > len(*list) {
		n = len(*list)
	}
	batch := append([]tokenizer.Project(nil), (*list)[:n]...)
	*list = (*list)[n:]
	return batch
}
