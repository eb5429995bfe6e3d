// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ids allocates file and block identifiers that are unique across
// every worker of a run without any coordination.
//
// # File ids
//
// Worker w owns the half-open range [w*M, (w+1)*M) where M is the id
// multiplier. Inside it, ids are handed out sequentially starting at
// w*M + base + running, where running is the number of files the worker
// has already allocated in earlier batches:
//
//	file_id = w*M + base + running
//
// # Block ids
//
// A block id is the pair (file id, block index). Its legacy text form is
// the decimal 10000+index followed by the decimal file id, so it always
// starts with five digits and structurally contains its file id.
package ids

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/AleutianAI/corpustok/services/tokenizer"
)

const (
	// DefaultMultiplier is the default width of a worker's id partition.
	DefaultMultiplier int64 = 50_000_000

	// MaxBlocksPerFile is the largest number of blocks a file may have.
	// 10000+index must stay a five-digit number.
	MaxBlocksPerFile = 90_000

	blockIndexOffset = 10_000
)

// ErrPartitionExhausted indicates the next id would leave the worker's range.
var ErrPartitionExhausted = errors.New("file id partition exhausted")

// Allocator hands out file ids for one worker.
//
// Thread Safety: NOT safe for concurrent use. Each worker owns exactly one.
type Allocator struct {
	worker int
	mult   int64
	base   int64
	count  int64
}

// NewAllocator creates the allocator for worker, continuing after running
// ids already consumed from base.
//
// Inputs:
//
//	worker - Worker id, >= 0.
//	mult - Partition width, > 0.
//	base - First offset inside the partition (run.init_file_id).
//	running - Files this worker allocated before this batch.
func NewAllocator(worker int, mult, base, running int64) (*Allocator, error) {
	if worker < 0 {
		return nil, fmt.Errorf("negative worker id %d", worker)
	}
	if mult <= 0 {
		return nil, fmt.Errorf("id multiplier must be positive, got %d", mult)
	}
	if base < 0 || running < 0 {
		return nil, fmt.Errorf("negative id offset (base %d, running %d)", base, running)
	}
	return &Allocator{worker: worker, mult: mult, base: base, count: running}, nil
}

// Next returns the next file id.
//
// Returns a KindIDSpace error wrapping ErrPartitionExhausted, without
// consuming anything, when the id would fall outside the partition.
func (a *Allocator) Next() (int64, error) {
	offset := a.base + a.count
	if offset >= a.mult {
		return 0, tokenizer.NewError(tokenizer.KindIDSpace, "allocate",
			fmt.Sprintf("worker %d", a.worker), ErrPartitionExhausted)
	}
	a.count++
	return int64(a.worker)*a.mult + offset, nil
}

// Count returns the worker's running count, including ids allocated by
// earlier allocators for the same worker.
func (a *Allocator) Count() int64 {
	return a.count
}

// Range returns the worker's partition as [lo, hi).
func (a *Allocator) Range() (lo, hi int64) {
	lo = int64(a.worker) * a.mult
	return lo, lo + a.mult
}

// BlockID identifies one block of one file.
type BlockID struct {
	File  int64
	Index int
}

// NewBlockID validates index and builds a BlockID.
func NewBlockID(file int64, index int) (BlockID, error) {
	if index < 0 || index >= MaxBlocksPerFile {
		return BlockID{}, tokenizer.NewError(tokenizer.KindOverflow, "block id",
			strconv.FormatInt(file, 10), tokenizer.ErrTooManyBlocks)
	}
	return BlockID{File: file, Index: index}, nil
}

// String returns the legacy decimal form, e.g. index 0 of file 42 is "1000042".
func (b BlockID) String() string {
	return strconv.Itoa(blockIndexOffset+b.Index) + strconv.FormatInt(b.File, 10)
}
