// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package archive

import (
	"context"
	"io"

	"github.com/klauspost/compress/zip"

	"github.com/AleutianAI/corpustok/services/tokenizer"
)

// zip walks a zip archive in central-directory order.
func (w *walk) zip(ctx context.Context, local string) error {
	zr, err := zip.OpenReader(local)
	if err != nil {
		return tokenizer.NewError(tokenizer.KindProject, "open zip", w.project.Path,
			joinCorrupt(err))
	}
	defer zr.Close()

	for _, f := range zr.File {
		w.stats.Entries++
		if !f.FileInfo().Mode().IsRegular() {
			continue
		}
		if !w.accept(f.Name) {
			continue
		}

		size := int64(f.UncompressedSize64)
		if err := w.deliver(ctx, f.Name, size, func() (io.ReadCloser, error) { return f.Open() }); err != nil {
			return err
		}
	}
	return nil
}
