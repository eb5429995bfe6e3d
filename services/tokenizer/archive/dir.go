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
	"io/fs"
	"os"
	"path/filepath"
)

// dir walks a directory tree in lexical order. Symlinks are not followed.
func (w *walk) dir(ctx context.Context, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			w.skip(p, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if p == root {
			return nil
		}
		w.stats.Entries++
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			w.skip(p, err)
			return nil
		}
		name := filepath.ToSlash(rel)
		if !w.accept(name) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			w.skip(name, err)
			return nil
		}
		return w.deliver(ctx, name, info.Size(), func() (io.ReadCloser, error) { return os.Open(p) })
	})
}
