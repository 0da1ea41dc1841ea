// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package remotefs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalFS writes files under a base directory. It is intended for tests and
// the local tooling path.
type LocalFS struct {
	base string
}

// NewLocalFS returns a filesystem rooted at base.
func NewLocalFS(base string) *LocalFS {
	return &LocalFS{base: base}
}

func (fs *LocalFS) NewWritableFile(ctx context.Context, opts WritableFileOptions, path string) (WritableFile, error) {
	full := filepath.Join(fs.base, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("create parent directories: %w", err)
	}

	flags := os.O_WRONLY | os.O_CREATE
	if opts.MustCreate {
		flags |= os.O_EXCL
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(full, flags, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, full)
		}
		return nil, err
	}
	return &localFile{f: f, sync: opts.SyncOnClose}, nil
}

type localFile struct {
	f    *os.File
	sync bool
}

func (w *localFile) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

func (w *localFile) Close(ctx context.Context) error {
	if w.sync {
		if err := w.f.Sync(); err != nil {
			_ = w.f.Close()
			return fmt.Errorf("sync %s: %w", w.f.Name(), err)
		}
	}
	return w.f.Close()
}

func (w *localFile) Discard() error {
	name := w.f.Name()
	_ = w.f.Close()
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
