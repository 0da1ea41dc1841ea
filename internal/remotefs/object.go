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

	"github.com/cardinalhq/tablesink/internal/cloudstorage"
	"github.com/cardinalhq/tablesink/internal/idgen"
)

// ObjectFS writes files to object storage. Bytes are spooled to a local temp
// file while the writer is open; Close uploads the spool to bucket/path and
// removes it. Object stores have no append primitive, so durability is
// all-or-nothing at Close.
type ObjectFS struct {
	client cloudstorage.Client
	bucket string
	tmpDir string
}

// NewObjectFS returns a filesystem that uploads into bucket through client,
// spooling under tmpDir (empty means the OS temp dir).
func NewObjectFS(client cloudstorage.Client, bucket, tmpDir string) *ObjectFS {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &ObjectFS{client: client, bucket: bucket, tmpDir: tmpDir}
}

func (fs *ObjectFS) NewWritableFile(ctx context.Context, opts WritableFileOptions, path string) (WritableFile, error) {
	if opts.MustCreate {
		exists, err := fs.client.ObjectExists(ctx, fs.bucket, path)
		if err != nil {
			return nil, fmt.Errorf("check object %s: %w", path, err)
		}
		if exists {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, path)
		}
	}

	spool := filepath.Join(fs.tmpDir, fmt.Sprintf("sinkspool-%s-%s", idgen.GenerateShortBase32ID(), filepath.Base(path)))
	f, err := os.OpenFile(spool, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	return &objectFile{
		client:     fs.client,
		bucket:     fs.bucket,
		key:        path,
		spool:      f,
		sync:       opts.SyncOnClose,
		mustCreate: opts.MustCreate,
	}, nil
}

type objectFile struct {
	client     cloudstorage.Client
	bucket     string
	key        string
	spool      *os.File
	sync       bool
	mustCreate bool
	closed     bool
	closeErr   error
}

func (w *objectFile) Write(p []byte) (int, error) {
	return w.spool.Write(p)
}

// Close uploads the spool to bucket/key. A failed Close stays failed on
// repeat calls; the spool is left for Discard.
func (w *objectFile) Close(ctx context.Context) error {
	if w.closed {
		return w.closeErr
	}
	w.closed = true
	w.closeErr = w.close(ctx)
	return w.closeErr
}

func (w *objectFile) close(ctx context.Context) error {
	name := w.spool.Name()
	if w.sync {
		if err := w.spool.Sync(); err != nil {
			_ = w.spool.Close()
			return fmt.Errorf("sync spool %s: %w", name, err)
		}
	}
	if err := w.spool.Close(); err != nil {
		return fmt.Errorf("close spool %s: %w", name, err)
	}
	// Create-new semantics are re-checked at upload time: the open-time check
	// cannot see an object that landed while this file was being written.
	if w.mustCreate {
		exists, err := w.client.ObjectExists(ctx, w.bucket, w.key)
		if err != nil {
			return fmt.Errorf("check object %s: %w", w.key, err)
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, w.key)
		}
	}
	if err := w.client.UploadObject(ctx, w.bucket, w.key, name); err != nil {
		return err
	}
	return os.Remove(name)
}

func (w *objectFile) Discard() error {
	name := w.spool.Name()
	_ = w.spool.Close()
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
