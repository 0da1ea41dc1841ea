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

// Package remotefs abstracts the write target of the table sink: a local
// filesystem for tests and tooling, or object storage reached through the
// cloudstorage client.
package remotefs

import (
	"context"
	"errors"
	"io"
)

// ErrAlreadyExists is returned by NewWritableFile when MustCreate is set and
// the target path already exists.
var ErrAlreadyExists = errors.New("remotefs: file already exists")

// WritableFileOptions control how a new file is created.
type WritableFileOptions struct {
	// MustCreate fails the open when the target path already exists.
	MustCreate bool
	// SyncOnClose flushes file contents to durable storage before Close returns.
	SyncOnClose bool
}

// WritableFile is a single output file being written. Bytes become durable
// only once Close returns nil.
type WritableFile interface {
	io.Writer

	// Close finalizes the file. For object storage this is where the upload
	// happens, so it may block on network I/O.
	Close(ctx context.Context) error

	// Discard abandons the file without making it durable, releasing any
	// local spool resources. Safe to call after a failed Close.
	Discard() error
}

// FileSystem creates writable files at slash-separated paths.
type FileSystem interface {
	NewWritableFile(ctx context.Context, opts WritableFileOptions, path string) (WritableFile, error)
}
