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

// Package parquetwriter owns the per-partition parquet file writers of the
// table sink: lazy file creation, size-budget based rolling, and final
// flushing of every open partition file.
package parquetwriter

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/cardinalhq/tablesink/internal/pipeline"
	"github.com/cardinalhq/tablesink/internal/remotefs"
)

// Common errors returned by the registry and its writers.
var (
	ErrWriterClosed      = errors.New("parquetwriter: registry is already closed")
	ErrUnsupportedFormat = errors.New("parquetwriter: unsupported file format")
)

// Result describes one finalized output file.
type Result struct {
	// Path is the table-relative path of the file, as registered with the
	// metadata service.
	Path string

	// PartitionKey is the partition the file belongs to.
	PartitionKey string

	// RecordCount is the number of rows written to the file.
	RecordCount int64

	// FileSize is the encoded size of the file in bytes.
	FileSize int64
}

// PartitionWriter is a live writer bound to exactly one partition key. It
// wraps one open output file, the parquet encoder state, and a running byte
// size. The registry exclusively owns it.
type PartitionWriter struct {
	key  string
	path string

	file remotefs.WritableFile
	cw   *countingWriter
	pw   *parquet.GenericWriter[map[string]any]

	rowGroupBytes int64
	unflushed     int64
	appended      int64
	rows          int64
	finished      bool
	finishErr     error
}

// Path returns the output file path this writer produces.
func (w *PartitionWriter) Path() string {
	return w.path
}

// FileSize reports the accumulated byte size: bytes already emitted to the
// file, or the running estimate of everything appended when that is larger.
// The encoder holds flushed row groups in its own write buffer, so emitted
// bytes lag behind what was appended; the estimate never resets, so the
// reported size cannot collapse after a flush. The registry compares this
// against the per-file budget to decide rolling.
func (w *PartitionWriter) FileSize() int64 {
	if w.cw.n > w.appended {
		return w.cw.n
	}
	return w.appended
}

// Append encodes all rows of the batch into the file. Once the estimated
// buffered size reaches the row group budget, the encoder is flushed so the
// file size tracks what was actually written.
func (w *PartitionWriter) Append(batch *pipeline.Batch) error {
	if w.finished {
		return ErrWriterClosed
	}
	if batch.Len() == 0 {
		return nil
	}

	rows := make([]map[string]any, 0, batch.Len())
	var estimate int64
	for i := 0; i < batch.Len(); i++ {
		row := pipeline.ToStringMap(batch.Get(i))
		estimate += estimateRowBytes(row)
		rows = append(rows, row)
	}

	if _, err := w.pw.Write(rows); err != nil {
		return fmt.Errorf("append %d rows to %s: %w", len(rows), w.path, err)
	}
	w.rows += int64(len(rows))
	w.unflushed += estimate
	w.appended += estimate

	if w.unflushed >= w.rowGroupBytes {
		if err := w.pw.Flush(); err != nil {
			return fmt.Errorf("flush row group to %s: %w", w.path, err)
		}
		w.unflushed = 0
	}
	return nil
}

// Finish closes the parquet encoder and the underlying file, making the file
// durable. Repeated calls return the outcome of the first: a writer whose
// finalization failed stays failed and never reports success later.
func (w *PartitionWriter) Finish(ctx context.Context) error {
	if w.finished {
		return w.finishErr
	}
	w.finished = true

	if err := w.pw.Close(); err != nil {
		_ = w.file.Discard()
		w.finishErr = fmt.Errorf("close parquet writer for %s: %w", w.path, err)
		return w.finishErr
	}
	w.unflushed = 0
	if err := w.file.Close(ctx); err != nil {
		w.finishErr = fmt.Errorf("close output file %s: %w", w.path, err)
		return w.finishErr
	}
	return nil
}

// abort abandons the file without making it durable.
func (w *PartitionWriter) abort() error {
	w.finished = true
	return w.file.Discard()
}

// countingWriter tracks how many bytes the encoder has emitted to the file.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
