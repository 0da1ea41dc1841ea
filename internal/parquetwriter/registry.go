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

package parquetwriter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/parquet-go/parquet-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/tablesink/internal/logctx"
	"github.com/cardinalhq/tablesink/internal/remotefs"
)

var (
	filesCreatedCounter   metric.Int64Counter
	filesFinalizedCounter metric.Int64Counter
	rowsWrittenCounter    metric.Int64Counter
	bytesWrittenCounter   metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/tablesink/internal/parquetwriter")

	var err error
	filesCreatedCounter, err = meter.Int64Counter(
		"tablesink.writer.files.created",
		metric.WithDescription("Number of partition data files opened"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create files.created counter: %w", err))
	}

	filesFinalizedCounter, err = meter.Int64Counter(
		"tablesink.writer.files.finalized",
		metric.WithDescription("Number of partition data files finalized"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create files.finalized counter: %w", err))
	}

	rowsWrittenCounter, err = meter.Int64Counter(
		"tablesink.writer.rows",
		metric.WithDescription("Number of rows written to partition data files"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create rows counter: %w", err))
	}

	bytesWrittenCounter, err = meter.Int64Counter(
		"tablesink.writer.bytes",
		metric.WithDescription("Encoded bytes of finalized partition data files"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create bytes counter: %w", err))
	}
}

// Registry owns zero-or-one live PartitionWriter per partition key. It
// handles lazy creation, size-based rolling, and the final flush of every
// open writer. The registry is not safe for concurrent use; the owning
// execution fragment serializes calls into the sink.
type Registry struct {
	config  WriterConfig
	schema  *parquet.Schema
	writers map[string]*PartitionWriter
	results []Result

	lastFileMillis int64
	closed         bool
	finishErr      error
}

// NewRegistry validates the configuration and returns an empty registry.
func NewRegistry(config WriterConfig) (*Registry, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Registry{
		config:  config,
		schema:  parquet.NewSchema("tablesink", parquet.Group(config.Nodes)),
		writers: make(map[string]*PartitionWriter),
	}, nil
}

// GetOrCreate returns the live writer for key, creating one when none exists.
// When the existing writer has reached the per-file byte budget it is
// finalized and removed first, and a fresh file is opened under the same key.
func (r *Registry) GetOrCreate(ctx context.Context, key string) (*PartitionWriter, error) {
	if r.closed {
		return nil, ErrWriterClosed
	}

	if w, ok := r.writers[key]; ok {
		if w.FileSize() < r.config.BytesPerFile {
			return w, nil
		}
		// Roll: finalize the full file and open a new one for this key.
		if err := r.finishWriter(ctx, w); err != nil {
			return nil, err
		}
		delete(r.writers, key)
	}

	ext, err := extensionForFormat(r.config.FileFormat)
	if err != nil {
		return nil, err
	}

	path := r.config.Location + "/data/" + key + r.nextFileName(ext)
	opts := remotefs.WritableFileOptions{MustCreate: true, SyncOnClose: true}
	file, err := r.config.FS.NewWritableFile(ctx, opts, path)
	if err != nil {
		return nil, fmt.Errorf("open writable file %s: %w", path, err)
	}

	writerConfig, err := parquet.NewWriterConfig(r.config.writerOptions(r.schema)...)
	if err != nil {
		_ = file.Discard()
		return nil, fmt.Errorf("create parquet writer config: %w", err)
	}

	cw := &countingWriter{w: file}
	w := &PartitionWriter{
		key:           key,
		path:          path,
		file:          file,
		cw:            cw,
		pw:            parquet.NewGenericWriter[map[string]any](cw, writerConfig),
		rowGroupBytes: r.config.rowGroupBytes(),
	}
	r.writers[key] = w
	filesCreatedCounter.Add(ctx, 1)
	return w, nil
}

// FinishAll finalizes every still-open writer and returns the records of all
// files produced during the registry's lifetime, including rolled files. The
// first finalization failure aborts the remaining ones and is sticky: later
// calls report it again rather than success, so a file that was never made
// durable is never handed to the commit path. Calling FinishAll with no open
// writers is a no-op success, as is calling it twice.
func (r *Registry) FinishAll(ctx context.Context) ([]Result, error) {
	if r.closed {
		return r.results, r.finishErr
	}
	r.closed = true

	for key, w := range r.writers {
		if err := r.finishWriter(ctx, w); err != nil {
			r.finishErr = err
			return nil, err
		}
		delete(r.writers, key)
	}
	return r.results, nil
}

// Results returns the records of files finalized so far.
func (r *Registry) Results() []Result {
	return r.results
}

// Abort discards every still-open writer without making its file durable.
// Files already finalized are left in place; the metadata service never
// learns about them, so they are orphaned rather than rolled back.
func (r *Registry) Abort(ctx context.Context) {
	r.closed = true

	var errs *multierror.Error
	for key, w := range r.writers {
		if err := w.abort(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("partition %q: %w", key, err))
		}
		delete(r.writers, key)
	}
	if err := errs.ErrorOrNil(); err != nil {
		logctx.FromContext(ctx).Warn("failed to discard partition writers", "error", err)
	}
}

func (r *Registry) finishWriter(ctx context.Context, w *PartitionWriter) error {
	if err := w.Finish(ctx); err != nil {
		return err
	}
	r.results = append(r.results, Result{
		Path:         w.path,
		PartitionKey: w.key,
		RecordCount:  w.rows,
		FileSize:     w.cw.n,
	})
	filesFinalizedCounter.Add(ctx, 1)
	rowsWrittenCounter.Add(ctx, w.rows)
	bytesWrittenCounter.Add(ctx, w.cw.n)
	return nil
}

// nextFileName generates <prefix>_<nodeID>_<millis><ext>. The millis value is
// bumped forward when the clock has not advanced since the previous name, so
// rolling always yields a new, monotonically ordered path.
func (r *Registry) nextFileName(ext string) string {
	now := time.Now().UnixMilli()
	if now <= r.lastFileMillis {
		now = r.lastFileMillis + 1
	}
	r.lastFileMillis = now
	return fmt.Sprintf("%s_%d_%d%s", r.config.FileNamePrefix, r.config.NodeID, now, ext)
}

func extensionForFormat(format string) (string, error) {
	switch strings.ToLower(format) {
	case FormatParquet:
		return ".parquet", nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnsupportedFormat, format)
	}
}
