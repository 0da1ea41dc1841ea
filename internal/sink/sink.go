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

// Package sink implements the write path of a query fragment's table output:
// batches are projected to the table's output shape, split by partition key,
// appended to per-partition parquet files, and the finished files are
// registered with the table's metadata service on close.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cardinalhq/tablesink/internal/cluster"
	"github.com/cardinalhq/tablesink/internal/logctx"
	"github.com/cardinalhq/tablesink/internal/metadata"
	"github.com/cardinalhq/tablesink/internal/parquetwriter"
	"github.com/cardinalhq/tablesink/internal/partition"
	"github.com/cardinalhq/tablesink/internal/pipeline"
	"github.com/cardinalhq/tablesink/internal/pipeline/wkk"
	"github.com/cardinalhq/tablesink/internal/remotefs"
)

// ErrBadState is returned when a lifecycle call arrives out of order. That is
// a programming-contract violation by the caller, not a recoverable runtime
// condition.
var ErrBadState = errors.New("sink: invalid lifecycle transition")

// maxWriteTimeout caps the per-write RPC timeout derived from the ambient
// query timeout.
const maxWriteTimeout = time.Hour

// State is the sink's lifecycle state.
type State int

const (
	StateCreated State = iota
	StateInitialized
	StatePrepared
	StateOpened
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StatePrepared:
		return "prepared"
	case StateOpened:
		return "opened"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// Config is the static sink configuration, fixed at Init and never changed.
type Config struct {
	// Table identifies the owning table at the metadata service.
	Table metadata.TableRef

	// Location is the table's base location on the target filesystem.
	Location string

	// FileFormat selects the data file encoding ("parquet").
	FileFormat string

	// FileNamePrefix is the leading component of generated file names.
	FileNamePrefix string

	// BytesPerFile is the per-file size budget that triggers rolling.
	BytesPerFile int64

	// PartitionSpec is the table's declarative partition specification.
	PartitionSpec partition.Spec

	// OutputSchema is the target row shape, in field order.
	OutputSchema []Field

	// Projection is the optional output expression list. When empty, incoming
	// rows are taken as already shaped like OutputSchema.
	Projection []Expr

	// QueryTimeout is the ambient timeout of the owning query.
	QueryTimeout time.Duration

	// FragmentID identifies the owning execution fragment, for logging.
	FragmentID uuid.UUID
}

// Validate checks the static configuration.
func (c *Config) Validate() error {
	if c.Location == "" {
		return errors.New("sink: no table location configured")
	}
	if len(c.OutputSchema) == 0 {
		return errors.New("sink: output schema has no fields")
	}
	if c.BytesPerFile <= 0 {
		return errors.New("sink: bytes per file must be positive")
	}
	return nil
}

// TableSink is the top-level orchestrator of the write path. It executes
// single-threaded within one fragment; the surrounding execution serializes
// calls into it.
type TableSink struct {
	cfg   Config
	state State

	eval     Evaluator
	fs       remotefs.FileSystem
	info     cluster.Info
	reporter *metadata.Reporter

	deriver      *partition.KeyDeriver
	registry     *parquetwriter.Registry
	outputKeys   []wkk.RowKey
	writeTimeout time.Duration
	results      []parquetwriter.Result
}

// New wires a sink to its collaborators. A nil reporter skips the commit on
// close; the produced file list is still available through WrittenFiles for
// whoever does commit-adjacent bookkeeping above this layer.
func New(eval Evaluator, fs remotefs.FileSystem, info cluster.Info, reporter *metadata.Reporter) *TableSink {
	return &TableSink{
		eval:     eval,
		fs:       fs,
		info:     info,
		reporter: reporter,
		state:    StateCreated,
	}
}

// State returns the current lifecycle state.
func (s *TableSink) State() State {
	return s.state
}

// Init validates and stores the static sink configuration.
func (s *TableSink) Init(cfg Config) error {
	if s.state != StateCreated {
		return fmt.Errorf("%w: init in state %s", ErrBadState, s.state)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(cfg.Projection) > 0 && s.eval == nil {
		return errors.New("sink: projection configured without an expression evaluator")
	}

	s.cfg = cfg
	// Day truncation references the process default zone, which main pins
	// to UTC.
	s.deriver = partition.NewKeyDeriver(cfg.PartitionSpec, time.Local)
	s.state = StateInitialized
	return nil
}

// Prepare resolves the output row shape and validates the projection against
// it, failing fast on arity or kind mismatches.
func (s *TableSink) Prepare(ctx context.Context) error {
	if s.state != StateInitialized {
		return fmt.Errorf("%w: prepare in state %s", ErrBadState, s.state)
	}
	logctx.FromContext(ctx).Debug("preparing table sink",
		"fragmentID", s.cfg.FragmentID.String(), "tableID", s.cfg.Table.TableID)

	s.outputKeys = make([]wkk.RowKey, len(s.cfg.OutputSchema))
	for i, field := range s.cfg.OutputSchema {
		s.outputKeys[i] = wkk.NewRowKey(field.Name)
	}

	if len(s.cfg.Projection) > 0 {
		if len(s.cfg.Projection) != len(s.cfg.OutputSchema) {
			return fmt.Errorf("sink: projection has %d expressions for %d output fields",
				len(s.cfg.Projection), len(s.cfg.OutputSchema))
		}
		for i, expr := range s.cfg.Projection {
			field := s.cfg.OutputSchema[i]
			kind := s.eval.ResultKind(expr)
			if kind != KindUnknown && kind != field.Kind {
				return fmt.Errorf("sink: expression %d yields %s, output field %q wants %s",
					i, kind, field.Name, field.Kind)
			}
		}
	}

	s.state = StatePrepared
	return nil
}

// Open finalizes per-run derived values and allocates the writer registry.
func (s *TableSink) Open(ctx context.Context) error {
	if s.state != StatePrepared {
		return fmt.Errorf("%w: open in state %s", ErrBadState, s.state)
	}

	if s.eval != nil {
		if err := s.eval.Open(ctx); err != nil {
			return fmt.Errorf("open expression context: %w", err)
		}
	}

	s.writeTimeout = s.cfg.QueryTimeout
	if s.writeTimeout <= 0 || s.writeTimeout > maxWriteTimeout {
		s.writeTimeout = maxWriteTimeout
	}

	nodes, err := ParquetNodes(s.cfg.OutputSchema)
	if err != nil {
		return err
	}
	var nodeID int64
	if s.info != nil {
		nodeID = s.info.NodeID()
	}
	registry, err := parquetwriter.NewRegistry(parquetwriter.WriterConfig{
		Location:       s.cfg.Location,
		FileNamePrefix: s.cfg.FileNamePrefix,
		NodeID:         nodeID,
		FileFormat:     s.cfg.FileFormat,
		BytesPerFile:   s.cfg.BytesPerFile,
		Nodes:          nodes,
		FS:             s.fs,
	})
	if err != nil {
		return err
	}
	s.registry = registry
	s.state = StateOpened
	return nil
}

// Send writes one batch: project, split by partition key, and append each
// sub-batch to its partition writer. The first failing partition aborts the
// remaining ones.
func (s *TableSink) Send(ctx context.Context, batch *pipeline.Batch) error {
	if s.state != StateOpened {
		return fmt.Errorf("%w: send in state %s", ErrBadState, s.state)
	}
	ll := logctx.FromContext(ctx)

	out, err := s.project(ctx, batch)
	if err != nil {
		return err
	}

	grouping, err := partition.PartitionBatch(out, s.deriver)
	if err != nil {
		return err
	}

	if key, ok := grouping.Single(); ok {
		// One partition: write the batch in place, skipping the gather copy.
		return s.writeToPartition(ctx, key, out)
	}
	for _, key := range grouping.Keys {
		sub := out.Gather(grouping.Rows[key])
		if err := s.writeToPartition(ctx, key, sub); err != nil {
			ll.Warn("write to partition failed", "partition", key, "error", err)
			return err
		}
	}
	return nil
}

// Close finalizes every partition writer and, only when files were produced,
// registers them with the metadata service. A finalization failure takes
// precedence over (and bypasses) the commit. The upstream status does not
// suppress the commit: files already written stay registered even when
// upstream execution failed.
func (s *TableSink) Close(ctx context.Context, upstream error) error {
	if s.state != StateOpened {
		return fmt.Errorf("%w: close in state %s", ErrBadState, s.state)
	}
	s.state = StateClosed
	ll := logctx.FromContext(ctx)

	if s.eval != nil {
		s.eval.Close(ctx)
	}

	finishCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	results, err := s.registry.FinishAll(finishCtx)
	if err != nil {
		s.registry.Abort(ctx)
		return err
	}
	s.results = results

	if len(results) == 0 {
		return nil
	}
	if upstream != nil {
		ll.Warn("upstream reported failure; registering already produced files anyway",
			"error", upstream)
	}

	paths := s.WrittenFiles()
	ll.Info("table sink produced data files", "fileCount", len(paths), "files", paths)
	if s.reporter == nil {
		return nil
	}
	return s.reporter.Commit(ctx, paths, s.cfg.Table)
}

// WrittenFiles returns the paths of all files finalized by this sink.
func (s *TableSink) WrittenFiles() []string {
	paths := make([]string, 0, len(s.results))
	for _, r := range s.results {
		paths = append(paths, r.Path)
	}
	return paths
}

// Results returns the full records of all files finalized by this sink.
func (s *TableSink) Results() []parquetwriter.Result {
	return s.results
}

func (s *TableSink) writeToPartition(ctx context.Context, key string, batch *pipeline.Batch) error {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	w, err := s.registry.GetOrCreate(ctx, key)
	if err != nil {
		logctx.FromContext(ctx).Warn("open file writer failed", "partition", key, "error", err)
		return err
	}
	return w.Append(batch)
}

// project applies the configured output expressions, assembling rows in the
// output shape. An expression that evaluates to a null of lost type becomes
// a typed all-null column; the target schema supplies the type, so the rows
// simply carry nils under the target field.
func (s *TableSink) project(ctx context.Context, batch *pipeline.Batch) (*pipeline.Batch, error) {
	if len(s.cfg.Projection) == 0 {
		return batch, nil
	}

	cols := make([]*Column, len(s.cfg.Projection))
	for i, expr := range s.cfg.Projection {
		col, err := s.eval.Evaluate(ctx, expr, batch)
		if err != nil {
			return nil, fmt.Errorf("evaluate output expression %d: %w", i, err)
		}
		if !col.OnlyNull && len(col.Values) != batch.Len() {
			return nil, fmt.Errorf("sink: expression %d produced %d values for %d rows",
				i, len(col.Values), batch.Len())
		}
		cols[i] = col
	}

	out := pipeline.NewBatch(batch.Len())
	for r := 0; r < batch.Len(); r++ {
		row := make(pipeline.Row, len(s.outputKeys))
		for i, key := range s.outputKeys {
			if cols[i].OnlyNull {
				row[key] = nil
				continue
			}
			row[key] = cols[i].Values[r]
		}
		out.AddRow(row)
	}
	return out, nil
}
