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

package sink

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/tablesink/internal/cluster"
	"github.com/cardinalhq/tablesink/internal/metadata"
	"github.com/cardinalhq/tablesink/internal/partition"
	"github.com/cardinalhq/tablesink/internal/pipeline"
	"github.com/cardinalhq/tablesink/internal/remotefs"
)

// commitRecorder is a metadata.Client that records commit requests.
type commitRecorder struct {
	requests []*metadata.AddFilesRequest
}

func (c *commitRecorder) AddDataFiles(ctx context.Context, req *metadata.AddFilesRequest) (*metadata.AddFilesResponse, error) {
	c.requests = append(c.requests, req)
	return &metadata.AddFilesResponse{Status: metadata.Status{Code: metadata.StatusOK}}, nil
}

func (c *commitRecorder) Reopen(timeout time.Duration) error { return nil }

func (c *commitRecorder) Close() error { return nil }

func recordingReporter(rec *commitRecorder) *metadata.Reporter {
	info := &cluster.StaticInfo{Addr: "fe:9020", Node: 3}
	return metadata.NewReporter(info, 5*time.Second, metadata.WithDialer(
		func(addr string, _ time.Duration) (metadata.Client, error) {
			return rec, nil
		}))
}

func testSinkConfig() Config {
	return Config{
		Table:          metadata.TableRef{DbID: 1, TableID: 42},
		Location:       "warehouse/db/events",
		FileFormat:     "parquet",
		FileNamePrefix: "data",
		BytesPerFile:   64 * 1024 * 1024,
		PartitionSpec: partition.Spec{Columns: []partition.Column{
			{SourceColumn: "ts", Transform: partition.TransformDay, FieldName: "dt"},
		}},
		OutputSchema: []Field{
			{Name: "ts", Kind: KindTimestamp},
			{Name: "message", Kind: KindString},
		},
		QueryTimeout: time.Minute,
		FragmentID:   uuid.New(),
	}
}

func eventRow(ts time.Time, message string) pipeline.Row {
	return pipeline.FromStringMap(map[string]any{
		"ts":      ts.UnixMilli(),
		"message": message,
	})
}

func TestTableSink_EndToEnd(t *testing.T) {
	base := t.TempDir()
	ctx := context.Background()
	rec := &commitRecorder{}

	s := New(&ColumnRefEvaluator{}, remotefs.NewLocalFS(base), &cluster.StaticInfo{Addr: "fe:9020", Node: 3}, recordingReporter(rec))
	require.NoError(t, s.Init(testSinkConfig()))
	require.NoError(t, s.Prepare(ctx))
	require.NoError(t, s.Open(ctx))

	batch := pipeline.BatchFromRows([]pipeline.Row{
		eventRow(time.Date(2024, 1, 1, 0, 10, 0, 0, time.UTC), "a"),
		eventRow(time.Date(2024, 1, 1, 23, 50, 0, 0, time.UTC), "b"),
		eventRow(time.Date(2024, 1, 2, 0, 5, 0, 0, time.UTC), "c"),
	})
	require.NoError(t, s.Send(ctx, batch))
	require.NoError(t, s.Close(ctx, nil))

	results := s.Results()
	require.Len(t, results, 2)

	byKey := make(map[string]int64)
	for _, r := range results {
		byKey[r.PartitionKey] = r.RecordCount
		assert.FileExists(t, filepath.Join(base, filepath.FromSlash(r.Path)))
	}
	assert.Equal(t, int64(2), byKey["dt=2024-01-01/"])
	assert.Equal(t, int64(1), byKey["dt=2024-01-02/"])

	require.Len(t, rec.requests, 1)
	req := rec.requests[0]
	assert.Equal(t, int64(42), req.TableID)
	assert.ElementsMatch(t, s.WrittenFiles(), req.Files)
	for _, path := range req.Files {
		assert.True(t, strings.HasPrefix(path, "warehouse/db/events/data/dt=2024-01-"), path)
	}
}

func TestTableSink_UnpartitionedSingleFile(t *testing.T) {
	base := t.TempDir()
	ctx := context.Background()
	rec := &commitRecorder{}

	cfg := testSinkConfig()
	cfg.PartitionSpec = partition.Spec{}
	s := New(&ColumnRefEvaluator{}, remotefs.NewLocalFS(base), &cluster.StaticInfo{Node: 3}, recordingReporter(rec))
	require.NoError(t, s.Init(cfg))
	require.NoError(t, s.Prepare(ctx))
	require.NoError(t, s.Open(ctx))

	batch := pipeline.BatchFromRows([]pipeline.Row{
		eventRow(time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC), "a"),
		eventRow(time.Date(2024, 6, 1, 1, 0, 0, 0, time.UTC), "b"),
	})
	require.NoError(t, s.Send(ctx, batch))
	require.NoError(t, s.Close(ctx, nil))

	results := s.Results()
	require.Len(t, results, 1)
	assert.Empty(t, results[0].PartitionKey)
	assert.Equal(t, int64(2), results[0].RecordCount)
	assert.True(t, strings.HasPrefix(results[0].Path, "warehouse/db/events/data/data_3_"), results[0].Path)
}

func TestTableSink_NoFilesSkipsCommit(t *testing.T) {
	ctx := context.Background()
	rec := &commitRecorder{}

	s := New(&ColumnRefEvaluator{}, remotefs.NewLocalFS(t.TempDir()), &cluster.StaticInfo{}, recordingReporter(rec))
	require.NoError(t, s.Init(testSinkConfig()))
	require.NoError(t, s.Prepare(ctx))
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Close(ctx, nil))

	assert.Empty(t, rec.requests)
	assert.Empty(t, s.WrittenFiles())
}

func TestTableSink_UpstreamFailureStillCommits(t *testing.T) {
	ctx := context.Background()
	rec := &commitRecorder{}

	s := New(&ColumnRefEvaluator{}, remotefs.NewLocalFS(t.TempDir()), &cluster.StaticInfo{Node: 1}, recordingReporter(rec))
	require.NoError(t, s.Init(testSinkConfig()))
	require.NoError(t, s.Prepare(ctx))
	require.NoError(t, s.Open(ctx))

	batch := pipeline.BatchFromRows([]pipeline.Row{
		eventRow(time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC), "a"),
	})
	require.NoError(t, s.Send(ctx, batch))

	// Files already written stay registered even when upstream failed.
	require.NoError(t, s.Close(ctx, errors.New("upstream fragment failed")))
	assert.Len(t, rec.requests, 1)
}

func TestTableSink_NilReporterSkipsCommit(t *testing.T) {
	ctx := context.Background()

	s := New(&ColumnRefEvaluator{}, remotefs.NewLocalFS(t.TempDir()), &cluster.StaticInfo{Node: 1}, nil)
	require.NoError(t, s.Init(testSinkConfig()))
	require.NoError(t, s.Prepare(ctx))
	require.NoError(t, s.Open(ctx))

	batch := pipeline.BatchFromRows([]pipeline.Row{
		eventRow(time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC), "a"),
	})
	require.NoError(t, s.Send(ctx, batch))
	require.NoError(t, s.Close(ctx, nil))
	assert.Len(t, s.WrittenFiles(), 1)
}

func TestTableSink_LifecycleOrderEnforced(t *testing.T) {
	ctx := context.Background()

	s := New(&ColumnRefEvaluator{}, remotefs.NewLocalFS(t.TempDir()), &cluster.StaticInfo{}, nil)

	require.ErrorIs(t, s.Prepare(ctx), ErrBadState)
	require.ErrorIs(t, s.Open(ctx), ErrBadState)
	require.ErrorIs(t, s.Send(ctx, pipeline.NewBatch(0)), ErrBadState)
	require.ErrorIs(t, s.Close(ctx, nil), ErrBadState)

	require.NoError(t, s.Init(testSinkConfig()))
	require.ErrorIs(t, s.Init(testSinkConfig()), ErrBadState)
	require.ErrorIs(t, s.Send(ctx, pipeline.NewBatch(0)), ErrBadState)

	require.NoError(t, s.Prepare(ctx))
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Close(ctx, nil))
	require.ErrorIs(t, s.Send(ctx, pipeline.NewBatch(0)), ErrBadState)
	require.ErrorIs(t, s.Close(ctx, nil), ErrBadState)
	assert.Equal(t, StateClosed, s.State())
}

func TestTableSink_ProjectionPassThrough(t *testing.T) {
	base := t.TempDir()
	ctx := context.Background()

	cfg := testSinkConfig()
	cfg.Projection = []Expr{
		ColumnRef{Column: "event_time", Kind: KindTimestamp},
		ColumnRef{Column: "msg", Kind: KindString},
	}
	s := New(&ColumnRefEvaluator{}, remotefs.NewLocalFS(base), &cluster.StaticInfo{Node: 1}, nil)
	require.NoError(t, s.Init(cfg))
	require.NoError(t, s.Prepare(ctx))
	require.NoError(t, s.Open(ctx))

	// Source columns carry different names; the projection maps them to the
	// output shape before partitioning.
	batch := pipeline.BatchFromRows([]pipeline.Row{
		pipeline.FromStringMap(map[string]any{
			"event_time": time.Date(2024, 2, 1, 1, 0, 0, 0, time.UTC).UnixMilli(),
			"msg":        "hello",
		}),
	})
	require.NoError(t, s.Send(ctx, batch))
	require.NoError(t, s.Close(ctx, nil))

	results := s.Results()
	require.Len(t, results, 1)
	assert.Equal(t, "dt=2024-02-01/", results[0].PartitionKey)
}

func TestTableSink_ProjectionArityMismatch(t *testing.T) {
	cfg := testSinkConfig()
	cfg.Projection = []Expr{ColumnRef{Column: "ts", Kind: KindTimestamp}}

	s := New(&ColumnRefEvaluator{}, remotefs.NewLocalFS(t.TempDir()), &cluster.StaticInfo{}, nil)
	require.NoError(t, s.Init(cfg))
	err := s.Prepare(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 expressions for 2 output fields")
}

func TestTableSink_ProjectionKindMismatch(t *testing.T) {
	cfg := testSinkConfig()
	cfg.Projection = []Expr{
		ColumnRef{Column: "ts", Kind: KindString},
		ColumnRef{Column: "message", Kind: KindString},
	}

	s := New(&ColumnRefEvaluator{}, remotefs.NewLocalFS(t.TempDir()), &cluster.StaticInfo{}, nil)
	require.NoError(t, s.Init(cfg))
	err := s.Prepare(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "yields string")
}

func TestConfig_Validate(t *testing.T) {
	cfg := testSinkConfig()
	require.NoError(t, cfg.Validate())

	noLoc := testSinkConfig()
	noLoc.Location = ""
	require.Error(t, noLoc.Validate())

	noSchema := testSinkConfig()
	noSchema.OutputSchema = nil
	require.Error(t, noSchema.Validate())

	badBudget := testSinkConfig()
	badBudget.BytesPerFile = -1
	require.Error(t, badBudget.Validate())
}

func TestTableSink_UnsupportedFormatFailsAtFirstWrite(t *testing.T) {
	ctx := context.Background()

	cfg := testSinkConfig()
	cfg.FileFormat = "orc"
	s := New(&ColumnRefEvaluator{}, remotefs.NewLocalFS(t.TempDir()), &cluster.StaticInfo{}, nil)
	require.NoError(t, s.Init(cfg))
	require.NoError(t, s.Prepare(ctx))
	require.NoError(t, s.Open(ctx))

	batch := pipeline.BatchFromRows([]pipeline.Row{
		eventRow(time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC), "a"),
	})
	err := s.Send(ctx, batch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file format")
}
