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

package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cardinalhq/tablesink/config"
	"github.com/cardinalhq/tablesink/internal/cloudstorage"
	"github.com/cardinalhq/tablesink/internal/cluster"
	"github.com/cardinalhq/tablesink/internal/logctx"
	"github.com/cardinalhq/tablesink/internal/metadata"
	"github.com/cardinalhq/tablesink/internal/partition"
	"github.com/cardinalhq/tablesink/internal/pipeline"
	"github.com/cardinalhq/tablesink/internal/pipeline/wkk"
	"github.com/cardinalhq/tablesink/internal/remotefs"
	"github.com/cardinalhq/tablesink/internal/sink"
)

const writeBatchRows = 4096

func init() {
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write NDJSON rows into a table as partitioned data files",
		Long: `Read newline-delimited JSON rows from a file (or stdin when the
input is "-"), write them as partitioned parquet data files under the table
location, and register the produced files with the metadata service.`,
		RunE: func(c *cobra.Command, _ []string) error {
			servicename := "tablesink-write"
			addlAttrs := attribute.NewSet(
				attribute.String("action", "write"),
			)
			doneCtx, doneFx, err := setupTelemetry(servicename, &addlAttrs)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer func() {
				_ = doneFx()
			}()
			return runWrite(doneCtx, c)
		},
	}

	cmd.Flags().String("input", "-", "NDJSON input file, or - for stdin")
	cmd.Flags().String("location", "", "table base location (required)")
	cmd.Flags().Int64("db-id", 0, "database id at the metadata service")
	cmd.Flags().Int64("table-id", 0, "table id at the metadata service")
	cmd.Flags().StringSlice("field", nil, "output field as name:kind (kind: bool,int64,float64,string,timestamp)")
	cmd.Flags().StringSlice("partition", nil, "partition column as source:transform:field, e.g. ts:day:dt")
	cmd.Flags().Duration("query-timeout", 5*time.Minute, "overall timeout budget for writes and the commit")
	cmd.Flags().Bool("no-commit", false, "skip registering files with the metadata service")
	_ = cmd.MarkFlagRequired("location")
	_ = cmd.MarkFlagRequired("field")

	rootCmd.AddCommand(cmd)
}

func runWrite(ctx context.Context, c *cobra.Command) error {
	ll := logctx.FromContext(ctx)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	input, _ := c.Flags().GetString("input")
	location, _ := c.Flags().GetString("location")
	dbID, _ := c.Flags().GetInt64("db-id")
	tableID, _ := c.Flags().GetInt64("table-id")
	fieldSpecs, _ := c.Flags().GetStringSlice("field")
	partSpecs, _ := c.Flags().GetStringSlice("partition")
	queryTimeout, _ := c.Flags().GetDuration("query-timeout")
	noCommit, _ := c.Flags().GetBool("no-commit")

	fields, err := parseFields(fieldSpecs)
	if err != nil {
		return err
	}
	spec, err := parsePartitionSpec(partSpecs)
	if err != nil {
		return err
	}

	fs, err := openFileSystem(ctx, cfg)
	if err != nil {
		return err
	}

	info := &cluster.StaticInfo{
		Addr: cfg.Frontend.Addr,
		Node: cfg.Frontend.NodeID,
	}

	var reporter *metadata.Reporter
	if !noCommit {
		reporter = metadata.NewReporter(info, time.Duration(cfg.Commit.RPCTimeoutMillis)*time.Millisecond)
	}

	ts := sink.New(&sink.ColumnRefEvaluator{}, fs, info, reporter)
	err = ts.Init(sink.Config{
		Table:          metadata.TableRef{DbID: dbID, TableID: tableID},
		Location:       location,
		FileFormat:     cfg.Sink.FileFormat,
		FileNamePrefix: cfg.Sink.FileNamePrefix,
		BytesPerFile:   cfg.Sink.BytesPerFile,
		PartitionSpec:  spec,
		OutputSchema:   fields,
		QueryTimeout:   queryTimeout,
		FragmentID:     uuid.New(),
	})
	if err != nil {
		return err
	}
	if err := ts.Prepare(ctx); err != nil {
		return err
	}
	if err := ts.Open(ctx); err != nil {
		return err
	}

	sendErr := sendInput(ctx, ts, input, fields)
	if err := ts.Close(ctx, sendErr); err != nil {
		return err
	}
	if sendErr != nil {
		return sendErr
	}

	for _, r := range ts.Results() {
		ll.Info("wrote data file", "path", r.Path, "records", r.RecordCount, "bytes", r.FileSize)
	}
	return nil
}

// sendInput streams the NDJSON input through the sink in fixed-size batches.
func sendInput(ctx context.Context, ts *sink.TableSink, input string, fields []sink.Field) error {
	var r io.Reader
	if input == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(input)
		if err != nil {
			return err
		}
		defer func() {
			_ = f.Close()
		}()
		r = f
	}

	batch := pipeline.NewBatch(writeBatchRows)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		row, err := decodeRow([]byte(line), fields)
		if err != nil {
			return fmt.Errorf("input line %d: %w", lineno, err)
		}
		batch.AddRow(row)
		if batch.Len() >= writeBatchRows {
			if err := ts.Send(ctx, batch); err != nil {
				return err
			}
			batch = pipeline.NewBatch(writeBatchRows)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if batch.Len() > 0 {
		return ts.Send(ctx, batch)
	}
	return nil
}

// decodeRow coerces one JSON object to the output row shape. JSON numbers
// arrive as float64; integral fields are narrowed here so parquet encoding
// sees the declared type.
func decodeRow(line []byte, fields []sink.Field) (pipeline.Row, error) {
	var obj map[string]any
	if err := json.Unmarshal(line, &obj); err != nil {
		return nil, err
	}

	row := make(pipeline.Row, len(fields))
	for _, f := range fields {
		v, ok := obj[f.Name]
		if !ok || v == nil {
			row[wkk.NewRowKey(f.Name)] = nil
			continue
		}
		cv, err := coerceValue(v, f.Kind)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		row[wkk.NewRowKey(f.Name)] = cv
	}
	return row, nil
}

func coerceValue(v any, kind sink.ValueKind) (any, error) {
	switch kind {
	case sink.KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		return b, nil
	case sink.KindInt64, sink.KindTimestamp:
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", v)
		}
		return int64(f), nil
	case sink.KindFloat64:
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", v)
		}
		return f, nil
	case sink.KindString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	default:
		return v, nil
	}
}

func parseFields(specs []string) ([]sink.Field, error) {
	fields := make([]sink.Field, 0, len(specs))
	for _, s := range specs {
		name, kindName, ok := strings.Cut(s, ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid field %q, want name:kind", s)
		}
		kind, err := parseKind(kindName)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		fields = append(fields, sink.Field{Name: name, Kind: kind})
	}
	return fields, nil
}

func parseKind(name string) (sink.ValueKind, error) {
	switch name {
	case "bool":
		return sink.KindBool, nil
	case "int64":
		return sink.KindInt64, nil
	case "float64":
		return sink.KindFloat64, nil
	case "string":
		return sink.KindString, nil
	case "timestamp":
		return sink.KindTimestamp, nil
	default:
		return sink.KindUnknown, fmt.Errorf("unknown value kind %q", name)
	}
}

func parsePartitionSpec(specs []string) (partition.Spec, error) {
	var spec partition.Spec
	for _, s := range specs {
		parts := strings.Split(s, ":")
		if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
			return partition.Spec{}, fmt.Errorf("invalid partition column %q, want source:transform:field", s)
		}
		spec.Columns = append(spec.Columns, partition.Column{
			SourceColumn: parts[0],
			Transform:    partition.Transform(parts[1]),
			FieldName:    parts[2],
		})
	}
	if err := spec.Validate(); err != nil {
		return partition.Spec{}, err
	}
	return spec, nil
}

// openFileSystem picks the target filesystem: object storage when a bucket is
// configured, the local filesystem otherwise.
func openFileSystem(ctx context.Context, cfg *config.Config) (remotefs.FileSystem, error) {
	if cfg.Storage.Bucket == "" {
		return remotefs.NewLocalFS(""), nil
	}
	client, err := cloudstorage.NewClient(ctx, cloudstorage.Settings{
		Provider:  cfg.Storage.Provider,
		Region:    cfg.Storage.Region,
		Endpoint:  cfg.Storage.Endpoint,
		PathStyle: cfg.Storage.PathStyle,
	})
	if err != nil {
		return nil, err
	}
	return remotefs.NewObjectFS(client, cfg.Storage.Bucket, cfg.Storage.TmpDir), nil
}
