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
	"github.com/parquet-go/parquet-go"

	"github.com/cardinalhq/tablesink/internal/remotefs"
)

const (
	// MaxRowGroupBytes caps the encoder's internal buffering. The per-file
	// byte budget is halved until it fits under this cap, so a large file
	// budget never turns into a pathological in-memory buffer.
	MaxRowGroupBytes = 64 * 1024 * 1024

	// FormatParquet is the only output format this sink encodes.
	FormatParquet = "parquet"
)

// WriterConfig contains all configuration for creating a Registry.
type WriterConfig struct {
	// Location is the table's base location. Data files are created under
	// <Location>/data/<partition key>.
	Location string

	// FileNamePrefix is the leading component of every generated file name.
	FileNamePrefix string

	// NodeID is this node's stable identity, embedded in generated file names.
	NodeID int64

	// FileFormat selects the file encoding. Only "parquet" is supported;
	// anything else fails at the first attempt to create a writer.
	FileFormat string

	// BytesPerFile is the per-file size budget that triggers rolling.
	BytesPerFile int64

	// Nodes is the parquet schema of the output rows, keyed by field name.
	Nodes map[string]parquet.Node

	// FS is the filesystem the data files are written to.
	FS remotefs.FileSystem
}

// Validate checks that the configuration is complete.
func (c *WriterConfig) Validate() error {
	if c.Location == "" {
		return &ConfigError{Field: "Location", Message: "cannot be empty"}
	}
	if c.FileNamePrefix == "" {
		return &ConfigError{Field: "FileNamePrefix", Message: "file name prefix is not set"}
	}
	if c.BytesPerFile <= 0 {
		return &ConfigError{Field: "BytesPerFile", Message: "must be positive"}
	}
	if len(c.Nodes) == 0 {
		return &ConfigError{Field: "Nodes", Message: "output schema has no fields"}
	}
	if c.FS == nil {
		return &ConfigError{Field: "FS", Message: "no write target configured"}
	}
	return nil
}

// rowGroupBytes derives the encoder buffering budget from the per-file byte
// budget, halved until it is at or under MaxRowGroupBytes.
func (c *WriterConfig) rowGroupBytes() int64 {
	size := c.BytesPerFile
	for size > MaxRowGroupBytes {
		size /= 2
	}
	return size
}

// writerOptions returns the parquet writer options for one output file.
func (c *WriterConfig) writerOptions(schema *parquet.Schema) []parquet.WriterOption {
	return []parquet.WriterOption{
		schema,
		parquet.Compression(&parquet.Zstd),
		parquet.PageBufferSize(32 * 1024),
		parquet.ColumnIndexSizeLimit(1024),
	}
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "parquetwriter config: " + e.Field + " " + e.Message
}
