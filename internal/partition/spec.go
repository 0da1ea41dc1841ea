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

// Package partition derives partition keys from rows according to a table's
// declarative partition specification and groups batches by those keys.
package partition

import (
	"errors"
	"fmt"
)

// Transform identifies the function applied to a source column value to
// produce the partition value.
type Transform string

const (
	// TransformDay truncates a timestamp to its UTC day boundary.
	TransformDay Transform = "day"
)

// ErrUnsupportedTransform is returned when a partition column names a
// transform this sink does not implement. The whole batch fails; rows are
// never silently passed through.
var ErrUnsupportedTransform = errors.New("partition: unsupported transform")

// Column describes one partition column of the table: the source column the
// value is read from, the transform applied to it, and the field name used in
// the partition key.
type Column struct {
	SourceColumn string
	Transform    Transform
	FieldName    string
}

// Spec is the ordered partition specification of a table. An empty spec means
// the table is unpartitioned and every row maps to the empty key.
type Spec struct {
	Columns []Column
}

// Empty reports whether the spec has no partition columns.
func (s Spec) Empty() bool {
	return len(s.Columns) == 0
}

// Validate checks that every column names a transform this sink implements
// and has a source column and field name.
func (s Spec) Validate() error {
	for i, col := range s.Columns {
		if col.SourceColumn == "" {
			return fmt.Errorf("partition: column %d has no source column", i)
		}
		if col.FieldName == "" {
			return fmt.Errorf("partition: column %d has no field name", i)
		}
		if col.Transform != TransformDay {
			return fmt.Errorf("%w %q", ErrUnsupportedTransform, col.Transform)
		}
	}
	return nil
}
