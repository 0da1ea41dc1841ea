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
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// ValueKind classifies the values an output field can carry.
type ValueKind int

const (
	KindUnknown ValueKind = iota
	KindBool
	KindInt64
	KindFloat64
	KindString
	// KindTimestamp is a millisecond epoch timestamp stored as int64.
	KindTimestamp
)

func (k ValueKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	case KindTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// Field is one named field of the sink's output row shape.
type Field struct {
	Name string
	Kind ValueKind
}

// ParquetNodes builds the parquet schema nodes for the output row shape. All
// fields are optional so typed all-null columns encode naturally.
func ParquetNodes(fields []Field) (map[string]parquet.Node, error) {
	nodes := make(map[string]parquet.Node, len(fields))
	for _, f := range fields {
		node, err := parquetNodeForKind(f.Kind)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		nodes[f.Name] = node
	}
	return nodes, nil
}

func parquetNodeForKind(kind ValueKind) (parquet.Node, error) {
	switch kind {
	case KindBool:
		return parquet.Optional(parquet.Leaf(parquet.BooleanType)), nil
	case KindInt64:
		return parquet.Optional(parquet.Int(64)), nil
	case KindFloat64:
		return parquet.Optional(parquet.Leaf(parquet.DoubleType)), nil
	case KindString:
		return parquet.Optional(parquet.String()), nil
	case KindTimestamp:
		return parquet.Optional(parquet.Timestamp(parquet.Millisecond)), nil
	default:
		return nil, fmt.Errorf("unsupported value kind %s", kind)
	}
}
