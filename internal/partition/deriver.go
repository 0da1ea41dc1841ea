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

package partition

import (
	"fmt"
	"strings"
	"time"

	"github.com/cardinalhq/tablesink/internal/pipeline"
	"github.com/cardinalhq/tablesink/internal/pipeline/wkk"
)

const dayFormat = "2006-01-02"

// KeyDeriver derives partition key strings for rows. Column bindings are
// resolved once per batch via Bind, then reused for every row.
type KeyDeriver struct {
	spec Spec
	loc  *time.Location
}

// NewKeyDeriver returns a deriver for the given spec. Timestamps are
// interpreted in loc when truncating to day boundaries; nil means UTC.
func NewKeyDeriver(spec Spec, loc *time.Location) *KeyDeriver {
	if loc == nil {
		loc = time.UTC
	}
	return &KeyDeriver{spec: spec, loc: loc}
}

type binding struct {
	key   wkk.RowKey
	field string
}

// BoundDeriver is a KeyDeriver with column bindings resolved against one
// batch. It must not be reused across batches.
type BoundDeriver struct {
	bindings []binding
	loc      *time.Location
}

// Bind validates the spec against the batch and resolves each partition
// column to its row key. An unsupported transform or a missing column fails
// the whole batch.
func (d *KeyDeriver) Bind(batch *pipeline.Batch) (*BoundDeriver, error) {
	if err := d.spec.Validate(); err != nil {
		return nil, err
	}

	bound := &BoundDeriver{
		bindings: make([]binding, 0, len(d.spec.Columns)),
		loc:      d.loc,
	}
	for _, col := range d.spec.Columns {
		key := wkk.NewRowKey(col.SourceColumn)
		if batch.Len() > 0 {
			if _, ok := batch.Get(0)[key]; !ok {
				return nil, fmt.Errorf("partition: column %q not found in output row", col.SourceColumn)
			}
		}
		bound.bindings = append(bound.bindings, binding{key: key, field: col.FieldName})
	}
	return bound, nil
}

// DeriveKey computes the partition key for one row: the concatenation of
// "<field>=<value>/" per partition column in spec order. It is a pure
// function of the row's values.
func (b *BoundDeriver) DeriveKey(row pipeline.Row) (string, error) {
	if len(b.bindings) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, bind := range b.bindings {
		ms, err := timestampMillis(row[bind.key])
		if err != nil {
			return "", fmt.Errorf("partition: column %q: %w", wkk.KeyName(bind.key), err)
		}
		sb.WriteString(bind.field)
		sb.WriteByte('=')
		sb.WriteString(time.UnixMilli(ms).In(b.loc).Format(dayFormat))
		sb.WriteByte('/')
	}
	return sb.String(), nil
}

// timestampMillis extracts a millisecond epoch timestamp from a row value.
func timestampMillis(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case time.Time:
		return t.UnixMilli(), nil
	case nil:
		return 0, fmt.Errorf("null partition value")
	default:
		return 0, fmt.Errorf("value type %T is not a timestamp", v)
	}
}
