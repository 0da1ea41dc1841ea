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

package pipeline

// Batch is a slice of rows owned by whoever produced it. Consumers read rows
// through Get and must not mutate them; use Gather to copy rows out.
type Batch struct {
	rows []Row
}

// NewBatch returns an empty batch with capacity for n rows.
func NewBatch(n int) *Batch {
	return &Batch{rows: make([]Row, 0, n)}
}

// BatchFromRows wraps existing rows without copying.
func BatchFromRows(rows []Row) *Batch {
	return &Batch{rows: rows}
}

// Len returns the number of rows in the batch.
func (b *Batch) Len() int {
	return len(b.rows)
}

// Get returns the row at index i. The row remains owned by the batch.
func (b *Batch) Get(i int) Row {
	return b.rows[i]
}

// AddRow appends a row to the batch.
func (b *Batch) AddRow(row Row) {
	b.rows = append(b.rows, row)
}

// Gather builds a new batch containing deep copies of the rows at the given
// indices, in index order. The source batch is not modified.
func (b *Batch) Gather(indices []int32) *Batch {
	out := &Batch{rows: make([]Row, 0, len(indices))}
	for _, idx := range indices {
		out.rows = append(out.rows, CopyRow(b.rows[idx]))
	}
	return out
}
