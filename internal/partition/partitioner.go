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
	"github.com/cardinalhq/tablesink/internal/pipeline"
)

// Grouping maps each distinct partition key of a batch to the indices of its
// rows. Keys preserves first-seen order; index lists preserve row order.
// Grouping is by key value, never by identity of any cached representative.
type Grouping struct {
	Keys []string
	Rows map[string][]int32
}

// Single returns the key and true when the whole batch belongs to one
// partition, letting callers write the original batch without a gather copy.
func (g *Grouping) Single() (string, bool) {
	if len(g.Keys) == 1 {
		return g.Keys[0], true
	}
	return "", false
}

// PartitionBatch derives the partition key of every row exactly once and
// groups row indices by key.
func PartitionBatch(batch *pipeline.Batch, deriver *KeyDeriver) (*Grouping, error) {
	bound, err := deriver.Bind(batch)
	if err != nil {
		return nil, err
	}

	g := &Grouping{Rows: make(map[string][]int32)}
	for i := 0; i < batch.Len(); i++ {
		key, err := bound.DeriveKey(batch.Get(i))
		if err != nil {
			return nil, err
		}
		if _, seen := g.Rows[key]; !seen {
			g.Keys = append(g.Keys, key)
		}
		g.Rows[key] = append(g.Rows[key], int32(i))
	}
	return g, nil
}
