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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/tablesink/internal/pipeline/wkk"
)

func TestBatch_Gather(t *testing.T) {
	k := wkk.NewRowKey("v")
	b := BatchFromRows([]Row{
		{k: int64(0)},
		{k: int64(1)},
		{k: int64(2)},
	})

	out := b.Gather([]int32{2, 0})
	require.Equal(t, 2, out.Len())
	assert.Equal(t, int64(2), out.Get(0)[k])
	assert.Equal(t, int64(0), out.Get(1)[k])

	// Gathered rows are copies; mutating them leaves the source intact.
	out.Get(0)[k] = int64(99)
	assert.Equal(t, int64(2), b.Get(2)[k])
}

func TestRow_StringMapRoundTrip(t *testing.T) {
	row := FromStringMap(map[string]any{"a": int64(1), "b": "x"})
	m := ToStringMap(row)
	assert.Equal(t, int64(1), m["a"])
	assert.Equal(t, "x", m["b"])
}

func TestCopyRow(t *testing.T) {
	k := wkk.NewRowKey("a")
	in := Row{k: "orig"}
	out := CopyRow(in)
	out[k] = "changed"
	assert.Equal(t, "orig", in[k])
}
