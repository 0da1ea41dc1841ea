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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/tablesink/internal/pipeline"
)

func TestPartitionBatch_GroupsByDay(t *testing.T) {
	spec := Spec{Columns: []Column{
		{SourceColumn: "ts", Transform: TransformDay, FieldName: "dt"},
	}}
	deriver := NewKeyDeriver(spec, time.UTC)

	batch := pipeline.BatchFromRows([]pipeline.Row{
		tsRow("ts", time.Date(2024, 1, 1, 0, 10, 0, 0, time.UTC).UnixMilli()),
		tsRow("ts", time.Date(2024, 1, 1, 23, 50, 0, 0, time.UTC).UnixMilli()),
		tsRow("ts", time.Date(2024, 1, 2, 0, 5, 0, 0, time.UTC).UnixMilli()),
	})

	g, err := PartitionBatch(batch, deriver)
	require.NoError(t, err)

	require.Equal(t, []string{"dt=2024-01-01/", "dt=2024-01-02/"}, g.Keys)
	assert.Equal(t, []int32{0, 1}, g.Rows["dt=2024-01-01/"])
	assert.Equal(t, []int32{2}, g.Rows["dt=2024-01-02/"])

	_, single := g.Single()
	assert.False(t, single)
}

func TestPartitionBatch_SinglePartition(t *testing.T) {
	spec := Spec{Columns: []Column{
		{SourceColumn: "ts", Transform: TransformDay, FieldName: "dt"},
	}}
	deriver := NewKeyDeriver(spec, time.UTC)

	batch := pipeline.BatchFromRows([]pipeline.Row{
		tsRow("ts", time.Date(2024, 5, 5, 1, 0, 0, 0, time.UTC).UnixMilli()),
		tsRow("ts", time.Date(2024, 5, 5, 2, 0, 0, 0, time.UTC).UnixMilli()),
	})

	g, err := PartitionBatch(batch, deriver)
	require.NoError(t, err)

	key, single := g.Single()
	require.True(t, single)
	assert.Equal(t, "dt=2024-05-05/", key)
	assert.Equal(t, []int32{0, 1}, g.Rows[key])
}

func TestPartitionBatch_EmptySpecSingleGroup(t *testing.T) {
	deriver := NewKeyDeriver(Spec{}, time.UTC)

	batch := pipeline.BatchFromRows([]pipeline.Row{
		tsRow("v", int64(1)),
		tsRow("v", int64(2)),
	})

	g, err := PartitionBatch(batch, deriver)
	require.NoError(t, err)

	key, single := g.Single()
	require.True(t, single)
	assert.Empty(t, key)
	assert.Len(t, g.Rows[""], 2)
}

func TestPartitionBatch_DerivationFailureFailsBatch(t *testing.T) {
	spec := Spec{Columns: []Column{
		{SourceColumn: "ts", Transform: TransformDay, FieldName: "dt"},
	}}
	deriver := NewKeyDeriver(spec, time.UTC)

	batch := pipeline.BatchFromRows([]pipeline.Row{
		tsRow("ts", time.Date(2024, 5, 5, 1, 0, 0, 0, time.UTC).UnixMilli()),
		tsRow("ts", nil),
	})

	_, err := PartitionBatch(batch, deriver)
	require.Error(t, err)
}
