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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParquetNodes(t *testing.T) {
	nodes, err := ParquetNodes([]Field{
		{Name: "ok", Kind: KindBool},
		{Name: "count", Kind: KindInt64},
		{Name: "score", Kind: KindFloat64},
		{Name: "message", Kind: KindString},
		{Name: "ts", Kind: KindTimestamp},
	})
	require.NoError(t, err)
	require.Len(t, nodes, 5)
	for name, node := range nodes {
		assert.True(t, node.Optional(), "field %s must be optional", name)
	}
}

func TestParquetNodes_UnknownKind(t *testing.T) {
	_, err := ParquetNodes([]Field{{Name: "x", Kind: KindUnknown}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "x"`)
}

func TestValueKindString(t *testing.T) {
	assert.Equal(t, "timestamp", KindTimestamp.String())
	assert.Equal(t, "unknown", KindUnknown.String())
}
