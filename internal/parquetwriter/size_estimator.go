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

// estimateRowBytes gives a cheap upper-bound estimate of a row's encoded
// size. It only needs to be good enough to decide when to cut a row group
// and when a file has reached its budget; compression usually makes the
// real file smaller.
func estimateRowBytes(row map[string]any) int64 {
	var size int64
	for key, value := range row {
		size += int64(len(key))
		switch v := value.(type) {
		case nil:
			size++
		case string:
			size += int64(len(v))
		case []byte:
			size += int64(len(v))
		case bool:
			size++
		default:
			// Numeric and timestamp values encode in fixed width.
			size += 8
		}
	}
	return size
}
