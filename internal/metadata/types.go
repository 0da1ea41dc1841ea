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

// Package metadata registers newly written data files with the table's
// metadata service so they become visible as part of the table.
package metadata

// TableRef identifies the table the files belong to.
type TableRef struct {
	DbID    int64 `json:"db_id"`
	TableID int64 `json:"table_id"`
}

// AddFilesRequest is the single batched registration call for all files a
// sink produced. It is sent at most once per sink, plus one retry after a
// transport failure; the retry is logically the same request.
type AddFilesRequest struct {
	Files         []string `json:"files"`
	DbID          int64    `json:"db_id"`
	TableID       int64    `json:"table_id"`
	TimeoutMillis int64    `json:"timeout_ms"`
}

// AddFilesResponse carries the service's application-level status.
type AddFilesResponse struct {
	Status Status `json:"status"`
}

// StatusCode is the application-level result of a metadata operation.
type StatusCode int32

const (
	StatusOK            StatusCode = 0
	StatusInternalError StatusCode = 1
	StatusNotFound      StatusCode = 2
	StatusRejected      StatusCode = 3
)

// Status is the metadata service's application-level verdict.
type Status struct {
	Code    StatusCode `json:"code"`
	Message string     `json:"message"`
}

// OK reports whether the status indicates success.
func (s Status) OK() bool {
	return s.Code == StatusOK
}

// RejectedError surfaces an application-level failure status from the
// metadata service. It is never retried.
type RejectedError struct {
	Status Status
}

func (e *RejectedError) Error() string {
	return e.Status.Message
}
