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

package metadata

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// recordingServer implements the metadata service for in-process tests.
type recordingServer struct {
	resp *AddFilesResponse
	err  error

	requests []*AddFilesRequest
}

func (s *recordingServer) AddDataFiles(ctx context.Context, req *AddFilesRequest) (*AddFilesResponse, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func startServer(t *testing.T, impl MetadataServiceServer) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	RegisterMetadataServiceServer(srv, impl)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func TestClient_AddDataFiles(t *testing.T) {
	impl := &recordingServer{resp: &AddFilesResponse{Status: Status{Code: StatusOK}}}
	addr := startServer(t, impl)

	client, err := Dial(addr, 5*time.Second)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	req := &AddFilesRequest{
		Files:         []string{"tbl/data/dt=2024-01-01/data_1_1700000000000.parquet"},
		DbID:          2,
		TableID:       7,
		TimeoutMillis: 3000,
	}
	resp, err := client.AddDataFiles(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.Status.OK())

	require.Len(t, impl.requests, 1)
	assert.Equal(t, req.Files, impl.requests[0].Files)
	assert.Equal(t, int64(7), impl.requests[0].TableID)
	assert.Equal(t, int64(3000), impl.requests[0].TimeoutMillis)
}

func TestClient_ApplicationStatusPassedThrough(t *testing.T) {
	impl := &recordingServer{resp: &AddFilesResponse{
		Status: Status{Code: StatusNotFound, Message: "unknown table"},
	}}
	addr := startServer(t, impl)

	client, err := Dial(addr, 5*time.Second)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	resp, err := client.AddDataFiles(context.Background(), &AddFilesRequest{Files: []string{"f"}})
	require.NoError(t, err)
	assert.False(t, resp.Status.OK())
	assert.Equal(t, "unknown table", resp.Status.Message)
}

func TestClient_ServerErrorNotTransport(t *testing.T) {
	impl := &recordingServer{err: status.Error(codes.InvalidArgument, "bad request")}
	addr := startServer(t, impl)

	client, err := Dial(addr, 5*time.Second)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	_, err = client.AddDataFiles(context.Background(), &AddFilesRequest{Files: []string{"f"}})
	require.Error(t, err)

	var terr *TransportError
	assert.False(t, errors.As(err, &terr), "InvalidArgument must not classify as transport")
}

func TestClient_UnreachableIsTransportError(t *testing.T) {
	// Grab a port with no listener behind it.
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	client, err := Dial(addr, 2*time.Second)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	_, err = client.AddDataFiles(context.Background(), &AddFilesRequest{Files: []string{"f"}})
	require.Error(t, err)

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, addr, terr.Addr)
}

func TestClient_ReopenRecovers(t *testing.T) {
	impl := &recordingServer{resp: &AddFilesResponse{Status: Status{Code: StatusOK}}}
	addr := startServer(t, impl)

	client, err := Dial(addr, 5*time.Second)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	_, err = client.AddDataFiles(context.Background(), &AddFilesRequest{Files: []string{"f"}})
	require.NoError(t, err)

	require.NoError(t, client.Reopen(5*time.Second))

	_, err = client.AddDataFiles(context.Background(), &AddFilesRequest{Files: []string{"f"}})
	require.NoError(t, err)
	assert.Len(t, impl.requests, 2)
}

func TestClient_CallerCancellationNotTransport(t *testing.T) {
	impl := &recordingServer{resp: &AddFilesResponse{Status: Status{Code: StatusOK}}}
	addr := startServer(t, impl)

	client, err := Dial(addr, 5*time.Second)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = client.AddDataFiles(ctx, &AddFilesRequest{Files: []string{"f"}})
	require.Error(t, err)

	var terr *TransportError
	assert.False(t, errors.As(err, &terr), "a canceled caller context must not trigger the retry")
}

func TestIsTransportCode(t *testing.T) {
	assert.True(t, isTransportCode(codes.Unavailable))
	assert.True(t, isTransportCode(codes.DeadlineExceeded))
	assert.False(t, isTransportCode(codes.Canceled))
	assert.False(t, isTransportCode(codes.InvalidArgument))
	assert.False(t, isTransportCode(codes.Internal))
	assert.False(t, isTransportCode(codes.NotFound))
}
