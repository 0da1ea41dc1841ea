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
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const addFilesMethod = "/cardinalhq.tablesink.metadata.v1.MetadataService/AddDataFiles"

// TransportError marks a failure of the RPC transport itself, as opposed to
// an application-level rejection. The commit protocol retries these once
// after reopening the connection.
type TransportError struct {
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("metadata transport to %s: %v", e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client is the metadata service connection used by the commit protocol.
type Client interface {
	// AddDataFiles performs the batched file registration call.
	AddDataFiles(ctx context.Context, req *AddFilesRequest) (*AddFilesResponse, error)

	// Reopen tears down the underlying connection and establishes a new one,
	// so a poisoned connection is never reused.
	Reopen(timeout time.Duration) error

	// Close releases the connection.
	Close() error
}

// grpcClient is the gRPC-backed Client. Calls are bounded by a fixed timeout.
type grpcClient struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn *grpc.ClientConn
}

// Dial creates a metadata client for the given frontend address. Calls are
// bounded by timeout.
func Dial(addr string, timeout time.Duration) (Client, error) {
	conn, err := newConn(addr)
	if err != nil {
		return nil, err
	}
	return &grpcClient{addr: addr, timeout: timeout, conn: conn}, nil
}

func newConn(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("connect metadata service %s: %w", addr, err)
	}
	return conn, nil
}

func (c *grpcClient) AddDataFiles(ctx context.Context, req *AddFilesRequest) (*AddFilesResponse, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp := new(AddFilesResponse)
	err := conn.Invoke(callCtx, addFilesMethod, req, resp, grpc.ForceCodec(jsonCodec{}))
	if err != nil {
		// A failure counts as transport-level only while the caller's own
		// context is still live: a retry on a context the caller has already
		// given up on cannot succeed.
		if ctx.Err() == nil && isTransportCode(status.Code(err)) {
			return nil, &TransportError{Addr: c.addr, Err: err}
		}
		return nil, err
	}
	return resp, nil
}

func (c *grpcClient) Reopen(timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.Close()
	conn, err := newConn(c.addr)
	if err != nil {
		return err
	}
	c.conn = conn
	if timeout > 0 {
		c.timeout = timeout
	}
	return nil
}

func (c *grpcClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

// isTransportCode classifies gRPC status codes that indicate the connection
// itself failed rather than the service rejecting the request. Unavailable is
// the canonical dead-connection code; DeadlineExceeded covers a hung
// connection that produced nothing within the attempt timeout. Cancellation
// is caller-driven and never worth a retry.
func isTransportCode(code codes.Code) bool {
	switch code {
	case codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
