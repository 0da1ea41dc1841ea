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
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/tablesink/internal/cluster"
	"github.com/cardinalhq/tablesink/internal/logctx"
)

var (
	commitAttemptsCounter metric.Int64Counter
	commitReopensCounter  metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/tablesink/internal/metadata")

	var err error
	commitAttemptsCounter, err = meter.Int64Counter(
		"tablesink.commit.attempts",
		metric.WithDescription("Number of add-files RPC attempts"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create commit.attempts counter: %w", err))
	}

	commitReopensCounter, err = meter.Int64Counter(
		"tablesink.commit.reopens",
		metric.WithDescription("Number of metadata connection reopens during commit"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create commit.reopens counter: %w", err))
	}
}

// DialFunc opens a metadata client for an address. Tests substitute fakes.
type DialFunc func(addr string, timeout time.Duration) (Client, error)

// Reporter performs the single batched file registration of a sink against
// the metadata service, with one reopen-and-retry on transport failure.
type Reporter struct {
	cluster cluster.Info
	dial    DialFunc
	timeout time.Duration
}

// ReporterOption customizes a Reporter.
type ReporterOption func(*Reporter)

// WithDialer overrides how the reporter opens metadata clients.
func WithDialer(dial DialFunc) ReporterOption {
	return func(r *Reporter) {
		r.dial = dial
	}
}

// NewReporter creates a reporter that resolves the frontend address through
// info on every commit and bounds each RPC attempt by timeout.
func NewReporter(info cluster.Info, timeout time.Duration, opts ...ReporterOption) *Reporter {
	r := &Reporter{
		cluster: info,
		dial:    Dial,
		timeout: timeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// commitState is the explicit state of the send-with-one-retry protocol:
// idle -> sent -> (transport failure -> reopened -> sent) -> done | failed.
type commitState int

const (
	commitIdle commitState = iota
	commitSent
	commitReopened
	commitDone
	commitFailed
)

// Commit registers files with the metadata service for table. An empty file
// set is a no-op success and performs no network call. A transport-level
// failure is retried exactly once after reopening the connection; any other
// failure, or a failure of the retry, reopens the connection (so a poisoned
// connection never survives the commit) and fails. An application-level
// rejection is surfaced verbatim and never retried.
func (r *Reporter) Commit(ctx context.Context, files []string, table TableRef) error {
	if len(files) == 0 {
		return nil
	}
	ll := logctx.FromContext(ctx)

	// The frontend may have moved since the sink was created; always re-resolve.
	addr, err := r.cluster.FrontendAddr(ctx)
	if err != nil {
		return err
	}
	client, err := r.dial(addr, r.timeout)
	if err != nil {
		return fmt.Errorf("connect metadata service (%s): %w", addr, err)
	}
	defer func() { _ = client.Close() }()

	req := &AddFilesRequest{
		Files:         files,
		DbID:          table.DbID,
		TableID:       table.TableID,
		TimeoutMillis: r.timeout.Milliseconds() * 3 / 4,
	}
	ll.Info("adding data files to table metadata",
		"addr", addr, "tableID", table.TableID, "fileCount", len(files))

	var resp *AddFilesResponse
	var cause error
	reopened := false

	state := commitIdle
	for state != commitDone && state != commitFailed {
		switch state {
		case commitIdle, commitReopened:
			resp, cause = client.AddDataFiles(ctx, req)
			commitAttemptsCounter.Add(ctx, 1)
			state = commitSent

		case commitSent:
			var terr *TransportError
			switch {
			case cause == nil:
				state = commitDone
			case errors.As(cause, &terr) && !reopened:
				ll.Warn("retrying add files after transport failure", "addr", addr, "error", cause)
				if err := client.Reopen(r.timeout); err != nil {
					cause = err
					state = commitFailed
					break
				}
				commitReopensCounter.Add(ctx, 1)
				reopened = true
				state = commitReopened
			default:
				// The retry failed too, or the first attempt failed in a
				// non-transport way. Reopen so a poisoned connection is not
				// left behind, then fail.
				_ = client.Reopen(r.timeout)
				state = commitFailed
			}
		}
	}

	if state == commitFailed {
		return fmt.Errorf("add data files to metadata service (%s) for table %d: %w",
			addr, table.TableID, cause)
	}
	if !resp.Status.OK() {
		return &RejectedError{Status: resp.Status}
	}

	ll.Info("successfully added data files to table",
		"tableID", table.TableID, "fileCount", len(files))
	return nil
}
