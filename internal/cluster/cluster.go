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

// Package cluster exposes the shared coordination state the sink depends on:
// the metadata service's current network address and this node's stable
// identity. Both are explicit dependencies rather than ambient globals so
// the sink is testable without a live cluster.
package cluster

import (
	"context"
	"errors"
)

// ErrNoFrontend is returned when no metadata service address is known.
var ErrNoFrontend = errors.New("cluster: no frontend address configured")

// Info provides cluster coordination state. The frontend address may change
// between invocations and must be re-resolved on every use, never cached
// across sink instances.
type Info interface {
	// FrontendAddr returns the metadata service's current host:port.
	FrontendAddr(ctx context.Context) (string, error)

	// NodeID returns this node's stable identity, used in generated file names.
	NodeID() int64
}

// StaticInfo is an Info backed by fixed configuration values.
type StaticInfo struct {
	Addr string
	Node int64
}

func (s *StaticInfo) FrontendAddr(ctx context.Context) (string, error) {
	if s.Addr == "" {
		return "", ErrNoFrontend
	}
	return s.Addr, nil
}

func (s *StaticInfo) NodeID() int64 {
	return s.Node
}
