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

	"google.golang.org/grpc"
)

// MetadataServiceServer is the server side of the commit RPC, implemented by
// the frontend metadata service and by in-process test fixtures.
type MetadataServiceServer interface {
	AddDataFiles(ctx context.Context, req *AddFilesRequest) (*AddFilesResponse, error)
}

// ServiceDesc describes the metadata service for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "cardinalhq.tablesink.metadata.v1.MetadataService",
	HandlerType: (*MetadataServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "AddDataFiles",
			Handler:    addDataFilesHandler,
		},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterMetadataServiceServer registers srv with a gRPC server.
func RegisterMetadataServiceServer(s grpc.ServiceRegistrar, srv MetadataServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func addDataFilesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AddFilesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MetadataServiceServer).AddDataFiles(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: addFilesMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MetadataServiceServer).AddDataFiles(ctx, req.(*AddFilesRequest))
	}
	return interceptor(ctx, in, info, handler)
}
