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

// Package cloudstorage provides the object store client used by the sink's
// remote filesystem to make finished data files durable.
package cloudstorage

import (
	"context"
	"fmt"

	"github.com/cardinalhq/tablesink/internal/awsclient"
)

// Client provides a unified interface for object storage operations across
// providers.
type Client interface {
	// UploadObject uploads a local file to bucket/key.
	UploadObject(ctx context.Context, bucket, key, sourceFilename string) error

	// DeleteObject deletes an object, ignoring objects that do not exist.
	DeleteObject(ctx context.Context, bucket, key string) error

	// ObjectExists reports whether an object is present at bucket/key.
	ObjectExists(ctx context.Context, bucket, key string) (bool, error)
}

// Settings select and configure the storage provider.
type Settings struct {
	Provider string // "aws" or "" (defaults to aws)
	Region   string
	Endpoint string
	// PathStyle uses path-style addressing, needed for MinIO-style endpoints.
	PathStyle bool
}

// NewClient creates an object storage client for the configured provider.
func NewClient(ctx context.Context, settings Settings) (Client, error) {
	switch settings.Provider {
	case "aws", "":
		var opts []awsclient.S3Option
		if settings.Region != "" {
			opts = append(opts, awsclient.WithRegion(settings.Region))
		}
		if settings.Endpoint != "" {
			opts = append(opts, awsclient.WithEndpoint(settings.Endpoint))
		}
		if settings.PathStyle {
			opts = append(opts, awsclient.WithPathStyle())
		}
		s3c, err := awsclient.NewS3Client(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		return &s3Client{awsS3Client: s3c}, nil
	default:
		return nil, fmt.Errorf("unsupported cloud provider: %s", settings.Provider)
	}
}
