// SPDX-License-Identifier: Apache-2.0

// Package objectstore is the Object Store Adapter: existence checks,
// streaming downloads and ETag retrieval for the S3-compatible bucket that
// holds Nextcloud's primary file data. The backup engine only ever talks to
// the Client interface; concrete transport lives in s3.go.
package objectstore

import "context"

// Client is the collaborator the backup engine consults for every object
// key it needs to materialize. No assumption is made about whether the
// returned ETag is an MD5 digest; it is treated as an opaque identifier.
type Client interface {
	// Exists reports whether key is present in the store.
	Exists(ctx context.Context, key string) (bool, error)

	// Download writes key's byte-exact content to destPath, streaming
	// without buffering the full object in memory.
	Download(ctx context.Context, key, destPath string) error

	// ETag returns the store's opaque entity tag for key, including any
	// multipart suffix (e.g. "-2").
	ETag(ctx context.Context, key string) (string, error)
}
