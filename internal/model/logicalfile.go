// SPDX-License-Identifier: Apache-2.0

package model

import (
	"fmt"
	"os"
	"path"
)

// LogicalFile is one row pulled from the upstream metadata store: the
// Nextcloud file record that the backup engine turns into either a download
// or a repository lookup.
type LogicalFile struct {
	FileID           int64
	StorageID        int64
	Path             string
	DeclaredChecksum string
	Size             int64
}

// IsEmpty reports whether this record must be handled as the zero-length
// placeholder case rather than going through the download/dedup path.
func (lf LogicalFile) IsEmpty() bool {
	return lf.Size == 0
}

// HasDeclaredSHA1 reports whether DeclaredChecksum is usable as a SHA1 tag,
// i.e. whether the backup engine should take the SHA1 branch instead of the
// ETag branch.
func (lf LogicalFile) HasDeclaredSHA1() bool {
	return HasMethod(lf.DeclaredChecksum, "sha1")
}

// ObjectKey returns the object-store key for this file under the given
// bucket/prefix, following the "<prefix>/urn:oid:<file_id>" convention.
// No URL-encoding is applied; the prefix is joined with a literal ASCII
// segment.
func ObjectKey(bucketPrefix string, fileID int64) string {
	return path.Join(bucketPrefix, fmt.Sprintf("urn:oid:%d", fileID))
}

func openForHash(filePath string) (*os.File, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("model: open %s: %w", filePath, err)
	}
	return f, nil
}
