// SPDX-License-Identifier: Apache-2.0

// Package repo implements the content-addressed Repository Store: the
// dual-index (SHA1, ETag) blob directory under a mapping's backup_root, the
// inode index used to resolve ETag blobs to their SHA1 sibling in O(1), and
// the atomic-publish primitives the backup engine builds on.
//
// The on-disk layout (grounded on the umoci OCI blob store, oci/cas/dir.go,
// which also publishes blobs by renaming a temporary file into place) is:
//
//	<root>/.data/sha1/<xx>/<38hex>
//	<root>/.data/etag/<xx>/<rest>
//	<root>/snapshots/<date>/<user>/<path>
package repo

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/petrusv/nc-s3-backup/internal/model"
)

const (
	dataDirName      = ".data"
	sha1SubdirName   = "sha1"
	etagSubdirName   = "etag"
	snapshotsDirName = "snapshots"
	downloadingExt   = ".downloading"
)

// Store is a content-addressed blob repository rooted at a single mapping's
// backup_root.
type Store struct {
	root string
}

// New returns a Store rooted at backupRoot. It does not touch the
// filesystem; directories are created lazily as blobs are published.
func New(backupRoot string) *Store {
	return &Store{root: backupRoot}
}

// Root returns the backup_root this store is rooted at.
func (s *Store) Root() string { return s.root }

// DataDir is "<root>/.data".
func (s *Store) DataDir() string { return filepath.Join(s.root, dataDirName) }

// SHA1Dir is "<root>/.data/sha1".
func (s *Store) SHA1Dir() string { return filepath.Join(s.DataDir(), sha1SubdirName) }

// ETagDir is "<root>/.data/etag".
func (s *Store) ETagDir() string { return filepath.Join(s.DataDir(), etagSubdirName) }

// SnapshotsDir is "<root>/snapshots".
func (s *Store) SnapshotsDir() string { return filepath.Join(s.root, snapshotsDirName) }

// SHA1BlobPath returns the canonical path for the blob with the given
// "SHA1:<hex>" tag.
func (s *Store) SHA1BlobPath(sha1Tag string) (string, error) {
	return s.blobPath(sha1Tag)
}

// ETagBlobPath returns the path for the ETag-alias blob with the given
// "ETAG:<etag>" tag.
func (s *Store) ETagBlobPath(etagTag string) (string, error) {
	return s.blobPath(etagTag)
}

func (s *Store) blobPath(tag string) (string, error) {
	c, ok := model.ParseChecksum(tag)
	if !ok {
		return "", fmt.Errorf("repo: invalid checksum tag %q", tag)
	}
	rel, err := c.HashPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(s.DataDir(), rel), nil
}

// SnapshotPath returns the path for a snapshot hardlink given the snapshot
// token, the mapping's user name, and the logical file's relative path.
func (s *Store) SnapshotPath(snapshotToken, userName, relPath string) string {
	return filepath.Join(s.SnapshotsDir(), snapshotToken, userName, relPath)
}

// Downloading returns the in-flight sidecar path for a final blob path.
func Downloading(finalPath string) string {
	return finalPath + downloadingExt
}

// mkdirParent ensures the parent directory of path exists.
func mkdirParent(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("repo: mkdir %s: %w", dir, err)
	}
	return nil
}

// Publish renames a completed ".downloading" sidecar into its final blob
// path. Readers of the repository never observe a partial blob under its
// canonical name because the rename is atomic.
func Publish(downloadingPath, finalPath string) error {
	if err := mkdirParent(finalPath); err != nil {
		return err
	}
	if err := os.Rename(downloadingPath, finalPath); err != nil {
		return fmt.Errorf("repo: publish %s: %w", finalPath, err)
	}
	return nil
}

// Hardlink creates dst as a new hardlink to src, creating dst's parent
// directories first. It is used both for snapshot links (dst under
// snapshots/) and for ETag<->SHA1 aliasing (dst under .data/).
func Hardlink(dst, src string) error {
	if err := mkdirParent(dst); err != nil {
		return err
	}
	if err := os.Link(src, dst); err != nil {
		return fmt.Errorf("repo: link %s -> %s: %w", dst, src, err)
	}
	return nil
}

// CreatePlaceholder creates path as a fresh, empty regular file (never a
// hardlink), creating its parent directories first. Used for zero-length
// logical files so that the per-inode hardlink ceiling is never shared
// across large numbers of unrelated empty files.
func CreatePlaceholder(path string) error {
	if err := mkdirParent(path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("repo: create placeholder %s: %w", path, err)
	}
	return f.Close()
}

// Exists reports whether a file exists at path. Stat errors other than
// os.ErrNotExist are returned rather than treated as a cache miss.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("repo: stat %s: %w", path, err)
}
