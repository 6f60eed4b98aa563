// SPDX-License-Identifier: Apache-2.0

package ncs3backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrusv/nc-s3-backup/internal/metrics"
	"github.com/petrusv/nc-s3-backup/internal/model"
	"github.com/petrusv/nc-s3-backup/internal/repo"
)

// fakeObjectStore is an in-memory double for objectstore.Client keyed by
// object key, used to drive the backup engine's per-file algorithm without a
// real S3 endpoint.
type fakeObjectStore struct {
	content map[string][]byte
	etag    map[string]string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{content: map[string][]byte{}, etag: map[string]string{}}
}

func (f *fakeObjectStore) put(key string, content []byte, etag string) {
	f.content[key] = content
	f.etag[key] = etag
}

func (f *fakeObjectStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := f.content[key]
	return ok, nil
}

func (f *fakeObjectStore) Download(_ context.Context, key, destPath string) error {
	content, ok := f.content[key]
	if !ok {
		return os.ErrNotExist
	}
	return os.WriteFile(destPath, content, 0o644)
}

func (f *fakeObjectStore) ETag(_ context.Context, key string) (string, error) {
	return f.etag[key], nil
}

func testRun(t *testing.T, store *fakeObjectStore) *Run {
	t.Helper()
	return &Run{
		Config:  &Config{BackupDateFormat: defaultBackupDateFormat},
		store:   store,
		metrics: metrics.New(),
	}
}

const binaryContent = "Binary file contents"

// sha1OfBinaryContent is crypto/sha1("Binary file contents") — also used in
// internal/model's ComputeSHA1 test fixture.
const sha1OfBinaryContent = "SHA1:ba8607f049f59aeadcff2adb9fae48d0cf16b4ad"

func TestBackupFileSHA1BranchDownloadsFreshContent(t *testing.T) {
	root := t.TempDir()
	store := repo.New(root)
	idx, err := store.BuildInodeIndex()
	require.NoError(t, err)

	objStore := newFakeObjectStore()
	objStore.put("bucket/urn:oid:1", []byte(binaryContent), "")
	r := testRun(t, objStore)

	lf := model.LogicalFile{FileID: 1, Path: "docs/report.txt", DeclaredChecksum: sha1OfBinaryContent, Size: int64(len(binaryContent))}
	m := MappingConfig{UserName: "alice", Bucket: "bucket"}

	err = r.backupFile(context.Background(), store, idx, "240101-0000", m, lf)
	require.NoError(t, err)

	blobPath, err := store.SHA1BlobPath(sha1OfBinaryContent)
	require.NoError(t, err)
	assertFileContent(t, blobPath, binaryContent)

	snap := filepath.Join(store.SnapshotsDir(), "240101-0000", "alice", "docs/report.txt")
	assertFileContent(t, snap, binaryContent)

	same, err := repo.SameInode(snap, blobPath)
	require.NoError(t, err)
	assert.True(t, same, "snapshot must share an inode with the sha1 blob")
}

func TestBackupFileSHA1BranchSkipsDownloadWhenBlobAlreadyExists(t *testing.T) {
	root := t.TempDir()
	store := repo.New(root)

	blobPath, err := store.SHA1BlobPath(sha1OfBinaryContent)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(blobPath), 0o755))
	require.NoError(t, os.WriteFile(blobPath, []byte(binaryContent), 0o644))

	idx, err := store.BuildInodeIndex()
	require.NoError(t, err)

	// No content registered in the object store: if the engine tried to
	// download, this would fail.
	r := testRun(t, newFakeObjectStore())

	lf := model.LogicalFile{FileID: 2, Path: "dup.txt", DeclaredChecksum: sha1OfBinaryContent, Size: int64(len(binaryContent))}
	m := MappingConfig{UserName: "bob", Bucket: "bucket"}

	err = r.backupFile(context.Background(), store, idx, "240101-0000", m, lf)
	require.NoError(t, err)

	snap := filepath.Join(store.SnapshotsDir(), "240101-0000", "bob", "dup.txt")
	same, err := repo.SameInode(snap, blobPath)
	require.NoError(t, err)
	assert.True(t, same)
}

func TestBackupFileSHA1BranchSelfHealsMismatch(t *testing.T) {
	root := t.TempDir()
	store := repo.New(root)
	idx, err := store.BuildInodeIndex()
	require.NoError(t, err)

	objStore := newFakeObjectStore()
	objStore.put("bucket/urn:oid:3", []byte(binaryContent), "")
	r := testRun(t, objStore)

	lf := model.LogicalFile{FileID: 3, Path: "wrong.txt", DeclaredChecksum: "SHA1:deadbeefdeadbeefdeadbeefdeadbeefdeadbeef", Size: int64(len(binaryContent))}
	m := MappingConfig{UserName: "carol", Bucket: "bucket"}

	err = r.backupFile(context.Background(), store, idx, "240101-0000", m, lf)
	require.NoError(t, err)

	actualPath, err := store.SHA1BlobPath(sha1OfBinaryContent)
	require.NoError(t, err)
	assertFileContent(t, actualPath, binaryContent)

	wrongPath, err := store.SHA1BlobPath("SHA1:deadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
	require.NoError(t, err)
	exists, err := repo.Exists(wrongPath)
	require.NoError(t, err)
	assert.False(t, exists, "content must land under the hash it actually has")
}

func TestBackupFileETagBranchCaseAFreshDownload(t *testing.T) {
	root := t.TempDir()
	store := repo.New(root)
	idx, err := store.BuildInodeIndex()
	require.NoError(t, err)

	objStore := newFakeObjectStore()
	objStore.put("bucket/urn:oid:4", []byte(binaryContent), "dd0a2a1748da571835f70c95340aa6a7-2")
	r := testRun(t, objStore)

	lf := model.LogicalFile{FileID: 4, Path: "etag-fresh.txt", DeclaredChecksum: "", Size: int64(len(binaryContent))}
	m := MappingConfig{UserName: "dave", Bucket: "bucket"}

	err = r.backupFile(context.Background(), store, idx, "240101-0000", m, lf)
	require.NoError(t, err)

	sha1Path, err := store.SHA1BlobPath(sha1OfBinaryContent)
	require.NoError(t, err)
	etagPath, err := store.ETagBlobPath(model.ETagTag("dd0a2a1748da571835f70c95340aa6a7-2"))
	require.NoError(t, err)
	snap := filepath.Join(store.SnapshotsDir(), "240101-0000", "dave", "etag-fresh.txt")

	for _, p := range []string{sha1Path, etagPath, snap} {
		assertFileContent(t, p, binaryContent)
	}
	same, err := repo.SameInode(sha1Path, etagPath)
	require.NoError(t, err)
	assert.True(t, same)
	same, err = repo.SameInode(sha1Path, snap)
	require.NoError(t, err)
	assert.True(t, same)
}

func TestBackupFileETagBranchCaseBResolvesKnownSibling(t *testing.T) {
	root := t.TempDir()
	store := repo.New(root)

	sha1Path, err := store.SHA1BlobPath(sha1OfBinaryContent)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(sha1Path), 0o755))
	require.NoError(t, os.WriteFile(sha1Path, []byte(binaryContent), 0o644))

	etagPath, err := store.ETagBlobPath(model.ETagTag("dd0a2a1748da571835f70c95340aa6a7-2"))
	require.NoError(t, err)
	require.NoError(t, repo.Hardlink(etagPath, sha1Path))

	idx, err := store.BuildInodeIndex()
	require.NoError(t, err)
	require.NoError(t, idx.Register(sha1Path))

	objStore := newFakeObjectStore()
	objStore.put("bucket/urn:oid:5", []byte(binaryContent), "dd0a2a1748da571835f70c95340aa6a7-2")
	r := testRun(t, objStore)

	lf := model.LogicalFile{FileID: 5, Path: "etag-known.txt", DeclaredChecksum: "", Size: int64(len(binaryContent))}
	m := MappingConfig{UserName: "erin", Bucket: "bucket"}

	err = r.backupFile(context.Background(), store, idx, "240101-0000", m, lf)
	require.NoError(t, err)

	snap := filepath.Join(store.SnapshotsDir(), "240101-0000", "erin", "etag-known.txt")
	same, err := repo.SameInode(snap, sha1Path)
	require.NoError(t, err)
	assert.True(t, same)
}

func TestBackupFileEmptyFileCreatesFreshPlaceholder(t *testing.T) {
	root := t.TempDir()
	store := repo.New(root)
	idx, err := store.BuildInodeIndex()
	require.NoError(t, err)

	r := testRun(t, newFakeObjectStore())
	lf := model.LogicalFile{FileID: 6, Path: "empty.txt", Size: 0}
	m := MappingConfig{UserName: "frank", Bucket: "bucket"}

	err = r.backupFile(context.Background(), store, idx, "240101-0000", m, lf)
	require.NoError(t, err)

	snap := filepath.Join(store.SnapshotsDir(), "240101-0000", "frank", "empty.txt")
	info, err := os.Stat(snap)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestBackupFileReturnsErrorWhenObjectMissing(t *testing.T) {
	root := t.TempDir()
	store := repo.New(root)
	idx, err := store.BuildInodeIndex()
	require.NoError(t, err)

	r := testRun(t, newFakeObjectStore())
	lf := model.LogicalFile{FileID: 7, Path: "gone.txt", DeclaredChecksum: sha1OfBinaryContent, Size: 10}
	m := MappingConfig{UserName: "gina", Bucket: "bucket"}

	err = r.backupFile(context.Background(), store, idx, "240101-0000", m, lf)
	assert.Error(t, err)
}

func assertFileContent(t *testing.T, path, want string) {
	t.Helper()
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, string(got))
}

func TestEnsureWritableCreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "fresh-root")
	require.NoError(t, ensureWritable(root))

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestEnsureWritableFailsWhenRootCannotBeCreated(t *testing.T) {
	// A regular file in the path where a directory is expected makes
	// MkdirAll fail regardless of the test process's privileges (a
	// permission-bit probe would be unreliable when running as root).
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	err := ensureWritable(filepath.Join(blocker, "subdir"))
	assert.Error(t, err)
}

func TestBackupIsRunFatalWhenBackupRootUnwritable(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	r := &Run{
		Config: &Config{
			BackupDateFormat: defaultBackupDateFormat,
			Mapping: []MappingConfig{
				{UserName: "alice", Bucket: "bucket", BackupRootPath: filepath.Join(blocker, "subdir")},
			},
		},
		store:   newFakeObjectStore(),
		metrics: metrics.New(),
	}

	err := r.Backup(context.Background())
	assert.Error(t, err, "an unwritable backup_root must abort before any file is streamed")
}
