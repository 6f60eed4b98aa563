// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSHA1BlobPath(t *testing.T) {
	s := New("/backup")
	p, err := s.SHA1BlobPath("SHA1:ba8607f049f59aeadcff2adb9fae48d0cf16b4ad")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/backup", ".data", "sha1", "ba", "8607f049f59aeadcff2adb9fae48d0cf16b4ad"), p)
}

func TestPublishIsAtomicRename(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	final, err := s.SHA1BlobPath("SHA1:ba8607f049f59aeadcff2adb9fae48d0cf16b4ad")
	require.NoError(t, err)

	downloading := Downloading(final)
	require.NoError(t, os.MkdirAll(filepath.Dir(downloading), 0o755))
	require.NoError(t, os.WriteFile(downloading, []byte("Binary file contents"), 0o644))

	require.NoError(t, Publish(downloading, final))

	_, err = os.Stat(downloading)
	assert.True(t, os.IsNotExist(err), "sidecar must be gone after publish")
	content, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "Binary file contents", string(content))
}

func TestHardlinkSharesInode(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	dst := filepath.Join(root, "a", "b", "dst")
	require.NoError(t, Hardlink(dst, src))

	same, err := SameInode(src, dst)
	require.NoError(t, err)
	assert.True(t, same)
}

func TestCreatePlaceholderIsFreshInode(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	b := filepath.Join(root, "nested", "b")
	require.NoError(t, CreatePlaceholder(a))
	require.NoError(t, CreatePlaceholder(b))

	same, err := SameInode(a, b)
	require.NoError(t, err)
	assert.False(t, same, "placeholders must never share an inode (P6)")

	fi, err := os.Stat(a)
	require.NoError(t, err)
	assert.Zero(t, fi.Size())
}

func TestBuildInodeIndexEmptyWhenNoSHA1Dir(t *testing.T) {
	s := New(t.TempDir())
	idx, err := s.BuildInodeIndex()
	require.NoError(t, err)
	_, found, err := idx.Lookup(s.SHA1Dir())
	require.Error(t, err) // path itself doesn't exist
	assert.False(t, found)
}

func TestBuildInodeIndexFindsExistingBlobs(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	blob, err := s.SHA1BlobPath("SHA1:ba8607f049f59aeadcff2adb9fae48d0cf16b4ad")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(blob), 0o755))
	require.NoError(t, os.WriteFile(blob, []byte("Binary file contents"), 0o644))

	idx, err := s.BuildInodeIndex()
	require.NoError(t, err)

	found, ok, err := idx.Lookup(blob)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, blob, found)
}

func TestInodeIndexRegister(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	idx, err := s.BuildInodeIndex()
	require.NoError(t, err)

	blob, err := s.SHA1BlobPath("SHA1:ba8607f049f59aeadcff2adb9fae48d0cf16b4ad")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(blob), 0o755))
	require.NoError(t, os.WriteFile(blob, []byte("x"), 0o644))
	require.NoError(t, idx.Register(blob))

	found, ok, err := idx.Lookup(blob)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, blob, found)
}
