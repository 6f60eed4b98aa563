// SPDX-License-Identifier: Apache-2.0

package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChecksum(t *testing.T) {
	for _, tc := range []struct {
		name   string
		tag    string
		wantOK bool
		method string
		hex    string
	}{
		{"sha1", "SHA1:ba8607f049f59aeadcff2adb9fae48d0cf16b4ad", true, "sha1", "ba8607f049f59aeadcff2adb9fae48d0cf16b4ad"},
		{"etag multipart", "ETAG:dd0a2a1748da571835f70c95340aa6a7-2", true, "etag", "dd0a2a1748da571835f70c95340aa6a7-2"},
		{"empty", "", false, "", ""},
		{"no method", "justhex", false, "", ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, ok := ParseChecksum(tc.tag)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.method, c.Method)
				assert.Equal(t, tc.hex, c.Hex)
			}
		})
	}
}

func TestHashPathRoundTrip(t *testing.T) {
	// P7: hash_path("SHA1:" + H) produces sha1/H[0:2]/H[2:] for any 40-hex H.
	const digest = "ba8607f049f59aeadcff2adb9fae48d0cf16b4ad"
	c, ok := ParseChecksum(SHA1Tag(digest))
	require.True(t, ok)
	p, err := c.HashPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("sha1", "ba", "8607f049f59aeadcff2adb9fae48d0cf16b4ad"), p)
}

func TestHashPathETagMultipart(t *testing.T) {
	c, ok := ParseChecksum(ETagTag("dd0a2a1748da571835f70c95340aa6a7-2"))
	require.True(t, ok)
	p, err := c.HashPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("etag", "dd", "0a2a1748da571835f70c95340aa6a7-2"), p)
}

func TestSHA1TagFromHashPath(t *testing.T) {
	assert.Equal(t, "SHA1:ba8607f049f59aeadcff2adb9fae48d0cf16b4ad",
		SHA1TagFromHashPath("sha1/ba/8607f049f59aeadcff2adb9fae48d0cf16b4ad"))
}

func TestComputeSHA1(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "content")
	require.NoError(t, os.WriteFile(p, []byte("Binary file contents"), 0o644))

	got, err := ComputeSHA1(p)
	require.NoError(t, err)
	assert.Equal(t, "SHA1:ba8607f049f59aeadcff2adb9fae48d0cf16b4ad", got)
}

func TestHasDeclaredSHA1(t *testing.T) {
	lf := LogicalFile{DeclaredChecksum: "Sha1:abc"}
	assert.True(t, lf.HasDeclaredSHA1())
	lf.DeclaredChecksum = ""
	assert.False(t, lf.HasDeclaredSHA1())
	lf.DeclaredChecksum = "md5:abc"
	assert.False(t, lf.HasDeclaredSHA1())
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "mybucket/urn:oid:579", ObjectKey("mybucket", 579))
}
