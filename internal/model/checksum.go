// SPDX-License-Identifier: Apache-2.0

// Package model holds the file-identity and checksum types shared by the
// repository store and the backup engine (the "Path & Hash Model" of the
// backup design): parsing the checksum tags recorded by Nextcloud, deriving
// the repository-relative path for a tag, and hashing downloaded content.
package model

import (
	"crypto/sha1" //nolint:gosec // SHA1 is the content-addressing scheme mandated by upstream, not used for security.
	"fmt"
	"io"
	"path"
	"strings"
)

// hashChunkSize bounds the read buffer used while hashing so that large
// downloads never need to be buffered in full.
const hashChunkSize = 1 << 20 // 1 MiB

// Checksum is a parsed "<method>:<hex>" tag, e.g. "SHA1:ba8607f0..." or
// "ETAG:dd0a2a17...-2". The method is case-folded to lowercase on parse;
// Hex retains whatever casing it was given.
type Checksum struct {
	Method string
	Hex    string
}

// ParseChecksum splits a raw checksum tag on its first ":". It returns false
// if tag has no method separator, which the caller should treat as "no
// usable checksum" rather than an error.
func ParseChecksum(tag string) (Checksum, bool) {
	method, hex, ok := strings.Cut(tag, ":")
	if !ok || method == "" || hex == "" {
		return Checksum{}, false
	}
	return Checksum{Method: strings.ToLower(method), Hex: hex}, true
}

// HasMethod reports whether tag parses as a checksum declaring the given
// method, independent of case. Used to dispatch on the SHA1 vs ETag
// branch of the backup engine.
func HasMethod(tag, method string) bool {
	c, ok := ParseChecksum(tag)
	return ok && c.Method == strings.ToLower(method)
}

// Tag renders the checksum back into "<METHOD>:<hex>" form, uppercasing the
// method the way the engine's internally-synthesized tags ("SHA1:...",
// "ETAG:...") are written.
func (c Checksum) Tag() string {
	return strings.ToUpper(c.Method) + ":" + c.Hex
}

// HashPath returns the repository-relative path for this checksum:
// "<method>/<hex[:2]>/<hex[2:]>". Defined for any method whose hex has at
// least two characters (shorter hex is an error); the repository store only
// ever calls it with "sha1" or "etag".
func (c Checksum) HashPath() (string, error) {
	if len(c.Hex) < 2 {
		return "", fmt.Errorf("model: checksum hex %q too short to split", c.Hex)
	}
	return path.Join(c.Method, c.Hex[:2], c.Hex[2:]), nil
}

// SHA1Tag prefixes hexDigest with "SHA1:", the form produced by ComputeSHA1
// and expected by the repository store's sha1 branch. The digest's casing is
// left as given.
func SHA1Tag(hexDigest string) string {
	return "SHA1:" + hexDigest
}

// ETagTag wraps a raw object-store ETag into the "ETAG:<etag>" checksum tag
// used to key the ETag side of the repository.
func ETagTag(etag string) string {
	return "ETAG:" + etag
}

// SHA1TagFromHashPath reconstructs a "SHA1:<hex>" tag from a repository blob
// path's trailing "<xx>/<rest>" components. This is the corrected form of
// the original implementation, which mistakenly took the path's leading two
// components instead of the trailing two.
func SHA1TagFromHashPath(blobPath string) string {
	dir, rest := path.Split(blobPath)
	dir = strings.TrimSuffix(dir, "/")
	prefix := path.Base(dir)
	return SHA1Tag(prefix + rest)
}

// ComputeSHA1 hashes the content of path in bounded-size chunks, returning
// it as a "SHA1:<lowercase hex>" tag.
func ComputeSHA1(filePath string) (string, error) {
	f, err := openForHash(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha1.New() //nolint:gosec
	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("model: hash %s: %w", filePath, err)
	}
	return SHA1Tag(fmt.Sprintf("%x", h.Sum(nil))), nil
}
