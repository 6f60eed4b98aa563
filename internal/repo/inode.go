// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

// InodeIndex is a process-local, mapping-scoped index from (device, inode)
// to a canonical SHA1 blob path. It replaces the shell-out to `find -inum`
// used by the tool this was distilled from: building it once per mapping and
// looking entries up in memory turns an O(N) fork-per-lookup into O(1).
type InodeIndex struct {
	mu  sync.Mutex
	idx map[inodeKey]string
}

type inodeKey struct {
	dev uint64
	ino uint64
}

// BuildInodeIndex recursively walks root's ".data/sha1" directory and
// records the (device, inode) of every regular file found. If the sha1
// directory does not exist yet (a fresh backup_root), the index is empty
// rather than an error.
func (s *Store) BuildInodeIndex() (*InodeIndex, error) {
	idx := &InodeIndex{idx: make(map[inodeKey]string)}

	sha1Dir := s.SHA1Dir()
	err := filepath.WalkDir(sha1Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == sha1Dir {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		return idx.insert(path)
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("repo: build inode index under %s: %w", sha1Dir, err)
	}
	return idx, nil
}

// Register records blobPath's inode in the index. It must be called on
// every freshly produced SHA1 blob so subsequent ETag lookups within the
// same run can resolve it.
func (idx *InodeIndex) Register(blobPath string) error {
	return idx.insert(blobPath)
}

func (idx *InodeIndex) insert(path string) error {
	key, err := inodeOf(path)
	if err != nil {
		return fmt.Errorf("repo: stat %s: %w", path, err)
	}
	idx.mu.Lock()
	idx.idx[key] = path
	idx.mu.Unlock()
	return nil
}

// Lookup returns the canonical SHA1 blob path sharing the given path's
// inode, if one has been indexed.
func (idx *InodeIndex) Lookup(path string) (string, bool, error) {
	key, err := inodeOf(path)
	if err != nil {
		return "", false, fmt.Errorf("repo: stat %s: %w", path, err)
	}
	idx.mu.Lock()
	found, ok := idx.idx[key]
	idx.mu.Unlock()
	return found, ok, nil
}

func inodeOf(path string) (inodeKey, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return inodeKey{}, err
	}
	stat, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return inodeKey{}, fmt.Errorf("repo: %s: inode identity unavailable on this platform", path)
	}
	return inodeKey{dev: uint64(stat.Dev), ino: stat.Ino}, nil //nolint:unconvert // Dev is int64 on darwin, uint64 on linux.
}

// SameInode reports whether the two paths currently share a (device, inode)
// pair, i.e. are hardlinks to the same underlying file.
func SameInode(a, b string) (bool, error) {
	ka, err := inodeOf(a)
	if err != nil {
		return false, err
	}
	kb, err := inodeOf(b)
	if err != nil {
		return false, err
	}
	return ka == kb, nil
}
