// SPDX-License-Identifier: Apache-2.0

package ncs3backup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/apex/log"

	"github.com/petrusv/nc-s3-backup/internal/repo"
)

// PurgeResult reports the bytes reclaimed from one backup_root's sha1 and
// etag passes. The two are kept separate rather than summed, since they
// account for logically distinct blob populations even though both hang off
// the same live-inode set.
type PurgeResult struct {
	BackupRoot  string
	SHA1Removed int
	SHA1Freed   int64
	ETagRemoved int
	ETagFreed   int64
}

// Purge performs the mark-and-sweep garbage collection of §4.6: for each
// distinct backup_root among the configured mappings, it marks every inode
// reachable from snapshots/ as live, then sweeps .data/sha1 and .data/etag
// independently, unlinking anything unreachable.
func (r *Run) Purge() ([]PurgeResult, error) {
	roots := distinctBackupRoots(r.Config.Mapping)

	results := make([]PurgeResult, 0, len(roots))
	for _, root := range roots {
		stop := r.metrics.Observe("purge.root")
		res, err := purgeRoot(root)
		stop()
		if err != nil {
			return results, fmt.Errorf("ncs3backup: purge %s: %w", root, err)
		}
		results = append(results, res)

		log.WithFields(log.Fields{
			"backup_root":  root,
			"sha1_removed": res.SHA1Removed,
			"sha1_freed":   res.SHA1Freed,
			"etag_removed": res.ETagRemoved,
			"etag_freed":   res.ETagFreed,
		}).Info("purge: backup_root complete")
	}
	return results, nil
}

func distinctBackupRoots(mappings []MappingConfig) []string {
	seen := make(map[string]struct{})
	var roots []string
	for _, m := range mappings {
		if _, ok := seen[m.BackupRootPath]; ok {
			continue
		}
		seen[m.BackupRootPath] = struct{}{}
		roots = append(roots, m.BackupRootPath)
	}
	return roots
}

func purgeRoot(root string) (PurgeResult, error) {
	res := PurgeResult{BackupRoot: root}
	store := repo.New(root)

	live, err := markLiveInodes(store.SnapshotsDir())
	if err != nil {
		return res, fmt.Errorf("mark live inodes: %w", err)
	}

	n, freed, err := sweep(store.SHA1Dir(), live)
	if err != nil {
		return res, fmt.Errorf("sweep sha1: %w", err)
	}
	res.SHA1Removed, res.SHA1Freed = n, freed

	n, freed, err = sweep(store.ETagDir(), live)
	if err != nil {
		return res, fmt.Errorf("sweep etag: %w", err)
	}
	res.ETagRemoved, res.ETagFreed = n, freed

	return res, nil
}

type inodeKey struct {
	dev uint64
	ino uint64
}

// markLiveInodes recursively walks snapshotsDir and records the (device,
// inode) of every regular file found. A snapshots directory that does not
// exist yet yields an empty set rather than an error: cold backup_root
// state is not a reason to refuse to purge.
func markLiveInodes(snapshotsDir string) (map[inodeKey]struct{}, error) {
	live := make(map[inodeKey]struct{})
	err := filepath.WalkDir(snapshotsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == snapshotsDir {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		key, err := statInode(path)
		if err != nil {
			return err
		}
		live[key] = struct{}{}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return live, nil
}

// sweep walks dir, unlinking any regular file whose inode is not in live.
// A dir that does not exist is treated as already empty.
func sweep(dir string, live map[inodeKey]struct{}) (removed int, freed int64, err error) {
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) && path == dir {
				return nil
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}

		key, err := statInode(path)
		if err != nil {
			return err
		}
		if _, ok := live[key]; ok {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("unlink %s: %w", path, err)
		}
		removed++
		freed += info.Size()
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return removed, freed, err
	}
	return removed, freed, nil
}

func statInode(path string) (inodeKey, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return inodeKey{}, fmt.Errorf("stat %s: %w", path, err)
	}
	stat, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return inodeKey{}, fmt.Errorf("%s: inode identity unavailable on this platform", path)
	}
	return inodeKey{dev: uint64(stat.Dev), ino: stat.Ino}, nil //nolint:unconvert // Dev is int64 on darwin, uint64 on linux.
}
