// SPDX-License-Identifier: Apache-2.0

package ncs3backup

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/apex/log"
	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/petrusv/nc-s3-backup/internal/model"
	"github.com/petrusv/nc-s3-backup/internal/repo"
)

// snapshotToken is computed once per Run and reused across every mapping so
// that a single invocation produces one coherent snapshot generation even if
// it spans midnight.
func (r *Run) snapshotToken() string {
	r.snapshotOnce.Do(func() {
		// strftime directives are rewritten to Go reference-time tokens; a
		// format without "%" directives is used as a Go layout unchanged.
		layout := strings.NewReplacer(
			"%Y", "2006", "%y", "06", "%m", "01", "%d", "02",
			"%H", "15", "%M", "04", "%S", "05", "%%", "%",
		).Replace(r.Config.BackupDateFormat)
		r.snapshotTokenValue = time.Now().Format(layout)
	})
	return r.snapshotTokenValue
}

// Backup performs the full backup operation (§4.5): for each configured
// mapping, it streams logical files from the Metadata Source and applies the
// per-file decision algorithm, publishing each into the current snapshot
// generation. Per-file errors are logged and skipped; they never abort the
// run. An unwritable backup_root is run-fatal (§7.3) and is checked for
// every mapping before any file is processed.
func (r *Run) Backup(ctx context.Context) error {
	for _, m := range r.Config.Mapping {
		if err := ensureWritable(m.BackupRootPath); err != nil {
			return fmt.Errorf("ncs3backup: backup: mapping %s: %w", m.UserName, err)
		}
	}

	token := r.snapshotToken()

	for _, m := range r.Config.Mapping {
		store := repo.New(m.BackupRootPath)

		idx, err := store.BuildInodeIndex()
		if err != nil {
			return fmt.Errorf("ncs3backup: backup: mapping %s: %w", m.UserName, err)
		}

		count := 0
		for lf, err := range r.metadata.Stream(ctx, m.StorageID, m.NextcloudPath, r.Config.ExcludedMimetypeIDs) {
			if err != nil {
				return fmt.Errorf("ncs3backup: backup: mapping %s: stream: %w", m.UserName, err)
			}
			if err := r.backupFile(ctx, store, idx, token, m, lf); err != nil {
				log.WithFields(log.Fields{
					"file_id": lf.FileID,
					"path":    lf.Path,
					"user":    m.UserName,
				}).WithError(err).Warn("backup: skipping file")
				continue
			}
			count++
		}

		log.WithFields(log.Fields{
			"user":  m.UserName,
			"count": count,
			"token": token,
		}).Info("backup: mapping complete")
	}

	return nil
}

// backupFile applies the per-file algorithm of §4.5 for a single logical
// file within mapping m, publishing the result under the current snapshot
// token.
func (r *Run) backupFile(ctx context.Context, store *repo.Store, idx *repo.InodeIndex, token string, m MappingConfig, lf model.LogicalFile) error {
	stop := r.metrics.Observe("backup.file")
	defer stop()

	snap, err := securejoin.SecureJoin(store.SnapshotsDir(), path.Join(token, m.UserName, lf.Path))
	if err != nil {
		return fmt.Errorf("resolve snapshot path: %w", err)
	}

	// Empty-file placeholder: never shares an inode with anything, to avoid
	// exhausting the per-inode hardlink ceiling under many zero-length files.
	if lf.IsEmpty() {
		if err := repo.CreatePlaceholder(snap); err != nil {
			return err
		}
		return nil
	}

	key := model.ObjectKey(m.Bucket, lf.FileID)

	var sha1Repo string
	if lf.HasDeclaredSHA1() {
		sha1Repo, err = r.resolveSHA1Branch(ctx, store, idx, key, lf)
	} else {
		sha1Repo, err = r.resolveETagBranch(ctx, store, idx, key, lf)
	}
	if err != nil {
		return err
	}

	if err := repo.Hardlink(snap, sha1Repo); err != nil {
		return err
	}
	return nil
}

// resolveSHA1Branch handles a logical file whose declared checksum is
// already a usable SHA1 tag, returning the canonical blob path to link the
// snapshot from.
func (r *Run) resolveSHA1Branch(ctx context.Context, store *repo.Store, idx *repo.InodeIndex, key string, lf model.LogicalFile) (string, error) {
	stop := r.metrics.Observe("backup.sha1_branch")
	defer stop()

	repoPath, err := store.SHA1BlobPath(lf.DeclaredChecksum)
	if err != nil {
		return "", err
	}

	exists, err := repo.Exists(repoPath)
	if err != nil {
		return "", err
	}
	if exists {
		return repoPath, nil
	}

	present, err := r.store.Exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("check object store: %w", err)
	}
	if !present {
		return "", fmt.Errorf("object %s not found in object store", key)
	}

	downloading := repo.Downloading(repoPath)
	if err := r.download(ctx, key, downloading); err != nil {
		return "", err
	}

	actualTag, err := model.ComputeSHA1(downloading)
	if err != nil {
		return "", err
	}
	if !sameChecksum(actualTag, lf.DeclaredChecksum) {
		log.WithFields(log.Fields{
			"file_id":  lf.FileID,
			"declared": lf.DeclaredChecksum,
			"actual":   actualTag,
		}).Warn("backup: checksum mismatch, adopting content hash")
		repoPath, err = store.SHA1BlobPath(actualTag)
		if err != nil {
			return "", err
		}
		// The downloaded content itself didn't move; only the canonical
		// path it publishes to changes to match its actual hash.
	}

	if err := repo.Publish(downloading, repoPath); err != nil {
		return "", err
	}
	if err := idx.Register(repoPath); err != nil {
		return "", err
	}
	return repoPath, nil
}

// resolveETagBranch handles a logical file with no usable declared SHA1,
// using the object store's ETag as a provisional key while converging to
// the content-addressed SHA1 form (§4.5 ETag branch).
func (r *Run) resolveETagBranch(ctx context.Context, store *repo.Store, idx *repo.InodeIndex, key string, lf model.LogicalFile) (string, error) {
	stop := r.metrics.Observe("backup.etag_branch")
	defer stop()

	present, err := r.store.Exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("check object store: %w", err)
	}
	if !present {
		return "", fmt.Errorf("object %s not found in object store", key)
	}

	etag, err := r.store.ETag(ctx, key)
	if err != nil {
		return "", err
	}
	etagTag := model.ETagTag(etag)

	etagRepo, err := store.ETagBlobPath(etagTag)
	if err != nil {
		return "", err
	}

	exists, err := repo.Exists(etagRepo)
	if err != nil {
		return "", err
	}
	if !exists {
		return r.etagCaseA(ctx, store, idx, key, etagRepo)
	}
	return r.etagCaseB(store, idx, etagRepo)
}

// etagCaseA handles a fresh ETag: no blob has been recorded under this tag
// before, so the object is downloaded once and indexed under both keys.
func (r *Run) etagCaseA(ctx context.Context, store *repo.Store, idx *repo.InodeIndex, key, etagRepo string) (string, error) {
	downloading := repo.Downloading(etagRepo)
	if err := r.download(ctx, key, downloading); err != nil {
		return "", err
	}

	sha1Tag, err := model.ComputeSHA1(downloading)
	if err != nil {
		return "", err
	}
	sha1Repo, err := store.SHA1BlobPath(sha1Tag)
	if err != nil {
		return "", err
	}

	exists, err := repo.Exists(sha1Repo)
	if err != nil {
		return "", err
	}
	if exists {
		// Content already known under another ETag; drop the fresh
		// download and alias the ETag to the existing canonical blob.
		if err := os.Remove(downloading); err != nil {
			return "", fmt.Errorf("remove redundant download: %w", err)
		}
		if err := repo.Hardlink(etagRepo, sha1Repo); err != nil {
			return "", err
		}
		return sha1Repo, nil
	}

	if err := repo.Publish(downloading, etagRepo); err != nil {
		return "", err
	}
	if err := repo.Hardlink(sha1Repo, etagRepo); err != nil {
		return "", err
	}
	if err := idx.Register(sha1Repo); err != nil {
		return "", err
	}
	return sha1Repo, nil
}

// etagCaseB handles an ETag already present in the repository, either
// resolving it to its known SHA1 sibling or self-healing an orphaned alias.
func (r *Run) etagCaseB(store *repo.Store, idx *repo.InodeIndex, etagRepo string) (string, error) {
	sha1Repo, found, err := idx.Lookup(etagRepo)
	if err != nil {
		return "", err
	}
	if found {
		if exists, err := repo.Exists(sha1Repo); err != nil {
			return "", err
		} else if exists {
			// Derive the effective checksum from the blob path itself
			// rather than re-hashing content we already trust.
			effectiveTag := model.SHA1TagFromHashPath(sha1Repo)
			log.WithFields(log.Fields{
				"etag_blob": etagRepo,
				"sha1_tag":  effectiveTag,
			}).Debug("backup: resolved etag to known sha1 sibling")
			return sha1Repo, nil
		}
	}

	// Self-heal: the ETag blob is an orphan, or its indexed SHA1 sibling
	// was lost. Re-derive the canonical path from content.
	log.WithFields(log.Fields{"etag_blob": etagRepo}).Warn("backup: self-healing orphaned ETag blob")

	sha1Tag, err := model.ComputeSHA1(etagRepo)
	if err != nil {
		return "", err
	}
	sha1Repo, err = store.SHA1BlobPath(sha1Tag)
	if err != nil {
		return "", err
	}

	exists, err := repo.Exists(sha1Repo)
	if err != nil {
		return "", err
	}
	if exists {
		if err := os.Remove(etagRepo); err != nil {
			return "", fmt.Errorf("remove orphaned etag blob: %w", err)
		}
		if err := repo.Hardlink(etagRepo, sha1Repo); err != nil {
			return "", err
		}
		return sha1Repo, nil
	}

	if err := repo.Hardlink(sha1Repo, etagRepo); err != nil {
		return "", err
	}
	if err := idx.Register(sha1Repo); err != nil {
		return "", err
	}
	return sha1Repo, nil
}

// ensureWritable is the run-fatal preflight of §7.3: a backup_root that
// cannot be created or written to must abort the run before any file is
// processed, rather than surface as a per-file error deep in the loop. It
// creates root if missing and probes it with a throwaway file rather than
// relying on a permission-bit check, since the owning user's effective
// write access can depend on ACLs or the filesystem (e.g. a read-only
// mount) that a mode check alone would miss.
func ensureWritable(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("backup_root %s: %w", root, err)
	}
	probe, err := os.CreateTemp(root, ".write-check-*")
	if err != nil {
		return fmt.Errorf("backup_root %s not writable: %w", root, err)
	}
	probePath := probe.Name()
	if err := probe.Close(); err != nil {
		return fmt.Errorf("backup_root %s not writable: %w", root, err)
	}
	if err := os.Remove(probePath); err != nil {
		return fmt.Errorf("backup_root %s: cleanup write check: %w", root, err)
	}
	return nil
}

func (r *Run) download(ctx context.Context, key, destPath string) error {
	stop := r.metrics.Observe("objectstore.download")
	defer stop()

	if err := os.MkdirAll(path.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("mkdir for download: %w", err)
	}
	if err := r.store.Download(ctx, key, destPath); err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	return nil
}

// sameChecksum compares two "METHOD:hex" tags case-insensitively on the hex
// component, matching the way Nextcloud's own declared checksums are cased
// inconsistently across clients.
func sameChecksum(a, b string) bool {
	ca, ok := model.ParseChecksum(a)
	if !ok {
		return false
	}
	cb, ok := model.ParseChecksum(b)
	if !ok {
		return false
	}
	return ca.Method == cb.Method && strings.EqualFold(ca.Hex, cb.Hex)
}
