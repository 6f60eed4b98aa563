// SPDX-License-Identifier: Apache-2.0

// Package metadata is the Metadata Source: it streams Nextcloud file
// records out of the oc_filecache table of a PostgreSQL database, the
// table and column names recovered from the nextcloud-s3-backup project
// this spec was distilled from (its psycopg2-based DAO queried the same
// columns under the same SET search_path convention).
package metadata

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/petrusv/nc-s3-backup/internal/model"
)

// Source streams LogicalFile records out of Postgres.
type Source struct {
	pool *pgxpool.Pool
}

// Connect opens a pooled connection to dsn and pins every acquired
// connection's search_path to schema, mirroring the original DAO's
// "SET search_path TO <schema>" on connection open.
func Connect(ctx context.Context, dsn, schema string) (*Source, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("metadata: parse dsn: %w", err)
	}
	if schema == "" {
		schema = "public"
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("metadata: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("metadata: ping: %w", err)
	}
	return &Source{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Source) Close() { s.pool.Close() }

const subtreeQuery = `
SELECT fileid, storage, path, COALESCE(checksum, ''), size
FROM oc_filecache
WHERE storage = $1
  AND path ILIKE $2
  AND NOT (mimetype = ANY ($3))
`

// Stream yields every LogicalFile under storageID whose path begins with
// pathPrefix (case-insensitive) and whose mimetype is not excluded. It is a
// Go 1.23 range-over-func iterator so callers can `for lf, err := range`
// without the source ever buffering the full result set; rows are read
// directly off the wire via pgx.Rows.
func (s *Source) Stream(ctx context.Context, storageID int64, pathPrefix string, excludedMimetypeIDs []int64) iter.Seq2[model.LogicalFile, error] {
	return func(yield func(model.LogicalFile, error) bool) {
		if excludedMimetypeIDs == nil {
			excludedMimetypeIDs = []int64{}
		}
		rows, err := s.pool.Query(ctx, subtreeQuery, storageID, escapeLike(pathPrefix)+"%", excludedMimetypeIDs)
		if err != nil {
			yield(model.LogicalFile{}, fmt.Errorf("metadata: query subtree: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var lf model.LogicalFile
			if err := rows.Scan(&lf.FileID, &lf.StorageID, &lf.Path, &lf.DeclaredChecksum, &lf.Size); err != nil {
				yield(model.LogicalFile{}, fmt.Errorf("metadata: scan row: %w", err))
				return
			}
			if !yield(lf, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.LogicalFile{}, fmt.Errorf("metadata: iterate rows: %w", err))
		}
	}
}

// escapeLike escapes ILIKE metacharacters in a user-controlled prefix so
// that a path containing "%" or "_" is matched literally rather than as a
// wildcard.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
