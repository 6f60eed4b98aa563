// SPDX-License-Identifier: Apache-2.0

package ncs3backup

import (
	"context"
	"fmt"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/petrusv/nc-s3-backup/internal/metadata"
	"github.com/petrusv/nc-s3-backup/internal/metrics"
	"github.com/petrusv/nc-s3-backup/internal/objectstore"
)

// Run ties a Config to the live collaborators (Metadata Source, Object Store
// Adapter, Metrics Recorder) needed to execute Backup or Purge. It owns
// their lifecycle: callers must call Close when done.
type Run struct {
	Config *Config

	metadata *metadata.Source
	store    objectstore.Client
	metrics  *metrics.Recorder

	snapshotOnce       sync.Once
	snapshotTokenValue string
}

// NewRun constructs the collaborators for cfg and pings the database,
// surfacing an unreachable database as a run-fatal error before a single
// file is processed. The S3 client is configured but not contacted here.
func NewRun(ctx context.Context, cfg *Config) (*Run, error) {
	src, err := metadata.Connect(ctx, cfg.Database.DSN, cfg.Database.Schema)
	if err != nil {
		return nil, fmt.Errorf("ncs3backup: run-fatal: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.ObjectStore.Region))
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("ncs3backup: run-fatal: load aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ObjectStore.Endpoint != "" {
			o.BaseEndpoint = &cfg.ObjectStore.Endpoint
		}
		o.UsePathStyle = cfg.ObjectStore.ForcePathStyle
	})

	return &Run{
		Config:   cfg,
		metadata: src,
		store:    objectstore.NewS3Client(api, cfg.ObjectStore.Bucket),
		metrics:  metrics.New(),
	}, nil
}

// NewPurgeRun constructs the minimal collaborators Purge needs: the Config
// and a Metrics Recorder. Purge only ever walks backup_root directories on
// the local filesystem (§4.6), so unlike NewRun it never dials Postgres or
// configures an S3 client. This mirrors the original CLI's purge() path
// (nc_s3_backup/cli.py), which skips pg_params/s3_params setup entirely and
// builds its backup object with dao=None.
func NewPurgeRun(cfg *Config) *Run {
	return &Run{
		Config:  cfg,
		metrics: metrics.New(),
	}
}

// Close releases the run's collaborators and reports accumulated timing
// metrics, mirroring the umoci CLI's pattern of always tearing down its CAS
// engine before returning. metadata is nil for a Run built with
// NewPurgeRun.
func (r *Run) Close() {
	r.metrics.Report()
	if r.metadata != nil {
		r.metadata.Close()
	}
}
