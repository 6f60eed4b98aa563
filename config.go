// SPDX-License-Identifier: Apache-2.0

// Package ncs3backup is the content-addressed, deduplicating backup engine
// for a Nextcloud instance whose primary data lives in an S3-compatible
// object store and whose metadata lives in PostgreSQL. See SPEC_FULL.md for
// the full design; this file is the Configuration object (§6).
package ncs3backup

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// defaultBackupDateFormat is the Go reference-time equivalent of the
// original's "%y%m%d-%H%M" strftime default.
const defaultBackupDateFormat = "060102-1504"

// Config is the top-level configuration object (§6): the recognized YAML
// options plus the connection settings needed to construct the Metadata
// Source and Object Store Adapter collaborators.
type Config struct {
	// BackupDateFormat is the snapshot folder name format. The strftime
	// directives %Y %y %m %d %H %M %S and %% are translated to Go layout
	// tokens; all other text is read as a Go time.Format reference layout.
	// Defaults to defaultBackupDateFormat.
	BackupDateFormat string `yaml:"backup_date_format"`

	// ExcludedMimetypeIDs is filtered out of every mapping's stream.
	// Omitted/empty means no filtering.
	ExcludedMimetypeIDs []int64 `yaml:"excluded_mimetype_ids"`

	Database    DatabaseConfig    `yaml:"database"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Mapping     []MappingConfig   `yaml:"mapping"`
}

// DatabaseConfig configures the PostgreSQL connection backing the Metadata
// Source.
type DatabaseConfig struct {
	// DSN is a libpq/pgx connection string.
	DSN string `yaml:"dsn"`
	// Schema sets the session search_path, matching the original DAO's
	// Dao.open_cnx_cursor(pg_url, schema="public").
	Schema string `yaml:"schema"`
}

// ObjectStoreConfig configures the S3-compatible client backing the Object
// Store Adapter. A single client/bucket pair is shared by every mapping;
// per-mapping Bucket in MappingConfig is the object-key prefix within it.
type ObjectStoreConfig struct {
	Endpoint       string `yaml:"endpoint"`
	Region         string `yaml:"region"`
	Bucket         string `yaml:"bucket"`
	ForcePathStyle bool   `yaml:"force_path_style"`
}

// MappingConfig is one unit of work (§3): a (storage, subtree, user)
// mapping to a local snapshot root.
type MappingConfig struct {
	StorageID      int64  `yaml:"storage_id"`
	UserName       string `yaml:"user_name"`
	Bucket         string `yaml:"bucket"`
	NextcloudPath  string `yaml:"nextcloud_path"`
	BackupRootPath string `yaml:"backup_root_path"`
}

// LoadConfig parses a YAML configuration file at path, applying defaults
// for optional fields.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ncs3backup: open config %s: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("ncs3backup: parse config %s: %w", path, err)
	}

	if cfg.BackupDateFormat == "" {
		cfg.BackupDateFormat = defaultBackupDateFormat
	}
	if len(cfg.Mapping) == 0 {
		return nil, fmt.Errorf("ncs3backup: config %s declares no mapping", path)
	}
	for i, m := range cfg.Mapping {
		if m.BackupRootPath == "" {
			return nil, fmt.Errorf("ncs3backup: mapping %d: backup_root_path is required", i)
		}
		if m.UserName == "" {
			return nil, fmt.Errorf("ncs3backup: mapping %d: user_name is required", i)
		}
	}
	return &cfg, nil
}
