// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli"

	ncs3backup "github.com/petrusv/nc-s3-backup"
)

var backupCommand = cli.Command{
	Name:  "backup",
	Usage: "runs a full backup of every configured mapping",
	ArgsUsage: `

Reads the configuration named by the global --config flag, which goes before
the command name. Streams every configured mapping's file records from its metadata source and
publishes a new snapshot generation into each mapping's backup_root,
deduplicating content against everything already stored there.`,
	Action: runBackup,
}

func runBackup(ctx *cli.Context) error {
	cfg, err := ncs3backup.LoadConfig(ctx.GlobalString("config"))
	if err != nil {
		return err
	}

	run, err := ncs3backup.NewRun(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("initialize run: %w", err)
	}
	defer run.Close()

	return run.Backup(context.Background())
}
