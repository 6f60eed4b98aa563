// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/urfave/cli"

	ncs3backup "github.com/petrusv/nc-s3-backup"
)

var purgeCommand = cli.Command{
	Name:  "purge",
	Usage: "garbage-collects unreferenced blobs from every backup_root",
	ArgsUsage: `

Reads the configuration named by the global --config flag, which goes before
the command name. Does a mark-and-sweep garbage collection of every distinct backup_root among
the configured mappings, retaining only blobs reachable from a snapshot.`,
	Action: runPurge,
}

func runPurge(ctx *cli.Context) error {
	cfg, err := ncs3backup.LoadConfig(ctx.GlobalString("config"))
	if err != nil {
		return err
	}

	run := ncs3backup.NewPurgeRun(cfg)
	defer run.Close()

	_, err = run.Purge()
	return err
}
