// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/apex/log"
	logcli "github.com/apex/log/handlers/cli"
	"github.com/urfave/cli"
)

// version is populated on build by make, mirroring the umoci release process
// this tool's build tooling is adapted from.
var version = ""

const usage = `deduplicating S3 backup tool for Nextcloud file storage`

func main() {
	log.SetHandler(logcli.New(os.Stderr))

	app := cli.NewApp()
	app.Name = "nc-s3-backup"
	app.Usage = usage

	v := "unknown"
	if version != "" {
		v = version
	}
	app.Version = v

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to the YAML configuration file",
			Value: "config.yaml",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "set log level to debug",
		},
	}

	app.Before = func(ctx *cli.Context) error {
		if ctx.GlobalBool("debug") {
			log.SetLevel(log.DebugLevel)
		}
		return nil
	}

	app.Commands = []cli.Command{
		backupCommand,
		purgeCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "nc-s3-backup: %v\n", err)
		os.Exit(1)
	}
}
