// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"codeberg.org/oliverandrich/otpgate/internal/config"
	"codeberg.org/oliverandrich/otpgate/internal/server"
	"github.com/urfave/cli/v3"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    "otpgate",
		Usage:   "One-time passcode authentication service",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the HTTP API",
				Flags:  config.Flags(),
				Action: server.Run,
			},
			migrateCommand(),
			userCommand(),
			otpCommand(),
		},
	}
}
