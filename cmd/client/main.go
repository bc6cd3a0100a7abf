/*
Package main implements the command line client of the Koinly export.

The build command runs the whole report pipeline locally against the
upstream APIs; the fetch command downloads a report from a running server.
Both write the CSV under the suggested filename into the output directory.

Usage:

	go run ./cmd/client build --account alice --out ./reports
	go run ./cmd/client fetch --server http://localhost:8080 --account alice
*/
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hivetax/internal/logging"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const defaultTimeout = 10 * time.Minute

var (
	account string
	outDir  string
	timeout time.Duration
	verbose bool
)

func main() {
	app := cli.NewApp()
	app.Name = "hivetax"
	app.Usage = "export Hive-Engine token transactions as a Koinly CSV"
	app.Flags = []cli.Flag{
		&cli.DurationFlag{
			Name:        "timeout",
			Value:       defaultTimeout,
			Usage:       "the deadline of the whole export",
			Destination: &timeout,
		},
		&cli.BoolFlag{
			Name:        "verbose",
			Usage:       "log debug output",
			Destination: &verbose,
		},
	}
	app.Before = setupLogging
	app.Commands = []*cli.Command{
		buildCommand,
		fetchCommand,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("export failed")
	}
}

// setupLogging configures the shared console logger before any command runs.
func setupLogging(*cli.Context) error {
	level := "info"
	if verbose {
		level = "debug"
	}
	logging.Setup(level, true)
	return nil
}
