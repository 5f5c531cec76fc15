package main

import (
	"context"
	"fmt"
	"github.com/urfave/cli/v2"
	"os"
	"os/signal"
	"syscall"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "txdesk",
		Usage: "upload transaction files and review the transactions database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Value: ".env",
				Usage: "dotenv file with TXDESK_* settings, missing file is ignored",
			},
			&cli.StringFlag{
				Name:  "backend",
				Usage: "backend base URL, overrides TXDESK_BACKEND_URL",
			},
		},
		Commands: []*cli.Command{
			uploadCommand(),
			viewCommand(),
			searchCommand(),
			resetCommand(),
			historyCommand(),
			serveCommand(),
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
