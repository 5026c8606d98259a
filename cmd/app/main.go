package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/zettelink/internal"
	"github.com/starford/zettelink/internal/apperr"
)

var version = "dev"

func main() {
	cmd := &cli.Command{
		Name:    "zettelink",
		Usage:   "Embed a directory of Markdown notes and find semantic links between them",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: internal.DefaultConfigPath,
				Value:       internal.DefaultConfigPath,
				Sources:     cli.EnvVars("ZETTELINK_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			configCommand(),
			embedCommand(),
			linkCommand(),
			searchCommand(),
			relatedCommand(),
			serveCommand(),
			mcpCommand(),
			watchCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cmd.Run(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if hint := apperr.Hint(err); hint != "" {
			fmt.Fprintf(os.Stderr, "hint: %s\n", hint)
		}
		os.Exit(1)
	}
}
