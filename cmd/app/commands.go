package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/starford/zettelink/internal"
	"github.com/starford/zettelink/internal/embedder"
	"github.com/starford/zettelink/internal/embedsync"
	"github.com/starford/zettelink/internal/mcpserver"
	"github.com/starford/zettelink/internal/normalize"
	"github.com/starford/zettelink/internal/noteservice"
	pkgconfig "github.com/starford/zettelink/pkg/config"
)

const (
	topLinksShown  = 10
	previewColumns = 80
)

func inputFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "input",
		Aliases:  []string{"i"},
		Usage:    "Directory of Markdown notes",
		Required: true,
	}
}

// floatFlag returns the flag value, or nil when it was not given.
func floatFlag(cmd *cli.Command, name string) *float64 {
	if !cmd.IsSet(name) {
		return nil
	}
	v := cmd.Float(name)
	return &v
}

// openService loads the config and builds the service for the --input corpus.
func openService(cmd *cli.Command, rebuild bool) (*internal.Config, *noteservice.Service, error) {
	cfg, err := internal.LoadConfig(cmd.String("config"))
	if err != nil {
		return nil, nil, err
	}
	logger := internal.NewLogger(cfg.App.LogLevel)
	slog.SetDefault(logger)
	svc, err := internal.OpenService(cfg, cmd.String("input"), rebuild, logger)
	if err != nil {
		return nil, nil, err
	}
	return cfg, svc, nil
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Create or update the config file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "provider", Usage: "Embedding provider (" + strings.Join(embedder.Names(), ", ") + ")"},
			&cli.StringFlag{Name: "provider-url", Usage: "Provider base URL"},
			&cli.StringFlag{Name: "model", Usage: "Embedding model"},
			&cli.IntFlag{Name: "max-input-length", Usage: "Maximum characters sent to the provider"},
			&cli.FloatFlag{Name: "threshold", Usage: "Default link threshold"},
			&cli.IntFlag{Name: "top-k", Usage: "Default number of search results"},
			&cli.StringFlag{Name: "cache-backend", Usage: "Cache backend (json or sqlite)"},
			&cli.BoolFlag{Name: "show", Usage: "Print the current config and exit"},
		},
		Action: runConfig,
	}
}

func runConfig(_ context.Context, cmd *cli.Command) error {
	path := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	_, statErr := os.Stat(path)
	exists := statErr == nil
	if exists {
		loaded, err := internal.LoadConfig(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	if cmd.Bool("show") {
		if !exists {
			return fmt.Errorf("no config at %s; run `zettelink config` to create one", path)
		}
		out, err := json.MarshalIndent(cfg, "", "    ")
		if err != nil {
			return err
		}
		fmt.Printf("# %s\n%s\n", path, out)
		return nil
	}

	if cmd.IsSet("provider") {
		if err := cfg.ApplyPreset(cmd.String("provider"), cmd.IsSet("model")); err != nil {
			return err
		}
	}
	if cmd.IsSet("provider-url") {
		cfg.Provider.URL = cmd.String("provider-url")
	}
	if cmd.IsSet("model") {
		cfg.Model = cmd.String("model")
	}
	if cmd.IsSet("max-input-length") {
		cfg.MaxInputLength = int(cmd.Int("max-input-length"))
	}
	if cmd.IsSet("threshold") {
		cfg.DefaultThreshold = cmd.Float("threshold")
	}
	if cmd.IsSet("top-k") {
		cfg.TopK = int(cmd.Int("top-k"))
	}
	if cmd.IsSet("cache-backend") {
		cfg.CacheBackend = cmd.String("cache-backend")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := pkgconfig.Save(path, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	verb := "Created"
	if exists {
		verb = "Updated"
	}
	fmt.Printf("%s %s\n", verb, path)
	fmt.Printf("  provider: %s (%s)\n", cfg.Provider.Name, cfg.Provider.URL)
	fmt.Printf("  model:    %s\n", cfg.Model)
	if env := cfg.Provider.KeyEnv(); env != "" && os.Getenv(env) == "" {
		fmt.Fprintf(os.Stderr, "warning: %s is not set; export it or add it to .env\n", env)
	}
	return nil
}

func embedCommand() *cli.Command {
	return &cli.Command{
		Name:  "embed",
		Usage: "Embed new and changed notes into the cache",
		Flags: []cli.Flag{
			inputFlag(),
			&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "Re-embed every note"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			force := cmd.Bool("force")
			_, svc, err := openService(cmd, force)
			if err != nil {
				return err
			}
			defer svc.Close()

			sum, err := svc.Embed(ctx, force, nil)
			printSummary(sum)
			return err
		},
	}
}

func printSummary(sum embedsync.Summary) {
	fmt.Printf("Notes: %d  new: %d  cached: %d  empty: %d  errors: %d  removed: %d\n",
		sum.Total, sum.New, sum.Cached, sum.Empty, sum.Errors, sum.Removed)
}

func linkCommand() *cli.Command {
	return &cli.Command{
		Name:  "link",
		Usage: "Find similar note pairs and write links.json",
		Flags: []cli.Flag{
			inputFlag(),
			&cli.FloatFlag{Name: "threshold", Aliases: []string{"t"}, Usage: "Minimum similarity (default from config)"},
			&cli.FloatFlag{Name: "max-threshold", Usage: "Similarity at or above which pairs are treated as duplicates"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_, svc, err := openService(cmd, false)
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.Links(ctx, floatFlag(cmd, "threshold"), floatFlag(cmd, "max-threshold"))
			if err != nil {
				return err
			}
			rep := res.Report
			fmt.Printf("Found %d links among %d notes (threshold %.2f)\n", rep.TotalLinks, rep.TotalNotes, rep.Threshold)
			for _, l := range rep.Links[:min(topLinksShown, len(rep.Links))] {
				fmt.Printf("  %.4f  %s <-> %s\n", l.Score, l.NoteA.Stem, l.NoteB.Stem)
			}
			fmt.Printf("Wrote %s\n", res.Path)
			return nil
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:  "search",
		Usage: "Rank notes by similarity to a query",
		Flags: []cli.Flag{
			inputFlag(),
			&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "Query text", Required: true},
			&cli.IntFlag{Name: "top-k", Aliases: []string{"k"}, Usage: "Number of results (default from config)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_, svc, err := openService(cmd, false)
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.Search(ctx, cmd.String("query"), int(cmd.Int("top-k")))
			if err != nil {
				return err
			}
			fmt.Printf("Top %d results for %q\n", len(res.Report.Results), res.Report.Query)
			for i, r := range res.Report.Results {
				fmt.Printf("%2d. [%.4f] %s\n    %s\n", i+1, r.Score, r.Rel, oneLine(r.TextPreview))
			}
			fmt.Printf("Wrote %s\n", res.Path)
			return nil
		},
	}
}

func oneLine(s string) string {
	return normalize.Truncate(strings.Join(strings.Fields(s), " "), previewColumns)
}

func relatedCommand() *cli.Command {
	return &cli.Command{
		Name:  "related",
		Usage: "List the notes linked to one note",
		Flags: []cli.Flag{
			inputFlag(),
			&cli.StringFlag{Name: "note", Aliases: []string{"n"}, Usage: "Relative path or stem of the note", Required: true},
			&cli.FloatFlag{Name: "threshold", Aliases: []string{"t"}, Usage: "Minimum similarity (default from config)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_, svc, err := openService(cmd, false)
			if err != nil {
				return err
			}
			defer svc.Close()

			rec, neighbors, err := svc.Related(ctx, cmd.String("note"), floatFlag(cmd, "threshold"), nil)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d related notes\n", rec.Rel, len(neighbors))
			for _, n := range neighbors {
				fmt.Printf("  %.4f  %s\n", n.Score, n.Rel)
			}
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP API, live events and metrics",
		Flags: []cli.Flag{inputFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := internal.LoadConfig(cmd.String("config"))
			if err != nil {
				return err
			}
			if err := internal.Run(ctx,
				internal.WithConfig(cfg),
				internal.WithInput(cmd.String("input")),
				internal.WithVersion(version),
			); err != nil {
				return fmt.Errorf("app run error: %w", err)
			}
			return nil
		},
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the MCP tools over stdio",
		Flags: []cli.Flag{inputFlag()},
		Action: func(_ context.Context, cmd *cli.Command) error {
			_, svc, err := openService(cmd, false)
			if err != nil {
				return err
			}
			defer svc.Close()
			return mcpserver.New(svc, version).ServeStdio()
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Re-embed notes whenever they change",
		Flags: []cli.Flag{inputFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_, svc, err := openService(cmd, false)
			if err != nil {
				return err
			}
			defer svc.Close()

			sum, err := svc.Embed(ctx, false, nil)
			if err != nil {
				return err
			}
			printSummary(sum)
			return svc.Watch(ctx, embedsync.DefaultDebounce, nil, printSummary)
		},
	}
}
