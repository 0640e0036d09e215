package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// A missing .env is fine; anything it sets feeds ${VAR} expansion in the config
	_ = godotenv.Load()

	if err := newCLI().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:    "docsearch",
		Usage:   "Semantic search over framework documentation, served over MCP or HTTP",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML config file",
				EnvVars: []string{"DOCSEARCH_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Override the configured log level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the MCP tools over stdio",
				Action: serveCommand,
			},
			{
				Name:   "http",
				Usage:  "Serve the JSON HTTP API",
				Action: httpCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address, overrides http.addr",
					},
				},
			},
			{
				Name:   "refresh",
				Usage:  "Fetch the corpus and rebuild the index",
				Action: refreshCommand,
			},
			{
				Name:      "search",
				Usage:     "Run a query against the index",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Maximum number of results",
					},
					&cli.StringFlag{
						Name:  "difficulty",
						Usage: "Only return documents of this difficulty",
					},
					&cli.StringSliceFlag{
						Name:  "tag",
						Usage: "Only return documents carrying this tag (repeatable)",
					},
					&cli.StringFlag{
						Name:  "concept",
						Usage: "Look up documents by concept instead of running a text query",
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Print index statistics",
				Action: statusCommand,
			},
			{
				Name:   "version",
				Usage:  "Print build information",
				Action: versionCommand,
			},
		},
	}
}
