// Package cli implements the arxivctl commands. They run the services in
// process against the configured Postgres, without a Temporal worker.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"arxivchat/internal/app"
	"arxivchat/internal/config"
	"arxivchat/internal/util"

	"github.com/spf13/cobra"
)

var (
	formatFlag  string
	migrateFlag bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:           "arxivctl",
	Short:         "Search, ingest and chat with arXiv papers",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "text", "Output format: json or text")
	RootCmd.PersistentFlags().BoolVar(&migrateFlag, "migrate", false, "Apply the database schema before running")
}

func openApp(ctx context.Context) (*app.App, error) {
	cfg := config.Load()
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	a, err := app.Open(dialCtx, cfg)
	if err != nil {
		return nil, err
	}
	if migrateFlag {
		if err := a.DB.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

// exitErr reports err with the retry hint its kind implies.
func exitErr(msg string, err error) {
	hint := "nothing was changed; retry"
	if util.ConsistencyOf(err) == util.ConsistencyReingest {
		hint = "the paper may be inconsistent; re-ingest it"
	}
	fmt.Fprintf(os.Stderr, "error: %s: %v (%s)\n", msg, err, hint)
	os.Exit(1)
}
