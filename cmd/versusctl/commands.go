package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/okian/versus/internal/adapters/repository"
	"github.com/okian/versus/internal/config"
	"github.com/okian/versus/internal/simulate"
	"github.com/okian/versus/pkg/logger"
)

const defaultTimeout = 30 * time.Second

type rootOptions struct {
	baseURL string
	timeout time.Duration
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "versusctl",
		Short:        "Manage a versus deployment",
		SilenceUsage: true,
	}
	cmd.PersistentPreRunE = func(*cobra.Command, []string) error {
		if opts.verbose {
			return logger.SetLevelString("debug")
		}
		return nil
	}
	cmd.PersistentFlags().StringVar(&opts.baseURL, "url", "http://localhost:9080", "base URL of the versus service")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", defaultTimeout, "HTTP request timeout")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		newMigrateCmd(),
		newImportCmd(),
		newScoresCmd(opts),
		newSimulateCmd(opts),
	)
	return cmd
}

// openSQL opens the SQL store named by the loaded config and ensures its schema.
func openSQL(ctx context.Context) (*repository.SQLStore, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.StoreDriver != repository.DriverPostgres && cfg.StoreDriver != repository.DriverSQLite {
		return nil, fmt.Errorf("%w: %q has no schema; use postgres or sqlite", repository.ErrUnknownDriver, cfg.StoreDriver)
	}
	store, err := repository.OpenSQL(ctx, cfg.StoreDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := repository.CreateSchema(ctx, store.DB()); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openSQL(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready on %s\n", store.Driver())
			return nil
		},
	}
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <catalog.yaml>",
		Short: "Upsert a YAML item catalog into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := repository.ReadCatalogFile(args[0])
			if err != nil {
				return err
			}
			store, err := openSQL(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			if err := store.ImportCatalog(cmd.Context(), catalog); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %s items and %s edges\n",
				humanize.Comma(int64(len(catalog.Items))),
				humanize.Comma(int64(len(catalog.Edges))))
			return nil
		},
	}
}

func newScoresCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "scores <player>",
		Short: "Print a player's ranked scores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := simulate.NewClient(opts.baseURL, opts.timeout)
			resp, err := client.Scores(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			entries := resp.Scores
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RANK\tITEM\tSCORE")
			for i, e := range entries {
				fmt.Fprintf(w, "%d\t%s\t%.4f\n", i+1, e.ItemID, e.Score)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "top", 0, "show only the first n items")
	return cmd
}

func newSimulateCmd(opts *rootOptions) *cobra.Command {
	cfg := simulate.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Play sessions with a hidden preference and report score agreement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.BaseURL = opts.baseURL
			cfg.Timeout = opts.timeout
			cfg.Verbose = opts.verbose
			stats, err := simulate.Run(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return simulate.Report(cmd.OutOrStdout(), stats)
		},
	}
	f := cmd.Flags()
	f.IntVar(&cfg.Players, "players", cfg.Players, "number of players, one session each")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "number of concurrent players")
	f.StringVar(&cfg.Policy, "policy", cfg.Policy, "replenishment policy (keep-picked, replace-picked, replace-all)")
	f.StringSliceVar(&cfg.Tags, "tags", cfg.Tags, "only use items carrying all of these tags")
	f.IntVar(&cfg.Batch, "batch", cfg.Batch, "session batch size")
	f.StringVar(&cfg.Seed, "seed", cfg.Seed, "seed of the hidden preference order")
	f.StringVar(&cfg.Prefix, "prefix", cfg.Prefix, "player id prefix")
	return cmd
}
