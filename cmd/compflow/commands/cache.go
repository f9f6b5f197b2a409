package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/compflow/pkg/compflow/cache"
)

func newCacheCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the result cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Show cache size and capacity",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withStore(cmd.Context(), func(ctx context.Context, store *cache.Store) error {
					st := store.Stats()
					fmt.Fprintf(a.stdout, "entries   %d\n", st.Size)
					fmt.Fprintf(a.stdout, "capacity  %d\n", st.MaxSize)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "keys",
			Short: "List cached keys",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withStore(cmd.Context(), func(ctx context.Context, store *cache.Store) error {
					for _, k := range store.Keys() {
						fmt.Fprintln(a.stdout, k)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Remove expired entries",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withStore(cmd.Context(), func(ctx context.Context, store *cache.Store) error {
					n, err := store.Sweep(ctx)
					if err != nil {
						return err
					}
					green.Fprintf(a.stdout, "✓ removed %d expired entries\n", n)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every entry",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withStore(cmd.Context(), func(ctx context.Context, store *cache.Store) error {
					n := store.Size()
					if err := store.Clear(ctx); err != nil {
						return err
					}
					green.Fprintf(a.stdout, "✓ cleared %d entries\n", n)
					return nil
				})
			},
		},
	)
	return cmd
}

// withStore opens the configured cache for the duration of fn.
func (a *app) withStore(ctx context.Context, fn func(context.Context, *cache.Store) error) error {
	s, err := a.settings()
	if err != nil {
		return printErr(a.stderr, "Cannot load configuration", err.Error())
	}
	// A one-shot command has no use for the background sweeper.
	s.Cache.SweepInterval = 0

	store, err := cache.Open(ctx, s.Cache, a.logger(s))
	if err != nil {
		return printErr(a.stderr, "Cannot open cache", err.Error(),
			fmt.Sprintf("check cache.backend (%q) and its connection settings", s.Cache.Backend))
	}
	defer store.Close()

	if err := fn(ctx, store); err != nil {
		return printErr(a.stderr, "Cache operation failed", err.Error())
	}
	return nil
}
