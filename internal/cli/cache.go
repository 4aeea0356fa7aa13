package cli

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"featureflow/cache"
	"featureflow/errs"
)

func newCacheCommand(rt *runtime) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the response cache",
	}

	var providerName string
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var (
				stats cache.Stats
				err   error
			)
			if providerName != "" {
				base, ok := rt.container.Clients[providerName]
				if !ok {
					return fmt.Errorf("%w: unknown provider '%s'", errs.ErrInvalidInput, providerName)
				}
				stats, err = base.CacheStats(ctx)
			} else {
				stats, err = rt.container.Store.Stats(ctx)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backend:  %s\nentries:  %d\nsize:     %d bytes\nhits:     %d\nmisses:   %d\nhit rate: %.2f\n",
				stats.Backend, stats.EntryCount, stats.TotalSize, stats.HitCount, stats.MissCount, stats.HitRate())
			return nil
		},
	}
	statsCmd.Flags().StringVar(&providerName, "provider", "", "Report through one provider client (nager, calendarific, bundesbank, fred)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := rt.container.Store.Entries(cmd.Context())
			if err != nil {
				return err
			}
			sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tCREATED\tTTL\tSIZE\tEXPIRED")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\n", e.Key, e.CreatedAt.Format(time.RFC3339), e.TTL, e.Size, e.Expired)
			}
			return tw.Flush()
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cache entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rt.container.Store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
			return nil
		},
	}

	cacheCmd.AddCommand(statsCmd, listCmd, clearCmd)
	return cacheCmd
}
