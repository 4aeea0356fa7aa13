package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"featureflow/provider"
	"featureflow/provider/holiday"
)

func newHolidaysCommand(rt *runtime) *cobra.Command {
	var (
		year int
		tier string
	)

	cmd := &cobra.Command{
		Use:   "holidays",
		Short: "Print the holiday calendar for a year",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var (
				cal holiday.Calendar
				err error
			)
			if tier == "" {
				cal, err = rt.container.Holidays.Holidays(ctx, year)
			} else {
				t, perr := provider.ParseTier(tier)
				if perr != nil {
					return perr
				}
				cal, err = rt.container.Holidays.HolidaysFromTier(ctx, year, t)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %d from %s (%s), %d holidays\n", cal.Country, cal.Year, cal.Source, cal.Tier, len(cal.Holidays))
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for _, h := range cal.Holidays {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", h.Date, h.Name, h.Type)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&year, "year", time.Now().Year(), "Calendar year")
	cmd.Flags().StringVar(&tier, "tier", "", "Force a provider tier: primary, secondary or fallback")
	return cmd
}
