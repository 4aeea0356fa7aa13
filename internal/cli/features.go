package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"featureflow/models"
	"featureflow/snapshot"
	"featureflow/writer"
)

const (
	outputTable = "table"
	outputCSV   = "csv"
	outputJSON  = "json"
)

func newFeaturesCommand(rt *runtime) *cobra.Command {
	var (
		start  string
		end    string
		date   string
		output string
	)

	cmd := &cobra.Command{
		Use:   "features",
		Short: "Print merged features for a date range or a single date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o := rt.container.Orchestrator

			var table *models.FeatureTable
			if date != "" {
				d, err := parseDateFlag("date", date)
				if err != nil {
					return err
				}
				row, err := o.FeaturesForDate(ctx, d)
				if err != nil {
					return err
				}
				table = &models.FeatureTable{
					Names:    o.FeatureNames(),
					Families: o.Families(),
					Rows:     []models.FeatureRow{row},
				}
			} else {
				from, err := parseDateFlag("start", start)
				if err != nil {
					return err
				}
				to, err := parseDateFlag("end", end)
				if err != nil {
					return err
				}
				table, err = o.FeaturesForRange(ctx, from, to)
				if err != nil {
					return err
				}
			}
			return renderFeatures(cmd.OutOrStdout(), table, output)
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "First date, YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "Last date, YYYY-MM-DD (inclusive)")
	cmd.Flags().StringVar(&date, "date", "", "Single date, YYYY-MM-DD; overrides --start/--end")
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "Output format: table, csv or json")
	return cmd
}

func newNamesCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "names",
		Short: "List the feature columns every row carries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range rt.container.Orchestrator.FeatureNames() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

type jsonRow struct {
	Date     string             `json:"date"`
	Features map[string]float64 `json:"features"`
	Sources  map[string]string  `json:"sources"`
}

func renderFeatures(w io.Writer, table *models.FeatureTable, format string) error {
	switch format {
	case outputCSV:
		data, err := snapshot.EncodeFeatureCSV(table)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case outputJSON:
		rows := make([]jsonRow, 0, table.Len())
		for _, row := range table.Rows {
			rows = append(rows, jsonRow{Date: models.FormatDate(row.Date), Features: row.Values, Sources: row.Sources})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case outputTable, "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		header := append([]string{"date"}, table.Names...)
		for _, family := range table.Families {
			header = append(header, writer.SourceColumn(family))
		}
		fmt.Fprintln(tw, strings.Join(header, "\t"))
		for _, row := range table.Rows {
			cells := []string{models.FormatDate(row.Date)}
			for _, name := range table.Names {
				cells = append(cells, strconv.FormatFloat(row.Values[name], 'f', -1, 64))
			}
			for _, family := range table.Families {
				cells = append(cells, row.Sources[family])
			}
			fmt.Fprintln(tw, strings.Join(cells, "\t"))
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unsupported output format '%s'", format)
	}
}
