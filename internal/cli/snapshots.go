package cli

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"featureflow/models"
	"featureflow/snapshot"
)

func newExportCommand(rt *runtime) *cobra.Command {
	var (
		kind      string
		name      string
		start     string
		end       string
		overwrite bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Compute features for a range and write them as an immutable snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			from, err := parseDateFlag("start", start)
			if err != nil {
				return err
			}
			to, err := parseDateFlag("end", end)
			if err != nil {
				return err
			}

			table, err := rt.container.Orchestrator.FeaturesForRange(ctx, from, to)
			if err != nil {
				return err
			}
			info, err := rt.container.Snapshots.Export(ctx, kind, table, name, overwrite)
			if err != nil {
				return err
			}

			degraded := 0
			for _, row := range table.Rows {
				if row.Degraded() {
					degraded++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s snapshot %s: %d rows, %d columns, %d degraded rows\n%s\n",
				info.Kind, info.Name, info.Rows, info.Columns, degraded, info.Path)
			if rt.container.Config.Storage.S3.Enabled && !info.Mirrored {
				fmt.Fprintf(cmd.OutOrStdout(), "not mirrored; retry with: snapshots mirror %s\n", info.Name)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", snapshot.KindTraining, "Snapshot kind: training or test")
	cmd.Flags().StringVar(&name, "name", "", "Snapshot name")
	cmd.Flags().StringVar(&start, "start", "", "First date, YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "Last date, YYYY-MM-DD (inclusive)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing snapshot")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newSnapshotsCommand(rt *runtime) *cobra.Command {
	snapCmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Inspect exported snapshots",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := rt.container.Snapshots.ListSnapshots(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tNAME\tROWS\tFROM\tTO\tSIZE")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%d\n",
					info.Kind, info.Name, info.Rows, models.FormatDate(info.From), models.FormatDate(info.To), info.SizeBytes)
			}
			return tw.Flush()
		},
	}

	showCmd := &cobra.Command{
		Use:   "show NAME",
		Short: "Describe one snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := rt.container.Snapshots.SnapshotInfo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "name:    %s\nkind:    %s\npath:    %s\nrows:    %d\ncolumns: %d\nrange:   %s .. %s\nsize:    %d bytes\n",
				info.Name, info.Kind, info.Path, info.Rows, info.Columns,
				models.FormatDate(info.From), models.FormatDate(info.To), info.SizeBytes)
			if m := info.Manifest; m != nil {
				fmt.Fprintf(out, "id:      %s\ncreated: %s\n", m.ID, m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
				families := make([]string, 0, len(m.Sources))
				for family := range m.Sources {
					families = append(families, family)
				}
				sort.Strings(families)
				for _, family := range families {
					providers := make([]string, 0, len(m.Sources[family]))
					for src := range m.Sources[family] {
						providers = append(providers, src)
					}
					sort.Strings(providers)
					for _, src := range providers {
						fmt.Fprintf(out, "source:  %s=%s (%d rows)\n", family, src, m.Sources[family][src])
					}
				}
			}
			return nil
		},
	}

	mirrorCmd := &cobra.Command{
		Use:   "mirror NAME",
		Short: "Upload a snapshot to remote storage, keeping objects already there",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := rt.container.Snapshots.Mirror(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mirrored %s snapshot %s\n", info.Kind, info.Name)
			return nil
		},
	}

	snapCmd.AddCommand(listCmd, showCmd, mirrorCmd)
	return snapCmd
}

func newCombineCommand(rt *runtime) *cobra.Command {
	var (
		basePath   string
		snapName   string
		outputName string
		dateColumn string
		overwrite  bool
	)

	cmd := &cobra.Command{
		Use:   "combine",
		Short: "Join a snapshot onto a base dataset by date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := rt.container.Snapshots.CreateCombinedDataset(cmd.Context(), basePath, snapName, outputName, dateColumn, overwrite)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().StringVar(&basePath, "base", "", "Base dataset CSV")
	cmd.Flags().StringVar(&snapName, "snapshot", "", "Snapshot to join")
	cmd.Flags().StringVar(&outputName, "output", "", "Name of the combined dataset")
	cmd.Flags().StringVar(&dateColumn, "date-column", "Date", "Date column of the base dataset")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing combined dataset")
	_ = cmd.MarkFlagRequired("base")
	_ = cmd.MarkFlagRequired("snapshot")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}
