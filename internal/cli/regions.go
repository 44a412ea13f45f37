package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/memlens/internal/cli/helpers"
	"github.com/coral-mesh/memlens/internal/memory"
)

type segmentRow struct {
	Start   uint64 `header:"Start,hex" json:"start"`
	End     uint64 `header:"End,hex" json:"end"`
	Size    uint64 `header:"Size" json:"size"`
	Guarded bool   `header:"Guarded" json:"guarded"`
}

func segmentRows(segments []memory.Segment) []segmentRow {
	rows := make([]segmentRow, len(segments))
	for i, s := range segments {
		rows[i] = segmentRow{Start: s.Start, End: s.End, Size: s.Size(), Guarded: s.Guarded}
	}
	return rows
}

func newRegionsCmd(opts *globalOptions) *cobra.Command {
	var (
		format  string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "regions",
		Short: "List the readable memory segments of the target",
		Long: `Scan the target's address space and list every committed, readable segment.

Guard pages are listed but flagged. With --verbose the scan counters and
the digest of the segment list are printed after the table.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(_ *environment, sess *memory.Session) error {
				regions := sess.Regions()
				rows := segmentRows(regions.Segments())
				if err := helpers.Render(cmd, format, regionFormats, rows); err != nil {
					return err
				}
				if verbose && format == string(helpers.FormatTable) {
					summary := regions.Summary()
					cmd.Print(helpers.Summary("Scan",
						helpers.Field{Label: "Accepted", Value: fmt.Sprint(summary.Accepted)},
						helpers.Field{Label: "Rejected", Value: fmt.Sprint(summary.Rejected)},
						helpers.Field{Label: "Skipped", Value: fmt.Sprint(summary.Skipped)},
						helpers.Field{Label: "Digest", Value: fmt.Sprintf("%016x", regions.Digest())},
					))
				}
				return nil
			})
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, regionFormats)
	helpers.AddVerboseFlag(cmd, &verbose)

	return cmd
}

var regionFormats = []helpers.OutputFormat{
	helpers.FormatTable,
	helpers.FormatJSON,
	helpers.FormatCSV,
}
