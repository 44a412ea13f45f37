package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/memlens/internal/cli/helpers"
	"github.com/coral-mesh/memlens/internal/memory"
)

type attachReport struct {
	ID             string             `json:"id"`
	PID            int                `json:"pid"`
	ImageBase      uint64             `json:"image_base"`
	LinkBase       uint64             `json:"link_base"`
	Correction     int64              `json:"correction"`
	Fingerprint    string             `json:"fingerprint"`
	CompiledAt     time.Time          `json:"compiled_at"`
	Layout         string             `json:"layout"`
	LayoutComplete bool               `json:"layout_complete"`
	Regions        memory.ScanSummary `json:"regions"`
	Lowest         uint64             `json:"lowest"`
	Highest        uint64             `json:"highest"`
}

func newAttachReport(sess *memory.Session) attachReport {
	lo, hi := sess.Bounds()
	return attachReport{
		ID:             sess.ID,
		PID:            sess.PID,
		ImageBase:      sess.ImageBase,
		LinkBase:       sess.LinkBase,
		Correction:     sess.Correction,
		Fingerprint:    sess.Fingerprint.String(),
		CompiledAt:     sess.Header.CompiledAt(),
		Layout:         sess.Layout.Name,
		LayoutComplete: sess.LayoutComplete,
		Regions:        sess.Regions().Summary(),
		Lowest:         lo,
		Highest:        hi,
	}
}

func newAttachCmd(opts *globalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Attach to the target and report what was found",
		Long: `Locate the target process, fingerprint its image and scan its address space.

The report shows the relocation correction to add to link-time addresses,
the layout selected for the fingerprint, and the readable address range.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(_ *environment, sess *memory.Session) error {
				report := newAttachReport(sess)
				if format == string(helpers.FormatJSON) {
					return helpers.Render(cmd, format, []helpers.OutputFormat{helpers.FormatJSON}, report)
				}
				cmd.Print(renderAttachReport(report))
				return nil
			})
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, []helpers.OutputFormat{
		helpers.FormatTable,
		helpers.FormatJSON,
	})

	return cmd
}

func renderAttachReport(r attachReport) string {
	layoutName := r.Layout
	if !r.LayoutComplete {
		layoutName += " " + helpers.Warn("(best-effort)")
	}

	return helpers.Summary(fmt.Sprintf("Attached to pid %d", r.PID),
		helpers.Field{Label: "Session", Value: r.ID},
		helpers.Field{Label: "Fingerprint", Value: r.Fingerprint},
		helpers.Field{Label: "Compiled", Value: r.CompiledAt.Format(time.RFC3339)},
		helpers.Field{Label: "Image base", Value: helpers.FormatAddress(r.ImageBase)},
		helpers.Field{Label: "Link base", Value: helpers.FormatAddress(r.LinkBase)},
		helpers.Field{Label: "Correction", Value: formatDelta(r.Correction)},
		helpers.Field{Label: "Layout", Value: layoutName},
		helpers.Field{Label: "Regions", Value: fmt.Sprintf("%d accepted, %d rejected", r.Regions.Accepted, r.Regions.Rejected)},
		helpers.Field{Label: "Range", Value: helpers.FormatAddress(r.Lowest) + " - " + helpers.FormatAddress(r.Highest)},
	)
}

func formatDelta(d int64) string {
	if d < 0 {
		return fmt.Sprintf("-0x%x", uint64(-d))
	}
	return fmt.Sprintf("+0x%x", uint64(d))
}
