package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/memlens/internal/cli/helpers"
	"github.com/coral-mesh/memlens/internal/memory"
)

type stringReport struct {
	View memory.StringView `json:"view"`
	Text string            `json:"text"`
}

func newStringCmd(opts *globalOptions) *cobra.Command {
	var (
		set      string
		relocate bool
		format   string
	)

	cmd := &cobra.Command{
		Use:   "string <address>",
		Short: "Read or overwrite an encoded string record",
		Long: `Decode the string record at an address of the target.

Short strings live inline in the record; longer ones in a separate buffer.
Implausible records decode as empty text. With --set the text is encoded
in code page 437 and truncated to the record's capacity.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(_ *environment, sess *memory.Session) error {
				addr, err := resolve(sess, args[0], relocate)
				if err != nil {
					return err
				}
				codec := sess.Strings()

				if cmd.Flags().Changed("set") {
					n, err := codec.Write(addr, set)
					if err != nil {
						return err
					}
					if n < len([]rune(set)) {
						cmd.PrintErrln(helpers.Warn("Truncated to %d characters", n))
					}
				}

				report := stringReport{View: codec.View(addr), Text: codec.Read(addr)}
				if format == string(helpers.FormatJSON) {
					return helpers.Render(cmd, format, []helpers.OutputFormat{helpers.FormatJSON}, report)
				}

				placement := "out of line"
				if report.View.Inline {
					placement = "inline"
				}
				cmd.Print(helpers.Summary(fmt.Sprintf("String at %s", helpers.FormatAddress(addr)),
					helpers.Field{Label: "Length", Value: fmt.Sprint(report.View.Length)},
					helpers.Field{Label: "Capacity", Value: fmt.Sprint(report.View.Capacity)},
					helpers.Field{Label: "Buffer", Value: helpers.FormatAddress(report.View.Buffer) + " (" + placement + ")"},
					helpers.Field{Label: "Text", Value: fmt.Sprintf("%q", report.Text)},
				))
				if codec.Rejections() > 0 {
					cmd.PrintErrln(helpers.Warn("Record failed sanity checks"))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&set, "set", "", "Overwrite the string with this text")
	helpers.AddRelocateFlag(cmd, &relocate)
	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, []helpers.OutputFormat{
		helpers.FormatTable,
		helpers.FormatJSON,
	})

	return cmd
}
