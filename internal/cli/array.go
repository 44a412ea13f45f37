package cli

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/memlens/internal/cli/helpers"
	"github.com/coral-mesh/memlens/internal/memory"
)

type elementRow struct {
	Index int    `header:"Index" json:"index"`
	Value uint64 `header:"Value,hex" json:"value"`
	Text  string `header:"String" json:"string,omitempty"`
}

func newArrayCmd(opts *globalOptions) *cobra.Command {
	var (
		relocate bool
		strs     bool
		format   string
	)

	cmd := &cobra.Command{
		Use:   "array <address>",
		Short: "List the elements of a dynamic array",
		Long: `Enumerate the pointer-sized elements of the dynamic array whose control
block is at the given address.

With a layout registered for the target's fingerprint, malformed control
blocks are reported as errors. Unknown builds are read best-effort and
capped at the layout's entry ceiling.

With --strings each element is decoded as the address of a string record.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(env *environment, sess *memory.Session) error {
				addr, err := resolve(sess, args[0], relocate)
				if err != nil {
					return err
				}

				elems, err := sess.Arrays().Read(addr)
				if err != nil {
					return err
				}
				env.logger.Debug().
					Str("addr", helpers.FormatAddress(addr)).
					Int("count", len(elems)).
					Bool("strict", sess.Arrays().Strict()).
					Msg("Array read")

				rows := make([]elementRow, len(elems))
				for i, v := range elems {
					rows[i] = elementRow{Index: i, Value: v}
					if strs {
						rows[i].Text = sess.Strings().Read(v)
					}
				}
				if len(rows) == 0 && format == string(helpers.FormatTable) {
					cmd.Println("Array is empty")
					return nil
				}
				return helpers.Render(cmd, format, readFormats, rows)
			})
		},
	}

	helpers.AddRelocateFlag(cmd, &relocate)
	cmd.Flags().BoolVarP(&strs, "strings", "s", false, "Decode each element as a string record")
	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, readFormats)

	return cmd
}
