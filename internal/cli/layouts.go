package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/memlens/internal/cli/helpers"
	"github.com/coral-mesh/memlens/internal/layout"
)

type layoutRow struct {
	Fingerprint string `header:"Fingerprint" json:"fingerprint"`
	Name        string `header:"Name" json:"name"`
	Complete    bool   `header:"Complete" json:"complete"`
	PointerSize int    `header:"Pointer" json:"pointer_size"`
	LinkBase    uint64 `header:"Link base,hex" json:"default_link_base"`
	Fields      string `header:"Fields" json:"fields"`
}

func newLayoutsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layouts",
		Short: "Inspect the layout catalogue",
	}
	cmd.AddCommand(newLayoutsListCmd(opts))
	cmd.AddCommand(newLayoutsSchemaCmd())
	return cmd
}

func newLayoutsListCmd(opts *globalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the layouts registered by fingerprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.load(cmd)
			if err != nil {
				return err
			}

			fps := env.registry.Fingerprints()
			if len(fps) == 0 && format == string(helpers.FormatTable) {
				cmd.Printf("No layouts registered in %s; every build is read best-effort.\n", env.cfg.Layouts.Path)
				return nil
			}

			rows := make([]layoutRow, 0, len(fps))
			for _, fp := range fps {
				l, _ := env.registry.Lookup(fp)
				rows = append(rows, newLayoutRow(l))
			}
			return helpers.Render(cmd, format, readFormats, rows)
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, readFormats)

	return cmd
}

func newLayoutRow(l *layout.Layout) layoutRow {
	return layoutRow{
		Fingerprint: l.Fingerprint,
		Name:        l.Name,
		Complete:    l.Complete,
		PointerSize: l.PointerSize,
		LinkBase:    l.DefaultLinkBase,
		Fields:      strings.Join(l.FieldNames(), " "),
	}
}

func newLayoutsSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the layout catalogue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := layout.Schema()
			if err != nil {
				return err
			}
			cmd.Println(string(schema))
			return nil
		},
	}
}
