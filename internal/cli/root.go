// Package cli implements the memlens command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/memlens/pkg/version"
)

// NewRootCmd builds the memlens command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "memlens",
		Short: "memlens - live memory introspection for a running game process",
		Long: `Attach to a running Dwarf Fortress process and inspect its memory.

memlens locates the target by window or executable name, fingerprints the
loaded image to select a structural layout, maps the readable regions of
its address space and decodes strings and dynamic arrays in place.

Layouts are read from ~/.memlens/layouts.yaml. Unknown builds fall back to
best-effort decoding with relaxed invariant checks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.bind(cmd)

	cmd.AddCommand(newAttachCmd(opts))
	cmd.AddCommand(newRegionsCmd(opts))
	cmd.AddCommand(newReadCmd(opts))
	cmd.AddCommand(newWriteCmd(opts))
	cmd.AddCommand(newStringCmd(opts))
	cmd.AddCommand(newArrayCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newLayoutsCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("memlens version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
		},
	}
}

// Execute runs the root command. Command output goes to stdout and logs
// to stderr.
func Execute() error {
	root := NewRootCmd()
	root.SetOut(os.Stdout)
	return root.Execute()
}
