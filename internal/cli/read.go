package cli

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/memlens/internal/cli/helpers"
	"github.com/coral-mesh/memlens/internal/memory"
)

// valueTypes lists the element types accepted by read.
var valueTypes = []string{"u8", "i16", "u16", "i32", "u32", "u64", "ptr", "bytes"}

func typeSize(typ string, pointerSize int) (int, error) {
	switch typ {
	case "u8", "bytes":
		return 1, nil
	case "i16", "u16":
		return 2, nil
	case "i32", "u32":
		return 4, nil
	case "u64":
		return 8, nil
	case "ptr":
		return pointerSize, nil
	default:
		return 0, fmt.Errorf("unsupported type %q, must be one of: %s", typ, strings.Join(valueTypes, ", "))
	}
}

// readValue reads one element of typ at addr and renders it.
func readValue(mem memory.Memory, typ string, addr uint64, pointerSize int) string {
	switch typ {
	case "u8":
		return strconv.FormatUint(uint64(mem.ReadU8(addr)), 10)
	case "i16":
		return strconv.FormatInt(int64(mem.ReadI16(addr)), 10)
	case "u16":
		return strconv.FormatUint(uint64(mem.ReadU16(addr)), 10)
	case "i32":
		return strconv.FormatInt(int64(mem.ReadI32(addr)), 10)
	case "u32":
		return strconv.FormatUint(uint64(mem.ReadU32(addr)), 10)
	case "u64":
		return strconv.FormatUint(mem.ReadU64(addr), 10)
	case "ptr":
		return helpers.FormatAddress(mem.ReadPointer(addr, pointerSize))
	}
	return ""
}

type valueRow struct {
	Address uint64 `header:"Address,hex" json:"address"`
	Value   string `header:"Value" json:"value"`
}

func newReadCmd(opts *globalOptions) *cobra.Command {
	var (
		typ      string
		count    int
		guarded  bool
		relocate bool
		format   string
	)

	cmd := &cobra.Command{
		Use:   "read <address>",
		Short: "Read typed values from target memory",
		Long: `Read one or more consecutive values at an address of the target.

Reads never fail: unreadable memory yields zeros. With --guarded, reads
outside the scanned segments are refused before reaching the target.

Examples:
  memlens read 0x01400088 --type u32
  memlens read 0x00d2e4c0 --type ptr --count 4 --relocate
  memlens read 0x0a3f0010 --type bytes --count 32`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("--count must be positive")
			}
			return opts.withSession(cmd, func(_ *environment, sess *memory.Session) error {
				addr, err := resolve(sess, args[0], relocate)
				if err != nil {
					return err
				}
				pointerSize := sess.Layout.PointerSize
				size, err := typeSize(typ, pointerSize)
				if err != nil {
					return err
				}

				var mem memory.Memory = sess.Memory()
				if guarded {
					mem = sess.Guarded()
				}

				if typ == "bytes" {
					cmd.Print(hex.Dump(mem.ReadBytes(addr, count)))
					return nil
				}

				rows := make([]valueRow, count)
				for i := range rows {
					at := addr + uint64(i*size)
					rows[i] = valueRow{Address: at, Value: readValue(mem, typ, at, pointerSize)}
				}
				return helpers.Render(cmd, format, readFormats, rows)
			})
		},
	}

	cmd.Flags().StringVarP(&typ, "type", "t", "u32", "Value type ("+strings.Join(valueTypes, ", ")+")")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of values (bytes for --type bytes)")
	cmd.Flags().BoolVar(&guarded, "guarded", false, "Refuse reads outside scanned segments")
	helpers.AddRelocateFlag(cmd, &relocate)
	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, readFormats)

	_ = cmd.RegisterFlagCompletionFunc("type", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return valueTypes, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

var readFormats = []helpers.OutputFormat{
	helpers.FormatTable,
	helpers.FormatJSON,
	helpers.FormatCSV,
}

func newWriteCmd(opts *globalOptions) *cobra.Command {
	var (
		i32      int32
		data     string
		relocate bool
	)

	cmd := &cobra.Command{
		Use:   "write <address>",
		Short: "Write a 32-bit integer or raw bytes into target memory",
		Long: `Write into target memory. Exactly one of --i32 or --hex is required.

Partial writes are logged; with --strict they fail the command.

Examples:
  memlens write 0x0a3f0010 --i32 250
  memlens write 0x0a3f0010 --hex "de ad be ef"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("i32") == flags.Changed("hex") {
				return fmt.Errorf("exactly one of --i32 or --hex is required")
			}
			var payload []byte
			if flags.Changed("hex") {
				b, err := hex.DecodeString(strings.Join(strings.Fields(data), ""))
				if err != nil {
					return fmt.Errorf("invalid --hex payload: %w", err)
				}
				payload = b
			}

			return opts.withSession(cmd, func(_ *environment, sess *memory.Session) error {
				addr, err := resolve(sess, args[0], relocate)
				if err != nil {
					return err
				}

				var n int
				if payload != nil {
					n, err = sess.Memory().WriteBytes(addr, payload)
				} else {
					n, err = sess.Memory().WriteI32(addr, i32)
				}
				if err != nil {
					return err
				}
				cmd.Printf("Wrote %d bytes at %s\n", n, helpers.FormatAddress(addr))
				return nil
			})
		},
	}

	cmd.Flags().Int32Var(&i32, "i32", 0, "Signed 32-bit value to write")
	cmd.Flags().StringVar(&data, "hex", "", "Hex-encoded bytes to write")
	helpers.AddRelocateFlag(cmd, &relocate)

	return cmd
}
