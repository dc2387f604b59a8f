package rpiq

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/raspbian-qemu/tools/internal/exttool"
	"github.com/raspbian-qemu/tools/internal/prep"
)

// unprepCmd is rpiq unprep.
var unprepCmd = &cobra.Command{
	GroupID: "image",
	Use:     "unprep <image> [dest]",
	Short:   "Revert the emulator changes so the image boots on real hardware",
	Long: `Revert the emulator-specific changes of rpiq prep.

Injected SSH keys and a grown root filesystem are kept; only the device
naming rule and the dynamic-linker preload change are reverted.

Examples:
  # Revert in place before writing the image to an SD card:
  % rpiq unprep emu.img
`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return unprepImpl.run(cmd.Context(), args, cmd.OutOrStdout(), cmd.OutOrStderr())
	},
}

type unprepImplConfig struct{}

var unprepImpl unprepImplConfig

func (r *unprepImplConfig) run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	source := args[0]
	dest := ""
	if len(args) == 2 {
		dest = args[1]
	}
	return prep.Unprep(exttool.Exec{}, source, dest, rootOpts.keepRoot)
}
