package rpiq

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/raspbian-qemu/tools/internal/exttool"
	"github.com/raspbian-qemu/tools/internal/prep"
)

// prepCmd is rpiq prep.
var prepCmd = &cobra.Command{
	GroupID: "image",
	Use:     "prep <image> [dest]",
	Short:   "Make an SD-card image bootable under the emulator",
	Long: `Make a stock Raspberry Pi SD-card image bootable under the emulator.

The image is changed in place unless a destination is given, in which
case the source stays untouched.

Examples:
  # Prepare an image in place, growing the root filesystem by 500 MiB:
  % rpiq prep --grow-root=500M raspbian.img

  # Prepare a copy, injecting an SSH key for the pi user:
  % rpiq prep --add-public-key=$HOME/.ssh/id_ed25519.pub raspbian.img emu.img
`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return prepImpl.run(cmd.Context(), args, cmd.OutOrStdout(), cmd.OutOrStderr())
	},
}

type prepImplConfig struct {
	growRoot     string
	addPublicKey string
	setHostKeys  string
}

var prepImpl prepImplConfig

func init() {
	prepCmd.Flags().StringVar(&prepImpl.growRoot, "grow-root", "",
		"grow the root partition and filesystem by this much (e.g. 500M, 2G)")
	prepCmd.Flags().StringVar(&prepImpl.addPublicKey, "add-public-key", "",
		"append this public key file to the pi user's authorized_keys")
	prepCmd.Flags().StringVar(&prepImpl.setHostKeys, "set-host-keys", "",
		"install the host keys from this tar archive and disable regeneration on first boot")
}

func (r *prepImplConfig) run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	source := args[0]
	dest := ""
	if len(args) == 2 {
		dest = args[1]
	}
	return prep.Prep(exttool.Exec{}, source, dest, prep.Options{
		GrowRoot:      r.growRoot,
		PublicKeyPath: r.addPublicKey,
		HostKeysPath:  r.setHostKeys,
		KeepRoot:      rootOpts.keepRoot,
	})
}
