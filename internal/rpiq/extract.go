package rpiq

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/raspbian-qemu/tools/internal/exttool"
	"github.com/raspbian-qemu/tools/internal/prep"
)

// extractCmd is rpiq extract.
var extractCmd = &cobra.Command{
	GroupID: "image",
	Use:     "extract <image> hostkeys <dest.tar>",
	Short:   "Extract data from an image without modifying it",
	Long: `Extract data from an SD-card image. The image is opened read-only.

The only supported kind is hostkeys: the SSH host keys the image
generated on first boot are bundled into a tar archive, which a later
rpiq prep --set-host-keys can install into a fresh image. The archive
is written owner-readable only.

Examples:
  % rpiq extract raspbian.img hostkeys hostkeys.tar
`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return extractImpl.run(cmd.Context(), args, cmd.OutOrStdout(), cmd.OutOrStderr())
	},
}

type extractImplConfig struct{}

var extractImpl extractImplConfig

func (r *extractImplConfig) run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	image, kind, dest := args[0], args[1], args[2]
	if kind != "hostkeys" {
		return fmt.Errorf("unknown extraction kind %q (supported: hostkeys)", kind)
	}
	return prep.ExtractHostKeys(exttool.Exec{}, image, dest, rootOpts.keepRoot)
}
