package rpiq

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/raspbian-qemu/tools/internal/qemu"
)

// runCmd is rpiq run.
var runCmd = &cobra.Command{
	GroupID: "emulator",
	Use:     "run <image>",
	Short:   "Boot a prepped image in the emulator",
	Long: `Boot a prepped SD-card image in the emulator.

The guest's serial console is attached to the terminal; the emulator
runs headless unless --with-display is given. Use the QEMU monitor
(C-a c on the serial console) to quit.

Examples:
  # Boot with the guest's SSH reachable on localhost:7022:
  % rpiq run --with-ssh-port=7022 emu.img
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImpl.run(cmd.Context(), args, cmd.OutOrStdout(), cmd.OutOrStderr())
	},
}

type runImplConfig struct {
	sshPort int
	display bool
	audio   bool
	kernel  string
}

var runImpl runImplConfig

func init() {
	runCmd.Flags().IntVar(&runImpl.sshPort, "with-ssh-port", 0,
		"forward this host port to the guest's SSH port")
	runCmd.Flags().BoolVar(&runImpl.display, "with-display", false,
		"open a framebuffer window instead of running headless")
	runCmd.Flags().BoolVar(&runImpl.audio, "with-audio", false,
		"enable the emulated sound device")
	runCmd.Flags().StringVar(&runImpl.kernel, "kernel", qemu.DefaultKernel,
		"emulator kernel to boot")
}

func (r *runImplConfig) run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	return qemu.Run(ctx, qemu.Options{
		Image:   args[0],
		Kernel:  r.kernel,
		SSHPort: r.sshPort,
		Display: r.display,
		Audio:   r.audio,
	})
}
