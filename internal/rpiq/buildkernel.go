package rpiq

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/raspbian-qemu/tools/internal/exttool"
	"github.com/raspbian-qemu/tools/internal/kernel"
	"github.com/raspbian-qemu/tools/internal/qemu"
)

// buildKernelCmd is rpiq build-kernel.
var buildKernelCmd = &cobra.Command{
	GroupID: "emulator",
	Use:     "build-kernel <kernel-source-dir>",
	Short:   "Build the emulator boot kernel from a Linux checkout",
	Long: `Build the kernel the emulator boots from a Linux source checkout.

The checkout is patched for the emulated board (at most once, so
rebuilding from the same checkout is fine), configured, and compiled.
The result is installed as kernel-qemu in the current directory, where
rpiq run expects it.

Requires an ARM cross-compiler (arm-linux-gnueabihf-gcc) in $PATH.
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return buildKernelImpl.run(cmd.Context(), args, cmd.OutOrStdout(), cmd.OutOrStderr())
	},
}

type buildKernelImplConfig struct {
	output string
}

var buildKernelImpl buildKernelImplConfig

func init() {
	buildKernelCmd.Flags().StringVar(&buildKernelImpl.output, "output", qemu.DefaultKernel,
		"where to install the built kernel")
}

func (r *buildKernelImplConfig) run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	return kernel.Build(exttool.Exec{}, args[0], r.output)
}
