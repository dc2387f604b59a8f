package rpiq

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/raspbian-qemu/tools/internal/exttool"
	"github.com/raspbian-qemu/tools/internal/version"
)

// Options shared by every subcommand.
var rootOpts struct {
	debug    bool
	keepRoot bool
}

func RootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rpiq",
		Short: "prepare and run Raspberry Pi SD-card images under QEMU",
		Long: `The rpiq tool makes stock Raspberry Pi SD-card images bootable in the
QEMU emulator and back, without requiring root privileges:

1. Make an image emulator-bootable, optionally growing it and injecting
   SSH keys (rpiq prep),
2. Boot a prepped image in the emulator (rpiq run),
3. Revert the emulator changes before writing the image to a real SD
   card (rpiq unprep),
4. Pull the generated SSH host keys out of an image (rpiq extract).

All image surgery happens through parted and e2fsprogs on plain files;
nothing is ever mounted.
`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			exttool.Debug = rootOpts.debug
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			versionVal, err := cmd.Flags().GetBool("version")
			if err != nil {
				return fmt.Errorf("BUG: version flag declared as non-bool")
			}
			if versionVal {
				fmt.Println(version.Read())
				return nil
			}
			return pflag.ErrHelp
		},
	}
	rootCmd.AddGroup(&cobra.Group{
		ID:    "image",
		Title: "Commands to transform SD-card images:",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "emulator",
		Title: "Commands to work with the emulator:",
	})
	rootCmd.Flags().Bool("version", false, "print rpiq version")
	rootCmd.PersistentFlags().BoolVar(&rootOpts.debug, "debug", false,
		"log every external command invocation")
	rootCmd.PersistentFlags().BoolVar(&rootOpts.keepRoot, "keep-root", false,
		"keep the extracted root partition around as root.img for inspection")
	rootCmd.AddCommand(prepCmd)
	rootCmd.AddCommand(unprepCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(buildKernelCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
	return rootCmd
}
