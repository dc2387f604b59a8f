package rpiq

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/raspbian-qemu/tools/internal/deps"
)

// doctorCmd is rpiq doctor.
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that all required external programs are installed",
	Long: `Check that every external program rpiq may shell out to is installed,
and report the ones that are missing.
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return doctorImpl.run(cmd.Context(), args, cmd.OutOrStdout(), cmd.OutOrStderr())
	},
}

type doctorImplConfig struct{}

var doctorImpl doctorImplConfig

func (r *doctorImplConfig) run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	return deps.Report(stdout, deps.Check(ctx))
}
