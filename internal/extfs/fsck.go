package extfs

import (
	"os/exec"

	"github.com/pkg/errors"

	"github.com/raspbian-qemu/tools/internal/exttool"
)

// Fsck runs a filesystem consistency check on image. With repair set it
// preen-fixes what it safely can (e2fsck -f -p); exit status 1 then
// only means errors were corrected and is not a failure. Without repair
// the check is strictly read-only (e2fsck -f -n) and any non-zero exit
// is fatal; that mode exists to verify, not to fix.
func Fsck(run exttool.Runner, image string, repair bool) error {
	mode := "-n"
	if repair {
		mode = "-p"
	}
	_, _, err := run.Run("e2fsck", []string{"-f", mode, image}, nil)
	if err != nil && repair {
		var exit *exec.ExitError
		if errors.As(err, &exit) && exit.ExitCode() == 1 {
			return nil
		}
	}
	return err
}

// ResizeToFit grows the filesystem in image to fill the image file's
// current size.
func ResizeToFit(run exttool.Runner, image string) error {
	_, _, err := run.Run("resize2fs", []string{image}, nil)
	return err
}
