// Package qemu launches a prepped Raspberry Pi image under
// qemu-system-arm, emulating the versatilepb board with a
// purpose-built kernel.
package qemu

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

const emulatorBin = "qemu-system-arm"

// DefaultKernel is the kernel image the emulator boots. The Pi's
// stock kernel does not run on the emulated board; build-kernel
// produces this file.
const DefaultKernel = "kernel-qemu"

// The root filesystem shows up as the second partition of the
// emulated SCSI disk.
const kernelCommandLine = "root=/dev/sda2 panic=1 rootfstype=ext4 rw"

// Options configure one emulator run.
type Options struct {
	// Image is the prepped SD-card image to boot.
	Image string
	// Kernel overrides DefaultKernel.
	Kernel string
	// SSHPort forwards the given host port to the guest's port 22.
	// Zero means no forwarding.
	SSHPort int
	// Display opens a graphical framebuffer window instead of running
	// headless.
	Display bool
	// Audio enables the emulated sound device.
	Audio bool
}

// Args returns the full emulator argument vector for opts.
func Args(opts Options) []string {
	kernel := opts.Kernel
	if kernel == "" {
		kernel = DefaultKernel
	}

	args := []string{
		"-kernel", kernel,
		"-cpu", "arm1176",
		"-m", "256",
		"-M", "versatilepb",
		"-no-reboot",
		"-serial", "stdio",
		"-append", kernelCommandLine,
		"-hda", opts.Image,
	}

	if opts.SSHPort > 0 {
		args = append(args,
			"-net", "nic",
			"-net", fmt.Sprintf("user,hostfwd=tcp::%d-:22", opts.SSHPort),
		)
	}

	// The serial console on stdio is the primary interface; a display
	// window is strictly opt-in.
	if !opts.Display {
		args = append(args, "-display", "none")
	}

	if opts.Audio {
		args = append(args, "-audiodev", "sdl,id=audio0")
	}

	return args
}

// Run starts the emulator attached to the current terminal and waits
// for it to exit. The guest's serial console is on stdin/stdout, so
// the terminal becomes the guest console for the whole run.
func Run(ctx context.Context, opts Options) error {
	if _, err := os.Stat(opts.Image); err != nil {
		return err
	}
	kernel := opts.Kernel
	if kernel == "" {
		kernel = DefaultKernel
	}
	if _, err := os.Stat(kernel); err != nil {
		return fmt.Errorf("emulator kernel %s missing (generate it with build-kernel): %w", kernel, err)
	}

	emulator := exec.CommandContext(ctx, emulatorBin, Args(opts)...)
	emulator.Stdin = os.Stdin
	emulator.Stdout = os.Stdout
	emulator.Stderr = os.Stderr
	if err := emulator.Run(); err != nil {
		return fmt.Errorf("%v: %v", emulator.Args, err)
	}
	return nil
}
