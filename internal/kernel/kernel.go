// Package kernel builds the emulator boot kernel from a Linux source
// checkout. The Pi's stock kernel cannot drive the emulated
// versatilepb board, so a patched ARM1176-capable kernel is compiled
// and installed as kernel-qemu.
package kernel

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/google/renameio/v2"

	"github.com/raspbian-qemu/tools/internal/exttool"
	"github.com/raspbian-qemu/tools/internal/measure"
)

// Teaches the versatile board support about the ARM1176 core the Pi
// firmware expects.
//
//go:embed versatile.patch
var emulatorPatch []byte

// Enables the emulated board's disk, filesystem and console drivers
// on top of versatile_defconfig.
//
//go:embed config.fragment
var configFragment []byte

const crossCompile = "CROSS_COMPILE=arm-linux-gnueabihf-"

// Build compiles a zImage from the kernel checkout at sourceDir and
// installs it at dest. The emulator patch is applied at most once, so
// building repeatedly from the same checkout works.
func Build(run exttool.Runner, sourceDir, dest string) error {
	if err := validateSource(sourceDir); err != nil {
		return err
	}

	if err := applyPatch(run, sourceDir); err != nil {
		return err
	}
	if err := configure(run, sourceDir); err != nil {
		return err
	}

	log.Printf("building zImage in %s", sourceDir)
	done := measure.Interactively("compiling kernel")
	_, _, err := run.Run("make", []string{
		"-C", sourceDir, "ARCH=arm", crossCompile,
		"-j", strconv.Itoa(runtime.NumCPU()), "zImage",
	}, nil)
	done("")
	if err != nil {
		return err
	}

	zImage, err := os.ReadFile(filepath.Join(sourceDir, "arch", "arm", "boot", "zImage"))
	if err != nil {
		return err
	}
	return renameio.WriteFile(dest, zImage, 0644)
}

// validateSource rejects anything that is not plausibly a kernel
// checkout before any command touches it.
func validateSource(sourceDir string) error {
	st, err := os.Stat(sourceDir)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("%s is not a directory", sourceDir)
	}
	for _, marker := range []string{"Makefile", "arch/arm"} {
		if _, err := os.Stat(filepath.Join(sourceDir, marker)); err != nil {
			return fmt.Errorf("%s does not look like a Linux kernel source tree (missing %s)", sourceDir, marker)
		}
	}
	return nil
}

// applyPatch applies the emulator patch unless a reverse dry-run shows
// it is already in.
func applyPatch(run exttool.Runner, sourceDir string) error {
	if _, _, err := run.Run("patch", []string{
		"-R", "-p1", "-s", "-f", "--dry-run", "-d", sourceDir,
	}, emulatorPatch); err == nil {
		log.Printf("emulator patch already applied")
		return nil
	}
	log.Printf("applying emulator patch")
	_, _, err := run.Run("patch", []string{"-p1", "-N", "-d", sourceDir}, emulatorPatch)
	return err
}

// configure produces a .config from versatile_defconfig plus the
// fragment, letting olddefconfig resolve the dependencies.
func configure(run exttool.Runner, sourceDir string) error {
	if _, _, err := run.Run("make", []string{
		"-C", sourceDir, "ARCH=arm", crossCompile, "versatile_defconfig",
	}, nil); err != nil {
		return err
	}

	config, err := os.OpenFile(filepath.Join(sourceDir, ".config"), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	if _, err := config.Write(configFragment); err != nil {
		config.Close()
		return err
	}
	if err := config.Close(); err != nil {
		return err
	}

	_, _, err = run.Run("make", []string{
		"-C", sourceDir, "ARCH=arm", crossCompile, "olddefconfig",
	}, nil)
	return err
}
