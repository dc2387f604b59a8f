// Package prep transforms Raspberry Pi SD-card images between their
// native state and an emulator-bootable state, and extracts host key
// material back out of them.
package prep

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path"

	"github.com/pkg/errors"

	"github.com/raspbian-qemu/tools/internal/diskimg"
	"github.com/raspbian-qemu/tools/internal/extfs"
	"github.com/raspbian-qemu/tools/internal/exttool"
	"github.com/raspbian-qemu/tools/internal/hostkeys"
	"github.com/raspbian-qemu/tools/internal/humanize"
	"github.com/raspbian-qemu/tools/internal/measure"
)

// Guest paths touched by the transforms.
const (
	udevRulePath    = "/etc/udev/rules.d/90-qemu-sda.rules"
	preloadPath     = "/etc/ld.so.preload"
	authKeysDir     = "/home/pi/.ssh"
	authKeysPath    = "/home/pi/.ssh/authorized_keys"
	sshDir          = "/etc/ssh"
	hostKeyGlob     = "ssh_host_*key*"
	regenInitScript = "/etc/init.d/regenerate_ssh_host_keys"
)

// The emulator exposes the SD card as sda; the guest expects mmcblk0.
const udevRule = `KERNEL=="sda", SYMLINK+="mmcblk0"
KERNEL=="sda?", SYMLINK+="mmcblk0p%n"
`

var (
	// ErrIntegrity is returned when the filesystem's reported size for
	// an entry disagrees with the bytes actually read.
	ErrIntegrity = errors.New("entry size disagrees with content length")

	// ErrNoHostKeys is returned when an extraction matches nothing. An
	// empty archive is never silently produced.
	ErrNoHostKeys = errors.New("no host keys found in image")
)

// Options configure Prep.
type Options struct {
	// GrowRoot enlarges the root partition and filesystem by the given
	// human-readable amount (e.g. "500M"). Empty means no growth.
	GrowRoot string
	// PublicKeyPath names a public key file to append to the pi user's
	// authorized_keys.
	PublicKeyPath string
	// HostKeysPath names a host-key tar bundle to install into
	// /etc/ssh, disabling key regeneration on first boot.
	HostKeysPath string
	// KeepRoot retains the extracted root partition for inspection.
	KeepRoot bool
}

// Prep makes the image at source bootable under the emulator, writing
// the result to dest (or in place when dest is empty). All inputs are
// validated before the image is opened, so a rejected prep leaves both
// source and dest untouched.
func Prep(run exttool.Runner, source, dest string, opts Options) error {
	var growth int64
	if opts.GrowRoot != "" {
		var err error
		if growth, err = humanize.ParseBytes(opts.GrowRoot); err != nil {
			return err
		}
	}

	var pubKey []byte
	if opts.PublicKeyPath != "" {
		var err error
		if pubKey, err = readPublicKey(opts.PublicKeyPath); err != nil {
			return err
		}
	}

	// The permission gate runs before the image is ever opened.
	var keys []hostkeys.Entry
	if opts.HostKeysPath != "" {
		var err error
		if keys, err = hostkeys.Read(opts.HostKeysPath); err != nil {
			return err
		}
	}

	root, err := diskimg.OpenRoot(run, source, diskimg.Options{Dest: dest, KeepRoot: opts.KeepRoot})
	if err != nil {
		return err
	}
	defer root.Close()

	if growth > 0 {
		if err := growRoot(run, root, growth); err != nil {
			return err
		}
	}

	fs := extfs.New(root.Path(), run)

	if err := fs.WriteFile(udevRulePath, []byte(udevRule), extfs.Stats{UID: 0, GID: 0, Mode: 0644}); err != nil {
		return err
	}

	if err := rewritePreload(fs, commentOut); err != nil {
		return err
	}

	if pubKey != nil {
		if err := addAuthorizedKey(fs, pubKey); err != nil {
			return err
		}
	}

	if keys != nil {
		if err := installHostKeys(fs, keys); err != nil {
			return err
		}
	}

	return root.Commit()
}

// Unprep reverses the udev rule and the preload comment-out. Injected
// keys are deliberately left in place: once added they are considered
// part of the image.
func Unprep(run exttool.Runner, source, dest string, keepRoot bool) error {
	root, err := diskimg.OpenRoot(run, source, diskimg.Options{Dest: dest, KeepRoot: keepRoot})
	if err != nil {
		return err
	}
	defer root.Close()

	fs := extfs.New(root.Path(), run)

	if err := fs.Remove(udevRulePath); err != nil {
		return err
	}
	if err := rewritePreload(fs, uncomment); err != nil {
		return err
	}

	return root.Commit()
}

// ExtractHostKeys reads the host keys out of the image at source into
// a tar bundle at destTar. The image is opened read-only and never
// modified.
func ExtractHostKeys(run exttool.Runner, source, destTar string, keepRoot bool) error {
	root, err := diskimg.OpenRoot(run, source, diskimg.Options{ReadOnly: true, KeepRoot: keepRoot})
	if err != nil {
		return err
	}
	defer root.Close()

	fs := extfs.New(root.Path(), run)

	listed, err := fs.List(sshDir, hostKeyGlob)
	if err != nil {
		return err
	}

	var entries []hostkeys.Entry
	for _, e := range listed {
		if e.Dir {
			continue
		}
		p := path.Join(sshDir, e.Name)
		content, err := fs.Cat(p)
		if err != nil {
			return err
		}
		if int64(len(content)) != e.Size {
			return errors.Wrapf(ErrIntegrity, "%s: listed %d bytes, read %d", p, e.Size, len(content))
		}
		entries = append(entries, hostkeys.Entry{
			Name:    e.Name,
			UID:     e.UID,
			GID:     e.GID,
			Mode:    e.Mode,
			Content: content,
		})
	}
	if len(entries) == 0 {
		return errors.Wrap(ErrNoHostKeys, source)
	}

	return hostkeys.Write(destTar, entries)
}

// growRoot appends growth zero bytes to the extracted root partition
// and resizes the filesystem to match, verifying the result with a
// strict read-only check.
func growRoot(run exttool.Runner, root *diskimg.Root, growth int64) error {
	size, err := root.Size()
	if err != nil {
		return err
	}
	// Truncating past the end allocates sparse space without writing
	// it; the filesystem structures stay stale until resize2fs runs.
	if err := os.Truncate(root.Path(), size+growth); err != nil {
		return err
	}

	log.Printf("growing root filesystem by %s", humanize.Bytes(uint64(growth)))
	done := measure.Interactively("resizing root filesystem")
	defer done("")

	if err := extfs.Fsck(run, root.Path(), true); err != nil {
		return err
	}
	if err := extfs.ResizeToFit(run, root.Path()); err != nil {
		return err
	}
	// Verification only. A failure here means the resize corrupted the
	// filesystem, which must abort the whole prep.
	if err := extfs.Fsck(run, root.Path(), false); err != nil {
		return fmt.Errorf("filesystem verification after resize failed: %w", err)
	}
	return nil
}

// rewritePreload reads the dynamic-linker preload file, applies edit
// and writes it back. Both edits in use are idempotent.
func rewritePreload(fs *extfs.FS, edit func([]byte) []byte) error {
	content, err := fs.Cat(preloadPath)
	if err != nil {
		return err
	}
	return fs.WriteFile(preloadPath, edit(content), extfs.Stats{UID: 0, GID: 0, Mode: 0644})
}

// readPublicKey loads and screens a public key file. Feeding a private
// key to --add-public-key would bake secret material into an image
// world-readably, so that is rejected outright.
func readPublicKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(key)) == 0 {
		return nil, fmt.Errorf("public key file %s is empty", path)
	}
	if bytes.Contains(key, []byte("PRIVATE KEY")) {
		return nil, fmt.Errorf("%s looks like a private key, not a public key", path)
	}
	return key, nil
}

// addAuthorizedKey appends the key to the pi user's authorized_keys,
// tolerating the file not existing yet and never adding a key twice.
func addAuthorizedKey(fs *extfs.FS, key []byte) error {
	current, err := fs.Cat(authKeysPath)
	if err != nil && !errors.Is(err, extfs.ErrNotFound) {
		return err
	}

	if err := fs.MakeDirectory(authKeysDir, extfs.Stats{UID: 1000, GID: 1000, Mode: 0700}); err != nil {
		return err
	}
	return fs.WriteFile(authKeysPath, appendAuthorizedKey(current, key),
		extfs.Stats{UID: 1000, GID: 1000, Mode: 0600})
}

// installHostKeys writes every bundle member into the guest's SSH
// configuration directory with its recorded metadata, then strips the
// key regeneration invocation from the init script so the injected
// keys survive first boot.
func installHostKeys(fs *extfs.FS, keys []hostkeys.Entry) error {
	for _, e := range keys {
		if err := fs.WriteFile(path.Join(sshDir, e.Name), e.Content,
			extfs.Stats{UID: e.UID, GID: e.GID, Mode: int(e.Mode)}); err != nil {
			return err
		}
	}

	script, err := fs.Cat(regenInitScript)
	if err != nil {
		return err
	}
	return fs.WriteFile(regenInitScript, stripKeygenLines(script),
		extfs.Stats{UID: 0, GID: 0, Mode: 0755})
}
