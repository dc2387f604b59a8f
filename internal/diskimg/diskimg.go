// Package diskimg locates, extracts and reassembles the root partition
// of a two-partition SD-card disk image. The partition table is only
// ever read and resized through parted; this package never interprets
// table bytes itself.
package diskimg

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/raspbian-qemu/tools/internal/exttool"
	"github.com/raspbian-qemu/tools/internal/imgio"
)

const sectorSize = 512

// KeepRootName is where the extracted root partition is retained when
// diagnostics are requested.
const KeepRootName = "root.img"

// ErrLayout is returned when the partition table does not match the
// two-partition, root-is-second-and-last layout this tool requires.
var ErrLayout = errors.New("unexpected partition layout")

// Options configure OpenRoot.
type Options struct {
	// Dest is where the reassembled image is written on Commit.
	// Empty means in place (back into the source image).
	Dest string
	// ReadOnly suppresses reassembly entirely; Commit becomes a no-op.
	ReadOnly bool
	// KeepRoot retains the extracted root partition as root.img for
	// inspection instead of deleting it on Close.
	KeepRoot bool
}

// Root is the extracted root partition of a disk image. It is a scoped
// resource: obtain it with OpenRoot, mutate the file at Path(), then
// Commit to reassemble and always Close (usually via defer) to release
// the extraction.
type Root struct {
	run    exttool.Runner
	source string
	dest   string
	offset int64
	path   string
	opts   Options
	closed bool
}

// OpenRoot locates the root partition of source and extracts it into a
// standalone file for direct manipulation.
func OpenRoot(run exttool.Runner, source string, opts Options) (*Root, error) {
	srcSize, err := imageSize(source)
	if err != nil {
		return nil, err
	}

	offset, err := rootOffset(run, source)
	if err != nil {
		return nil, err
	}
	if offset <= 0 || offset >= srcSize {
		return nil, errors.Wrapf(ErrLayout, "root offset %d outside image of %d bytes", offset, srcSize)
	}

	path := KeepRootName
	if !opts.KeepRoot {
		f, err := os.CreateTemp("", "diskimg-root")
		if err != nil {
			return nil, err
		}
		path = f.Name()
		if err := f.Close(); err != nil {
			os.Remove(path)
			return nil, err
		}
	}

	if err := imgio.CopyRange(source, path, offset, 0, srcSize-offset); err != nil {
		os.Remove(path)
		return nil, err
	}
	if err := os.Chmod(path, 0600); err != nil {
		os.Remove(path)
		return nil, err
	}

	dest := opts.Dest
	if dest == "" {
		dest = source
	}
	return &Root{
		run:    run,
		source: source,
		dest:   dest,
		offset: offset,
		path:   path,
		opts:   opts,
	}, nil
}

// Path returns the extracted root partition file.
func (r *Root) Path() string { return r.path }

// Offset returns the byte offset of the root partition inside the
// source image.
func (r *Root) Offset() int64 { return r.offset }

// Size returns the current size of the extracted root partition file.
func (r *Root) Size() (int64, error) {
	st, err := os.Stat(r.path)
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// Commit reassembles the destination image: everything before the root
// offset comes from the source, the (possibly resized) extraction goes
// in at the offset, the destination is truncated to exactly that
// combined length, and partition 2 is resized to fill the image. On a
// read-only Root, Commit does nothing.
func (r *Root) Commit() error {
	if r.opts.ReadOnly {
		return nil
	}

	newDest := r.dest != r.source
	if newDest {
		if err := imgio.CopyRange(r.source, r.dest, 0, 0, r.offset); err != nil {
			return err
		}
	}
	if err := imgio.CopyRange(r.path, r.dest, 0, r.offset, imgio.RestOfFile); err != nil {
		return err
	}
	if newDest {
		// Images can hold key material; never leave a fresh copy
		// readable by anyone but the owner.
		if err := os.Chmod(r.dest, 0600); err != nil {
			return err
		}
	}

	st, err := os.Stat(r.dest)
	if err != nil {
		return err
	}
	// parted's resize arithmetic only comes out right in sector units.
	end := st.Size()/sectorSize - 1
	_, _, err = r.run.Run("parted", []string{
		"-sm", r.dest, "unit", "s", "resizepart", "2", fmt.Sprintf("%ds", end),
	}, nil)
	return err
}

// Close releases the extracted root partition. It is safe to call more
// than once and on every exit path; the extraction survives only when
// KeepRoot was requested.
func (r *Root) Close() error {
	if r.closed || r.opts.KeepRoot {
		r.closed = true
		return nil
	}
	r.closed = true
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// rootOffset parses parted's machine-readable byte-unit listing. The
// last line must describe partition 2; anything else is fatal, with no
// heuristic fallback.
func rootOffset(run exttool.Runner, image string) (int64, error) {
	stdout, _, err := run.Run("parted", []string{"-sm", image, "unit", "B", "print"}, nil)
	if err != nil {
		return 0, err
	}

	var last string
	for _, line := range strings.Split(string(stdout), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			last = line
		}
	}
	if !strings.HasPrefix(last, "2:") {
		return 0, errors.Wrapf(ErrLayout, "last partition entry %q is not partition 2", last)
	}
	fields := strings.Split(last, ":")
	if len(fields) < 2 || !strings.HasSuffix(fields[1], "B") {
		return 0, errors.Wrapf(ErrLayout, "cannot parse start offset from %q", last)
	}
	offset, err := strconv.ParseInt(strings.TrimSuffix(fields[1], "B"), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrLayout, "cannot parse start offset from %q", last)
	}
	return offset, nil
}
