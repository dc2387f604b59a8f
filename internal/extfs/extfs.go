// Package extfs manipulates files inside an ext filesystem image without
// mounting it, by driving debugfs from e2fsprogs. The image stays a plain
// byte blob on disk; no privileges are required.
package extfs

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/raspbian-qemu/tools/internal/exttool"
)

const debugfsBin = "debugfs"

// Inode mode bits, as stored by debugfs (type and permissions packed
// into one field).
const (
	modeTypeMask = 0170000
	modeDir      = 0040000
	modeRegular  = 0100000
	modePermMask = 0777
)

// ErrNotFound is returned when a path does not exist in the image.
var ErrNotFound = errors.New("file not found in image")

// ErrUnrecognizedType is returned when an inode is neither a regular
// file nor a directory. Such entries are never silently skipped.
var ErrUnrecognizedType = errors.New("unrecognized inode type")

// debugfs reports missing paths with this marker on stderr while still
// exiting zero, so errors have to be recognized by content.
const notFoundMarker = "File not found by ext2_lookup"

// FS wraps one ext filesystem image file.
type FS struct {
	image string
	run   exttool.Runner
}

func New(image string, run exttool.Runner) *FS {
	return &FS{image: image, run: run}
}

// Image returns the path of the wrapped filesystem image.
func (fs *FS) Image() string { return fs.image }

// script is an ordered batch of debugfs commands fed on standard input
// within a single invocation. Keeping it a first-class value makes
// multi-command contracts (remove-then-write) auditable in tests.
type script []string

func (s script) stdin() []byte {
	return []byte(strings.Join(s, "\n") + "\n")
}

// request runs a single read-only debugfs command, keeping stdout clean
// for commands like cat whose output is the file content.
func (fs *FS) request(cmd string) (stdout, stderr []byte, err error) {
	return fs.run.Run(debugfsBin, []string{"-R", cmd, fs.image}, nil)
}

// batch runs an ordered command script against a writable image.
func (fs *FS) batch(s script) (stderr []byte, err error) {
	_, stderr, err = fs.run.Run(debugfsBin, []string{"-w", "-f", "-", fs.image}, s.stdin())
	return stderr, err
}

// commandFailed reports whether stderr carries an error from the given
// batch command. debugfs exits zero even when a scripted command fails;
// each failure line is prefixed with the command name, which also keeps
// the version banner from matching.
func commandFailed(stderr []byte, cmd string) bool {
	for _, line := range strings.Split(string(stderr), "\n") {
		if strings.HasPrefix(line, cmd+":") {
			return true
		}
	}
	return false
}

// Cat returns the raw content of the file at p.
func (fs *FS) Cat(p string) ([]byte, error) {
	stdout, stderr, err := fs.request("cat " + p)
	if err != nil {
		return nil, err
	}
	if strings.Contains(string(stderr), notFoundMarker) {
		return nil, errors.Wrap(ErrNotFound, p)
	}
	return stdout, nil
}

// Remove deletes the file at p. Removing a file that does not exist is
// a no-op, which makes overwrites idempotent.
func (fs *FS) Remove(p string) error {
	stderr, err := fs.batch(script{"rm " + p})
	if err != nil {
		return err
	}
	if commandFailed(stderr, "rm") && !strings.Contains(string(stderr), notFoundMarker) {
		return errors.Errorf("debugfs rm %s: %s", p, strings.TrimSpace(string(stderr)))
	}
	return nil
}

// Entry describes one file or directory inside the image.
type Entry struct {
	Name string
	Mode os.FileMode // permission bits only
	UID  int
	GID  int
	Size int64
	Dir  bool
}

// List returns the entries of directory dir whose names match the
// shell glob pattern, always excluding "." and "..".
func (fs *FS) List(dir, pattern string) ([]Entry, error) {
	stdout, stderr, err := fs.request("ls -p " + dir)
	if err != nil {
		return nil, err
	}
	if strings.Contains(string(stderr), notFoundMarker) {
		return nil, errors.Wrap(ErrNotFound, dir)
	}

	var entries []Entry
	for _, line := range strings.Split(string(stdout), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// ls -p prints /inode/mode/uid/gid/name/size/ per entry.
		fields := strings.Split(line, "/")
		if len(fields) < 7 {
			continue
		}
		inode, mode, uid, gid, name, size := fields[1], fields[2], fields[3], fields[4], fields[5], fields[6]
		if inode == "" || name == "." || name == ".." {
			continue
		}
		var modeBits uint32
		if _, err := fmt.Sscanf(mode, "%o", &modeBits); err != nil {
			return nil, fmt.Errorf("ls -p %s: cannot parse mode %q in line %q", dir, mode, line)
		}
		e := Entry{Name: name, Mode: os.FileMode(modeBits & modePermMask)}
		switch modeBits & modeTypeMask {
		case modeDir:
			e.Dir = true
		case modeRegular:
		default:
			return nil, errors.Wrapf(ErrUnrecognizedType, "%s (mode %s)", path.Join(dir, name), mode)
		}
		if _, err := fmt.Sscanf(uid, "%d", &e.UID); err != nil {
			return nil, fmt.Errorf("ls -p %s: cannot parse uid in line %q", dir, line)
		}
		if _, err := fmt.Sscanf(gid, "%d", &e.GID); err != nil {
			return nil, fmt.Errorf("ls -p %s: cannot parse gid in line %q", dir, line)
		}
		if size != "" {
			if _, err := fmt.Sscanf(size, "%d", &e.Size); err != nil {
				return nil, fmt.Errorf("ls -p %s: cannot parse size in line %q", dir, line)
			}
		}
		match, err := path.Match(pattern, e.Name)
		if err != nil {
			return nil, err
		}
		if match {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Stats selects inode fields to change. Fields set to Keep are left
// untouched.
type Stats struct {
	UID  int
	GID  int
	Mode int // permission bits; type bit is added by SetStats
}

// Keep leaves the corresponding inode field unchanged.
const Keep = -1

// KeepStats changes nothing; populate individual fields from here.
var KeepStats = Stats{UID: Keep, GID: Keep, Mode: Keep}

// SetStats applies the requested inode field changes to p. debugfs
// stores type and permission bits together, so the mode is OR-ed with
// the directory or regular-file type bit before being written.
func (fs *FS) SetStats(p string, st Stats, isDir bool) error {
	var s script
	if st.UID != Keep {
		s = append(s, fmt.Sprintf("sif %s uid %d", p, st.UID))
	}
	if st.GID != Keep {
		s = append(s, fmt.Sprintf("sif %s gid %d", p, st.GID))
	}
	if st.Mode != Keep {
		typeBit := modeRegular
		if isDir {
			typeBit = modeDir
		}
		s = append(s, fmt.Sprintf("sif %s mode 0%o", p, typeBit|st.Mode))
	}
	if len(s) == 0 {
		return nil
	}
	_, err := fs.batch(s)
	return err
}

// MakeDirectory creates directory p and applies the given stats. An
// already existing directory is not an error.
func (fs *FS) MakeDirectory(p string, st Stats) error {
	stderr, err := fs.batch(script{"mkdir " + p})
	if err != nil {
		return err
	}
	if commandFailed(stderr, "mkdir") && !strings.Contains(string(stderr), "exists") {
		return errors.Errorf("debugfs mkdir %s: %s", p, strings.TrimSpace(string(stderr)))
	}
	return fs.SetStats(p, st, true)
}

// WriteFile writes content to p with the given stats, replacing any
// existing file. The content is staged in a temporary host file; the
// remove and the inject then happen within one debugfs invocation,
// because debugfs' write command cannot overwrite in place.
func (fs *FS) WriteFile(p string, content []byte, st Stats) error {
	staged, err := os.CreateTemp("", "extfs-write")
	if err != nil {
		return err
	}
	defer os.Remove(staged.Name())
	if _, err := staged.Write(content); err != nil {
		staged.Close()
		return err
	}
	if err := staged.Close(); err != nil {
		return err
	}

	dir, name := path.Split(p)
	stderr, err := fs.batch(script{
		"cd " + path.Clean(dir),
		"rm " + name,
		fmt.Sprintf("write %s %s", staged.Name(), name),
	})
	if err != nil {
		return err
	}
	// The rm may legitimately find nothing; a failed cd or write means
	// the content did not land where it was supposed to.
	for _, cmd := range []string{"cd", "write"} {
		if commandFailed(stderr, cmd) {
			return errors.Errorf("debugfs write %s: %s", p, strings.TrimSpace(string(stderr)))
		}
	}
	return fs.SetStats(p, st, false)
}
