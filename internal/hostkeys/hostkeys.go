// Package hostkeys reads and writes tar bundles of SSH host key
// material, enforcing the ownership and permission policy that makes a
// bundle safe to inject into an image.
package hostkeys

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/pkg/errors"
)

// ErrPermissionPolicy is returned when a bundle member violates the
// key-material policy. The whole bundle is rejected before any of it
// is trusted.
var ErrPermissionPolicy = errors.New("host key fails permission policy")

// Entry is one named key file with the metadata that must survive the
// round trip through an image.
type Entry struct {
	Name    string
	UID     int
	GID     int
	Mode    os.FileMode
	Content []byte
}

// check enforces the policy for one member: key material must be owned
// by root, private keys must carry no group/other bits, and public keys
// must stay within 0644.
func check(e Entry) error {
	if e.UID != 0 || e.GID != 0 {
		return errors.Wrapf(ErrPermissionPolicy, "%s: owned by %d:%d, want 0:0", e.Name, e.UID, e.GID)
	}
	if strings.HasSuffix(e.Name, ".pub") {
		if e.Mode&^0644 != 0 {
			return errors.Wrapf(ErrPermissionPolicy, "%s: mode %04o more permissive than 0644", e.Name, e.Mode)
		}
	} else if e.Mode&0077 != 0 {
		return errors.Wrapf(ErrPermissionPolicy, "%s: private key mode %04o readable beyond owner", e.Name, e.Mode)
	}
	return nil
}

// Read loads a host-key bundle and validates every member against the
// permission policy before returning any of it.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading host key bundle %s", path)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s from bundle %s", hdr.Name, path)
		}
		e := Entry{
			Name:    hdr.Name,
			UID:     hdr.Uid,
			GID:     hdr.Gid,
			Mode:    os.FileMode(hdr.Mode) & os.ModePerm,
			Content: content,
		}
		if err := check(e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Write packs entries into a tar bundle at path, preserving each
// entry's metadata but normalizing modification times to now. The
// bundle is written atomically and readable only by its owner.
func Write(path string, entries []Entry) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	now := time.Now()
	for _, e := range entries {
		hdr := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     e.Name,
			Uid:      e.UID,
			Gid:      e.GID,
			Mode:     int64(e.Mode & os.ModePerm),
			Size:     int64(len(e.Content)),
			ModTime:  now,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tw.Write(e.Content); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return renameio.WriteFile(path, buf.Bytes(), 0600)
}
