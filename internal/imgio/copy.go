// Package imgio copies byte ranges between flat image files.
package imgio

import (
	"fmt"
	"os"
)

// RestOfFile selects everything from the source offset to the end of the
// source, measured before any write happens.
const RestOfFile = int64(-1)

const chunkSize = 1 << 20

// CopyRange copies count bytes from src at srcOff to dst at dstOff and
// then truncates dst to exactly dstOff+count, so a previously longer
// destination never keeps trailing bytes. Bytes before dstOff are
// preserved; the destination is created if it does not exist.
//
// src and dst may name the same file. Overlapping ranges are copied
// back-to-front where needed, so growing a file in place (dstOff >
// srcOff) stays byte-exact.
func CopyRange(src, dst string, srcOff, dstOff, count int64) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	st, err := in.Stat()
	if err != nil {
		return err
	}
	if count == RestOfFile {
		count = st.Size() - srcOff
	}
	if count < 0 {
		return fmt.Errorf("copy %s: negative count %d", src, count)
	}
	if srcOff+count > st.Size() {
		return fmt.Errorf("copy %s: range [%d,%d) past end of file (%d bytes)",
			src, srcOff, srcOff+count, st.Size())
	}

	sameFile := false
	if dstSt, err := os.Stat(dst); err == nil {
		sameFile = os.SameFile(st, dstSt)
	}

	out, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return err
	}
	defer out.Close()

	// When source and destination ranges of the same file overlap with
	// the destination ahead of the source, a forward chunk loop would
	// read bytes it has already overwritten. Copy from the tail instead.
	backward := sameFile && dstOff > srcOff && srcOff+count > dstOff

	buf := make([]byte, chunkSize)
	for copied := int64(0); copied < count; {
		n := count - copied
		if n > chunkSize {
			n = chunkSize
		}
		var rdOff, wrOff int64
		if backward {
			rdOff = srcOff + count - copied - n
			wrOff = dstOff + count - copied - n
		} else {
			rdOff = srcOff + copied
			wrOff = dstOff + copied
		}
		if _, err := in.ReadAt(buf[:n], rdOff); err != nil {
			return fmt.Errorf("copy %s: %v", src, err)
		}
		if _, err := out.WriteAt(buf[:n], wrOff); err != nil {
			return fmt.Errorf("copy to %s: %v", dst, err)
		}
		copied += n
	}

	if err := out.Truncate(dstOff + count); err != nil {
		return err
	}
	return out.Close()
}
