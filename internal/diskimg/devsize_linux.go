package diskimg

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// imageSize returns the usable size of a disk image, which may be a
// regular file or a block device (e.g. an SD card reader).
func imageSize(path string) (int64, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if st.Mode()&os.ModeDevice == 0 {
		return st.Size(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var devsize uint64
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&devsize))); errno != 0 {
		return 0, errno
	}
	if devsize == 0 {
		return 0, fmt.Errorf("path %s does not seem to be a usable device", path)
	}
	return int64(devsize), nil
}
