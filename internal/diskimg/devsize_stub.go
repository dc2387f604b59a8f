//go:build !linux

package diskimg

import (
	"fmt"
	"os"
)

func imageSize(path string) (int64, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if st.Mode()&os.ModeDevice != 0 {
		return 0, fmt.Errorf("operating on block devices is only supported on Linux")
	}
	return st.Size(), nil
}
