package measure

import (
	"fmt"
	"strings"
	"time"
)

// Interactively prints a status line for a long-running step (fsck,
// resize2fs, image reassembly) and returns a done func that replaces
// it with the elapsed time plus an optional fragment.
func Interactively(status string) (done func(fragment string)) {
	status = "[" + status + "]"
	fmt.Print(status)
	start := time.Now()
	return func(fragment string) {
		elapsed := time.Since(start)
		fmt.Printf("\r[done] in %.2fs%s"+strings.Repeat(" ", len(status))+"\n",
			elapsed.Seconds(),
			fragment)
	}
}
