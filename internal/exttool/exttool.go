// Package exttool invokes the external programs this tool delegates to
// (parted, debugfs, e2fsck, resize2fs, ...), capturing their output.
package exttool

import (
	"bytes"
	"log"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// Debug makes every invocation log its command line and, on failure,
// its captured output. Set from the --debug flag.
var Debug bool

// Runner runs one external program to completion. Implementations other
// than Exec exist for tests only.
type Runner interface {
	Run(name string, args []string, stdin []byte) (stdout, stderr []byte, err error)
}

// Exec is the Runner backed by os/exec.
type Exec struct{}

func (Exec) Run(name string, args []string, stdin []byte) ([]byte, []byte, error) {
	if Debug {
		log.Printf("exec: %s %s", name, strings.Join(args, " "))
		if len(stdin) > 0 {
			log.Printf("exec: stdin: %q", stdin)
		}
	}
	cmd := exec.Command(name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), stderr.Bytes(), errors.Wrapf(err,
			"%s %s\nstdout: %s\nstderr: %s",
			name, strings.Join(args, " "),
			strings.TrimSpace(stdout.String()),
			strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}
