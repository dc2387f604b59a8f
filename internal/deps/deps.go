// Package deps checks that the external programs this tool shells out
// to are actually installed, so a missing one is reported up front
// instead of failing halfway through an image transform.
package deps

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Tools lists every external program some subcommand may invoke.
var Tools = []string{
	"parted",
	"debugfs",
	"e2fsck",
	"resize2fs",
	"qemu-system-arm",
	"patch",
	"make",
}

// Result is the outcome of probing for one tool.
type Result struct {
	Tool string
	Path string // resolved location, empty when missing
	Err  error
}

// Check probes for every tool in Tools concurrently and returns one
// Result per tool, ordered like Tools.
func Check(ctx context.Context) []Result {
	return check(ctx, exec.LookPath)
}

func check(ctx context.Context, look func(string) (string, error)) []Result {
	results := make([]Result, len(Tools))
	eg, ctx := errgroup.WithContext(ctx)
	for idx, tool := range Tools {
		idx, tool := idx, tool
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			path, err := look(tool)
			results[idx] = Result{Tool: tool, Path: path, Err: err}
			return nil
		})
	}
	// The probes only record into their own slot, so the only error
	// Wait can surface is context cancellation.
	if err := eg.Wait(); err != nil {
		for idx, tool := range Tools {
			if results[idx].Tool == "" {
				results[idx] = Result{Tool: tool, Err: err}
			}
		}
	}
	return results
}

// Report writes one line per result to w and returns an error naming
// the missing tools, if any.
func Report(w io.Writer, results []Result) error {
	var missing []string
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(w, "MISSING  %s\n", r.Tool)
			missing = append(missing, r.Tool)
			continue
		}
		fmt.Fprintf(w, "ok       %s (%s)\n", r.Tool, r.Path)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required tools: %s", strings.Join(missing, ", "))
	}
	return nil
}
