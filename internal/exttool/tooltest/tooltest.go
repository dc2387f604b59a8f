// Package tooltest provides a scriptable exttool.Runner for tests, so
// packages that shell out to parted or debugfs can be exercised without
// those programs installed.
package tooltest

import (
	"fmt"
	"strings"
	"sync"
)

// Call records one external-program invocation.
type Call struct {
	Name  string
	Args  []string
	Stdin string
}

// Line renders the invocation the way it would appear in a shell, with
// any stdin script appended after " << ". Handy for assertions.
func (c Call) Line() string {
	line := c.Name + " " + strings.Join(c.Args, " ")
	if c.Stdin != "" {
		line += " << " + c.Stdin
	}
	return line
}

// Handler produces the canned result for one invocation.
type Handler func(c Call) (stdout, stderr []byte, err error)

// Fake is an exttool.Runner that dispatches each invocation to a
// Handler and records every call it sees.
type Fake struct {
	Handle Handler

	mu    sync.Mutex
	calls []Call
}

func (f *Fake) Run(name string, args []string, stdin []byte) ([]byte, []byte, error) {
	c := Call{Name: name, Args: append([]string(nil), args...), Stdin: string(stdin)}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	if f.Handle == nil {
		return nil, nil, fmt.Errorf("tooltest: unexpected call: %s", c.Line())
	}
	return f.Handle(c)
}

// Calls returns a copy of all recorded invocations.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Lines returns Line() for every recorded invocation.
func (f *Fake) Lines() []string {
	calls := f.Calls()
	lines := make([]string, len(calls))
	for i, c := range calls {
		lines[i] = c.Line()
	}
	return lines
}
