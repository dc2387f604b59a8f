package extfs

import (
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/raspbian-qemu/tools/internal/exttool/tooltest"
)

const banner = "debugfs 1.47.0 (5-Feb-2023)\n"

func okHandler(stdout string) tooltest.Handler {
	return func(c tooltest.Call) ([]byte, []byte, error) {
		return []byte(stdout), []byte(banner), nil
	}
}

func TestCat(t *testing.T) {
	fake := &tooltest.Fake{Handle: okHandler("file content")}
	got, err := New("root.img", fake).Cat("/etc/ld.so.preload")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "file content" {
		t.Errorf("got %q; want %q", got, "file content")
	}
	want := []string{`debugfs -R cat /etc/ld.so.preload root.img`}
	if diff := cmp.Diff(want, fake.Lines()); diff != "" {
		t.Errorf("recorded calls differ (-want +got):\n%s", diff)
	}
}

func TestCatNotFound(t *testing.T) {
	fake := &tooltest.Fake{Handle: func(c tooltest.Call) ([]byte, []byte, error) {
		return nil, []byte(banner + "/missing: File not found by ext2_lookup while translating /missing\n"), nil
	}}
	_, err := New("root.img", fake).Cat("/missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v; want ErrNotFound", err)
	}
}

func TestRemoveMissingIsNoop(t *testing.T) {
	fake := &tooltest.Fake{Handle: func(c tooltest.Call) ([]byte, []byte, error) {
		return nil, []byte(banner + "rm: File not found by ext2_lookup while looking up gone\n"), nil
	}}
	if err := New("root.img", fake).Remove("/gone"); err != nil {
		t.Fatalf("removing a missing file must be a no-op, got %v", err)
	}
}

const lsOutput = `/2/040755/0/0/./4096/
/2/040755/0/0/../4096/
/12/0100600/0/0/ssh_host_rsa_key/1679/
/13/0100644/0/0/ssh_host_rsa_key.pub/392/
/14/040700/1000/1000/keydir/4096/
/15/0100644/0/0/sshd_config/3264/
`

func TestList(t *testing.T) {
	fake := &tooltest.Fake{Handle: okHandler(lsOutput)}
	got, err := New("root.img", fake).List("/etc/ssh", "ssh_host_*key*")
	if err != nil {
		t.Fatal(err)
	}
	want := []Entry{
		{Name: "ssh_host_rsa_key", Mode: 0600, Size: 1679},
		{Name: "ssh_host_rsa_key.pub", Mode: 0644, Size: 392},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("entries differ (-want +got):\n%s", diff)
	}
}

func TestListMatchAllExcludesDotDirs(t *testing.T) {
	fake := &tooltest.Fake{Handle: okHandler(lsOutput)}
	got, err := New("root.img", fake).List("/etc/ssh", "*")
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range got {
		if e.Name == "." || e.Name == ".." {
			t.Errorf("listing contains %q", e.Name)
		}
	}
	if len(got) != 4 {
		t.Errorf("got %d entries; want 4", len(got))
	}
	if !got[2].Dir {
		t.Errorf("keydir not recognized as directory")
	}
}

func TestListUnrecognizedTypeIsFatal(t *testing.T) {
	fake := &tooltest.Fake{Handle: okHandler("/20/0120777/0/0/strangelink/11/\n")}
	_, err := New("root.img", fake).List("/etc", "*")
	if !errors.Is(err, ErrUnrecognizedType) {
		t.Fatalf("got %v; want ErrUnrecognizedType", err)
	}
}

func TestSetStatsIssuesOnlyRequestedFields(t *testing.T) {
	fake := &tooltest.Fake{Handle: okHandler("")}
	fs := New("root.img", fake)
	if err := fs.SetStats("/etc/f", Stats{UID: Keep, GID: 0, Mode: 0644}, false); err != nil {
		t.Fatal(err)
	}
	calls := fake.Calls()
	if len(calls) != 1 {
		t.Fatalf("got %d calls; want 1", len(calls))
	}
	want := "sif /etc/f gid 0\nsif /etc/f mode 0100644\n"
	if calls[0].Stdin != want {
		t.Errorf("stdin = %q; want %q", calls[0].Stdin, want)
	}
	if strings.Contains(calls[0].Stdin, "uid") {
		t.Errorf("uid must not be touched: %q", calls[0].Stdin)
	}
}

func TestSetStatsDirectoryTypeBit(t *testing.T) {
	fake := &tooltest.Fake{Handle: okHandler("")}
	if err := New("root.img", fake).SetStats("/etc/d", Stats{UID: Keep, GID: Keep, Mode: 0700}, true); err != nil {
		t.Fatal(err)
	}
	if got, want := fake.Calls()[0].Stdin, "sif /etc/d mode 040700\n"; got != want {
		t.Errorf("stdin = %q; want %q", got, want)
	}
}

func TestSetStatsNothingRequested(t *testing.T) {
	fake := &tooltest.Fake{}
	if err := New("root.img", fake).SetStats("/etc/f", KeepStats, false); err != nil {
		t.Fatal(err)
	}
	if len(fake.Calls()) != 0 {
		t.Errorf("expected no invocations, got %v", fake.Lines())
	}
}

func TestWriteFileBatchOrder(t *testing.T) {
	fake := &tooltest.Fake{Handle: okHandler("")}
	fs := New("root.img", fake)
	if err := fs.WriteFile("/etc/udev/rules.d/90-qemu-sda.rules", []byte("rule"), Stats{UID: 0, GID: 0, Mode: 0644}); err != nil {
		t.Fatal(err)
	}
	calls := fake.Calls()
	if len(calls) != 2 {
		t.Fatalf("got %d calls; want write batch + set stats", len(calls))
	}

	// The injection batch must change directory, remove any previous
	// file, then write the staged file, in that order, within one
	// invocation.
	lines := strings.Split(strings.TrimSuffix(calls[0].Stdin, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("batch = %q; want 3 commands", calls[0].Stdin)
	}
	if lines[0] != "cd /etc/udev/rules.d" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != "rm 90-qemu-sda.rules" {
		t.Errorf("line 1 = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "write ") || !strings.HasSuffix(lines[2], " 90-qemu-sda.rules") {
		t.Errorf("line 2 = %q", lines[2])
	}

	// The staged temp file must not outlive the call.
	staged := strings.Fields(lines[2])[1]
	if _, err := os.Stat(staged); err == nil {
		t.Errorf("staging file %s still exists", staged)
	}
}

func TestWriteFileMissingDirectoryIsFatal(t *testing.T) {
	// debugfs exits zero when cd fails; the write would then land in
	// the wrong directory, so the cd failure line must be fatal.
	fake := &tooltest.Fake{Handle: func(c tooltest.Call) ([]byte, []byte, error) {
		return nil, []byte(banner + "cd: File not found by ext2_lookup while looking up /etc/nonexistent\n"), nil
	}}
	err := New("root.img", fake).WriteFile("/etc/nonexistent/f", []byte("x"), KeepStats)
	if err == nil {
		t.Fatal("a failed cd must fail the write")
	}
	if !strings.Contains(err.Error(), "cd: File not found") {
		t.Errorf("error %v does not name the failed command", err)
	}
}

func TestWriteFileFailedWriteIsFatal(t *testing.T) {
	fake := &tooltest.Fake{Handle: func(c tooltest.Call) ([]byte, []byte, error) {
		return nil, []byte(banner + "rm: File not found by ext2_lookup while looking up f\nwrite: Could not allocate block in ext2 filesystem\n"), nil
	}}
	err := New("root.img", fake).WriteFile("/etc/f", []byte("x"), KeepStats)
	if err == nil {
		t.Fatal("a failed write must be reported")
	}
}

func TestWriteFileToleratesMissingPreviousFile(t *testing.T) {
	// Only the rm may report not-found: the file simply did not exist
	// yet.
	fake := &tooltest.Fake{Handle: func(c tooltest.Call) ([]byte, []byte, error) {
		return nil, []byte(banner + "rm: File not found by ext2_lookup while looking up f\n"), nil
	}}
	if err := New("root.img", fake).WriteFile("/etc/f", []byte("x"), KeepStats); err != nil {
		t.Fatalf("writing a new file must succeed, got %v", err)
	}
}

func TestRemoveDirectoryFailureIsFatal(t *testing.T) {
	fake := &tooltest.Fake{Handle: func(c tooltest.Call) ([]byte, []byte, error) {
		return nil, []byte(banner + "rm: File is a directory while removing /etc/ssh\n"), nil
	}}
	if err := New("root.img", fake).Remove("/etc/ssh"); err == nil {
		t.Fatal("a non-missing rm failure must be reported")
	}
}
