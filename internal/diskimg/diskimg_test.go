package diskimg

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raspbian-qemu/tools/internal/exttool/tooltest"
)

const testOffset = 4096

// testImage is a synthetic two-partition disk image: a boot area filled
// with 'B' and a root partition filled with 'R'.
func testImage(t *testing.T, rootSize int) (path string, content []byte) {
	t.Helper()
	content = append(bytes.Repeat([]byte{'B'}, testOffset), bytes.Repeat([]byte{'R'}, rootSize)...)
	path = filepath.Join(t.TempDir(), "test.img")
	require.NoError(t, os.WriteFile(path, content, 0600))
	return path, content
}

func partedFake(t *testing.T, image string, size int) *tooltest.Fake {
	t.Helper()
	listing := fmt.Sprintf(`BYT;
%s:%dB:file:512:512:msdos::;
1:512B:%dB:%dB:fat16::lba;
2:%dB:%dB:%dB:ext4::;
`, image, size, testOffset-1, testOffset-512, testOffset, size-1, size-testOffset)
	return &tooltest.Fake{Handle: func(c tooltest.Call) ([]byte, []byte, error) {
		require.Equal(t, "parted", c.Name)
		switch {
		case c.Args[len(c.Args)-1] == "print":
			return []byte(listing), nil, nil
		case len(c.Args) > 4 && c.Args[4] == "resizepart":
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("unexpected parted invocation: %v", c.Args)
	}}
}

func TestOpenRootExtracts(t *testing.T) {
	img, content := testImage(t, 8192)
	fake := partedFake(t, img, len(content))

	root, err := OpenRoot(fake, img, Options{})
	require.NoError(t, err)
	defer root.Close()

	assert.Equal(t, int64(testOffset), root.Offset())
	got, err := os.ReadFile(root.Path())
	require.NoError(t, err)
	assert.Equal(t, content[testOffset:], got)

	size, err := root.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(8192), size)

	require.NoError(t, root.Close())
	_, err = os.Stat(root.Path())
	assert.True(t, os.IsNotExist(err), "extraction must be deleted on Close")
}

func TestOpenRootBadLayout(t *testing.T) {
	img, _ := testImage(t, 8192)
	fake := &tooltest.Fake{Handle: func(c tooltest.Call) ([]byte, []byte, error) {
		return []byte("BYT;\n" + img + ":12288B:file:512:512:msdos::;\n1:512B:12287B:11776B:ext4::;\n"), nil, nil
	}}
	_, err := OpenRoot(fake, img, Options{})
	assert.True(t, errors.Is(err, ErrLayout), "got %v; want ErrLayout", err)
}

func TestCommitInPlace(t *testing.T) {
	img, content := testImage(t, 8192)
	fake := partedFake(t, img, len(content))

	root, err := OpenRoot(fake, img, Options{})
	require.NoError(t, err)
	defer root.Close()

	// Grow the extracted root by one sector of 'G'.
	grown := append(bytes.Repeat([]byte{'R'}, 8192), bytes.Repeat([]byte{'G'}, 512)...)
	require.NoError(t, os.WriteFile(root.Path(), grown, 0600))

	require.NoError(t, root.Commit())

	got, err := os.ReadFile(img)
	require.NoError(t, err)
	assert.Equal(t, append(content[:testOffset:testOffset], grown...), got)

	// Partition 2 must be resized to the image end, in sector units.
	end := (int64(testOffset) + int64(len(grown)))/512 - 1
	lines := fake.Lines()
	assert.Equal(t,
		fmt.Sprintf("parted -sm %s unit s resizepart 2 %ds", img, end),
		lines[len(lines)-1])
}

func TestCommitToDest(t *testing.T) {
	img, content := testImage(t, 8192)
	dest := filepath.Join(t.TempDir(), "other.img")
	fake := partedFake(t, img, len(content))

	root, err := OpenRoot(fake, img, Options{Dest: dest})
	require.NoError(t, err)
	defer root.Close()
	require.NoError(t, root.Commit())

	// Source is untouched.
	got, err := os.ReadFile(img)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Destination is a faithful reassembly, readable only by its owner.
	got, err = os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	st, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0), st.Mode()&0077)

	assert.Contains(t, strings.Join(fake.Lines(), "\n"), "resizepart 2")
}

func TestReadOnlyCommitIsNoop(t *testing.T) {
	img, content := testImage(t, 8192)
	fake := partedFake(t, img, len(content))

	root, err := OpenRoot(fake, img, Options{ReadOnly: true})
	require.NoError(t, err)
	defer root.Close()

	// Even a mutated extraction must not flow back.
	require.NoError(t, os.WriteFile(root.Path(), []byte("scribble"), 0600))
	require.NoError(t, root.Commit())

	got, err := os.ReadFile(img)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	for _, line := range fake.Lines() {
		assert.NotContains(t, line, "resizepart")
	}
}

func TestKeepRoot(t *testing.T) {
	img, content := testImage(t, 8192)
	fake := partedFake(t, img, len(content))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	defer os.Chdir(wd)

	root, err := OpenRoot(fake, img, Options{KeepRoot: true})
	require.NoError(t, err)
	require.NoError(t, root.Close())

	st, err := os.Stat(KeepRootName)
	require.NoError(t, err, "root.img must be retained")
	assert.Equal(t, os.FileMode(0), st.Mode()&0077)
	assert.Equal(t, int64(8192), st.Size())
}
