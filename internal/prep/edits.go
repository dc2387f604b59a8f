package prep

import (
	"bytes"
)

// commentOut disables every active line by prefixing it with '#'.
// Already-commented and empty lines pass through, so applying it twice
// yields the same output as applying it once.
func commentOut(content []byte) []byte {
	lines := bytes.Split(content, []byte("\n"))
	for i, line := range lines {
		if len(line) > 0 && line[0] != '#' {
			lines[i] = append([]byte("#"), line...)
		}
	}
	return bytes.Join(lines, []byte("\n"))
}

// uncomment strips one leading run of '#' per line, undoing commentOut
// byte-for-byte on content whose lines were active to begin with.
func uncomment(content []byte) []byte {
	lines := bytes.Split(content, []byte("\n"))
	for i, line := range lines {
		lines[i] = bytes.TrimLeft(line, "#")
	}
	return bytes.Join(lines, []byte("\n"))
}

// stripKeygenLines removes every line invoking ssh-keygen, leaving all
// other lines (comments included) intact and in order. This disables
// host key regeneration without breaking the rest of the init script.
func stripKeygenLines(content []byte) []byte {
	lines := bytes.Split(content, []byte("\n"))
	kept := lines[:0]
	for _, line := range lines {
		if bytes.Contains(line, []byte("ssh-keygen")) {
			continue
		}
		kept = append(kept, line)
	}
	return bytes.Join(kept, []byte("\n"))
}

// appendAuthorizedKey appends key to the authorized-keys content unless
// its exact bytes are already present. This is de-duplication, not a
// merge: a key differing in a single byte is simply appended.
func appendAuthorizedKey(current, key []byte) []byte {
	if bytes.Contains(current, key) {
		return current
	}
	return append(append([]byte(nil), current...), key...)
}
