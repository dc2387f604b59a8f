// Package humanize converts between byte counts and the short
// human-readable size notation used on the command line (e.g. 500M).
package humanize

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseBytes parses a size string into bytes. The string is either a
// plain decimal byte count or a decimal number followed by one of the
// (case-insensitive) suffixes K, M or G, meaning multiples of 1024.
func ParseBytes(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	var multiplier int64 = 1
	switch strings.ToUpper(s[len(s)-1:]) {
	case "K":
		multiplier = 1024
	case "M":
		multiplier = 1024 * 1024
	case "G":
		multiplier = 1024 * 1024 * 1024
	}
	digits := s
	if multiplier > 1 {
		digits = s[:len(s)-1]
	} else if last := s[len(s)-1]; last < '0' || last > '9' {
		return 0, fmt.Errorf("invalid size unit %q (expected K, M or G)", string(last))
	}

	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %v", s, err)
	}
	return n * multiplier, nil
}

// Bytes formats a byte count with a binary suffix, e.g. 1.5 GiB.
func Bytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
