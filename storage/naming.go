package storage

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	randomSpace     = 1_000_000_000
	maxOriginalLen  = 200
	fallbackName    = "file"
	nameSeparator   = "-"
	maxExtensionLen = 16
)

// Namer derives storage names of the form <unix-millis>-<random>-<original>.
// Uniqueness is probabilistic: two calls in the same millisecond collide only
// if they also draw the same number out of randomSpace. The directory is not
// consulted.
type Namer struct {
	now    func() time.Time
	random func() int64
}

func NewNamer() *Namer {
	return &Namer{
		now:    time.Now,
		random: func() int64 { return rand.Int64N(randomSpace) },
	}
}

// Name returns a fresh storage name for a client-supplied original name.
func (n *Namer) Name(original string) string {
	return fmt.Sprintf("%d%s%d%s%s",
		n.now().UnixMilli(), nameSeparator,
		n.random(), nameSeparator,
		SanitizeName(original))
}

// SanitizeName reduces a client-supplied file name to a single safe path
// segment. Directory components of either separator style are dropped,
// control characters removed, and "." / ".." replaced by a fallback.
func SanitizeName(original string) string {
	name := strings.ReplaceAll(original, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == utf8.RuneError {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)

	if name == "" || name == "." || name == ".." {
		return fallbackName
	}
	return truncateName(name)
}

// truncateName keeps the extension when the name has to be shortened.
func truncateName(name string) string {
	if len(name) <= maxOriginalLen {
		return name
	}
	ext := ""
	if i := strings.LastIndex(name, "."); i > 0 && len(name)-i <= maxExtensionLen {
		ext = name[i:]
	}
	stem := name[:maxOriginalLen-len(ext)]
	for !utf8.ValidString(stem) {
		stem = stem[:len(stem)-1]
	}
	return stem + ext
}
