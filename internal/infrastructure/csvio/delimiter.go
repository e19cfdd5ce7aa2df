package csvio

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"kgload/internal/domain/kgload"
)

// ParseDelimiter accepts a single character or one of the names "tab",
// "comma", "pipe" and "semicolon". The escape `\t` is also understood.
func ParseDelimiter(s string) (rune, error) {
	switch strings.ToLower(s) {
	case "", "comma":
		return ',', nil
	case "tab", `\t`:
		return '\t', nil
	case "pipe":
		return '|', nil
	case "semicolon":
		return ';', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if size != len(s) || r == utf8.RuneError || r == '"' || r == '\r' || r == '\n' {
		return 0, fmt.Errorf("%w: delimiter %q must be a single character", kgload.ErrInvalidConfig, s)
	}
	return r, nil
}
