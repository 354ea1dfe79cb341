package api

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// SecureFilename reduces an uploaded name to a safe base name: ASCII
// letters, digits, '.', '-' and '_' only, whitespace collapsed to '_',
// no directory parts and no leading dots. It can return "".
func SecureFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = norm.NFKD.String(name)

	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		switch {
		case r > unicode.MaxASCII:
			continue
		case unicode.IsSpace(r):
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
			continue
		case r == '.' || r == '-' || r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			continue
		}
		lastUnderscore = r == '_'
	}
	return strings.Trim(b.String(), "._")
}
