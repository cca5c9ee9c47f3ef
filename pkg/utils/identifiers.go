package utils

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// SecureFilename reduces name to a single safe path component: ASCII letters,
// digits, '_', '-' and '.', with runs of whitespace and path separators
// collapsed to '_' and leading/trailing dots and underscores removed. It may
// return "".
func SecureFilename(name string) string {
	name = norm.NFKD.String(name)

	var sb strings.Builder
	pendingSep := false
	for _, r := range name {
		switch {
		case r > unicode.MaxASCII:
			continue
		case unicode.IsSpace(r) || r == '/' || r == '\\':
			pendingSep = sb.Len() > 0
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.':
			if pendingSep {
				sb.WriteByte('_')
				pendingSep = false
			}
			sb.WriteRune(r)
		}
	}
	return strings.Trim(sb.String(), "._")
}
