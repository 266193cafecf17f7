package normalize

import (
	"strings"
	"unicode/utf8"
)

// Field trims a raw tabular field and drops a leading UTF-8 byte order mark,
// which spreadsheet exports put in front of the first header cell.
func Field(s string) string {
	return strings.TrimSpace(strings.TrimPrefix(s, "\ufeff"))
}

// StreetFromLine pulls the street name out of a free-text location line such
// as "CL MAYOR 12 Es:1 Pl:00 Pt:01 28001 MADRID (MADRID)". The first token is
// the street type abbreviation; the second and third are kept. Lines with
// fewer than three tokens yield "".
func StreetFromLine(line string) string {
	parts := strings.Fields(line)
	if len(parts) < 3 {
		return ""
	}
	return parts[1] + " " + parts[2]
}

// SafeRune reports whether r may appear in recovered text: tab, LF, CR, and
// the printable ranges U+0020..U+D7FF and U+E000..U+FFFD, minus C1 controls.
func SafeRune(r rune) bool {
	switch {
	case r == '\t', r == '\n', r == '\r':
		return true
	case r >= 0x7F && r <= 0x9F:
		return false
	case r >= 0x20 && r <= 0xD7FF:
		return true
	case r >= 0xE000 && r <= 0xFFFD:
		return true
	}
	return false
}

// SafeText replaces every unsafe rune with a single space. A run of
// consecutive invalid UTF-8 bytes counts as one sequence and becomes one
// space. The second result is the number of replacements made.
func SafeText(b []byte) ([]byte, int) {
	out := make([]byte, 0, len(b))
	replaced := 0
	inInvalid := false

	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size <= 1 {
			if !inInvalid {
				out = append(out, ' ')
				replaced++
				inInvalid = true
			}
			b = b[1:]
			continue
		}
		inInvalid = false
		if SafeRune(r) {
			out = append(out, b[:size]...)
		} else {
			out = append(out, ' ')
			replaced++
		}
		b = b[size:]
	}
	return out, replaced
}
