// Package sanitize cleans free-text form fields before they are sent.
//
// Text pasted from EHR exports and word processors often carries CRLF line
// endings and zero-width characters that the extraction service stores verbatim.
package sanitize

import (
	"regexp"
	"strings"
)

var invisibleChars = strings.NewReplacer(
	"\u200B", "", // Zero-width space
	"\u200C", "", // Zero-width non-joiner
	"\u200D", "", // Zero-width joiner
	"\uFEFF", "", // Zero-width no-break space (BOM)
	"\u00AD", "", // Soft hyphen
	"\u2060", "", // Word joiner
	"\u180E", "", // Mongolian vowel separator
)

var (
	spaceRun   = regexp.MustCompile(`[ \t]+`)
	newlineRun = regexp.MustCompile(`\n{3,}`)
)

// Field cleans a single-line value such as an identifier. Invisible
// characters are removed, whitespace runs collapse to one space and the
// result is trimmed.
func Field(s string) string {
	if s == "" {
		return s
	}
	s = invisibleChars.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// Text cleans a multi-line note. Line endings become LF, invisible characters
// are removed and blank lines are limited to one in a row.
func Text(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = invisibleChars.Replace(s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
	}
	s = newlineRun.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(s)
}
