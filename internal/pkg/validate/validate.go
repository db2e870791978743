package validate

import (
	"strings"
	"unicode/utf8"
)

func Required(value string) bool {
	return strings.TrimSpace(value) != ""
}

// MinLen checks the trimmed length of a user-facing reason string.
// Length counts runes: a ten-character Korean reason is ten characters,
// not thirty bytes.
func MinLen(value string, min int) bool {
	return utf8.RuneCountInString(strings.TrimSpace(value)) >= min
}
