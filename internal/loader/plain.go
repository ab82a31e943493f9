package loader

import (
	"strings"
	"unicode/utf8"
)

// plainText returns content as a string with invalid UTF-8 replaced by U+FFFD.
func plainText(content []byte) string {
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "\ufffd")
	}
	return string(content)
}
