package fetch

import (
	"strconv"
	"unicode/utf16"
)

// ContentHash hashes title, description and headings joined with "|".
// The result matches the hash the browser extension stores, so a page
// indexed by either side is recognised as unchanged by the other.
func ContentHash(title, description, headings string) string {
	return hashString(title + "|" + description + "|" + headings)
}

// hashString is the 31-multiplier rolling hash over UTF-16 code units,
// wrapped to 32 bits and printed in base 36 with its sign.
func hashString(s string) string {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(c)
	}
	return strconv.FormatInt(int64(h), 36)
}
