package serializer

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// TruncationMarker is appended to strings shortened by Truncate.
const TruncationMarker = "..."

// Truncate shortens s to at most n bytes of valid UTF-8, cutting on a code
// point boundary and ending in TruncationMarker when room allows. Invalid
// byte sequences are replaced first. n <= 0 disables the limit.
func Truncate(s string, n int) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, string(utf8.RuneError))
	}
	if n <= 0 || len(s) <= n {
		return s
	}
	marker := TruncationMarker
	limit := n - len(marker)
	if limit <= 0 {
		limit, marker = n, ""
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + marker
}

func bytesToString(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return fmt.Sprintf("Binary data of length %d", len(b))
}
