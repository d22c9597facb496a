package extract

import (
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// TextInputName is the record name of documents submitted as raw text.
const TextInputName = "text-input.txt"

const fallbackName = "uploaded"

var (
	percentEscape = regexp.MustCompile(`%[0-9A-Fa-f]{2}`)
	// UTF-8 decoded as Latin-1 shows up as these lead characters.
	mojibake = regexp.MustCompile(`[ÃÐÑÂ][^a-z]`)
)

// NormalizeFilename repairs an uploaded file name: percent-encoded names
// are decoded, UTF-8 names that arrived as Latin-1 are re-decoded and any
// directory part is dropped. An empty name becomes "uploaded".
func NormalizeFilename(name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return fallbackName
	}

	if percentEscape.MatchString(n) {
		if decoded, err := url.PathUnescape(n); err == nil {
			n = decoded
		}
	}

	if mojibake.MatchString(n) {
		if fixed, ok := fromLatin1(n); ok {
			n = fixed
		}
	}

	n = filepath.Base(strings.ReplaceAll(n, `\`, "/"))
	if n == "." || n == ".." || n == "/" || n == "" {
		return fallbackName
	}
	return n
}

// fromLatin1 reinterprets every rune of s as one byte and returns the
// result when it is valid UTF-8.
func fromLatin1(s string) (string, bool) {
	b := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return "", false
		}
		b = append(b, byte(r))
	}
	if !utf8.Valid(b) {
		return "", false
	}
	return string(b), true
}
