package text

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	letterRun  = regexp.MustCompile(`\p{L}+`)
	nonSlugRun = regexp.MustCompile(`[^\p{L}\p{N}]+`)
)

const maxSlugRunes = 80

// CountWords returns the number of letter sequences in s.
// Digits and punctuation do not count as words.
func CountWords(s string) int {
	return len(letterRun.FindAllStringIndex(s, -1))
}

// Slug lowercases s and replaces every run of non letter/digit characters
// with a single dash. The result has no leading or trailing dash and is at
// most 80 runes long.
func Slug(s string) string {
	slug := nonSlugRun.ReplaceAllString(strings.ToLower(s), "-")
	slug = strings.Trim(slug, "-")
	if r := []rune(slug); len(r) > maxSlugRunes {
		slug = strings.TrimRight(string(r[:maxSlugRunes]), "-")
	}
	return slug
}

// ChapterFileName builds the audio file name for the chapter at the given
// 1-based index, e.g. "03-the-long-road.wav".
func ChapterFileName(index int, title string) string {
	slug := Slug(title)
	if slug == "" {
		slug = "chapter"
	}
	return fmt.Sprintf("%02d-%s.wav", index, slug)
}
