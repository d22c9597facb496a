// Package text provides the text utilities used by the audiobook pipeline:
// splitting chapter text into speech-sized chunks, counting words and
// deriving filesystem-safe chapter file names.
package text

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrInvalidArgument is returned when Segment is called with a non-positive limit.
var ErrInvalidArgument = errors.New("text: invalid argument")

var (
	trailingBlanks = regexp.MustCompile(`[ \t]+\n`)
	extraNewlines  = regexp.MustCompile(`\n{3,}`)
	paragraphBreak = regexp.MustCompile(`\n{2,}`)
)

// Normalize unifies line endings, strips trailing blanks on each line,
// collapses runs of blank lines to a single blank line and trims the result.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = trailingBlanks.ReplaceAllString(s, "\n")
	s = extraNewlines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Segment splits s into chunks of at most maxChars characters (runes).
//
// Paragraphs (blank-line separated) are packed greedily. A paragraph that
// does not fit on its own is split at sentence ends, and a sentence that
// still does not fit is cut every maxChars characters regardless of word
// boundaries. Only whitespace is lost in the process.
//
// Text that already fits is returned as a single chunk, which is the empty
// string for empty input.
func Segment(s string, maxChars int) ([]string, error) {
	if maxChars <= 0 {
		return nil, fmt.Errorf("%w: maxChars must be positive, got %d", ErrInvalidArgument, maxChars)
	}

	clean := Normalize(s)
	if runeLen(clean) <= maxChars {
		return []string{clean}, nil
	}

	seg := &segmenter{max: maxChars}
	acc := ""
	for _, p := range paragraphBreak.Split(clean, -1) {
		candidate := p
		if acc != "" {
			candidate = acc + "\n\n" + p
		}
		if runeLen(candidate) <= maxChars {
			acc = candidate
			continue
		}
		seg.flush(acc)
		acc = p
	}
	seg.flush(acc)

	return seg.chunks, nil
}

type segmenter struct {
	max    int
	chunks []string
}

func (s *segmenter) push(chunk string) {
	if chunk = strings.TrimSpace(chunk); chunk != "" {
		s.chunks = append(s.chunks, chunk)
	}
}

// flush emits buf, splitting it by sentences when it is over the limit.
func (s *segmenter) flush(buf string) {
	if buf == "" {
		return
	}
	if runeLen(buf) <= s.max {
		s.push(buf)
		return
	}

	cur := ""
	for _, sentence := range splitSentences(buf) {
		candidate := sentence
		if cur != "" {
			candidate = cur + " " + sentence
		}
		if runeLen(candidate) <= s.max {
			cur = candidate
			continue
		}
		s.push(cur)
		cur = ""
		if runeLen(sentence) <= s.max {
			cur = sentence
			continue
		}
		for _, piece := range hardCut(sentence, s.max) {
			s.push(piece)
		}
	}
	s.push(cur)
}

// splitSentences cuts s after '.', '!', '?' or '…' when followed by whitespace.
// The whitespace run between sentences is dropped.
func splitSentences(s string) []string {
	var out []string
	runes := []rune(s)
	start := 0
	for i := 0; i < len(runes)-1; i++ {
		if !isSentenceEnd(runes[i]) || !unicode.IsSpace(runes[i+1]) {
			continue
		}
		out = append(out, string(runes[start:i+1]))
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		start = j
		i = j - 1
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '…'
}

// hardCut splits s every n runes.
func hardCut(s string, n int) []string {
	runes := []rune(s)
	out := make([]string, 0, len(runes)/n+1)
	for i := 0; i < len(runes); i += n {
		end := min(i+n, len(runes))
		out = append(out, string(runes[i:end]))
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
