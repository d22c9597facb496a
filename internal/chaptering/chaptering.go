// Package chaptering splits a document into titled chapters with a
// language model and post-processes the result so every chapter is long
// enough to be a useful audio segment.
package chaptering

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/voicebook/voicebook-api/internal/text"
)

// ErrChaptering is returned when the model gives no parseable chapter list.
var ErrChaptering = errors.New("chaptering: no parseable chapters in response")

// Chapter is one titled section of the document.
type Chapter struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Request carries the reading-time hints sent with the document.
type Request struct {
	MaxMinutes     int
	WordsPerMinute int
}

// Service returns the chapters of a raw document in reading order.
type Service interface {
	Chapters(ctx context.Context, rawText string, req Request) ([]Chapter, error)
}

type chapterList struct {
	Chapters []Chapter `json:"chapters"`
}

// ParseResponse decodes a model answer of the form {"chapters": [...]}.
//
// When the answer is not valid JSON as a whole, the span from the first
// '{' to the last '}' is tried instead, which covers prose or code fences
// around the object.
func ParseResponse(content string) ([]Chapter, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty response", ErrChaptering)
	}

	var list chapterList
	err := json.Unmarshal([]byte(content), &list)
	if err != nil {
		start := strings.IndexByte(content, '{')
		end := strings.LastIndexByte(content, '}')
		if start < 0 || end <= start {
			return nil, fmt.Errorf("%w: %w", ErrChaptering, err)
		}
		list = chapterList{}
		if err := json.Unmarshal([]byte(content[start:end+1]), &list); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrChaptering, err)
		}
	}

	chapters := make([]Chapter, 0, len(list.Chapters))
	for _, ch := range list.Chapters {
		if strings.TrimSpace(ch.Text) == "" {
			continue
		}
		chapters = append(chapters, Chapter{
			Title: strings.TrimSpace(ch.Title),
			Text:  strings.TrimSpace(ch.Text),
		})
	}
	if len(chapters) == 0 {
		return nil, fmt.Errorf("%w: chapter list is empty", ErrChaptering)
	}
	return chapters, nil
}

// MergeShort folds every chapter with fewer than minWords words into the
// chapter accumulated before it. The first chapter always opens the
// result. A merged chapter keeps the earlier title; the absorbed title is
// kept as a line of text between the two bodies. Chapters are never split
// and a short chapter is only ever absorbed by its predecessor.
func MergeShort(chapters []Chapter, minWords int) []Chapter {
	out := make([]Chapter, 0, len(chapters))
	for _, ch := range chapters {
		if len(out) == 0 || text.CountWords(ch.Text) >= minWords {
			out = append(out, ch)
			continue
		}
		last := &out[len(out)-1]
		last.Text = last.Text + "\n\n" + ch.Title + "\n\n" + ch.Text
	}
	return out
}
