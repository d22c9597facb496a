// Package extract pulls plain text out of uploaded documents.
//
// Supported formats, chosen by the extension of the original file name:
//   - .pdf  text layer of every page
//   - .docx paragraphs of word/document.xml
//   - anything else is read as UTF-8 text
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrExtract is returned when a document cannot be read as its format.
var ErrExtract = errors.New("extract: cannot read document")

// Format identifies how a document is parsed.
type Format string

// Supported formats.
const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatText Format = "text"
)

// Detect returns the format for a file name.
func Detect(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return FormatPDF
	case ".docx":
		return FormatDOCX
	default:
		return FormatText
	}
}

// Extract reads the document at path. originalName decides the format
// because uploaded files are stored under generated names.
func Extract(ctx context.Context, path, originalName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var (
		text string
		err  error
	)
	switch format := Detect(originalName); format {
	case FormatPDF:
		text, err = extractPDF(path)
	case FormatDOCX:
		text, err = extractDOCX(path)
	default:
		var data []byte
		data, err = os.ReadFile(path) // #nosec G304 - path is an upload temp file
		text = strings.TrimPrefix(string(data), "\ufeff")
	}
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", originalName, err)
	}
	return text, nil
}
