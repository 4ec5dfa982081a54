// Package extract reads the leading pages of a document as plain text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrTooShort means the document yielded less text than the minimum.
var ErrTooShort = errors.New("extracted text too short")

// DefaultMinChars is the minimum useful amount of text.
const DefaultMinChars = 100

// Extractor returns the text of at most maxPages leading pages.
type Extractor interface {
	Extract(ctx context.Context, path string, maxPages int) (string, error)
}

// PDFExtractor extracts text with a pure-Go PDF reader.
type PDFExtractor struct {
	MinChars int
}

// NewPDFExtractor returns an extractor rejecting text under minChars.
func NewPDFExtractor(minChars int) *PDFExtractor {
	if minChars <= 0 {
		minChars = DefaultMinChars
	}
	return &PDFExtractor{MinChars: minChars}
}

// Extract implements Extractor. Malformed files can make the parser panic;
// that is reported as an ordinary error.
func (e *PDFExtractor) Extract(ctx context.Context, path string, maxPages int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("reading %s: parser panic: %v", path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	pages := r.NumPage()
	if maxPages > 0 && maxPages < pages {
		pages = maxPages
	}

	var b strings.Builder
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("reading page %d of %s: %w", i, path, err)
		}
		b.WriteString(content)
		b.WriteString("\n")
	}

	return Check(b.String(), e.MinChars)
}

// Check trims text and rejects it when shorter than minChars.
func Check(text string, minChars int) (string, error) {
	text = strings.TrimSpace(text)
	if len([]rune(text)) < minChars {
		return "", fmt.Errorf("%w: %d characters", ErrTooShort, len([]rune(text)))
	}
	return text, nil
}

// PagesFor returns the page budget for a file: structural files get the
// smaller budget.
func PagesFor(structural bool, maxPages, structuralPages int) int {
	if structural && structuralPages > 0 {
		return structuralPages
	}
	return maxPages
}
