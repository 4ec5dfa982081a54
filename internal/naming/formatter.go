// Package naming turns validated bibliographic metadata into canonical,
// length-bounded filenames. Everything here is pure; no I/O.
package naming

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/TobiSchelling/biblionamer/internal/biblio"
)

const (
	DefaultMaxLength = 150
	DefaultExtension = ".pdf"

	// minTitleBudget keeps a recognisable title stem when the fixed fields
	// alone nearly exhaust the budget; the hard cut handles the remainder.
	minTitleBudget = 8
)

// ErrIncomplete is returned when mandatory metadata is missing or malformed.
// Callers treat it as "nothing to rename", not as a failure.
var ErrIncomplete = errors.New("incomplete metadata")

var fourDigitYear = regexp.MustCompile(`^\d{4}$`)

// Formatter assembles filenames under a total length cap.
type Formatter struct {
	MaxLength int
	Extension string
}

// NewFormatter returns a Formatter with defaults applied for zero values.
func NewFormatter(maxLength int, extension string) *Formatter {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	if extension == "" {
		extension = DefaultExtension
	}
	return &Formatter{MaxLength: maxLength, Extension: extension}
}

// Format returns the base filename (without extension) for data, or an
// error wrapping ErrIncomplete. The full name including the extension never
// exceeds MaxLength.
func (f *Formatter) Format(data biblio.Validated, info biblio.TypeInfo) (string, error) {
	title := NormalizeTitle(data.Title)
	authors := FormatAuthors(data.Authors)
	year := strings.TrimSpace(data.Year)

	if data.DocumentType == biblio.Article {
		switch {
		case title == "":
			return "", fmt.Errorf("%w: article without title", ErrIncomplete)
		case authors == "":
			return "", fmt.Errorf("%w: article without authors", ErrIncomplete)
		case !fourDigitYear.MatchString(year):
			return "", fmt.Errorf("%w: article year %q", ErrIncomplete, year)
		}
		fixed := []string{authors, year}
		if j := NormalizeName(data.Journal); j != "" {
			fixed = append(fixed, "J-"+j)
		}
		if v := normalizeToken(data.Volume); v != "" {
			fixed = append(fixed, "V"+v)
		}
		return f.assemble("", title, fixed), nil
	}

	if title == "" && !info.IsStructural {
		return "", fmt.Errorf("%w: no title", ErrIncomplete)
	}
	if year != "" && !fourDigitYear.MatchString(year) {
		return "", fmt.Errorf("%w: year %q", ErrIncomplete, year)
	}

	fileType := NormalizeName(data.FileType)
	if info.IsStructural {
		label := string(info.StructuralType)
		if title == "" {
			title = label
		} else if fileType == "" {
			fileType = label
		}
	}
	if strings.EqualFold(fileType, title) {
		fileType = ""
	}

	var fixed []string
	for _, part := range []string{authors, year, fileType} {
		if part != "" {
			fixed = append(fixed, part)
		}
	}

	prefix := ""
	if info.IsChapter && info.Enumeration != "" {
		prefix = formatEnumeration(info.Enumeration)
	}
	return f.assemble(prefix, title, fixed), nil
}

// assemble spends the budget on the fixed fields first and gives the title
// whatever remains. Only the title is ever shortened.
func (f *Formatter) assemble(prefix, title string, fixed []string) string {
	limit := f.MaxLength - len(f.Extension)

	cost := 0
	if prefix != "" {
		cost += len(prefix) + 1
	}
	for _, part := range fixed {
		cost += len(part) + 1
	}

	budget := limit - cost
	if budget < minTitleBudget {
		budget = minTitleBudget
	}
	title = truncate(title, budget)

	parts := make([]string, 0, len(fixed)+2)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, title)
	parts = append(parts, fixed...)
	name := strings.Join(parts, "_")

	if len(name) > limit {
		name = truncate(name, limit)
	}
	return name
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	return strings.TrimRight(s[:n], "-_.")
}

// formatEnumeration zero-pads the integer part: "3" -> "03", "3.2" -> "03.2".
func formatEnumeration(e string) string {
	e = normalizeToken(strings.ReplaceAll(e, ".", "-"))
	if e == "" {
		return ""
	}
	head, rest, found := strings.Cut(e, "-")
	if len(head) == 1 {
		head = "0" + head
	}
	if found {
		return head + "." + rest
	}
	return head
}
