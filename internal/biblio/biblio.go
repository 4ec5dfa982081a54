// Package biblio holds the bibliographic data model shared by the analysis,
// formatting and classification stages.
package biblio

import (
	"encoding/json"
	"strconv"
	"strings"
)

// DocumentType is the kind of document the analysis believes it is looking at.
type DocumentType string

const (
	Book    DocumentType = "book"
	Chapter DocumentType = "chapter"
	Article DocumentType = "article"
)

// ParseDocumentType maps loose model output onto a DocumentType.
// Unknown values return the empty type, which formats like a book.
func ParseDocumentType(s string) DocumentType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "book", "monograph", "textbook":
		return Book
	case "chapter", "book chapter", "book_chapter", "section":
		return Chapter
	case "article", "journal article", "journal_article", "paper", "journal":
		return Article
	}
	return ""
}

// StructuralType names front/back matter recognised from a filename.
type StructuralType string

const (
	TableOfContents StructuralType = "TableOfContents"
	Index           StructuralType = "Index"
	Glossary        StructuralType = "Glossary"
	FrontMatter     StructuralType = "FrontMatter"
	BackMatter      StructuralType = "BackMatter"
	Preface         StructuralType = "Preface"
	Figures         StructuralType = "Figures"
	Tables          StructuralType = "Tables"
	Appendix        StructuralType = "Appendix"
	Bibliography    StructuralType = "Bibliography"
)

// TypeInfo is derived once from the filename, never from content.
// At most one of IsStructural and IsChapter is true.
type TypeInfo struct {
	IsStructural   bool
	StructuralType StructuralType
	IsChapter      bool
	Enumeration    string
}

// Extracted is the untrusted metadata returned by a model.
type Extracted struct {
	Title        string       `json:"title,omitempty"`
	Authors      []string     `json:"authors,omitempty"`
	Year         string       `json:"year,omitempty"`
	DocumentType DocumentType `json:"documentType,omitempty"`
	Journal      string       `json:"journal,omitempty"`
	Volume       string       `json:"volume,omitempty"`
	FileType     string       `json:"fileType,omitempty"`
	Confidence   float64      `json:"confidence"`
	Reasoning    string       `json:"reasoning,omitempty"`
}

// UnmarshalJSON accepts the shapes models actually produce: authors as a
// single string, numeric years and volumes, confidence as a string.
func (e *Extracted) UnmarshalJSON(data []byte) error {
	var raw struct {
		Title        any `json:"title"`
		Authors      any `json:"authors"`
		Author       any `json:"author"`
		Year         any `json:"year"`
		DocumentType any `json:"documentType"`
		DocType      any `json:"document_type"`
		Journal      any `json:"journal"`
		Volume       any `json:"volume"`
		FileType     any `json:"fileType"`
		Confidence   any `json:"confidence"`
		Reasoning    any `json:"reasoning"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	authors := raw.Authors
	if authors == nil {
		authors = raw.Author
	}
	docType := raw.DocumentType
	if docType == nil {
		docType = raw.DocType
	}
	*e = Extracted{
		Title:        asString(raw.Title),
		Authors:      asStrings(authors),
		Year:         asString(raw.Year),
		DocumentType: ParseDocumentType(asString(docType)),
		Journal:      asString(raw.Journal),
		Volume:       asString(raw.Volume),
		FileType:     asString(raw.FileType),
		Confidence:   asFloat(raw.Confidence),
		Reasoning:    asString(raw.Reasoning),
	}
	return nil
}

// Validated is extracted metadata after self-correction and the merge with
// the folder archetype. It is the only input the formatter accepts.
type Validated struct {
	Title        string       `json:"title,omitempty"`
	Authors      []string     `json:"authors,omitempty"`
	Year         string       `json:"year,omitempty"`
	DocumentType DocumentType `json:"documentType,omitempty"`
	Journal      string       `json:"journal,omitempty"`
	Volume       string       `json:"volume,omitempty"`
	FileType     string       `json:"fileType,omitempty"`
	Confidence   float64      `json:"confidence"`
	Reasoning    string       `json:"reasoning,omitempty"`
}

// Validate applies the self-correction rule and fills missing fields from
// the archetype. A title that is a case-insensitive substring of the
// archetype title carries no information and is dropped before the merge.
func Validate(ex Extracted, arch Archetype) Validated {
	title := cleanValue(ex.Title)
	if title != "" && arch.Title != "" &&
		strings.Contains(strings.ToLower(arch.Title), strings.ToLower(title)) {
		title = ""
	}

	var authors []string
	for _, a := range ex.Authors {
		if a = cleanValue(a); a != "" {
			authors = append(authors, a)
		}
	}

	v := Validated{
		Title:        title,
		Authors:      authors,
		Year:         cleanValue(ex.Year),
		DocumentType: ex.DocumentType,
		Journal:      cleanValue(ex.Journal),
		Volume:       cleanValue(ex.Volume),
		FileType:     cleanValue(ex.FileType),
		Confidence:   ex.Confidence,
		Reasoning:    strings.TrimSpace(ex.Reasoning),
	}
	if v.Title == "" {
		v.Title = arch.Title
	}
	if len(v.Authors) == 0 && len(arch.Authors) > 0 {
		v.Authors = append([]string(nil), arch.Authors...)
	}
	if v.Year == "" {
		v.Year = arch.Year
	}
	return v
}

// cleanValue trims a field and discards the placeholder strings models use
// when they have nothing to say.
func cleanValue(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "unknown", "n/a", "na", "none", "null", "not available", "-":
		return ""
	}
	return s
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return ""
	case []any:
		return strings.Join(asStrings(t), ", ")
	}
	return ""
}

func asStrings(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		var out []string
		for _, part := range strings.Split(t, ";") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	case []any:
		var out []string
		for _, item := range t {
			if s := asString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}
