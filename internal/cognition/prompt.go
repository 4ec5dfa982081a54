package cognition

import (
	"fmt"
	"strings"

	"github.com/TobiSchelling/biblionamer/internal/biblio"
)

const analysisPrompt = `You are a meticulous research librarian. Extract the bibliographic metadata of the document below.

File name: %s
Containing folder: %s
%s%s
Rules:
- Use the title exactly as printed on the title page, including any subtitle.
- List every author in printed order as "First Last". Do not invent authors.
- The year is the four-digit publication year. Leave it empty if you cannot find it.
- documentType is "book", "chapter" or "article".
- For articles, give the journal name and volume when printed.
- fileType names a structural part (e.g. "Index", "Preface") only when the file is one.
- confidence is your trust in the result from 0.0 to 1.0.
%s
Document excerpt:
"""
%s
"""

Respond with ONLY this JSON:
{
    "title": "...",
    "authors": ["First Last"],
    "year": "YYYY",
    "documentType": "book" | "chapter" | "article",
    "journal": "",
    "volume": "",
    "fileType": "",
    "confidence": 0.0,
    "reasoning": "one sentence"
}`

// Input is everything the prompt is built from for one file.
type Input struct {
	FileName  string
	Text      string
	Archetype biblio.Archetype
	Type      biblio.TypeInfo
	Hints     []string
}

// Excerpt collapses whitespace and cuts text to at most limit characters.
func Excerpt(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

// BuildPrompt renders the analysis prompt.
func BuildPrompt(in Input, excerptChars int) string {
	var archetype string
	if !in.Archetype.IsZero() {
		var parts []string
		if in.Archetype.Title != "" {
			parts = append(parts, fmt.Sprintf("title %q", in.Archetype.Title))
		}
		if len(in.Archetype.Authors) > 0 {
			parts = append(parts, "authors "+strings.Join(in.Archetype.Authors, ", "))
		}
		if in.Archetype.Year != "" {
			parts = append(parts, "year "+in.Archetype.Year)
		}
		archetype = "The folder describes a work with " + strings.Join(parts, ", ") +
			". If this file is part of that work, do not repeat the work title as the file title.\n"
	}

	var kind string
	switch {
	case in.Type.IsStructural:
		kind = fmt.Sprintf("The file name suggests this is the %s of a larger work.\n", in.Type.StructuralType)
	case in.Type.IsChapter:
		kind = fmt.Sprintf("The file name suggests this is chapter or section %s.\n", in.Type.Enumeration)
	}

	var hints string
	if len(in.Hints) > 0 {
		hints = "\nLessons from earlier runs:\n"
		for _, h := range in.Hints {
			hints += "- " + h + "\n"
		}
	}

	folder := in.Archetype.Folder
	if folder == "" {
		folder = "(none)"
	}
	return fmt.Sprintf(analysisPrompt, in.FileName, folder, archetype, kind, hints, Excerpt(in.Text, excerptChars))
}
