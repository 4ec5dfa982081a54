package naming

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// transliteration covers letters that do not decompose into ASCII plus
// typographic punctuation. Everything else is folded by stripping marks.
var transliteration = strings.NewReplacer(
	"ß", "ss", "ẞ", "SS",
	"æ", "ae", "Æ", "Ae",
	"œ", "oe", "Œ", "Oe",
	"ø", "o", "Ø", "O",
	"đ", "d", "Đ", "D",
	"ð", "d", "Ð", "D",
	"ł", "l", "Ł", "L",
	"þ", "th", "Þ", "Th",
	"ı", "i",
	"’", "'", "‘", "'", "ʼ", "'", "´", "'",
	"“", "\"", "”", "\"", "„", "\"", "«", "\"", "»", "\"",
	"–", "-", "—", "-", "‐", "-", "‑", "-",
	"…", "...",
	" ", " ",
)

// unsafeChars are removed outright; the remaining punctuation is handled per field.
var unsafeChars = strings.NewReplacer(
	"\\", "", "/", "", "&", "", "'", "", "\"", "", "`", "",
	"<", "", ">", "", "*", "", "|", "",
)

var (
	possessive       = regexp.MustCompile(`([A-Za-z0-9])'s\b`)
	titlePunctuation = regexp.MustCompile(`[,.;:!?]+`)
	nameSeparators   = regexp.MustCompile(`[,.\s]+`)
	titleResidue     = regexp.MustCompile(`[^A-Za-z0-9\s-]+`)
	nameResidue      = regexp.MustCompile(`[^A-Za-z0-9-]+`)
	hyphenSpacing    = regexp.MustCompile(`\s*-\s*`)
	hyphenRuns       = regexp.MustCompile(`-{2,}`)
)

// toASCII maps accented and special characters onto ASCII and drops
// whatever still falls outside it.
func toASCII(s string) string {
	s = transliteration.Replace(s)
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(fold, s); err == nil {
		s = folded
	}
	return strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, s)
}

// NormalizeTitle turns free text into hyphen-delimited PascalCase segments:
// "The Righteous Mind: Why Good People..." -> "TheRighteousMind-WhyGoodPeople".
func NormalizeTitle(s string) string {
	s = toASCII(s)
	s = possessive.ReplaceAllString(s, "${1}s")
	s = unsafeChars.Replace(s)
	s = titlePunctuation.ReplaceAllString(s, "-")
	s = titleResidue.ReplaceAllString(s, " ")
	s = hyphenSpacing.ReplaceAllString(s, "-")

	caser := cases.Title(language.Und)
	var segments []string
	for _, chunk := range strings.Split(s, "-") {
		var b strings.Builder
		for _, word := range strings.Fields(chunk) {
			b.WriteString(caser.String(word))
		}
		if b.Len() > 0 {
			segments = append(segments, b.String())
		}
	}
	return strings.Join(segments, "-")
}

// NormalizeName formats a person, journal or type token. Existing
// capitalisation inside a word is kept ("McDonald"); only the first letter
// of each word is raised and the separators disappear.
func NormalizeName(s string) string {
	s = toASCII(s)
	s = unsafeChars.Replace(s)
	s = nameSeparators.ReplaceAllString(s, "-")
	s = nameResidue.ReplaceAllString(s, "")

	var b strings.Builder
	for _, word := range strings.Split(s, "-") {
		if word == "" {
			continue
		}
		b.WriteString(strings.ToUpper(word[:1]))
		b.WriteString(word[1:])
	}
	return b.String()
}

// normalizeToken keeps letters and digits, joining the rest with hyphens.
// Used for volumes and enumerations where case and spacing carry no meaning.
func normalizeToken(s string) string {
	s = toASCII(s)
	s = nameResidue.ReplaceAllString(strings.ReplaceAll(s, " ", "-"), "-")
	s = hyphenRuns.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// FormatAuthors renders the author block: nothing, one name, or the first
// name followed by EtAl. The full list is never written.
func FormatAuthors(authors []string) string {
	var names []string
	for _, a := range authors {
		if n := NormalizeName(a); n != "" {
			names = append(names, n)
		}
	}
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	}
	return names[0] + "-EtAl"
}
