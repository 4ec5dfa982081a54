package biblio

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

// Archetype is the fallback metadata implied by a containing folder's name.
type Archetype struct {
	Folder  string
	Title   string
	Authors []string
	Year    string
}

// IsZero reports whether the folder name carried no usable metadata.
func (a Archetype) IsZero() bool {
	return a.Title == "" && len(a.Authors) == 0 && a.Year == ""
}

var (
	yearPattern       = regexp.MustCompile(`^\d{4}$`)
	titleYearPattern  = regexp.MustCompile(`^(.+?)\s*[\(\[](\d{4})[\)\]]$`)
	archetypeSplitter = regexp.MustCompile(`[_]+`)
)

// DeriveArchetype inspects the folder containing path. Only two shapes are
// trusted: the canonical "Title_Authors_Year" and "Title (Year)". Any other
// folder name yields an archetype with only Folder set.
func DeriveArchetype(path string) Archetype {
	folder := filepath.Base(filepath.Dir(path))
	arch := Archetype{Folder: folder}
	if folder == "." || folder == string(filepath.Separator) {
		arch.Folder = ""
		return arch
	}

	if m := titleYearPattern.FindStringSubmatch(folder); m != nil {
		arch.Title = humanize(m[1])
		arch.Year = m[2]
		return arch
	}

	parts := archetypeSplitter.Split(strings.TrimSpace(folder), -1)
	if len(parts) < 3 || !yearPattern.MatchString(parts[len(parts)-1]) {
		return arch
	}
	arch.Title = humanize(parts[0])
	for _, a := range parts[1 : len(parts)-1] {
		a = strings.TrimSuffix(a, "-EtAl")
		if h := humanize(a); h != "" {
			arch.Authors = append(arch.Authors, h)
		}
	}
	arch.Year = parts[len(parts)-1]
	return arch
}

// humanize turns "TheRighteousMind-WhyGoodPeople" back into words.
func humanize(s string) string {
	var b strings.Builder
	var prev rune
	for i, r := range s {
		switch {
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(' ')
		case i > 0 && unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)):
			b.WriteRune(' ')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
		prev = r
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
