// Package scan discovers candidate documents under a root directory and
// derives their structural type from the filename alone.
package scan

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/TobiSchelling/biblionamer/internal/biblio"
)

// KeyMode selects how journal keys are derived from paths.
type KeyMode string

const (
	// KeyRelative records the path relative to the scan root.
	KeyRelative KeyMode = "relative"
	// KeyBasename records only the file name; same-named files in
	// different folders share history.
	KeyBasename KeyMode = "basename"
)

// FileEntity is the immutable view of one discovered file for one pass.
type FileEntity struct {
	Path string
	Name string
	Dir  string
	Key  string
	Type biblio.TypeInfo
}

// Scanner walks a directory tree.
type Scanner struct {
	Root      string
	Extension string
	KeyMode   KeyMode
}

// New returns a Scanner for root matching extension (".pdf" by default).
func New(root, extension string, mode KeyMode) *Scanner {
	if extension == "" {
		extension = ".pdf"
	}
	if mode == "" {
		mode = KeyRelative
	}
	return &Scanner{Root: root, Extension: extension, KeyMode: mode}
}

// Scan returns every matching file, sorted by path for stable output.
// Hidden directories are not descended into.
func (s *Scanner) Scan() ([]FileEntity, error) {
	root, err := filepath.Abs(s.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}

	var entities []FileEntity
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !strings.EqualFold(filepath.Ext(d.Name()), s.Extension) {
			return nil
		}
		entity, err := s.entity(root, path)
		if err != nil {
			return err
		}
		entities = append(entities, entity)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}

	sort.Slice(entities, func(i, j int) bool { return entities[i].Path < entities[j].Path })
	return entities, nil
}

func (s *Scanner) entity(root, path string) (FileEntity, error) {
	name := filepath.Base(path)
	key := name
	if s.KeyMode == KeyRelative {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return FileEntity{}, fmt.Errorf("relative path for %s: %w", path, err)
		}
		key = filepath.ToSlash(rel)
	}
	return FileEntity{
		Path: path,
		Name: name,
		Dir:  filepath.Dir(path),
		Key:  key,
		Type: DetectType(name),
	}, nil
}

const sep = `[\s._-]*`

var structuralVocabulary = []struct {
	kind    biblio.StructuralType
	pattern *regexp.Regexp
}{
	{biblio.TableOfContents, structural(`table` + sep + `of` + sep + `contents|contents|toc|inhaltsverzeichnis`)},
	{biblio.Index, structural(`index|register`)},
	{biblio.Glossary, structural(`glossary|glossar`)},
	{biblio.FrontMatter, structural(`front` + sep + `matter`)},
	{biblio.BackMatter, structural(`back` + sep + `matter`)},
	{biblio.Preface, structural(`preface|foreword|prologue|vorwort`)},
	{biblio.Figures, structural(`list` + sep + `of` + sep + `figures|figures|illustrations`)},
	{biblio.Tables, structural(`list` + sep + `of` + sep + `tables|tables`)},
	{biblio.Appendix, structural(`appendix|appendices|anhang`)},
	{biblio.Bibliography, structural(`bibliography|references|literaturverzeichnis`)},
}

// structural anchors a vocabulary alternative at the start of the name,
// allowing a leading number, and requires a non-letter after it.
func structural(words string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^(?:\d+` + sep + `)?(?:` + words + `)(?:[^a-z]|$)`)
}

var chapterPattern = regexp.MustCompile(
	`(?i)(?:^|[^a-z])(?:chapter|chap|ch|section|sec|kapitel|kap|cap[ií]tulo|chapitre|capitolo|hoofdstuk|rozdzia[lł]|глава)` +
		sep + `(\d+(?:\.\d+)?)`,
)

// StructuralTypeOf reports the front/back-matter kind named by the filename.
func StructuralTypeOf(name string) (biblio.StructuralType, bool) {
	for _, v := range structuralVocabulary {
		if v.pattern.MatchString(name) {
			return v.kind, true
		}
	}
	return "", false
}

// ChapterEnumeration extracts the chapter or section number from the filename.
func ChapterEnumeration(name string) (string, bool) {
	m := chapterPattern.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// DetectType combines both vocabularies; structural wins.
func DetectType(name string) biblio.TypeInfo {
	if kind, ok := StructuralTypeOf(name); ok {
		return biblio.TypeInfo{IsStructural: true, StructuralType: kind}
	}
	if enum, ok := ChapterEnumeration(name); ok {
		return biblio.TypeInfo{IsChapter: true, Enumeration: enum}
	}
	return biblio.TypeInfo{}
}
