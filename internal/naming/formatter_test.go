package naming

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/biblionamer/internal/biblio"
)

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"The Righteous Mind", "TheRighteousMind"},
		{"The Righteous Mind: Why Good People Are Divided", "TheRighteousMind-WhyGoodPeopleAreDivided"},
		{"Freud's Legacy", "FreudsLegacy"},
		{"Café  Société — Über alles", "CafeSociete-UberAlles"},
		{"Rock & Roll / Blues", "RockRollBlues"},
		{"What?! No... Really", "What-No-Really"},
		{"  spaced   -  out  ", "Spaced-Out"},
		{"ALL CAPS TITLE", "AllCapsTitle"},
		{"Straße (Second Edition)", "StrasseSecondEdition"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTitle(tt.in))
		})
	}
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "JonathanHaidt", NormalizeName("Jonathan Haidt"))
	assert.Equal(t, "HaidtJonathan", NormalizeName("Haidt, Jonathan"))
	assert.Equal(t, "JRRTolkien", NormalizeName("J. R. R. Tolkien"))
	assert.Equal(t, "RonaldMcDonald", NormalizeName("ronald McDonald"))
	assert.Equal(t, "SlavojZizek", NormalizeName("Slavoj Žižek"))
	assert.Equal(t, "", NormalizeName("  "))
}

func TestFormatAuthorsBranching(t *testing.T) {
	assert.Equal(t, "", FormatAuthors(nil))
	assert.Equal(t, "", FormatAuthors([]string{" ", ""}))
	assert.Equal(t, "JonathanHaidt", FormatAuthors([]string{"Jonathan Haidt"}))
	assert.Equal(t, "JonathanHaidt-EtAl", FormatAuthors([]string{"Jonathan Haidt", "Craig Joseph"}))
	assert.Equal(t, "AOne-EtAl", FormatAuthors([]string{"A One", "B Two", "C Three", "D Four"}))
}

func TestFormatBook(t *testing.T) {
	f := NewFormatter(0, "")
	name, err := f.Format(biblio.Validated{
		Title:        "The Righteous Mind",
		Authors:      []string{"Jonathan Haidt"},
		Year:         "2012",
		DocumentType: biblio.Book,
		Confidence:   0.9,
	}, biblio.TypeInfo{})
	require.NoError(t, err)
	assert.Equal(t, "TheRighteousMind_JonathanHaidt_2012", name)
}

func TestFormatArticle(t *testing.T) {
	f := NewFormatter(0, "")
	name, err := f.Format(biblio.Validated{
		Title:        "Moral foundations theory",
		Authors:      []string{"Jesse Graham", "Jonathan Haidt", "Brian Nosek"},
		Year:         "2013",
		DocumentType: biblio.Article,
		Journal:      "Nature",
		Volume:       "12",
	}, biblio.TypeInfo{})
	require.NoError(t, err)
	assert.Equal(t, "MoralFoundationsTheory_JesseGraham-EtAl_2013_J-Nature_V12", name)
}

func TestFormatArticleRequirements(t *testing.T) {
	f := NewFormatter(0, "")
	base := biblio.Validated{Title: "T", Authors: []string{"A B"}, Year: "2001", DocumentType: biblio.Article}

	noTitle := base
	noTitle.Title = ""
	noAuthors := base
	noAuthors.Authors = nil
	badYear := base
	badYear.Year = "c. 2001"

	for name, v := range map[string]biblio.Validated{"title": noTitle, "authors": noAuthors, "year": badYear} {
		t.Run(name, func(t *testing.T) {
			_, err := f.Format(v, biblio.TypeInfo{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrIncomplete))
		})
	}
}

func TestFormatBookRequirements(t *testing.T) {
	f := NewFormatter(0, "")

	_, err := f.Format(biblio.Validated{Authors: []string{"A"}}, biblio.TypeInfo{})
	assert.ErrorIs(t, err, ErrIncomplete)

	_, err = f.Format(biblio.Validated{Title: "Title", Year: "20x2"}, biblio.TypeInfo{})
	assert.ErrorIs(t, err, ErrIncomplete)

	name, err := f.Format(biblio.Validated{Title: "Only A Title"}, biblio.TypeInfo{})
	require.NoError(t, err)
	assert.Equal(t, "OnlyATitle", name)
}

func TestFormatStructuralWithoutTitle(t *testing.T) {
	f := NewFormatter(0, "")
	info := biblio.TypeInfo{IsStructural: true, StructuralType: biblio.Index}

	name, err := f.Format(biblio.Validated{Authors: []string{"Jonathan Haidt"}, Year: "2012"}, info)
	require.NoError(t, err)
	assert.Equal(t, "Index_JonathanHaidt_2012", name)

	name, err = f.Format(biblio.Validated{Title: "The Righteous Mind", Authors: []string{"Jonathan Haidt"}, Year: "2012"}, info)
	require.NoError(t, err)
	assert.Equal(t, "TheRighteousMind_JonathanHaidt_2012_Index", name)
}

func TestFormatChapterEnumeration(t *testing.T) {
	f := NewFormatter(0, "")
	data := biblio.Validated{Title: "Where Does Morality Come From", Authors: []string{"Jonathan Haidt"}, Year: "2012", DocumentType: biblio.Chapter}

	name, err := f.Format(data, biblio.TypeInfo{IsChapter: true, Enumeration: "1"})
	require.NoError(t, err)
	assert.Equal(t, "01_WhereDoesMoralityComeFrom_JonathanHaidt_2012", name)

	name, err = f.Format(data, biblio.TypeInfo{IsChapter: true, Enumeration: "3.2"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "03.2_"), name)

	name, err = f.Format(data, biblio.TypeInfo{IsChapter: true, Enumeration: "12"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "12_"), name)
}

func TestFormatFileTypeSuffix(t *testing.T) {
	f := NewFormatter(0, "")
	name, err := f.Format(biblio.Validated{Title: "Moral Psychology", Year: "2010", FileType: "lecture notes"}, biblio.TypeInfo{})
	require.NoError(t, err)
	assert.Equal(t, "MoralPsychology_2010_LectureNotes", name)
}

func TestFormatBudgetTruncatesOnlyTitle(t *testing.T) {
	const max = 80
	f := NewFormatter(max, ".pdf")
	long := strings.Repeat("Extraordinarily Verbose Subtitle Words ", 10)
	data := biblio.Validated{
		Title:        long,
		Authors:      []string{"Jonathan Haidt", "Other Person"},
		Year:         "2012",
		DocumentType: biblio.Article,
		Journal:      "Journal of Personality",
		Volume:       "7",
	}

	name, err := f.Format(data, biblio.TypeInfo{})
	require.NoError(t, err)

	assert.LessOrEqual(t, len(name)+len(".pdf"), max)
	assert.True(t, strings.HasSuffix(name, "_JonathanHaidt-EtAl_2012_J-JournalOfPersonality_V7"), name)
	assert.True(t, strings.HasPrefix(name, "ExtraordinarilyVerbose"), name)
}

func TestFormatHardCapSafetyNet(t *testing.T) {
	const max = 30
	f := NewFormatter(max, ".pdf")
	name, err := f.Format(biblio.Validated{
		Title:   "Title",
		Authors: []string{"Maximiliana Bartholomew-Featherstonehaugh"},
		Year:    "1999",
	}, biblio.TypeInfo{})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(name)+4, max)
}

func TestFormatNeverExceedsMax(t *testing.T) {
	for _, max := range []int{40, 100, 120, 150, 200} {
		f := NewFormatter(max, ".pdf")
		name, err := f.Format(biblio.Validated{
			Title:   strings.Repeat("word ", 100),
			Authors: []string{"Ann Author"},
			Year:    "2020",
		}, biblio.TypeInfo{IsChapter: true, Enumeration: "4"})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(name)+4, max, "max=%d name=%s", max, name)
		assert.Contains(t, name, "_AnnAuthor_2020")
	}
}
