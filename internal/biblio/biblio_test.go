package biblio

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractedUnmarshalTolerantShapes(t *testing.T) {
	var ex Extracted
	err := json.Unmarshal([]byte(`{
		"title": "The Righteous Mind",
		"authors": "Jonathan Haidt",
		"year": 2012,
		"documentType": "Book",
		"volume": 12,
		"confidence": "0.9",
		"reasoning": "title page"
	}`), &ex)
	require.NoError(t, err)

	assert.Equal(t, "The Righteous Mind", ex.Title)
	assert.Equal(t, []string{"Jonathan Haidt"}, ex.Authors)
	assert.Equal(t, "2012", ex.Year)
	assert.Equal(t, Book, ex.DocumentType)
	assert.Equal(t, "12", ex.Volume)
	assert.InDelta(t, 0.9, ex.Confidence, 1e-9)
}

func TestExtractedUnmarshalAuthorList(t *testing.T) {
	var ex Extracted
	require.NoError(t, json.Unmarshal([]byte(`{"authors":["A One", "", "B Two"],"document_type":"journal article"}`), &ex))
	assert.Equal(t, []string{"A One", "B Two"}, ex.Authors)
	assert.Equal(t, Article, ex.DocumentType)
}

func TestValidateSelfCorrection(t *testing.T) {
	arch := Archetype{Title: "The Righteous Mind Why Good People Are Divided", Year: "2012"}
	v := Validate(Extracted{Title: "righteous mind", Confidence: 0.8}, arch)

	// The partial title is dropped, then the fuller archetype title fills in.
	assert.Equal(t, arch.Title, v.Title)
	assert.Equal(t, "2012", v.Year)
}

func TestValidateKeepsInformativeTitle(t *testing.T) {
	arch := Archetype{Title: "Handbook of Personality", Authors: []string{"Oliver John"}, Year: "2008"}
	v := Validate(Extracted{Title: "The Big Five Trait Taxonomy", Year: "unknown"}, arch)

	assert.Equal(t, "The Big Five Trait Taxonomy", v.Title)
	assert.Equal(t, []string{"Oliver John"}, v.Authors)
	assert.Equal(t, "2008", v.Year)
}

func TestValidateWithoutArchetype(t *testing.T) {
	v := Validate(Extracted{Title: "  A Title ", Authors: []string{"N/A"}}, Archetype{})
	assert.Equal(t, "A Title", v.Title)
	assert.Empty(t, v.Authors)
}

func TestDeriveArchetype(t *testing.T) {
	tests := []struct {
		name string
		path string
		want Archetype
	}{
		{
			name: "canonical folder",
			path: filepath.Join("lib", "TheRighteousMind_JonathanHaidt_2012", "ch1.pdf"),
			want: Archetype{
				Folder:  "TheRighteousMind_JonathanHaidt_2012",
				Title:   "The Righteous Mind",
				Authors: []string{"Jonathan Haidt"},
				Year:    "2012",
			},
		},
		{
			name: "title with year",
			path: filepath.Join("lib", "Thinking Fast and Slow (2011)", "a.pdf"),
			want: Archetype{Folder: "Thinking Fast and Slow (2011)", Title: "Thinking Fast and Slow", Year: "2011"},
		},
		{
			name: "et al suffix",
			path: filepath.Join("lib", "Handbook_John-EtAl_2008", "a.pdf"),
			want: Archetype{Folder: "Handbook_John-EtAl_2008", Title: "Handbook", Authors: []string{"John"}, Year: "2008"},
		},
		{
			name: "generic folder",
			path: filepath.Join("lib", "papers", "a.pdf"),
			want: Archetype{Folder: "papers"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveArchetype(tt.path)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.True(t, DeriveArchetype(filepath.Join("lib", "papers", "a.pdf")).IsZero())
}
