// Package attest renders the per-activation attestation report.
package attest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/biblionamer/internal/journal"
)

const (
	// MarkdownFile is the report's name inside the target directory.
	MarkdownFile = "ATTESTATION.md"
	// HTMLFile is the rendered companion of MarkdownFile.
	HTMLFile = "ATTESTATION.html"
)

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// Rename is one completed or planned rename, as journal keys.
type Rename struct {
	From string
	To   string
}

// Report is everything an attestation states about one activation.
type Report struct {
	ID          string
	Directory   string
	Live        bool
	Started     time.Time
	Finished    time.Time
	Cycles      int
	Counts      map[journal.Status]int
	Renames     []Rename
	Unprocessed []string
	Hints       []string
}

// Mode names the run mode.
func (r Report) Mode() string {
	if r.Live {
		return "live"
	}
	return "dry-run"
}

// Markdown renders the report.
func Markdown(r Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Attestation: %s\n\n", filepath.Base(r.Directory))
	fmt.Fprintf(&b, "- **Activation:** `%s`\n", r.ID)
	fmt.Fprintf(&b, "- **Directory:** `%s`\n", r.Directory)
	fmt.Fprintf(&b, "- **Mode:** %s\n", r.Mode())
	fmt.Fprintf(&b, "- **Started:** %s\n", r.Started.Format(time.RFC3339))
	if !r.Finished.IsZero() {
		fmt.Fprintf(&b, "- **Duration:** %s\n", r.Finished.Sub(r.Started).Round(time.Second))
	}
	fmt.Fprintf(&b, "- **Cycles:** %d\n", r.Cycles)

	b.WriteString("\n## Performance\n\n| Status | Files |\n|---|---:|\n")
	for _, s := range journal.Statuses {
		fmt.Fprintf(&b, "| %s | %d |\n", s, r.Counts[s])
	}

	if r.Live {
		b.WriteString("\n## Renamed\n\n")
	} else {
		b.WriteString("\n## Planned renames\n\n")
	}
	if len(r.Renames) == 0 {
		b.WriteString("_None._\n")
	}
	for _, rn := range r.Renames {
		fmt.Fprintf(&b, "- `%s` → `%s`\n", rn.From, rn.To)
	}

	b.WriteString("\n## Still unprocessed\n\n")
	if len(r.Unprocessed) == 0 {
		b.WriteString("_None._\n")
	}
	unprocessed := append([]string(nil), r.Unprocessed...)
	sort.Strings(unprocessed)
	for _, f := range unprocessed {
		fmt.Fprintf(&b, "- `%s`\n", f)
	}

	b.WriteString("\n## Learned hints\n\n")
	if len(r.Hints) == 0 {
		b.WriteString("_None._\n")
	}
	for _, h := range r.Hints {
		fmt.Fprintf(&b, "- %s\n", h)
	}
	return b.String()
}

// HTML renders markdown to a standalone page.
func HTML(title, markdown string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return fmt.Sprintf("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>%s</title></head>\n<body>\n%s</body></html>\n",
		htmlEscape(title), buf.String()), nil
}

// Write stores the Markdown and HTML reports in dir, overwriting earlier ones.
func Write(dir string, r Report) error {
	text := Markdown(r)
	if err := os.WriteFile(filepath.Join(dir, MarkdownFile), []byte(text), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", MarkdownFile, err)
	}
	page, err := HTML("Attestation "+r.ID, text)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, HTMLFile), []byte(page), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", HTMLFile, err)
	}
	return nil
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
