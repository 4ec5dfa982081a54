// Package classify decides, per file and per cycle, whether a file is done,
// can be recovered from a cached name, or needs a fresh analysis. It is the
// component that keeps repeated activations from spending AI calls twice.
package classify

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/TobiSchelling/biblionamer/internal/journal"
	"github.com/TobiSchelling/biblionamer/internal/scan"
)

const (
	DefaultSegmentFloor  = 16
	DefaultMaxWordLength = 30
)

// Decision is the classifier verdict.
type Decision int

const (
	NeedsAnalysis Decision = iota
	AlreadyDone
	Recover
)

func (d Decision) String() string {
	switch d {
	case AlreadyDone:
		return "already-done"
	case Recover:
		return "recover"
	}
	return "needs-analysis"
}

// Result carries the decision plus what the caller needs to act on it.
type Result struct {
	Decision   Decision
	CachedName string
	Reason     string
	Stale      bool
}

// processedPattern accepts [NN_]Title_Authors_Year[_extra]*.pdf. Extra
// segments cover journal, volume, file type and collision suffixes.
var processedPattern = regexp.MustCompile(
	`^(?:\d{2,}(?:\.\d+)?_)?[A-Z0-9][A-Za-z0-9-]*_[A-Za-z0-9-]+_\d{4}(?:_[A-Za-z0-9.-]+)*(?i:\.pdf)$`,
)

var segmentSplitter = regexp.MustCompile(`[_\-0-9]+`)

// Classifier holds the abnormal-word thresholds.
type Classifier struct {
	SegmentFloor  int
	MaxWordLength int
}

// New returns a Classifier, substituting defaults for non-positive values.
func New(segmentFloor, maxWordLength int) *Classifier {
	if segmentFloor <= 0 {
		segmentFloor = DefaultSegmentFloor
	}
	if maxWordLength <= 0 {
		maxWordLength = DefaultMaxWordLength
	}
	return &Classifier{SegmentFloor: segmentFloor, MaxWordLength: maxWordLength}
}

// LooksProcessed reports whether name already has the canonical shape.
func LooksProcessed(name string) bool {
	return processedPattern.MatchString(name)
}

// HasAbnormalWord flags names where a model glued a whole title into one
// word. Only segments of at least SegmentFloor characters are inspected;
// inside them, any PascalCase sub-word longer than MaxWordLength letters
// counts.
func (c *Classifier) HasAbnormalWord(name string) bool {
	base := strings.TrimSuffix(name, extensionOf(name))
	for _, segment := range segmentSplitter.Split(base, -1) {
		if len(segment) < c.SegmentFloor {
			continue
		}
		for _, word := range splitPascal(segment) {
			word = strings.TrimLeftFunc(word, func(r rune) bool { return !unicode.IsLetter(r) })
			if len(word) > c.MaxWordLength {
				return true
			}
		}
	}
	return false
}

// Classify applies the decision order: canonical name without abnormal
// words, then the latest journal entry for the file.
func (c *Classifier) Classify(entity scan.FileEntity, last *journal.Entry) Result {
	looksProcessed := LooksProcessed(entity.Name)
	abnormal := c.HasAbnormalWord(entity.Name)
	if looksProcessed && !abnormal {
		return Result{Decision: AlreadyDone, Reason: "name matches canonical format"}
	}

	if last == nil {
		if looksProcessed {
			return Result{Decision: NeedsAnalysis, Reason: "canonical name with abnormal word"}
		}
		return Result{Decision: NeedsAnalysis, Reason: "no history"}
	}

	switch last.Status {
	case journal.StatusSuccess:
		if last.NewName == "" || last.NewName == entity.Name {
			return Result{Decision: AlreadyDone, Reason: "journal records a successful rename"}
		}
		// The success moved a file away from this path; whatever lives here
		// now is a different file.
		return Result{Decision: NeedsAnalysis, Reason: "stale success entry for " + last.NewName, Stale: true}
	case journal.StatusFailureRename:
		if last.NewName == entity.Name {
			return Result{Decision: AlreadyDone, Reason: "file already carries the cached name"}
		}
		if last.NewName != "" {
			return Result{Decision: Recover, CachedName: last.NewName, Reason: "previous rename failed"}
		}
	case journal.StatusSkippedNoChange:
		return Result{Decision: AlreadyDone, Reason: "previous analysis produced no change"}
	case journal.StatusProcessed:
		return Result{Decision: AlreadyDone, Reason: "previously recognised as done"}
	}
	return Result{Decision: NeedsAnalysis, Reason: "last status " + string(last.Status)}
}

// splitPascal starts a new word at every upper-case letter.
func splitPascal(s string) []string {
	var words []string
	start := 0
	for i, r := range s {
		if i > start && unicode.IsUpper(r) {
			words = append(words, s[start:i])
			start = i
		}
	}
	return append(words, s[start:])
}

func extensionOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[i:]
	}
	return ""
}
