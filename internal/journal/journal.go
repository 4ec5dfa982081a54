// Package journal implements the append-only operational journal: one JSON
// object per line, one line per terminal outcome of a file attempt. It is
// the sole record of what happened to each file and is never rewritten.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileName is the journal's name inside the target directory.
const FileName = ".biblionamer-journal.jsonl"

// Status is the outcome recorded for an attempt.
type Status string

const (
	StatusSuccess         Status = "SUCCESS"
	StatusFailureParse    Status = "FAILURE_PARSE"
	StatusFailureAI       Status = "FAILURE_AI"
	StatusFailureRename   Status = "FAILURE_RENAME"
	StatusSkippedNoChange Status = "SKIPPED_NO_CHANGE"
	StatusSkippedLowConf  Status = "SKIPPED_LOW_CONF"
	StatusProcessed       Status = "PROCESSED"
)

// Statuses lists every status in report order.
var Statuses = []Status{
	StatusSuccess,
	StatusProcessed,
	StatusSkippedNoChange,
	StatusSkippedLowConf,
	StatusFailureParse,
	StatusFailureAI,
	StatusFailureRename,
}

// IsGood reports whether s is a terminal state that needs no further cycle.
func (s Status) IsGood() bool {
	switch s {
	case StatusSuccess, StatusSkippedNoChange, StatusProcessed:
		return true
	}
	return false
}

// IsFailure reports whether s should trigger the inter-cycle cooldown.
func (s Status) IsFailure() bool {
	switch s {
	case StatusFailureParse, StatusFailureAI, StatusFailureRename, StatusSkippedLowConf:
		return true
	}
	return false
}

// Entry is one journal line. File is the key recorded at write time: the
// path relative to the scan root (or the bare basename in legacy mode).
type Entry struct {
	Timestamp  time.Time `json:"timestamp"`
	File       string    `json:"file"`
	Status     Status    `json:"status"`
	Details    string    `json:"details"`
	DurationMs int64     `json:"durationMs"`
	Confidence *float64  `json:"confidence,omitempty"`
	NewName    string    `json:"newName,omitempty"`
}

// Writer accepts journal entries.
type Writer interface {
	Append(Entry) error
}

// Journal is a JSONL file safe for concurrent appenders in one process.
type Journal struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// Open returns the journal stored in dir. The file is created lazily.
func Open(dir string, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{path: filepath.Join(dir, FileName), logger: logger}
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Append writes e as a single line with one write call.
func (j *Journal) Append(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding journal entry: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("appending journal entry: %w", err)
	}
	return f.Close()
}

// Entries replays the whole journal in write order. Malformed lines are
// skipped with a warning; a missing journal is an empty history.
func (j *Journal) Entries() ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			j.logger.Warn("skipping malformed journal line", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("reading journal: %w", err)
	}
	return entries, nil
}

// Fold builds the last known state per file. Entries are visited newest
// first and the first entry seen for a path wins. Keys are resolved against
// root. A SUCCESS entry is also indexed under its rename target so the
// renamed file inherits the success.
func Fold(entries []Entry, root string) map[string]Entry {
	state := make(map[string]Entry, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.File == "" {
			continue
		}
		src := Resolve(root, e.File)
		if _, seen := state[src]; !seen {
			state[src] = e
		}
		if e.Status == StatusSuccess && e.NewName != "" {
			target := filepath.Join(filepath.Dir(src), e.NewName)
			if _, seen := state[target]; !seen {
				state[target] = e
			}
		}
	}
	return state
}

// Resolve maps a recorded key onto the current scan root.
func Resolve(root, key string) string {
	return filepath.Join(root, filepath.FromSlash(key))
}

// Counts tallies entries by status.
func Counts(entries []Entry) map[Status]int {
	counts := make(map[Status]int, len(Statuses))
	for _, e := range entries {
		counts[e.Status]++
	}
	return counts
}
