// Package strategy persists the tunables that survive between activations
// and the learning step that grows them.
package strategy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/TobiSchelling/biblionamer/internal/journal"
)

// FileName is the strategy file's name inside the target directory.
const FileName = ".biblionamer-strategy.json"

// DefaultConcurrency is the worker pool size for a fresh strategy.
const DefaultConcurrency = 5

// FailureHint is appended when too many analyses fail.
const FailureHint = "Many previous analyses failed. Return strictly valid JSON with every field present; " +
	"use empty strings for unknown values instead of omitting them."

// Strategy is the persisted adaptive state.
type Strategy struct {
	Concurrency   int      `json:"concurrency"`
	AIPromptHints []string `json:"aiPromptHints"`
}

// Default returns a fresh strategy.
func Default(concurrency int) Strategy {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return Strategy{Concurrency: concurrency, AIPromptHints: []string{}}
}

// Load reads the strategy from dir, falling back to Default when the file
// is absent.
func Load(dir string, concurrency int) (Strategy, error) {
	s := Default(concurrency)
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("reading strategy: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return Default(concurrency), fmt.Errorf("parsing strategy: %w", err)
	}
	if s.Concurrency <= 0 {
		s.Concurrency = Default(concurrency).Concurrency
	}
	if s.AIPromptHints == nil {
		s.AIPromptHints = []string{}
	}
	return s, nil
}

// Save writes the strategy to dir.
func (s Strategy) Save(dir string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding strategy: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), data, 0o644); err != nil {
		return fmt.Errorf("writing strategy: %w", err)
	}
	return nil
}

// FailureRate is the fraction of entries with status FAILURE_AI.
func FailureRate(entries []journal.Entry) float64 {
	if len(entries) == 0 {
		return 0
	}
	failed := 0
	for _, e := range entries {
		if e.Status == journal.StatusFailureAI {
			failed++
		}
	}
	return float64(failed) / float64(len(entries))
}

// Learn appends FailureHint when at least minEntries are journaled and the
// AI failure rate exceeds threshold. Hints are never removed, and a hint
// already present is not added twice. It reports whether s changed.
func (s *Strategy) Learn(entries []journal.Entry, minEntries int, threshold float64) bool {
	if len(entries) < minEntries {
		return false
	}
	if FailureRate(entries) <= threshold {
		return false
	}
	for _, h := range s.AIPromptHints {
		if h == FailureHint {
			return false
		}
	}
	s.AIPromptHints = append(s.AIPromptHints, FailureHint)
	return true
}
