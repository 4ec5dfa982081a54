package database

import (
	"time"

	"github.com/TobiSchelling/biblionamer/internal/journal"
)

// Activation is one recorded run over a directory.
type Activation struct {
	ID             string
	Directory      string
	Mode           string // "live" or "dry-run"
	Started        time.Time
	Finished       time.Time
	Cycles         int
	Counts         map[journal.Status]int
	ReportMarkdown string
}

// Duration returns how long the activation ran.
func (a Activation) Duration() time.Duration {
	return a.Finished.Sub(a.Started)
}

// Total returns the number of recorded outcomes.
func (a Activation) Total() int {
	n := 0
	for _, c := range a.Counts {
		n += c
	}
	return n
}

// Stats holds aggregate history statistics.
type Stats struct {
	Activations     int
	LiveActivations int
	Renames         int
	Directories     int
}
