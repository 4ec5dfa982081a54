package pipeline

import (
	"sync"

	"github.com/TobiSchelling/biblionamer/internal/attest"
	"github.com/TobiSchelling/biblionamer/internal/journal"
)

// cycleRecorder tallies the outcomes of one cycle and forwards them to the
// journal. In dry-run mode next is nil and nothing is persisted.
type cycleRecorder struct {
	next journal.Writer

	mu      sync.Mutex
	entries []journal.Entry
	renames []attest.Rename
}

func (r *cycleRecorder) Append(e journal.Entry) error {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	if e.Status == journal.StatusSuccess && e.NewName != "" {
		r.renames = append(r.renames, attest.Rename{From: e.File, To: e.NewName})
	}
	r.mu.Unlock()

	if r.next == nil {
		return nil
	}
	return r.next.Append(e)
}

// CycleResult summarises one pass over the directory.
type CycleResult struct {
	Number         int
	Counts         map[journal.Status]int
	Renames        int
	HasFailures    bool
	ShouldContinue bool
}

func (r *cycleRecorder) result(number int) CycleResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := CycleResult{
		Number:  number,
		Counts:  journal.Counts(r.entries),
		Renames: len(r.renames),
	}
	allGood := true
	for _, e := range r.entries {
		if e.Status.IsFailure() {
			res.HasFailures = true
		}
		if !e.Status.IsGood() {
			allGood = false
		}
	}
	res.ShouldContinue = res.Renames > 0 || !allGood
	return res
}
