// Package lifecycle performs renames with a backup-first protocol and
// records every outcome in the journal.
//
// The order is fixed: verify the source, copy it to a backup, rename, delete
// the backup, verify the destination. A failure at any step stops there and
// leaves either the original or the backup on disk.
package lifecycle

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/biblionamer/internal/journal"
	"github.com/TobiSchelling/biblionamer/internal/scan"
)

// BackupSuffix is appended to the source path for the safety copy.
const BackupSuffix = ".bak"

// ErrDestinationExists is returned when no free target name could be found.
var ErrDestinationExists = errors.New("destination exists")

const maxCollisionSuffix = 999

// Outcome carries the analysis facts recorded with a rename.
type Outcome struct {
	Confidence *float64
	Started    time.Time
	Details    string
}

// Manager renames files. Targets are reserved for the life of the manager so
// two workers never pick the same name.
type Manager struct {
	fs      FS
	journal journal.Writer
	logger  *zap.Logger

	mu       sync.Mutex
	reserved map[string]bool
}

// New creates a manager. A nil FS uses the real filesystem.
func New(fsys FS, w journal.Writer, logger *zap.Logger) *Manager {
	if fsys == nil {
		fsys = OSFS{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{fs: fsys, journal: w, logger: logger, reserved: make(map[string]bool)}
}

// Plan picks and reserves a free name for renaming entity to newName,
// appending _2, _3, ... before the extension on collision. Nothing is written.
func (m *Manager) Plan(entity scan.FileEntity, newName string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ext := filepath.Ext(newName)
	base := strings.TrimSuffix(newName, ext)
	for n := 1; n <= maxCollisionSuffix; n++ {
		name := newName
		if n > 1 {
			name = base + "_" + strconv.Itoa(n) + ext
		}
		target := filepath.Join(entity.Dir, name)
		if m.reserved[target] {
			continue
		}
		// A case-only change points at the source itself on case-insensitive filesystems.
		if m.fs.Exists(target) && !strings.EqualFold(target, entity.Path) {
			continue
		}
		m.reserved[target] = true
		return name, nil
	}
	return "", fmt.Errorf("%w: %s", ErrDestinationExists, newName)
}

func (m *Manager) release(dir, name string) {
	m.mu.Lock()
	delete(m.reserved, filepath.Join(dir, name))
	m.mu.Unlock()
}

// Rename moves entity to newName (or a collision-free variant of it) and
// journals SUCCESS or FAILURE_RENAME. It returns the final name.
func (m *Manager) Rename(entity scan.FileEntity, newName string, out Outcome) (string, error) {
	name, err := m.rename(entity, newName)
	entry := journal.Entry{
		File:       entity.Key,
		Confidence: out.Confidence,
		NewName:    name,
	}
	if !out.Started.IsZero() {
		entry.DurationMs = time.Since(out.Started).Milliseconds()
	}

	if err != nil {
		if name == "" {
			entry.NewName = newName
		}
		entry.Status = journal.StatusFailureRename
		entry.Details = err.Error()
		m.logger.Error("rename failed", zap.String("file", entity.Key), zap.String("target", entry.NewName), zap.Error(err))
	} else {
		entry.Status = journal.StatusSuccess
		entry.Details = out.Details
		if entry.Details == "" {
			entry.Details = "renamed to " + name
		}
		m.logger.Info("renamed", zap.String("file", entity.Key), zap.String("to", name))
	}
	m.record(entry)
	return entry.NewName, err
}

func (m *Manager) rename(entity scan.FileEntity, newName string) (string, error) {
	if !m.fs.Exists(entity.Path) {
		return "", fmt.Errorf("source missing: %s", entity.Path)
	}

	name, err := m.Plan(entity, newName)
	if err != nil {
		return "", err
	}
	target := filepath.Join(entity.Dir, name)

	// A backup kept by an earlier failed attempt is reused when it still
	// matches the source; anything else is left for manual recovery.
	backup := entity.Path + BackupSuffix
	if m.fs.Exists(backup) {
		same, err := m.fs.Equal(entity.Path, backup)
		if err != nil || !same {
			m.release(entity.Dir, name)
			return name, fmt.Errorf("backup from an earlier attempt differs from the source: %s", backup)
		}
		m.logger.Info("reusing backup from an earlier attempt", zap.String("backup", backup))
	} else if err := m.fs.Copy(entity.Path, backup); err != nil {
		m.release(entity.Dir, name)
		_ = m.fs.Remove(backup)
		return name, fmt.Errorf("creating backup: %w", err)
	}
	if err := m.fs.Rename(entity.Path, target); err != nil {
		m.release(entity.Dir, name)
		return name, fmt.Errorf("renaming (backup kept at %s): %w", backup, err)
	}
	if err := m.fs.Remove(backup); err != nil {
		return name, fmt.Errorf("removing backup %s: %w", backup, err)
	}
	if !m.fs.Exists(target) {
		return name, fmt.Errorf("destination missing after rename: %s", target)
	}
	return name, nil
}

func (m *Manager) record(e journal.Entry) {
	if m.journal == nil {
		return
	}
	if err := m.journal.Append(e); err != nil {
		m.logger.Error("journal write failed", zap.String("file", e.File), zap.Error(err))
	}
}
