package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/TobiSchelling/biblionamer/internal/attest"
	"github.com/TobiSchelling/biblionamer/internal/journal"
)

// timeLayout has fixed width so started_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const activationColumns = `id, directory, mode, started_at, finished_at, cycles, counts, report_markdown`

// RecordActivation stores a finished activation and its renames. Recording
// the same ID twice replaces the earlier row.
func (db *DB) RecordActivation(r attest.Report) error {
	counts, err := json.Marshal(r.Counts)
	if err != nil {
		return fmt.Errorf("encoding counts: %w", err)
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM activation_renames WHERE activation_id = ?`, r.ID); err != nil {
		return err
	}
	_, err = tx.Exec(
		`INSERT OR REPLACE INTO activations
		(`+activationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Directory, r.Mode(),
		r.Started.UTC().Format(timeLayout), r.Finished.UTC().Format(timeLayout),
		r.Cycles, string(counts), attest.Markdown(r),
	)
	if err != nil {
		return fmt.Errorf("inserting activation: %w", err)
	}

	for i, rn := range r.Renames {
		if _, err := tx.Exec(
			`INSERT INTO activation_renames (activation_id, position, from_name, to_name) VALUES (?, ?, ?, ?)`,
			r.ID, i, rn.From, rn.To,
		); err != nil {
			return fmt.Errorf("inserting rename: %w", err)
		}
	}
	return tx.Commit()
}

// GetActivation returns one activation, or nil if the ID is unknown.
func (db *DB) GetActivation(id string) (*Activation, error) {
	row := db.conn.QueryRow(`SELECT `+activationColumns+` FROM activations WHERE id = ?`, id)
	a, err := scanActivation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// RecentActivations returns up to limit activations, newest first. A
// non-empty directory restricts the result to that directory.
func (db *DB) RecentActivations(directory string, limit int) ([]Activation, error) {
	query := `SELECT ` + activationColumns + ` FROM activations`
	var args []any
	if directory != "" {
		query += " WHERE directory = ?"
		args = append(args, directory)
	}
	query += " ORDER BY started_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Activation
	for rows.Next() {
		a, err := scanActivation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ActivationRenames returns the renames of an activation in the order they
// were recorded.
func (db *DB) ActivationRenames(id string) ([]attest.Rename, error) {
	rows, err := db.conn.Query(
		`SELECT from_name, to_name FROM activation_renames WHERE activation_id = ? ORDER BY position`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []attest.Rename
	for rows.Next() {
		var rn attest.Rename
		if err := rows.Scan(&rn.From, &rn.To); err != nil {
			return nil, err
		}
		out = append(out, rn)
	}
	return out, rows.Err()
}

// GetStats returns aggregate history statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM activations", &s.Activations},
		{"SELECT COUNT(*) FROM activations WHERE mode = 'live'", &s.LiveActivations},
		{`SELECT COUNT(*) FROM activation_renames r
			JOIN activations a ON a.id = r.activation_id WHERE a.mode = 'live'`, &s.Renames},
		{"SELECT COUNT(DISTINCT directory) FROM activations", &s.Directories},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	return s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivation(row rowScanner) (Activation, error) {
	var (
		a                 Activation
		started, finished string
		counts            string
	)
	if err := row.Scan(&a.ID, &a.Directory, &a.Mode, &started, &finished,
		&a.Cycles, &counts, &a.ReportMarkdown); err != nil {
		return Activation{}, err
	}

	var err error
	if a.Started, err = time.Parse(timeLayout, started); err != nil {
		return Activation{}, fmt.Errorf("activation %s: started_at: %w", a.ID, err)
	}
	if a.Finished, err = time.Parse(timeLayout, finished); err != nil {
		return Activation{}, fmt.Errorf("activation %s: finished_at: %w", a.ID, err)
	}
	a.Counts = make(map[journal.Status]int)
	if err := json.Unmarshal([]byte(counts), &a.Counts); err != nil {
		return Activation{}, fmt.Errorf("activation %s: counts: %w", a.ID, err)
	}
	return a, nil
}
