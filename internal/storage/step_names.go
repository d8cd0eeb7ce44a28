package storage

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
)

// LoadStepNames returns the canonical step-name catalog.
func (s *Store) LoadStepNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT step_name FROM step_names ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// InsertStepNames adds names to the catalog, uppercased. Existing names are
// ignored. Returns how many were new.
func (s *Store) InsertStepNames(ctx context.Context, names []string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO step_names (step_name) VALUES (?) ON CONFLICT (step_name) DO NOTHING`,
	))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, name := range names {
		name = strings.ToUpper(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		res, err := stmt.ExecContext(ctx, name)
		if err != nil {
			return inserted, fmt.Errorf("insert step name %s: %w", name, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			inserted++
		}
	}
	return inserted, tx.Commit()
}

// SeedStepNames fills an empty catalog from a plain-text file with one name
// per line. Blank lines and lines starting with # are skipped. A populated
// catalog or a missing file is left alone.
func (s *Store) SeedStepNames(ctx context.Context, path string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM step_names`).Scan(&count); err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("step-names seed file not found path=%s", path)
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}

	inserted, err := s.InsertStepNames(ctx, names)
	if err != nil {
		return inserted, err
	}
	log.Printf("step-names seeded count=%d path=%s", inserted, path)
	return inserted, nil
}
