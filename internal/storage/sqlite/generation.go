package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	shell "github.com/eugener/shellcache/internal"
)

const currentGenerationKey = "current_generation"

// CreateGeneration inserts a new, not-yet-installed generation.
func (s *Store) CreateGeneration(ctx context.Context, version string) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO generations (version, installed, created_at) VALUES (?, 0, ?)`,
		version, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return fmt.Errorf("%w: generation %q exists", shell.ErrConflict, version)
	}
	return err
}

// MarkInstalled flags a generation as fully precached.
func (s *Store) MarkInstalled(ctx context.Context, version string) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE generations SET installed=1 WHERE version=?`, version)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "generation")
}

// DeleteGeneration removes a generation; its entries go with it via cascade.
func (s *Store) DeleteGeneration(ctx context.Context, version string) error {
	_, err := s.write.ExecContext(ctx,
		`DELETE FROM generations WHERE version=?`, version)
	return err
}

// DeleteGenerationsExcept removes every generation other than version.
func (s *Store) DeleteGenerationsExcept(ctx context.Context, version string) (int, error) {
	result, err := s.write.ExecContext(ctx,
		`DELETE FROM generations WHERE version != ?`, version)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// ListGenerations returns all generations, oldest first.
func (s *Store) ListGenerations(ctx context.Context) ([]shell.Generation, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT version, installed, created_at FROM generations ORDER BY created_at, version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []shell.Generation
	for rows.Next() {
		var g shell.Generation
		var installed int
		var createdAt string
		if err := rows.Scan(&g.Version, &installed, &createdAt); err != nil {
			return nil, err
		}
		g.Installed = installed != 0
		if t, e := time.Parse(time.RFC3339, createdAt); e == nil {
			g.CreatedAt = t
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// CurrentGeneration returns the persisted current version, "" when none.
func (s *Store) CurrentGeneration(ctx context.Context) (string, error) {
	var v string
	err := s.read.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key=?`, currentGenerationKey,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

// SetCurrentGeneration swaps the persisted current pointer.
func (s *Store) SetCurrentGeneration(ctx context.Context, version string) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value=excluded.value`,
		currentGenerationKey, version,
	)
	return err
}

// checkRowsAffected returns shell.ErrNotFound when an update matched nothing.
func checkRowsAffected(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", shell.ErrNotFound, what)
	}
	return nil
}
