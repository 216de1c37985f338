package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	shell "github.com/eugener/shellcache/internal"
)

// PutEntry writes (or overwrites) a cached response under its canonical key.
// The store's UPSERT gives last-write-wins semantics per key, which is all
// the serialization concurrent refreshes need.
func (s *Store) PutEntry(ctx context.Context, generation string, e *shell.Entry) error {
	header, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO entries (generation, key, status, header, body, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (generation, key) DO UPDATE SET
		   status=excluded.status, header=excluded.header,
		   body=excluded.body, fetched_at=excluded.fetched_at`,
		generation, e.URL, e.Status, string(header), e.Body,
		e.FetchedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// GetEntry retrieves a cached response by generation and key.
func (s *Store) GetEntry(ctx context.Context, generation, key string) (*shell.Entry, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT key, status, header, body, fetched_at
		 FROM entries WHERE generation=? AND key=?`, generation, key,
	)
	return scanEntry(row)
}

// DeleteEntry removes a cached response. Missing entries are not an error.
func (s *Store) DeleteEntry(ctx context.Context, generation, key string) error {
	_, err := s.write.ExecContext(ctx,
		`DELETE FROM entries WHERE generation=? AND key=?`, generation, key)
	return err
}

// CountEntries returns the number of entries in a generation.
func (s *Store) CountEntries(ctx context.Context, generation string) (int, error) {
	var n int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE generation=?`, generation,
	).Scan(&n)
	return n, err
}

func scanEntry(sc scanner) (*shell.Entry, error) {
	var e shell.Entry
	var header, fetchedAt string
	if err := sc.Scan(&e.URL, &e.Status, &header, &e.Body, &fetchedAt); err != nil {
		return nil, notFoundErr(err)
	}
	e.Header = http.Header{}
	if err := json.Unmarshal([]byte(header), &e.Header); err != nil {
		return nil, fmt.Errorf("unmarshal header: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, fetchedAt); err == nil {
		e.FetchedAt = t
	}
	return &e, nil
}
