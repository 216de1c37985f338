package sqlite

import (
	"context"
	"strings"
	"time"

	shell "github.com/eugener/shellcache/internal"
)

// InsertFetchRecords batch-inserts served-request records.
func (s *Store) InsertFetchRecords(ctx context.Context, records []shell.FetchRecord) error {
	if len(records) == 0 {
		return nil
	}

	// cols must match the number of columns in the INSERT below.
	// Single multi-row INSERT avoids N round-trips for large batches.
	const cols = 8
	placeholders := make([]string, len(records))
	args := make([]any, 0, len(records)*cols)

	for i, r := range records {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			r.ID, r.Key, r.Class, string(r.CacheStatus),
			r.HTTPStatus, r.LatencyMs, r.RequestID,
			r.CreatedAt.UTC().Format(time.RFC3339),
		)
	}

	query := `INSERT INTO fetch_log
		(id, key, class, cache_status, http_status, latency_ms, request_id, created_at)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// FetchStats aggregates the fetch log for the admin stats endpoint.
func (s *Store) FetchStats(ctx context.Context) (*shell.FetchStats, error) {
	stats := &shell.FetchStats{Class: make(map[string]int64)}

	rows, err := s.read.QueryContext(ctx,
		`SELECT class, cache_status, COUNT(*) FROM fetch_log GROUP BY class, cache_status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var class, status string
		var n int64
		if err := rows.Scan(&class, &status, &n); err != nil {
			return nil, err
		}
		stats.Total += n
		stats.Class[class] += n
		switch shell.CacheStatus(status) {
		case shell.CacheHit:
			stats.Hits += n
		case shell.CacheMiss:
			stats.Misses += n
		case shell.CacheBypass:
			stats.Bypass += n
		}
	}
	return stats, rows.Err()
}

// PruneFetchLog deletes records older than cutoff.
func (s *Store) PruneFetchLog(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.write.ExecContext(ctx,
		`DELETE FROM fetch_log WHERE created_at < ?`,
		cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
