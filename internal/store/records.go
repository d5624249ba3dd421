package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/standby/internal/waitlsn"
)

// Record is one entry of the replicated log. LSN is assigned by the
// upstream writer and is unique; Payload is opaque to the store.
type Record struct {
	LSN       waitlsn.LSN
	Kind      string
	Payload   []byte
	CreatedAt time.Time
}

// Append inserts a record. Uses ON CONFLICT(lsn) DO NOTHING for idempotency:
// re-appending an LSN already present is silently ignored, so a restarted
// feed can replay its tail without bookkeeping.
func (s *Store) Append(ctx context.Context, rec Record) error {
	if rec.LSN == waitlsn.InvalidLSN || rec.LSN == waitlsn.InfiniteLSN {
		return fmt.Errorf("append record: unusable LSN %s", rec.LSN)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (lsn, kind, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(lsn) DO NOTHING
	`, int64(rec.LSN), rec.Kind, rec.Payload)
	if err != nil {
		return fmt.Errorf("append record %s: %w", rec.LSN, err)
	}
	return nil
}

// ReadBatch returns up to limit records with LSN strictly greater than
// after, in ascending LSN order. An empty result means the log has no
// records past that position yet.
func (s *Store) ReadBatch(ctx context.Context, after waitlsn.LSN, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT lsn, kind, payload, created_at
		FROM records
		WHERE lsn > ?
		ORDER BY lsn ASC
		LIMIT ?
	`, int64(after), limit)
	if err != nil {
		return nil, fmt.Errorf("read batch after %s: %w", after, err)
	}
	defer rows.Close()

	var batch []Record
	for rows.Next() {
		var (
			lsn     int64
			rec     Record
			created string
		)
		if err := rows.Scan(&lsn, &rec.Kind, &rec.Payload, &created); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.LSN = waitlsn.LSN(lsn)
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			rec.CreatedAt = t
		}
		batch = append(batch, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read batch after %s: %w", after, err)
	}
	return batch, nil
}

// MaxLSN returns the highest LSN in the log, or InvalidLSN when empty.
func (s *Store) MaxLSN(ctx context.Context) (waitlsn.LSN, error) {
	var max int64
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(lsn), 0) FROM records").Scan(&max)
	if err != nil {
		return waitlsn.InvalidLSN, fmt.Errorf("max lsn: %w", err)
	}
	return waitlsn.LSN(max), nil
}

// Count returns the number of records in the log.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}
