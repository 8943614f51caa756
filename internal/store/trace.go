package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgerrcode"
)

// ErrInvalidThumb indicates a feedback thumb outside {up, down}.
var ErrInvalidThumb = errors.New("feedback thumb must be \"up\" or \"down\"")

// Feedback thumb values.
const (
	ThumbUp   = "up"
	ThumbDown = "down"
)

// SaveTrace stores one immutable trace payload under id. The payload is
// JSON-marshaled as-is; traces are never updated after creation, so a
// replayed id keeps its first payload.
func (s *Store) SaveTrace(ctx context.Context, id string, payload any) error {
	if id == "" {
		return fmt.Errorf("trace id is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding trace payload: %w", err)
	}
	if _, err := s.db.Exec(ctx,
		`INSERT INTO traces (id, payload) VALUES ($1, $2)
		 ON CONFLICT (id) DO NOTHING`,
		id, data,
	); err != nil {
		return fmt.Errorf("inserting trace %s: %w", id, err)
	}
	return nil
}

// Trace returns the stored payload for a trace id, or ErrNotFound.
func (s *Store) Trace(ctx context.Context, id string) (json.RawMessage, error) {
	var payload json.RawMessage
	err := s.db.QueryRow(ctx,
		`SELECT payload FROM traces WHERE id = $1`, id,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("trace %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying trace %s: %w", id, err)
	}
	return payload, nil
}

// AddFeedback records a thumb and optional comment against an existing
// trace. An unknown trace id is ErrNotFound; nothing is inserted.
func (s *Store) AddFeedback(ctx context.Context, traceID, thumb, comment string) error {
	if traceID == "" {
		return fmt.Errorf("trace id is required")
	}
	if thumb != ThumbUp && thumb != ThumbDown {
		return fmt.Errorf("%w: got %q", ErrInvalidThumb, thumb)
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO feedback (trace_id, thumb, comment) VALUES ($1, $2, $3)`,
		traceID, thumb, comment,
	)
	if err != nil {
		// The trace_id foreign key doubles as the existence check.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return fmt.Errorf("trace %s: %w", traceID, ErrNotFound)
		}
		return fmt.Errorf("inserting feedback for trace %s: %w", traceID, err)
	}
	return nil
}
