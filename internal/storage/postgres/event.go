package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/islemulti/internal/game/entity"
	"github.com/cory-johannsen/islemulti/internal/journal"
)

var eventColumns = []string{
	"id", "session_id", "conn_id", "kind", "name",
	"pos_x", "pos_y", "pos_z", "dir_x", "dir_y", "dir_z", "at",
}

// EventRepository persists journal events to the session_events table.
type EventRepository struct {
	db *pgxpool.Pool
}

// NewEventRepository creates an EventRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

// Append inserts events in a single COPY.
//
// Postcondition: Either every event is stored or none is and a non-nil error is returned.
func (r *EventRepository) Append(ctx context.Context, events []journal.Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := pgx.CopyFromSlice(len(events), func(i int) ([]any, error) {
		ev := events[i]
		return []any{
			ev.ID, ev.SessionID, ev.ConnID, string(ev.Kind), ev.Name,
			ev.Position.X, ev.Position.Y, ev.Position.Z,
			ev.Direction.X, ev.Direction.Y, ev.Direction.Z,
			ev.At,
		}, nil
	})
	n, err := r.db.CopyFrom(ctx, pgx.Identifier{"session_events"}, eventColumns, rows)
	if err != nil {
		return fmt.Errorf("copying %d session events: %w", len(events), err)
	}
	if int(n) != len(events) {
		return fmt.Errorf("copying session events: wrote %d of %d", n, len(events))
	}
	return nil
}

// Recent returns up to limit events, newest first.
//
// Precondition: limit must be > 0.
// Postcondition: Returns the events or a non-nil error.
func (r *EventRepository) Recent(ctx context.Context, limit int) ([]journal.Event, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, session_id, conn_id, kind, name,
		       pos_x, pos_y, pos_z, dir_x, dir_y, dir_z, at
		FROM session_events
		ORDER BY at DESC, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying session events: %w", err)
	}
	defer rows.Close()

	var events []journal.Event
	for rows.Next() {
		var (
			ev   journal.Event
			kind string
			pos  entity.Position
			dir  entity.Direction
		)
		if err := rows.Scan(
			&ev.ID, &ev.SessionID, &ev.ConnID, &kind, &ev.Name,
			&pos.X, &pos.Y, &pos.Z, &dir.X, &dir.Y, &dir.Z, &ev.At,
		); err != nil {
			return nil, fmt.Errorf("scanning session event: %w", err)
		}
		ev.Kind = journal.Kind(kind)
		ev.Position = pos
		ev.Direction = dir
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session events: %w", err)
	}
	return events, nil
}
