package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/event-reservations/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const eventColumns = `id, title, description, category, start_date, end_date, venue, city,
	max_capacity, unit_price::text, image_url, status, organizer_id, created_at, updated_at`

// EventRepository handles persistence for events.
type EventRepository struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewEventRepository constructs an EventRepository. lockTimeout bounds how
// long a transaction waits for a row lock; zero leaves the server default.
func NewEventRepository(db *pgxpool.Pool, lockTimeout time.Duration) *EventRepository {
	return &EventRepository{db: db, lockTimeout: lockTimeout}
}

func scanEvent(row pgx.Row) (model.Event, error) {
	var (
		e                model.Event
		category, status string
		price            string
	)
	err := row.Scan(
		&e.ID, &e.Title, &e.Description, &category, &e.StartDate, &e.EndDate, &e.Venue, &e.City,
		&e.MaxCapacity, &price, &e.ImageURL, &status, &e.OrganizerID, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return model.Event{}, err
	}
	e.Category = model.Category(category)
	e.Status = model.EventStatus(status)
	if e.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return model.Event{}, fmt.Errorf("parse unit price %q: %w", price, err)
	}
	e.StartDate = e.StartDate.UTC()
	e.EndDate = e.EndDate.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}

func collectEvents(rows pgx.Rows) ([]model.Event, error) {
	defer rows.Close()
	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Create inserts a new event.
func (r *EventRepository) Create(ctx context.Context, e model.Event) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO events (id, title, description, category, start_date, end_date, venue, city,
		                     max_capacity, unit_price, image_url, status, organizer_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11, $12, $13, $14, $15)`,
		e.ID, e.Title, e.Description, string(e.Category), e.StartDate, e.EndDate, e.Venue, e.City,
		e.MaxCapacity, e.UnitPrice.StringFixed(2), e.ImageURL, string(e.Status), e.OrganizerID, e.CreatedAt, e.UpdatedAt,
	)
	return classify("insert event", err)
}

// GetByID returns a single event or ErrNotFound.
func (r *EventRepository) GetByID(ctx context.Context, id string) (model.Event, error) {
	e, err := scanEvent(r.db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id,
	))
	if err != nil {
		return model.Event{}, classify("get event", err)
	}
	return e, nil
}

// Mutate locks the event row, hands the current value to fn and writes back
// whatever fn returns. Nothing is written when fn fails.
func (r *EventRepository) Mutate(ctx context.Context, id string, fn func(model.Event) (model.Event, error)) (model.Event, error) {
	var updated model.Event
	err := inTx(ctx, r.db, r.lockTimeout, "mutate event", func(tx pgx.Tx) error {
		current, err := scanEvent(tx.QueryRow(ctx,
			`SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, id,
		))
		if err != nil {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE events
			    SET title = $2, description = $3, category = $4, start_date = $5, end_date = $6,
			        venue = $7, city = $8, max_capacity = $9, unit_price = $10::numeric,
			        image_url = $11, status = $12, updated_at = $13
			  WHERE id = $1`,
			current.ID, next.Title, next.Description, string(next.Category), next.StartDate, next.EndDate,
			next.Venue, next.City, next.MaxCapacity, next.UnitPrice.StringFixed(2),
			next.ImageURL, string(next.Status), next.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update event: %w", err)
		}
		updated = next
		return nil
	})
	if err != nil {
		return model.Event{}, err
	}
	return updated, nil
}

// Delete locks the event row, counts every reservation ever made against it
// and removes the event only if check approves. Reservation inserts lock the
// same row, so the count cannot change before the delete commits.
func (r *EventRepository) Delete(ctx context.Context, id string, check func(e model.Event, reservations int) error) error {
	return inTx(ctx, r.db, r.lockTimeout, "delete event", func(tx pgx.Tx) error {
		current, err := scanEvent(tx.QueryRow(ctx,
			`SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, id,
		))
		if err != nil {
			return err
		}

		var count int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM reservations WHERE event_id = $1`, id,
		).Scan(&count); err != nil {
			return fmt.Errorf("count reservations: %w", err)
		}

		if err := check(current, count); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM events WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete event: %w", err)
		}
		return nil
	})
}

// ListByStatus returns events in the given status by start date ascending.
func (r *EventRepository) ListByStatus(ctx context.Context, status model.EventStatus) ([]model.Event, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE status = $1 ORDER BY start_date ASC`,
		string(status),
	)
	if err != nil {
		return nil, classify("list events by status", err)
	}
	return collectEvents(rows)
}

// ListByCategory returns events of a category and status by start date ascending.
func (r *EventRepository) ListByCategory(ctx context.Context, category model.Category, status model.EventStatus) ([]model.Event, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+eventColumns+` FROM events
		  WHERE category = $1 AND status = $2
		  ORDER BY start_date ASC`,
		string(category), string(status),
	)
	if err != nil {
		return nil, classify("list events by category", err)
	}
	return collectEvents(rows)
}

// ListByCity returns events in a city (case-insensitive) and status by start
// date ascending.
func (r *EventRepository) ListByCity(ctx context.Context, city string, status model.EventStatus) ([]model.Event, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+eventColumns+` FROM events
		  WHERE lower(city) = lower($1) AND status = $2
		  ORDER BY start_date ASC`,
		city, string(status),
	)
	if err != nil {
		return nil, classify("list events by city", err)
	}
	return collectEvents(rows)
}

// ListByOrganizer returns every event of an organizer, newest first.
func (r *EventRepository) ListByOrganizer(ctx context.Context, organizerID string) ([]model.Event, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE organizer_id = $1 ORDER BY created_at DESC`,
		organizerID,
	)
	if err != nil {
		return nil, classify("list events by organizer", err)
	}
	return collectEvents(rows)
}

// FinishEnded moves every DRAFT or PUBLISHED event whose end date is before
// now to FINISHED and returns the events it changed.
func (r *EventRepository) FinishEnded(ctx context.Context, now time.Time) ([]model.Event, error) {
	rows, err := r.db.Query(ctx,
		`UPDATE events
		    SET status = $2, updated_at = $1
		  WHERE status IN ($3, $4) AND end_date < $1
		  RETURNING `+eventColumns,
		now, string(model.EventFinished), string(model.EventDraft), string(model.EventPublished),
	)
	if err != nil {
		return nil, classify("finish ended events", err)
	}
	events, err := collectEvents(rows)
	if err != nil {
		return nil, classify("finish ended events", err)
	}
	return events, nil
}
