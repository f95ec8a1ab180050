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

const reservationColumns = `id, code, event_id, user_id, seats, total_amount::text,
	reservation_date, status, comment`

// ReservationRepository handles persistence for reservations.
type ReservationRepository struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewReservationRepository constructs a ReservationRepository.
func NewReservationRepository(db *pgxpool.Pool, lockTimeout time.Duration) *ReservationRepository {
	return &ReservationRepository{db: db, lockTimeout: lockTimeout}
}

func scanReservation(row pgx.Row) (model.Reservation, error) {
	var (
		res    model.Reservation
		amount string
		status string
	)
	err := row.Scan(
		&res.ID, &res.Code, &res.EventID, &res.UserID, &res.Seats, &amount,
		&res.ReservationDate, &status, &res.Comment,
	)
	if err != nil {
		return model.Reservation{}, err
	}
	res.Status = model.ReservationStatus(status)
	if res.TotalAmount, err = decimal.NewFromString(amount); err != nil {
		return model.Reservation{}, fmt.Errorf("parse total amount %q: %w", amount, err)
	}
	res.ReservationDate = res.ReservationDate.UTC()
	return res, nil
}

// Book performs a concurrency-safe reservation inside one transaction.
//
// Reading the reserved-seat total and then inserting in separate steps lets
// two requests both see the same free capacity and jointly overbook:
//
//	A: SUM(seats) → 4 of 10     B: SUM(seats) → 4 of 10
//	A: 6 ≤ 6, INSERT 6 seats    B: 6 ≤ 6, INSERT 6 seats   → 16 of 10
//
// Book takes SELECT … FOR UPDATE on the event row first. Every other Book
// (and Delete) for the same event blocks on that lock until this transaction
// commits or rolls back, so the sum read below is still true at insert time.
// Bookings for different events lock different rows and run in parallel.
//
// build receives the locked event and its current reserved-seat total and
// returns the reservation to insert, or an error to abort without writing.
func (r *ReservationRepository) Book(ctx context.Context, eventID string, build func(e model.Event, reserved int) (model.Reservation, error)) (model.Reservation, error) {
	var booked model.Reservation
	err := inTx(ctx, r.db, r.lockTimeout, "book seats", func(tx pgx.Tx) error {
		// ── Step 1: lock the event row. ───────────────────────────────────
		ev, err := scanEvent(tx.QueryRow(ctx,
			`SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, eventID,
		))
		if err != nil {
			return err
		}

		// ── Step 2: sum seats held by non-cancelled reservations. ─────────
		var reserved int
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(SUM(seats), 0) FROM reservations
			  WHERE event_id = $1 AND status <> $2`,
			eventID, string(model.ReservationCancelled),
		).Scan(&reserved); err != nil {
			return fmt.Errorf("sum reserved seats: %w", err)
		}

		// ── Step 3: business checks and the new record. ───────────────────
		res, err := build(ev, reserved)
		if err != nil {
			return err
		}

		// ── Step 4: insert; the unique index on code rejects duplicates. ──
		if _, err := tx.Exec(ctx,
			`INSERT INTO reservations (id, code, event_id, user_id, seats, total_amount,
			                           reservation_date, status, comment)
			 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9)`,
			res.ID, res.Code, res.EventID, res.UserID, res.Seats, res.TotalAmount.StringFixed(2),
			res.ReservationDate, string(res.Status), res.Comment,
		); err != nil {
			return err
		}
		booked = res
		return nil
	})
	if err != nil {
		return model.Reservation{}, err
	}
	return booked, nil
}

// GetByID returns a single reservation or ErrNotFound.
func (r *ReservationRepository) GetByID(ctx context.Context, id string) (model.Reservation, error) {
	res, err := scanReservation(r.db.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id,
	))
	if err != nil {
		return model.Reservation{}, classify("get reservation", err)
	}
	return res, nil
}

// GetByCode returns the reservation with the given code or ErrNotFound.
func (r *ReservationRepository) GetByCode(ctx context.Context, code string) (model.Reservation, error) {
	res, err := scanReservation(r.db.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE code = $1`, code,
	))
	if err != nil {
		return model.Reservation{}, classify("get reservation by code", err)
	}
	return res, nil
}

// CodeExists reports whether a reservation already uses code.
func (r *ReservationRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM reservations WHERE code = $1)`, code,
	).Scan(&exists)
	if err != nil {
		return false, classify("check reservation code", err)
	}
	return exists, nil
}

// Mutate locks the reservation row, hands it and its event to fn and writes
// back the status fn returns.
func (r *ReservationRepository) Mutate(ctx context.Context, id string, fn func(res model.Reservation, e model.Event) (model.Reservation, error)) (model.Reservation, error) {
	var updated model.Reservation
	err := inTx(ctx, r.db, r.lockTimeout, "mutate reservation", func(tx pgx.Tx) error {
		current, err := scanReservation(tx.QueryRow(ctx,
			`SELECT `+reservationColumns+` FROM reservations WHERE id = $1 FOR UPDATE`, id,
		))
		if err != nil {
			return err
		}
		ev, err := scanEvent(tx.QueryRow(ctx,
			`SELECT `+eventColumns+` FROM events WHERE id = $1`, current.EventID,
		))
		if err != nil {
			return fmt.Errorf("load reservation event: %w", err)
		}

		next, err := fn(current, ev)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE reservations SET status = $2, comment = $3 WHERE id = $1`,
			current.ID, string(next.Status), next.Comment,
		); err != nil {
			return fmt.Errorf("update reservation: %w", err)
		}
		updated = next
		return nil
	})
	if err != nil {
		return model.Reservation{}, err
	}
	return updated, nil
}

// ListByUser returns a user's reservations, most recent first.
func (r *ReservationRepository) ListByUser(ctx context.Context, userID string) ([]model.Reservation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		  WHERE user_id = $1
		  ORDER BY reservation_date DESC`,
		userID,
	)
	if err != nil {
		return nil, classify("list reservations", err)
	}
	defer rows.Close()

	var list []model.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		list = append(list, res)
	}
	return list, rows.Err()
}

// ReservedSeats sums seats of non-cancelled reservations for an event.
// Returns ErrNotFound if the event does not exist.
func (r *ReservationRepository) ReservedSeats(ctx context.Context, eventID string) (int, error) {
	var (
		exists   bool
		reserved int
	)
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM events WHERE id = $1),
		        COALESCE((SELECT SUM(seats) FROM reservations
		                   WHERE event_id = $1 AND status <> $2), 0)`,
		eventID, string(model.ReservationCancelled),
	).Scan(&exists, &reserved)
	if err != nil {
		return 0, classify("sum reserved seats", err)
	}
	if !exists {
		return 0, ErrNotFound
	}
	return reserved, nil
}
