package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/event-reservations/internal/apperr"
	"github.com/Shivanand-hulikatti/event-reservations/internal/model"
)

// The same behaviour is expected from the PostgreSQL and in-memory stores;
// runStoreContract exercises both.

type eventStore interface {
	Create(ctx context.Context, e model.Event) error
	GetByID(ctx context.Context, id string) (model.Event, error)
	Mutate(ctx context.Context, id string, fn func(model.Event) (model.Event, error)) (model.Event, error)
	Delete(ctx context.Context, id string, check func(e model.Event, reservations int) error) error
	ListByStatus(ctx context.Context, status model.EventStatus) ([]model.Event, error)
	ListByCategory(ctx context.Context, category model.Category, status model.EventStatus) ([]model.Event, error)
	ListByCity(ctx context.Context, city string, status model.EventStatus) ([]model.Event, error)
	ListByOrganizer(ctx context.Context, organizerID string) ([]model.Event, error)
	FinishEnded(ctx context.Context, now time.Time) ([]model.Event, error)
}

type reservationStore interface {
	Book(ctx context.Context, eventID string, build func(e model.Event, reserved int) (model.Reservation, error)) (model.Reservation, error)
	GetByID(ctx context.Context, id string) (model.Reservation, error)
	GetByCode(ctx context.Context, code string) (model.Reservation, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	Mutate(ctx context.Context, id string, fn func(res model.Reservation, e model.Event) (model.Reservation, error)) (model.Reservation, error)
	ListByUser(ctx context.Context, userID string) ([]model.Reservation, error)
	ReservedSeats(ctx context.Context, eventID string) (int, error)
}

var (
	_ eventStore       = (*EventRepository)(nil)
	_ eventStore       = (*MemoryEvents)(nil)
	_ reservationStore = (*ReservationRepository)(nil)
	_ reservationStore = (*MemoryReservations)(nil)
)

var base = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func newEvent(organizerID string, status model.EventStatus, capacity int) model.Event {
	start := base.Add(72 * time.Hour)
	return model.Event{
		ID:          uuid.NewString(),
		Title:       "Opening night",
		Description: "",
		Category:    model.CategoryTheater,
		StartDate:   start,
		EndDate:     start.Add(2 * time.Hour),
		Venue:       "Grand Hall",
		City:        "Lisbon",
		MaxCapacity: capacity,
		UnitPrice:   decimal.RequireFromString("12.50"),
		Status:      status,
		OrganizerID: organizerID,
		CreatedAt:   base,
		UpdatedAt:   base,
	}
}

var codeSeq atomic.Int64

func nextCode() string {
	return fmt.Sprintf("EVT-%05d", codeSeq.Add(1)%100000)
}

// capacityBuilder mirrors the reservation lifecycle's capacity check.
func capacityBuilder(userID, code string, seats int) func(model.Event, int) (model.Reservation, error) {
	return func(e model.Event, reserved int) (model.Reservation, error) {
		if available := e.MaxCapacity - reserved; seats > available {
			return model.Reservation{}, apperr.Conflict("Only %d seats available, requested %d", available, seats)
		}
		return model.Reservation{
			ID:              uuid.NewString(),
			Code:            code,
			EventID:         e.ID,
			UserID:          userID,
			Seats:           seats,
			TotalAmount:     e.UnitPrice.Mul(decimal.NewFromInt(int64(seats))),
			ReservationDate: base,
			Status:          model.ReservationPending,
		}, nil
	}
}

func runStoreContract(t *testing.T, setup func(t *testing.T) (eventStore, reservationStore)) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		events, reservations := setup(t)
		_, err := events.GetByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = reservations.GetByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = reservations.GetByCode(ctx, "EVT-ZZZZZ")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = reservations.ReservedSeats(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("create and read back", func(t *testing.T) {
		events, _ := setup(t)
		e := newEvent("org-1", model.EventDraft, 10)
		require.NoError(t, events.Create(ctx, e))

		got, err := events.GetByID(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, e.Title, got.Title)
		assert.True(t, e.UnitPrice.Equal(got.UnitPrice))
		assert.True(t, e.StartDate.Equal(got.StartDate))
		assert.Equal(t, model.EventDraft, got.Status)
	})

	t.Run("concurrent bookings never exceed capacity", func(t *testing.T) {
		events, reservations := setup(t)
		e := newEvent("org-1", model.EventPublished, 10)
		require.NoError(t, events.Create(ctx, e))

		var ok, full atomic.Int64
		var wg sync.WaitGroup
		for i := range 30 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := reservations.Book(ctx, e.ID, capacityBuilder(fmt.Sprintf("u-%d", i), nextCode(), 1))
				switch {
				case err == nil:
					ok.Add(1)
				case errors.Is(err, apperr.ErrConflict):
					full.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.EqualValues(t, 10, ok.Load())
		assert.EqualValues(t, 20, full.Load())
		reserved, err := reservations.ReservedSeats(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, 10, reserved)
	})

	t.Run("duplicate code", func(t *testing.T) {
		events, reservations := setup(t)
		e := newEvent("org-1", model.EventPublished, 10)
		require.NoError(t, events.Create(ctx, e))

		c := nextCode()
		_, err := reservations.Book(ctx, e.ID, capacityBuilder("u-1", c, 1))
		require.NoError(t, err)

		exists, err := reservations.CodeExists(ctx, c)
		require.NoError(t, err)
		assert.True(t, exists)

		_, err = reservations.Book(ctx, e.ID, capacityBuilder("u-2", c, 1))
		assert.ErrorIs(t, err, ErrDuplicateCode)

		reserved, err := reservations.ReservedSeats(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, reserved)
	})

	t.Run("mutate writes only on success", func(t *testing.T) {
		events, _ := setup(t)
		e := newEvent("org-1", model.EventDraft, 10)
		require.NoError(t, events.Create(ctx, e))

		_, err := events.Mutate(ctx, e.ID, func(cur model.Event) (model.Event, error) {
			cur.Title = "changed"
			return cur, apperr.Conflict("no")
		})
		assert.ErrorIs(t, err, apperr.ErrConflict)

		got, err := events.GetByID(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, e.Title, got.Title)

		updated, err := events.Mutate(ctx, e.ID, func(cur model.Event) (model.Event, error) {
			cur.Status = model.EventPublished
			cur.UpdatedAt = base.Add(time.Hour)
			return cur, nil
		})
		require.NoError(t, err)
		assert.Equal(t, model.EventPublished, updated.Status)

		got, err = events.GetByID(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, model.EventPublished, got.Status)
		assert.True(t, base.Add(time.Hour).Equal(got.UpdatedAt))
	})

	t.Run("reservation mutate and cancelled seats", func(t *testing.T) {
		events, reservations := setup(t)
		e := newEvent("org-1", model.EventPublished, 10)
		require.NoError(t, events.Create(ctx, e))
		r, err := reservations.Book(ctx, e.ID, capacityBuilder("u-1", nextCode(), 4))
		require.NoError(t, err)

		updated, err := reservations.Mutate(ctx, r.ID, func(res model.Reservation, ev model.Event) (model.Reservation, error) {
			assert.Equal(t, e.ID, ev.ID)
			res.Status = model.ReservationCancelled
			return res, nil
		})
		require.NoError(t, err)
		assert.Equal(t, model.ReservationCancelled, updated.Status)

		reserved, err := reservations.ReservedSeats(ctx, e.ID)
		require.NoError(t, err)
		assert.Zero(t, reserved)

		byCode, err := reservations.GetByCode(ctx, r.Code)
		require.NoError(t, err)
		assert.Equal(t, model.ReservationCancelled, byCode.Status)
		assert.True(t, decimal.RequireFromString("50.00").Equal(byCode.TotalAmount))
	})

	t.Run("delete counts every reservation", func(t *testing.T) {
		events, reservations := setup(t)
		e := newEvent("org-1", model.EventPublished, 10)
		require.NoError(t, events.Create(ctx, e))
		r, err := reservations.Book(ctx, e.ID, capacityBuilder("u-1", nextCode(), 1))
		require.NoError(t, err)
		_, err = reservations.Mutate(ctx, r.ID, func(res model.Reservation, _ model.Event) (model.Reservation, error) {
			res.Status = model.ReservationCancelled
			return res, nil
		})
		require.NoError(t, err)

		var seen int
		err = events.Delete(ctx, e.ID, func(_ model.Event, n int) error {
			seen = n
			return apperr.Conflict("Cannot delete event with %d existing reservation(s)", n)
		})
		assert.ErrorIs(t, err, apperr.ErrConflict)
		assert.Equal(t, 1, seen)

		empty := newEvent("org-1", model.EventDraft, 10)
		require.NoError(t, events.Create(ctx, empty))
		require.NoError(t, events.Delete(ctx, empty.ID, func(model.Event, int) error { return nil }))
		_, err = events.GetByID(ctx, empty.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("finish ended", func(t *testing.T) {
		events, _ := setup(t)
		draft := newEvent("org-1", model.EventDraft, 10)
		published := newEvent("org-1", model.EventPublished, 10)
		cancelled := newEvent("org-1", model.EventCancelled, 10)
		future := newEvent("org-1", model.EventPublished, 10)
		future.StartDate = future.StartDate.Add(24 * time.Hour)
		future.EndDate = future.EndDate.Add(24 * time.Hour)
		for _, e := range []model.Event{draft, published, cancelled, future} {
			require.NoError(t, events.Create(ctx, e))
		}

		now := published.EndDate.Add(time.Minute)
		finished, err := events.FinishEnded(ctx, now)
		require.NoError(t, err)
		assert.Len(t, finished, 2)
		for _, e := range finished {
			assert.Equal(t, model.EventFinished, e.Status)
			assert.True(t, now.Equal(e.UpdatedAt))
		}

		again, err := events.FinishEnded(ctx, now)
		require.NoError(t, err)
		assert.Empty(t, again)

		got, err := events.GetByID(ctx, future.ID)
		require.NoError(t, err)
		assert.Equal(t, model.EventPublished, got.Status)
	})

	t.Run("listing order", func(t *testing.T) {
		events, reservations := setup(t)
		organizer := "org-" + uuid.NewString()
		var ids []string
		for i := range 3 {
			e := newEvent(organizer, model.EventPublished, 10)
			e.StartDate = e.StartDate.Add(time.Duration(3-i) * time.Hour)
			e.EndDate = e.StartDate.Add(time.Hour)
			e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			e.City = "Porto"
			require.NoError(t, events.Create(ctx, e))
			ids = append(ids, e.ID)
		}

		byOrganizer, err := events.ListByOrganizer(ctx, organizer)
		require.NoError(t, err)
		require.Len(t, byOrganizer, 3)
		assert.Equal(t, []string{ids[2], ids[1], ids[0]}, eventIDs(byOrganizer))

		byCity, err := events.ListByCity(ctx, "porto", model.EventPublished)
		require.NoError(t, err)
		assert.Equal(t, []string{ids[2], ids[1], ids[0]}, eventIDs(byCity), "start date ascending")

		byCategory, err := events.ListByCategory(ctx, model.CategoryTheater, model.EventPublished)
		require.NoError(t, err)
		assert.Subset(t, eventIDs(byCategory), ids)

		user := "user-" + uuid.NewString()
		first, err := reservations.Book(ctx, ids[0], capacityBuilder(user, nextCode(), 1))
		require.NoError(t, err)
		second, err := reservations.Book(ctx, ids[1], func(e model.Event, reserved int) (model.Reservation, error) {
			r, err := capacityBuilder(user, nextCode(), 1)(e, reserved)
			r.ReservationDate = base.Add(time.Hour)
			return r, err
		})
		require.NoError(t, err)

		mine, err := reservations.ListByUser(ctx, user)
		require.NoError(t, err)
		require.Len(t, mine, 2)
		assert.Equal(t, second.ID, mine[0].ID)
		assert.Equal(t, first.ID, mine[1].ID)
	})
}

func eventIDs(events []model.Event) []string {
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	return ids
}
