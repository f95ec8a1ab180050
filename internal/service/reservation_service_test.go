package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/event-reservations/internal/apperr"
	"github.com/Shivanand-hulikatti/event-reservations/internal/code"
	"github.com/Shivanand-hulikatti/event-reservations/internal/model"
	"github.com/Shivanand-hulikatti/event-reservations/internal/notify"
	"github.com/Shivanand-hulikatti/event-reservations/internal/repository"
)

func TestCreateReservation(t *testing.T) {
	f := newFixture(t)
	e := f.publishedEvent(t, 10, "19.99")
	f.clock.Advance(time.Minute)

	r, err := f.reservations.Create(context.Background(), client, e.ID, model.CreateReservationRequest{
		Seats:   3,
		Comment: "  aisle please ",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, r.ID)
	assert.True(t, code.Valid(r.Code), r.Code)
	assert.Equal(t, e.ID, r.EventID)
	assert.Equal(t, client.ID, r.UserID)
	assert.Equal(t, 3, r.Seats)
	assert.Equal(t, "59.97", r.TotalAmount.StringFixed(2))
	assert.Equal(t, model.ReservationPending, r.Status)
	assert.Equal(t, t0.Add(time.Minute), r.ReservationDate)
	assert.Equal(t, "aisle please", r.Comment)
	assert.Equal(t, []notify.Type{notify.EventPublished, notify.ReservationCreated}, f.notifier.seen())

	reserved, err := f.reservations.TotalReservedSeats(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, reserved)
}

func TestCreateReservationRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	published := f.publishedEvent(t, 10, "10.00")
	draft := f.draftEvent(t, organizer, 10, "10.00")

	tests := []struct {
		name    string
		actor   model.Actor
		eventID string
		req     model.CreateReservationRequest
		kind    error
		msg     string
	}{
		{"zero seats", client, published.ID, model.CreateReservationRequest{Seats: 0},
			apperr.ErrConflict, "Number of seats must be between 1 and 10"},
		{"eleven seats", client, published.ID, model.CreateReservationRequest{Seats: 11},
			apperr.ErrConflict, "Number of seats must be between 1 and 10"},
		{"missing event", client, "missing", model.CreateReservationRequest{Seats: 1},
			apperr.ErrNotFound, "Event not found"},
		{"draft event", client, draft.ID, model.CreateReservationRequest{Seats: 1},
			apperr.ErrConflict, "Event must be PUBLISHED to make reservations"},
		{"comment too long", client, published.ID, model.CreateReservationRequest{Seats: 1, Comment: strings.Repeat("x", 501)},
			apperr.ErrInvalid, "Comment must be at most 500 characters"},
		{"unknown role", model.Actor{ID: "u", Role: "GUEST"}, published.ID, model.CreateReservationRequest{Seats: 1},
			apperr.ErrForbidden, "Only authenticated users can make reservations"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.reservations.Create(ctx, tt.actor, tt.eventID, tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
			assert.Equal(t, tt.msg, apperr.Message(err))
		})
	}

	reserved, err := f.reservations.TotalReservedSeats(ctx, published.ID)
	require.NoError(t, err)
	assert.Zero(t, reserved, "failed creations must not write")
}

func TestCreateReservationEndedButNotSwept(t *testing.T) {
	f := newFixture(t)
	e := f.publishedEvent(t, 10, "10.00")
	f.clock.Set(e.EndDate.Add(time.Minute))

	_, err := f.reservations.Create(context.Background(), client, e.ID, model.CreateReservationRequest{Seats: 1})
	assert.True(t, errors.Is(err, apperr.ErrConflict))
	assert.Equal(t, "Event has already finished", apperr.Message(err))
}

func TestCapacityExceededMessage(t *testing.T) {
	f := newFixture(t)
	e := f.publishedEvent(t, 10, "10.00")
	f.reserve(t, client, e.ID, 6)

	_, err := f.reservations.Create(context.Background(), otherClient, e.ID, model.CreateReservationRequest{Seats: 6})
	assert.True(t, errors.Is(err, apperr.ErrConflict))
	assert.Equal(t, "Only 4 seats available, requested 6", apperr.Message(err))

	f.reserve(t, otherClient, e.ID, 4)
	_, err = f.reservations.Create(context.Background(), otherClient, e.ID, model.CreateReservationRequest{Seats: 1})
	assert.Equal(t, "Only 0 seats available, requested 1", apperr.Message(err))
}

func TestConcurrentReservationsTwoOfSix(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.publishedEvent(t, 10, "10.00")

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, actor := range []model.Actor{client, otherClient} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.reservations.Create(ctx, actor, e.ID, model.CreateReservationRequest{Seats: 6})
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, apperr.ErrConflict))
		assert.Equal(t, "Only 4 seats available, requested 6", apperr.Message(err))
	}
	assert.Equal(t, 1, succeeded)

	reserved, err := f.reservations.TotalReservedSeats(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, reserved)
}

func TestConcurrentReservationsNeverOverbook(t *testing.T) {
	ctx := context.Background()

	t.Run("single seats fill capacity exactly", func(t *testing.T) {
		f := newFixture(t)
		const capacity, callers = 25, 60
		e := f.publishedEvent(t, capacity, "10.00")

		var ok, conflicts atomic.Int64
		var wg sync.WaitGroup
		for i := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				actor := model.Actor{ID: fmt.Sprintf("user-%d", i), Role: model.RoleClient}
				_, err := f.reservations.Create(ctx, actor, e.ID, model.CreateReservationRequest{Seats: 1})
				switch {
				case err == nil:
					ok.Add(1)
				case errors.Is(err, apperr.ErrConflict):
					conflicts.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.EqualValues(t, capacity, ok.Load())
		assert.EqualValues(t, callers-capacity, conflicts.Load())
		reserved, err := f.reservations.TotalReservedSeats(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, capacity, reserved)
	})

	t.Run("mixed seat counts", func(t *testing.T) {
		f := newFixture(t)
		const capacity, callers = 37, 50
		e := f.publishedEvent(t, capacity, "10.00")

		var booked atomic.Int64
		var wg sync.WaitGroup
		for i := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				seats := i%10 + 1
				actor := model.Actor{ID: fmt.Sprintf("user-%d", i), Role: model.RoleClient}
				_, err := f.reservations.Create(ctx, actor, e.ID, model.CreateReservationRequest{Seats: seats})
				if err == nil {
					booked.Add(int64(seats))
					return
				}
				if !errors.Is(err, apperr.ErrConflict) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		reserved, err := f.reservations.TotalReservedSeats(ctx, e.ID)
		require.NoError(t, err)
		assert.LessOrEqual(t, reserved, capacity)
		assert.EqualValues(t, booked.Load(), reserved)
	})
}

func TestTotalAmountExact(t *testing.T) {
	prices := []string{"0.00", "0.01", "9.99", "19.99", "33.33", "1234.56", "99999999.99"}
	for _, p := range prices {
		price := decimal.RequireFromString(p)
		for seats := MinSeatsPerReservation; seats <= MaxSeatsPerReservation; seats++ {
			want := price.Mul(decimal.NewFromInt(int64(seats)))
			got := TotalAmount(price, seats)
			assert.True(t, want.Equal(got), "%s x %d: want %s, got %s", p, seats, want, got)
		}
	}
	assert.Equal(t, "199.90", TotalAmount(decimal.RequireFromString("19.99"), 10).StringFixed(2))
}

func TestTotalAmountThroughCreate(t *testing.T) {
	f := newFixture(t)
	e := f.publishedEvent(t, 100, "33.33")
	for seats := 1; seats <= 10; seats++ {
		r := f.reserve(t, model.Actor{ID: fmt.Sprintf("u-%d", seats), Role: model.RoleClient}, e.ID, seats)
		assert.True(t, e.UnitPrice.Mul(decimal.NewFromInt(int64(seats))).Equal(r.TotalAmount))
	}
}

func TestConfirmReservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.publishedEvent(t, 10, "10.00")
	r := f.reserve(t, client, e.ID, 2)

	_, err := f.reservations.Confirm(ctx, client, r.ID)
	assert.True(t, errors.Is(err, apperr.ErrForbidden), "owner cannot confirm")
	assert.Equal(t, "Only event organizer or admin can confirm reservations", apperr.Message(err))

	_, err = f.reservations.Confirm(ctx, otherOrganizer, r.ID)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	confirmed, err := f.reservations.Confirm(ctx, organizer, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationConfirmed, confirmed.Status)
	assert.Equal(t, r.Code, confirmed.Code)

	_, err = f.reservations.Confirm(ctx, admin, r.ID)
	assert.True(t, errors.Is(err, apperr.ErrConflict))
	assert.Equal(t, "Only PENDING reservations can be confirmed", apperr.Message(err))

	other := f.reserve(t, otherClient, e.ID, 1)
	_, err = f.reservations.Cancel(ctx, otherClient, other.ID)
	require.NoError(t, err)
	_, err = f.reservations.Confirm(ctx, admin, other.ID)
	assert.Equal(t, "Only PENDING reservations can be confirmed", apperr.Message(err))

	_, err = f.reservations.Confirm(ctx, admin, "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.Equal(t, "Reservation not found", apperr.Message(err))
}

func TestCancelReservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.publishedEvent(t, 5, "10.00")
	r := f.reserve(t, client, e.ID, 5)

	_, err := f.reservations.Cancel(ctx, admin, r.ID)
	assert.True(t, errors.Is(err, apperr.ErrForbidden), "admins cannot cancel for users")
	assert.Equal(t, "You can only cancel your own reservations", apperr.Message(err))

	_, err = f.reservations.Create(ctx, otherClient, e.ID, model.CreateReservationRequest{Seats: 1})
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	cancelled, err := f.reservations.Cancel(ctx, client, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationCancelled, cancelled.Status)

	_, err = f.reservations.Cancel(ctx, client, r.ID)
	assert.True(t, errors.Is(err, apperr.ErrConflict))
	assert.Equal(t, "Reservation is already cancelled", apperr.Message(err))

	f.reserve(t, otherClient, e.ID, 5)
}

func TestCancelReservationWindow(t *testing.T) {
	tests := []struct {
		name    string
		before  time.Duration
		wantErr bool
		wantMsg string
	}{
		{"48h and one minute", CancellationWindow + time.Minute, false, ""},
		{"a week", 7 * 24 * time.Hour, false, ""},
		{"exactly 48h", CancellationWindow, true,
			"Cannot cancel reservation. Event starts in 48 hours. Minimum 48 hours required."},
		{"47h59m", CancellationWindow - time.Minute, true,
			"Cannot cancel reservation. Event starts in 47 hours. Minimum 48 hours required."},
		{"ten hours", 10 * time.Hour, true,
			"Cannot cancel reservation. Event starts in 10 hours. Minimum 48 hours required."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			e := f.publishedEvent(t, 10, "10.00")
			r := f.reserve(t, client, e.ID, 1)

			f.clock.Set(e.StartDate.Add(-tt.before))
			_, err := f.reservations.Cancel(context.Background(), client, r.ID)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, apperr.ErrConflict))
			assert.Equal(t, tt.wantMsg, apperr.Message(err))
		})
	}
}

func TestFindReservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.publishedEvent(t, 10, "10.00")
	r := f.reserve(t, client, e.ID, 1)

	byID, err := f.reservations.FindByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r, byID)

	byCode, err := f.reservations.FindByCode(ctx, " "+strings.ToLower(r.Code)+" ")
	require.NoError(t, err)
	assert.Equal(t, r.ID, byCode.ID)

	for _, c := range []string{"EVT-", "nonsense", "EVT-00000"} {
		_, err := f.reservations.FindByCode(ctx, c)
		assert.True(t, errors.Is(err, apperr.ErrNotFound), c)
		assert.Equal(t, "Reservation not found", apperr.Message(err))
	}

	_, err = f.reservations.FindByID(ctx, "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestViewReservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.publishedEvent(t, 10, "10.00")
	r := f.reserve(t, client, e.ID, 1)

	for _, actor := range []model.Actor{client, organizer, admin} {
		got, err := f.reservations.View(ctx, actor, r.ID)
		require.NoError(t, err, actor.ID)
		assert.Equal(t, r.ID, got.ID)
	}

	for _, actor := range []model.Actor{otherClient, otherOrganizer} {
		_, err := f.reservations.View(ctx, actor, r.ID)
		assert.True(t, errors.Is(err, apperr.ErrForbidden), actor.ID)
		assert.Equal(t, "You can only view your own reservations", apperr.Message(err))
	}

	_, err := f.reservations.View(ctx, client, "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestListByUserWithDetails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.PutUser(model.User{ID: organizer.ID, FirstName: "Ada", LastName: "Lovelace", Role: model.RoleOrganizer})

	first := f.publishedEvent(t, 10, "10.00")

	req := eventRequest(f.clock.Now(), 10, "20.00")
	second, err := f.events.Create(ctx, otherOrganizer, req)
	require.NoError(t, err)
	_, err = f.events.Publish(ctx, otherOrganizer, second.ID)
	require.NoError(t, err)

	older := f.reserve(t, client, first.ID, 1)
	f.clock.Advance(time.Minute)
	newer := f.reserve(t, client, second.ID, 2)
	f.clock.Advance(time.Minute)
	f.reserve(t, otherClient, first.ID, 1)

	plain, err := f.reservations.ListByUser(ctx, client.ID)
	require.NoError(t, err)
	require.Len(t, plain, 2)
	assert.Equal(t, newer.ID, plain[0].ID)
	assert.Equal(t, older.ID, plain[1].ID)

	details, err := f.reservations.ListByUserWithDetails(ctx, client.ID)
	require.NoError(t, err)
	require.Len(t, details, 2)

	assert.Equal(t, newer.ID, details[0].ID)
	assert.Equal(t, second.ID, details[0].Event.ID)
	assert.Equal(t, otherOrganizer.ID, details[0].Organizer.ID, "unknown organizer keeps its id")
	assert.Empty(t, details[0].Organizer.FirstName)

	assert.Equal(t, older.ID, details[1].ID)
	assert.Equal(t, first.Title, details[1].Event.Title)
	assert.Equal(t, "Ada Lovelace", details[1].Organizer.FullName())

	none, err := f.reservations.ListByUserWithDetails(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCodeExhausted(t *testing.T) {
	f := newFixture(t)
	f.reservations.WithAllocator(code.New(
		code.WithIntn(func(int) int { return 0 }),
		code.WithMaxAttempts(3),
	))
	e := f.publishedEvent(t, 10, "10.00")

	r := f.reserve(t, client, e.ID, 1)
	assert.Equal(t, "EVT-AAAAA", r.Code)

	_, err := f.reservations.Create(context.Background(), otherClient, e.ID, model.CreateReservationRequest{Seats: 1})
	assert.True(t, errors.Is(err, apperr.ErrCodeExhausted))
	assert.Equal(t, "failed to generate unique reservation code after 3 attempts", apperr.Message(err))
}

// blindCodes hides existing codes from the advisory lookup so that
// collisions surface at insert time.
type blindCodes struct {
	*repository.MemoryReservations
}

func (blindCodes) CodeExists(context.Context, string) (bool, error) { return false, nil }

func TestDuplicateCodeAtInsertIsRetried(t *testing.T) {
	f := newFixture(t)
	store := blindCodes{f.store.Reservations()}

	var calls atomic.Int64
	svc := NewReservationService(f.store.Events(), store, f.store.Users(), testOptions(f.clock, nil)).
		WithAllocator(code.New(code.WithIntn(func(int) int {
			// Two EVT-AAAAA candidates, then EVT-BBBBB.
			if calls.Add(1) <= 2*code.Length {
				return 0
			}
			return 1
		})))
	e := f.publishedEvent(t, 10, "10.00")

	first, err := svc.Create(context.Background(), client, e.ID, model.CreateReservationRequest{Seats: 1})
	require.NoError(t, err)
	assert.Equal(t, "EVT-AAAAA", first.Code)

	second, err := svc.Create(context.Background(), otherClient, e.ID, model.CreateReservationRequest{Seats: 1})
	require.NoError(t, err)
	assert.Equal(t, "EVT-BBBBB", second.Code)
}

// collidingCodes reports every tenth lookup as free, and rejects every
// insert as a duplicate code.
type collidingCodes struct {
	*repository.MemoryReservations
	lookups atomic.Int64
	books   atomic.Int64
}

func (s *collidingCodes) CodeExists(context.Context, string) (bool, error) {
	return s.lookups.Add(1)%10 != 0, nil
}

func (s *collidingCodes) Book(context.Context, string, func(model.Event, int) (model.Reservation, error)) (model.Reservation, error) {
	s.books.Add(1)
	return model.Reservation{}, fmt.Errorf("insert reservation: %w", repository.ErrDuplicateCode)
}

func TestCodeBudgetSharedAcrossLookupAndInsert(t *testing.T) {
	f := newFixture(t)
	store := &collidingCodes{MemoryReservations: f.store.Reservations()}
	svc := NewReservationService(f.store.Events(), store, f.store.Users(), testOptions(f.clock, nil))
	e := f.publishedEvent(t, 10, "10.00")

	_, err := svc.Create(context.Background(), client, e.ID, model.CreateReservationRequest{Seats: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrCodeExhausted))
	assert.Equal(t, "failed to generate unique reservation code after 100 attempts", apperr.Message(err))
	assert.EqualValues(t, code.DefaultMaxAttempts, store.lookups.Load(), "one budget for every candidate")
	assert.EqualValues(t, 10, store.books.Load())
}

// flakyBook fails Book with a transient error a fixed number of times.
type flakyBook struct {
	*repository.MemoryReservations
	failures atomic.Int64
	calls    atomic.Int64
}

func (s *flakyBook) Book(ctx context.Context, eventID string, build func(model.Event, int) (model.Reservation, error)) (model.Reservation, error) {
	s.calls.Add(1)
	if s.failures.Add(-1) >= 0 {
		return model.Reservation{}, fmt.Errorf("book seats: %w: lock timeout", repository.ErrTransient)
	}
	return s.MemoryReservations.Book(ctx, eventID, build)
}

func TestTransientFailuresAreRetried(t *testing.T) {
	ctx := context.Background()

	t.Run("recovers within budget", func(t *testing.T) {
		f := newFixture(t)
		store := &flakyBook{MemoryReservations: f.store.Reservations()}
		store.failures.Store(2)
		svc := NewReservationService(f.store.Events(), store, f.store.Users(), testOptions(f.clock, nil))
		e := f.publishedEvent(t, 10, "10.00")

		_, err := svc.Create(ctx, client, e.ID, model.CreateReservationRequest{Seats: 1})
		require.NoError(t, err)
		assert.EqualValues(t, 3, store.calls.Load())
	})

	t.Run("surfaces conflict when contention persists", func(t *testing.T) {
		f := newFixture(t)
		store := &flakyBook{MemoryReservations: f.store.Reservations()}
		store.failures.Store(100)
		svc := NewReservationService(f.store.Events(), store, f.store.Users(), testOptions(f.clock, nil))
		e := f.publishedEvent(t, 10, "10.00")

		_, err := svc.Create(ctx, client, e.ID, model.CreateReservationRequest{Seats: 1})
		require.Error(t, err)
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
		assert.True(t, errors.Is(err, apperr.ErrTransient))
		assert.True(t, errors.Is(err, repository.ErrTransient))
		assert.EqualValues(t, 4, store.calls.Load(), "one call plus three retries")
	})
}

// stuckBook blocks until the per-call deadline expires.
type stuckBook struct {
	*repository.MemoryReservations
}

func (stuckBook) Book(ctx context.Context, _ string, _ func(model.Event, int) (model.Reservation, error)) (model.Reservation, error) {
	<-ctx.Done()
	return model.Reservation{}, fmt.Errorf("book seats: %w: %w", repository.ErrTransient, ctx.Err())
}

func TestStoreCallsAreBounded(t *testing.T) {
	f := newFixture(t)
	opts := testOptions(f.clock, nil)
	opts.StoreTimeout = 10 * time.Millisecond
	opts.MaxRetries = 1
	svc := NewReservationService(f.store.Events(), stuckBook{f.store.Reservations()}, f.store.Users(), opts)
	e := f.publishedEvent(t, 10, "10.00")

	start := time.Now()
	_, err := svc.Create(context.Background(), client, e.ID, model.CreateReservationRequest{Seats: 1})
	assert.True(t, errors.Is(err, apperr.ErrConflict))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 2*time.Second)
}
