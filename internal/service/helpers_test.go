package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/event-reservations/internal/clock"
	"github.com/Shivanand-hulikatti/event-reservations/internal/model"
	"github.com/Shivanand-hulikatti/event-reservations/internal/notify"
	"github.com/Shivanand-hulikatti/event-reservations/internal/repository"
)

var t0 = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

var (
	admin          = model.Actor{ID: "admin-1", Role: model.RoleAdmin}
	organizer      = model.Actor{ID: "org-1", Role: model.RoleOrganizer}
	otherOrganizer = model.Actor{ID: "org-2", Role: model.RoleOrganizer}
	client         = model.Actor{ID: "client-1", Role: model.RoleClient}
	otherClient    = model.Actor{ID: "client-2", Role: model.RoleClient}
)

type recordingNotifier struct {
	mu    sync.Mutex
	types []notify.Type
}

func (r *recordingNotifier) Notify(_ context.Context, t notify.Type, _ any) error {
	r.mu.Lock()
	r.types = append(r.types, t)
	r.mu.Unlock()
	return nil
}

func (r *recordingNotifier) seen() []notify.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Type(nil), r.types...)
}

type fixture struct {
	clock        *clock.FakeClock
	store        *repository.Memory
	notifier     *recordingNotifier
	events       *EventService
	reservations *ReservationService
}

func testOptions(clk clock.Clock, n notify.Notifier) Options {
	return Options{
		Clock:                clk,
		Notifier:             n,
		Logger:               zap.NewNop(),
		StoreTimeout:         time.Second,
		MaxRetries:           3,
		RetryInitialInterval: time.Millisecond,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:    clock.Fake(t0),
		store:    repository.NewMemory(),
		notifier: &recordingNotifier{},
	}
	opts := testOptions(f.clock, f.notifier)
	f.events = NewEventService(f.store.Events(), f.store.Reservations(), f.store.Users(), opts)
	f.reservations = NewReservationService(f.store.Events(), f.store.Reservations(), f.store.Users(), opts)
	return f
}

func eventRequest(now time.Time, capacity int, price string) model.CreateEventRequest {
	start := now.Add(7 * 24 * time.Hour)
	return model.CreateEventRequest{
		Title:       "Jazz Night",
		Description: "An evening of live jazz",
		Category:    model.CategoryConcert,
		StartDate:   start,
		EndDate:     start.Add(3 * time.Hour),
		Venue:       "Blue Room",
		City:        "Lyon",
		MaxCapacity: capacity,
		UnitPrice:   decimal.RequireFromString(price),
	}
}

func (f *fixture) draftEvent(t *testing.T, actor model.Actor, capacity int, price string) model.Event {
	t.Helper()
	e, err := f.events.Create(context.Background(), actor, eventRequest(f.clock.Now(), capacity, price))
	require.NoError(t, err)
	return e
}

func (f *fixture) publishedEvent(t *testing.T, capacity int, price string) model.Event {
	t.Helper()
	e := f.draftEvent(t, organizer, capacity, price)
	e, err := f.events.Publish(context.Background(), organizer, e.ID)
	require.NoError(t, err)
	return e
}

func (f *fixture) reserve(t *testing.T, actor model.Actor, eventID string, seats int) model.Reservation {
	t.Helper()
	r, err := f.reservations.Create(context.Background(), actor, eventID, model.CreateReservationRequest{Seats: seats})
	require.NoError(t, err)
	return r
}

func eventIDs(events []model.Event) []string {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	return ids
}
