// Package service implements the event and reservation lifecycles: business
// validation, authorization and orchestration between the HTTP layer and the
// record stores.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/event-reservations/internal/model"
	"github.com/Shivanand-hulikatti/event-reservations/internal/repository"
)

// EventStore is the event persistence the lifecycle needs. Mutate and Delete
// run their callback while holding the event's exclusive lock; the callback's
// error aborts the operation without writing.
type EventStore interface {
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

// ReservationStore is the reservation persistence the lifecycle needs. Book
// hands build the locked event and its reserved-seat total so the capacity
// check and the insert form one atomic step per event.
type ReservationStore interface {
	Book(ctx context.Context, eventID string, build func(e model.Event, reserved int) (model.Reservation, error)) (model.Reservation, error)
	GetByID(ctx context.Context, id string) (model.Reservation, error)
	GetByCode(ctx context.Context, code string) (model.Reservation, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	Mutate(ctx context.Context, id string, fn func(res model.Reservation, e model.Event) (model.Reservation, error)) (model.Reservation, error)
	ListByUser(ctx context.Context, userID string) ([]model.Reservation, error)
	ReservedSeats(ctx context.Context, eventID string) (int, error)
}

// UserDirectory resolves user profiles for display.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (model.User, error)
}

// organizerProfile resolves an event organizer. A user the directory does not
// know is returned as a stub carrying only the id.
func organizerProfile(ctx context.Context, run runner, users UserDirectory, id string) (model.User, error) {
	var u model.User
	err := run.do(ctx, "get organizer", func(ctx context.Context) error {
		var err error
		u, err = users.GetByID(ctx, id)
		return err
	})
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return model.User{ID: id}, nil
	case err != nil:
		return model.User{}, translate(err, "Organizer not found")
	}
	return u, nil
}
