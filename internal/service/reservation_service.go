package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/event-reservations/internal/apperr"
	"github.com/Shivanand-hulikatti/event-reservations/internal/auth"
	"github.com/Shivanand-hulikatti/event-reservations/internal/clock"
	"github.com/Shivanand-hulikatti/event-reservations/internal/code"
	"github.com/Shivanand-hulikatti/event-reservations/internal/model"
	"github.com/Shivanand-hulikatti/event-reservations/internal/notify"
	"github.com/Shivanand-hulikatti/event-reservations/internal/repository"
)

const (
	msgReservationNotFound = "Reservation not found"

	// CancellationWindow is how long before the event start a reservation
	// can still be cancelled. The remaining time must be strictly greater.
	CancellationWindow = 48 * time.Hour
)

// ReservationService runs the reservation lifecycle:
//
//	PENDING ──confirm──▶ CONFIRMED
//	   └──cancel──▶ CANCELLED ◀──cancel──┘
type ReservationService struct {
	events       EventStore
	reservations ReservationStore
	users        UserDirectory
	ledger       *Ledger
	codes        *code.Allocator
	clock        clock.Clock
	notifier     notify.Notifier
	log          *zap.Logger
	run          runner
}

// NewReservationService constructs a ReservationService with its dependencies.
func NewReservationService(events EventStore, reservations ReservationStore, users UserDirectory, opts Options) *ReservationService {
	opts = opts.withDefaults()
	return &ReservationService{
		events:       events,
		reservations: reservations,
		users:        users,
		ledger:       NewLedger(events, reservations, opts),
		codes:        code.New(code.WithMaxAttempts(opts.CodeMaxAttempts)),
		clock:        opts.Clock,
		notifier:     opts.Notifier,
		log:          opts.Logger,
		run:          newRunner(opts),
	}
}

// WithAllocator replaces the code allocator. Intended for tests.
func (s *ReservationService) WithAllocator(a *code.Allocator) *ReservationService {
	s.codes = a
	return s
}

// Create books seats on a PUBLISHED event for actor.
//
// The capacity check runs inside ReservationStore.Book, which holds the
// event's exclusive lock from the reserved-seat read until the insert. The
// code is allocated before taking the lock; if another reservation claims it
// first, the insert fails with a duplicate-code error and a fresh code is
// tried. Lookup collisions and insert collisions share one attempt budget.
func (s *ReservationService) Create(ctx context.Context, actor model.Actor, eventID string, req model.CreateReservationRequest) (model.Reservation, error) {
	if !auth.CanReserve(actor) {
		return model.Reservation{}, apperr.Forbidden("Only authenticated users can make reservations")
	}
	if req.Seats < MinSeatsPerReservation || req.Seats > MaxSeatsPerReservation {
		return model.Reservation{}, apperr.Conflict("Number of seats must be between %d and %d",
			MinSeatsPerReservation, MaxSeatsPerReservation)
	}
	comment := strings.TrimSpace(req.Comment)
	if err := checkText("Comment", comment, false, maxCommentLen); err != nil {
		return model.Reservation{}, err
	}

	lookup := code.LookupFunc(func(ctx context.Context, c string) (bool, error) {
		var taken bool
		err := s.run.do(ctx, "check reservation code", func(ctx context.Context) error {
			var err error
			taken, err = s.reservations.CodeExists(ctx, c)
			return err
		})
		return taken, err
	})

	codes := s.codes.NewSession()
	for {
		c, err := codes.Next(ctx, lookup)
		if err != nil {
			return model.Reservation{}, translate(err, msgEventNotFound)
		}

		var booked model.Reservation
		err = s.run.do(ctx, "book seats", func(ctx context.Context) error {
			var err error
			booked, err = s.reservations.Book(ctx, eventID, s.builder(actor, c, req.Seats, comment))
			return err
		})
		if errors.Is(err, repository.ErrDuplicateCode) {
			s.log.Debug("reservation code taken at insert, retrying",
				zap.String("code", c),
				zap.Int("attempts", codes.Used()),
			)
			continue
		}
		if err != nil {
			return model.Reservation{}, translate(err, msgEventNotFound)
		}

		s.log.Info("reservation created",
			zap.String("reservation_id", booked.ID),
			zap.String("code", booked.Code),
			zap.String("event_id", eventID),
			zap.String("actor_id", actor.ID),
			zap.Int("seats", booked.Seats),
		)
		s.notifyReservation(ctx, notify.ReservationCreated, booked, actor.ID)
		return booked, nil
	}
}

// builder returns the Book callback: it runs with the event locked and its
// reserved-seat total current.
func (s *ReservationService) builder(actor model.Actor, c string, seats int, comment string) func(model.Event, int) (model.Reservation, error) {
	return func(e model.Event, reserved int) (model.Reservation, error) {
		if e.Status != model.EventPublished {
			return model.Reservation{}, apperr.Conflict("Event must be PUBLISHED to make reservations")
		}
		now := s.clock.Now()
		if !e.EndDate.After(now) {
			return model.Reservation{}, apperr.Conflict("Event has already finished")
		}
		available := Available(e.MaxCapacity, reserved)
		if seats > available {
			return model.Reservation{}, apperr.Conflict("Only %d seats available, requested %d", available, seats)
		}
		return model.Reservation{
			ID:              uuid.NewString(),
			Code:            c,
			EventID:         e.ID,
			UserID:          actor.ID,
			Seats:           seats,
			TotalAmount:     TotalAmount(e.UnitPrice, seats),
			ReservationDate: now,
			Status:          model.ReservationPending,
			Comment:         comment,
		}, nil
	}
}

// Confirm moves a PENDING reservation to CONFIRMED. Only the event's
// organizer or an admin may confirm.
func (s *ReservationService) Confirm(ctx context.Context, actor model.Actor, id string) (model.Reservation, error) {
	confirmed, err := s.mutate(ctx, "confirm reservation", id, func(res model.Reservation, e model.Event) (model.Reservation, error) {
		if !auth.CanConfirm(actor, e) {
			return model.Reservation{}, apperr.Forbidden("Only event organizer or admin can confirm reservations")
		}
		if res.Status != model.ReservationPending {
			return model.Reservation{}, apperr.Conflict("Only PENDING reservations can be confirmed")
		}
		res.Status = model.ReservationConfirmed
		return res, nil
	})
	if err != nil {
		return model.Reservation{}, err
	}

	s.log.Info("reservation confirmed",
		zap.String("reservation_id", id),
		zap.String("code", confirmed.Code),
		zap.String("actor_id", actor.ID),
	)
	s.notifyReservation(ctx, notify.ReservationConfirmed, confirmed, actor.ID)
	return confirmed, nil
}

// Cancel releases a reservation's seats. Only its owner may cancel, and only
// while more than CancellationWindow remains before the event starts.
func (s *ReservationService) Cancel(ctx context.Context, actor model.Actor, id string) (model.Reservation, error) {
	cancelled, err := s.mutate(ctx, "cancel reservation", id, func(res model.Reservation, e model.Event) (model.Reservation, error) {
		if !auth.CanCancelReservation(actor, res) {
			return model.Reservation{}, apperr.Forbidden("You can only cancel your own reservations")
		}
		if res.Status == model.ReservationCancelled {
			return model.Reservation{}, apperr.Conflict("Reservation is already cancelled")
		}
		until := e.StartDate.Sub(s.clock.Now())
		if until <= CancellationWindow {
			return model.Reservation{}, apperr.Conflict(
				"Cannot cancel reservation. Event starts in %d hours. Minimum %d hours required.",
				int64(until/time.Hour), int64(CancellationWindow/time.Hour))
		}
		res.Status = model.ReservationCancelled
		return res, nil
	})
	if err != nil {
		return model.Reservation{}, err
	}

	s.log.Info("reservation cancelled",
		zap.String("reservation_id", id),
		zap.String("code", cancelled.Code),
		zap.String("actor_id", actor.ID),
	)
	s.notifyReservation(ctx, notify.ReservationCancelled, cancelled, actor.ID)
	return cancelled, nil
}

// FindByID returns a single reservation.
func (s *ReservationService) FindByID(ctx context.Context, id string) (model.Reservation, error) {
	return s.get(ctx, "get reservation", func(ctx context.Context) (model.Reservation, error) {
		return s.reservations.GetByID(ctx, id)
	})
}

// View returns a reservation to its owner, the event's organizer or an admin.
func (s *ReservationService) View(ctx context.Context, actor model.Actor, id string) (model.Reservation, error) {
	res, err := s.FindByID(ctx, id)
	if err != nil {
		return model.Reservation{}, err
	}
	var e model.Event
	err = s.run.do(ctx, "get event", func(ctx context.Context) error {
		var err error
		e, err = s.events.GetByID(ctx, res.EventID)
		return err
	})
	if err != nil {
		return model.Reservation{}, translate(err, msgEventNotFound)
	}
	if !auth.CanViewReservation(actor, res, e) {
		return model.Reservation{}, apperr.Forbidden("You can only view your own reservations")
	}
	return res, nil
}

// FindByCode returns the reservation with the given code. Lookup ignores
// case and surrounding space.
func (s *ReservationService) FindByCode(ctx context.Context, c string) (model.Reservation, error) {
	c = strings.ToUpper(strings.TrimSpace(c))
	if !code.Valid(c) {
		return model.Reservation{}, apperr.NotFound("%s", msgReservationNotFound)
	}
	return s.get(ctx, "get reservation by code", func(ctx context.Context) (model.Reservation, error) {
		return s.reservations.GetByCode(ctx, c)
	})
}

// ListByUser returns a user's reservations, most recent first.
func (s *ReservationService) ListByUser(ctx context.Context, userID string) ([]model.Reservation, error) {
	var list []model.Reservation
	err := s.run.do(ctx, "list reservations", func(ctx context.Context) error {
		var err error
		list, err = s.reservations.ListByUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, translate(err, msgReservationNotFound)
	}
	return list, nil
}

// ListByUserWithDetails returns a user's reservations joined with their
// event and the event's organizer.
func (s *ReservationService) ListByUserWithDetails(ctx context.Context, userID string) ([]model.ReservationDetails, error) {
	list, err := s.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	events := make(map[string]model.Event)
	organizers := make(map[string]model.User)
	details := make([]model.ReservationDetails, 0, len(list))
	for _, res := range list {
		e, ok := events[res.EventID]
		if !ok {
			err := s.run.do(ctx, "get event", func(ctx context.Context) error {
				var err error
				e, err = s.events.GetByID(ctx, res.EventID)
				return err
			})
			if err != nil {
				return nil, translate(err, msgEventNotFound)
			}
			events[res.EventID] = e
		}

		organizer, ok := organizers[e.OrganizerID]
		if !ok {
			organizer, err = organizerProfile(ctx, s.run, s.users, e.OrganizerID)
			if err != nil {
				return nil, err
			}
			organizers[e.OrganizerID] = organizer
		}

		details = append(details, model.ReservationDetails{Reservation: res, Event: e, Organizer: organizer})
	}
	return details, nil
}

// TotalReservedSeats sums the non-cancelled seats booked on an event.
func (s *ReservationService) TotalReservedSeats(ctx context.Context, eventID string) (int, error) {
	return s.ledger.ReservedSeats(ctx, eventID)
}

func (s *ReservationService) get(ctx context.Context, op string, fn func(ctx context.Context) (model.Reservation, error)) (model.Reservation, error) {
	var res model.Reservation
	err := s.run.do(ctx, op, func(ctx context.Context) error {
		var err error
		res, err = fn(ctx)
		return err
	})
	if err != nil {
		return model.Reservation{}, translate(err, msgReservationNotFound)
	}
	return res, nil
}

func (s *ReservationService) mutate(ctx context.Context, op, id string, fn func(model.Reservation, model.Event) (model.Reservation, error)) (model.Reservation, error) {
	var updated model.Reservation
	err := s.run.do(ctx, op, func(ctx context.Context) error {
		var err error
		updated, err = s.reservations.Mutate(ctx, id, fn)
		return err
	})
	if err != nil {
		return model.Reservation{}, translate(err, msgReservationNotFound)
	}
	return updated, nil
}

func (s *ReservationService) notifyReservation(ctx context.Context, t notify.Type, r model.Reservation, actorID string) {
	err := s.notifier.Notify(ctx, t, notify.ReservationPayload{
		ReservationID: r.ID,
		Code:          r.Code,
		EventID:       r.EventID,
		UserID:        r.UserID,
		Seats:         r.Seats,
		Status:        string(r.Status),
		ActorID:       actorID,
	})
	if err != nil {
		s.log.Warn("lifecycle notification dropped",
			zap.String("type", string(t)),
			zap.String("reservation_id", r.ID),
			zap.Error(err),
		)
	}
}
