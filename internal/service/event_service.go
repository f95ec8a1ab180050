package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/event-reservations/internal/apperr"
	"github.com/Shivanand-hulikatti/event-reservations/internal/auth"
	"github.com/Shivanand-hulikatti/event-reservations/internal/clock"
	"github.com/Shivanand-hulikatti/event-reservations/internal/model"
	"github.com/Shivanand-hulikatti/event-reservations/internal/notify"
)

const msgEventNotFound = "Event not found"

// EventService runs the event lifecycle:
//
//	DRAFT ──publish──▶ PUBLISHED ──autoFinish──▶ FINISHED
//	  │  └──────autoFinish───────────────────────▶ FINISHED
//	  └──cancel──▶ CANCELLED ◀──cancel── PUBLISHED
//
// Every transition re-reads the event under its lock, so the permission and
// status checks see the committed state.
type EventService struct {
	events   EventStore
	users    UserDirectory
	ledger   *Ledger
	clock    clock.Clock
	notifier notify.Notifier
	log      *zap.Logger
	run      runner
}

// NewEventService constructs an EventService with its dependencies.
func NewEventService(events EventStore, reservations ReservationStore, users UserDirectory, opts Options) *EventService {
	opts = opts.withDefaults()
	return &EventService{
		events:   events,
		users:    users,
		ledger:   NewLedger(events, reservations, opts),
		clock:    opts.Clock,
		notifier: opts.Notifier,
		log:      opts.Logger,
		run:      newRunner(opts),
	}
}

// Create validates the request and stores a new DRAFT event owned by actor.
func (s *EventService) Create(ctx context.Context, actor model.Actor, req model.CreateEventRequest) (model.Event, error) {
	if !auth.CanCreateEvents(actor) {
		return model.Event{}, apperr.Forbidden("Only ADMIN or ORGANIZER can create events")
	}

	now := s.clock.Now()
	e := model.Event{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		StartDate:   req.StartDate.UTC(),
		EndDate:     req.EndDate.UTC(),
		Venue:       req.Venue,
		City:        req.City,
		MaxCapacity: req.MaxCapacity,
		UnitPrice:   req.UnitPrice,
		ImageURL:    req.ImageURL,
		Status:      model.EventDraft,
		OrganizerID: actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	normalizeEvent(&e)
	if err := validateEventFields(e); err != nil {
		return model.Event{}, err
	}
	if !e.StartDate.After(now) {
		return model.Event{}, apperr.Conflict("Event start date must be in the future")
	}
	if !e.EndDate.After(e.StartDate) {
		return model.Event{}, apperr.Conflict("Event end date must be after start date")
	}

	err := s.run.do(ctx, "create event", func(ctx context.Context) error {
		return s.events.Create(ctx, e)
	})
	if err != nil {
		return model.Event{}, translate(err, msgEventNotFound)
	}

	s.log.Info("event created",
		zap.String("event_id", e.ID),
		zap.String("actor_id", actor.ID),
		zap.Int("max_capacity", e.MaxCapacity),
	)
	return e, nil
}

// Update applies a partial update to a DRAFT event.
func (s *EventService) Update(ctx context.Context, actor model.Actor, id string, patch model.UpdateEventRequest) (model.Event, error) {
	updated, err := s.mutate(ctx, "update event", id, func(cur model.Event) (model.Event, error) {
		if !auth.CanManageEvent(actor, cur) {
			return model.Event{}, apperr.Forbidden("Only event creator or ADMIN can update events")
		}
		switch cur.Status {
		case model.EventDraft:
		case model.EventPublished, model.EventFinished:
			return model.Event{}, apperr.Conflict("Cannot update PUBLISHED or FINISHED events")
		default:
			return model.Event{}, apperr.Conflict("Cannot update %s events", cur.Status)
		}

		now := s.clock.Now()
		next := applyPatch(cur, patch)
		normalizeEvent(&next)
		if err := validateEventFields(next); err != nil {
			return model.Event{}, err
		}
		if patch.StartDate != nil && !next.StartDate.After(now) {
			return model.Event{}, apperr.Conflict("Event start date must be in the future")
		}
		if (patch.StartDate != nil || patch.EndDate != nil) && !next.EndDate.After(next.StartDate) {
			return model.Event{}, apperr.Conflict("Event end date must be after start date")
		}
		next.UpdatedAt = now
		return next, nil
	})
	if err != nil {
		return model.Event{}, err
	}

	s.log.Info("event updated", zap.String("event_id", id), zap.String("actor_id", actor.ID))
	return updated, nil
}

func applyPatch(e model.Event, p model.UpdateEventRequest) model.Event {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.Category != nil {
		e.Category = *p.Category
	}
	if p.StartDate != nil {
		e.StartDate = p.StartDate.UTC()
	}
	if p.EndDate != nil {
		e.EndDate = p.EndDate.UTC()
	}
	if p.Venue != nil {
		e.Venue = *p.Venue
	}
	if p.City != nil {
		e.City = *p.City
	}
	if p.MaxCapacity != nil {
		e.MaxCapacity = *p.MaxCapacity
	}
	if p.UnitPrice != nil {
		e.UnitPrice = *p.UnitPrice
	}
	if p.ImageURL != nil {
		e.ImageURL = *p.ImageURL
	}
	return e
}

// Publish moves a DRAFT event with a future start date to PUBLISHED.
func (s *EventService) Publish(ctx context.Context, actor model.Actor, id string) (model.Event, error) {
	published, err := s.mutate(ctx, "publish event", id, func(cur model.Event) (model.Event, error) {
		if !auth.CanManageEvent(actor, cur) {
			return model.Event{}, apperr.Forbidden("Only event creator or ADMIN can publish events")
		}
		if cur.Status != model.EventDraft {
			return model.Event{}, apperr.Conflict("Only DRAFT events can be published")
		}
		now := s.clock.Now()
		if !cur.StartDate.After(now) {
			return model.Event{}, apperr.Conflict("Cannot publish event with start date in the past")
		}
		cur.Status = model.EventPublished
		cur.UpdatedAt = now
		return cur, nil
	})
	if err != nil {
		return model.Event{}, err
	}

	s.log.Info("event published", zap.String("event_id", id), zap.String("actor_id", actor.ID))
	s.notifyEvent(ctx, notify.EventPublished, published, actor.ID)
	return published, nil
}

// Cancel moves a DRAFT or PUBLISHED event to CANCELLED. Existing
// reservations are kept as they are.
func (s *EventService) Cancel(ctx context.Context, actor model.Actor, id string) (model.Event, error) {
	cancelled, err := s.mutate(ctx, "cancel event", id, func(cur model.Event) (model.Event, error) {
		if !auth.CanManageEvent(actor, cur) {
			return model.Event{}, apperr.Forbidden("Only event creator or ADMIN can cancel events")
		}
		switch cur.Status {
		case model.EventCancelled:
			return model.Event{}, apperr.Conflict("Event is already cancelled")
		case model.EventFinished:
			return model.Event{}, apperr.Conflict("Cannot cancel a FINISHED event")
		}
		cur.Status = model.EventCancelled
		cur.UpdatedAt = s.clock.Now()
		return cur, nil
	})
	if err != nil {
		return model.Event{}, err
	}

	s.log.Info("event cancelled", zap.String("event_id", id), zap.String("actor_id", actor.ID))
	s.notifyEvent(ctx, notify.EventCancelled, cancelled, actor.ID)
	return cancelled, nil
}

// Delete removes an event that has never had a reservation.
func (s *EventService) Delete(ctx context.Context, actor model.Actor, id string) error {
	err := s.run.do(ctx, "delete event", func(ctx context.Context) error {
		return s.events.Delete(ctx, id, func(e model.Event, reservations int) error {
			if !auth.CanManageEvent(actor, e) {
				return apperr.Forbidden("Only event creator or ADMIN can delete events")
			}
			if reservations > 0 {
				return apperr.Conflict("Cannot delete event with %d existing reservation(s)", reservations)
			}
			return nil
		})
	})
	if err != nil {
		return translate(err, msgEventNotFound)
	}

	s.log.Info("event deleted", zap.String("event_id", id), zap.String("actor_id", actor.ID))
	return nil
}

// AutoFinish moves every DRAFT or PUBLISHED event that ended before now to
// FINISHED and returns how many changed. Running it again is a no-op.
func (s *EventService) AutoFinish(ctx context.Context, now time.Time) (int, error) {
	var finished []model.Event
	err := s.run.do(ctx, "finish ended events", func(ctx context.Context) error {
		var err error
		finished, err = s.events.FinishEnded(ctx, now)
		return err
	})
	if err != nil {
		return 0, translate(err, msgEventNotFound)
	}

	for _, e := range finished {
		s.notifyEvent(ctx, notify.EventFinished, e, "")
	}
	if len(finished) > 0 {
		s.log.Info("events finished", zap.Int("count", len(finished)), zap.Time("now", now))
	}
	return len(finished), nil
}

// FindByID returns a single event.
func (s *EventService) FindByID(ctx context.Context, id string) (model.Event, error) {
	var e model.Event
	err := s.run.do(ctx, "get event", func(ctx context.Context) error {
		var err error
		e, err = s.events.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return model.Event{}, translate(err, msgEventNotFound)
	}
	return e, nil
}

// FindByIDWithOrganizer returns an event together with its organizer. An
// organizer missing from the user directory comes back as a stub with only
// its id.
func (s *EventService) FindByIDWithOrganizer(ctx context.Context, id string) (model.EventWithOrganizer, error) {
	e, err := s.FindByID(ctx, id)
	if err != nil {
		return model.EventWithOrganizer{}, err
	}
	organizer, err := organizerProfile(ctx, s.run, s.users, e.OrganizerID)
	if err != nil {
		return model.EventWithOrganizer{}, err
	}
	return model.EventWithOrganizer{Event: e, Organizer: organizer}, nil
}

// View returns an event as seen by actor. Drafts of other organizers are
// reported as not found.
func (s *EventService) View(ctx context.Context, actor model.Actor, id string) (model.Event, error) {
	e, err := s.FindByID(ctx, id)
	if err != nil {
		return model.Event{}, err
	}
	if !auth.CanViewEvent(actor, e) {
		return model.Event{}, apperr.NotFound("%s", msgEventNotFound)
	}
	return e, nil
}

// ViewWithOrganizer is FindByIDWithOrganizer with the visibility rules of View.
func (s *EventService) ViewWithOrganizer(ctx context.Context, actor model.Actor, id string) (model.EventWithOrganizer, error) {
	e, err := s.FindByIDWithOrganizer(ctx, id)
	if err != nil {
		return model.EventWithOrganizer{}, err
	}
	if !auth.CanViewEvent(actor, e.Event) {
		return model.EventWithOrganizer{}, apperr.NotFound("%s", msgEventNotFound)
	}
	return e, nil
}

// ViewByOrganizer lists an organizer's events without the drafts actor may
// not see.
func (s *EventService) ViewByOrganizer(ctx context.Context, actor model.Actor, organizerID string) ([]model.Event, error) {
	events, err := s.FindByOrganizer(ctx, organizerID)
	if err != nil {
		return nil, err
	}
	visible := events[:0]
	for _, e := range events {
		if auth.CanViewEvent(actor, e) {
			visible = append(visible, e)
		}
	}
	return visible, nil
}

// FindAllPublished lists PUBLISHED events by start date.
func (s *EventService) FindAllPublished(ctx context.Context) ([]model.Event, error) {
	return s.list(ctx, "list published events", func(ctx context.Context) ([]model.Event, error) {
		return s.events.ListByStatus(ctx, model.EventPublished)
	})
}

// FindByCategory lists PUBLISHED events of a category by start date.
func (s *EventService) FindByCategory(ctx context.Context, category string) ([]model.Event, error) {
	c, err := model.ParseCategory(category)
	if err != nil {
		return nil, apperr.Invalid("Unknown category %q", category)
	}
	return s.list(ctx, "list events by category", func(ctx context.Context) ([]model.Event, error) {
		return s.events.ListByCategory(ctx, c, model.EventPublished)
	})
}

// FindByCity lists PUBLISHED events in a city, ignoring case.
func (s *EventService) FindByCity(ctx context.Context, city string) ([]model.Event, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return nil, apperr.Invalid("City is required")
	}
	return s.list(ctx, "list events by city", func(ctx context.Context) ([]model.Event, error) {
		return s.events.ListByCity(ctx, city, model.EventPublished)
	})
}

// FindByOrganizer lists every event of an organizer, newest first.
func (s *EventService) FindByOrganizer(ctx context.Context, organizerID string) ([]model.Event, error) {
	return s.list(ctx, "list events by organizer", func(ctx context.Context) ([]model.Event, error) {
		return s.events.ListByOrganizer(ctx, organizerID)
	})
}

// AvailableSeats returns the seats still free for an event.
func (s *EventService) AvailableSeats(ctx context.Context, id string) (int, error) {
	return s.ledger.AvailableSeats(ctx, id)
}

// Availability returns the full seat breakdown for an event.
func (s *EventService) Availability(ctx context.Context, id string) (model.Availability, error) {
	return s.ledger.Availability(ctx, id)
}

func (s *EventService) mutate(ctx context.Context, op, id string, fn func(model.Event) (model.Event, error)) (model.Event, error) {
	var updated model.Event
	err := s.run.do(ctx, op, func(ctx context.Context) error {
		var err error
		updated, err = s.events.Mutate(ctx, id, fn)
		return err
	})
	if err != nil {
		return model.Event{}, translate(err, msgEventNotFound)
	}
	return updated, nil
}

func (s *EventService) list(ctx context.Context, op string, fn func(ctx context.Context) ([]model.Event, error)) ([]model.Event, error) {
	var events []model.Event
	err := s.run.do(ctx, op, func(ctx context.Context) error {
		var err error
		events, err = fn(ctx)
		return err
	})
	if err != nil {
		return nil, translate(err, msgEventNotFound)
	}
	return events, nil
}

func (s *EventService) notifyEvent(ctx context.Context, t notify.Type, e model.Event, actorID string) {
	err := s.notifier.Notify(ctx, t, notify.EventPayload{
		EventID:     e.ID,
		Title:       e.Title,
		Status:      string(e.Status),
		OrganizerID: e.OrganizerID,
		ActorID:     actorID,
	})
	if err != nil {
		s.log.Warn("lifecycle notification dropped",
			zap.String("type", string(t)),
			zap.String("event_id", e.ID),
			zap.Error(err),
		)
	}
}
