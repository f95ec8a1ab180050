package repository

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/event-reservations/internal/model"
)

// Memory is an in-process store. A per-event mutex plays the part of the
// PostgreSQL row lock: Book, event mutations and Delete for one event run one
// at a time, while different events proceed in parallel. mu guards the maps
// and is only held for short copies, always after any event lock. Event locks
// are reference counted and released when the last holder or waiter is done.
type Memory struct {
	mu           sync.RWMutex
	events       map[string]model.Event
	reservations map[string]model.Reservation
	codes        map[string]string // code -> reservation id
	users        map[string]model.User

	locksMu    sync.Mutex
	eventLocks map[string]*eventLock
}

// eventLock is dropped from Memory.eventLocks once nobody holds or waits on it.
type eventLock struct {
	sync.Mutex
	refs int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		events:       make(map[string]model.Event),
		reservations: make(map[string]model.Reservation),
		codes:        make(map[string]string),
		users:        make(map[string]model.User),
		eventLocks:   make(map[string]*eventLock),
	}
}

// Events returns the event store view.
func (m *Memory) Events() *MemoryEvents { return &MemoryEvents{m: m} }

// Reservations returns the reservation store view.
func (m *Memory) Reservations() *MemoryReservations { return &MemoryReservations{m: m} }

// Users returns the user directory view.
func (m *Memory) Users() *MemoryUsers { return &MemoryUsers{m: m} }

// PutUser adds or replaces a user profile.
func (m *Memory) PutUser(u model.User) {
	m.mu.Lock()
	m.users[u.ID] = u
	m.mu.Unlock()
}

func (m *Memory) lockEvent(id string) func() {
	m.locksMu.Lock()
	l, ok := m.eventLocks[id]
	if !ok {
		l = &eventLock{}
		m.eventLocks[id] = l
	}
	l.refs++
	m.locksMu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		m.locksMu.Lock()
		if l.refs--; l.refs == 0 {
			delete(m.eventLocks, id)
		}
		m.locksMu.Unlock()
	}
}

// reservedLocked sums non-cancelled seats for an event. Caller holds mu.
func (m *Memory) reservedLocked(eventID string) int {
	total := 0
	for _, r := range m.reservations {
		if r.EventID == eventID && r.Status != model.ReservationCancelled {
			total += r.Seats
		}
	}
	return total
}

// MemoryEvents is the event store backed by Memory.
type MemoryEvents struct{ m *Memory }

func (s *MemoryEvents) Create(ctx context.Context, e model.Event) error {
	if err := ctx.Err(); err != nil {
		return classify("insert event", err)
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.events[e.ID] = e
	return nil
}

func (s *MemoryEvents) GetByID(ctx context.Context, id string) (model.Event, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	e, ok := s.m.events[id]
	if !ok {
		return model.Event{}, ErrNotFound
	}
	return e, nil
}

func (s *MemoryEvents) Mutate(ctx context.Context, id string, fn func(model.Event) (model.Event, error)) (model.Event, error) {
	unlock := s.m.lockEvent(id)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return model.Event{}, classify("mutate event", err)
	}

	s.m.mu.RLock()
	current, ok := s.m.events[id]
	s.m.mu.RUnlock()
	if !ok {
		return model.Event{}, ErrNotFound
	}

	next, err := fn(current)
	if err != nil {
		return model.Event{}, err
	}
	next.ID = current.ID
	next.OrganizerID = current.OrganizerID
	next.CreatedAt = current.CreatedAt

	s.m.mu.Lock()
	s.m.events[id] = next
	s.m.mu.Unlock()
	return next, nil
}

func (s *MemoryEvents) Delete(ctx context.Context, id string, check func(e model.Event, reservations int) error) error {
	unlock := s.m.lockEvent(id)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return classify("delete event", err)
	}

	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	current, ok := s.m.events[id]
	if !ok {
		return ErrNotFound
	}
	count := 0
	for _, r := range s.m.reservations {
		if r.EventID == id {
			count++
		}
	}
	if err := check(current, count); err != nil {
		return err
	}
	delete(s.m.events, id)
	return nil
}

func (s *MemoryEvents) filter(keep func(model.Event) bool, less func(a, b model.Event) int) []model.Event {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []model.Event
	for _, e := range s.m.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, less)
	return out
}

func byStartDate(a, b model.Event) int {
	if c := a.StartDate.Compare(b.StartDate); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func byCreatedDesc(a, b model.Event) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func (s *MemoryEvents) ListByStatus(ctx context.Context, status model.EventStatus) ([]model.Event, error) {
	return s.filter(func(e model.Event) bool { return e.Status == status }, byStartDate), nil
}

func (s *MemoryEvents) ListByCategory(ctx context.Context, category model.Category, status model.EventStatus) ([]model.Event, error) {
	return s.filter(func(e model.Event) bool {
		return e.Category == category && e.Status == status
	}, byStartDate), nil
}

func (s *MemoryEvents) ListByCity(ctx context.Context, city string, status model.EventStatus) ([]model.Event, error) {
	return s.filter(func(e model.Event) bool {
		return strings.EqualFold(e.City, city) && e.Status == status
	}, byStartDate), nil
}

func (s *MemoryEvents) ListByOrganizer(ctx context.Context, organizerID string) ([]model.Event, error) {
	return s.filter(func(e model.Event) bool { return e.OrganizerID == organizerID }, byCreatedDesc), nil
}

func (s *MemoryEvents) FinishEnded(ctx context.Context, now time.Time) ([]model.Event, error) {
	ended := func(e model.Event) bool {
		return (e.Status == model.EventDraft || e.Status == model.EventPublished) && e.EndDate.Before(now)
	}

	s.m.mu.RLock()
	var candidates []string
	for id, e := range s.m.events {
		if ended(e) {
			candidates = append(candidates, id)
		}
	}
	s.m.mu.RUnlock()
	slices.Sort(candidates)

	var finished []model.Event
	for _, id := range candidates {
		if err := ctx.Err(); err != nil {
			return finished, classify("finish ended events", err)
		}
		unlock := s.m.lockEvent(id)
		s.m.mu.Lock()
		if e, ok := s.m.events[id]; ok && ended(e) {
			e.Status = model.EventFinished
			e.UpdatedAt = now
			s.m.events[id] = e
			finished = append(finished, e)
		}
		s.m.mu.Unlock()
		unlock()
	}
	return finished, nil
}

// MemoryReservations is the reservation store backed by Memory.
type MemoryReservations struct{ m *Memory }

func (s *MemoryReservations) Book(ctx context.Context, eventID string, build func(e model.Event, reserved int) (model.Reservation, error)) (model.Reservation, error) {
	unlock := s.m.lockEvent(eventID)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return model.Reservation{}, classify("book seats", err)
	}

	s.m.mu.RLock()
	ev, ok := s.m.events[eventID]
	reserved := s.m.reservedLocked(eventID)
	s.m.mu.RUnlock()
	if !ok {
		return model.Reservation{}, ErrNotFound
	}

	res, err := build(ev, reserved)
	if err != nil {
		return model.Reservation{}, err
	}

	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, taken := s.m.codes[res.Code]; taken {
		return model.Reservation{}, ErrDuplicateCode
	}
	s.m.reservations[res.ID] = res
	s.m.codes[res.Code] = res.ID
	return res, nil
}

func (s *MemoryReservations) GetByID(ctx context.Context, id string) (model.Reservation, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	r, ok := s.m.reservations[id]
	if !ok {
		return model.Reservation{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryReservations) GetByCode(ctx context.Context, code string) (model.Reservation, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	id, ok := s.m.codes[code]
	if !ok {
		return model.Reservation{}, ErrNotFound
	}
	return s.m.reservations[id], nil
}

func (s *MemoryReservations) CodeExists(ctx context.Context, code string) (bool, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	_, ok := s.m.codes[code]
	return ok, nil
}

func (s *MemoryReservations) Mutate(ctx context.Context, id string, fn func(res model.Reservation, e model.Event) (model.Reservation, error)) (model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return model.Reservation{}, classify("mutate reservation", err)
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	current, ok := s.m.reservations[id]
	if !ok {
		return model.Reservation{}, ErrNotFound
	}
	ev, ok := s.m.events[current.EventID]
	if !ok {
		return model.Reservation{}, ErrNotFound
	}

	next, err := fn(current, ev)
	if err != nil {
		return model.Reservation{}, err
	}
	current.Status = next.Status
	current.Comment = next.Comment
	s.m.reservations[id] = current
	return current, nil
}

func (s *MemoryReservations) ListByUser(ctx context.Context, userID string) ([]model.Reservation, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []model.Reservation
	for _, r := range s.m.reservations {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b model.Reservation) int {
		if c := b.ReservationDate.Compare(a.ReservationDate); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *MemoryReservations) ReservedSeats(ctx context.Context, eventID string) (int, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	if _, ok := s.m.events[eventID]; !ok {
		return 0, ErrNotFound
	}
	return s.m.reservedLocked(eventID), nil
}

// MemoryUsers is the user directory backed by Memory.
type MemoryUsers struct{ m *Memory }

func (s *MemoryUsers) GetByID(ctx context.Context, id string) (model.User, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	u, ok := s.m.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}
