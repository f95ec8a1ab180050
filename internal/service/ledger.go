package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Shivanand-hulikatti/event-reservations/internal/model"
)

const (
	MinSeatsPerReservation = 1
	MaxSeatsPerReservation = 10
)

// Available returns the seats left when reserved of capacity are held.
// It never goes negative.
func Available(capacity, reserved int) int {
	return max(0, capacity-reserved)
}

// TotalAmount prices a reservation at two decimal places.
func TotalAmount(unitPrice decimal.Decimal, seats int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(seats))).Round(2)
}

// Ledger answers seat-accounting queries. These reads are informational;
// the capacity check that guards a booking runs inside the store's
// per-event lock.
type Ledger struct {
	events       EventStore
	reservations ReservationStore
	run          runner
}

// NewLedger constructs a Ledger.
func NewLedger(events EventStore, reservations ReservationStore, opts Options) *Ledger {
	opts = opts.withDefaults()
	return &Ledger{events: events, reservations: reservations, run: newRunner(opts)}
}

// ReservedSeats sums the seats of non-cancelled reservations for an event.
func (l *Ledger) ReservedSeats(ctx context.Context, eventID string) (int, error) {
	var reserved int
	err := l.run.do(ctx, "reserved seats", func(ctx context.Context) error {
		var err error
		reserved, err = l.reservations.ReservedSeats(ctx, eventID)
		return err
	})
	if err != nil {
		return 0, translate(err, "Event not found")
	}
	return reserved, nil
}

// Availability reports capacity, reserved and available seats for an event.
func (l *Ledger) Availability(ctx context.Context, eventID string) (model.Availability, error) {
	var e model.Event
	err := l.run.do(ctx, "get event", func(ctx context.Context) error {
		var err error
		e, err = l.events.GetByID(ctx, eventID)
		return err
	})
	if err != nil {
		return model.Availability{}, translate(err, "Event not found")
	}

	reserved, err := l.ReservedSeats(ctx, eventID)
	if err != nil {
		return model.Availability{}, err
	}
	return model.Availability{
		EventID:     e.ID,
		MaxCapacity: e.MaxCapacity,
		Reserved:    reserved,
		Available:   Available(e.MaxCapacity, reserved),
	}, nil
}

// AvailableSeats returns max(0, capacity - reserved) for an event.
func (l *Ledger) AvailableSeats(ctx context.Context, eventID string) (int, error) {
	a, err := l.Availability(ctx, eventID)
	if err != nil {
		return 0, err
	}
	return a.Available, nil
}
