// Package model defines the core domain types for the event reservation system.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Role is the closed set of actor roles.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleOrganizer Role = "ORGANIZER"
	RoleClient    Role = "CLIENT"
)

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleOrganizer, RoleClient:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Actor is the authenticated principal invoking an operation.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// User is the read-only profile of an account, as exposed by the user directory.
type User struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// EventStatus is the publication state of an event.
type EventStatus string

const (
	EventDraft     EventStatus = "DRAFT"
	EventPublished EventStatus = "PUBLISHED"
	EventCancelled EventStatus = "CANCELLED"
	EventFinished  EventStatus = "FINISHED"
)

// Category classifies events for browsing.
type Category string

const (
	CategoryConcert    Category = "CONCERT"
	CategoryTheater    Category = "THEATER"
	CategorySport      Category = "SPORT"
	CategoryConference Category = "CONFERENCE"
	CategoryOther      Category = "OTHER"
)

// ParseCategory accepts a category name in any case.
func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToUpper(strings.TrimSpace(s))); c {
	case CategoryConcert, CategoryTheater, CategorySport, CategoryConference, CategoryOther:
		return c, nil
	default:
		return "", fmt.Errorf("unknown category %q", s)
	}
}

// Event is a bookable event owned by one organizer.
type Event struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    Category        `json:"category"`
	StartDate   time.Time       `json:"start_date"`
	EndDate     time.Time       `json:"end_date"`
	Venue       string          `json:"venue"`
	City        string          `json:"city"`
	MaxCapacity int             `json:"max_capacity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	ImageURL    string          `json:"image_url,omitempty"`
	Status      EventStatus     `json:"status"`
	OrganizerID string          `json:"organizer_id"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// EventWithOrganizer pairs an event with its organizer's profile.
type EventWithOrganizer struct {
	Event
	Organizer User `json:"organizer"`
}

// ReservationStatus is the confirmation state of a reservation.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// Reservation holds seats for one user on one event.
type Reservation struct {
	ID              string            `json:"id"`
	Code            string            `json:"code"`
	EventID         string            `json:"event_id"`
	UserID          string            `json:"user_id"`
	Seats           int               `json:"seats"`
	TotalAmount     decimal.Decimal   `json:"total_amount"`
	ReservationDate time.Time         `json:"reservation_date"`
	Status          ReservationStatus `json:"status"`
	Comment         string            `json:"comment,omitempty"`
}

// ReservationDetails is a reservation joined with its event and organizer.
type ReservationDetails struct {
	Reservation
	Event     Event `json:"event"`
	Organizer User  `json:"organizer"`
}

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    Category        `json:"category"`
	StartDate   time.Time       `json:"start_date"`
	EndDate     time.Time       `json:"end_date"`
	Venue       string          `json:"venue"`
	City        string          `json:"city"`
	MaxCapacity int             `json:"max_capacity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	ImageURL    string          `json:"image_url"`
}

// UpdateEventRequest is a partial update; nil fields are left unchanged.
type UpdateEventRequest struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Category    *Category        `json:"category"`
	StartDate   *time.Time       `json:"start_date"`
	EndDate     *time.Time       `json:"end_date"`
	Venue       *string          `json:"venue"`
	City        *string          `json:"city"`
	MaxCapacity *int             `json:"max_capacity"`
	UnitPrice   *decimal.Decimal `json:"unit_price"`
	ImageURL    *string          `json:"image_url"`
}

// CreateReservationRequest is the payload for reserving seats.
type CreateReservationRequest struct {
	Seats   int    `json:"seats"`
	Comment string `json:"comment"`
}

// Availability summarises seat accounting for an event.
type Availability struct {
	EventID     string `json:"event_id"`
	MaxCapacity int    `json:"max_capacity"`
	Reserved    int    `json:"reserved"`
	Available   int    `json:"available"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
