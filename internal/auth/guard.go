// Package auth holds the role and ownership predicates consulted by the
// lifecycle services before any mutation. The predicates have no side
// effects; callers turn a false result into a Forbidden error.
package auth

import "github.com/Shivanand-hulikatti/event-reservations/internal/model"

// IsAdmin reports whether the actor has the ADMIN role.
func IsAdmin(a model.Actor) bool {
	switch a.Role {
	case model.RoleAdmin:
		return true
	case model.RoleOrganizer, model.RoleClient:
		return false
	default:
		return false
	}
}

// CanCreateEvents reports whether the actor's role may create events.
func CanCreateEvents(a model.Actor) bool {
	switch a.Role {
	case model.RoleAdmin, model.RoleOrganizer:
		return true
	case model.RoleClient:
		return false
	default:
		return false
	}
}

// OwnsEvent reports whether the actor created the event.
func OwnsEvent(a model.Actor, e model.Event) bool {
	return a.ID != "" && a.ID == e.OrganizerID
}

// CanManageEvent reports whether the actor may update, publish, cancel or
// delete the event.
func CanManageEvent(a model.Actor, e model.Event) bool {
	return IsAdmin(a) || OwnsEvent(a, e)
}

// OwnsReservation reports whether the actor made the reservation.
func OwnsReservation(a model.Actor, r model.Reservation) bool {
	return a.ID != "" && a.ID == r.UserID
}

// CanConfirm reports whether the actor may confirm reservations on the event:
// the event's organizer or an admin.
func CanConfirm(a model.Actor, e model.Event) bool {
	return CanManageEvent(a, e)
}

// CanCancelReservation reports whether the actor may cancel the reservation.
// Only the owner may, admins included.
func CanCancelReservation(a model.Actor, r model.Reservation) bool {
	return OwnsReservation(a, r)
}

// CanReserve reports whether the actor may book seats. Every known role may;
// an unknown role or an anonymous actor may not.
func CanReserve(a model.Actor) bool {
	if a.ID == "" {
		return false
	}
	switch a.Role {
	case model.RoleAdmin, model.RoleOrganizer, model.RoleClient:
		return true
	default:
		return false
	}
}

// CanViewEvent reports whether the actor may read the event. Drafts are
// visible to their organizer and admins only; the zero Actor is anonymous.
func CanViewEvent(a model.Actor, e model.Event) bool {
	return e.Status != model.EventDraft || CanManageEvent(a, e)
}

// CanViewReservation reports whether the actor may read the reservation:
// its owner, the event's organizer or an admin.
func CanViewReservation(a model.Actor, r model.Reservation, e model.Event) bool {
	return OwnsReservation(a, r) || CanManageEvent(a, e)
}
