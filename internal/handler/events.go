package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/event-reservations/internal/model"
	"github.com/Shivanand-hulikatti/event-reservations/internal/service"
)

// EventHandler serves the event lifecycle endpoints.
type EventHandler struct {
	svc *service.EventService
	log *zap.Logger
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(svc *service.EventService, log *zap.Logger) *EventHandler {
	return &EventHandler{svc: svc, log: log}
}

// ListEvents handles GET /events
// Returns PUBLISHED events, optionally filtered by ?category= or ?city=.
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	var (
		events []model.Event
		err    error
	)
	q := r.URL.Query()
	switch {
	case q.Get("category") != "":
		events, err = h.svc.FindByCategory(r.Context(), q.Get("category"))
	case q.Get("city") != "":
		events, err = h.svc.FindByCity(r.Context(), q.Get("city"))
	default:
		events, err = h.svc.FindAllPublished(r.Context())
	}
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// ListByOrganizer handles GET /organizers/{id}/events
func (h *EventHandler) ListByOrganizer(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	events, err := h.svc.ViewByOrganizer(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
// Drafts are only visible to their organizer and admins.
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	event, err := h.svc.View(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// GetEventWithOrganizer handles GET /events/{id}/organizer
func (h *EventHandler) GetEventWithOrganizer(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	event, err := h.svc.ViewWithOrganizer(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// GetAvailability handles GET /events/{id}/availability
func (h *EventHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Availability(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// CreateEvent handles POST /events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}

	var req model.CreateEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	event, err := h.svc.Create(r.Context(), actor, req)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// UpdateEvent handles PATCH /events/{id}
func (h *EventHandler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}

	var patch model.UpdateEventRequest
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	event, err := h.svc.Update(r.Context(), actor, chi.URLParam(r, "id"), patch)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// PublishEvent handles POST /events/{id}/publish
func (h *EventHandler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Publish)
}

// CancelEvent handles POST /events/{id}/cancel
func (h *EventHandler) CancelEvent(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Cancel)
}

func (h *EventHandler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, model.Actor, string) (model.Event, error)) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}
	event, err := fn(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// DeleteEvent handles DELETE /events/{id}
func (h *EventHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
