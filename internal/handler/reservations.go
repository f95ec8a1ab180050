package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/event-reservations/internal/model"
	"github.com/Shivanand-hulikatti/event-reservations/internal/service"
)

// ReservationHandler serves the reservation lifecycle endpoints.
type ReservationHandler struct {
	svc *service.ReservationService
	log *zap.Logger
}

// NewReservationHandler constructs a ReservationHandler.
func NewReservationHandler(svc *service.ReservationService, log *zap.Logger) *ReservationHandler {
	return &ReservationHandler{svc: svc, log: log}
}

// CreateReservation handles POST /events/{id}/reservations
// Books seats for the caller; capacity is checked atomically per event.
func (h *ReservationHandler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}

	var req model.CreateReservationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.svc.Create(r.Context(), actor, chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ListMine handles GET /reservations/mine
// With ?details=true each reservation carries its event and organizer.
func (h *ReservationHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}

	if details, _ := strconv.ParseBool(r.URL.Query().Get("details")); details {
		list, err := h.svc.ListByUserWithDetails(r.Context(), actor.ID)
		if err != nil {
			writeServiceError(w, h.log, err)
			return
		}
		if list == nil {
			list = []model.ReservationDetails{}
		}
		writeJSON(w, http.StatusOK, list)
		return
	}

	list, err := h.svc.ListByUser(r.Context(), actor.ID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if list == nil {
		list = []model.Reservation{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetReservation handles GET /reservations/{id}
func (h *ReservationHandler) GetReservation(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}
	res, err := h.svc.View(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetByCode handles GET /reservations/code/{code}
// The code itself is the credential, so the lookup stays public for ticket
// checks at the door.
func (h *ReservationHandler) GetByCode(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.FindByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ConfirmReservation handles POST /reservations/{id}/confirm
func (h *ReservationHandler) ConfirmReservation(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Confirm)
}

// CancelReservation handles POST /reservations/{id}/cancel
func (h *ReservationHandler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Cancel)
}

func (h *ReservationHandler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, model.Actor, string) (model.Reservation, error)) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}
	res, err := fn(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetReservedSeats handles GET /events/{id}/reserved
func (h *ReservationHandler) GetReservedSeats(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.TotalReservedSeats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reserved": n})
}
