package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/event-reservations/internal/service"
)

// RouterConfig wires the services and auth settings into the HTTP API.
type RouterConfig struct {
	Events       *service.EventService
	Reservations *service.ReservationService
	JWTSecret    string
	JWTIssuer    string
	Logger       *zap.Logger
}

// NewRouter builds the chi router with the global middleware stack.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	events := NewEventHandler(cfg.Events, log)
	reservations := NewReservationHandler(cfg.Reservations, log)

	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger(log))             // structured access log
	r.Use(CORS)
	r.Use(Authenticate(cfg.JWTSecret, cfg.JWTIssuer))

	r.Get("/health", HealthCheck)

	r.Route("/events", func(r chi.Router) {
		r.Get("/", events.ListEvents)
		r.Get("/{id}", events.GetEvent)
		r.Get("/{id}/organizer", events.GetEventWithOrganizer)
		r.Get("/{id}/availability", events.GetAvailability)
		r.Get("/{id}/reserved", reservations.GetReservedSeats)

		r.Group(func(r chi.Router) {
			r.Use(RequireActor)
			r.Post("/", events.CreateEvent)
			r.Patch("/{id}", events.UpdateEvent)
			r.Post("/{id}/publish", events.PublishEvent)
			r.Post("/{id}/cancel", events.CancelEvent)
			r.Delete("/{id}", events.DeleteEvent)
			r.Post("/{id}/reservations", reservations.CreateReservation)
		})
	})

	r.Get("/organizers/{id}/events", events.ListByOrganizer)

	r.Route("/reservations", func(r chi.Router) {
		r.Get("/code/{code}", reservations.GetByCode)

		r.Group(func(r chi.Router) {
			r.Use(RequireActor)
			r.Get("/mine", reservations.ListMine)
			r.Get("/{id}", reservations.GetReservation)
			r.Post("/{id}/confirm", reservations.ConfirmReservation)
			r.Post("/{id}/cancel", reservations.CancelReservation)
		})
	})

	return r
}
