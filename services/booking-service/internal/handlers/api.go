package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/shopbook/libs/httpx"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/invite"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/review"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/storage"
)

type Deps struct {
	Store     storage.Reader
	Engine    *availability.Engine
	Booking   *booking.Coordinator
	Lifecycle *lifecycle.Manager
	Invites   *invite.Service
	Reviews   *review.Resolver
	Logger    *slog.Logger
}

// API is the HTTP surface of the booking service.
type API struct {
	store     storage.Reader
	engine    *availability.Engine
	booking   *booking.Coordinator
	lifecycle *lifecycle.Manager
	invites   *invite.Service
	reviews   *review.Resolver
	logger    *slog.Logger
	loc       *time.Location
}

func NewAPI(d Deps) *API {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		store:     d.Store,
		engine:    d.Engine,
		booking:   d.Booking,
		lifecycle: d.Lifecycle,
		invites:   d.Invites,
		reviews:   d.Reviews,
		logger:    logger,
		loc:       d.Engine.Config().Location,
	}
}

// Register mounts every route. public wraps the unauthenticated routes (rate limiting); it may be nil.
func (a *API) Register(mux *http.ServeMux, authn *Authenticator, public httpx.Middleware) {
	if public == nil {
		public = func(next http.Handler) http.Handler { return next }
	}
	open := func(path string, h http.HandlerFunc) {
		mux.Handle(path, public(h))
	}
	secured := func(path string, h http.HandlerFunc) {
		mux.Handle(path, authn.Require(h))
	}

	open("/api/v1/public/availability", a.Availability)
	open("/api/v1/public/bookings", a.Book)
	open("/api/v1/public/review-invites", a.PreviewInvite)
	open("/api/v1/public/reviews", a.SubmitReview)

	secured("/api/v1/appointments", a.ListAppointments)
	secured("/api/v1/appointments/status", a.UpdateStatus)
	secured("/api/v1/appointments/review-invite", a.IssueInvite)
	secured("/api/v1/me/appointments", a.MyAppointments)
	secured("/api/v1/reviews", a.SubmitOwnReview)
}
