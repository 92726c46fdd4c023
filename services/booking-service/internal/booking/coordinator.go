package booking

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	maxNameLen  = 200
	maxPhoneLen = 40
	maxNotesLen = 2000
)

type Request struct {
	ShopID        string
	ServiceID     string
	StaffID       string
	Start         time.Time
	CustomerName  string
	CustomerPhone string
	CustomerEmail string
	Notes         string
	// IdempotencyKey is optional. A replay with the same key returns the original appointment.
	IdempotencyKey string
}

type Result struct {
	AppointmentID string
	Start         time.Time
	Replayed      bool
}

// Coordinator turns a slot into an appointment. The conflict check and the inserts share one
// store transaction; the store's exclusion constraint is the final arbiter between concurrent
// requests.
type Coordinator struct {
	store  storage.Store
	engine *availability.Engine
	logger *slog.Logger
	now    func() time.Time
}

func NewCoordinator(store storage.Store, engine *availability.Engine, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: store, engine: engine, logger: logger, now: time.Now}
}

func (c *Coordinator) Book(ctx context.Context, req Request) (Result, error) {
	ctx, span := otel.Tracer("booking-service/booking").Start(ctx, "booking.book")
	defer span.End()
	span.SetAttributes(
		attribute.String("shop.id", req.ShopID),
		attribute.String("staff.id", req.StaffID),
		attribute.String("service.id", req.ServiceID),
	)

	res, err := c.book(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, string(model.KindOf(err)))
		if model.KindOf(err) == model.KindPersistenceFailure {
			c.logger.Error("booking failed", "shop_id", req.ShopID, "staff_id", req.StaffID, "err", err)
		}
		return Result{}, err
	}
	span.SetAttributes(attribute.String("appointment.id", res.AppointmentID), attribute.Bool("idempotent.replay", res.Replayed))
	return res, nil
}

func (c *Coordinator) book(ctx context.Context, req Request) (Result, error) {
	req, err := normalize(req)
	if err != nil {
		return Result{}, err
	}

	svc, err := c.engine.ActiveService(ctx, req.ShopID, req.ServiceID)
	if err != nil {
		return Result{}, asInvalidInput(err)
	}
	staff, err := c.engine.CapableStaff(ctx, req.ShopID, req.StaffID, svc.ID)
	if err != nil {
		return Result{}, asInvalidInput(err)
	}

	cfg := c.engine.Config()
	start := req.Start.UTC()
	end := start.Add(time.Duration(svc.DurationMins) * time.Minute)
	if start.Before(c.now().Add(cfg.LeadTime)) {
		return Result{}, model.Errorf(model.KindInvalidInput, "start_at must be at least %d minutes from now", int(cfg.LeadTime/time.Minute))
	}

	working, err := c.engine.WorkingIntervals(ctx, req.ShopID, staff, start)
	if err != nil {
		return Result{}, err
	}
	if !insideAny(working, calendar.Interval{Start: start, End: end}) {
		return Result{}, model.Errorf(model.KindInvalidInput, "requested time is outside the staff member's working hours")
	}

	var res Result
	err = c.store.WithinTx(ctx, func(tx storage.Tx) error {
		if req.IdempotencyKey != "" {
			rec, found, err := tx.LockIdempotencyKey(ctx, req.ShopID, req.IdempotencyKey)
			if err != nil {
				return model.Persistence("lock idempotency key", err)
			}
			if found && rec.AppointmentID != "" {
				prev, err := tx.GetAppointmentForUpdate(ctx, req.ShopID, rec.AppointmentID)
				if err != nil {
					return model.Persistence("load replayed appointment", err)
				}
				res = Result{AppointmentID: prev.ID, Start: prev.StartTime, Replayed: true}
				return nil
			}
		}

		existing, err := tx.ListBlockingAppointments(ctx, req.ShopID, staff.ID, start.Add(-cfg.Buffer), end.Add(cfg.Buffer))
		if err != nil {
			return model.Persistence("list appointments", err)
		}
		want := calendar.Interval{Start: start, End: end}
		for _, b := range availability.BlockedIntervals(existing, cfg.Buffer) {
			if b.Overlaps(want) {
				return model.Errorf(model.KindConflict, "time slot is no longer available")
			}
		}

		customer := &model.Customer{
			ShopID: req.ShopID,
			Name:   req.CustomerName,
			Phone:  req.CustomerPhone,
			Email:  req.CustomerEmail,
		}
		if err := tx.InsertCustomer(ctx, customer); err != nil {
			return model.Persistence("insert customer", err)
		}

		appt := &model.Appointment{
			ShopID:       req.ShopID,
			StaffID:      staff.ID,
			CustomerID:   customer.ID,
			ServiceID:    svc.ID,
			StartTime:    start,
			EndTime:      end,
			BlockedUntil: end.Add(cfg.Buffer),
			Status:       model.StatusPending,
			Notes:        req.Notes,
		}
		if err := tx.InsertAppointment(ctx, appt); err != nil {
			if storage.IsConflict(err) {
				return model.Errorf(model.KindConflict, "time slot is no longer available")
			}
			return model.Persistence("insert appointment", err)
		}

		evt, err := outbox.NewEvent("appointment", appt.ID, outbox.EventAppointmentBooked, map[string]any{
			"appointment_id": appt.ID,
			"shop_id":        appt.ShopID,
			"staff_id":       appt.StaffID,
			"service_id":     appt.ServiceID,
			"customer_id":    appt.CustomerID,
			"start_time":     appt.StartTime.Format(time.RFC3339),
			"end_time":       appt.EndTime.Format(time.RFC3339),
			"status":         string(appt.Status),
		})
		if err != nil {
			return model.Persistence("build booked event", err)
		}
		if err := tx.InsertOutboxEvent(ctx, evt); err != nil {
			return model.Persistence("write outbox event", err)
		}

		if req.IdempotencyKey != "" {
			if err := tx.FinalizeIdempotency(ctx, req.ShopID, req.IdempotencyKey, appt.ID); err != nil {
				return model.Persistence("finalize idempotency key", err)
			}
		}
		res = Result{AppointmentID: appt.ID, Start: appt.StartTime}
		return nil
	})
	if err != nil {
		return Result{}, asTaxonomy("book appointment", err)
	}

	if !res.Replayed {
		c.logger.Info("appointment booked",
			"appointment_id", res.AppointmentID,
			"shop_id", req.ShopID,
			"staff_id", staff.ID,
			"start_time", res.Start.Format(time.RFC3339),
		)
	}
	return res, nil
}

func normalize(req Request) (Request, error) {
	req.ShopID = strings.TrimSpace(req.ShopID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.StaffID = strings.TrimSpace(req.StaffID)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerPhone = strings.TrimSpace(req.CustomerPhone)
	req.CustomerEmail = strings.ToLower(strings.TrimSpace(req.CustomerEmail))
	req.Notes = strings.TrimSpace(req.Notes)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)

	switch {
	case req.ShopID == "" || req.ServiceID == "":
		return req, model.Errorf(model.KindInvalidInput, "shop_id and service_id are required")
	case req.StaffID == "":
		return req, model.Errorf(model.KindInvalidInput, "staff_id is required")
	case req.Start.IsZero():
		return req, model.Errorf(model.KindInvalidInput, "start_at is required")
	case req.CustomerName == "" || req.CustomerPhone == "":
		return req, model.Errorf(model.KindInvalidInput, "customer_name and customer_phone are required")
	case utf8.RuneCountInString(req.CustomerName) > maxNameLen:
		return req, model.Errorf(model.KindInvalidInput, "customer_name is too long")
	case len(req.CustomerPhone) > maxPhoneLen:
		return req, model.Errorf(model.KindInvalidInput, "customer_phone is too long")
	case utf8.RuneCountInString(req.Notes) > maxNotesLen:
		return req, model.Errorf(model.KindInvalidInput, "notes are too long")
	}
	if req.CustomerEmail != "" {
		addr, err := mail.ParseAddress(req.CustomerEmail)
		if err != nil || addr.Address != req.CustomerEmail {
			return req, model.Errorf(model.KindInvalidInput, "customer_email is not a valid address")
		}
	}
	return req, nil
}

func insideAny(ivs []calendar.Interval, want calendar.Interval) bool {
	for _, iv := range ivs {
		if iv.Contains(want) {
			return true
		}
	}
	return false
}

// asInvalidInput reports unknown or unusable services and staff as a bad request at booking time.
func asInvalidInput(err error) error {
	if errors.Is(err, model.ErrNotFound) {
		return &model.Error{Kind: model.KindInvalidInput, Msg: model.Message(err)}
	}
	return err
}

func asTaxonomy(op string, err error) error {
	var e *model.Error
	if errors.As(err, &e) {
		return err
	}
	return model.Persistence(op, err)
}
