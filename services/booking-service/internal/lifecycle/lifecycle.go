package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/storage"
)

// edges is the complete transition table. Anything not listed is rejected.
var edges = map[model.Status][]model.Status{
	model.StatusPending:   {model.StatusConfirmed, model.StatusCancelled},
	model.StatusConfirmed: {model.StatusCancelled, model.StatusNoShow, model.StatusDone},
}

func CanTransition(from, to model.Status) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Authorize allows the shop admin and the staff member who owns the appointment.
func Authorize(caller model.Caller, appt model.Appointment) error {
	if caller.ShopID != appt.ShopID {
		return model.Errorf(model.KindUnauthorized, "not allowed to change this appointment")
	}
	switch caller.Role {
	case model.RoleAdmin:
		return nil
	case model.RoleStaff:
		if caller.StaffID != "" && caller.StaffID == appt.StaffID {
			return nil
		}
	}
	return model.Errorf(model.KindUnauthorized, "not allowed to change this appointment")
}

type TransitionRequest struct {
	ShopID        string
	AppointmentID string
	To            model.Status
	Reason        string
	Caller        model.Caller
}

type Manager struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewManager(store storage.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, logger: logger, now: time.Now}
}

// Transition moves an appointment along one edge of the table. The load, the checks, the update and
// the outbox events share one transaction.
func (m *Manager) Transition(ctx context.Context, req TransitionRequest) (model.Appointment, error) {
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.ShopID == "" || req.AppointmentID == "" {
		return model.Appointment{}, model.Errorf(model.KindInvalidInput, "appointment_id is required")
	}
	if !req.To.Valid() {
		return model.Appointment{}, model.Errorf(model.KindInvalidInput, "unknown status %q", string(req.To))
	}
	if req.Caller.Role == model.RoleCustomer {
		return model.Appointment{}, model.Errorf(model.KindUnauthorized, "customers cannot change appointment status")
	}

	var updated model.Appointment
	var from model.Status
	err := m.store.WithinTx(ctx, func(tx storage.Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, req.ShopID, req.AppointmentID)
		if err != nil {
			if storage.IsNotFound(err) {
				return model.Errorf(model.KindNotFound, "appointment not found")
			}
			return model.Persistence("load appointment", err)
		}
		if err := Authorize(req.Caller, appt); err != nil {
			return err
		}
		if !CanTransition(appt.Status, req.To) {
			return model.Errorf(model.KindInvalidTransition, "cannot move appointment from %s to %s", appt.Status, req.To)
		}

		from = appt.Status
		now := m.now().UTC()
		appt.Status = req.To
		switch req.To {
		case model.StatusCancelled:
			appt.CancelledAt = &now
			appt.CancelReason = req.Reason
		case model.StatusDone:
			appt.CompletedAt = &now
		}
		if err := tx.UpdateAppointmentStatus(ctx, appt); err != nil {
			return model.Persistence("update appointment", err)
		}

		for _, evt := range events(appt, from, req.Caller) {
			e, err := outbox.NewEvent("appointment", appt.ID, evt.eventType, evt.payload)
			if err != nil {
				return model.Persistence("build event", err)
			}
			if err := tx.InsertOutboxEvent(ctx, e); err != nil {
				return model.Persistence("write outbox event", err)
			}
		}
		updated = appt
		return nil
	})
	if err != nil {
		var e *model.Error
		if !errors.As(err, &e) {
			err = model.Persistence("transition appointment", err)
		}
		if model.KindOf(err) == model.KindPersistenceFailure {
			m.logger.Error("status transition failed", "appointment_id", req.AppointmentID, "err", err)
		}
		return model.Appointment{}, err
	}

	m.logger.Info("appointment status changed",
		"appointment_id", updated.ID,
		"from", string(from),
		"to", string(updated.Status),
		"by_role", string(req.Caller.Role),
	)
	return updated, nil
}

type pendingEvent struct {
	eventType string
	payload   map[string]any
}

func events(appt model.Appointment, from model.Status, caller model.Caller) []pendingEvent {
	out := []pendingEvent{{
		eventType: outbox.EventAppointmentStatusChanged,
		payload: map[string]any{
			"appointment_id": appt.ID,
			"shop_id":        appt.ShopID,
			"staff_id":       appt.StaffID,
			"from_status":    string(from),
			"to_status":      string(appt.Status),
			"reason":         appt.CancelReason,
			"changed_by":     caller.Subject,
		},
	}}
	if appt.Status == model.StatusDone && appt.CompletedAt != nil {
		out = append(out, pendingEvent{
			eventType: outbox.EventAppointmentCompleted,
			payload: map[string]any{
				"appointment_id": appt.ID,
				"shop_id":        appt.ShopID,
				"staff_id":       appt.StaffID,
				"service_id":     appt.ServiceID,
				"customer_id":    appt.CustomerID,
				"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
				"completed_at":   appt.CompletedAt.UTC().Format(time.RFC3339),
			},
		})
	}
	return out
}
