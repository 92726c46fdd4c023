package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/email"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/invite"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

type completedPayload struct {
	AppointmentID string `json:"appointment_id"`
	ShopID        string `json:"shop_id"`
	CustomerID    string `json:"customer_id"`
	ServiceID     string `json:"service_id"`
	StartTime     string `json:"start_time"`
}

// InviteMailer reacts to completed appointments: it mints a review invite and mails the link to
// the customer. Customers without an email get no invite.
type InviteMailer struct {
	store    storage.Reader
	invites  *invite.Service
	sender   email.Sender
	linkBase string
	logger   *slog.Logger
}

func NewInviteMailer(store storage.Reader, invites *invite.Service, sender email.Sender, linkBase string, logger *slog.Logger) *InviteMailer {
	return &InviteMailer{
		store:    store,
		invites:  invites,
		sender:   sender,
		linkBase: strings.TrimSpace(linkBase),
		logger:   logger,
	}
}

// Handle is a consumer.Handler for booking.appointment.completed.v1. Bad payloads are logged and
// dropped. Only datastore failures are returned; the consumer retries those.
func (m *InviteMailer) Handle(ctx context.Context, msg kafka.Message) error {
	var payload completedPayload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		m.logger.Error("invalid completed payload", "err", err)
		return nil
	}
	if payload.AppointmentID == "" || payload.ShopID == "" || payload.CustomerID == "" {
		m.logger.Error("missing completed fields", "appointment_id", payload.AppointmentID)
		return nil
	}

	customer, err := m.store.GetCustomer(ctx, payload.ShopID, payload.CustomerID)
	if err != nil {
		if storage.IsNotFound(err) {
			m.logger.Warn("customer for completed appointment not found", "appointment_id", payload.AppointmentID)
			return nil
		}
		return fmt.Errorf("load customer: %w", err)
	}
	if strings.TrimSpace(customer.Email) == "" {
		m.logger.Info("no email on file; review invite skipped", "appointment_id", payload.AppointmentID)
		return nil
	}

	issued, err := m.invites.Issue(ctx, payload.ShopID, payload.AppointmentID)
	if err != nil {
		switch model.KindOf(err) {
		case model.KindPersistenceFailure:
			return err
		default:
			m.logger.Warn("review invite not issued", "appointment_id", payload.AppointmentID, "reason", model.Message(err))
			return nil
		}
	}

	serviceName := "your appointment"
	if svc, err := m.store.GetService(ctx, payload.ShopID, issued.Appointment.ServiceID); err == nil {
		serviceName = svc.Name
	}
	subject := "How was your visit?"
	body := fmt.Sprintf(
		"Hi %s,\n\nThanks for visiting us for %s on %s.\nTell us how it went: %s\n\nThis link works once.",
		customer.Name,
		serviceName,
		issued.Appointment.StartTime.UTC().Format(time.RFC1123),
		m.link(issued.Token),
	)
	if err := m.sender.Send(ctx, customer.Email, subject, body); err != nil {
		// The invite stays stored; an admin can issue a fresh one on demand.
		m.logger.Error("review invite email failed", "appointment_id", payload.AppointmentID, "err", err)
		return nil
	}
	m.logger.Info("review invite sent", "appointment_id", payload.AppointmentID)
	return nil
}

func (m *InviteMailer) link(token string) string {
	base := m.linkBase
	if base == "" {
		base = "http://localhost:8080/review"
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "token=" + url.QueryEscape(token)
}
