package invite

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/storage"
)

const DefaultTTL = 30 * 24 * time.Hour

type Service struct {
	store  storage.Store
	signer *Signer
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires the invite protocol. ttl is how long after completion an invite stays
// redeemable; zero means DefaultTTL.
func NewService(store storage.Store, signer *Signer, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, signer: signer, ttl: ttl, logger: logger, now: time.Now}
}

// Issued is a freshly minted invite. Token is only ever held in memory.
type Issued struct {
	Token       string
	Appointment model.Appointment
}

// IssueFor is the on-demand path: the admin or the staff member owning the appointment.
func (s *Service) IssueFor(ctx context.Context, caller model.Caller, shopID, appointmentID string) (Issued, error) {
	appt, err := s.store.GetAppointment(ctx, shopID, appointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			return Issued{}, model.Errorf(model.KindNotFound, "appointment not found")
		}
		return Issued{}, model.Persistence("load appointment", err)
	}
	if err := lifecycle.Authorize(caller, appt); err != nil {
		return Issued{}, err
	}
	return s.Issue(ctx, shopID, appointmentID)
}

// Issue mints a token for a completed appointment and stores only its hash.
func (s *Service) Issue(ctx context.Context, shopID, appointmentID string) (Issued, error) {
	token, raw, err := s.signer.Issue()
	if err != nil {
		return Issued{}, model.Persistence("generate invite token", err)
	}

	var out Issued
	err = s.store.WithinTx(ctx, func(tx storage.Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, shopID, appointmentID)
		if err != nil {
			if storage.IsNotFound(err) {
				return model.Errorf(model.KindNotFound, "appointment not found")
			}
			return model.Persistence("load appointment", err)
		}
		if appt.Status != model.StatusDone || appt.CompletedAt == nil {
			return model.Errorf(model.KindInvalidInput, "appointment is not completed")
		}
		if s.expired(appt) {
			return model.Errorf(model.KindInvalidInput, "review window for this appointment has closed")
		}

		inv := &model.ReviewInvite{
			ShopID:        appt.ShopID,
			AppointmentID: appt.ID,
			TokenHash:     HashToken(raw),
			IssuedAt:      s.now().UTC(),
		}
		if err := tx.InsertInvite(ctx, inv); err != nil {
			return model.Persistence("insert invite", err)
		}
		out = Issued{Token: token, Appointment: appt}
		return nil
	})
	if err != nil {
		return Issued{}, wrap("issue invite", err)
	}
	s.logger.Info("review invite issued", "appointment_id", appointmentID, "shop_id", shopID)
	return out, nil
}

type Preview struct {
	ServiceName string
	StaffName   string
	StartAt     time.Time
}

// Preview resolves a token without consuming it. Every token problem is reported as TokenInvalid
// or TokenAlreadyUsed, which the boundary renders identically.
func (s *Service) Preview(ctx context.Context, token string) (Preview, error) {
	raw, err := s.signer.Verify(token)
	if err != nil {
		return Preview{}, tokenInvalid(err)
	}
	inv, err := s.store.GetInviteByHash(ctx, HashToken(raw))
	if err != nil {
		if storage.IsNotFound(err) {
			return Preview{}, tokenInvalid(err)
		}
		return Preview{}, model.Persistence("load invite", err)
	}
	appt, err := s.store.GetAppointment(ctx, inv.ShopID, inv.AppointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			return Preview{}, tokenInvalid(err)
		}
		return Preview{}, model.Persistence("load appointment", err)
	}
	if err := s.check(inv, appt); err != nil {
		return Preview{}, err
	}

	svc, err := s.store.GetService(ctx, appt.ShopID, appt.ServiceID)
	if err != nil {
		if storage.IsNotFound(err) {
			return Preview{}, tokenInvalid(err)
		}
		return Preview{}, model.Persistence("load service", err)
	}
	staff, err := s.store.GetStaff(ctx, appt.ShopID, appt.StaffID)
	if err != nil {
		if storage.IsNotFound(err) {
			return Preview{}, tokenInvalid(err)
		}
		return Preview{}, model.Persistence("load staff", err)
	}
	return Preview{ServiceName: svc.Name, StaffName: staff.Name, StartAt: appt.StartTime}, nil
}

// Redeem verifies token and consumes its invite inside tx. The caller inserts the review in the
// same tx, so a failed insert also undoes the consumption.
func (s *Service) Redeem(ctx context.Context, tx storage.Tx, token string) (model.Appointment, error) {
	raw, err := s.signer.Verify(token)
	if err != nil {
		return model.Appointment{}, tokenInvalid(err)
	}
	inv, err := tx.GetInviteByHashForUpdate(ctx, HashToken(raw))
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Appointment{}, tokenInvalid(err)
		}
		return model.Appointment{}, model.Persistence("load invite", err)
	}
	appt, err := tx.GetAppointmentForUpdate(ctx, inv.ShopID, inv.AppointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Appointment{}, tokenInvalid(err)
		}
		return model.Appointment{}, model.Persistence("load appointment", err)
	}
	if err := s.check(inv, appt); err != nil {
		return model.Appointment{}, err
	}

	ok, err := tx.ConsumeInvite(ctx, inv.ID, s.now().UTC())
	if err != nil {
		return model.Appointment{}, model.Persistence("consume invite", err)
	}
	if !ok {
		return model.Appointment{}, &model.Error{Kind: model.KindTokenAlreadyUsed}
	}
	return appt, nil
}

func (s *Service) check(inv model.ReviewInvite, appt model.Appointment) error {
	if appt.Status != model.StatusDone || appt.CompletedAt == nil {
		return &model.Error{Kind: model.KindTokenInvalid, Msg: "appointment not completed"}
	}
	if s.expired(appt) {
		return &model.Error{Kind: model.KindTokenInvalid, Msg: "invite expired"}
	}
	if inv.Consumed() {
		return &model.Error{Kind: model.KindTokenAlreadyUsed}
	}
	return nil
}

func (s *Service) expired(appt model.Appointment) bool {
	return appt.CompletedAt != nil && s.now().After(appt.CompletedAt.Add(s.ttl))
}

// tokenInvalid keeps the cause for logs; model.Message never shows it.
func tokenInvalid(err error) error {
	return &model.Error{Kind: model.KindTokenInvalid, Err: err}
}

func wrap(op string, err error) error {
	var e *model.Error
	if errors.As(err, &e) {
		return err
	}
	return model.Persistence(op, err)
}
