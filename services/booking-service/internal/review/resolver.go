package review

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/invite"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/storage"
)

const MaxCommentLen = 1000

type Config struct {
	// AutoPublish stores reviews as published; otherwise they wait as pending.
	AutoPublish bool
}

// Resolver admits a review through an invite token or through the customer's own verified
// identity. Both paths end in the same insert, guarded by the one-review-per-appointment constraint.
type Resolver struct {
	store   storage.Store
	invites *invite.Service
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

func NewResolver(store storage.Store, invites *invite.Service, cfg Config, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, invites: invites, cfg: cfg, logger: logger, now: time.Now}
}

type Submission struct {
	Rating  int
	Comment string
}

// SubmitWithToken needs no caller identity; the token is the credential.
func (r *Resolver) SubmitWithToken(ctx context.Context, token string, sub Submission) (model.Review, error) {
	comment, err := validate(sub)
	if err != nil {
		return model.Review{}, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return model.Review{}, &model.Error{Kind: model.KindTokenInvalid}
	}

	var out model.Review
	err = r.store.WithinTx(ctx, func(tx storage.Tx) error {
		appt, err := r.invites.Redeem(ctx, tx, token)
		if err != nil {
			return err
		}
		out, err = r.insert(ctx, tx, appt, sub.Rating, comment, "invite")
		return err
	})
	if err != nil {
		return model.Review{}, r.fail("token", err)
	}
	r.logger.Info("review submitted", "appointment_id", out.AppointmentID, "path", "invite", "rating", out.Rating)
	return out, nil
}

// SubmitAsCustomer lets a signed-in customer review their own completed appointment. Ownership is
// the caller's verified email matching the appointment's customer email.
func (r *Resolver) SubmitAsCustomer(ctx context.Context, caller model.Caller, appointmentID string, sub Submission) (model.Review, error) {
	comment, err := validate(sub)
	if err != nil {
		return model.Review{}, err
	}
	appointmentID = strings.TrimSpace(appointmentID)
	if appointmentID == "" {
		return model.Review{}, model.Errorf(model.KindInvalidInput, "appointment_id is required")
	}
	if caller.Role != model.RoleCustomer {
		return model.Review{}, model.Errorf(model.KindUnauthorized, "only customers can submit reviews")
	}
	email, ok := caller.VerifiedEmail()
	if !ok {
		return model.Review{}, model.Errorf(model.KindUnauthorized, "a verified email is required")
	}

	var out model.Review
	err = r.store.WithinTx(ctx, func(tx storage.Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, caller.ShopID, appointmentID)
		if err != nil {
			if storage.IsNotFound(err) {
				return model.Errorf(model.KindNotFound, "appointment not found")
			}
			return model.Persistence("load appointment", err)
		}
		customer, err := tx.GetCustomer(ctx, appt.ShopID, appt.CustomerID)
		if err != nil {
			if storage.IsNotFound(err) {
				return model.Errorf(model.KindUnauthorized, "appointment does not belong to this customer")
			}
			return model.Persistence("load customer", err)
		}
		if customer.Email == "" || !strings.EqualFold(strings.TrimSpace(customer.Email), email) {
			return model.Errorf(model.KindUnauthorized, "appointment does not belong to this customer")
		}
		if appt.Status != model.StatusDone {
			return model.Errorf(model.KindInvalidInput, "only completed appointments can be reviewed")
		}
		out, err = r.insert(ctx, tx, appt, sub.Rating, comment, "self_service")
		return err
	})
	if err != nil {
		return model.Review{}, r.fail("self_service", err)
	}
	r.logger.Info("review submitted", "appointment_id", out.AppointmentID, "path", "self_service", "rating", out.Rating)
	return out, nil
}

func (r *Resolver) insert(ctx context.Context, tx storage.Tx, appt model.Appointment, rating int, comment *string, path string) (model.Review, error) {
	now := r.now().UTC()
	rev := model.Review{
		ShopID:        appt.ShopID,
		AppointmentID: appt.ID,
		StaffID:       appt.StaffID,
		CustomerID:    appt.CustomerID,
		Rating:        rating,
		Comment:       comment,
		Status:        model.ReviewPending,
		Verified:      true,
		SubmittedAt:   now,
	}
	if r.cfg.AutoPublish {
		rev.Status = model.ReviewPublished
		rev.PublishedAt = &now
	}
	if err := tx.InsertReview(ctx, &rev); err != nil {
		if storage.IsUniqueViolation(err) {
			return model.Review{}, model.Errorf(model.KindAlreadyReviewed, "this appointment has already been reviewed")
		}
		return model.Review{}, model.Persistence("insert review", err)
	}

	evt, err := outbox.NewEvent("review", rev.ID, outbox.EventReviewSubmitted, map[string]any{
		"review_id":      rev.ID,
		"appointment_id": rev.AppointmentID,
		"shop_id":        rev.ShopID,
		"staff_id":       rev.StaffID,
		"rating":         rev.Rating,
		"status":         string(rev.Status),
		"path":           path,
	})
	if err != nil {
		return model.Review{}, model.Persistence("build review event", err)
	}
	if err := tx.InsertOutboxEvent(ctx, evt); err != nil {
		return model.Review{}, model.Persistence("write outbox event", err)
	}
	return rev, nil
}

func (r *Resolver) fail(path string, err error) error {
	var e *model.Error
	if !errors.As(err, &e) {
		err = model.Persistence("submit review", err)
	}
	if model.KindOf(err) == model.KindPersistenceFailure {
		r.logger.Error("review submission failed", "path", path, "err", err)
	}
	return err
}

func validate(sub Submission) (*string, error) {
	if sub.Rating < 1 || sub.Rating > 5 {
		return nil, model.Errorf(model.KindInvalidInput, "rating must be between 1 and 5")
	}
	return NormalizeComment(sub.Comment), nil
}

// NormalizeComment trims, caps at MaxCommentLen characters and maps empty to nil.
func NormalizeComment(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if utf8.RuneCountInString(s) > MaxCommentLen {
		s = strings.TrimSpace(string([]rune(s)[:MaxCommentLen]))
	}
	return &s
}
