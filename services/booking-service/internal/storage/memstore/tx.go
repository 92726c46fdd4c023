package memstore

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/storage"
)

// memTx runs with Store.mu held by WithinTx.
type memTx struct {
	s *Store
}

func (t *memTx) fail(op string) error {
	return t.s.failures[op]
}

func (t *memTx) ListBlockingAppointments(_ context.Context, shopID, staffID string, from, to time.Time) ([]model.Appointment, error) {
	if err := t.fail("ListBlockingAppointments"); err != nil {
		return nil, err
	}
	return t.s.data.blocking(shopID, staffID, from, to), nil
}

func (t *memTx) LockIdempotencyKey(_ context.Context, shopID, key string) (storage.IdempotencyRecord, bool, error) {
	if err := t.fail("LockIdempotencyKey"); err != nil {
		return storage.IdempotencyRecord{}, false, err
	}
	k := idempotencyKey(shopID, key)
	if rec, ok := t.s.data.idempotency[k]; ok {
		return rec, rec.AppointmentID != "", nil
	}
	rec := storage.IdempotencyRecord{ShopID: shopID, IdempotencyKey: key}
	t.s.data.idempotency[k] = rec
	return rec, false, nil
}

func (t *memTx) FinalizeIdempotency(_ context.Context, shopID, key, appointmentID string) error {
	if err := t.fail("FinalizeIdempotency"); err != nil {
		return err
	}
	k := idempotencyKey(shopID, key)
	rec := t.s.data.idempotency[k]
	rec.ShopID, rec.IdempotencyKey, rec.AppointmentID = shopID, key, appointmentID
	t.s.data.idempotency[k] = rec
	return nil
}

func (t *memTx) InsertCustomer(_ context.Context, c *model.Customer) error {
	if err := t.fail("InsertCustomer"); err != nil {
		return err
	}
	c.ID = uuid.NewString()
	c.Email = strings.ToLower(c.Email)
	c.CreatedAt = t.s.now()
	t.s.data.customers[c.ID] = *c
	return nil
}

// InsertAppointment enforces the same exclusion the Postgres schema declares.
func (t *memTx) InsertAppointment(_ context.Context, a *model.Appointment) error {
	if err := t.fail("InsertAppointment"); err != nil {
		return err
	}
	if a.Blocks() && len(t.s.data.blocking(a.ShopID, a.StaffID, a.StartTime, a.BlockedUntil)) > 0 {
		return storage.ConflictError(storage.ConstraintNoOverlap)
	}
	a.ID = uuid.NewString()
	a.CreatedAt = t.s.now()
	t.s.data.appointments[a.ID] = *a
	return nil
}

func (t *memTx) GetAppointmentForUpdate(_ context.Context, shopID, appointmentID string) (model.Appointment, error) {
	if err := t.fail("GetAppointmentForUpdate"); err != nil {
		return model.Appointment{}, err
	}
	return t.s.data.appointment(shopID, appointmentID)
}

func (t *memTx) UpdateAppointmentStatus(_ context.Context, a model.Appointment) error {
	if err := t.fail("UpdateAppointmentStatus"); err != nil {
		return err
	}
	cur, err := t.s.data.appointment(a.ShopID, a.ID)
	if err != nil {
		return err
	}
	cur.Status = a.Status
	cur.CancelReason = a.CancelReason
	cur.CompletedAt = a.CompletedAt
	cur.CancelledAt = a.CancelledAt
	t.s.data.appointments[cur.ID] = cur
	return nil
}

func (t *memTx) GetCustomer(_ context.Context, shopID, customerID string) (model.Customer, error) {
	if err := t.fail("GetCustomer"); err != nil {
		return model.Customer{}, err
	}
	return t.s.data.customer(shopID, customerID)
}

func (t *memTx) InsertInvite(_ context.Context, inv *model.ReviewInvite) error {
	if err := t.fail("InsertInvite"); err != nil {
		return err
	}
	if _, err := t.s.data.inviteByHash(inv.TokenHash); err == nil {
		return storage.UniqueViolation(storage.ConstraintInviteHash)
	}
	inv.ID = uuid.NewString()
	t.s.data.invites[inv.ID] = *inv
	return nil
}

func (t *memTx) GetInviteByHashForUpdate(_ context.Context, tokenHash string) (model.ReviewInvite, error) {
	if err := t.fail("GetInviteByHashForUpdate"); err != nil {
		return model.ReviewInvite{}, err
	}
	return t.s.data.inviteByHash(tokenHash)
}

func (t *memTx) ConsumeInvite(_ context.Context, inviteID string, at time.Time) (bool, error) {
	if err := t.fail("ConsumeInvite"); err != nil {
		return false, err
	}
	inv, ok := t.s.data.invites[inviteID]
	if !ok || inv.ConsumedAt != nil {
		return false, nil
	}
	inv.ConsumedAt = &at
	t.s.data.invites[inviteID] = inv
	return true, nil
}

func (t *memTx) InsertReview(_ context.Context, r *model.Review) error {
	if err := t.fail("InsertReview"); err != nil {
		return err
	}
	if _, exists := t.s.data.reviews[r.AppointmentID]; exists {
		return storage.UniqueViolation(storage.ConstraintReviewUnique)
	}
	r.ID = uuid.NewString()
	t.s.data.reviews[r.AppointmentID] = *r
	return nil
}

func (t *memTx) InsertOutboxEvent(_ context.Context, evt outbox.Event) error {
	if err := t.fail("InsertOutboxEvent"); err != nil {
		return err
	}
	t.s.data.events = append(t.s.data.events, evt)
	return nil
}

var _ storage.Tx = (*memTx)(nil)
