package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/outbox"
)

// Reader holds the non-transactional reads. Results may be stale by the time a write happens;
// writers re-check inside a Tx.
type Reader interface {
	GetService(ctx context.Context, shopID, serviceID string) (model.Service, error)
	GetStaff(ctx context.Context, shopID, staffID string) (model.Staff, error)
	// ListStaffForService returns active staff able to perform the service, ordered by id.
	ListStaffForService(ctx context.Context, shopID, serviceID string) ([]model.Staff, error)
	ListTimeOff(ctx context.Context, shopID, staffID string, from, to time.Time) ([]calendar.TimeOff, error)
	// ListBlockingAppointments returns non-cancelled appointments of the staff member whose
	// [start, blocked_until) range intersects [from, to), ordered by start.
	ListBlockingAppointments(ctx context.Context, shopID, staffID string, from, to time.Time) ([]model.Appointment, error)
	GetAppointment(ctx context.Context, shopID, appointmentID string) (model.Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]model.Appointment, error)
	GetCustomer(ctx context.Context, shopID, customerID string) (model.Customer, error)
	GetInviteByHash(ctx context.Context, tokenHash string) (model.ReviewInvite, error)
}

// Tx is one atomic unit of work. Every write the core performs goes through a Tx.
//
// Contract, whatever the engine:
//   - InsertAppointment rejects a non-cancelled appointment whose [start, blocked_until) overlaps
//     another non-cancelled appointment of the same staff member (IsConflict).
//   - InsertReview rejects a second review for the same appointment (IsUniqueViolation).
//   - ConsumeInvite only succeeds once per invite.
type Tx interface {
	ListBlockingAppointments(ctx context.Context, shopID, staffID string, from, to time.Time) ([]model.Appointment, error)
	LockIdempotencyKey(ctx context.Context, shopID, key string) (IdempotencyRecord, bool, error)
	FinalizeIdempotency(ctx context.Context, shopID, key, appointmentID string) error
	InsertCustomer(ctx context.Context, c *model.Customer) error
	InsertAppointment(ctx context.Context, a *model.Appointment) error
	GetAppointmentForUpdate(ctx context.Context, shopID, appointmentID string) (model.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, a model.Appointment) error
	GetCustomer(ctx context.Context, shopID, customerID string) (model.Customer, error)
	InsertInvite(ctx context.Context, inv *model.ReviewInvite) error
	GetInviteByHashForUpdate(ctx context.Context, tokenHash string) (model.ReviewInvite, error)
	ConsumeInvite(ctx context.Context, inviteID string, at time.Time) (bool, error)
	InsertReview(ctx context.Context, r *model.Review) error
	InsertOutboxEvent(ctx context.Context, evt outbox.Event) error
}

// Store is the storage collaborator of the booking core.
type Store interface {
	Reader
	// WithinTx runs fn in a transaction, committing when fn returns nil and rolling back otherwise.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

type IdempotencyRecord struct {
	ShopID         string
	IdempotencyKey string
	AppointmentID  string
}

type AppointmentFilter struct {
	ShopID        string
	StaffID       string
	CustomerEmail string
	Limit         int
}

// Both the Postgres store and the in-memory store report errors with the pgx vocabulary, so the
// helpers below work for either.

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsConflict reports an exclusion constraint violation (overlapping appointment).
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ConflictError and UniqueViolation build the errors Postgres would return, for stores that enforce
// the same constraints themselves.
func ConflictError(constraint string) error {
	return &pgconn.PgError{Code: "23P01", ConstraintName: constraint, Message: "conflicting key value violates exclusion constraint"}
}

func UniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint, Message: "duplicate key value violates unique constraint"}
}
