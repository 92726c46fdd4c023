package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/shopbook/libs/db"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/outbox"
)

// querier is satisfied by both the pool and a pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the production Store. Exclusivity comes from the schema's exclusion and unique
// constraints, never from process memory.
type Postgres struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewPostgres(pool *db.Pool, outboxRepo *outbox.Repository) *Postgres {
	return &Postgres{pool: pool, outbox: outboxRepo}
}

func (p *Postgres) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx, outbox: p.outbox}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Postgres) GetService(ctx context.Context, shopID, serviceID string) (model.Service, error) {
	return getService(ctx, p.pool, shopID, serviceID)
}

func (p *Postgres) GetStaff(ctx context.Context, shopID, staffID string) (model.Staff, error) {
	return getStaff(ctx, p.pool, shopID, staffID)
}

func (p *Postgres) ListStaffForService(ctx context.Context, shopID, serviceID string) ([]model.Staff, error) {
	return listStaffForService(ctx, p.pool, shopID, serviceID)
}

func (p *Postgres) ListTimeOff(ctx context.Context, shopID, staffID string, from, to time.Time) ([]calendar.TimeOff, error) {
	return listTimeOff(ctx, p.pool, shopID, staffID, from, to)
}

func (p *Postgres) ListBlockingAppointments(ctx context.Context, shopID, staffID string, from, to time.Time) ([]model.Appointment, error) {
	return listBlockingAppointments(ctx, p.pool, shopID, staffID, from, to, false)
}

func (p *Postgres) GetAppointment(ctx context.Context, shopID, appointmentID string) (model.Appointment, error) {
	return getAppointment(ctx, p.pool, shopID, appointmentID, false)
}

func (p *Postgres) ListAppointments(ctx context.Context, f AppointmentFilter) ([]model.Appointment, error) {
	return listAppointments(ctx, p.pool, f)
}

func (p *Postgres) GetCustomer(ctx context.Context, shopID, customerID string) (model.Customer, error) {
	return getCustomer(ctx, p.pool, shopID, customerID)
}

func (p *Postgres) GetInviteByHash(ctx context.Context, tokenHash string) (model.ReviewInvite, error) {
	return getInviteByHash(ctx, p.pool, tokenHash, false)
}

type pgTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *pgTx) ListBlockingAppointments(ctx context.Context, shopID, staffID string, from, to time.Time) ([]model.Appointment, error) {
	return listBlockingAppointments(ctx, t.tx, shopID, staffID, from, to, true)
}

func (t *pgTx) LockIdempotencyKey(ctx context.Context, shopID, key string) (IdempotencyRecord, bool, error) {
	return lockIdempotencyKey(ctx, t.tx, shopID, key)
}

func (t *pgTx) FinalizeIdempotency(ctx context.Context, shopID, key, appointmentID string) error {
	return finalizeIdempotency(ctx, t.tx, shopID, key, appointmentID)
}

func (t *pgTx) InsertCustomer(ctx context.Context, c *model.Customer) error {
	return insertCustomer(ctx, t.tx, c)
}

func (t *pgTx) InsertAppointment(ctx context.Context, a *model.Appointment) error {
	return insertAppointment(ctx, t.tx, a)
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, shopID, appointmentID string) (model.Appointment, error) {
	return getAppointment(ctx, t.tx, shopID, appointmentID, true)
}

func (t *pgTx) UpdateAppointmentStatus(ctx context.Context, a model.Appointment) error {
	return updateAppointmentStatus(ctx, t.tx, a)
}

func (t *pgTx) GetCustomer(ctx context.Context, shopID, customerID string) (model.Customer, error) {
	return getCustomer(ctx, t.tx, shopID, customerID)
}

func (t *pgTx) InsertInvite(ctx context.Context, inv *model.ReviewInvite) error {
	return insertInvite(ctx, t.tx, inv)
}

func (t *pgTx) GetInviteByHashForUpdate(ctx context.Context, tokenHash string) (model.ReviewInvite, error) {
	return getInviteByHash(ctx, t.tx, tokenHash, true)
}

func (t *pgTx) ConsumeInvite(ctx context.Context, inviteID string, at time.Time) (bool, error) {
	return consumeInvite(ctx, t.tx, inviteID, at)
}

func (t *pgTx) InsertReview(ctx context.Context, r *model.Review) error {
	return insertReview(ctx, t.tx, r)
}

func (t *pgTx) InsertOutboxEvent(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}

var (
	_ Store = (*Postgres)(nil)
	_ Tx    = (*pgTx)(nil)
)
