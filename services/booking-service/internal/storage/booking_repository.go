package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
)

const appointmentColumns = `
	id::text, shop_id::text, staff_id::text, customer_id::text, service_id::text,
	start_time, end_time, blocked_until, status, COALESCE(notes, ''), COALESCE(cancellation_reason, ''),
	completed_at, cancelled_at, created_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var completedAt, cancelledAt *time.Time
	err := row.Scan(
		&appt.ID,
		&appt.ShopID,
		&appt.StaffID,
		&appt.CustomerID,
		&appt.ServiceID,
		&appt.StartTime,
		&appt.EndTime,
		&appt.BlockedUntil,
		&appt.Status,
		&appt.Notes,
		&appt.CancelReason,
		&completedAt,
		&cancelledAt,
		&appt.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.CompletedAt = completedAt
	appt.CancelledAt = cancelledAt
	return appt, nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func listBlockingAppointments(ctx context.Context, q querier, shopID, staffID string, from, to time.Time, lock bool) ([]model.Appointment, error) {
	sql := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE shop_id = $1
			AND staff_id = $2
			AND status <> 'cancelled'
			AND start_time < $4
			AND blocked_until > $3
		ORDER BY start_time ASC`
	if lock {
		sql += `
		FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, shopID, staffID, from, to)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func getAppointment(ctx context.Context, q querier, shopID, appointmentID string, lock bool) (model.Appointment, error) {
	sql := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE id = $1 AND shop_id = $2`
	if lock {
		sql += `
		FOR UPDATE`
	}
	return scanAppointment(q.QueryRow(ctx, sql, appointmentID, shopID))
}

func listAppointments(ctx context.Context, q querier, f AppointmentFilter) ([]model.Appointment, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE shop_id = $1
			AND ($2::text = '' OR staff_id::text = $2)
			AND ($3::text = '' OR customer_id IN (
				SELECT id FROM customers WHERE shop_id = $1 AND email = lower($3)
			))
		ORDER BY start_time DESC
		LIMIT $4
	`, f.ShopID, f.StaffID, f.CustomerEmail, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func insertAppointment(ctx context.Context, q querier, appt *model.Appointment) error {
	return q.QueryRow(ctx, `
		INSERT INTO appointments
			(shop_id, staff_id, customer_id, service_id, start_time, end_time, blocked_until, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))
		RETURNING id::text, created_at
	`, appt.ShopID, appt.StaffID, appt.CustomerID, appt.ServiceID, appt.StartTime, appt.EndTime,
		appt.BlockedUntil, appt.Status, appt.Notes).Scan(&appt.ID, &appt.CreatedAt)
}

func updateAppointmentStatus(ctx context.Context, q querier, appt model.Appointment) error {
	tag, err := q.Exec(ctx, `
		UPDATE appointments
		SET status = $3,
			cancellation_reason = NULLIF($4, ''),
			completed_at = $5,
			cancelled_at = $6,
			updated_at = now()
		WHERE id = $1 AND shop_id = $2
	`, appt.ID, appt.ShopID, appt.Status, appt.CancelReason, appt.CompletedAt, appt.CancelledAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func insertCustomer(ctx context.Context, q querier, c *model.Customer) error {
	return q.QueryRow(ctx, `
		INSERT INTO customers (shop_id, name, phone, email)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF(lower($4), ''))
		RETURNING id::text, created_at
	`, c.ShopID, c.Name, c.Phone, c.Email).Scan(&c.ID, &c.CreatedAt)
}

func getCustomer(ctx context.Context, q querier, shopID, customerID string) (model.Customer, error) {
	var c model.Customer
	err := q.QueryRow(ctx, `
		SELECT id::text, shop_id::text, name, COALESCE(phone, ''), COALESCE(email, ''), created_at
		FROM customers
		WHERE id = $1 AND shop_id = $2
	`, customerID, shopID).Scan(&c.ID, &c.ShopID, &c.Name, &c.Phone, &c.Email, &c.CreatedAt)
	if err != nil {
		return model.Customer{}, err
	}
	return c, nil
}

func lockIdempotencyKey(ctx context.Context, q querier, shopID, key string) (IdempotencyRecord, bool, error) {
	rec, err := selectIdempotencyForUpdate(ctx, q, shopID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (shop_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (shop_id, idempotency_key) DO NOTHING
	`, shopID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = selectIdempotencyForUpdate(ctx, q, shopID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	// A concurrent request may have finalized the key between our insert and select.
	return rec, rec.AppointmentID != "", nil
}

func finalizeIdempotency(ctx context.Context, q querier, shopID, key, appointmentID string) error {
	_, err := q.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = $3,
			updated_at = now()
		WHERE shop_id = $1 AND idempotency_key = $2
	`, shopID, key, appointmentID)
	return err
}

func selectIdempotencyForUpdate(ctx context.Context, q querier, shopID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	err := q.QueryRow(ctx, `
		SELECT shop_id::text,
			idempotency_key,
			COALESCE(appointment_id::text, '')
		FROM booking_idempotency_keys
		WHERE shop_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, shopID, key).Scan(&rec.ShopID, &rec.IdempotencyKey, &rec.AppointmentID)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	return rec, nil
}
