package storage

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
)

func insertInvite(ctx context.Context, q querier, inv *model.ReviewInvite) error {
	return q.QueryRow(ctx, `
		INSERT INTO review_invites (shop_id, appointment_id, token_hash, issued_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id::text
	`, inv.ShopID, inv.AppointmentID, inv.TokenHash, inv.IssuedAt).Scan(&inv.ID)
}

func getInviteByHash(ctx context.Context, q querier, tokenHash string, lock bool) (model.ReviewInvite, error) {
	sql := `
		SELECT id::text, shop_id::text, appointment_id::text, token_hash, issued_at, consumed_at
		FROM review_invites
		WHERE token_hash = $1`
	if lock {
		sql += `
		FOR UPDATE`
	}
	var inv model.ReviewInvite
	var consumedAt *time.Time
	err := q.QueryRow(ctx, sql, tokenHash).Scan(
		&inv.ID,
		&inv.ShopID,
		&inv.AppointmentID,
		&inv.TokenHash,
		&inv.IssuedAt,
		&consumedAt,
	)
	if err != nil {
		return model.ReviewInvite{}, err
	}
	inv.ConsumedAt = consumedAt
	return inv, nil
}

// consumeInvite flips consumed_at exactly once; false means another request got there first.
func consumeInvite(ctx context.Context, q querier, inviteID string, at time.Time) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE review_invites
		SET consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL
	`, inviteID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func insertReview(ctx context.Context, q querier, r *model.Review) error {
	return q.QueryRow(ctx, `
		INSERT INTO appointment_reviews
			(shop_id, appointment_id, staff_id, customer_id, rating, comment, status, verified, submitted_at, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id::text
	`, r.ShopID, r.AppointmentID, r.StaffID, r.CustomerID, r.Rating, r.Comment, r.Status, r.Verified,
		r.SubmittedAt, r.PublishedAt).Scan(&r.ID)
}
