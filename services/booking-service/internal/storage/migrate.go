package storage

import (
	"context"
	_ "embed"

	"github.com/md-rashed-zaman/shopbook/libs/db"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *db.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}

// Constraint names surfaced by the schema, shared with stores that emulate it.
const (
	ConstraintNoOverlap     = "appointments_no_overlap"
	ConstraintReviewUnique  = "appointment_reviews_appointment_id_key"
	ConstraintInviteHash    = "review_invites_token_hash_key"
	ConstraintIdempotencyPK = "booking_idempotency_keys_pkey"
)
