package model

import "time"

type ReviewStatus string

const (
	ReviewPublished ReviewStatus = "published"
	ReviewPending   ReviewStatus = "pending"
)

type Review struct {
	ID            string
	ShopID        string
	AppointmentID string
	StaffID       string
	CustomerID    string
	Rating        int
	// Comment is nil when the customer left none.
	Comment     *string
	Status      ReviewStatus
	Verified    bool
	SubmittedAt time.Time
	PublishedAt *time.Time
}

// ReviewInvite is the stored half of an invite link. Only the hash of the raw token is kept.
type ReviewInvite struct {
	ID            string
	ShopID        string
	AppointmentID string
	TokenHash     string
	IssuedAt      time.Time
	ConsumedAt    *time.Time
}

func (i ReviewInvite) Consumed() bool {
	return i.ConsumedAt != nil
}
