package model

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
	StatusDone      Status = "done"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusNoShow, StatusDone:
		return true
	}
	return false
}

// Terminal statuses accept no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusNoShow || s == StatusDone
}

type Appointment struct {
	ID           string
	ShopID       string
	StaffID      string
	CustomerID   string
	ServiceID    string
	StartTime    time.Time
	EndTime      time.Time
	BlockedUntil time.Time
	Status       Status
	Notes        string
	CancelReason string
	CompletedAt  *time.Time
	CancelledAt  *time.Time
	CreatedAt    time.Time
}

// Blocks reports whether the appointment still occupies the staff member's time.
func (a Appointment) Blocks() bool {
	return a.Status != StatusCancelled
}

type Customer struct {
	ID        string
	ShopID    string
	Name      string
	Phone     string
	Email     string
	CreatedAt time.Time
}
