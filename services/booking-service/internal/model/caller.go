package model

import "strings"

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleStaff    Role = "staff"
	RoleCustomer Role = "customer"
)

// Caller is the already-authenticated identity attached to a request.
type Caller struct {
	Subject       string
	ShopID        string
	Role          Role
	StaffID       string
	Email         string
	EmailVerified bool
}

// VerifiedEmail returns the normalized email when the identity provider vouched for it.
func (c Caller) VerifiedEmail() (string, bool) {
	email := strings.ToLower(strings.TrimSpace(c.Email))
	if !c.EmailVerified || email == "" {
		return "", false
	}
	return email, true
}
