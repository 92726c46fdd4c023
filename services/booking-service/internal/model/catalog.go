package model

import "github.com/md-rashed-zaman/shopbook/services/booking-service/internal/calendar"

type Service struct {
	ID           string
	ShopID       string
	Name         string
	Price        string
	DurationMins int
	IsActive     bool
}

type Staff struct {
	ID         string
	ShopID     string
	Name       string
	IsActive   bool
	ServiceIDs []string
	Schedule   calendar.Template
}

func (s Staff) Performs(serviceID string) bool {
	for _, id := range s.ServiceIDs {
		if id == serviceID {
			return true
		}
	}
	return false
}
