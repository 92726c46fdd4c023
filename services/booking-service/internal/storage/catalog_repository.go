package storage

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
)

func getService(ctx context.Context, q querier, shopID, serviceID string) (model.Service, error) {
	var s model.Service
	err := q.QueryRow(ctx, `
		SELECT id::text, shop_id::text, name, price::text, duration_minutes, is_active
		FROM services
		WHERE shop_id = $1 AND id = $2
	`, shopID, serviceID).Scan(&s.ID, &s.ShopID, &s.Name, &s.Price, &s.DurationMins, &s.IsActive)
	if err != nil {
		return model.Service{}, err
	}
	return s, nil
}

func getStaff(ctx context.Context, q querier, shopID, staffID string) (model.Staff, error) {
	var s model.Staff
	err := q.QueryRow(ctx, `
		SELECT id::text, shop_id::text, name, is_active
		FROM staff
		WHERE shop_id = $1 AND id = $2
	`, shopID, staffID).Scan(&s.ID, &s.ShopID, &s.Name, &s.IsActive)
	if err != nil {
		return model.Staff{}, err
	}
	if err := loadStaffDetails(ctx, q, &s); err != nil {
		return model.Staff{}, err
	}
	return s, nil
}

func listStaffForService(ctx context.Context, q querier, shopID, serviceID string) ([]model.Staff, error) {
	rows, err := q.Query(ctx, `
		SELECT s.id::text, s.shop_id::text, s.name, s.is_active
		FROM staff s
		JOIN staff_services ss ON ss.staff_id = s.id
		WHERE s.shop_id = $1 AND ss.service_id = $2 AND s.is_active
		ORDER BY s.id::text ASC
	`, shopID, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Staff
	for rows.Next() {
		var s model.Staff
		if err := rows.Scan(&s.ID, &s.ShopID, &s.Name, &s.IsActive); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	rows.Close()

	for i := range out {
		if err := loadStaffDetails(ctx, q, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// loadStaffDetails fills the capability list and the weekly template. Weekdays without a
// staff_working_hours row are days off.
func loadStaffDetails(ctx context.Context, q querier, s *model.Staff) error {
	svcRows, err := q.Query(ctx, `
		SELECT service_id::text FROM staff_services WHERE staff_id = $1 ORDER BY service_id
	`, s.ID)
	if err != nil {
		return err
	}
	s.ServiceIDs = nil
	for svcRows.Next() {
		var id string
		if err := svcRows.Scan(&id); err != nil {
			svcRows.Close()
			return err
		}
		s.ServiceIDs = append(s.ServiceIDs, id)
	}
	svcRows.Close()
	if svcRows.Err() != nil {
		return svcRows.Err()
	}

	s.Schedule = calendar.Template{Days: make(map[time.Weekday]calendar.Day, 7)}
	hourRows, err := q.Query(ctx, `
		SELECT weekday, is_working, start_minute, end_minute
		FROM staff_working_hours
		WHERE staff_id = $1
		ORDER BY weekday ASC
	`, s.ID)
	if err != nil {
		return err
	}
	for hourRows.Next() {
		var weekday int
		var d calendar.Day
		if err := hourRows.Scan(&weekday, &d.IsWorking, &d.StartMinute, &d.EndMinute); err != nil {
			hourRows.Close()
			return err
		}
		s.Schedule.Days[time.Weekday(weekday)] = d
	}
	hourRows.Close()
	if hourRows.Err() != nil {
		return hourRows.Err()
	}

	breakRows, err := q.Query(ctx, `
		SELECT weekday, start_minute, end_minute
		FROM staff_breaks
		WHERE staff_id = $1
		ORDER BY weekday ASC, start_minute ASC
	`, s.ID)
	if err != nil {
		return err
	}
	defer breakRows.Close()
	for breakRows.Next() {
		var weekday int
		var b calendar.Span
		if err := breakRows.Scan(&weekday, &b.StartMinute, &b.EndMinute); err != nil {
			return err
		}
		d, ok := s.Schedule.Days[time.Weekday(weekday)]
		if !ok {
			continue
		}
		d.Breaks = append(d.Breaks, b)
		s.Schedule.Days[time.Weekday(weekday)] = d
	}
	return breakRows.Err()
}

func listTimeOff(ctx context.Context, q querier, shopID, staffID string, from, to time.Time) ([]calendar.TimeOff, error) {
	rows, err := q.Query(ctx, `
		SELECT t.start_time, t.end_time
		FROM staff_time_off t
		JOIN staff s ON s.id = t.staff_id
		WHERE s.shop_id = $1
			AND t.staff_id = $2
			AND t.end_time > $3
			AND t.start_time < $4
		ORDER BY t.start_time ASC
	`, shopID, staffID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []calendar.TimeOff
	for rows.Next() {
		var t calendar.TimeOff
		if err := rows.Scan(&t.Start, &t.End); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
