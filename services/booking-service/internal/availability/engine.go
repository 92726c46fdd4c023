package availability

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type Config struct {
	Step     time.Duration
	LeadTime time.Duration
	Buffer   time.Duration
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.Step <= 0 {
		c.Step = 15 * time.Minute
	}
	if c.LeadTime < 0 {
		c.LeadTime = 0
	}
	if c.Buffer < 0 {
		c.Buffer = 0
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

type Query struct {
	ShopID    string
	ServiceID string
	// StaffID is optional; empty means every active staff member able to perform the service.
	StaffID string
	// Date is any instant on the requested calendar date in the shop location.
	Date time.Time
	Now  time.Time
}

type Slot struct {
	Start   time.Time
	StaffID string
}

// Engine computes bookable slots. It only reads; results are re-validated at booking time.
type Engine struct {
	store  storage.Reader
	cfg    Config
	logger *slog.Logger
}

func NewEngine(store storage.Reader, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, cfg: cfg.withDefaults(), logger: logger}
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Slots(ctx context.Context, q Query) ([]Slot, error) {
	ctx, span := otel.Tracer("booking-service/availability").Start(ctx, "availability.slots")
	defer span.End()
	span.SetAttributes(
		attribute.String("shop.id", q.ShopID),
		attribute.String("service.id", q.ServiceID),
		attribute.String("staff.id", q.StaffID),
	)

	if q.ShopID == "" || q.ServiceID == "" || q.Date.IsZero() {
		return nil, model.Errorf(model.KindInvalidInput, "shop_id, service_id and date are required")
	}
	svc, err := e.ActiveService(ctx, q.ShopID, q.ServiceID)
	if err != nil {
		return nil, err
	}

	var candidates []model.Staff
	if q.StaffID != "" {
		staff, err := e.CapableStaff(ctx, q.ShopID, q.StaffID, svc.ID)
		if err != nil {
			return nil, err
		}
		candidates = []model.Staff{staff}
	} else {
		candidates, err = e.store.ListStaffForService(ctx, q.ShopID, svc.ID)
		if err != nil {
			return nil, model.Persistence("list staff", err)
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	}

	now := q.Now
	if now.IsZero() {
		now = time.Now()
	}
	dayStart, dayEnd := calendar.DayBounds(q.Date, e.cfg.Location)
	duration := time.Duration(svc.DurationMins) * time.Minute
	earliest := now.Add(e.cfg.LeadTime)

	seen := make(map[int64]bool)
	var out []Slot
	for _, staff := range candidates {
		free, err := e.FreeIntervals(ctx, q.ShopID, staff, q.Date)
		if err != nil {
			return nil, err
		}
		for _, start := range AvailableSlots(free, dayStart, duration, e.cfg.Step, earliest, dayEnd) {
			key := start.UnixNano()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Slot{Start: start, StaffID: staff.ID})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })

	span.SetAttributes(attribute.Int("slots.count", len(out)))
	e.logger.Debug("availability computed", "shop_id", q.ShopID, "service_id", q.ServiceID, "staff", len(candidates), "slots", len(out))
	return out, nil
}

// ActiveService loads the service and rejects unknown or inactive ones with NotFound.
func (e *Engine) ActiveService(ctx context.Context, shopID, serviceID string) (model.Service, error) {
	svc, err := e.store.GetService(ctx, shopID, serviceID)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Service{}, model.Errorf(model.KindNotFound, "service not found")
		}
		return model.Service{}, model.Persistence("load service", err)
	}
	if !svc.IsActive || svc.DurationMins <= 0 {
		return model.Service{}, model.Errorf(model.KindNotFound, "service not found")
	}
	return svc, nil
}

// CapableStaff loads an active staff member and checks they perform the service.
func (e *Engine) CapableStaff(ctx context.Context, shopID, staffID, serviceID string) (model.Staff, error) {
	staff, err := e.store.GetStaff(ctx, shopID, staffID)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Staff{}, model.Errorf(model.KindNotFound, "staff not found")
		}
		return model.Staff{}, model.Persistence("load staff", err)
	}
	if !staff.IsActive {
		return model.Staff{}, model.Errorf(model.KindNotFound, "staff not found")
	}
	if !staff.Performs(serviceID) {
		return model.Staff{}, model.Errorf(model.KindInvalidInput, "staff member does not perform this service")
	}
	return staff, nil
}

// WorkingIntervals is the staff member's calendar for the local date of day, net of breaks and
// time off but not of appointments.
func (e *Engine) WorkingIntervals(ctx context.Context, shopID string, staff model.Staff, day time.Time) ([]Interval, error) {
	dayStart, dayEnd := calendar.DayBounds(day, e.cfg.Location)
	timeOff, err := e.store.ListTimeOff(ctx, shopID, staff.ID, dayStart, dayEnd)
	if err != nil {
		return nil, model.Persistence("list time off", err)
	}
	return calendar.WorkingIntervals(staff.Schedule, dayStart, e.cfg.Location, timeOff), nil
}

// FreeIntervals is WorkingIntervals minus every non-cancelled appointment padded by the buffer.
func (e *Engine) FreeIntervals(ctx context.Context, shopID string, staff model.Staff, day time.Time) ([]Interval, error) {
	working, err := e.WorkingIntervals(ctx, shopID, staff, day)
	if err != nil || len(working) == 0 {
		return nil, err
	}
	dayStart, dayEnd := calendar.DayBounds(day, e.cfg.Location)
	appts, err := e.store.ListBlockingAppointments(ctx, shopID, staff.ID, dayStart.Add(-e.cfg.Buffer), dayEnd.Add(e.cfg.Buffer))
	if err != nil {
		return nil, model.Persistence("list appointments", err)
	}
	return calendar.Subtract(working, BlockedIntervals(appts, e.cfg.Buffer)), nil
}

// BlockedIntervals returns [start-buffer, end+buffer) for each appointment that still blocks time.
// The stored blocked-until wins when it reaches further, so a buffer shrunk after booking does not
// free time the appointment was booked with.
func BlockedIntervals(appts []model.Appointment, buffer time.Duration) []Interval {
	out := make([]Interval, 0, len(appts))
	for _, a := range appts {
		if !a.Blocks() {
			continue
		}
		end := a.EndTime.Add(buffer)
		if a.BlockedUntil.After(end) {
			end = a.BlockedUntil
		}
		out = append(out, Interval{Start: a.StartTime.Add(-buffer), End: end})
	}
	return out
}
