// Package memstore is an in-process storage.Store. Transactions are serialized by one mutex and
// rolled back by restoring a snapshot, so it honours the same contract as the Postgres store and
// reports violations with the same error values.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/storage"
)

type state struct {
	services     map[string]model.Service
	staff        map[string]model.Staff
	timeOff      map[string][]calendar.TimeOff
	customers    map[string]model.Customer
	appointments map[string]model.Appointment
	idempotency  map[string]storage.IdempotencyRecord
	invites      map[string]model.ReviewInvite
	reviews      map[string]model.Review
	events       []outbox.Event
}

func newState() *state {
	return &state{
		services:     map[string]model.Service{},
		staff:        map[string]model.Staff{},
		timeOff:      map[string][]calendar.TimeOff{},
		customers:    map[string]model.Customer{},
		appointments: map[string]model.Appointment{},
		idempotency:  map[string]storage.IdempotencyRecord{},
		invites:      map[string]model.ReviewInvite{},
		reviews:      map[string]model.Review{},
	}
}

// clone copies every map. Stored values are replaced, never mutated in place, so a shallow copy
// per entry is enough.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.services {
		c.services[k] = v
	}
	for k, v := range s.staff {
		c.staff[k] = v
	}
	for k, v := range s.timeOff {
		c.timeOff[k] = append([]calendar.TimeOff(nil), v...)
	}
	for k, v := range s.customers {
		c.customers[k] = v
	}
	for k, v := range s.appointments {
		c.appointments[k] = v
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	for k, v := range s.invites {
		c.invites[k] = v
	}
	for k, v := range s.reviews {
		c.reviews[k] = v
	}
	c.events = append([]outbox.Event(nil), s.events...)
	return c
}

type Store struct {
	mu       sync.Mutex
	data     *state
	failures map[string]error
	now      func() time.Time
}

func New() *Store {
	return &Store{data: newState(), failures: map[string]error{}, now: time.Now}
}

// Fail makes every later call of the named Tx operation (e.g. "InsertOutboxEvent") return err.
// A nil err clears the failure.
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *Store) AddService(svc model.Service) model.Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	s.data.services[svc.ID] = svc
	return svc
}

func (s *Store) AddStaff(st model.Staff) model.Staff {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	s.data.staff[st.ID] = st
	return st
}

func (s *Store) AddTimeOff(staffID string, off calendar.TimeOff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.timeOff[staffID] = append(s.data.timeOff[staffID], off)
}

func (s *Store) AddCustomer(c model.Customer) model.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Email = strings.ToLower(c.Email)
	s.data.customers[c.ID] = c
	return c
}

// PutAppointment stores a as-is, bypassing the overlap check. Fixtures only.
func (s *Store) PutAppointment(a model.Appointment) model.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.BlockedUntil.IsZero() {
		a.BlockedUntil = a.EndTime
	}
	s.data.appointments[a.ID] = a
	return a
}

func (s *Store) Appointments() []model.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Appointment, 0, len(s.data.appointments))
	for _, a := range s.data.appointments {
		out = append(out, a)
	}
	sortByStart(out)
	return out
}

func (s *Store) Customers() []model.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Customer, 0, len(s.data.customers))
	for _, c := range s.data.customers {
		out = append(out, c)
	}
	return out
}

func (s *Store) Reviews() []model.Review {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Review, 0, len(s.data.reviews))
	for _, r := range s.data.reviews {
		out = append(out, r)
	}
	return out
}

func (s *Store) Invites() []model.ReviewInvite {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ReviewInvite, 0, len(s.data.invites))
	for _, inv := range s.data.invites {
		out = append(out, inv)
	}
	return out
}

// Events returns the outbox events committed so far, in insertion order.
func (s *Store) Events() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Event(nil), s.data.events...)
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := s.data.clone()
	if err := fn(&memTx{s: s}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *Store) GetService(_ context.Context, shopID, serviceID string) (model.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.data.services[serviceID]
	if !ok || svc.ShopID != shopID {
		return model.Service{}, pgx.ErrNoRows
	}
	return svc, nil
}

func (s *Store) GetStaff(_ context.Context, shopID, staffID string) (model.Staff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.data.staff[staffID]
	if !ok || st.ShopID != shopID {
		return model.Staff{}, pgx.ErrNoRows
	}
	return st, nil
}

func (s *Store) ListStaffForService(_ context.Context, shopID, serviceID string) ([]model.Staff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Staff
	for _, st := range s.data.staff {
		if st.ShopID == shopID && st.IsActive && st.Performs(serviceID) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListTimeOff(_ context.Context, shopID, staffID string, from, to time.Time) ([]calendar.TimeOff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.data.staff[staffID]; !ok || st.ShopID != shopID {
		return nil, nil
	}
	var out []calendar.TimeOff
	for _, off := range s.data.timeOff[staffID] {
		if off.End.After(from) && off.Start.Before(to) {
			out = append(out, off)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (s *Store) ListBlockingAppointments(_ context.Context, shopID, staffID string, from, to time.Time) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.blocking(shopID, staffID, from, to), nil
}

func (s *Store) GetAppointment(_ context.Context, shopID, appointmentID string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.appointment(shopID, appointmentID)
}

func (s *Store) ListAppointments(_ context.Context, f storage.AppointmentFilter) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	email := strings.ToLower(strings.TrimSpace(f.CustomerEmail))

	var out []model.Appointment
	for _, a := range s.data.appointments {
		if a.ShopID != f.ShopID {
			continue
		}
		if f.StaffID != "" && a.StaffID != f.StaffID {
			continue
		}
		if email != "" {
			c, ok := s.data.customers[a.CustomerID]
			if !ok || c.Email != email {
				continue
			}
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetCustomer(_ context.Context, shopID, customerID string) (model.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.customer(shopID, customerID)
}

func (s *Store) GetInviteByHash(_ context.Context, tokenHash string) (model.ReviewInvite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.inviteByHash(tokenHash)
}

func (d *state) blocking(shopID, staffID string, from, to time.Time) []model.Appointment {
	var out []model.Appointment
	for _, a := range d.appointments {
		if a.ShopID != shopID || a.StaffID != staffID || !a.Blocks() {
			continue
		}
		if a.StartTime.Before(to) && a.BlockedUntil.After(from) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out
}

func (d *state) appointment(shopID, id string) (model.Appointment, error) {
	a, ok := d.appointments[id]
	if !ok || a.ShopID != shopID {
		return model.Appointment{}, pgx.ErrNoRows
	}
	return a, nil
}

func (d *state) customer(shopID, id string) (model.Customer, error) {
	c, ok := d.customers[id]
	if !ok || c.ShopID != shopID {
		return model.Customer{}, pgx.ErrNoRows
	}
	return c, nil
}

func (d *state) inviteByHash(hash string) (model.ReviewInvite, error) {
	for _, inv := range d.invites {
		if inv.TokenHash == hash {
			return inv, nil
		}
	}
	return model.ReviewInvite{}, pgx.ErrNoRows
}

func idempotencyKey(shopID, key string) string {
	return shopID + "\x00" + key
}

func sortByStart(in []model.Appointment) {
	sort.Slice(in, func(i, j int) bool {
		if in[i].StartTime.Equal(in[j].StartTime) {
			return in[i].ID < in[j].ID
		}
		return in[i].StartTime.Before(in[j].StartTime)
	})
}

var _ storage.Store = (*Store)(nil)
