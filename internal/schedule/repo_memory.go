package schedule

import (
	"context"
	"errors"
	"sync"
)

var ErrNotFound = errors.New("schedule: not found")

// AppointmentRepo stores appointments; soft states only, no deletes.
type AppointmentRepo interface {
	Save(ctx context.Context, a Appointment) error
	Get(ctx context.Context, tenantID, id string) (Appointment, error)
	ListByTenant(ctx context.Context, tenantID string) ([]Appointment, error)
}

// TicketRepo stores escalation tickets.
type TicketRepo interface {
	Save(ctx context.Context, tk Ticket) error
	Get(ctx context.Context, tenantID, id string) (Ticket, error)
	ListByTenant(ctx context.Context, tenantID string) ([]Ticket, error)
}

type MemoryAppointmentRepo struct {
	mu    sync.Mutex
	items map[string]Appointment // key: tenantID + "/" + id
}

func NewMemoryAppointmentRepo() *MemoryAppointmentRepo {
	return &MemoryAppointmentRepo{items: map[string]Appointment{}}
}

func (r *MemoryAppointmentRepo) Save(ctx context.Context, a Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[a.TenantID+"/"+a.ID] = a
	return nil
}

func (r *MemoryAppointmentRepo) Get(ctx context.Context, tenantID, id string) (Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[tenantID+"/"+id]
	if !ok {
		return Appointment{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryAppointmentRepo) ListByTenant(ctx context.Context, tenantID string) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.items {
		if a.TenantID == tenantID {
			out = append(out, a)
		}
	}
	return out, nil
}

type MemoryTicketRepo struct {
	mu    sync.Mutex
	items map[string]Ticket
}

func NewMemoryTicketRepo() *MemoryTicketRepo {
	return &MemoryTicketRepo{items: map[string]Ticket{}}
}

func (r *MemoryTicketRepo) Save(ctx context.Context, tk Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[tk.TenantID+"/"+tk.ID] = tk
	return nil
}

func (r *MemoryTicketRepo) Get(ctx context.Context, tenantID, id string) (Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tk, ok := r.items[tenantID+"/"+id]
	if !ok {
		return Ticket{}, ErrNotFound
	}
	return tk, nil
}

func (r *MemoryTicketRepo) ListByTenant(ctx context.Context, tenantID string) ([]Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Ticket
	for _, tk := range r.items {
		if tk.TenantID == tenantID {
			out = append(out, tk)
		}
	}
	return out, nil
}
