package service

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-sales-approvals/internal/approval"
	"github.com/pesio-ai/be-sales-approvals/internal/client"
	"github.com/pesio-ai/be-sales-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-sales-approvals/internal/repository"
)

// ── orders ────────────────────────────────────────────────────────────────────

type memOrders struct {
	mu     sync.Mutex
	orders map[string]approval.Order
}

func newMemOrders() *memOrders {
	return &memOrders{orders: map[string]approval.Order{}}
}

func (m *memOrders) Create(_ context.Context, o *approval.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ID = uuid.NewString()
	o.Version = 1
	m.orders[o.ID] = *o
	return nil
}

func (m *memOrders) GetByID(_ context.Context, id string) (*approval.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, errors.NotFound("sales_order", id)
	}
	return &o, nil
}

func (m *memOrders) List(_ context.Context, status *approval.Status, limit, offset int) ([]*approval.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*approval.Order
	for _, o := range m.orders {
		if status != nil && o.Status != *status {
			continue
		}
		o := o
		out = append(out, &o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memOrders) Update(_ context.Context, o *approval.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.orders[o.ID]
	if !ok || stored.Version != o.Version {
		return errors.New(errors.ErrCodeConflict, "sales order was modified concurrently")
	}
	o.Version++
	m.orders[o.ID] = *o
	return nil
}

// stored returns the persisted copy, bypassing any in-flight mutation.
func (m *memOrders) stored(id string) approval.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id]
}

// ── settings ──────────────────────────────────────────────────────────────────

type memParams struct {
	mu     sync.Mutex
	params map[string]string
	err    error
}

func newMemParams(params map[string]string) *memParams {
	if params == nil {
		params = map[string]string{}
	}
	return &memParams{params: params}
}

func (m *memParams) GetParams(_ context.Context, keys []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := map[string]string{}
	for _, k := range keys {
		if v, ok := m.params[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *memParams) SetParams(_ context.Context, params map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range params {
		m.params[k] = v
	}
	return nil
}

func (m *memParams) set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params[key] = value
}

// ── users ─────────────────────────────────────────────────────────────────────

type memUsers map[int64]*repository.User

func (m memUsers) GetByID(_ context.Context, id int64) (*repository.User, error) {
	u, ok := m[id]
	if !ok {
		return nil, errors.NotFound("user", strconv.FormatInt(id, 10))
	}
	return u, nil
}

// ── activities ────────────────────────────────────────────────────────────────

type memActivities struct {
	mu          sync.Mutex
	activities  []*repository.Activity
	err         error
	completeErr error
}

func (m *memActivities) Schedule(_ context.Context, a *repository.Activity) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	for _, existing := range m.activities {
		if existing.State == "pending" &&
			existing.OrderID == a.OrderID &&
			existing.UserID == a.UserID &&
			existing.ActivityType == a.ActivityType {
			return false, nil
		}
	}
	a.ID = uuid.NewString()
	a.State = "pending"
	a.CreatedAt = time.Now()
	m.activities = append(m.activities, a)
	return true, nil
}

func (m *memActivities) CompleteForOrder(_ context.Context, orderID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completeErr != nil {
		return 0, m.completeErr
	}
	var n int64
	now := time.Now()
	for _, a := range m.activities {
		if a.OrderID == orderID && a.State == "pending" {
			a.State = "done"
			a.DoneAt = &now
			n++
		}
	}
	return n, nil
}

func (m *memActivities) ListPendingForUser(_ context.Context, userID int64) ([]*repository.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.Activity
	for _, a := range m.activities {
		if a.UserID == userID && a.State == "pending" {
			out = append(out, a)
		}
	}
	return out, nil
}

// ── audit ─────────────────────────────────────────────────────────────────────

type memAudit struct {
	mu      sync.Mutex
	entries []*repository.AuditEntry
	err     error
}

func (m *memAudit) Append(_ context.Context, e *repository.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	e.ID = uuid.NewString()
	e.PerformedAt = time.Now()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAudit) GetByOrderID(_ context.Context, orderID string) ([]*repository.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.AuditEntry
	for _, e := range m.entries {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

// ── notifier ──────────────────────────────────────────────────────────────────

type fakeNotifier struct {
	mu     sync.Mutex
	events []*client.NotificationEvent
	err    error
}

func (f *fakeNotifier) Publish(_ context.Context, e *client.NotificationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakeNotifier) sent() []*client.NotificationEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*client.NotificationEvent(nil), f.events...)
}
