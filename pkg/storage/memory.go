package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in process. It honours the same version and
// fired-flag semantics as PostgresStore.
type MemoryStore struct {
	mu           sync.Mutex
	destinations map[string]Destination
	triggers     map[string]Trigger
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ TxStore = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		destinations: make(map[string]Destination),
		triggers:     make(map[string]Trigger),
	}
}

func cloneDestination(d Destination) Destination {
	if d.TargetURL != nil {
		u := *d.TargetURL
		d.TargetURL = &u
	}
	if d.StartAt != nil {
		t := *d.StartAt
		d.StartAt = &t
	}
	if d.EndAt != nil {
		t := *d.EndAt
		d.EndAt = &t
	}
	if d.PinHash != nil {
		h := *d.PinHash
		d.PinHash = &h
	}
	return d
}

func cloneTrigger(t Trigger) Trigger {
	if t.Threshold != nil {
		v := *t.Threshold
		t.Threshold = &v
	}
	if t.TargetDestinationID != nil {
		v := *t.TargetDestinationID
		t.TargetDestinationID = &v
	}
	if t.FiredAt != nil {
		v := *t.FiredAt
		t.FiredAt = &v
	}
	return t
}

// WithTx runs fn against a staged copy and swaps it in only when fn succeeds.
// The store stays locked for the duration, so fn must use the store it is
// given and never m itself.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, st DestinationStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := NewMemoryStore()
	for id, d := range m.destinations {
		staged.destinations[id] = cloneDestination(d)
	}
	for id, t := range m.triggers {
		staged.triggers[id] = cloneTrigger(t)
	}
	if err := fn(ctx, staged); err != nil {
		return err
	}
	m.destinations = staged.destinations
	m.triggers = staged.triggers
	return nil
}

func (m *MemoryStore) CreateDestination(ctx context.Context, d *Destination) error {
	if err := ValidateDestination(d); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if d.ID == "" {
		d.ID = NewID(now)
	}
	if _, exists := m.destinations[d.ID]; exists {
		return ErrAlreadyExists
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = d.CreatedAt
	d.Version = 1
	m.destinations[d.ID] = cloneDestination(*d)
	return nil
}

func (m *MemoryStore) GetDestination(ctx context.Context, id string) (*Destination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.destinations[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneDestination(d)
	return &out, nil
}

func (m *MemoryStore) ListDestinationsByQr(ctx context.Context, qrID string) ([]Destination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Destination
	for _, d := range m.destinations {
		if d.QRID == qrID {
			out = append(out, cloneDestination(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) UpdateDestination(ctx context.Context, id string, patch DestinationPatch, expectedVersion int64) (*Destination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.destinations[id]
	if !ok {
		return nil, ErrNotFound
	}
	if current.Version != expectedVersion {
		return nil, ErrVersionConflict
	}
	next := patch.Apply(cloneDestination(current))
	if err := ValidateDestination(&next); err != nil {
		return nil, err
	}
	next.Version = current.Version + 1
	next.UpdatedAt = time.Now().UTC()
	m.destinations[id] = next
	out := cloneDestination(next)
	return &out, nil
}

func (m *MemoryStore) DeleteDestination(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.destinations[id]; !ok {
		return ErrNotFound
	}
	delete(m.destinations, id)
	for tid, t := range m.triggers {
		if t.SourceDestinationID == id {
			delete(m.triggers, tid)
		}
	}
	return nil
}

func (m *MemoryStore) CreateTrigger(ctx context.Context, t *Trigger) error {
	if err := ValidateTrigger(t); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.destinations[t.SourceDestinationID]; !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = NewID(now)
	}
	if _, exists := m.triggers[t.ID]; exists {
		return ErrAlreadyExists
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.FiredAt = nil
	t.FiredCount = 0
	m.triggers[t.ID] = cloneTrigger(*t)
	return nil
}

func (m *MemoryStore) GetTrigger(ctx context.Context, id string) (*Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.triggers[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneTrigger(t)
	return &out, nil
}

func (m *MemoryStore) ListTriggersBySource(ctx context.Context, destinationID string) ([]Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Trigger
	for _, t := range m.triggers {
		if t.SourceDestinationID == destinationID {
			out = append(out, cloneTrigger(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) MarkTriggerFired(ctx context.Context, triggerID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.triggers[triggerID]
	if !ok {
		return false, ErrNotFound
	}
	if t.FiredAt != nil {
		return false, nil
	}
	firedAt := at.UTC()
	t.FiredAt = &firedAt
	t.FiredCount++
	m.triggers[triggerID] = t
	return true, nil
}

func (m *MemoryStore) ResetTrigger(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.triggers[id]
	if !ok {
		return ErrNotFound
	}
	t.FiredAt = nil
	m.triggers[id] = t
	return nil
}

func (m *MemoryStore) DeleteTrigger(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.triggers[id]; !ok {
		return ErrNotFound
	}
	delete(m.triggers, id)
	return nil
}
