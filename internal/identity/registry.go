package identity

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/flemzord/tgmonitor/internal/bridge"
)

// ErrNotFound is returned for operations on an identity the registry does
// not hold.
var ErrNotFound = errors.New("identity: not found")

// Registry maps identity IDs to their records. A single mutex guards every
// record; it is never held while waiting on a bridge.
type Registry struct {
	mu       sync.Mutex
	records  map[string]*Identity
	profiles map[string]Profile
	order    []string
}

// NewRegistry creates a registry offering the given profiles. Profiles only
// describe slots: records are created on first use.
func NewRegistry(profiles []Profile) *Registry {
	r := &Registry{
		records:  make(map[string]*Identity),
		profiles: make(map[string]Profile, len(profiles)),
	}
	for _, p := range profiles {
		r.profiles[p.ID] = p
		r.order = append(r.order, p.ID)
	}
	return r
}

// SetProfiles replaces the configured slots. Existing records keep their
// state; records of a slot that is still configured pick up its new display
// metadata.
func (r *Registry) SetProfiles(profiles []Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles = make(map[string]Profile, len(profiles))
	r.order = r.order[:0]
	for _, p := range profiles {
		r.profiles[p.ID] = p
		r.order = append(r.order, p.ID)
	}
	for id, rec := range r.records {
		if p, ok := r.profiles[id]; ok {
			rec.Profile = p
		}
	}
}

// Profiles returns the configured slots in their configured order.
func (r *Registry) Profiles() []Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Profile, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.profiles[id])
	}
	return out
}

// Known reports whether id is a configured slot or an existing record.
func (r *Registry) Known(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, isProfile := r.profiles[id]
	_, isRecord := r.records[id]
	return isProfile || isRecord
}

// NewID returns a fresh identifier for an identity outside the fixed slots.
func (r *Registry) NewID() string {
	return "id_" + uuid.NewString()
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return Identity{}, false
	}
	return rec.clone(), true
}

// Ensure returns a copy of the record for id, creating an unbound record
// with default settings if there is none.
func (r *Registry) Ensure(id string) Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureLocked(id).clone()
}

func (r *Registry) ensureLocked(id string) *Identity {
	rec, ok := r.records[id]
	if !ok {
		profile, known := r.profiles[id]
		if !known {
			profile = Profile{ID: id, Name: id}
		}
		rec = &Identity{ID: id, Profile: profile, Settings: DefaultSettings()}
		r.records[id] = rec
	}
	return rec
}

// Update runs fn on the record for id while holding the registry lock.
// fn must not block. The record is created if missing.
func (r *Registry) Update(id string, fn func(*Identity) error) (Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.ensureLocked(id)
	if err := fn(rec); err != nil {
		return rec.clone(), err
	}
	return rec.clone(), nil
}

// UpdateExisting is Update for records that must already exist.
func (r *Registry) UpdateExisting(id string, fn func(*Identity) error) (Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return Identity{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := fn(rec); err != nil {
		return rec.clone(), err
	}
	return rec.clone(), nil
}

// Remove deletes the record for id and returns it.
func (r *Registry) Remove(id string) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return Identity{}, false
	}
	delete(r.records, id)
	return rec.clone(), true
}

// List returns copies of all records: configured slots in profile order,
// then the other records sorted by ID.
func (r *Registry) List() []Identity {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Identity, 0, len(r.records))
	for _, id := range r.order {
		if rec, ok := r.records[id]; ok {
			out = append(out, rec.clone())
		}
	}
	slotted := len(out)
	for id, rec := range r.records {
		if _, ok := r.profiles[id]; !ok {
			out = append(out, rec.clone())
		}
	}
	slices.SortFunc(out[slotted:], func(a, b Identity) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// AttachBridge returns the bridge bound to id, calling build to create one
// when there is none or the previous one has stopped. The check and the
// install happen under one lock, so an identity never has two live
// bridges. build runs under the lock and must not block.
func (r *Registry) AttachBridge(id string, build func() (*bridge.Bridge, error)) (*bridge.Bridge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.ensureLocked(id)
	if rec.Bridge != nil && !stopped(rec.Bridge) {
		return rec.Bridge, nil
	}
	b, err := build()
	if err != nil {
		return nil, err
	}
	rec.Bridge = b
	return b, nil
}

// DetachBridge unbinds and returns the bridge of id. The caller stops it
// outside the lock.
func (r *Registry) DetachBridge(id string) *bridge.Bridge {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil
	}
	b := rec.Bridge
	rec.Bridge = nil
	return b
}

func stopped(b *bridge.Bridge) bool {
	select {
	case <-b.Done():
		return true
	default:
		return false
	}
}
