// Package registry tracks worker nodes by device id: their last-known
// transport address, heartbeat recency, and liveness. Records are
// deactivated by the sweep, never removed, so a device id claims its slot
// for the life of the process.
package registry

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"time"
)

var (
	ErrRegistryFull  = errors.New("registry: capacity exceeded")
	ErrUnknownDevice = errors.New("registry: unknown device")
)

// DefaultCapacity matches the rig's ten-camera dome layout.
const DefaultCapacity = 10

// Record is one tracked worker.
type Record struct {
	DeviceID      string
	Addr          net.Addr
	LastHeartbeat time.Time
	Active        bool
}

// Registry is a bounded, id-keyed device table. It is owned by the
// coordinator's event loop and is not safe for concurrent use.
type Registry struct {
	capacity int
	records  map[string]*Record
}

// New builds a registry bounded at capacity records. A capacity of zero
// or less falls back to DefaultCapacity.
func New(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		capacity: capacity,
		records:  make(map[string]*Record, capacity),
	}
}

// Register upserts a device. An existing record, active or not, is
// refreshed in place: new address, new heartbeat, active again. A new
// device occupies a slot only while capacity remains; otherwise
// ErrRegistryFull is returned and the caller reports failure without
// retrying.
func (r *Registry) Register(deviceID string, addr net.Addr, now time.Time) error {
	if rec, ok := r.records[deviceID]; ok {
		rec.Addr = addr
		rec.LastHeartbeat = now
		rec.Active = true
		return nil
	}
	if len(r.records) >= r.capacity {
		return fmt.Errorf("%w: %d devices", ErrRegistryFull, r.capacity)
	}
	r.records[deviceID] = &Record{
		DeviceID:      deviceID,
		Addr:          addr,
		LastHeartbeat: now,
		Active:        true,
	}
	return nil
}

// Heartbeat refreshes the heartbeat timestamp of a known device. An
// unknown id is an explicit rejection, not an implicit registration:
// only Register establishes an address.
func (r *Registry) Heartbeat(deviceID string, now time.Time) error {
	rec, ok := r.records[deviceID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, deviceID)
	}
	rec.LastHeartbeat = now
	return nil
}

// Deactivate marks a device inactive immediately (UNREGISTER path).
func (r *Registry) Deactivate(deviceID string) error {
	rec, ok := r.records[deviceID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, deviceID)
	}
	rec.Active = false
	return nil
}

// Sweep deactivates every active record whose heartbeat silence exceeds
// timeout and returns the ids it deactivated. O(records).
func (r *Registry) Sweep(now time.Time, timeout time.Duration) []string {
	var stale []string
	for id, rec := range r.records {
		if rec.Active && now.Sub(rec.LastHeartbeat) > timeout {
			rec.Active = false
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)
	return stale
}

// ActiveCount is the expected-reply target for a new broadcast session.
func (r *Registry) ActiveCount() int {
	n := 0
	for _, rec := range r.records {
		if rec.Active {
			n++
		}
	}
	return n
}

// Len is the number of slots in use, active or not.
func (r *Registry) Len() int {
	return len(r.records)
}

// Active returns copies of the active records, ordered by device id, for
// fan-out and status reporting.
func (r *Registry) Active() []Record {
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		if rec.Active {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Snapshot returns copies of every record, ordered by device id.
func (r *Registry) Snapshot() []Record {
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}
