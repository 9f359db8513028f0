package dashboard

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"pulse-checkin-backend/internal/model"
	"pulse-checkin-backend/internal/realtime"
)

// RegistryEntry is one scanner in the active registry view.
type RegistryEntry struct {
	model.ScannerPresence
	IsActive bool `json:"is_active"`
}

// Registry is the active scanner registry. Membership is replaced wholesale
// on every presence sync snapshot; join and leave events only annotate the
// view and emit user-facing toasts, so partial or reordered increments can
// never make the registry drift.
type Registry struct {
	mu      sync.Mutex
	entries []RegistryEntry
	onToast func(string)
}

// NewRegistry creates a registry. onToast may be nil.
func NewRegistry(onToast func(string)) *Registry {
	return &Registry{onToast: onToast}
}

// HandlePresence consumes one presence event from the scanners channel.
func (r *Registry) HandlePresence(ev realtime.PresenceEvent) {
	switch ev.Type {
	case realtime.PresenceSync:
		r.replaceAll(ev.Members)
	case realtime.PresenceJoin:
		if p, ok := decodePresence(ev.Member); ok {
			r.toast(fmt.Sprintf("%s connected", scannerLabel(p)))
		}
	case realtime.PresenceLeave:
		if p, ok := decodePresence(ev.Member); ok {
			r.markInactive(p.DeviceID)
			r.toast(fmt.Sprintf("%s disconnected", scannerLabel(p)))
		}
	}
}

// Scanners returns the current registry view.
func (r *Registry) Scanners() []RegistryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RegistryEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *Registry) replaceAll(members []realtime.PresenceMember) {
	entries := make([]RegistryEntry, 0, len(members))
	for i := range members {
		if p, ok := decodePresence(&members[i]); ok {
			entries = append(entries, RegistryEntry{ScannerPresence: p, IsActive: true})
		}
	}
	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
}

// markInactive flags a scanner until the next sync confirms the departure.
// It never removes the entry; only snapshots mutate membership.
func (r *Registry) markInactive(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].DeviceID == deviceID {
			r.entries[i].IsActive = false
		}
	}
}

func (r *Registry) toast(msg string) {
	if r.onToast != nil {
		r.onToast(msg)
	}
}

func decodePresence(m *realtime.PresenceMember) (model.ScannerPresence, bool) {
	var p model.ScannerPresence
	if m == nil {
		return p, false
	}
	if err := json.Unmarshal(m.Data, &p); err != nil {
		log.Printf("dashboard: malformed scanner presence: %v", err)
		return p, false
	}
	if p.DeviceID == "" {
		return p, false
	}
	return p, true
}

func scannerLabel(p model.ScannerPresence) string {
	if p.ScannerName != "" {
		return p.ScannerName
	}
	return "a scanner"
}
