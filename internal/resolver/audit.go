package resolver

import (
	"sync"
	"time"

	"github.com/aegis-mobile/synccore/internal/models"
)

const auditCapacity = 100

// AuditEntry records one resolved conflict for in-process inspection.
type AuditEntry struct {
	At       time.Time       `json:"at"`
	Table    string          `json:"table"`
	Type     ConflictType    `json:"type"`
	Strategy models.Strategy `json:"strategy"`
	Action   ActionTaken     `json:"action"`
}

// Stats aggregates resolved conflicts since process start.
type Stats struct {
	Total      int64            `json:"total"`
	ByType     map[string]int64 `json:"by_type"`
	ByTable    map[string]int64 `json:"by_table"`
	ByStrategy map[string]int64 `json:"by_strategy"`
}

// auditLog is a bounded ring of the most recent resolutions plus running
// counters. Old entries fall off; counters never reset.
type auditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	next    int
	full    bool
	stats   Stats
}

func newAuditLog(capacity int) *auditLog {
	return &auditLog{
		entries: make([]AuditEntry, capacity),
		stats: Stats{
			ByType:     make(map[string]int64),
			ByTable:    make(map[string]int64),
			ByStrategy: make(map[string]int64),
		},
	}
}

func (a *auditLog) record(entry AuditEntry) {
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries[a.next] = entry
	a.next++
	if a.next == len(a.entries) {
		a.next = 0
		a.full = true
	}

	a.stats.Total++
	a.stats.ByType[string(entry.Type)]++
	a.stats.ByTable[entry.Table]++
	a.stats.ByStrategy[string(entry.Strategy)]++
}

// recent returns entries oldest-first.
func (a *auditLog) recent() []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.full {
		out := make([]AuditEntry, a.next)
		copy(out, a.entries[:a.next])
		return out
	}
	out := make([]AuditEntry, 0, len(a.entries))
	out = append(out, a.entries[a.next:]...)
	out = append(out, a.entries[:a.next]...)
	return out
}

func (a *auditLog) snapshot() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := Stats{
		Total:      a.stats.Total,
		ByType:     make(map[string]int64, len(a.stats.ByType)),
		ByTable:    make(map[string]int64, len(a.stats.ByTable)),
		ByStrategy: make(map[string]int64, len(a.stats.ByStrategy)),
	}
	for k, v := range a.stats.ByType {
		out.ByType[k] = v
	}
	for k, v := range a.stats.ByTable {
		out.ByTable[k] = v
	}
	for k, v := range a.stats.ByStrategy {
		out.ByStrategy[k] = v
	}
	return out
}

// Audit returns the most recent resolutions, oldest first, capped at 100.
func (r *Resolver) Audit() []AuditEntry { return r.audit.recent() }

// Stats returns aggregate conflict counts since process start.
func (r *Resolver) Stats() Stats { return r.audit.snapshot() }
