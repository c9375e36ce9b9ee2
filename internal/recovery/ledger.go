package recovery

import (
	"sync"
	"time"
)

// RetentionPolicy bounds the ledger. Zero values disable the bound.
type RetentionPolicy struct {
	MaxAge     time.Duration
	MaxRecords int
}

// Ledger is the append-only, completion-ordered history of error records
type Ledger struct {
	mu      sync.RWMutex
	records []ErrorRecord
	policy  RetentionPolicy
}

// NewLedger creates an empty ledger
func NewLedger(policy RetentionPolicy) *Ledger {
	return &Ledger{policy: policy}
}

// Append adds a record atomically
func (l *Ledger) Append(record ErrorRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, record)
}

// Snapshot returns the records in append order. The returned slice must not
// be modified.
func (l *Ledger) Snapshot() []ErrorRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.records[:len(l.records):len(l.records)]
}

// Len returns the number of records held
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.records)
}

// Clear empties the ledger
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = nil
}

// Prune applies the retention policy at now and returns how many records were
// evicted. Append order is kept for the survivors.
func (l *Ledger) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := make([]ErrorRecord, 0, len(l.records))
	if l.policy.MaxAge > 0 {
		cutoff := now.Add(-l.policy.MaxAge)
		for _, record := range l.records {
			if !record.Timestamp.Before(cutoff) {
				kept = append(kept, record)
			}
		}
	} else {
		kept = append(kept, l.records...)
	}

	if l.policy.MaxRecords > 0 && len(kept) > l.policy.MaxRecords {
		kept = kept[len(kept)-l.policy.MaxRecords:]
	}

	evicted := len(l.records) - len(kept)
	if evicted > 0 {
		l.records = kept
	}
	return evicted
}

// Stats summarizes the ledger at now. Recent covers the trailing hour.
func (l *Ledger) Stats(now time.Time) Stats {
	records := l.Snapshot()

	stats := Stats{
		Total:      len(records),
		ByCategory: make(map[Category]int),
	}

	successful := 0
	for _, record := range records {
		if now.Sub(record.Timestamp) < time.Hour {
			stats.Recent++
		}
		stats.ByCategory[record.Classification.Category]++
		if record.RecoveryResult.Success {
			successful++
		}
	}

	if stats.Total > 0 {
		stats.RecoverySuccessRate = float64(successful) / float64(stats.Total)
	}

	return stats
}
