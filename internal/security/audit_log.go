package security

import (
	"sync"
	"time"
)

// AuditLogEntry records one failed API key attempt. KeyPrefix holds at most
// the first 8 characters of the presented key and is empty when no key was
// presented at all.
type AuditLogEntry struct {
	IP        string    `json:"ip"`
	Timestamp time.Time `json:"timestamp"`
	KeyPrefix string    `json:"api_key_prefix"`
}

// AuditLog is a bounded ring buffer of failed API key attempts. It is
// observational only: nothing reads it back to make authorization decisions,
// so its only invariants are the capacity bound and oldest-first eviction.
type AuditLog struct {
	mu       sync.Mutex
	entries  []AuditLogEntry
	capacity int
	start    int
	size     int
}

const DefaultAuditLogCapacity = 100

func NewAuditLog(capacity int) *AuditLog {
	if capacity <= 0 {
		capacity = DefaultAuditLogCapacity
	}
	return &AuditLog{
		entries:  make([]AuditLogEntry, capacity),
		capacity: capacity,
	}
}

// Append records a failed attempt, evicting the oldest entry once the
// buffer is full.
func (l *AuditLog) Append(entry AuditLogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.size < l.capacity {
		l.entries[(l.start+l.size)%l.capacity] = entry
		l.size++
		return
	}
	l.entries[l.start] = entry
	l.start = (l.start + 1) % l.capacity
}

// Entries returns a copy of the buffered entries, oldest first.
func (l *AuditLog) Entries() []AuditLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditLogEntry, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.entries[(l.start+i)%l.capacity]
	}
	return out
}

func (l *AuditLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Reset clears the buffer. Tests use this to start from a known state.
func (l *AuditLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.start = 0
	l.size = 0
}
