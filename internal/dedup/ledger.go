// Package dedup drops real-time messages that the broker delivers more than
// once, typically when overlapping subscriptions on the same destination
// coexist for a moment during a reconnect.
package dedup

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lalithlochan/orderpulse/internal/backend"
)

// MaxFingerprints bounds the ledger. When exceeded, the oldest half is
// discarded.
const MaxFingerprints = 200

// Ledger remembers recently processed message fingerprints.
type Ledger struct {
	mu    sync.Mutex
	order []string
	seen  map[string]struct{}
	max   int
}

// NewLedger creates a ledger holding at most max fingerprints.
func NewLedger(max int) *Ledger {
	if max <= 0 {
		max = MaxFingerprints
	}
	return &Ledger{
		seen: make(map[string]struct{}, max),
		max:  max,
	}
}

// Seen reports whether key was already recorded. If not, key is recorded
// before Seen returns, so a concurrent duplicate observes it.
func (l *Ledger) Seen(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[key]; ok {
		return true
	}

	l.seen[key] = struct{}{}
	l.order = append(l.order, key)

	if len(l.order) > l.max {
		keep := l.max / 2
		drop := len(l.order) - keep
		for _, old := range l.order[:drop] {
			delete(l.seen, old)
		}
		l.order = append([]string(nil), l.order[drop:]...)
	}
	return false
}

// Len returns the number of fingerprints held.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// Reset forgets everything.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = nil
	l.seen = make(map[string]struct{}, l.max)
}

// Fingerprint identifies a chat message across redeliveries. The timestamp
// is rounded to the second; when absent, now is used instead, which only
// catches duplicates arriving within the same second.
func Fingerprint(msg backend.ChatMessage, now time.Time) string {
	at := now
	if msg.Timestamp != nil && !msg.Timestamp.IsZero() {
		at = msg.Timestamp.Time
	}

	return strings.Join([]string{
		msg.RoomID,
		msg.Content,
		msg.SenderID,
		msg.ReceiverID,
		strconv.FormatInt(at.Round(time.Second).Unix(), 10),
	}, "|")
}
