package dedup

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lalithlochan/orderpulse/internal/backend"
)

func TestSeen(t *testing.T) {
	l := NewLedger(10)

	if l.Seen("a") {
		t.Fatal("first observation should be new")
	}
	if !l.Seen("a") {
		t.Fatal("second observation should be a duplicate")
	}
	if l.Seen("b") {
		t.Fatal("different key should be new")
	}
}

func TestSeen_EvictsOldestHalf(t *testing.T) {
	l := NewLedger(MaxFingerprints)

	for i := 0; i < MaxFingerprints+1; i++ {
		l.Seen(fmt.Sprintf("k-%d", i))
	}

	if got := l.Len(); got != MaxFingerprints/2 {
		t.Fatalf("expected %d after eviction, got %d", MaxFingerprints/2, got)
	}

	// newest survive
	if !l.Seen(fmt.Sprintf("k-%d", MaxFingerprints)) {
		t.Error("newest key should still be recorded")
	}
	// oldest are forgotten
	if l.Seen("k-0") {
		t.Error("oldest key should have been evicted")
	}
}

func TestSeen_NeverExceedsMax(t *testing.T) {
	l := NewLedger(8)
	for i := 0; i < 1000; i++ {
		l.Seen(fmt.Sprintf("k-%d", i))
		if l.Len() > 8 {
			t.Fatalf("ledger grew to %d", l.Len())
		}
	}
}

func TestSeen_ConcurrentDuplicates(t *testing.T) {
	l := NewLedger(MaxFingerprints)

	var fresh int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !l.Seen("same") {
				atomic.AddInt32(&fresh, 1)
			}
		}()
	}
	wg.Wait()

	if fresh != 1 {
		t.Errorf("expected exactly one fresh observation, got %d", fresh)
	}
}

func TestReset(t *testing.T) {
	l := NewLedger(10)
	l.Seen("a")
	l.Reset()

	if l.Len() != 0 {
		t.Errorf("expected empty ledger, got %d", l.Len())
	}
	if l.Seen("a") {
		t.Error("key should be new after reset")
	}
}

func TestFingerprint(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	now := base.Add(time.Hour)

	msg := func(content string, at *time.Time) backend.ChatMessage {
		m := backend.ChatMessage{RoomID: "R1", SenderID: "u1", ReceiverID: "u2", Content: content}
		if at != nil {
			m.Timestamp = &backend.Timestamp{Time: *at}
		}
		return m
	}
	nearby := base.Add(200 * time.Millisecond)
	later := base.Add(3 * time.Second)

	tests := []struct {
		name string
		a, b backend.ChatMessage
		same bool
	}{
		{"identical", msg("hi", &base), msg("hi", &base), true},
		{"sub-second jitter", msg("hi", &base), msg("hi", &nearby), true},
		{"different second", msg("hi", &base), msg("hi", &later), false},
		{"different content", msg("hi", &base), msg("hey", &base), false},
		{"missing timestamp uses now", msg("hi", nil), msg("hi", nil), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			same := Fingerprint(tt.a, now) == Fingerprint(tt.b, now)
			if same != tt.same {
				t.Errorf("same = %v, want %v", same, tt.same)
			}
		})
	}
}
