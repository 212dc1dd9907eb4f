package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, AuthToken: "secret", MaxRetries: 2}, zap.NewNop())
}

func TestSocketToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ws/token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("expected bearer auth, got %q", got)
		}
		w.Write([]byte(`{"token":"one-time"}`))
	})

	token, err := client.SocketToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "one-time" {
		t.Errorf("expected one-time, got %s", token)
	}
}

func TestSocketToken_Empty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	if _, err := client.SocketToken(context.Background()); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestListOrders_DecodesBackendShapes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/orders/user/u-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`[
			{"id": 17, "userId": "u-1", "status": "PENDING", "restaurant": {"name": "Pho 24"}},
			{"id": "o-2", "status": "Completed"}
		]`))
	})

	orders, err := client.ListOrders(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].ID != "17" || orders[0].Status != StatusPending {
		t.Errorf("unexpected first order: %+v", orders[0])
	}
	if orders[0].RestaurantName() != "Pho 24" {
		t.Errorf("expected restaurant name, got %q", orders[0].RestaurantName())
	}
	if orders[1].Status != StatusCompleted || orders[1].RestaurantName() != "" {
		t.Errorf("unexpected second order: %+v", orders[1])
	}
}

func TestListRooms(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id": 5, "user1Id": 1, "user2Id": 2, "lastMessage": "hi", "lastMessageTime": "2024-03-01T10:15:30"}]`))
	})

	rooms, err := client.ListRooms(context.Background(), "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rooms) != 1 {
		t.Fatalf("expected 1 room, got %d", len(rooms))
	}
	room := rooms[0]
	if room.ID != "5" || room.Counterpart("1") != "2" || room.Counterpart("2") != "1" {
		t.Errorf("unexpected room: %+v", room)
	}
	if room.LastMessageAt.IsZero() || room.LastMessageAt.Minute() != 15 {
		t.Errorf("expected parsed last message time, got %v", room.LastMessageAt)
	}
}

func TestUnauthorized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.ListOrders(context.Background(), "u-1")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestStatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})

	_, err := client.ListRooms(context.Background(), "u-1")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusInternalServerError || statusErr.Body != "boom" {
		t.Errorf("unexpected status error: %+v", statusErr)
	}
}

func TestRetryOnTooManyRequests(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`[]`))
	})

	orders, err := client.ListOrders(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 0 {
		t.Errorf("expected no orders, got %d", len(orders))
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestRetryGivesUp(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.ListOrders(context.Background(), "u-1")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 StatusError, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestTimestamp_Formats(t *testing.T) {
	tests := []struct {
		name  string
		input string
		zero  bool
		want  int64
	}{
		{"rfc3339", `"2024-03-01T10:15:30Z"`, false, 1709288130},
		{"epoch millis", `1709288130000`, false, 1709288130},
		{"null", `null`, true, 0},
		{"empty string", `""`, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			if err := json.Unmarshal([]byte(tt.input), &ts); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ts.IsZero() != tt.zero {
				t.Fatalf("zero = %v, want %v", ts.IsZero(), tt.zero)
			}
			if !tt.zero && ts.Unix() != tt.want {
				t.Errorf("unix = %d, want %d", ts.Unix(), tt.want)
			}
		})
	}

	var bad Timestamp
	if err := json.Unmarshal([]byte(`"yesterday"`), &bad); err == nil {
		t.Error("expected error for unrecognized format")
	}
}

func TestChatMessage_RoundTripKeepsTimestamp(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	msg := ChatMessage{RoomID: "r1", SenderID: "u1", ReceiverID: "u2", Content: "hi", Timestamp: &Timestamp{at}}

	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded ChatMessage
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Timestamp == nil || !decoded.Timestamp.Equal(at) {
		t.Errorf("timestamp mismatch: %v", decoded.Timestamp)
	}
	if decoded.RoomID != "r1" || decoded.ReceiverID != "u2" {
		t.Errorf("unexpected message: %+v", decoded)
	}
}
