package redis

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/orderpulse/internal/notify"
)

func TestNotificationPersister_RoundTrip(t *testing.T) {
	client, mr := setupTestClient(t)
	p := NewNotificationPersister(client, "u1", zap.NewNop())
	ctx := context.Background()

	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	items := []notify.Notification{
		{ID: "n-2", Category: notify.CategoryMessageReceived, RoomID: "R1", Title: "New message", CreatedAt: created},
		{ID: "n-1", Category: notify.CategoryOrderAccepted, OrderID: "42", Read: true, CreatedAt: created.Add(-time.Minute)},
	}

	if err := p.Save(ctx, items); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !mr.Exists("orderpulse:notifications:u1") {
		t.Fatalf("expected namespaced key, have %v", mr.Keys())
	}

	loaded, err := p.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 items, got %d", len(loaded))
	}
	if loaded[0].ID != "n-2" || loaded[1].ID != "n-1" {
		t.Errorf("order not preserved: %s, %s", loaded[0].ID, loaded[1].ID)
	}
	if !loaded[1].Read || loaded[1].OrderID != "42" {
		t.Errorf("fields not preserved: %+v", loaded[1])
	}
	if !loaded[0].CreatedAt.Equal(created) {
		t.Errorf("timestamp not preserved: %v", loaded[0].CreatedAt)
	}
}

func TestNotificationPersister_LoadMissing(t *testing.T) {
	client, _ := setupTestClient(t)
	p := NewNotificationPersister(client, "nobody", zap.NewNop())

	items, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if items != nil {
		t.Errorf("expected nil, got %v", items)
	}
}

func TestNotificationPersister_SaveEmptyDeletes(t *testing.T) {
	client, mr := setupTestClient(t)
	p := NewNotificationPersister(client, "u1", zap.NewNop())
	ctx := context.Background()

	p.Save(ctx, []notify.Notification{{ID: "n-1", Category: notify.CategoryOrderAccepted, OrderID: "1"}})
	if err := p.Save(ctx, nil); err != nil {
		t.Fatalf("save empty: %v", err)
	}

	if mr.Exists("orderpulse:notifications:u1") {
		t.Error("expected key removed")
	}
}

func TestNotificationPersister_CorruptDocument(t *testing.T) {
	client, mr := setupTestClient(t)
	p := NewNotificationPersister(client, "u1", zap.NewNop())

	mr.Set("orderpulse:notifications:u1", "{not json")

	items, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("expected corrupt data to be discarded, got %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected no items, got %d", len(items))
	}
}

func TestNotificationPersister_UsersAreIsolated(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	a := NewNotificationPersister(client, "a", zap.NewNop())
	b := NewNotificationPersister(client, "b", zap.NewNop())

	a.Save(ctx, []notify.Notification{{ID: "n-1", Category: notify.CategoryOrderAccepted, OrderID: "1"}})

	items, _ := b.Load(ctx)
	if len(items) != 0 {
		t.Errorf("user b should see nothing, got %d", len(items))
	}
}

func TestNotificationPersister_WithStore(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	first := notify.NewStore(zap.NewNop(), NewNotificationPersister(client, "u1", zap.NewNop()), nil)
	n, _ := first.Add(ctx, notify.Notification{Category: notify.CategoryOrderCompleted, OrderID: "7"})
	first.MarkRead(ctx, n.ID)

	// a new process restores the same list
	second := notify.NewStore(zap.NewNop(), NewNotificationPersister(client, "u1", zap.NewNop()), nil)
	if err := second.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	items := second.List()
	if len(items) != 1 || items[0].ID != n.ID || !items[0].Read {
		t.Errorf("unexpected restored list: %+v", items)
	}
}
