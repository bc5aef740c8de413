package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/chatlink/internal/domain"
	"github.com/vovakirdan/chatlink/internal/store"
	"github.com/vovakirdan/chatlink/internal/store/sqlite"
)

func newTestRegistry(t *testing.T) (*Registry, *sqlite.SQLiteStore) {
	t.Helper()
	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewRegistry(st, nil), st
}

func client(connID, userID, userName string) *Client {
	return NewClient(connID, domain.UserIdentity{UserID: userID, UserName: userName}, 1)
}

func TestAdmitRejectsMissingIdentity(t *testing.T) {
	reg, st := newTestRegistry(t)
	ctx := context.Background()

	for _, c := range []*Client{client("c1", "", "Alice"), client("c2", "alice", " ")} {
		if err := reg.Admit(ctx, c); !errors.Is(err, domain.ErrMissingIdentity) {
			t.Fatalf("expected missing identity, got %v", err)
		}
	}
	if got := reg.ListOnline(); len(got) != 0 {
		t.Fatalf("expected nobody online, got %+v", got)
	}
	online, err := st.ListOnlineUsers(ctx)
	if err != nil || len(online) != 0 {
		t.Fatalf("expected no durable presence, got %v, %v", online, err)
	}
}

func TestAdmitRejectsDuplicateConnection(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Admit(ctx, client("c1", "alice", "Alice")); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := reg.Admit(ctx, client("c1", "bob", "Bob")); !errors.Is(err, domain.ErrDuplicateConn) {
		t.Fatalf("expected duplicate connection error, got %v", err)
	}
}

func TestListOnlineDedupesInAdmissionOrder(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	for _, c := range []*Client{
		client("c1", "bob", "Bob"),
		client("c2", "alice", "Alice"),
		client("c3", "bob", "Bob"),
		client("c4", "carol", "Carol"),
	} {
		if err := reg.Admit(ctx, c); err != nil {
			t.Fatalf("admit %s: %v", c.ID, err)
		}
	}

	got := contactIDs(reg.ListOnline())
	want := []string{"bob", "alice", "carol"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("online = %v, want %v", got, want)
	}
}

func TestRemoveLastConnectionMarksOffline(t *testing.T) {
	reg, st := newTestRegistry(t)
	ctx := context.Background()

	_ = reg.Admit(ctx, client("phone", "alice", "Alice"))
	_ = reg.Admit(ctx, client("laptop", "alice", "Alice"))

	removal, ok := reg.Remove(ctx, "phone")
	if !ok || removal.LastConnection {
		t.Fatalf("unexpected removal %+v, %v", removal, ok)
	}
	if !reg.IsOnline("alice") {
		t.Fatalf("alice should still be online")
	}
	u, err := st.GetOnlineUser(ctx, "alice")
	if err != nil || !u.IsOnline {
		t.Fatalf("durable status should stay online: %+v, %v", u, err)
	}

	removal, ok = reg.Remove(ctx, "laptop")
	if !ok || !removal.LastConnection {
		t.Fatalf("unexpected removal %+v, %v", removal, ok)
	}
	if reg.IsOnline("alice") || hasUser(reg.ListOnline(), "alice") {
		t.Fatalf("alice should be offline")
	}
	u, err = st.GetOnlineUser(ctx, "alice")
	if err != nil || u.IsOnline {
		t.Fatalf("durable status should be offline: %+v, %v", u, err)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_ = reg.Admit(ctx, client("c1", "alice", "Alice"))
	if _, ok := reg.Remove(ctx, "c1"); !ok {
		t.Fatalf("first remove should succeed")
	}
	if _, ok := reg.Remove(ctx, "c1"); ok {
		t.Fatalf("second remove should be a no-op")
	}
	if _, ok := reg.Remove(ctx, "never-seen"); ok {
		t.Fatalf("unknown remove should be a no-op")
	}
}

type failingPresence struct {
	store.PresenceStore
}

func (failingPresence) UpsertOnline(context.Context, string, string, string, time.Time) error {
	return errors.New("database is locked")
}

func TestAdmitPersistenceFailureLeavesCacheUntouched(t *testing.T) {
	reg := NewRegistry(failingPresence{}, nil)

	err := reg.Admit(context.Background(), client("c1", "alice", "Alice"))
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected persistence failure, got %v", err)
	}
	if reg.IsOnline("alice") || len(reg.Clients()) != 0 {
		t.Fatalf("failed admission must not be cached")
	}
	// The connection id is free again.
	if _, ok := reg.Remove(context.Background(), "c1"); ok {
		t.Fatalf("nothing to remove")
	}
}

func TestConcurrentAdmitRemoveSameUser(t *testing.T) {
	reg, st := newTestRegistry(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			if err := reg.Admit(ctx, client(id, "alice", "Alice")); err != nil {
				t.Errorf("admit %s: %v", id, err)
				return
			}
			reg.Remove(ctx, id)
		}(i)
	}
	wg.Wait()

	if reg.IsOnline("alice") {
		t.Fatalf("alice should be offline after every connection left")
	}
	u, err := st.GetOnlineUser(ctx, "alice")
	if err != nil || u.IsOnline {
		t.Fatalf("durable status should be offline: %+v, %v", u, err)
	}
}

func TestRemoveMovesDurableConnectionToRemainingOne(t *testing.T) {
	reg, st := newTestRegistry(t)
	ctx := context.Background()

	_ = reg.Admit(ctx, client("phone", "alice", "Alice"))
	_ = reg.Admit(ctx, client("laptop", "alice", "Alice"))

	removal, ok := reg.Remove(ctx, "laptop")
	if !ok || removal.LastConnection || removal.Err != nil {
		t.Fatalf("unexpected removal %+v, %v", removal, ok)
	}
	u, err := st.GetOnlineUser(ctx, "alice")
	if err != nil {
		t.Fatalf("get online user: %v", err)
	}
	if !u.IsOnline || u.ConnectionID != "phone" {
		t.Fatalf("durable record should point at phone: %+v", u)
	}
}

type offlineFailingPresence struct {
	store.PresenceStore
	mu       sync.Mutex
	attempts int
}

func (p *offlineFailingPresence) MarkOffline(context.Context, string, time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	return errors.New("disk I/O error")
}

func TestRemoveReportsDurableFailureAfterRetry(t *testing.T) {
	_, st := newTestRegistry(t)
	ps := &offlineFailingPresence{PresenceStore: st}
	reg := NewRegistry(ps, nil)
	ctx := context.Background()

	if err := reg.Admit(ctx, client("c1", "alice", "Alice")); err != nil {
		t.Fatalf("admit: %v", err)
	}

	removal, ok := reg.Remove(ctx, "c1")
	if !ok || !removal.LastConnection {
		t.Fatalf("unexpected removal %+v, %v", removal, ok)
	}
	if !errors.Is(removal.Err, domain.ErrPersistence) {
		t.Fatalf("expected persistence failure, got %v", removal.Err)
	}
	if ps.attempts != 2 {
		t.Fatalf("expected one retry, got %d attempts", ps.attempts)
	}
	if reg.IsOnline("alice") || len(reg.Clients()) != 0 {
		t.Fatalf("connection should be gone from memory")
	}
}

func TestOnChangeSeesStateAfterEachChange(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	var seen [][]string
	reg.OnChange(func(online []domain.Contact, clients []*Client) {
		if len(clients) < len(online) {
			t.Errorf("fewer clients than online users: %d < %d", len(clients), len(online))
		}
		seen = append(seen, contactIDs(online))
	})

	_ = reg.Admit(ctx, client("c1", "alice", "Alice"))
	_ = reg.Admit(ctx, client("c2", "bob", "Bob"))
	reg.Remove(ctx, "c1")
	reg.Remove(ctx, "missing")

	want := "[[alice] [alice bob] [bob]]"
	if got := fmt.Sprint(seen); got != want {
		t.Fatalf("changes = %s, want %s", got, want)
	}
}
