package core

import (
	"context"
	"testing"
	"time"

	"github.com/vovakirdan/chatlink/internal/domain"
	"github.com/vovakirdan/chatlink/internal/service/friends"
	"github.com/vovakirdan/chatlink/internal/service/messages"
	"github.com/vovakirdan/chatlink/internal/store/sqlite"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()
	return mustEventWhere(t, ch, kind, func(*Event) bool { return true })
}

// mustEventWhere skips events until one of kind satisfies match.
func mustEventWhere(t *testing.T, ch <-chan *Event, kind EventKind, match func(*Event) bool) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind && match(ev) {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

func expectNoEvent(t *testing.T, ch <-chan *Event, kind EventKind, wait time.Duration) {
	t.Helper()

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected %v event: %+v", kind, ev)
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

type testEnv struct {
	hub   *Hub
	store *sqlite.SQLiteStore
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	hub := NewHub(st, friends.New(st), messages.New(st), opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &testEnv{hub: hub, store: st}
}

func (e *testEnv) connect(t *testing.T, connID, userID, userName string) *Client {
	t.Helper()

	c := NewClient(connID, domain.UserIdentity{UserID: userID, UserName: userName}, 0)
	if err := e.hub.RegisterClient(context.Background(), c); err != nil {
		t.Fatalf("register %s: %v", connID, err)
	}
	return c
}

func contactIDs(cs []domain.Contact) []string {
	ids := make([]string, 0, len(cs))
	for _, c := range cs {
		ids = append(ids, c.UserID)
	}
	return ids
}

func hasUser(cs []domain.Contact, userID string) bool {
	for _, c := range cs {
		if c.UserID == userID {
			return true
		}
	}
	return false
}
