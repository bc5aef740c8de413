package core

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/chatlink/internal/domain"
	"github.com/vovakirdan/chatlink/internal/store"
)

// Registry tracks live connections and mirrors per-user online status into
// the durable store. The store is written first; the in-memory maps only
// change after the durable write succeeded.
type Registry struct {
	store store.PresenceStore
	log   *zerolog.Logger
	now   func() time.Time

	// users serializes admit/remove per user across the durable call.
	users keyedMutex

	// fanout orders each in-memory change together with its notification.
	fanout   sync.Mutex
	onChange func(online []domain.Contact, clients []*Client)

	mu      sync.RWMutex
	conns   map[string]*Client
	pending map[string]struct{}
	order   []string // connection ids in admission order
}

// NewRegistry creates an empty presence registry.
func NewRegistry(st store.PresenceStore, logger *zerolog.Logger) *Registry {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Registry{
		store:   st,
		log:     logger,
		now:     time.Now,
		conns:   make(map[string]*Client),
		pending: make(map[string]struct{}),
	}
}

// OnChange registers fn to run after every admission and removal, with the
// online list and live clients as they are right after that change. Calls are
// serialized with the changes, so the last call always sees the current state.
// fn must not block or call back into the registry.
func (r *Registry) OnChange(fn func(online []domain.Contact, clients []*Client)) {
	r.fanout.Lock()
	defer r.fanout.Unlock()
	r.onChange = fn
}

// Admit records the connection and marks its user online.
func (r *Registry) Admit(ctx context.Context, c *Client) error {
	if c == nil || c.Identity.Empty() {
		return domain.ErrMissingIdentity
	}

	unlock := r.users.Lock(c.UserID())
	defer unlock()

	r.mu.Lock()
	_, live := r.conns[c.ID]
	_, reserved := r.pending[c.ID]
	if live || reserved {
		r.mu.Unlock()
		return domain.ErrDuplicateConn
	}
	r.pending[c.ID] = struct{}{}
	r.mu.Unlock()

	err := r.store.UpsertOnline(ctx, c.UserID(), c.Identity.UserName, c.ID, r.now().UTC())

	r.fanout.Lock()
	defer r.fanout.Unlock()

	r.mu.Lock()
	delete(r.pending, c.ID)
	if err != nil {
		r.mu.Unlock()
		return domain.Persistence("mark user online", err)
	}
	r.conns[c.ID] = c
	r.order = append(r.order, c.ID)
	r.mu.Unlock()

	r.notifyLocked()
	return nil
}

// Removal describes a connection that Remove took out of the registry.
type Removal struct {
	Client *Client
	// LastConnection is true when the user has no connections left.
	LastConnection bool
	// Err is the durable update that failed after a retry. The connection is
	// removed regardless; the store is corrected at the next admission or
	// startup.
	Err error
}

// Remove drops the connection. When it was the user's last one the user is
// marked offline, otherwise the durable record moves to the newest remaining
// connection. The durable write happens before the in-memory removal.
// Removing an unknown connection is a no-op.
func (r *Registry) Remove(ctx context.Context, connID string) (Removal, bool) {
	r.mu.RLock()
	c, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return Removal{}, false
	}

	unlock := r.users.Lock(c.UserID())
	defer unlock()

	r.mu.RLock()
	_, still := r.conns[connID]
	var next *Client
	for _, id := range r.order {
		if other := r.conns[id]; id != connID && other.UserID() == c.UserID() {
			next = other
		}
	}
	r.mu.RUnlock()
	if !still {
		return Removal{}, false
	}

	removal := Removal{Client: c, LastConnection: next == nil}
	if removal.LastConnection {
		removal.Err = r.retry(func() error {
			return r.store.MarkOffline(ctx, c.UserID(), r.now().UTC())
		})
	} else {
		removal.Err = r.retry(func() error {
			return r.store.UpsertOnline(ctx, next.UserID(), next.Identity.UserName, next.ID, r.now().UTC())
		})
	}
	if removal.Err != nil {
		removal.Err = domain.Persistence("update presence on disconnect", removal.Err)
		r.log.Warn().Err(removal.Err).
			Str("user_id", c.UserID()).
			Str("connection_id", connID).
			Bool("last_connection", removal.LastConnection).
			Msg("durable presence not updated")
	}

	r.fanout.Lock()
	defer r.fanout.Unlock()

	r.mu.Lock()
	delete(r.conns, connID)
	r.order = slices.DeleteFunc(r.order, func(id string) bool { return id == connID })
	r.mu.Unlock()

	r.notifyLocked()
	return removal, true
}

// retry runs op a second time when the first attempt fails.
func (r *Registry) retry(op func() error) error {
	if err := op(); err == nil {
		return nil
	}
	return op()
}

// notifyLocked runs the change hook. The caller holds r.fanout.
func (r *Registry) notifyLocked() {
	if r.onChange == nil {
		return
	}
	r.onChange(r.ListOnline(), r.Clients())
}

// ListOnline returns online users in admission order, one entry per user.
func (r *Registry) ListOnline() []domain.Contact {
	r.mu.RLock()
	defer r.mu.RUnlock()

	contacts := make([]domain.Contact, 0, len(r.order))
	for _, id := range r.order {
		c := r.conns[id]
		contacts = append(contacts, domain.Contact{UserID: c.UserID(), UserName: c.Identity.UserName})
	}
	return lo.UniqBy(contacts, func(c domain.Contact) string { return c.UserID })
}

// IsOnline reports whether userID has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.countLocked(userID) > 0
}

// Connections returns the live connections of userID in admission order.
func (r *Registry) Connections(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Client
	for _, id := range r.order {
		if c := r.conns[id]; c.UserID() == userID {
			out = append(out, c)
		}
	}
	return out
}

// Clients returns every live connection in admission order.
func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.conns[id])
	}
	return out
}

func (r *Registry) countLocked(userID string) int {
	n := 0
	for _, c := range r.conns {
		if c.UserID() == userID {
			n++
		}
	}
	return n
}

// keyedMutex hands out one mutex per key and forgets it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
