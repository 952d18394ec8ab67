// Package session keeps one broker handle per (session id, mode).
package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"brokergw/internal/apperr"
	"brokergw/internal/broker"
	"brokergw/internal/logger"

	"golang.org/x/sync/singleflight"
)

// Key identifies a registry entry. The same id in two modes is two sessions.
type Key struct {
	ID   string
	Mode broker.Mode
}

func (k Key) String() string { return k.ID + "/" + string(k.Mode) }

// Entry is one registered session.
type Entry struct {
	ID        string
	Mode      broker.Mode
	CreatedAt time.Time
	Handle    *broker.Handle
}

// Registry owns every live broker handle of the process.
//
// Creation, eviction and Do run under a per-key lock, so a key never has two
// handles and a login cannot land on a handle that is being evicted. Reads of
// existing entries only take the map's read lock.
type Registry struct {
	factory broker.Factory
	opts    []broker.HandleOption
	now     func() time.Time

	mu      sync.RWMutex
	entries map[Key]*Entry
	locks   map[Key]*keyLock
	group   singleflight.Group
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewRegistry builds an empty registry. opts are applied to every handle.
func NewRegistry(factory broker.Factory, opts ...broker.HandleOption) *Registry {
	return &Registry{
		factory: factory,
		opts:    opts,
		now:     time.Now,
		entries: make(map[Key]*Entry),
		locks:   make(map[Key]*keyLock),
	}
}

func normalizeKey(id string, mode broker.Mode) (Key, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Key{}, apperr.Errorf(apperr.KindInvalidRequest, "session_id is required")
	}
	if mode != broker.ModeSimulated && mode != broker.ModeLive {
		return Key{}, apperr.Errorf(apperr.KindInvalidRequest, "unknown mode %q", mode)
	}
	return Key{ID: id, Mode: mode}, nil
}

// lockKey takes the per-key lock and returns its release func. Lock entries
// are dropped once nobody holds or waits on them.
func (r *Registry) lockKey(key Key) func() {
	r.mu.Lock()
	kl, ok := r.locks[key]
	if !ok {
		kl = &keyLock{}
		r.locks[key] = kl
	}
	kl.refs++
	r.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		r.mu.Lock()
		if kl.refs--; kl.refs == 0 {
			delete(r.locks, key)
		}
		r.mu.Unlock()
	}
}

// Resolve returns the handle for (id, mode), creating it on first use.
// Concurrent first calls for one key share a single creation. A factory
// failure registers nothing.
func (r *Registry) Resolve(_ context.Context, id string, mode broker.Mode) (*broker.Handle, error) {
	key, err := normalizeKey(id, mode)
	if err != nil {
		return nil, err
	}
	if e := r.lookup(key); e != nil {
		return e.Handle, nil
	}
	v, err, _ := r.group.Do(key.String(), func() (any, error) {
		release := r.lockKey(key)
		defer release()
		return r.resolveLocked(key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry).Handle, nil
}

// Do resolves (id, mode) and runs fn with the handle while holding the key's
// lock. Evict of the same key waits for fn to return.
func (r *Registry) Do(_ context.Context, id string, mode broker.Mode, fn func(*broker.Handle) error) error {
	key, err := normalizeKey(id, mode)
	if err != nil {
		return err
	}
	release := r.lockKey(key)
	defer release()
	e, err := r.resolveLocked(key)
	if err != nil {
		return err
	}
	return fn(e.Handle)
}

func (r *Registry) resolveLocked(key Key) (*Entry, error) {
	if e := r.lookup(key); e != nil {
		return e, nil
	}
	adapter, err := r.factory.NewAdapter(key.Mode)
	if err != nil {
		logger.Warnf("[session] create %s failed: %v", key, err)
		return nil, apperr.Classify("resolve_session", err)
	}
	e := &Entry{ID: key.ID, Mode: key.Mode, CreatedAt: r.now(), Handle: broker.NewHandle(adapter, r.opts...)}
	r.mu.Lock()
	r.entries[key] = e
	r.mu.Unlock()
	logger.Infof("[session] created %s", key)
	return e, nil
}

// Lookup returns an existing entry without creating one.
func (r *Registry) Lookup(id string, mode broker.Mode) (*Entry, bool) {
	key, err := normalizeKey(id, mode)
	if err != nil {
		return nil, false
	}
	e := r.lookup(key)
	return e, e != nil
}

func (r *Registry) lookup(key Key) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[key]
}

// Evict logs out (id, mode) when authenticated, then removes the entry.
// loggedOut reports whether an authenticated handle was logged out. Absent
// keys are a no-op. A failed logout keeps the entry so it can be retried.
func (r *Registry) Evict(ctx context.Context, id string, mode broker.Mode) (loggedOut bool, err error) {
	key, err := normalizeKey(id, mode)
	if err != nil {
		return false, err
	}
	release := r.lockKey(key)
	defer release()
	return r.evictLocked(ctx, key)
}

func (r *Registry) evictLocked(ctx context.Context, key Key) (bool, error) {
	e := r.lookup(key)
	if e == nil {
		return false, nil
	}
	done, err := e.Handle.Logout(ctx)
	if err != nil {
		logger.Warnf("[session] logout during evict %s failed: %v", key, err)
		return false, err
	}
	r.mu.Lock()
	delete(r.entries, key)
	r.mu.Unlock()
	logger.Infof("[session] evicted %s", key)
	return done, nil
}

// EvictSession evicts both modes of id.
func (r *Registry) EvictSession(ctx context.Context, id string) error {
	var errs []error
	for _, mode := range []broker.Mode{broker.ModeSimulated, broker.ModeLive} {
		if _, err := r.Evict(ctx, id, mode); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sessions returns a snapshot sorted by id then mode.
func (r *Registry) Sessions() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Mode < out[j].Mode
	})
	return out
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close evicts every session, logging each one out. Entries whose logout
// fails are dropped anyway since the process is going away.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.RLock()
	keys := make([]Key, 0, len(r.entries))
	for key := range r.entries {
		keys = append(keys, key)
	}
	r.mu.RUnlock()
	var errs []error
	for _, key := range keys {
		release := r.lockKey(key)
		if _, err := r.evictLocked(ctx, key); err != nil {
			errs = append(errs, err)
			r.mu.Lock()
			delete(r.entries, key)
			r.mu.Unlock()
		}
		release()
	}
	logger.Infof("[session] registry closed, %d sessions released", len(keys))
	return errors.Join(errs...)
}
