package githubstore

import (
	"sync"
	"time"

	"github.com/sakif/wikistore/internal/model"
	"github.com/sakif/wikistore/internal/storage"
)

// cachedSet is the result of the most recent successful write for one
// (contentType, userID) key: which issue holds the data and what the body
// array looked like after the write.
type cachedSet struct {
	issue int
	items []model.Item
}

type recentEntry struct {
	set     cachedSet
	expires time.Time
}

// keyGuard serializes writes per storage key and keeps a short-lived
// write-back cache of the last result.
//
// WHY BOTH A LOCK AND A CACHE?
// GitHub's issue search is eventually consistent: a list query issued right
// after an edit can return the pre-edit body. Two mitigations, both scoped
// to this process only:
//
//  1. lock/unlock serialize concurrent saves for the same key, so the
//     second saver re-reads AFTER the first write instead of clobbering it
//     (read-modify-write, not a merge).
//  2. After a successful write the result is cached for a grace window
//     (~2s). Reads within the window use the cached array instead of the
//     possibly stale API response.
//
// This is NOT a distributed lock. Two separate server processes writing the
// same key concurrently can still race — a known, accepted weakness of
// using an issue tracker as a database.
//
// All state is per-instance (created with the adapter, dropped by Close),
// never package-level, so two adapters in one process don't share guards.
type keyGuard struct {
	grace time.Duration

	mu       sync.Mutex
	inflight map[string]chan struct{}
	recent   map[string]recentEntry
}

func newKeyGuard(grace time.Duration) *keyGuard {
	return &keyGuard{
		grace:    grace,
		inflight: make(map[string]chan struct{}),
		recent:   make(map[string]recentEntry),
	}
}

// lock blocks until no other writer holds the key, then claims it.
func (g *keyGuard) lock(key string) {
	for {
		g.mu.Lock()
		ch, busy := g.inflight[key]
		if !busy {
			g.inflight[key] = make(chan struct{})
			g.mu.Unlock()
			return
		}
		g.mu.Unlock()
		<-ch
	}
}

// unlock releases the key. A non-nil set records the write result in the
// grace cache; nil (failed write) leaves any previous cache entry alone.
func (g *keyGuard) unlock(key string, set *cachedSet, now time.Time) {
	g.mu.Lock()
	ch := g.inflight[key]
	delete(g.inflight, key)
	if set != nil {
		g.recent[key] = recentEntry{set: *set, expires: now.Add(g.grace)}
	}
	g.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// cached returns the grace-window copy of the last write, if still fresh.
// The items slice is cloned so callers cannot mutate the cache.
func (g *keyGuard) cached(key string, now time.Time) (cachedSet, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.recent[key]
	if !ok {
		return cachedSet{}, false
	}
	if now.After(entry.expires) {
		delete(g.recent, key)
		return cachedSet{}, false
	}
	return cachedSet{issue: entry.set.issue, items: storage.CloneItems(entry.set.items)}, true
}

// Close drops all guard state. Blocked waiters are not interrupted; callers
// must not reuse the adapter after Close.
func (g *keyGuard) Close() {
	g.mu.Lock()
	g.inflight = make(map[string]chan struct{})
	g.recent = make(map[string]recentEntry)
	g.mu.Unlock()
}
