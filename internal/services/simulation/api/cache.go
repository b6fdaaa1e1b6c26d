package api

import "sync"

// stateCache keeps the last successfully served entity views so reads
// stay answerable while the session pool is exhausted. Served stale
// views are marked, never invented.
type stateCache struct {
	mu       sync.RWMutex
	entities map[string]entityView
	listed   []entityView
}

func newStateCache() *stateCache {
	return &stateCache{entities: make(map[string]entityView)}
}

func (c *stateCache) putEntity(view entityView) {
	c.mu.Lock()
	c.entities[view.ID] = view
	c.mu.Unlock()
}

func (c *stateCache) entity(id string) (entityView, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	view, ok := c.entities[id]
	return view, ok
}

func (c *stateCache) putList(views []entityView) {
	snapshot := make([]entityView, len(views))
	copy(snapshot, views)
	c.mu.Lock()
	c.listed = snapshot
	c.mu.Unlock()
}

func (c *stateCache) list() ([]entityView, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listed == nil {
		return nil, false
	}
	return c.listed, true
}
