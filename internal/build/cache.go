package build

import (
	"slices"
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/starford/inkbuild/internal/compiler"
	"github.com/starford/inkbuild/internal/models"
)

// DefaultCacheCapacity is the number of artifacts kept when no capacity is
// configured.
const DefaultCacheCapacity = 2

// CacheEntry is an artifact together with the document version it was
// compiled from and the binding documents the compile consulted.
type CacheEntry struct {
	Version  int64
	Artifact *compiler.Artifact
	Bindings []models.DocumentID
}

// ArtifactCache is a bounded least-recently-used cache of compiled
// artifacts keyed by root document. It never decides dependencies; the
// caller supplies them on invalidation.
type ArtifactCache struct {
	mu  sync.Mutex
	lru *lru.Cache
}

// NewArtifactCache creates a cache holding at most capacity entries.
// onEvict, when set, is called for entries dropped to make room.
func NewArtifactCache(capacity int, onEvict func(id models.DocumentID)) *ArtifactCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	c := lru.New(capacity)
	if onEvict != nil {
		c.OnEvicted = func(key lru.Key, _ interface{}) {
			onEvict(key.(models.DocumentID))
		}
	}
	return &ArtifactCache{lru: c}
}

// Get returns the artifact of id if it was compiled from version. A hit
// marks the entry most recently used.
func (c *ArtifactCache) Get(id models.DocumentID, version int64) (*compiler.Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Get(id)
	if !ok {
		return nil, false
	}
	entry := v.(CacheEntry)
	if entry.Version != version {
		return nil, false
	}
	return entry.Artifact, true
}

// Entry returns the stored entry of id regardless of version.
func (c *ArtifactCache) Entry(id models.DocumentID) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Get(id)
	if !ok {
		return CacheEntry{}, false
	}
	return v.(CacheEntry), true
}

// Put stores art as the artifact of id at version, built against bindings,
// replacing any previous entry. The least recently used entry is evicted
// when over capacity.
func (c *ArtifactCache) Put(id models.DocumentID, version int64, art *compiler.Artifact, bindings []models.DocumentID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Remove first so a replaced entry is not reported as evicted.
	c.removeLocked(id)
	c.lru.Add(id, CacheEntry{Version: version, Artifact: art, Bindings: slices.Clone(bindings)})
}

// Remove drops the entry of id and reports whether there was one.
func (c *ArtifactCache) Remove(id models.DocumentID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(id)
}

func (c *ArtifactCache) removeLocked(id models.DocumentID) bool {
	if _, ok := c.lru.Get(id); !ok {
		return false
	}
	onEvict := c.lru.OnEvicted
	c.lru.OnEvicted = nil
	c.lru.Remove(id)
	c.lru.OnEvicted = onEvict
	return true
}

// Invalidate drops id and, recursively, every document that dependents
// reports as depending on a dropped or visited document. It returns the
// ids whose entries were removed.
func (c *ArtifactCache) Invalidate(id models.DocumentID, dependents func(models.DocumentID) []models.DocumentID) []models.DocumentID {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []models.DocumentID
	visited := make(map[models.DocumentID]struct{})
	var walk func(models.DocumentID)
	walk = func(id models.DocumentID) {
		if _, seen := visited[id]; seen {
			return
		}
		visited[id] = struct{}{}
		if c.removeLocked(id) {
			removed = append(removed, id)
		}
		if dependents == nil {
			return
		}
		for _, d := range dependents(id) {
			walk(d)
		}
	}
	walk(id)
	return removed
}

// Len returns the number of cached artifacts.
func (c *ArtifactCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Clear empties the cache.
func (c *ArtifactCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	onEvict := c.lru.OnEvicted
	c.lru.OnEvicted = nil
	c.lru.Clear()
	c.lru.OnEvicted = onEvict
}
