package build

import "github.com/starford/inkbuild/internal/models"

// EventType names what happened inside the engine.
type EventType string

const (
	EventRegistered   EventType = "registered"
	EventCompiled     EventType = "compiled"
	EventDeleted      EventType = "deleted"
	EventCacheHit     EventType = "cache_hit"
	EventCacheMiss    EventType = "cache_miss"
	EventCacheEvicted EventType = "cache_evicted"
)

// Event is delivered to observers. Result is set for EventCompiled.
type Event struct {
	Type   EventType
	ID     models.DocumentID
	Kind   models.DocumentKind
	Result *Result
}

// Observer receives engine events.
type Observer func(Event)
