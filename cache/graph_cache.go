package cache

import (
	"time"

	"github.com/mohitkumar/eduflow/interpreter"
	"github.com/mohitkumar/eduflow/model"
	c "github.com/patrickmn/go-cache"
)

type CachedGraph struct {
	Workflow model.Workflow
	Graph    interpreter.WorkflowGraph
}

// GraphCache holds decoded workflow graphs so node payloads are decoded once
// per load rather than once per run.
type GraphCache struct {
	cache *c.Cache
	ttl   time.Duration
}

func NewGraphCache(ttl time.Duration) *GraphCache {
	if ttl <= 0 {
		ttl = c.NoExpiration
	}
	return &GraphCache{
		cache: c.New(ttl, 10*time.Minute),
		ttl:   ttl,
	}
}

func (ch *GraphCache) Put(workflowId string, g CachedGraph) {
	ch.cache.Set(workflowId, g, ch.ttl)
}

func (ch *GraphCache) Get(workflowId string) (CachedGraph, bool) {
	v, found := ch.cache.Get(workflowId)
	if !found {
		return CachedGraph{}, false
	}
	g, ok := v.(CachedGraph)
	return g, ok
}

func (ch *GraphCache) Invalidate(workflowId string) {
	ch.cache.Delete(workflowId)
}

func (ch *GraphCache) Flush() {
	ch.cache.Flush()
}
