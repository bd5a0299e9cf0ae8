// Package specialist turns one category bucket into validated specialist
// records through that category's content extractor.
package specialist

import (
	"sync"

	"deepresearch/internal/types"
)

// Registry maps each category to the extractor that serves it.
type Registry struct {
	mu         sync.RWMutex
	extractors map[types.Category]types.ContentExtractor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[types.Category]types.ContentExtractor)}
}

// Register binds an extractor to a category, replacing any previous one.
func (r *Registry) Register(c types.Category, e types.ContentExtractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[c] = e
}

// Get returns the extractor for a category.
func (r *Registry) Get(c types.Category) (types.ContentExtractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extractors[c]
	return e, ok
}

// Categories lists registered categories in declaration order.
func (r *Registry) Categories() []types.Category {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.Category
	for _, c := range types.AllCategories() {
		if _, ok := r.extractors[c]; ok {
			out = append(out, c)
		}
	}
	return out
}
