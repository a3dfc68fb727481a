// Package scope implements component F of SPEC_FULL.md: the scope
// registry built once from a test plan, whose buckets track how many
// still-pending TestItems reference each scope id (spec.md §4.6).
package scope

import (
	"fmt"
	"sync"

	"lymbo/internal/model"
)

// Bucket is one scope id's reference count. Buckets own their own lock
// (spec.md §4.6: "Buckets own their own lock"); the registry itself is
// never mutated once built.
type Bucket struct {
	mu    sync.Mutex
	count int
}

// Count reports the bucket's current reference count.
func (b *Bucket) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Decrement is the only mutation path exposed to executors (spec.md
// §4.6), invoked once per scope key present in a finished test's
// scopes-map. It reports whether the bucket reached zero, which is the
// broker's teardown trigger (spec.md §4.7).
func (b *Bucket) Decrement() (reachedZero bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count <= 0 {
		return false, fmt.Errorf("scope: bucket decremented past zero")
	}
	b.count--
	return b.count == 0, nil
}

// ForceZero sets the bucket's count to zero unconditionally, reporting
// whether it had to do anything. Used once, at pipeline shutdown, to
// force the session bucket closed even if some executor crashed mid-
// group and never reached its decrement calls (spec.md §4.9 step 4:
// "force the session bucket's count to 0 (terminal signal)").
func (b *Bucket) ForceZero() (wasNonzero bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	wasNonzero = b.count != 0
	b.count = 0
	return wasNonzero
}

// key identifies a bucket by both its category and id: module/class/
// function ids are built from overlapping path strings (spec.md §3's
// BuildScopes), so the category must be part of the key to keep them
// from colliding.
type key struct {
	category model.ScopeCategory
	id       string
}

// Registry is the read-only-after-construction map of scope buckets for
// one run (spec.md §4.6: "created in shared memory, cross-process
// visible" — here, a single map inside the controller process, shared
// by every broker goroutine and reached by executors over the broker
// protocol; see SPEC_FULL.md §4.7's process-model translation note).
type Registry struct {
	buckets map[key]*Bucket
}

// Build constructs the registry from a plan: for every TestItem and
// every scope key present in its Scopes map, create a bucket if absent
// and increment its count by one (spec.md §4.6).
func Build(items []*model.TestItem) *Registry {
	r := &Registry{buckets: map[key]*Bucket{}}
	for _, item := range items {
		for category, id := range item.Scopes {
			k := key{category, id}
			b, ok := r.buckets[k]
			if !ok {
				b = &Bucket{}
				r.buckets[k] = b
			}
			b.count++
		}
	}
	return r
}

// Bucket returns the bucket for (category, id), or false if the
// registry's membership does not include it (a bug in plan construction
// — every scope a TestItem carries must have been registered by Build).
func (r *Registry) Bucket(category model.ScopeCategory, id string) (*Bucket, bool) {
	b, ok := r.buckets[key{category, id}]
	return b, ok
}

// DecrementAll decrements every scope bucket named in item's Scopes map,
// once each, as spec.md §4.6 requires after a test finishes. It returns
// the subset of scope keys whose bucket reached zero, for the broker to
// act on (spec.md §4.7's teardown trigger).
func (r *Registry) DecrementAll(item *model.TestItem) ([]Key, error) {
	var zeroed []Key
	for category, id := range item.Scopes {
		b, ok := r.Bucket(category, id)
		if !ok {
			return zeroed, fmt.Errorf("scope: unregistered scope %s:%s", category, id)
		}
		reachedZero, err := b.Decrement()
		if err != nil {
			return zeroed, fmt.Errorf("scope: decrementing %s:%s: %w", category, id, err)
		}
		if reachedZero {
			zeroed = append(zeroed, Key{Category: category, ID: id})
		}
	}
	return zeroed, nil
}

// Key is the exported (category, id) pair identifying one scope bucket.
type Key struct {
	Category model.ScopeCategory
	ID       string
}
