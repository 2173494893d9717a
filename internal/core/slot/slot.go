// Package slot provides typed extension slots on shared entities (players,
// arenas) so modules can hang per-entity state off them without touching the
// shared struct definitions. A module allocates a Key[T] once at load; every
// entity then lazily materializes a zero-valued *T on first access.
package slot

import "sync"

type keyBase struct {
	id int
}

var (
	keyMu  sync.Mutex
	nextID int
)

// Key identifies one typed slot across all entities. Allocate with NewKey.
type Key[T any] struct {
	base keyBase
}

func NewKey[T any]() *Key[T] {
	keyMu.Lock()
	defer keyMu.Unlock()
	nextID++
	return &Key[T]{base: keyBase{id: nextID}}
}

// Table is the per-entity slot storage, embedded in Player and Arena.
// Accessed from the mainloop goroutine only.
type Table struct {
	data map[int]any
}

// Get returns the entity's value for k, creating a zero-valued one on first
// access.
func Get[T any](t *Table, k *Key[T]) *T {
	if t.data == nil {
		t.data = make(map[int]any, 8)
	}
	if v, ok := t.data[k.base.id]; ok {
		return v.(*T)
	}
	v := new(T)
	t.data[k.base.id] = v
	return v
}

// TryGet returns the entity's value for k only if one was materialized.
func TryGet[T any](t *Table, k *Key[T]) (*T, bool) {
	if t.data == nil {
		return nil, false
	}
	v, ok := t.data[k.base.id]
	if !ok {
		return nil, false
	}
	return v.(*T), true
}

// Remove drops the entity's value for k.
func Remove[T any](t *Table, k *Key[T]) {
	delete(t.data, k.base.id)
}

// Clear drops every slot value; called when the owning entity is destroyed.
func (t *Table) Clear() {
	t.data = nil
}
