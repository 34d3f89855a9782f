package rewards

import "github.com/ethereum/go-ethereum/common"

type record[T any] interface {
	Clone() T
}

// Registry maps recipient identities to records and remembers registration
// order. Both engines store their beneficiaries in one. The zero value is not
// usable; call NewRegistry.
type Registry[T record[T]] struct {
	order []common.Address
	index map[common.Address]T
}

// NewRegistry returns an empty registry.
func NewRegistry[T record[T]]() *Registry[T] {
	return &Registry[T]{index: make(map[common.Address]T)}
}

// Len reports the number of registered identities.
func (r *Registry[T]) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}

// Contains reports whether the identity has a record.
func (r *Registry[T]) Contains(id common.Address) bool {
	if r == nil {
		return false
	}
	_, ok := r.index[id]
	return ok
}

// Lookup returns a copy of the record registered for id.
func (r *Registry[T]) Lookup(id common.Address) (T, bool) {
	rec, ok := r.get(id)
	if !ok {
		var zero T
		return zero, false
	}
	return rec.Clone(), true
}

// Identities returns the registered identities in registration order.
func (r *Registry[T]) Identities() []common.Address {
	if r == nil {
		return nil
	}
	out := make([]common.Address, len(r.order))
	copy(out, r.order)
	return out
}

// Records returns copies of every record in registration order.
func (r *Registry[T]) Records() []T {
	if r == nil {
		return nil
	}
	out := make([]T, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.index[id].Clone())
	}
	return out
}

// each visits the stored records in registration order until fn returns false.
// Callers must not retain or mutate the records outside a journaled operation.
func (r *Registry[T]) each(fn func(common.Address, T) bool) {
	if r == nil {
		return
	}
	for _, id := range r.order {
		if !fn(id, r.index[id]) {
			return
		}
	}
}

// clone returns a registry sharing the stored records but not the index or
// the order, so later sets and drops on r do not show through. Records are
// replaced rather than mutated, which makes sharing them safe.
func (r *Registry[T]) clone() *Registry[T] {
	out := &Registry[T]{
		order: make([]common.Address, len(r.order)),
		index: make(map[common.Address]T, len(r.index)),
	}
	copy(out.order, r.order)
	for id, rec := range r.index {
		out.index[id] = rec
	}
	return out
}

func (r *Registry[T]) get(id common.Address) (T, bool) {
	if r == nil {
		var zero T
		return zero, false
	}
	rec, ok := r.index[id]
	return rec, ok
}

// set stores rec under id and returns a closure restoring the previous state.
func (r *Registry[T]) set(id common.Address, rec T) (undo func()) {
	prev, existed := r.index[id]
	r.index[id] = rec
	if existed {
		return func() { r.index[id] = prev }
	}
	r.order = append(r.order, id)
	return func() { r.drop(id) }
}

func (r *Registry[T]) drop(id common.Address) {
	delete(r.index, id)
	for i := len(r.order) - 1; i >= 0; i-- {
		if r.order[i] == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
