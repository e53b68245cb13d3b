// Package resource holds externally-owned render resources behind
// generation-checked handles.
//
// A Pool owns its values. The handles it hands out are weak: they never keep
// a value alive, and resolving one after the owner removed the value fails
// instead of returning a recycled slot.
package resource

// Pool is an owner-controlled table of values. It is not safe for concurrent
// use; the owner serializes inserts and removals with rendering.
type Pool[T any] struct {
	slots []slot[T]
	free  []uint32
	live  int
}

type slot[T any] struct {
	value *T
	gen   uint32
}

func NewPool[T any]() *Pool[T] {
	return &Pool[T]{}
}

// Insert takes ownership of v and returns a weak handle to it.
func (p *Pool[T]) Insert(v *T) Weak[T] {
	var index uint32
	if n := len(p.free); n > 0 {
		index = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		index = uint32(len(p.slots))
		p.slots = append(p.slots, slot[T]{})
	}
	s := &p.slots[index]
	s.gen++ // generations start at 1; the zero Weak never resolves
	s.value = v
	p.live++
	return Weak[T]{pool: p, index: index, gen: s.gen}
}

// Remove destroys the value behind w and returns it so the caller can free
// whatever it holds. Every outstanding handle to it stops resolving.
func (p *Pool[T]) Remove(w Weak[T]) (*T, bool) {
	v, ok := p.Get(w)
	if !ok {
		return nil, false
	}
	s := &p.slots[w.index]
	s.value = nil
	s.gen++
	p.free = append(p.free, w.index)
	p.live--
	return v, true
}

// Get resolves w if it belongs to this pool and is still alive.
func (p *Pool[T]) Get(w Weak[T]) (*T, bool) {
	if w.pool != p || int(w.index) >= len(p.slots) {
		return nil, false
	}
	s := p.slots[w.index]
	if s.gen != w.gen || s.value == nil {
		return nil, false
	}
	return s.value, true
}

// Len is the number of live values.
func (p *Pool[T]) Len() int { return p.live }

// Each calls fn for every live value until fn returns false.
func (p *Pool[T]) Each(fn func(Weak[T], *T) bool) {
	for i, s := range p.slots {
		if s.value == nil {
			continue
		}
		if !fn(Weak[T]{pool: p, index: uint32(i), gen: s.gen}, s.value) {
			return
		}
	}
}

// Weak is a non-owning handle into a Pool. Handles are comparable: two
// handles are equal iff they name the same insertion.
type Weak[T any] struct {
	pool  *Pool[T]
	index uint32
	gen   uint32
}

// Upgrade resolves the handle. It fails once the owner removed the value.
func (w Weak[T]) Upgrade() (*T, bool) {
	if w.pool == nil {
		return nil, false
	}
	return w.pool.Get(w)
}

func (w Weak[T]) Alive() bool {
	_, ok := w.Upgrade()
	return ok
}

func (w Weak[T]) IsZero() bool { return w.pool == nil }
