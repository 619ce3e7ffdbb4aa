package engine

// arena stores handles under generation-checked ids. An id packs the slot
// index in the low 32 bits and the slot generation in the high 32 bits, so
// an id stays invalid after its slot is reused. Zero is never a valid id.
type arena[T any] struct {
	slots []slot[T]
	free  []uint32
	live  int
}

type slot[T any] struct {
	gen  uint32
	used bool
	val  T
}

func (a *arena[T]) insert(v T) uint64 {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, slot[T]{})
	}
	s := &a.slots[idx]
	s.gen++
	s.used = true
	s.val = v
	a.live++
	return uint64(s.gen)<<32 | uint64(idx)
}

func (a *arena[T]) lookup(id uint64) (*slot[T], bool) {
	idx, gen := uint32(id), uint32(id>>32)
	if gen == 0 || int(idx) >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[idx]
	if !s.used || s.gen != gen {
		return nil, false
	}
	return s, true
}

func (a *arena[T]) get(id uint64) (T, bool) {
	s, ok := a.lookup(id)
	if !ok {
		var zero T
		return zero, false
	}
	return s.val, true
}

func (a *arena[T]) remove(id uint64) (T, bool) {
	var zero T
	s, ok := a.lookup(id)
	if !ok {
		return zero, false
	}
	v := s.val
	s.val = zero
	s.used = false
	a.free = append(a.free, uint32(id))
	a.live--
	return v, true
}

// each visits live entries in slot order.
func (a *arena[T]) each(fn func(id uint64, v T)) {
	for i := range a.slots {
		s := &a.slots[i]
		if s.used {
			fn(uint64(s.gen)<<32|uint64(i), s.val)
		}
	}
}

func (a *arena[T]) len() int { return a.live }
