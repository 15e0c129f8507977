// Package arena tracks occupancy of the fixed pool of game-server arenas and
// picks which free arena a new match goes to.
package arena

import (
	"errors"
	"fmt"
)

var (
	ErrNoSuchArena     = errors.New("no such arena")
	ErrInvalidPriority = errors.New("invalid arena priority order")
	ErrInvalidPoolSize = errors.New("arena pool size must be positive")
)

// Slot is the state of one arena. A zero Slot is free.
type Slot struct {
	Occupied bool   `json:"occupied"`
	PlayerA  string `json:"playerA,omitempty"`
	PlayerB  string `json:"playerB,omitempty"`
}

// Holds reports whether the player is seated in this slot.
func (s Slot) Holds(tag string) bool {
	return s.Occupied && (s.PlayerA == tag || s.PlayerB == tag)
}

// Allocator owns the arena slots. It is not safe for concurrent use; the
// tournament coordinator is its only caller.
type Allocator struct {
	slots    []Slot
	priority []int
}

// New creates a pool of size free arenas. priority lists arena indices in
// preference order; when empty the natural order 0..size-1 is used.
func New(size int, priority []int) (*Allocator, error) {
	if size <= 0 {
		return nil, ErrInvalidPoolSize
	}

	if len(priority) == 0 {
		priority = make([]int, size)
		for i := range priority {
			priority[i] = i
		}
	}

	seen := make(map[int]bool, len(priority))
	for _, idx := range priority {
		if idx < 0 || idx >= size {
			return nil, fmt.Errorf("%w: arena %d outside pool of %d", ErrInvalidPriority, idx, size)
		}
		if seen[idx] {
			return nil, fmt.Errorf("%w: arena %d listed twice", ErrInvalidPriority, idx)
		}
		seen[idx] = true
	}

	return &Allocator{
		slots:    make([]Slot, size),
		priority: append([]int(nil), priority...),
	}, nil
}

// Size is the number of arenas in the pool.
func (a *Allocator) Size() int { return len(a.slots) }

// Priority returns a copy of the preference order.
func (a *Allocator) Priority() []int { return append([]int(nil), a.priority...) }

// Open returns the first free arena in priority order. Arenas that are not
// listed in the priority order are never handed out.
func (a *Allocator) Open() (int, bool) {
	for _, idx := range a.priority {
		if !a.slots[idx].Occupied {
			return idx, true
		}
	}
	return 0, false
}

// Allocate seats two players in arena i. An occupied arena is overwritten;
// the previous occupant is returned with overwrote set so the caller can
// report the conflict.
func (a *Allocator) Allocate(i int, playerA, playerB string) (prev Slot, overwrote bool, err error) {
	if i < 0 || i >= len(a.slots) {
		return Slot{}, false, fmt.Errorf("%w: %d", ErrNoSuchArena, i)
	}
	prev = a.slots[i]
	a.slots[i] = Slot{Occupied: true, PlayerA: playerA, PlayerB: playerB}
	return prev, prev.Occupied, nil
}

// Release frees arena i whatever its prior state.
func (a *Allocator) Release(i int) (Slot, error) {
	if i < 0 || i >= len(a.slots) {
		return Slot{}, fmt.Errorf("%w: %d", ErrNoSuchArena, i)
	}
	prev := a.slots[i]
	a.slots[i] = Slot{}
	return prev, nil
}

// Reset frees every arena.
func (a *Allocator) Reset() {
	clear(a.slots)
}

// Seated returns the arena currently holding the player, if any.
func (a *Allocator) Seated(tag string) (int, bool) {
	for i, s := range a.slots {
		if s.Holds(tag) {
			return i, true
		}
	}
	return 0, false
}

// Slot returns the state of arena i.
func (a *Allocator) Slot(i int) (Slot, error) {
	if i < 0 || i >= len(a.slots) {
		return Slot{}, fmt.Errorf("%w: %d", ErrNoSuchArena, i)
	}
	return a.slots[i], nil
}

// Snapshot returns a copy of every slot, indexed by arena.
func (a *Allocator) Snapshot() []Slot {
	return append([]Slot(nil), a.slots...)
}
