package state

import (
	"errors"
	"math"
	"slices"

	"github.com/mauzec/task-manager/internal/core"
	"github.com/mauzec/task-manager/internal/storage/snapshot"
)

// State is one consistent view of the task list: the tasks by id,
// their presentation order and the last id handed out.
type State struct {
	Tasks   map[int64]*core.Task
	Order   []int64
	Counter int64
}

func newState() *State {
	return &State{Tasks: make(map[int64]*core.Task)}
}

// ErrIDsExhausted is returned by NextID once the counter is at math.MaxInt64.
var ErrIDsExhausted = errors.New("task ids exhausted")

// NextID advances the counter and returns the new value.
func (s *State) NextID() (int64, error) {
	if s.Counter >= math.MaxInt64 {
		return 0, ErrIDsExhausted
	}
	s.Counter++
	return s.Counter, nil
}

// Add stores t and appends its id to the order.
func (s *State) Add(t *core.Task) {
	s.Tasks[t.ID] = t
	s.Order = append(s.Order, t.ID)
}

// Remove drops id from the tasks and splices it out of the order.
func (s *State) Remove(id int64) bool {
	if _, ok := s.Tasks[id]; !ok {
		return false
	}
	delete(s.Tasks, id)
	if i := slices.Index(s.Order, id); i >= 0 {
		s.Order = slices.Delete(s.Order, i, i+1)
	}
	return true
}

// Ordered returns the tasks in presentation order: the order list first,
// then live ids the order does not mention, ascending.
func (s *State) Ordered() []*core.Task {
	res := make([]*core.Task, 0, len(s.Tasks))
	seen := make(map[int64]struct{}, len(s.Tasks))
	for _, id := range s.Order {
		t, ok := s.Tasks[id]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		res = append(res, t)
	}
	if len(res) == len(s.Tasks) {
		return res
	}
	for _, id := range s.sortedIDs() {
		if _, ok := seen[id]; !ok {
			res = append(res, s.Tasks[id])
		}
	}
	return res
}

func (s *State) sortedIDs() []int64 {
	ids := make([]int64, 0, len(s.Tasks))
	for id := range s.Tasks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *State) clone() *State {
	c := &State{
		Tasks:   make(map[int64]*core.Task, len(s.Tasks)),
		Order:   slices.Clone(s.Order),
		Counter: s.Counter,
	}
	for id, t := range s.Tasks {
		c.Tasks[id] = t.CloneTask()
	}
	return c
}

func (s *State) document() *snapshot.Document {
	ordered := s.Ordered()
	order := make([]int64, 0, len(ordered))
	for _, t := range ordered {
		order = append(order, t.ID)
	}
	return &snapshot.Document{
		Tasks:   ordered,
		Order:   order,
		Counter: s.Counter,
	}
}

// heal makes Order a permutation of the live ids and lifts Counter to at least
// the highest live id.
func (s *State) heal() {
	order := make([]int64, 0, len(s.Tasks))
	seen := make(map[int64]struct{}, len(s.Tasks))
	for _, id := range s.Order {
		if _, ok := s.Tasks[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		order = append(order, id)
	}
	for _, id := range s.sortedIDs() {
		if _, ok := seen[id]; !ok {
			order = append(order, id)
		}
		if id > s.Counter {
			s.Counter = id
		}
	}
	s.Order = order
}
