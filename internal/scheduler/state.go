// Package scheduler decides what runs next: a pure capacity value tracking
// running workers, and a dependency planner that computes ready sets, serial
// chains, parallel batches, and cycles from the task graph.
//
// Nothing in this package performs I/O or holds locks; callers load tasks
// from the store and guard concurrent access themselves.
package scheduler

import (
	"sort"

	"github.com/Iron-Ham/maestro/internal/task"
)

// State is an immutable snapshot of scheduler capacity. Transitions return a
// new State; the receiver is never mutated.
type State struct {
	maxWorkers int
	running    map[task.WorkerID]struct{}
}

// NewState returns an empty scheduler state with the given worker capacity.
// A non-positive maxWorkers means no capacity at all.
func NewState(maxWorkers int) State {
	return State{maxWorkers: maxWorkers, running: map[task.WorkerID]struct{}{}}
}

func (s State) clone() State {
	next := State{maxWorkers: s.maxWorkers, running: make(map[task.WorkerID]struct{}, len(s.running))}
	for w := range s.running {
		next.running[w] = struct{}{}
	}
	return next
}

// Add returns a state with the worker recorded as running. Adding a worker
// already present is a no-op.
func (s State) Add(w task.WorkerID) State {
	next := s.clone()
	next.running[w] = struct{}{}
	return next
}

// Remove returns a state with the worker no longer running. Removing an
// absent worker is a no-op.
func (s State) Remove(w task.WorkerID) State {
	next := s.clone()
	delete(next.running, w)
	return next
}

// IsRunning reports whether the worker is currently recorded as running.
func (s State) IsRunning(w task.WorkerID) bool {
	_, ok := s.running[w]
	return ok
}

// RunningCount returns the number of running workers.
func (s State) RunningCount() int {
	return len(s.running)
}

// MaxWorkers returns the configured capacity.
func (s State) MaxWorkers() int {
	return s.maxWorkers
}

// AvailableSlots returns how many more workers may start, never negative.
func (s State) AvailableSlots() int {
	slots := s.maxWorkers - len(s.running)
	if slots < 0 {
		return 0
	}
	return slots
}

// HasCapacity reports whether at least one more worker may start.
func (s State) HasCapacity() bool {
	return s.AvailableSlots() > 0
}

// Workers returns the running worker IDs in sorted order.
func (s State) Workers() []task.WorkerID {
	workers := make([]task.WorkerID, 0, len(s.running))
	for w := range s.running {
		workers = append(workers, w)
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i] < workers[j] })
	return workers
}
