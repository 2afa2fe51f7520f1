package scheduler

import (
	"sort"
	"strings"

	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/task"
)

// Plan is the dependency planner's answer for one scheduling pass.
type Plan struct {
	// Ready holds the dispatchable task IDs in lexicographic order.
	Ready []task.ID
	// Chains holds maximal serial chains (length >= 2), head first, sorted
	// by head ID. Chain members execute in one shared worktree.
	Chains [][]task.ID
	// Cycles holds every dependency cycle among non-terminal tasks as an
	// ordered path closing on its start, e.g. [a b c a]. Tasks on a cycle
	// are unrunnable until the cycle is broken.
	Cycles [][]task.ID
}

// BuildPlan computes the ready set, serial chains, and cycles for the given
// tasks. The input should be the full task set; terminal tasks participate
// only as satisfied (or unsatisfiable) dependencies.
// Cycles are reported, not fatal: acyclic portions of the graph still
// run. A plan whose ready set is empty while cycles exist fails Validate.
func BuildPlan(tasks []*task.Task) (*Plan, error) {
	cycles := DetectCycles(tasks)
	ready := ReadySet(tasks)
	readyIDs := make([]task.ID, len(ready))
	for i, t := range ready {
		readyIDs[i] = t.ID
	}
	return &Plan{
		Ready:  readyIDs,
		Chains: SerialChains(tasks),
		Cycles: cycles,
	}, nil
}

// ReadySet returns the tasks that may be dispatched now: READY state with
// every dependency resolving to an existing task in a satisfying state.
// A missing dependency makes the task unrunnable, not ready. The result is
// sorted lexicographically by ID so schedules are reproducible.
func ReadySet(tasks []*task.Task) []*task.Task {
	byID := make(map[task.ID]*task.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	var ready []*task.Task
	for _, t := range tasks {
		if t.State != task.StateReady {
			continue
		}
		satisfied := true
		for _, dep := range t.Dependencies {
			d, ok := byID[dep]
			if !ok || !d.State.SatisfiesDependency() {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, t)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].ID < ready[j].ID })
	return ready
}

// DetectCycles finds every dependency cycle among non-terminal tasks using a
// three-color depth-first search. Each cycle is reported once as an ordered
// path that closes on its lexicographically smallest member.
func DetectCycles(tasks []*task.Task) [][]task.ID {
	// Only non-terminal tasks can participate in a live cycle.
	graph := make(map[task.ID][]task.ID)
	var order []task.ID
	for _, t := range tasks {
		if t.State.IsTerminal() {
			continue
		}
		deps := make([]task.ID, 0, len(t.Dependencies))
		deps = append(deps, t.Dependencies...)
		sort.Slice(deps, func(i, j int) bool { return deps[i] < deps[j] })
		graph[t.ID] = deps
		order = append(order, t.ID)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[task.ID]int, len(graph))
	var stack []task.ID
	var cycles [][]task.ID
	seen := make(map[string]bool)

	var visit func(id task.ID)
	visit = func(id task.ID) {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range graph[id] {
			if _, inGraph := graph[dep]; !inGraph {
				continue // terminal or missing; cannot close a cycle
			}
			switch color[dep] {
			case white:
				visit(dep)
			case gray:
				// dep is on the current path: the cycle runs from dep's
				// position on the stack through id.
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				cycle := normalizeCycle(stack[start:])
				key := cycleKey(cycle)
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, cycle)
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, id := range order {
		if color[id] == white {
			visit(id)
		}
	}
	return cycles
}

// normalizeCycle rotates the cycle so it starts at its smallest member and
// appends the start again to close the path.
func normalizeCycle(path []task.ID) []task.ID {
	smallest := 0
	for i, id := range path {
		if id < path[smallest] {
			smallest = i
		}
	}
	cycle := make([]task.ID, 0, len(path)+1)
	cycle = append(cycle, path[smallest:]...)
	cycle = append(cycle, path[:smallest]...)
	cycle = append(cycle, cycle[0])
	return cycle
}

func cycleKey(cycle []task.ID) string {
	parts := make([]string, len(cycle))
	for i, id := range cycle {
		parts[i] = string(id)
	}
	return strings.Join(parts, "->")
}

// SerialChains finds every maximal serial chain among non-terminal tasks:
// paths t0 -> t1 -> ... -> tk where each link's sole live dependent is the
// next task and the next task's sole live dependency is its predecessor.
// Only chains of length two or more are reported, head first, sorted by
// head ID.
func SerialChains(tasks []*task.Task) [][]task.ID {
	live := make(map[task.ID]*task.Task)
	for _, t := range tasks {
		if !t.State.IsTerminal() {
			live[t.ID] = t
		}
	}

	// dependents[x] = live tasks that depend on x.
	dependents := make(map[task.ID][]task.ID)
	for id, t := range live {
		for _, dep := range t.Dependencies {
			if _, ok := live[dep]; ok {
				dependents[dep] = append(dependents[dep], id)
			}
		}
	}

	// next[x] = y iff y is x's only live dependent and x is y's only live
	// dependency.
	next := make(map[task.ID]task.ID)
	hasPrev := make(map[task.ID]bool)
	for id := range live {
		deps := dependents[id]
		if len(deps) != 1 {
			continue
		}
		succ := deps[0]
		liveDeps := 0
		for _, d := range live[succ].Dependencies {
			if _, ok := live[d]; ok {
				liveDeps++
			}
		}
		if liveDeps != 1 {
			continue
		}
		next[id] = succ
		hasPrev[succ] = true
	}

	var heads []task.ID
	for id := range next {
		if !hasPrev[id] {
			heads = append(heads, id)
		}
	}
	sort.Slice(heads, func(i, j int) bool { return heads[i] < heads[j] })

	var chains [][]task.ID
	for _, head := range heads {
		chain := []task.ID{head}
		for id, ok := next[chain[len(chain)-1]]; ok; id, ok = next[chain[len(chain)-1]] {
			chain = append(chain, id)
		}
		if len(chain) >= 2 {
			chains = append(chains, chain)
		}
	}
	return chains
}

// ParallelBatch selects up to slots ready tasks that are not part of any
// serial chain, smallest IDs first. Chain members are excluded because a
// chain is dispatched as a unit through the serial executor.
func (p *Plan) ParallelBatch(slots int) []task.ID {
	if slots <= 0 {
		return nil
	}
	inChain := make(map[task.ID]bool)
	for _, chain := range p.Chains {
		for _, id := range chain {
			inChain[id] = true
		}
	}
	var batch []task.ID
	for _, id := range p.Ready {
		if inChain[id] {
			continue
		}
		batch = append(batch, id)
		if len(batch) == slots {
			break
		}
	}
	return batch
}

// ReadyChains returns the chains whose head is in the ready set, so the
// caller can dispatch them to the serial executor.
func (p *Plan) ReadyChains() [][]task.ID {
	readySet := make(map[task.ID]bool, len(p.Ready))
	for _, id := range p.Ready {
		readySet[id] = true
	}
	var chains [][]task.ID
	for _, chain := range p.Chains {
		if readySet[chain[0]] {
			chains = append(chains, chain)
		}
	}
	return chains
}

// Validate returns an error when the plan shows a stuck graph: cycles exist
// and nothing is dispatchable.
func (p *Plan) Validate() error {
	if len(p.Cycles) > 0 && len(p.Ready) == 0 && len(p.Chains) == 0 {
		return errors.NewTaskError("dependency graph is stuck on a cycle", errors.ErrDependencyCycle)
	}
	return nil
}
