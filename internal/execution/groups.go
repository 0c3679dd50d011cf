package execution

import "sync"

// groupSet tracks the process group ids of running children.
type groupSet struct {
	mu   sync.Mutex
	pids map[int]struct{}
}

func newGroupSet() *groupSet {
	return &groupSet{pids: make(map[int]struct{})}
}

func (g *groupSet) add(pid int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pids[pid] = struct{}{}
}

func (g *groupSet) remove(pid int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pids, pid)
}

func (g *groupSet) snapshot() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]int, 0, len(g.pids))
	for pid := range g.pids {
		out = append(out, pid)
	}
	return out
}
