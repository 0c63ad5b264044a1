package app

import (
	"sort"
	"time"

	"vest_tracker/internal/domain/cycle"
)

// cycleChain is the in-memory, chronologically ordered view of a subject's
// cycles. Cascades read predecessors from it instead of re-querying storage,
// so values written earlier in the same cascade are always seen.
type cycleChain struct {
	cycles []*cycle.Cycle
}

func newCycleChain(cycles []*cycle.Cycle) *cycleChain {
	ch := &cycleChain{cycles: cycles}
	ch.sort()
	return ch
}

func (ch *cycleChain) sort() {
	sort.SliceStable(ch.cycles, func(i, j int) bool {
		a, b := ch.cycles[i], ch.cycles[j]
		if a.OnahStart.Equal(b.OnahStart) {
			return a.ID < b.ID
		}
		return a.OnahStart.Before(b.OnahStart)
	})
}

func (ch *cycleChain) find(id int64) *cycle.Cycle {
	for _, c := range ch.cycles {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (ch *cycleChain) insert(c *cycle.Cycle) {
	ch.cycles = append(ch.cycles, c)
	ch.sort()
}

func (ch *cycleChain) remove(id int64) {
	out := ch.cycles[:0]
	for _, c := range ch.cycles {
		if c.ID != id {
			out = append(out, c)
		}
	}
	ch.cycles = out
}

// before returns the cycles starting strictly before instant, oldest first,
// leaving out skipID.
func (ch *cycleChain) before(instant time.Time, skipID int64) []*cycle.Cycle {
	out := make([]*cycle.Cycle, 0)
	for _, c := range ch.cycles {
		if c.ID != skipID && c.OnahStart.Before(instant) {
			out = append(out, c)
		}
	}
	return out
}

// predecessorOf returns the closest cycle starting before instant.
func (ch *cycleChain) predecessorOf(instant time.Time, skipID int64) *cycle.Cycle {
	prior := ch.before(instant, skipID)
	if len(prior) == 0 {
		return nil
	}
	return prior[len(prior)-1]
}

// after returns the cycles starting strictly after anchor, oldest first.
func (ch *cycleChain) after(anchor time.Time, skipID int64) []*cycle.Cycle {
	out := make([]*cycle.Cycle, 0)
	for _, c := range ch.cycles {
		if c.ID != skipID && c.OnahStart.After(anchor) {
			out = append(out, c)
		}
	}
	return out
}

// active returns the in-progress cycles.
func (ch *cycleChain) active() []*cycle.Cycle {
	out := make([]*cycle.Cycle, 0, 1)
	for _, c := range ch.cycles {
		if c.IsActive() {
			out = append(out, c)
		}
	}
	return out
}

func (ch *cycleChain) ids() []int64 {
	out := make([]int64, len(ch.cycles))
	for i, c := range ch.cycles {
		out[i] = c.ID
	}
	return out
}
