// Package admission decides, once per fixed tick, how many queued snapshots to apply.
//
// The skip budget is a credit earned on ticks that find the queue empty. While credit remains,
// a backlog is consumed one buffer per tick so that playback stays smooth across jitter. Once
// the credit is gone and a backlog of two or more buffers has built up, the whole backlog is
// applied in one tick so that no discrete event is ever dropped.
package admission

// Decision is the outcome of one tick.
type Decision struct {
	Apply   int  // buffers to apply from the front of the queue, oldest first
	CatchUp bool // the whole backlog is applied in this tick
}

// Idle reports whether the tick runs without authoritative data.
func (d Decision) Idle() bool {
	return d.Apply == 0
}

// Policy is the skip-budget state machine. It is deterministic: the same sequence of queue
// lengths always yields the same sequence of decisions. It is not safe for concurrent use.
type Policy struct {
	budget int
	limit  int
}

// New creates a policy. A limit of zero leaves the skip budget unbounded.
func New(limit int) *Policy {
	return &Policy{limit: max(limit, 0)}
}

// Budget returns the current skip budget.
func (p *Policy) Budget() int {
	return p.budget
}

// Decide consumes the queue length observed at the start of a tick and returns how to spend it.
func (p *Policy) Decide(queued int) Decision {
	if queued <= 0 {
		p.budget++
		if p.limit > 0 && p.budget > p.limit {
			p.budget = p.limit
		}
		return Decision{}
	}

	if p.budget == 0 && queued >= 2 {
		return Decision{Apply: queued, CatchUp: true}
	}

	p.budget--
	if queued == 1 || p.budget < 0 {
		p.budget = 0
	}
	return Decision{Apply: 1}
}

// Reset drops any banked credit.
func (p *Policy) Reset() {
	p.budget = 0
}
