package reconcile

import (
	"fmt"
	"sync"
)

// Counters captures how the two channels have been feeding the merge.
type Counters struct {
	mu         sync.Mutex
	pushes     int
	polls      int
	applied    int
	suppressed int
}

func (c *Counters) IncPush()       { c.mu.Lock(); c.pushes++; c.mu.Unlock() }
func (c *Counters) IncPoll()       { c.mu.Lock(); c.polls++; c.mu.Unlock() }
func (c *Counters) IncApplied()    { c.mu.Lock(); c.applied++; c.mu.Unlock() }
func (c *Counters) IncSuppressed() { c.mu.Lock(); c.suppressed++; c.mu.Unlock() }

func (c *Counters) Snapshot() CountersSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CountersSnapshot{Pushes: c.pushes, Polls: c.polls, Applied: c.applied, Suppressed: c.suppressed}
}

// CountersSnapshot is printed in `/stats` command output.
type CountersSnapshot struct {
	Pushes     int
	Polls      int
	Applied    int
	Suppressed int
}

func (s CountersSnapshot) String() string {
	return fmt.Sprintf("pushes=%d polls=%d applied=%d suppressed=%d", s.Pushes, s.Polls, s.Applied, s.Suppressed)
}
