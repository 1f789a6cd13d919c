package cluster

import (
	"fmt"
	"strings"

	"github.com/coreos/etcd/pkg/types"

	"dbcluster/member"
)

// Size is the number of active members, ready or synchronizing.
func (c *Manager) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// Databases returns the active members in the order they joined.
func (c *Manager) Databases() []*member.Member {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*member.Member, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.members[id])
	}
	return out
}

func (c *Manager) ReadyDatabases() []*member.Member {
	var out []*member.Member
	for _, m := range c.Databases() {
		if m.Status() == member.StatusReady {
			out = append(out, m)
		}
	}
	return out
}

// RemovedDatabases returns the audit records of members that left, oldest
// first.
func (c *Manager) RemovedDatabases() []member.Removed {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]member.Removed, len(c.removed))
	copy(out, c.removed)
	return out
}

// Database returns the active member with the given ID.
func (c *Manager) Database(id types.ID) (*member.Member, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.members[id]
	return m, ok
}

// GetDatabaseStatus returns the status of an active member, the final
// status of one that left, or UNKNOWN for a database never seen.
func (c *Manager) GetDatabaseStatus(id types.ID) member.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.members[id]; ok {
		return m.Status()
	}
	for i := len(c.removed) - 1; i >= 0; i-- {
		if c.removed[i].ID == id {
			return c.removed[i].Status
		}
	}
	return member.StatusUnknown
}

func (c *Manager) GetDatabaseStatuses() map[types.ID]member.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[types.ID]member.Status, len(c.members))
	for id, m := range c.members {
		out[id] = m.Status()
	}
	return out
}

// GetClusterStatus renders one line per status, in state machine order:
//
//	READY Databases: 2 of 3
func (c *Manager) GetClusterStatus() string {
	statuses := c.GetDatabaseStatuses()
	counts := make(map[member.Status]int, len(member.Statuses))
	for _, s := range statuses {
		counts[s]++
	}
	lines := make([]string, 0, len(member.Statuses))
	for _, s := range member.Statuses {
		lines = append(lines, fmt.Sprintf("%s Databases: %d of %d", s, counts[s], len(statuses)))
	}
	return strings.Join(lines, "\n")
}
