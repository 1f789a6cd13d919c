package cluster

import (
	"time"

	"dbcluster/member"
)

// Synchronised reports whether every active member is ready.
func (c *Manager) Synchronised() bool {
	if c.dismantled.Get() {
		return false
	}
	for _, m := range c.Databases() {
		if m.Status() != member.StatusReady {
			return false
		}
	}
	return true
}

func (c *Manager) interval() time.Duration {
	if d := c.cfg.WaitInterval.Duration; d > 0 {
		return d
	}
	return 100 * time.Millisecond
}

// WaitUntilSynchronised polls until every member is ready or timeout
// passes. It never fails; a false result is inspected through the status
// queries.
func (c *Manager) WaitUntilSynchronised(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if c.Synchronised() {
			return true
		}
		if c.dismantled.Get() || !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(c.interval())
	}
}

// WaitUntilSynchronisedAttempts polls at most attempts times, the configured
// number when attempts is not positive.
func (c *Manager) WaitUntilSynchronisedAttempts(attempts int) bool {
	if attempts <= 0 {
		attempts = c.cfg.WaitAttempts
	}
	for i := 0; i < attempts; i++ {
		if c.Synchronised() {
			return true
		}
		time.Sleep(c.interval())
	}
	return c.Synchronised()
}

// WaitUntilDatabaseIsSynchronised polls until m is ready. It gives up early
// once m has left the cluster.
func (c *Manager) WaitUntilDatabaseIsSynchronised(m *member.Member, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		switch m.Status() {
		case member.StatusReady:
			return true
		case member.StatusQuarantined, member.StatusRemoved:
			return false
		}
		if c.dismantled.Get() || !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(c.interval())
	}
}
