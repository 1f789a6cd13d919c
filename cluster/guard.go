package cluster

import (
	"github.com/pingcap/errors"

	"dbcluster/log"
	"dbcluster/member"
)

// checkLivenessLocked refuses to take m out when it is the last member, or
// the last ready one: a synchronizing member is not a copy of the data yet.
func (c *Manager) checkLivenessLocked(m *member.Member) error {
	active, ready := 0, 0
	for _, other := range c.members {
		switch other.Status() {
		case member.StatusReady:
			ready++
			active++
		case member.StatusSynchronizing:
			active++
		}
	}
	status := m.Status()
	if status.Active() && active <= 1 {
		return errors.Wrapf(ErrUnableToRemoveLastDatabase, "%s is the last database", m)
	}
	if status == member.StatusReady && ready <= 1 {
		return errors.Wrapf(ErrUnableToRemoveLastDatabase, "%s is the last ready database", m)
	}
	return nil
}

// onMemberFailure quarantines a ready member that failed to apply an action.
// It reports false without error when m was already taken out.
func (c *Manager) onMemberFailure(m *member.Member, cause error) (bool, error) {
	c.mu.Lock()
	if c.dismantled.Get() {
		c.mu.Unlock()
		return false, ErrDismantled
	}
	if c.members[m.ID()] != m || m.Status() != member.StatusReady {
		c.mu.Unlock()
		return false, nil
	}
	if err := c.checkLivenessLocked(m); err != nil {
		c.mu.Unlock()
		log.Log.Errorf("cluster %s: %s failed and cannot be quarantined: %v", c.cfg.Name, m, cause)
		return false, errors.Trace(err)
	}
	rec, err := m.Retire(member.StatusQuarantined, cause)
	if err != nil {
		c.mu.Unlock()
		return false, errors.Trace(err)
	}
	c.detachLocked(m, rec)
	c.mu.Unlock()

	c.metrics.Quarantined()
	if !c.cfg.QuietErrors {
		log.Log.Warnf("cluster %s: quarantined %s: %v", c.cfg.Name, m, cause)
	}
	c.closeDriver(m)
	return true, nil
}
