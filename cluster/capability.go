package cluster

import "dbcluster/member"

// recomputeCapabilitiesLocked folds the flags of active members with AND. A
// member that does not declare a flag lacks it.
func (c *Manager) recomputeCapabilitiesLocked() {
	caps := make(map[string]bool)
	if len(c.members) == 0 {
		c.caps = caps
		return
	}
	for _, m := range c.members {
		for flag := range m.Capabilities() {
			caps[flag] = true
		}
	}
	for flag := range caps {
		for _, m := range c.members {
			if !m.Capability(flag) {
				caps[flag] = false
				break
			}
		}
	}
	c.caps = caps
}

// Capability reports whether every active member has flag. An empty
// cluster has no capability.
func (c *Manager) Capability(flag string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.caps[flag]
}

// Capabilities returns the aggregated flags.
func (c *Manager) Capabilities() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]bool, len(c.caps))
	for k, v := range c.caps {
		out[k] = v
	}
	return out
}

// SupportsDifferenceBetweenNullAndEmptyString reports whether every member
// stores "" and NULL as different values.
func (c *Manager) SupportsDifferenceBetweenNullAndEmptyString() bool {
	return c.Capability(member.CapNullDistinctFromEmpty)
}
