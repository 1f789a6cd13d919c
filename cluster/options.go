package cluster

import (
	"dbcluster/member"
	"dbcluster/storage"
)

// OpenFunc connects to the database a descriptor names.
type OpenFunc func(desc member.Descriptor) (member.Driver, error)

type Option func(*Manager)

// WithStore persists membership in s instead of the configured store.
func WithStore(s storage.Store) Option {
	return func(c *Manager) {
		c.store = s
	}
}

// WithOpener replaces the driver registry used to connect descriptors.
func WithOpener(open OpenFunc) Option {
	return func(c *Manager) {
		c.open = open
	}
}

// WithMembers starts the cluster with already connected members. They take
// precedence over configured or persisted descriptors naming the same
// database.
func WithMembers(ms ...*member.Member) Option {
	return func(c *Manager) {
		c.explicit = append(c.explicit, ms...)
	}
}
