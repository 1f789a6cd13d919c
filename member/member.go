package member

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/etcd/pkg/types"
	"github.com/pingcap/errors"

	"dbcluster/journal"
)

// Descriptor holds what is needed to reconnect to a member after a restart.
// It never holds data.
type Descriptor struct {
	Label    string `toml:"label" json:"label" yaml:"label" validate:"required"`
	Driver   string `toml:"driver" json:"driver" yaml:"driver" validate:"required"`
	Addr     string `toml:"addr" json:"addr,omitempty" yaml:"addr,omitempty"`
	User     string `toml:"user" json:"user,omitempty" yaml:"user,omitempty"`
	Password string `toml:"password" json:"password,omitempty" yaml:"password,omitempty"`
	Database string `toml:"database" json:"database" yaml:"database" validate:"required"`

	// Quarantined marks a member that was quarantined on a previous run.
	Quarantined bool `toml:"quarantined" json:"quarantined,omitempty" yaml:"quarantined,omitempty"`
}

// ID identifies the backing database: the same driver, address and
// database always hash to the same ID whatever the label.
func (d Descriptor) ID() types.ID {
	var b []byte
	b = append(b, []byte(strings.ToLower(d.Driver))...)
	b = append(b, 0)
	b = append(b, []byte(strings.ToLower(d.Addr))...)
	b = append(b, 0)
	b = append(b, []byte(d.Database)...)

	hash := sha1.Sum(b)
	return types.ID(binary.BigEndian.Uint64(hash[:8]))
}

// Redacted returns a copy safe to log or serve.
func (d Descriptor) Redacted() Descriptor {
	if len(d.Password) > 0 {
		d.Password = "******"
	}
	return d
}

func (d Descriptor) String() string {
	if len(d.Addr) == 0 {
		return fmt.Sprintf("%s(%s:%s)", d.Label, d.Driver, d.Database)
	}
	return fmt.Sprintf("%s(%s://%s/%s)", d.Label, d.Driver, d.Addr, d.Database)
}

// Removed is the audit record left behind when a member leaves the cluster.
type Removed struct {
	ID         types.ID   `json:"id"`
	Label      string     `json:"label"`
	Descriptor Descriptor `json:"descriptor"`
	Status     Status     `json:"status"`
	Reason     string     `json:"reason,omitempty"`
	At         time.Time  `json:"at"`
}

// Member is one backing database taking part in a cluster.
type Member struct {
	id   types.ID
	desc Descriptor
	drv  Driver

	// applyMu serializes everything applied to the database and every
	// access to the journal.
	applyMu sync.Mutex

	mu      sync.RWMutex
	status  Status
	caps    map[string]bool
	journal *journal.Journal
}

func New(desc Descriptor, drv Driver) *Member {
	return &Member{
		id:     desc.ID(),
		desc:   desc,
		drv:    drv,
		status: StatusUnknown,
		caps:   make(map[string]bool),
	}
}

func (m *Member) ID() types.ID {
	return m.id
}

func (m *Member) Label() string {
	return m.desc.Label
}

func (m *Member) Descriptor() Descriptor {
	return m.desc
}

func (m *Member) Driver() Driver {
	return m.drv
}

func (m *Member) String() string {
	return m.desc.Label
}

// Lock takes the member's apply lock.
func (m *Member) Lock() {
	m.applyMu.Lock()
}

func (m *Member) Unlock() {
	m.applyMu.Unlock()
}

func (m *Member) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Journal returns the member's journal, nil unless it is synchronizing.
func (m *Member) Journal() *journal.Journal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.journal
}

// Transition moves the member along the state machine. Entering
// SYNCHRONIZING opens a fresh journal; leaving it discards the journal.
func (m *Member) Transition(to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

func (m *Member) transitionLocked(to Status) error {
	from := m.status
	if from == StatusQuarantined || from == StatusRemoved {
		return errors.Wrapf(ErrRetired, "%s is %s", m.desc.Label, from)
	}
	if !CanTransition(from, to) {
		return errors.Wrapf(ErrInvalidTransition, "%s: %s -> %s", m.desc.Label, from, to)
	}
	switch to {
	case StatusSynchronizing:
		m.journal = journal.New()
	default:
		if m.journal != nil {
			m.journal.Close()
			m.journal = nil
		}
	}
	m.status = to
	return nil
}

// Retire moves the member to QUARANTINED or REMOVED and returns the audit
// record. The member accepts no transition afterwards.
func (m *Member) Retire(to Status, reason error) (Removed, error) {
	if to != StatusQuarantined && to != StatusRemoved {
		return Removed{}, errors.Wrapf(ErrInvalidTransition, "cannot retire %s as %s", m.desc.Label, to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transitionLocked(to); err != nil {
		return Removed{}, errors.Trace(err)
	}
	r := Removed{
		ID:         m.id,
		Label:      m.desc.Label,
		Descriptor: m.desc.Redacted(),
		Status:     to,
		At:         time.Now(),
	}
	if reason != nil {
		r.Reason = reason.Error()
	}
	return r, nil
}

// LoadCapabilities asks the driver for its capability flags.
func (m *Member) LoadCapabilities() error {
	caps, err := m.drv.Capabilities()
	if err != nil {
		return errors.Trace(err)
	}
	copied := make(map[string]bool, len(caps))
	for k, v := range caps {
		copied[k] = v
	}
	m.mu.Lock()
	m.caps = copied
	m.mu.Unlock()
	return nil
}

func (m *Member) Capabilities() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	caps := make(map[string]bool, len(m.caps))
	for k, v := range m.caps {
		caps[k] = v
	}
	return caps
}

// Capability returns a flag; flags the driver never declared are false.
func (m *Member) Capability(flag string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.caps[flag]
}
