package member

import "github.com/pingcap/errors"

// Status is the lifecycle state of a member inside one cluster.
type Status int

const (
	StatusUnknown Status = iota
	StatusSynchronizing
	StatusReady
	StatusQuarantined
	StatusRemoved
)

// Statuses lists every status in state machine order.
var Statuses = []Status{
	StatusUnknown,
	StatusSynchronizing,
	StatusReady,
	StatusQuarantined,
	StatusRemoved,
}

var transitions = map[Status][]Status{
	StatusUnknown:       {StatusSynchronizing},
	StatusSynchronizing: {StatusReady, StatusRemoved},
	StatusReady:         {StatusQuarantined, StatusRemoved},
}

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "UNKNOWN"
	case StatusSynchronizing:
		return "SYNCHRONIZING"
	case StatusReady:
		return "READY"
	case StatusQuarantined:
		return "QUARANTINED"
	case StatusRemoved:
		return "REMOVED"
	}
	return "INVALID"
}

// MarshalText lets statuses appear by name in JSON documents.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for _, st := range Statuses {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return errors.Errorf("member: unknown status %q", b)
}

// Active reports whether a member in this status belongs to the active set.
func (s Status) Active() bool {
	return s == StatusSynchronizing || s == StatusReady
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
