package member

import (
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbcluster/action"
)

type stubDriver struct {
	caps map[string]bool
	err  error
}

func (d *stubDriver) Execute(*action.Action) error           { return d.err }
func (d *stubDriver) TableExists(string) (bool, error)       { return false, d.err }
func (d *stubDriver) Capabilities() (map[string]bool, error) { return d.caps, d.err }
func (d *stubDriver) Rows(*action.Table) ([]action.Row, error) {
	return nil, d.err
}
func (d *stubDriver) Close() error { return nil }

func TestDescriptorID(t *testing.T) {
	a := Descriptor{Label: "a", Driver: "mysql", Addr: "127.0.0.1:3306", Database: "shop"}
	b := Descriptor{Label: "renamed", Driver: "MySQL", Addr: "127.0.0.1:3306", Database: "shop", Password: "x"}
	c := Descriptor{Label: "a", Driver: "mysql", Addr: "127.0.0.1:3306", Database: "other"}

	assert.Equal(t, a.ID(), b.ID())
	assert.NotEqual(t, a.ID(), c.ID())
	assert.Equal(t, "******", b.Redacted().Password)
	assert.Equal(t, "x", b.Password)
}

func TestStatusMachine(t *testing.T) {
	m := New(Descriptor{Label: "m", Driver: "memory", Database: "m"}, &stubDriver{})
	assert.Equal(t, StatusUnknown, m.Status())
	assert.Nil(t, m.Journal())

	err := m.Transition(StatusReady)
	assert.Equal(t, ErrInvalidTransition, errors.Cause(err))

	require.NoError(t, m.Transition(StatusSynchronizing))
	j := m.Journal()
	require.NotNil(t, j)

	require.NoError(t, m.Transition(StatusReady))
	assert.Nil(t, m.Journal())
	assert.True(t, j.Closed())

	err = m.Transition(StatusSynchronizing)
	assert.Equal(t, ErrInvalidTransition, errors.Cause(err))
}

func TestRetireIsTerminal(t *testing.T) {
	m := New(Descriptor{Label: "m", Driver: "memory", Database: "m"}, &stubDriver{})
	require.NoError(t, m.Transition(StatusSynchronizing))
	require.NoError(t, m.Transition(StatusReady))

	rec, err := m.Retire(StatusQuarantined, errors.New("disk full"))
	require.NoError(t, err)
	assert.Equal(t, StatusQuarantined, rec.Status)
	assert.Equal(t, "disk full", rec.Reason)
	assert.Equal(t, m.ID(), rec.ID)
	assert.False(t, rec.At.IsZero())

	err = m.Transition(StatusReady)
	assert.Equal(t, ErrRetired, errors.Cause(err))
	_, err = m.Retire(StatusRemoved, nil)
	assert.Equal(t, ErrRetired, errors.Cause(err))
	assert.Equal(t, StatusQuarantined, m.Status())
}

func TestRetireSynchronizingMemberAsQuarantinedIsRejected(t *testing.T) {
	m := New(Descriptor{Label: "m", Driver: "memory", Database: "m"}, &stubDriver{})
	require.NoError(t, m.Transition(StatusSynchronizing))

	_, err := m.Retire(StatusQuarantined, nil)
	assert.Equal(t, ErrInvalidTransition, errors.Cause(err))

	rec, err := m.Retire(StatusRemoved, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusRemoved, rec.Status)
}

func TestCapabilities(t *testing.T) {
	drv := &stubDriver{caps: map[string]bool{CapNullDistinctFromEmpty: true}}
	m := New(Descriptor{Label: "m", Driver: "memory", Database: "m"}, drv)
	assert.False(t, m.Capability(CapNullDistinctFromEmpty))

	require.NoError(t, m.LoadCapabilities())
	assert.True(t, m.Capability(CapNullDistinctFromEmpty))
	assert.False(t, m.Capability("unknown"))

	caps := m.Capabilities()
	caps[CapNullDistinctFromEmpty] = false
	assert.True(t, m.Capability(CapNullDistinctFromEmpty))

	drv.err = errors.New("gone")
	assert.Error(t, m.LoadCapabilities())
}

func TestStatusStrings(t *testing.T) {
	names := make([]string, 0, len(Statuses))
	for _, s := range Statuses {
		names = append(names, s.String())
	}
	assert.Equal(t, []string{"UNKNOWN", "SYNCHRONIZING", "READY", "QUARANTINED", "REMOVED"}, names)
	assert.True(t, StatusReady.Active())
	assert.False(t, StatusQuarantined.Active())
}

func TestStatusText(t *testing.T) {
	for _, s := range Statuses {
		b, err := s.MarshalText()
		require.NoError(t, err)
		var got Status
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, s, got)
	}
	var s Status
	assert.Error(t, s.UnmarshalText([]byte("LOST")))
}
