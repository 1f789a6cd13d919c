package metrics

import (
	"time"

	"github.com/rcrowley/go-metrics"
)

const (
	ActionsApplied   = "actions_applied"
	ActionsJournaled = "actions_journaled"
	MemberFailures   = "member_failures"
	Quarantines      = "quarantines"
	ActiveMembers    = "active_members"
	SyncDuration     = "sync_duration"
)

// Metrics are the counters of one cluster, kept in their own registry so
// that several clusters can live in one process.
type Metrics struct {
	Registry metrics.Registry

	actionsApplied   metrics.Meter
	actionsJournaled metrics.Meter
	memberFailures   metrics.Counter
	quarantines      metrics.Counter
	activeMembers    metrics.Gauge
	syncDuration     metrics.Timer
}

func New() *Metrics {
	m := &Metrics{
		Registry:         metrics.NewRegistry(),
		actionsApplied:   metrics.NewMeter(),
		actionsJournaled: metrics.NewMeter(),
		memberFailures:   metrics.NewCounter(),
		quarantines:      metrics.NewCounter(),
		activeMembers:    metrics.NewGauge(),
		syncDuration:     metrics.NewTimer(),
	}
	m.Registry.Register(ActionsApplied, m.actionsApplied)
	m.Registry.Register(ActionsJournaled, m.actionsJournaled)
	m.Registry.Register(MemberFailures, m.memberFailures)
	m.Registry.Register(Quarantines, m.quarantines)
	m.Registry.Register(ActiveMembers, m.activeMembers)
	m.Registry.Register(SyncDuration, m.syncDuration)
	return m
}

// Applied counts an action applied to a ready member.
func (m *Metrics) Applied() {
	m.actionsApplied.Mark(1)
}

// Journaled counts an action queued for a synchronizing member.
func (m *Metrics) Journaled() {
	m.actionsJournaled.Mark(1)
}

func (m *Metrics) Failure() {
	m.memberFailures.Inc(1)
}

func (m *Metrics) Quarantined() {
	m.quarantines.Inc(1)
}

func (m *Metrics) SetActive(n int) {
	m.activeMembers.Update(int64(n))
}

func (m *Metrics) ObserveSync(start time.Time) {
	m.syncDuration.UpdateSince(start)
}

// Snapshot returns the plain values, keyed by metric name.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		ActionsApplied:   m.actionsApplied.Count(),
		ActionsJournaled: m.actionsJournaled.Count(),
		MemberFailures:   m.memberFailures.Count(),
		Quarantines:      m.quarantines.Count(),
		ActiveMembers:    m.activeMembers.Value(),
		SyncDuration:     m.syncDuration.Count(),
	}
}

// Stop releases the meters.
func (m *Metrics) Stop() {
	m.actionsApplied.Stop()
	m.actionsJournaled.Stop()
}
