package cluster

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/coreos/etcd/pkg/types"
	"github.com/pingcap/errors"
	"github.com/siddontang/go/sync2"

	"dbcluster/action"
	"dbcluster/config"
	"dbcluster/log"
	"dbcluster/member"
	"dbcluster/metrics"
	"dbcluster/sink"
	"dbcluster/storage"
	"dbcluster/syncer"
)

// Manager presents a set of databases as one: every mutation is applied to
// every ready member, new members are brought up to date in the background
// and failing members are quarantined while at least one good copy remains.
type Manager struct {
	cfg     *config.ClusterConfig
	store   storage.Store
	open    OpenFunc
	rules   *syncer.Rules
	syncer  *syncer.Synchronizer
	metrics *metrics.Metrics

	explicit []*member.Member

	// mu guards membership. Broadcasts hold it shared, membership changes
	// hold it exclusively.
	mu          sync.RWMutex
	members     map[types.ID]*member.Member
	order       []types.ID
	removed     []member.Removed
	quarantined map[types.ID]member.Descriptor
	caps        map[string]bool

	// syncMu serializes synchronizations.
	syncMu sync.Mutex

	dismantled sync2.AtomicBool
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

type startEntry struct {
	m       *member.Member
	desc    member.Descriptor
	rebuild bool
}

// NewManager builds the cluster cfg describes and connects its startup
// members: the first one synchronously, the others in the background.
func NewManager(cfg *config.ClusterConfig, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	c := &Manager{
		cfg:         cfg,
		open:        sink.Open,
		metrics:     metrics.New(),
		members:     make(map[types.ID]*member.Member),
		quarantined: make(map[types.ID]member.Descriptor),
		caps:        make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.syncer = syncer.NewSynchronizer(c.metrics)
	c.ctx, c.cancel = context.WithCancel(context.Background())

	var err error
	if c.rules, err = syncer.NewRules(cfg.Tables...); err != nil {
		c.Dismantle()
		return nil, errors.Trace(err)
	}
	if !cfg.Persistent() {
		c.store = nil
	} else if c.store == nil {
		if c.store, err = storage.Open(cfg); err != nil {
			c.Dismantle()
			return nil, errors.Trace(err)
		}
	}

	entries, err := c.startEntries()
	if err != nil {
		c.Dismantle()
		return nil, errors.Trace(err)
	}
	if err = c.start(entries); err != nil {
		c.Dismantle()
		return nil, errors.Trace(err)
	}
	return c, nil
}

// startEntries collects the members to start with, explicit ones first, then
// configured ones, then persisted ones, the first of each database winning.
func (c *Manager) startEntries() ([]startEntry, error) {
	var entries []startEntry
	seen := make(map[types.ID]struct{})
	push := func(e startEntry) {
		id := e.desc.ID()
		if e.m != nil {
			id = e.m.ID()
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		entries = append(entries, e)
	}

	for _, m := range c.explicit {
		push(startEntry{m: m, desc: m.Descriptor()})
	}
	if c.cfg.Has(config.ModeAutoStart) {
		for _, d := range c.cfg.Members {
			push(startEntry{desc: d})
		}
	}

	if !c.cfg.Has(config.ModeAutoConnect) && !c.cfg.Has(config.ModeAutoRebuild) {
		return entries, nil
	}
	snap, err := c.store.Load(c.cfg.Name)
	if errors.Cause(err) == storage.ErrNotFound {
		if len(entries) == 0 {
			return nil, errors.Wrapf(ErrNoConfigurationFound, "cluster %s", c.cfg.Name)
		}
		log.Log.Infof("cluster %s: nothing persisted yet", c.cfg.Name)
		return entries, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load cluster %s", c.cfg.Name)
	}

	for _, t := range snap.Tables {
		if _, ok := c.rules.Get(t.Name); ok {
			continue
		}
		if err := c.rules.Add(t); err != nil {
			return nil, errors.Trace(err)
		}
	}
	for _, d := range snap.Active() {
		push(startEntry{desc: d})
	}
	for _, d := range snap.Quarantined() {
		d.Quarantined = false
		if c.cfg.Has(config.ModeAutoRebuild) {
			push(startEntry{desc: d, rebuild: true})
		} else if _, ok := seen[d.ID()]; !ok {
			// kept for a later rebuild
			c.quarantined[d.ID()] = d
		}
	}
	return entries, nil
}

func (c *Manager) start(entries []startEntry) error {
	var firstErr error
	seeded := false
	for _, e := range entries {
		m := e.m
		if m == nil {
			drv, err := c.open(e.desc)
			if err != nil {
				log.Log.Warnf("cluster %s: connect %s: %v", c.cfg.Name, e.desc.Redacted(), err)
				c.recordUnreachable(e, err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			m = member.New(e.desc, drv)
		}

		if !seeded {
			// the seed never drops its tables, it is the copy others read
			if err := c.addAndSync(m, false); err != nil {
				return errors.Wrapf(err, "seed %s", m)
			}
			seeded = true
			continue
		}
		if err := c.add(m, e.rebuild); err != nil {
			return errors.Trace(err)
		}
	}
	if !seeded && firstErr != nil {
		return errors.Trace(firstErr)
	}
	return nil
}

// recordUnreachable keeps a database that could not be reached at startup
// as quarantined, so a later auto-rebuild retries it.
func (c *Manager) recordUnreachable(e startEntry, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = append(c.removed, member.Removed{
		ID:         e.desc.ID(),
		Label:      e.desc.Label,
		Descriptor: e.desc.Redacted(),
		Status:     member.StatusQuarantined,
		Reason:     cause.Error(),
		At:         time.Now(),
	})
	c.quarantined[e.desc.ID()] = e.desc
	c.persistLocked()
}

func (c *Manager) Name() string {
	return c.cfg.Name
}

func (c *Manager) Config() *config.ClusterConfig {
	return c.cfg
}

func (c *Manager) Metrics() *metrics.Metrics {
	return c.metrics
}

// AddDatabase registers m and synchronizes it in the background.
func (c *Manager) AddDatabase(m *member.Member) error {
	return errors.Trace(c.add(m, false))
}

// AddDatabaseAndWait registers m and synchronizes it before returning.
func (c *Manager) AddDatabaseAndWait(m *member.Member) error {
	return errors.Trace(c.addAndSync(m, false))
}

// Connect opens the database desc names and adds it.
func (c *Manager) Connect(desc member.Descriptor) (*member.Member, error) {
	return c.connect(desc, false)
}

func (c *Manager) ConnectAndWait(desc member.Descriptor) (*member.Member, error) {
	return c.connect(desc, true)
}

func (c *Manager) connect(desc member.Descriptor, wait bool) (*member.Member, error) {
	if c.dismantled.Get() {
		return nil, ErrDismantled
	}
	desc.Quarantined = false
	drv, err := c.open(desc)
	if err != nil {
		return nil, errors.Trace(err)
	}
	m := member.New(desc, drv)
	if wait {
		err = c.addAndSync(m, false)
	} else {
		err = c.add(m, false)
	}
	if err != nil && m.Status() == member.StatusUnknown {
		// never registered
		drv.Close()
	}
	return m, errors.Trace(err)
}

func (c *Manager) add(m *member.Member, rebuild bool) error {
	if err := c.register(m); err != nil {
		return errors.Trace(err)
	}
	go func() {
		defer c.wg.Done()
		if err := c.synchronize(m, rebuild); err != nil {
			log.Log.Warnf("cluster %s: synchronize %s: %v", c.cfg.Name, m, err)
		}
	}()
	return nil
}

func (c *Manager) addAndSync(m *member.Member, rebuild bool) error {
	if err := c.register(m); err != nil {
		return errors.Trace(err)
	}
	defer c.wg.Done()
	return errors.Trace(c.synchronize(m, rebuild))
}

// register makes m visible to broadcasts as SYNCHRONIZING. No broadcast is
// in flight while it happens, so m's journal misses nothing applied after
// the copy starts. The caller owes c.wg.Done once m's synchronization ends.
func (c *Manager) register(m *member.Member) error {
	if err := m.LoadCapabilities(); err != nil {
		return errors.Wrapf(err, "capabilities of %s", m)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dismantled.Get() {
		return ErrDismantled
	}
	if _, ok := c.members[m.ID()]; ok {
		return errors.Wrapf(ErrDatabaseExists, "%s", m)
	}
	if err := m.Transition(member.StatusSynchronizing); err != nil {
		return errors.Trace(err)
	}
	c.wg.Add(1)
	c.members[m.ID()] = m
	c.order = append(c.order, m.ID())
	delete(c.quarantined, m.ID())
	c.membershipChangedLocked()
	log.Log.Infof("cluster %s: added %s", c.cfg.Name, m.Descriptor().Redacted())
	return nil
}

func (c *Manager) synchronize(m *member.Member, rebuild bool) error {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	if m.Status() != member.StatusSynchronizing {
		return errors.Errorf("%s is %s", m, m.Status())
	}
	ref := c.reference(m)
	err := c.syncer.Synchronize(c.ctx, m, ref, c.rules.Tables(), rebuild && ref != nil)
	if err != nil {
		c.onSyncFailure(m, err)
		return errors.Trace(err)
	}

	c.mu.Lock()
	c.recomputeCapabilitiesLocked()
	c.mu.Unlock()
	return nil
}

// reference picks the ready member m copies from, nil for a seed.
func (c *Manager) reference(m *member.Member) *member.Member {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range c.order {
		other := c.members[id]
		if other != m && other.Status() == member.StatusReady {
			return other
		}
	}
	if len(c.members) > 1 {
		log.Log.Warnf("cluster %s: no ready member to copy %s from", c.cfg.Name, m)
	}
	return nil
}

func (c *Manager) onSyncFailure(m *member.Member, cause error) {
	c.mu.Lock()
	if c.dismantled.Get() || c.members[m.ID()] != m {
		c.mu.Unlock()
		return
	}
	rec, err := m.Retire(member.StatusRemoved, cause)
	if err != nil {
		c.mu.Unlock()
		log.Log.Errorf("cluster %s: retire %s: %v", c.cfg.Name, m, err)
		return
	}
	if len(c.members) <= 1 {
		// the cluster empties; the persisted membership keeps m for a restart
		c.forgetLocked(m, rec)
		c.recomputeCapabilitiesLocked()
		c.metrics.SetActive(len(c.members))
		log.Log.Errorf("cluster %s: %s failed to synchronize and was the only database: %v", c.cfg.Name, m, cause)
	} else {
		c.detachLocked(m, rec)
	}
	c.mu.Unlock()

	c.metrics.Failure()
	c.closeDriver(m)
}

// RemoveDatabase takes m out of the cluster. The last member, or the last
// ready one, cannot be removed.
func (c *Manager) RemoveDatabase(m *member.Member) error {
	return errors.Trace(c.RemoveDatabaseByID(m.ID()))
}

func (c *Manager) RemoveDatabaseByID(id types.ID) error {
	c.mu.Lock()
	if c.dismantled.Get() {
		c.mu.Unlock()
		return ErrDismantled
	}
	m, ok := c.members[id]
	if !ok {
		c.mu.Unlock()
		return errors.Wrapf(ErrDatabaseNotFound, "%s", id)
	}
	if err := c.checkLivenessLocked(m); err != nil {
		c.mu.Unlock()
		return errors.Trace(err)
	}
	rec, err := m.Retire(member.StatusRemoved, nil)
	if err != nil {
		c.mu.Unlock()
		return errors.Trace(err)
	}
	c.detachLocked(m, rec)
	c.mu.Unlock()

	log.Log.Infof("cluster %s: removed %s", c.cfg.Name, m)
	c.closeDriver(m)
	return nil
}

// detachLocked drops a retired member from the active set.
func (c *Manager) detachLocked(m *member.Member, rec member.Removed) {
	c.forgetLocked(m, rec)
	c.membershipChangedLocked()
}

func (c *Manager) forgetLocked(m *member.Member, rec member.Removed) {
	delete(c.members, m.ID())
	for i, id := range c.order {
		if id == m.ID() {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
	c.removed = append(c.removed, rec)
	if rec.Status == member.StatusQuarantined {
		c.quarantined[m.ID()] = m.Descriptor()
	}
}

func (c *Manager) membershipChangedLocked() {
	c.recomputeCapabilitiesLocked()
	c.metrics.SetActive(len(c.members))
	c.persistLocked()
}

// persistLocked saves the descriptors of active and quarantined members and
// the tracked tables. A failed save is logged; membership already changed.
func (c *Manager) persistLocked() {
	if c.store == nil {
		return
	}
	snap := &storage.Snapshot{Tables: c.rules.Tables()}
	for _, id := range c.order {
		snap.Members = append(snap.Members, c.members[id].Descriptor())
	}
	quarantined := make([]member.Descriptor, 0, len(c.quarantined))
	for _, d := range c.quarantined {
		d.Quarantined = true
		quarantined = append(quarantined, d)
	}
	sort.Slice(quarantined, func(i, j int) bool { return quarantined[i].Label < quarantined[j].Label })
	snap.Members = append(snap.Members, quarantined...)
	if err := c.store.Save(c.cfg.Name, snap); err != nil {
		log.Log.Errorf("cluster %s: persist membership: %v", c.cfg.Name, err)
	}
}

func (c *Manager) persist() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.persistLocked()
}

func (c *Manager) closeDriver(m *member.Member) {
	m.Lock()
	defer m.Unlock()
	if err := m.Driver().Close(); err != nil {
		log.Log.Warnf("cluster %s: close %s: %v", c.cfg.Name, m, err)
	}
}

// TrackedTables returns the schemas created on every joining member.
func (c *Manager) TrackedTables() []*action.Table {
	return c.rules.Tables()
}

// Dismantle stops synchronizations and disconnects every member. Data and
// persisted membership are left alone, so a new cluster of the same name can
// reconnect. Later calls do nothing.
func (c *Manager) Dismantle() {
	c.cancel()

	c.mu.Lock()
	if c.dismantled.Get() {
		c.mu.Unlock()
		return
	}
	c.dismantled.Set(true)
	members := make([]*member.Member, 0, len(c.order))
	for _, id := range c.order {
		members = append(members, c.members[id])
	}
	c.members = make(map[types.ID]*member.Member)
	c.order = nil
	c.caps = make(map[string]bool)
	c.mu.Unlock()

	c.wg.Wait()
	for _, m := range members {
		m.Lock()
		if j := m.Journal(); j != nil {
			j.Close()
		}
		m.Unlock()
		c.closeDriver(m)
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			log.Log.Warnf("cluster %s: close store: %v", c.cfg.Name, err)
		}
	}
	c.metrics.SetActive(0)
	c.metrics.Stop()
	log.Log.Infof("cluster %s: dismantled", c.cfg.Name)
}

func (c *Manager) Dismantled() bool {
	return c.dismantled.Get()
}
