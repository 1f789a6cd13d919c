package cluster

import (
	"sync"

	"github.com/pingcap/errors"

	"dbcluster/action"
	"dbcluster/log"
	"dbcluster/member"
)

type applyResult struct {
	m        *member.Member
	ready    bool
	deferred bool
	err      error
}

// Apply broadcasts a to the cluster: ready members apply it concurrently,
// each under its own apply lock, then synchronizing members journal it.
// Members that fail while another ready member succeeded are quarantined
// and, unless SurfaceQuarantineErrors is set, their error is absorbed. When
// no ready member succeeds the first error is returned, nothing is journaled
// and membership is unchanged.
func (c *Manager) Apply(a *action.Action) error {
	_, err := c.broadcast(a)
	return errors.Trace(err)
}

// broadcast applies a and returns how many members applied or journaled it.
func (c *Manager) broadcast(a *action.Action) (int, error) {
	if a == nil {
		return 0, errors.New("cluster: nil action")
	}

	c.mu.RLock()
	if c.dismantled.Get() {
		c.mu.RUnlock()
		return 0, ErrDismantled
	}
	if len(c.members) == 0 {
		c.mu.RUnlock()
		return 0, errors.Wrapf(ErrNoDatabases, "cluster %s", c.cfg.Name)
	}
	ms := make([]*member.Member, len(c.order))
	for i, id := range c.order {
		ms[i] = c.members[id]
	}
	results := make([]applyResult, len(ms))
	c.fanOut(ms, a, false, results)

	tried, succeeded := 0, 0
	for _, r := range results {
		if r.ready {
			tried++
			if r.err == nil {
				succeeded++
			}
		}
	}
	// a journal only takes what some ready member applied, or everything
	// while the cluster is still seeding
	if tried == 0 || succeeded > 0 {
		pending := make([]*member.Member, len(ms))
		for i, r := range results {
			if r.deferred {
				pending[i] = r.m
			}
		}
		c.fanOut(pending, a, true, results)
	}
	c.mu.RUnlock()

	succeeded, reached := 0, 0
	var failed []applyResult
	for _, r := range results {
		switch {
		case r.deferred:
		case r.err == nil && r.ready:
			succeeded++
			reached++
		case r.err == nil:
			reached++
		case r.ready:
			failed = append(failed, r)
		default:
			log.Log.Warnf("cluster %s: journal %s for %s: %v", c.cfg.Name, a, r.m, r.err)
		}
	}
	if len(failed) == 0 {
		return reached, nil
	}
	for range failed {
		c.metrics.Failure()
	}
	if succeeded == 0 {
		return reached, errors.Trace(failed[0].err)
	}

	var surfaced error
	for _, r := range failed {
		quarantined, err := c.onMemberFailure(r.m, r.err)
		if err != nil {
			// the failure is no longer member local
			return reached, errors.Trace(r.err)
		}
		if quarantined && c.cfg.SurfaceQuarantineErrors && surfaced == nil {
			surfaced = r.err
		}
	}
	return reached, errors.Trace(surfaced)
}

// fanOut runs applyTo on every non nil member of ms concurrently, storing
// each result at the member's index.
func (c *Manager) fanOut(ms []*member.Member, a *action.Action, journal bool, results []applyResult) {
	var wg sync.WaitGroup
	for i, m := range ms {
		if m == nil {
			continue
		}
		wg.Add(1)
		go func(i int, m *member.Member) {
			defer wg.Done()
			results[i] = c.applyTo(m, a, journal)
		}(i, m)
	}
	wg.Wait()
}

// applyTo executes a on a ready member. A synchronizing member journals a
// when journal is set and otherwise reports the result deferred.
func (c *Manager) applyTo(m *member.Member, a *action.Action, journal bool) applyResult {
	m.Lock()
	defer m.Unlock()

	switch m.Status() {
	case member.StatusReady:
		if err := m.Driver().Execute(a); err != nil {
			return applyResult{m: m, ready: true, err: errors.Wrapf(err, "%s on %s", a, m)}
		}
		c.metrics.Applied()
		return applyResult{m: m, ready: true}
	case member.StatusSynchronizing:
		if !journal {
			return applyResult{m: m, deferred: true}
		}
		j := m.Journal()
		if j == nil {
			return applyResult{m: m, err: errors.Errorf("%s has no journal", m)}
		}
		if err := j.Append(a); err != nil {
			return applyResult{m: m, err: errors.Trace(err)}
		}
		c.metrics.Journaled()
	}
	return applyResult{m: m}
}

// rule returns the schema of a tracked table, checking row against it.
func (c *Manager) rule(table string, row action.Row) (*action.Table, error) {
	r, ok := c.rules.Get(table)
	if !ok {
		return nil, errors.Wrapf(ErrTableNotTracked, "%s", table)
	}
	if err := r.CheckRow(row); err != nil {
		return nil, errors.Trace(err)
	}
	return r.Table, nil
}

// Insert upserts row into a tracked table.
func (c *Manager) Insert(table string, row action.Row) error {
	t, err := c.rule(table, row)
	if err != nil {
		return errors.Trace(err)
	}
	a, err := action.NewInsert(t, row)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.Apply(a))
}

// Update sets the non key columns of row on the row its key addresses.
func (c *Manager) Update(table string, row action.Row) error {
	t, err := c.rule(table, row)
	if err != nil {
		return errors.Trace(err)
	}
	a, err := action.NewUpdate(t, row)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.Apply(a))
}

func (c *Manager) Delete(table string, key action.Row) error {
	t, err := c.rule(table, key)
	if err != nil {
		return errors.Trace(err)
	}
	a, err := action.NewDelete(t, key)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.Apply(a))
}

// CreateTable creates t on every member and tracks it, so members joining
// later get it too.
func (c *Manager) CreateTable(t *action.Table) error {
	a, err := action.NewCreateTable(t)
	if err != nil {
		return errors.Trace(err)
	}
	_, tracked := c.rules.Get(t.Name)
	// tracked before the broadcast so a join starting now creates it
	if err := c.rules.Add(t); err != nil {
		return errors.Trace(err)
	}
	reached, err := c.broadcast(a)
	if reached == 0 && !tracked {
		c.rules.Remove(t.Name)
	}
	if reached > 0 {
		c.persist()
	}
	return errors.Trace(err)
}

// DropTable drops a table on every member and stops tracking it.
func (c *Manager) DropTable(table string) error {
	t := &action.Table{Name: table}
	r, tracked := c.rules.Get(table)
	if tracked {
		t = r.Table
	}
	a, err := action.NewDropTable(t)
	if err != nil {
		return errors.Trace(err)
	}
	// untracked before the broadcast so a join starting now skips it
	c.rules.Remove(table)
	reached, err := c.broadcast(a)
	if reached == 0 && tracked {
		if rerr := c.rules.Add(t); rerr != nil {
			log.Log.Errorf("cluster %s: track %s again: %v", c.cfg.Name, table, rerr)
		}
	}
	if reached > 0 {
		c.persist()
	}
	return errors.Trace(err)
}

// ExecuteSQL passes a statement to every member as is.
func (c *Manager) ExecuteSQL(sql string) error {
	a, err := action.NewRawSQL(sql)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.Apply(a))
}
