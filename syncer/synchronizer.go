package syncer

import (
	"context"
	"time"

	"github.com/pingcap/errors"

	"dbcluster/action"
	"dbcluster/log"
	"dbcluster/member"
	"dbcluster/metrics"
)

// Synchronizer brings a SYNCHRONIZING member level with the cluster.
//
// The member must already receive the cluster's mutations in its journal
// when Synchronize starts. The copy reads the reference member under its
// apply lock, so every mutation is either in the copied rows or in the
// journal, possibly both; replaying a row action over a row that already
// has it is harmless. The member turns READY under its own apply lock once
// the journal is empty, so no mutation falls between the journal and the
// broadcaster.
type Synchronizer struct {
	metrics *metrics.Metrics
}

func NewSynchronizer(m *metrics.Metrics) *Synchronizer {
	return &Synchronizer{metrics: m}
}

// Synchronize copies tables from reference into target, drains target's
// journal and marks it READY. A nil reference means target seeds an empty
// cluster. With rebuild the tables are dropped on target first.
func (s *Synchronizer) Synchronize(ctx context.Context, target, reference *member.Member, tables []*action.Table, rebuild bool) error {
	start := time.Now()
	if s.metrics != nil {
		defer s.metrics.ObserveSync(start)
	}
	if target.Status() != member.StatusSynchronizing {
		return errors.Errorf("%s is %s, not %s", target, target.Status(), member.StatusSynchronizing)
	}
	if err := target.LoadCapabilities(); err != nil {
		return errors.Wrapf(err, "capabilities of %s", target)
	}

	for _, t := range tables {
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}
		if err := s.ensureTable(target, t, rebuild); err != nil {
			return errors.Trace(err)
		}
		if reference == nil {
			continue
		}
		if err := s.copyTable(target, reference, t); err != nil {
			return errors.Trace(err)
		}
	}

	j := target.Journal()
	if j == nil {
		return errors.Errorf("%s has no journal", target)
	}
	for {
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}
		n, err := j.Drain(target.Driver().Execute)
		if err != nil {
			return errors.Wrapf(err, "replay journal on %s", target)
		}
		if n > 0 {
			log.Log.Debugf("%s: replayed %d journaled actions", target, n)
		}

		target.Lock()
		if j.Len() == 0 {
			err = target.Transition(member.StatusReady)
			target.Unlock()
			if err != nil {
				return errors.Trace(err)
			}
			log.Log.Infof("%s synchronized in %s", target, time.Since(start))
			return nil
		}
		target.Unlock()
	}
}

func (s *Synchronizer) ensureTable(target *member.Member, t *action.Table, rebuild bool) error {
	if rebuild {
		drop, err := action.NewDropTable(t)
		if err != nil {
			return errors.Trace(err)
		}
		if err := target.Driver().Execute(drop); err != nil {
			return errors.Wrapf(err, "drop %s on %s", t.Name, target)
		}
	}
	create, err := action.NewCreateTable(t)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Wrapf(target.Driver().Execute(create), "create %s on %s", t.Name, target)
}

// copyTable makes target's rows of t equal to reference's: missing and
// different rows are upserted, rows reference does not have are deleted.
func (s *Synchronizer) copyTable(target, reference *member.Member, t *action.Table) error {
	reference.Lock()
	ok, err := reference.Driver().TableExists(t.Name)
	var rows []action.Row
	if err == nil && ok {
		rows, err = reference.Driver().Rows(t)
	}
	reference.Unlock()
	if err != nil {
		return errors.Wrapf(err, "read %s from %s", t.Name, reference)
	}
	if !ok {
		// dropped after the sync started, the journal carries the drop
		return nil
	}

	keep := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		ins, err := action.NewInsert(t, row)
		if err != nil {
			return errors.Trace(err)
		}
		keep[ins.Key()] = struct{}{}
		if err := target.Driver().Execute(ins); err != nil {
			return errors.Wrapf(err, "copy %s into %s", t.Name, target)
		}
	}

	existing, err := target.Driver().Rows(t)
	if err != nil {
		return errors.Wrapf(err, "read %s from %s", t.Name, target)
	}
	pruned := 0
	for _, row := range existing {
		key, err := t.Key(row)
		if err != nil {
			return errors.Trace(err)
		}
		if _, ok := keep[key]; ok {
			continue
		}
		del, err := action.NewDelete(t, row)
		if err != nil {
			return errors.Trace(err)
		}
		if err := target.Driver().Execute(del); err != nil {
			return errors.Wrapf(err, "prune %s on %s", t.Name, target)
		}
		pruned++
	}
	log.Log.Debugf("%s: copied %d rows of %s from %s, pruned %d", target, len(rows), t.Name, reference, pruned)
	return nil
}
