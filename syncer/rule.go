package syncer

import (
	"sort"
	"strings"
	"sync"

	"github.com/pingcap/errors"

	"dbcluster/action"
)

// Rule tracks one table: the cluster creates it on every joining member and
// copies its rows during synchronization.
type Rule struct {
	Table *action.Table
	// Index is the lower-cased table name rules are looked up by.
	Index string
	order int
}

func newRule(t *action.Table, order int) (*Rule, error) {
	if err := t.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Rule{Table: t.Clone(), Index: strings.ToLower(t.Name), order: order}, nil
}

// CheckFilter reports whether column belongs to the tracked table.
func (r *Rule) CheckFilter(column string) bool {
	_, ok := r.Table.Column(column)
	return ok
}

// CheckRow rejects rows naming columns the table does not have.
func (r *Rule) CheckRow(row action.Row) error {
	for col := range row {
		if !r.CheckFilter(col) {
			return errors.Errorf("%s is not a column of tracked table %s", col, r.Table.Name)
		}
	}
	return nil
}

// Rules is the set of tracked tables, kept in the order they were added so
// that tables are created in a stable order on joining members.
type Rules struct {
	mu    sync.RWMutex
	rules map[string]*Rule
	next  int
}

func NewRules(tables ...*action.Table) (*Rules, error) {
	r := &Rules{rules: make(map[string]*Rule)}
	for _, t := range tables {
		if err := r.Add(t); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return r, nil
}

// Add tracks t, replacing the schema of a table tracked under the same name.
func (r *Rules) Add(t *action.Table) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order := r.next
	if old, ok := r.rules[strings.ToLower(t.Name)]; ok {
		order = old.order
	} else {
		r.next++
	}
	rule, err := newRule(t, order)
	if err != nil {
		return errors.Trace(err)
	}
	r.rules[rule.Index] = rule
	return nil
}

func (r *Rules) Remove(name string) {
	r.mu.Lock()
	delete(r.rules, strings.ToLower(name))
	r.mu.Unlock()
}

func (r *Rules) Get(name string) (*Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[strings.ToLower(name)]
	return rule, ok
}

func (r *Rules) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// Tables returns copies of the tracked schemas in the order they were added.
func (r *Rules) Tables() []*action.Table {
	r.mu.RLock()
	rules := make([]*Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		rules = append(rules, rule)
	}
	r.mu.RUnlock()

	sort.Slice(rules, func(i, j int) bool { return rules[i].order < rules[j].order })
	tables := make([]*action.Table, 0, len(rules))
	for _, rule := range rules {
		tables = append(tables, rule.Table.Clone())
	}
	return tables
}
