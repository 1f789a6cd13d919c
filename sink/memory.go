package sink

import (
	"sort"
	"strings"
	"sync"

	"github.com/pingcap/errors"

	"dbcluster/action"
	"dbcluster/member"
)

// ErrNoSuchTable is returned by the in-memory database for a missing table.
var ErrNoSuchTable = errors.New("memory: table doesn't exist")

var (
	memoryMu  sync.Mutex
	memoryDBs = make(map[string]*MemoryDB)
)

// MemoryOptions tunes an in-memory database.
type MemoryOptions struct {
	// EmptyStringIsNull stores "" as NULL, like databases that cannot tell
	// them apart.
	EmptyStringIsNull bool
}

// MemoryDB is a process-wide named in-memory database. Connecting twice to
// the same name reaches the same data, so a cluster can reconnect to it
// after being dismantled.
type MemoryDB struct {
	name string
	opts MemoryOptions

	mu         sync.Mutex
	tables     map[string]*memoryTable
	statements []string
	fault      func(a *action.Action) error
	readFault  error
}

type memoryTable struct {
	schema *action.Table
	rows   map[string]action.Row
}

// NewMemoryDB creates, or replaces, the named in-memory database.
func NewMemoryDB(name string, opts MemoryOptions) *MemoryDB {
	db := &MemoryDB{
		name:   name,
		opts:   opts,
		tables: make(map[string]*memoryTable),
	}
	memoryMu.Lock()
	memoryDBs[name] = db
	memoryMu.Unlock()
	return db
}

// MemoryDatabase returns the named database, creating it with default
// options when it does not exist yet.
func MemoryDatabase(name string) *MemoryDB {
	memoryMu.Lock()
	db, ok := memoryDBs[name]
	memoryMu.Unlock()
	if ok {
		return db
	}
	return NewMemoryDB(name, MemoryOptions{})
}

// DropMemoryDatabase forgets the named database and its data.
func DropMemoryDatabase(name string) {
	memoryMu.Lock()
	delete(memoryDBs, name)
	memoryMu.Unlock()
}

func openMemory(desc member.Descriptor) (member.Driver, error) {
	if len(desc.Database) == 0 {
		return nil, errors.New("memory: database name is required")
	}
	return MemoryDatabase(desc.Database), nil
}

func (db *MemoryDB) Name() string {
	return db.name
}

// SetFault installs a hook consulted before every action; a non nil error
// fails the action without touching data.
func (db *MemoryDB) SetFault(fault func(a *action.Action) error) {
	db.mu.Lock()
	db.fault = fault
	db.mu.Unlock()
}

// FailOn makes every action of the given kinds fail with err.
func (db *MemoryDB) FailOn(err error, kinds ...action.Kind) {
	db.SetFault(func(a *action.Action) error {
		for _, k := range kinds {
			if a.Kind() == k {
				return err
			}
		}
		return nil
	})
}

// FailReads makes Rows and TableExists fail with err, nil to heal.
func (db *MemoryDB) FailReads(err error) {
	db.mu.Lock()
	db.readFault = err
	db.mu.Unlock()
}

func (db *MemoryDB) Execute(a *action.Action) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.fault != nil {
		if err := db.fault(a); err != nil {
			return errors.Trace(err)
		}
	}

	switch a.Kind() {
	case action.CreateTable:
		key := tableKey(a.TableName())
		if _, ok := db.tables[key]; ok {
			return nil
		}
		db.tables[key] = &memoryTable{schema: a.Table(), rows: make(map[string]action.Row)}
	case action.DropTable:
		delete(db.tables, tableKey(a.TableName()))
	case action.Insert:
		t, err := db.table(a.TableName())
		if err != nil {
			return errors.Trace(err)
		}
		in := a.Row()
		row := make(action.Row, len(t.schema.Columns))
		for _, c := range t.schema.Columns {
			v, _ := in.Get(c.Name)
			row[c.Name] = db.store(v)
		}
		t.rows[a.Key()] = row
	case action.Update:
		t, err := db.table(a.TableName())
		if err != nil {
			return errors.Trace(err)
		}
		existing, ok := t.rows[a.Key()]
		if !ok {
			// like SQL, an update matching no row is not an error
			return nil
		}
		for col, v := range a.Row() {
			c, ok := t.schema.Column(col)
			if !ok {
				return errors.Errorf("memory: unknown column %s.%s", a.TableName(), col)
			}
			existing[c.Name] = db.store(v)
		}
	case action.Delete:
		t, err := db.table(a.TableName())
		if err != nil {
			return errors.Trace(err)
		}
		delete(t.rows, a.Key())
	case action.RawSQL:
		db.statements = append(db.statements, a.SQL())
	default:
		return errors.Errorf("memory: unsupported action %s", a.Kind())
	}
	return nil
}

func (db *MemoryDB) store(v interface{}) interface{} {
	v = action.NormalizeValue(v)
	if s, ok := v.(string); ok && len(s) == 0 && db.opts.EmptyStringIsNull {
		return nil
	}
	return v
}

func (db *MemoryDB) table(name string) (*memoryTable, error) {
	t, ok := db.tables[tableKey(name)]
	if !ok {
		return nil, errors.Wrapf(ErrNoSuchTable, "%s.%s", db.name, name)
	}
	return t, nil
}

func (db *MemoryDB) TableExists(table string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.readFault != nil {
		return false, errors.Trace(db.readFault)
	}
	_, ok := db.tables[tableKey(table)]
	return ok, nil
}

func (db *MemoryDB) Capabilities() (map[string]bool, error) {
	return map[string]bool{
		member.CapNullDistinctFromEmpty: !db.opts.EmptyStringIsNull,
	}, nil
}

// Rows returns the rows of t ordered by primary key.
func (db *MemoryDB) Rows(t *action.Table) ([]action.Row, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.readFault != nil {
		return nil, errors.Trace(db.readFault)
	}
	mt, err := db.table(t.Name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	keys := make([]string, 0, len(mt.rows))
	for k := range mt.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([]action.Row, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, mt.rows[k].Clone())
	}
	return rows, nil
}

// RowCount is a test and diagnostics helper; missing tables count 0.
func (db *MemoryDB) RowCount(table string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tables[tableKey(table)]
	if !ok {
		return 0
	}
	return len(t.rows)
}

// Statements returns the raw SQL statements received.
func (db *MemoryDB) Statements() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]string, len(db.statements))
	copy(out, db.statements)
	return out
}

// Close is a no-op: data lives as long as the named database.
func (db *MemoryDB) Close() error {
	return nil
}

func tableKey(name string) string {
	return strings.ToLower(name)
}
