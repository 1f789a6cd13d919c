package action

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pingcap/errors"
)

// Kind is the kind of mutation an Action carries.
type Kind uint8

const (
	Insert Kind = iota + 1
	Update
	Delete
	CreateTable
	DropTable
	RawSQL
)

func (k Kind) String() string {
	switch k {
	case Insert:
		return "INSERT"
	case Update:
		return "UPDATE"
	case Delete:
		return "DELETE"
	case CreateTable:
		return "CREATE TABLE"
	case DropTable:
		return "DROP TABLE"
	case RawSQL:
		return "RAW SQL"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Action is one immutable data or schema mutation. Every kind except RawSQL
// is addressed by table and primary key, so applying it twice leaves a
// member in the same state as applying it once.
type Action struct {
	id    string
	kind  Kind
	table *Table
	row   Row
	key   string
	sql   string
}

// NewInsert builds an insert of row into t. The row must carry the whole
// primary key.
func NewInsert(t *Table, row Row) (*Action, error) {
	return newRowAction(Insert, t, row)
}

// NewUpdate builds an update of the row addressed by the primary key values
// in row; the other columns in row are the new values.
func NewUpdate(t *Table, row Row) (*Action, error) {
	return newRowAction(Update, t, row)
}

// NewDelete builds a delete of the row addressed by key. Non key columns are
// dropped.
func NewDelete(t *Table, key Row) (*Action, error) {
	if err := t.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	only := make(Row, len(t.PrimaryKey))
	for _, pk := range t.PrimaryKey {
		if v, ok := key.Get(pk); ok {
			only[pk] = v
		}
	}
	return newRowAction(Delete, t, only)
}

func NewCreateTable(t *Table) (*Action, error) {
	if err := t.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Action{id: newID(), kind: CreateTable, table: t.Clone()}, nil
}

// NewDropTable only needs the table name, but keeps the whole schema so the
// action can be logged and journaled like any other.
func NewDropTable(t *Table) (*Action, error) {
	if t == nil || len(t.Name) == 0 {
		return nil, errors.Wrapf(ErrInvalidTable, "empty table name")
	}
	return &Action{id: newID(), kind: DropTable, table: t.Clone()}, nil
}

// NewRawSQL wraps a literal SQL statement. Raw statements are passed to each
// member as is and are only as idempotent as the statement itself.
func NewRawSQL(sql string) (*Action, error) {
	sql = strings.TrimSpace(sql)
	if len(sql) == 0 {
		return nil, errors.New("action: empty sql statement")
	}
	return &Action{id: newID(), kind: RawSQL, sql: sql}, nil
}

func newRowAction(kind Kind, t *Table, row Row) (*Action, error) {
	if err := t.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	for col := range row {
		if _, ok := t.Column(col); !ok {
			return nil, errors.Errorf("action: %s is not a column of %s", col, t.Name)
		}
	}
	key, err := t.Key(row)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Action{
		id:    newID(),
		kind:  kind,
		table: t.Clone(),
		row:   NormalizeRow(row),
		key:   key,
	}, nil
}

func newID() string {
	return uuid.New().String()
}

func (a *Action) ID() string {
	return a.id
}

func (a *Action) Kind() Kind {
	return a.kind
}

// Table returns a copy of the target table, nil for RawSQL.
func (a *Action) Table() *Table {
	return a.table.Clone()
}

func (a *Action) TableName() string {
	if a.table == nil {
		return ""
	}
	return a.table.Name
}

// Row returns a copy of the row payload.
func (a *Action) Row() Row {
	return a.row.Clone()
}

// Key is the canonical primary key of the addressed row.
func (a *Action) Key() string {
	return a.key
}

func (a *Action) SQL() string {
	return a.sql
}

func (a *Action) String() string {
	switch a.kind {
	case RawSQL:
		return fmt.Sprintf("%s[%s] %q", a.kind, a.id, a.sql)
	case CreateTable, DropTable:
		return fmt.Sprintf("%s[%s] %s", a.kind, a.id, a.TableName())
	}
	return fmt.Sprintf("%s[%s] %s key=%q", a.kind, a.id, a.TableName(), a.key)
}
