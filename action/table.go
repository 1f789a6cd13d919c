package action

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pingcap/errors"
)

var (
	ErrInvalidTable = errors.New("action: invalid table")
	ErrMissingKey   = errors.New("action: row is missing a primary key column")
)

// Column describes one column of a tracked table. Type is a generic SQL
// type name ("BIGINT", "VARCHAR(64)", "TEXT", ...) that every dialect accepts.
type Column struct {
	Name     string `toml:"name" json:"name" yaml:"name"`
	Type     string `toml:"type" json:"type" yaml:"type"`
	Nullable bool   `toml:"nullable" json:"nullable" yaml:"nullable"`
}

// Table is the schema of a table the cluster keeps on every member.
type Table struct {
	Name       string   `toml:"name" json:"name" yaml:"name"`
	Columns    []Column `toml:"column" json:"columns" yaml:"columns"`
	PrimaryKey []string `toml:"primary_key" json:"primary_key" yaml:"primary_key"`
}

// Validate checks that the table has a name, unique columns and a primary
// key made only of declared columns.
func (t *Table) Validate() error {
	if t == nil || len(t.Name) == 0 {
		return errors.Wrapf(ErrInvalidTable, "empty table name")
	}
	if len(t.Columns) == 0 {
		return errors.Wrapf(ErrInvalidTable, "table %s has no columns", t.Name)
	}
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if len(c.Name) == 0 || len(c.Type) == 0 {
			return errors.Wrapf(ErrInvalidTable, "table %s has a column without name or type", t.Name)
		}
		key := strings.ToLower(c.Name)
		if _, ok := seen[key]; ok {
			return errors.Wrapf(ErrInvalidTable, "table %s has duplicate column %s", t.Name, c.Name)
		}
		seen[key] = struct{}{}
	}
	if len(t.PrimaryKey) == 0 {
		return errors.Wrapf(ErrInvalidTable, "%s must have a PK for a column", t.Name)
	}
	for _, pk := range t.PrimaryKey {
		if _, ok := seen[strings.ToLower(pk)]; !ok {
			return errors.Wrapf(ErrInvalidTable, "primary key column %s is not a column of %s", pk, t.Name)
		}
	}
	return nil
}

// Column returns the named column, ignoring case.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// IsPrimaryKey reports whether the column belongs to the primary key.
func (t *Table) IsPrimaryKey(name string) bool {
	for _, pk := range t.PrimaryKey {
		if strings.EqualFold(pk, name) {
			return true
		}
	}
	return false
}

func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	tt := &Table{Name: t.Name}
	if t.Columns != nil {
		tt.Columns = make([]Column, len(t.Columns))
		copy(tt.Columns, t.Columns)
	}
	if t.PrimaryKey != nil {
		tt.PrimaryKey = make([]string, len(t.PrimaryKey))
		copy(tt.PrimaryKey, t.PrimaryKey)
	}
	return tt
}

// Key returns the canonical primary key of row. Rows read back from
// different drivers produce the same key for the same logical row.
func (t *Table) Key(row Row) (string, error) {
	parts := make([]string, 0, len(t.PrimaryKey))
	for _, pk := range t.PrimaryKey {
		v, ok := row.Get(pk)
		if !ok || v == nil {
			return "", errors.Wrapf(ErrMissingKey, "%s.%s", t.Name, pk)
		}
		parts = append(parts, fmt.Sprintf("%v", NormalizeValue(v)))
	}
	return strings.Join(parts, "\x00"), nil
}

// Row is one table row keyed by column name.
type Row map[string]interface{}

// Get looks up a column ignoring case, since drivers may fold identifiers.
func (r Row) Get(column string) (interface{}, bool) {
	if v, ok := r[column]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, column) {
			return v, true
		}
	}
	return nil, false
}

func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	rr := make(Row, len(r))
	for k, v := range r {
		rr[k] = v
	}
	return rr
}

// Columns returns the row's column names sorted, so rendered SQL is stable.
func (r Row) Columns() []string {
	cols := make([]string, 0, len(r))
	for k := range r {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// NormalizeValue converts driver specific representations to plain Go
// values: byte slices read from text protocols become strings.
func NormalizeValue(v interface{}) interface{} {
	switch value := v.(type) {
	case []byte:
		return string(value)
	case int:
		return int64(value)
	case int32:
		return int64(value)
	case int16:
		return int64(value)
	case int8:
		return int64(value)
	case uint32:
		return int64(value)
	case uint16:
		return int64(value)
	case uint8:
		return int64(value)
	case float32:
		return float64(value)
	}
	return v
}

// NormalizeRow applies NormalizeValue to every column.
func NormalizeRow(r Row) Row {
	rr := make(Row, len(r))
	for k, v := range r {
		rr[k] = NormalizeValue(v)
	}
	return rr
}
