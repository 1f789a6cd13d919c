package sink

import (
	"fmt"
	"strings"

	"github.com/pingcap/errors"

	"dbcluster/action"
)

// dialect renders actions as statements for one SQL flavor. Rendering is
// limited to what replaying an action needs; every statement is safe to
// run twice.
type dialect struct {
	name        string
	quote       func(ident string) string
	placeholder func(n int) string
	types       map[string]string
	upsert      func(d *dialect, t *action.Table, cols []string) string
}

var mysqlDialect = &dialect{
	name: "mysql",
	quote: func(ident string) string {
		return "`" + strings.Replace(ident, "`", "``", -1) + "`"
	},
	placeholder: func(int) string { return "?" },
	types: map[string]string{
		"DOUBLE PRECISION": "DOUBLE",
		"BYTEA":            "BLOB",
	},
	upsert: func(d *dialect, t *action.Table, cols []string) string {
		var sets []string
		for _, c := range cols {
			if t.IsPrimaryKey(c) {
				continue
			}
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", d.quote(c), d.quote(c)))
		}
		if len(sets) == 0 {
			pk := d.quote(t.PrimaryKey[0])
			sets = append(sets, fmt.Sprintf("%s = %s", pk, pk))
		}
		return " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	},
}

var postgresDialect = &dialect{
	name: "postgres",
	quote: func(ident string) string {
		return `"` + strings.Replace(ident, `"`, `""`, -1) + `"`
	},
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	types: map[string]string{
		"DOUBLE":   "DOUBLE PRECISION",
		"DATETIME": "TIMESTAMP",
		"BLOB":     "BYTEA",
		"TINYINT":  "SMALLINT",
	},
	upsert: func(d *dialect, t *action.Table, cols []string) string {
		keys := make([]string, 0, len(t.PrimaryKey))
		for _, pk := range t.PrimaryKey {
			keys = append(keys, d.quote(pk))
		}
		var sets []string
		for _, c := range cols {
			if t.IsPrimaryKey(c) {
				continue
			}
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", d.quote(c), d.quote(c)))
		}
		if len(sets) == 0 {
			return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(keys, ", "))
		}
		return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(keys, ", "), strings.Join(sets, ", "))
	},
}

func (d *dialect) typeName(generic string) string {
	if t, ok := d.types[strings.ToUpper(generic)]; ok {
		return t
	}
	return generic
}

// statement renders a. An empty statement means there is nothing to run.
func (d *dialect) statement(a *action.Action) (string, []interface{}, error) {
	switch a.Kind() {
	case action.CreateTable:
		return d.createTable(a.Table()), nil, nil
	case action.DropTable:
		return fmt.Sprintf("DROP TABLE IF EXISTS %s", d.quote(a.TableName())), nil, nil
	case action.Insert:
		sql, args := d.insert(a.Table(), a.Row())
		return sql, args, nil
	case action.Update:
		sql, args := d.update(a.Table(), a.Row())
		return sql, args, nil
	case action.Delete:
		sql, args := d.delete(a.Table(), a.Row())
		return sql, args, nil
	case action.RawSQL:
		return a.SQL(), nil, nil
	}
	return "", nil, errors.Errorf("%s: unsupported action %s", d.name, a.Kind())
}

func (d *dialect) createTable(t *action.Table) string {
	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		def := d.quote(c.Name) + " " + d.typeName(c.Type)
		if !c.Nullable || t.IsPrimaryKey(c.Name) {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	keys := make([]string, 0, len(t.PrimaryKey))
	for _, pk := range t.PrimaryKey {
		keys = append(keys, d.quote(pk))
	}
	defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(keys, ", ")))
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.quote(t.Name), strings.Join(defs, ", "))
}

// insert renders an upsert over every schema column. Columns missing from
// row are written as NULL, so a re-insert replaces the whole row.
func (d *dialect) insert(t *action.Table, row action.Row) (string, []interface{}) {
	cols := make([]string, 0, len(t.Columns))
	names := make([]string, 0, len(t.Columns))
	marks := make([]string, 0, len(t.Columns))
	args := make([]interface{}, 0, len(t.Columns))
	for i, c := range t.Columns {
		v, _ := row.Get(c.Name)
		cols = append(cols, c.Name)
		names = append(names, d.quote(c.Name))
		marks = append(marks, d.placeholder(i+1))
		args = append(args, v)
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.quote(t.Name), strings.Join(names, ", "), strings.Join(marks, ", "))
	return sql + d.upsert(d, t, cols), args
}

func (d *dialect) update(t *action.Table, row action.Row) (string, []interface{}) {
	var sets []string
	var args []interface{}
	n := 0
	for _, c := range row.Columns() {
		if t.IsPrimaryKey(c) {
			continue
		}
		n++
		sets = append(sets, fmt.Sprintf("%s = %s", d.quote(c), d.placeholder(n)))
		args = append(args, row[c])
	}
	if len(sets) == 0 {
		return "", nil
	}
	where, whereArgs := d.where(t, row, n)
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s", d.quote(t.Name), strings.Join(sets, ", "), where), append(args, whereArgs...)
}

func (d *dialect) delete(t *action.Table, row action.Row) (string, []interface{}) {
	where, args := d.where(t, row, 0)
	return fmt.Sprintf("DELETE FROM %s WHERE %s", d.quote(t.Name), where), args
}

func (d *dialect) where(t *action.Table, row action.Row, offset int) (string, []interface{}) {
	conds := make([]string, 0, len(t.PrimaryKey))
	args := make([]interface{}, 0, len(t.PrimaryKey))
	for i, pk := range t.PrimaryKey {
		v, _ := row.Get(pk)
		conds = append(conds, fmt.Sprintf("%s = %s", d.quote(pk), d.placeholder(offset+i+1)))
		args = append(args, v)
	}
	return strings.Join(conds, " AND "), args
}

func (d *dialect) selectAll(t *action.Table) string {
	cols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		cols = append(cols, d.quote(c.Name))
	}
	keys := make([]string, 0, len(t.PrimaryKey))
	for _, pk := range t.PrimaryKey {
		keys = append(keys, d.quote(pk))
	}
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", strings.Join(cols, ", "), d.quote(t.Name), strings.Join(keys, ", "))
}
