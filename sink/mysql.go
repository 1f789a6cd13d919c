package sink

import (
	"sync"

	"github.com/pingcap/errors"
	"github.com/siddontang/go-mysql/client"

	"dbcluster/action"
	"dbcluster/member"
)

// MySQLSink is a member backed by a MySQL (or MariaDB) server, spoken to
// through the go-mysql client. The connection is not safe for concurrent
// use, so every call holds mu.
type MySQLSink struct {
	mu       sync.Mutex
	conn     *client.Conn
	database string
}

// NewMySQLSink connects to the database named by desc.
func NewMySQLSink(desc member.Descriptor) (*MySQLSink, error) {
	conn, err := client.Connect(desc.Addr, desc.User, desc.Password, desc.Database)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err = conn.Ping(); err != nil {
		conn.Close()
		return nil, errors.Trace(err)
	}
	return &MySQLSink{conn: conn, database: desc.Database}, nil
}

func openMySQL(desc member.Descriptor) (member.Driver, error) {
	return NewMySQLSink(desc)
}

func (s *MySQLSink) Execute(a *action.Action) error {
	sql, args, err := mysqlDialect.statement(a)
	if err != nil {
		return errors.Trace(err)
	}
	if len(sql) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err = s.conn.Execute(sql, args...); err != nil {
		return errors.Wrapf(err, "mysql %s", a)
	}
	return nil
}

func (s *MySQLSink) TableExists(table string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.Execute(`SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = ? AND table_name = ?`, s.database, table)
	if err != nil {
		return false, errors.Trace(err)
	}
	n, err := res.GetInt(0, 0)
	if err != nil {
		return false, errors.Trace(err)
	}
	return n > 0, nil
}

func (s *MySQLSink) Capabilities() (map[string]bool, error) {
	return map[string]bool{
		member.CapNullDistinctFromEmpty: true,
	}, nil
}

func (s *MySQLSink) Rows(t *action.Table) ([]action.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.Execute(mysqlDialect.selectAll(t))
	if err != nil {
		return nil, errors.Trace(err)
	}
	rows := make([]action.Row, 0, res.RowNumber())
	for i := 0; i < res.RowNumber(); i++ {
		row := make(action.Row, len(t.Columns))
		for j, c := range t.Columns {
			v, err := res.GetValue(i, j)
			if err != nil {
				return nil, errors.Trace(err)
			}
			row[c.Name] = action.NormalizeValue(v)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *MySQLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Trace(s.conn.Close())
}
