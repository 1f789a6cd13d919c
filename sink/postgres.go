package sink

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pingcap/errors"

	"dbcluster/action"
	"dbcluster/member"
)

const (
	DialTimeout = 5 * time.Second
	opTimeout   = 30 * time.Second
)

// PostgresSink is a member backed by PostgreSQL through a pgx pool.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects to desc. Addr may be a full postgres:// URL, in
// which case the other connection fields are ignored.
func NewPostgresSink(desc member.Descriptor) (*PostgresSink, error) {
	config, err := pgxpool.ParseConfig(connString(desc))
	if err != nil {
		return nil, errors.Trace(err)
	}
	config.MaxConns = 4

	ctx, cancel := context.WithTimeout(context.Background(), DialTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Trace(err)
	}
	return &PostgresSink{pool: pool}, nil
}

func openPostgres(desc member.Descriptor) (member.Driver, error) {
	return NewPostgresSink(desc)
}

func connString(desc member.Descriptor) string {
	if strings.HasPrefix(desc.Addr, "postgres://") || strings.HasPrefix(desc.Addr, "postgresql://") {
		return desc.Addr
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   desc.Addr,
		Path:   "/" + desc.Database,
	}
	if len(desc.User) > 0 {
		u.User = url.UserPassword(desc.User, desc.Password)
	}
	return u.String()
}

func (s *PostgresSink) Execute(a *action.Action) error {
	sql, args, err := postgresDialect.statement(a)
	if err != nil {
		return errors.Trace(err)
	}
	if len(sql) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if _, err = s.pool.Exec(ctx, sql, args...); err != nil {
		return errors.Wrapf(err, "postgres %s", a)
	}
	return nil
}

func (s *PostgresSink) TableExists(table string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name = $1)`, table).Scan(&exists)
	if err != nil {
		return false, errors.Trace(err)
	}
	return exists, nil
}

func (s *PostgresSink) Capabilities() (map[string]bool, error) {
	return map[string]bool{
		member.CapNullDistinctFromEmpty: true,
	}, nil
}

func (s *PostgresSink) Rows(t *action.Table) ([]action.Row, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	rs, err := s.pool.Query(ctx, postgresDialect.selectAll(t))
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rs.Close()

	var rows []action.Row
	for rs.Next() {
		values, err := rs.Values()
		if err != nil {
			return nil, errors.Trace(err)
		}
		row := make(action.Row, len(t.Columns))
		for i, c := range t.Columns {
			row[c.Name] = action.NormalizeValue(values[i])
		}
		rows = append(rows, row)
	}
	return rows, errors.Trace(rs.Err())
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
