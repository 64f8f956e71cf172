package refreshcache

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"sync"
)

// fakeDriver records statements so schema and prepare paths can be checked without a database.
type fakeDriver struct {
	execErr    error
	pingErr    error
	prepareErr error

	mu      sync.Mutex
	queries []string
}

func (d *fakeDriver) Open(string) (driver.Conn, error) {
	return &fakeConn{driver: d}, nil
}

func (d *fakeDriver) record(query string) {
	d.mu.Lock()
	d.queries = append(d.queries, query)
	d.mu.Unlock()
}

func (d *fakeDriver) recorded() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.queries...)
}

type fakeConn struct {
	driver *fakeDriver
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	if c.driver.prepareErr != nil {
		return nil, c.driver.prepareErr
	}
	c.driver.record(query)
	return &fakeStmt{conn: c}, nil
}
func (c *fakeConn) Close() error              { return nil }
func (c *fakeConn) Begin() (driver.Tx, error) { return nil, errors.New("not impl") }

func (c *fakeConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.driver.record(query)
	return driver.RowsAffected(1), c.driver.execErr
}
func (c *fakeConn) QueryContext(context.Context, string, []driver.NamedValue) (driver.Rows, error) {
	return &fakeRows{}, nil
}
func (c *fakeConn) Ping(context.Context) error { return c.driver.pingErr }

type fakeStmt struct {
	conn *fakeConn
}

func (s *fakeStmt) Close() error  { return nil }
func (s *fakeStmt) NumInput() int { return -1 }
func (s *fakeStmt) Exec([]driver.Value) (driver.Result, error) {
	return driver.RowsAffected(1), s.conn.driver.execErr
}
func (s *fakeStmt) Query([]driver.Value) (driver.Rows, error) { return &fakeRows{}, nil }

type fakeRows struct{}

func (r *fakeRows) Columns() []string         { return []string{"v", "ea"} }
func (r *fakeRows) Close() error              { return nil }
func (r *fakeRows) Next([]driver.Value) error { return io.EOF }

var (
	pgFakeDriver       = &fakeDriver{}
	mysqlFakeDriver    = &fakeDriver{}
	postgresFakeDriver = &fakeDriver{}
)

func init() {
	sql.Register("pgfake", pgFakeDriver)
	sql.Register("mysqlfake", mysqlFakeDriver)
	sql.Register("postgres", postgresFakeDriver)
	sql.Register("pgfail", &fakeDriver{execErr: errors.New("boom")})
	sql.Register("pingfail", &fakeDriver{pingErr: errors.New("ping boom")})
	sql.Register("preparefail", &fakeDriver{prepareErr: errors.New("prepare boom")})
}
