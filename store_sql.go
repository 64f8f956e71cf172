package refreshcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// sqlStore keeps entries in a (k, v, ea) table where ea is the expiry in unix milliseconds.
// Expired rows are treated as absent and reclaimed lazily.
type sqlStore struct {
	db            *sql.DB
	table         string
	driverName    string
	prefix        string
	defaultTTL    time.Duration
	getStmt       *sql.Stmt
	upsertStmt    *sql.Stmt
	addInsertStmt *sql.Stmt
	addReuseStmt  *sql.Stmt
	deleteStmt    *sql.Stmt
	casDeleteStmt *sql.Stmt
	casExpireStmt *sql.Stmt
}

var sqlIdentPartRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func newSQLStore(cfg StoreConfig) (Store, error) {
	if cfg.SQLDriverName == "" || cfg.SQLDSN == "" {
		return nil, errors.New("sql driver requires driver name and dsn")
	}
	table := cfg.SQLTable
	if table == "" {
		table = defaultSQLTable
	}
	if err := validateSQLTableName(table); err != nil {
		return nil, err
	}
	dsn := cfg.SQLDSN
	if cfg.SQLDriverName == "mysql" {
		var err error
		if dsn, err = mysqlFoundRowsDSN(dsn); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open(cfg.SQLDriverName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = defaultStoreTTL
	}
	s := &sqlStore{
		db:         db,
		table:      table,
		driverName: cfg.SQLDriverName,
		prefix:     cfg.Prefix,
		defaultTTL: ttl,
	}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.prepareStatements(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqlStore) Driver() Driver { return DriverSQL }

// mysqlFoundRowsDSN makes UPDATE report matched rows instead of changed rows.
// CompareAndExpire with an unchanged expiry would otherwise read as a lost lock.
func mysqlFoundRowsDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ClientFoundRows = true
	return cfg.FormatDSN(), nil
}

func (s *sqlStore) ensureSchema() error {
	var stmt string
	switch s.driverName {
	case "postgres", "pgx":
		stmt = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			k TEXT PRIMARY KEY,
			v BYTEA NOT NULL,
			ea BIGINT NOT NULL
		);`, s.table)
	case "mysql":
		stmt = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			k VARBINARY(255) PRIMARY KEY,
			v LONGBLOB NOT NULL,
			ea BIGINT NOT NULL
		) ENGINE=InnoDB;`, s.table)
	default: // sqlite
		stmt = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			k TEXT PRIMARY KEY,
			v BLOB NOT NULL,
			ea INTEGER NOT NULL
		);`, s.table)
	}
	_, err := s.db.Exec(stmt)
	return err
}

func (s *sqlStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var v []byte
	var exp int64
	err := s.getStmt.QueryRowContext(ctx, s.cacheKey(key)).Scan(&v, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if time.Now().UnixMilli() > exp {
		return nil, false, nil
	}
	return cloneBytes(v), true, nil
}

func (s *sqlStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	exp := s.expiry(ttl)
	_, err := s.upsertStmt.ExecContext(ctx, s.cacheKey(key), value, exp, value, exp)
	return err
}

func (s *sqlStore) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	nowMs := time.Now().UnixMilli()
	exp := s.expiry(ttl)
	cacheKey := s.cacheKey(key)
	_, err := s.addInsertStmt.ExecContext(ctx, cacheKey, value, exp)
	if err == nil {
		return true, nil
	}
	if !isDuplicateErr(err, s.driverName) {
		return false, err
	}
	// An expired row counts as absent so locks can be reacquired after their TTL.
	res, err := s.addReuseStmt.ExecContext(ctx, value, exp, cacheKey, nowMs)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *sqlStore) Delete(ctx context.Context, key string) error {
	_, err := s.deleteStmt.ExecContext(ctx, s.cacheKey(key))
	return err
}

func (s *sqlStore) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	res, err := s.casDeleteStmt.ExecContext(ctx, s.cacheKey(key), expected, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *sqlStore) CompareAndExpire(ctx context.Context, key string, expected []byte, ttl time.Duration) (bool, error) {
	res, err := s.casExpireStmt.ExecContext(ctx, s.expiry(ttl), s.cacheKey(key), expected, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *sqlStore) expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	return time.Now().Add(ttl).UnixMilli()
}

func (s *sqlStore) cacheKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

func (s *sqlStore) upsertSQL() string {
	// Placeholders must be positional for postgres/pgx.
	p1, p2, p3, p4, p5 := s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5)
	switch s.driverName {
	case "postgres", "pgx":
		return fmt.Sprintf("INSERT INTO %s (k, v, ea) VALUES (%s, %s, %s) ON CONFLICT (k) DO UPDATE SET v = %s, ea = %s", s.table, p1, p2, p3, p4, p5)
	case "mysql":
		return fmt.Sprintf("INSERT INTO %s (k, v, ea) VALUES (%s, %s, %s) ON DUPLICATE KEY UPDATE v = %s, ea = %s", s.table, p1, p2, p3, p4, p5)
	default: // sqlite
		return fmt.Sprintf("INSERT INTO %s (k, v, ea) VALUES (%s, %s, %s) ON CONFLICT(k) DO UPDATE SET v = %s, ea = %s", s.table, p1, p2, p3, p4, p5)
	}
}

func (s *sqlStore) getSQL() string {
	return fmt.Sprintf("SELECT v, ea FROM %s WHERE k = %s", s.table, s.ph(1))
}

func (s *sqlStore) addInsertSQL() string {
	return fmt.Sprintf("INSERT INTO %s (k, v, ea) VALUES (%s, %s, %s)", s.table, s.ph(1), s.ph(2), s.ph(3))
}

func (s *sqlStore) addReuseExpiredSQL() string {
	return fmt.Sprintf("UPDATE %s SET v = %s, ea = %s WHERE k = %s AND ea < %s", s.table, s.ph(1), s.ph(2), s.ph(3), s.ph(4))
}

func (s *sqlStore) deleteSQL() string {
	return fmt.Sprintf("DELETE FROM %s WHERE k = %s", s.table, s.ph(1))
}

func (s *sqlStore) casDeleteSQL() string {
	return fmt.Sprintf("DELETE FROM %s WHERE k = %s AND v = %s AND ea >= %s", s.table, s.ph(1), s.ph(2), s.ph(3))
}

func (s *sqlStore) casExpireSQL() string {
	return fmt.Sprintf("UPDATE %s SET ea = %s WHERE k = %s AND v = %s AND ea >= %s", s.table, s.ph(1), s.ph(2), s.ph(3), s.ph(4))
}

func (s *sqlStore) prepareStatements() error {
	stmts := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.getStmt, s.getSQL()},
		{&s.upsertStmt, s.upsertSQL()},
		{&s.addInsertStmt, s.addInsertSQL()},
		{&s.addReuseStmt, s.addReuseExpiredSQL()},
		{&s.deleteStmt, s.deleteSQL()},
		{&s.casDeleteStmt, s.casDeleteSQL()},
		{&s.casExpireStmt, s.casExpireSQL()},
	}
	for _, st := range stmts {
		prepared, err := s.db.Prepare(st.query)
		if err != nil {
			return fmt.Errorf("prepare %q: %w", st.query, err)
		}
		*st.dst = prepared
	}
	return nil
}

func (s *sqlStore) ph(i int) string {
	if s.driverName == "postgres" || s.driverName == "pgx" {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func isDuplicateErr(err error, driver string) bool {
	msg := err.Error()
	switch driver {
	case "postgres", "pgx":
		return strings.Contains(msg, "duplicate key value")
	case "mysql":
		return strings.Contains(msg, "Duplicate entry")
	default:
		return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "unique constraint")
	}
}

func validateSQLTableName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("sql table name is required")
	}
	for _, part := range strings.Split(name, ".") {
		if !sqlIdentPartRE.MatchString(part) {
			return fmt.Errorf("invalid sql table name %q", name)
		}
	}
	return nil
}
