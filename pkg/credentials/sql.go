package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/marmos91/boowebserver/internal/logger"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// SQLStoreConfig configures a SQLStore.
type SQLStoreConfig struct {
	// Driver is "sqlite" or "pgx"
	Driver string `mapstructure:"driver" validate:"omitempty,oneof=sqlite pgx"`

	// DSN is the data source name handed to sql.Open
	DSN string `mapstructure:"dsn"`

	// MaxOpenConns bounds the connection pool (0 = driver default)
	MaxOpenConns int `mapstructure:"max_open_conns" validate:"omitempty,gte=0"`

	// CreateSchema creates the users table if it is missing
	CreateSchema bool `mapstructure:"create_schema"`

	// Cost is the bcrypt cost (0 = bcrypt.DefaultCost)
	Cost int `mapstructure:"cost"`
}

// SQLStore reads users from a "users" table with columns (id, username, pwd).
//
// Each Validate call borrows a connection from the database/sql pool for the
// duration of the query.
type SQLStore struct {
	db     *sql.DB
	driver string
	cost   int

	selectQuery string
	insertQuery string
}

// NewSQLStore opens the database and verifies connectivity.
func NewSQLStore(ctx context.Context, cfg SQLStoreConfig) (*SQLStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported sql driver: %s", driver)
	}
	if cfg.DSN == "" {
		return nil, errors.New("sql credential store: dsn is required")
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to %s database: %w", driver, err)
	}

	s := &SQLStore{db: db, driver: driver, cost: cfg.Cost}
	s.selectQuery = s.rebind("SELECT pwd FROM users WHERE username = ?")
	s.insertQuery = s.rebind("INSERT INTO users (username, pwd) VALUES (?, ?)")

	if cfg.CreateSchema {
		if err := s.createSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	logger.Debug("SQL credential store connected: driver=%s", driver)
	return s, nil
}

// rebind converts '?' placeholders into the driver's positional form.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) createSchema(ctx context.Context) error {
	var ddl string
	switch s.driver {
	case DriverPostgres:
		ddl = `CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			pwd TEXT NOT NULL
		)`
	default:
		ddl = `CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			pwd TEXT NOT NULL
		)`
	}

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	return nil
}

func (s *SQLStore) Validate(ctx context.Context, username, password string) error {
	var hash sql.NullString
	err := s.db.QueryRowContext(ctx, s.selectQuery, username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("user %q: %w", username, ErrUserNotFound)
	}
	if err != nil {
		return fmt.Errorf("query user %q: %w", username, err)
	}

	// A row with an empty password is treated as a missing user.
	if !hash.Valid || hash.String == "" {
		return fmt.Errorf("user %q: %w", username, ErrUserNotFound)
	}

	return comparePassword([]byte(hash.String), password, username)
}

func (s *SQLStore) AddUser(ctx context.Context, username, password string) error {
	if err := validateInput(username, password); err != nil {
		return err
	}

	err := s.Validate(ctx, username, password)
	switch {
	case err == nil, errors.Is(err, ErrPasswordMismatch):
		return fmt.Errorf("user %q: %w", username, ErrUserExists)
	case !errors.Is(err, ErrUserNotFound):
		return err
	}

	hash, err := hashPassword(password, s.cost)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, s.insertQuery, username, string(hash)); err != nil {
		return fmt.Errorf("insert user %q: %w", username, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
