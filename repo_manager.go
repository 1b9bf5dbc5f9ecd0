package auth

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// Dialect names a supported database engine
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DatabaseTarget is a parsed DATABASE_URL
type DatabaseTarget struct {
	Dialect    Dialect
	DriverName string
	DSN        string
}

// ParseDatabaseURL maps a DATABASE_URL to a driver and DSN. Accepted forms:
// postgres://, postgresql://, postgresql+<driver>://, sqlite://<path>,
// sqlite:///<path>, sqlite+<driver>:///<path> and file: DSNs.
func ParseDatabaseURL(raw string) (DatabaseTarget, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DatabaseTarget{}, errors.New("database url is empty", errors.CategoryValidation).
			WithTextCode(TextCodeUnsupportedDatabaseURL)
	}

	if strings.HasPrefix(raw, "file:") {
		return DatabaseTarget{Dialect: DialectSQLite, DriverName: sqliteshim.ShimName, DSN: raw}, nil
	}

	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return DatabaseTarget{}, errors.New(fmt.Sprintf("database url %q has no scheme", redactURL(raw)), errors.CategoryValidation).
			WithTextCode(TextCodeUnsupportedDatabaseURL)
	}

	// postgresql+psycopg2, sqlite+pysqlite and friends
	base, _, _ := strings.Cut(strings.ToLower(scheme), "+")

	switch base {
	case "postgres", "postgresql":
		return DatabaseTarget{Dialect: DialectPostgres, DriverName: "pgx", DSN: "postgres://" + rest}, nil
	case "sqlite", "sqlite3":
		path := strings.TrimPrefix(rest, "/")
		if path == "" || path == ":memory:" {
			path = "file::memory:?cache=shared"
		}
		return DatabaseTarget{Dialect: DialectSQLite, DriverName: sqliteshim.ShimName, DSN: path}, nil
	}

	return DatabaseTarget{}, errors.New(fmt.Sprintf("database scheme %q is not supported", scheme), errors.CategoryValidation).
		WithTextCode(TextCodeUnsupportedDatabaseURL)
}

// OpenDB opens a bun database for a DATABASE_URL
func OpenDB(databaseURL string) (*bun.DB, Dialect, error) {
	target, err := ParseDatabaseURL(databaseURL)
	if err != nil {
		return nil, "", err
	}

	sqldb, err := sql.Open(target.DriverName, target.DSN)
	if err != nil {
		return nil, "", errors.Wrap(err, errors.CategoryInternal, "failed to open database")
	}

	switch target.Dialect {
	case DialectPostgres:
		return bun.NewDB(sqldb, pgdialect.New()), target.Dialect, nil
	default:
		// sqlite serialises writers; one connection avoids SQLITE_BUSY and
		// keeps in-memory databases alive
		sqldb.SetMaxOpenConns(1)
		return bun.NewDB(sqldb, sqlitedialect.New()), target.Dialect, nil
	}
}

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Users() Users
	DB() *bun.DB
	Dialect() Dialect
	Close() error
}

var _ RepositoryManager = (*mngr)(nil)

type mngr struct {
	db      *bun.DB
	dialect Dialect
	users   Users
	logger  Logger
}

// NewRepositoryManager wraps an open bun database
func NewRepositoryManager(db *bun.DB, dialect Dialect, logger Logger) RepositoryManager {
	logger = resolveLogger(logger)
	return &mngr{
		db:      db,
		dialect: dialect,
		users:   NewUsersRepository(db, WithUsersLogger(logger)),
		logger:  logger,
	}
}

// OpenRepositoryManager opens DATABASE_URL and wraps it
func OpenRepositoryManager(databaseURL string, logger Logger) (RepositoryManager, error) {
	db, dialect, err := OpenDB(databaseURL)
	if err != nil {
		return nil, err
	}
	return NewRepositoryManager(db, dialect, logger), nil
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("database should be initialized", errors.CategoryInternal)
	}

	if m.users == nil {
		return errors.New("repository users should be initialized", errors.CategoryInternal)
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

// Migrate applies the embedded goose migrations for the dialect
func (m mngr) Migrate(ctx context.Context) error {
	fsys, gooseDialect, err := migrationsFor(m.dialect)
	if err != nil {
		return err
	}

	provider, err := goose.NewProvider(gooseDialect, m.db.DB, fsys)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to create migration provider")
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to apply migrations")
	}

	for _, r := range results {
		m.logger.Info("migration applied", "version", r.Source.Version, "path", r.Source.Path)
	}

	return nil
}

func (m mngr) Ping(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "database is not reachable")
	}
	return nil
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) DB() *bun.DB {
	return m.db
}

func (m mngr) Dialect() Dialect {
	return m.dialect
}

func (m mngr) Close() error {
	return m.db.Close()
}

func migrationsFor(dialect Dialect) (fs.FS, goose.Dialect, error) {
	var (
		dir string
		gd  goose.Dialect
	)

	switch dialect {
	case DialectPostgres:
		dir, gd = "data/sql/migrations/postgres", goose.DialectPostgres
	case DialectSQLite:
		dir, gd = "data/sql/migrations/sqlite", goose.DialectSQLite3
	default:
		return nil, "", errors.New(fmt.Sprintf("no migrations for dialect %q", dialect), errors.CategoryInternal)
	}

	sub, err := fs.Sub(GetMigrationsFS(), dir)
	if err != nil {
		return nil, "", errors.Wrap(err, errors.CategoryInternal, "failed to open migrations")
	}

	return sub, gd, nil
}
