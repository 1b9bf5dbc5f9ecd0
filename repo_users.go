package auth

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
)

// pgUniqueViolation is the postgres SQLSTATE for unique_violation
const pgUniqueViolation = "23505"

var DeleteUserByUsernameSQL = `DELETE FROM "users"
WHERE
	"users"."username" = ?
RETURNING *;`

// Users is the bun backed credential store
type Users interface {
	CredentialStore

	FindByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*User, error)
	InsertTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	List(ctx context.Context) ([]*User, error)
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, username string) error
	Touch(ctx context.Context, username string) (*User, error)
}

type users struct {
	repository.Repository[*User]
	db     *bun.DB
	logger Logger
}

var (
	_ Users           = (*users)(nil)
	_ CredentialStore = (*users)(nil)
)

// UsersOption configures the users repository
type UsersOption func(*users)

// WithUsersLogger sets the repository logger
func WithUsersLogger(logger Logger) UsersOption {
	return func(u *users) {
		u.logger = resolveLogger(logger)
	}
}

// NewUsersRepository creates the bun users repository
func NewUsersRepository(db *bun.DB, opts ...UsersOption) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
	})

	repoUsers := &users{
		Repository: repo,
		db:         db,
		logger:     defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repoUsers)
		}
	}
	return repoUsers
}

// withConn acquires a dedicated connection for the duration of fn and
// releases it on every exit path.
func (a *users) withConn(ctx context.Context, fn func(conn bun.IDB) error) error {
	conn, err := a.db.Conn(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to acquire database connection")
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			a.logger.Warn("failed to release database connection", "error", cerr)
		}
	}()
	return fn(conn)
}

func (a *users) FindByUsername(ctx context.Context, username string) (*User, error) {
	var out *User
	err := a.withConn(ctx, func(conn bun.IDB) error {
		var err error
		out, err = a.FindByUsernameTx(ctx, conn, username)
		return err
	})
	return out, err
}

func (a *users) FindByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.username = ?", username).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to select user by username")
	}
	return record, nil
}

func (a *users) Insert(ctx context.Context, user *User) (*User, error) {
	var out *User
	err := a.withConn(ctx, func(conn bun.IDB) error {
		var err error
		out, err = a.InsertTx(ctx, conn, user)
		return err
	})
	return out, err
}

func (a *users) InsertTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	if user == nil {
		return nil, errors.New("user must not be nil", errors.CategoryBadInput)
	}

	created, err := a.Repository.CreateTx(ctx, tx, user)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUniquenessViolation
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to insert user")
	}

	return created, nil
}

func (a *users) List(ctx context.Context) ([]*User, error) {
	records := []*User{}
	err := a.withConn(ctx, func(conn bun.IDB) error {
		return conn.NewSelect().
			Model(&records).
			Order("created_at ASC", "username ASC").
			Scan(ctx)
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to list users")
	}
	return records, nil
}

func (a *users) Count(ctx context.Context) (int, error) {
	var count int
	err := a.withConn(ctx, func(conn bun.IDB) error {
		var err error
		count, err = conn.NewSelect().Model((*User)(nil)).Count(ctx)
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, errors.CategoryInternal, "failed to count users")
	}
	return count, nil
}

// Delete removes the record for username. Returns ErrUserNotFound when
// nothing was deleted.
func (a *users) Delete(ctx context.Context, username string) error {
	return a.withConn(ctx, func(conn bun.IDB) error {
		res, err := a.Repository.RawTx(ctx, conn, DeleteUserByUsernameSQL, username)
		if err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to delete user")
		}
		if len(res) == 0 {
			return ErrUserNotFound
		}
		return nil
	})
}

// Touch bumps updated_at for username
func (a *users) Touch(ctx context.Context, username string) (*User, error) {
	var out *User
	err := a.withConn(ctx, func(conn bun.IDB) error {
		record, err := a.FindByUsernameTx(ctx, conn, username)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		record.UpdatedAt = &now
		updated, err := a.Repository.UpdateTx(ctx, conn, record, repository.UpdateByID(record.ID.String()))
		if err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to update user")
		}
		if updated == nil {
			updated = record
		}
		out = updated
		return nil
	})
	return out, err
}

// isUniqueViolation recognises unique constraint failures from postgres
// (pgx) and sqlite drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	if errors.IsCategory(err, errors.CategoryConflict) {
		return true
	}

	for e := err; e != nil; {
		msg := strings.ToLower(e.Error())
		if strings.Contains(msg, "unique constraint failed") ||
			strings.Contains(msg, "duplicate key value violates unique constraint") {
			return true
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}
