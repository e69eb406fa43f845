package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sitekit/oidc-login/internal/data/pgxutil"
	"github.com/sitekit/oidc-login/internal/domain/auth"
	"github.com/sitekit/oidc-login/internal/domain/model"
	"github.com/sitekit/oidc-login/internal/ports"
)

// UserRepo provides database operations for realm users and their groups.
// Backend and frontend users live in separate tables with the same shape,
// except that only backend users carry an admin flag.
type UserRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewUserRepo creates a new UserRepo with real time provider.
func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewUserRepoWithTimeProvider creates a new UserRepo with a custom time provider (useful for tests).
func NewUserRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *UserRepo {
	return &UserRepo{DB: db, timeProvider: tp}
}

func userTable(realm auth.Realm) string {
	if realm == auth.RealmBackend {
		return "backend_users"
	}
	return "frontend_users"
}

func groupTable(realm auth.Realm) string {
	if realm == auth.RealmBackend {
		return "backend_groups"
	}
	return "frontend_groups"
}

// userColumns yields the SELECT/RETURNING list for a realm. Frontend users
// have no admin column, so it is surfaced as a constant false.
func userColumns(realm auth.Realm) string {
	admin := "admin"
	if realm != auth.RealmBackend {
		admin = "false AS admin"
	}
	return "id, username, password, email, name, usergroup, " + admin +
		", disabled, deleted, lock_to_domain, oidc_identifier, start_time, end_time, created_at, updated_at"
}

// FindByOIDCIdentifier looks up a realm user by external identity key. The
// lookup deliberately ignores the disabled and deleted flags so the
// reconciliation policies can decide what to do with such records.
func (r *UserRepo) FindByOIDCIdentifier(ctx context.Context, realm auth.Realm, identifier string) (*model.LocalUser, error) {
	if identifier == "" {
		return nil, errors.New("identifier is required")
	}

	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE oidc_identifier = $1 ORDER BY id LIMIT 1`,
		userColumns(realm), userTable(realm),
	)

	var out model.LocalUser
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, identifier)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.LocalUser])
		return err
	}); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("find user by oidc identifier: %w", err)
	}
	return &out, nil
}

// Insert creates a new realm user and returns the stored record.
func (r *UserRepo) Insert(ctx context.Context, realm auth.Realm, user model.LocalUser) (*model.LocalUser, error) {
	if user.OIDCIdentifier == "" {
		return nil, errors.New("oidc identifier is required")
	}
	if user.Username == "" {
		return nil, errors.New("username is required")
	}

	now := r.timeProvider.Now().UTC()

	cols := "username, password, email, name, usergroup, disabled, deleted, lock_to_domain, oidc_identifier, start_time, end_time, created_at"
	placeholders := "$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12"
	args := []any{
		user.Username, user.Password, user.Email, user.Name, user.Usergroup,
		user.Disabled, user.Deleted, user.LockToDomain, user.OIDCIdentifier,
		user.StartTime, user.EndTime, now,
	}
	if realm == auth.RealmBackend {
		cols += ", admin"
		placeholders += ", $13"
		args = append(args, user.Admin)
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s) RETURNING %s`,
		userTable(realm), cols, placeholders, userColumns(realm),
	)

	var out model.LocalUser
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.LocalUser])
		return err
	}); err != nil {
		return nil, r.mapWriteErr(err, false)
	}
	return &out, nil
}

// Update overwrites the mutable fields of an existing realm user.
func (r *UserRepo) Update(ctx context.Context, realm auth.Realm, user *model.LocalUser) (bool, error) {
	if user == nil {
		return false, errors.New("user is required")
	}
	if user.ID == 0 {
		return false, errors.New("user id is required")
	}

	now := r.timeProvider.Now().UTC()

	set := `username = $2, email = $3, name = $4, usergroup = $5, disabled = $6,
		deleted = $7, oidc_identifier = $8, start_time = $9, end_time = $10, updated_at = $11`
	args := []any{
		user.ID, user.Username, user.Email, user.Name, user.Usergroup,
		user.Disabled, user.Deleted, user.OIDCIdentifier,
		user.StartTime, user.EndTime, now,
	}
	if realm == auth.RealmBackend {
		set += `, admin = $12`
		args = append(args, user.Admin)
	}

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $1`, userTable(realm), set)

	var written bool
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		written = tag.RowsAffected() > 0
		return nil
	}); err != nil {
		return false, r.mapWriteErr(err, true)
	}
	if written {
		user.UpdatedAt = &now
	}
	return written, nil
}

// GroupsByIDs returns the subset of ids that exist in the realm's group
// table and whose domain lock admits the host.
func (r *UserRepo) GroupsByIDs(ctx context.Context, realm auth.Realm, q ports.GroupQuery) ([]int64, error) {
	if len(q.IDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(
		`SELECT id FROM %s WHERE id = ANY($1) AND %s ORDER BY id`,
		groupTable(realm), domainLockClause("$2"),
	)
	return r.collectGroupIDs(ctx, query, q.IDs, q.Host)
}

// GroupsByExternalRole returns group ids whose external role identifier is
// in the given role list, same domain-lock filter.
func (r *UserRepo) GroupsByExternalRole(ctx context.Context, realm auth.Realm, q ports.GroupQuery) ([]int64, error) {
	if len(q.Roles) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(
		`SELECT id FROM %s WHERE external_identifier = ANY($1) AND %s ORDER BY id`,
		groupTable(realm), domainLockClause("$2"),
	)
	return r.collectGroupIDs(ctx, query, q.Roles, q.Host)
}

// domainLockClause admits groups whose lock is unset or matches the request
// host case-insensitively.
func domainLockClause(hostParam string) string {
	return fmt.Sprintf(
		`(lock_to_domain IS NULL OR lock_to_domain = '' OR lower(lock_to_domain) = lower(%s))`,
		hostParam,
	)
}

func (r *UserRepo) collectGroupIDs(ctx context.Context, query string, list any, host string) ([]int64, error) {
	var ids []int64
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, list, strings.TrimSpace(host))
		if err != nil {
			return err
		}
		defer rows.Close()
		ids, err = pgx.CollectRows(rows, pgx.RowTo[int64])
		return err
	}); err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	return ids, nil
}

func (r *UserRepo) mapWriteErr(err error, includeNotFound bool) error {
	if err == nil {
		return nil
	}
	if includeNotFound && errors.Is(err, pgx.ErrNoRows) {
		return ErrUserNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return ErrUserExists
	}
	return err
}

var _ ports.UserStore = (*UserRepo)(nil)
