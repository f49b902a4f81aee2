package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/boddenberg/tradedesk-bfa-go/internal/domain"
)

const profileColumns = `id, email, first_name, last_name, company, role, avatar_url, is_active, created_at, updated_at`

const (
	selectProfileQuery = `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`

	insertProfileQuery = `INSERT INTO profiles (id, email, first_name, last_name, company, role, avatar_url, is_active)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, 'User'), $7, COALESCE($8, true))
RETURNING ` + profileColumns
)

const (
	uniqueViolation     = "23505"
	invalidTextRepr     = "22P02"
	profileResourceName = "profile"
)

// DBTX is the subset of *sql.DB the store needs.
type DBTX interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ProfileStore implements port.ProfileStore on database/sql.
type ProfileStore struct {
	db     DBTX
	logger *zap.Logger
}

// NewProfileStore creates a store over db.
func NewProfileStore(db DBTX, logger *zap.Logger) *ProfileStore {
	return &ProfileStore{db: db, logger: logger}
}

func scanProfile(row *sql.Row) (*domain.ProfileRow, error) {
	var p domain.ProfileRow
	err := row.Scan(&p.ID, &p.Email, &p.FirstName, &p.LastName, &p.Company,
		&p.Role, &p.AvatarURL, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *ProfileStore) mapError(err error, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.ErrNotFound{Resource: profileResourceName, ID: id}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return &domain.ErrUniqueViolation{Resource: profileResourceName, ID: id}
		case invalidTextRepr:
			return &domain.ErrValidation{Field: "id", Message: pgErr.Message}
		}
	}
	s.logger.Warn("profile query failed", zap.String("user_id", id), zap.Error(err))
	return &domain.ErrExternalService{Service: "postgres", Err: fmt.Errorf("db error: %w", err)}
}

// SelectProfileByID fetches the profile keyed by the principal id.
func (s *ProfileStore) SelectProfileByID(ctx context.Context, id string) (*domain.ProfileRow, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx, selectProfileQuery, id))
	if err != nil {
		return nil, s.mapError(err, id)
	}
	return p, nil
}

// InsertProfile creates a profile row. Nil role and active flag take the
// column defaults.
func (s *ProfileStore) InsertProfile(ctx context.Context, row *domain.ProfileRow) (*domain.ProfileRow, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx, insertProfileQuery,
		row.ID, row.Email, row.FirstName, row.LastName, row.Company,
		row.Role, row.AvatarURL, row.IsActive))
	if err != nil {
		return nil, s.mapError(err, row.ID)
	}
	return p, nil
}

// UpdateProfile applies the non-nil fields of update.
func (s *ProfileStore) UpdateProfile(ctx context.Context, id string, update domain.ProfileUpdate) (*domain.ProfileRow, error) {
	query, args := buildUpdate(id, update)
	if query == "" {
		return s.SelectProfileByID(ctx, id)
	}
	p, err := scanProfile(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, s.mapError(err, id)
	}
	return p, nil
}

func buildUpdate(id string, u domain.ProfileUpdate) (string, []any) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if u.FirstName != nil {
		add("first_name", *u.FirstName)
	}
	if u.LastName != nil {
		add("last_name", *u.LastName)
	}
	if u.Company != nil {
		add("company", *u.Company)
	}
	if u.Role != nil {
		add("role", string(*u.Role))
	}
	if u.Avatar != nil {
		add("avatar_url", *u.Avatar)
	}
	if u.IsActive != nil {
		add("is_active", *u.IsActive)
	}
	if len(sets) == 0 {
		return "", nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE profiles SET %s, updated_at = now() WHERE id = $%d RETURNING %s",
		strings.Join(sets, ", "), len(args), profileColumns)
	return query, args
}
