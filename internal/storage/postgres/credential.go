package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"catalog_sync/internal/domain"
)

type CredentialStore struct {
	db *sqlx.DB
}

func NewCredentialStore(db *sqlx.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

type credentialRow struct {
	Platform              string       `db:"platform"`
	AccessToken           string       `db:"access_token"`
	AccessTokenExpiresAt  sql.NullTime `db:"access_token_expires_at"`
	RefreshToken          string       `db:"refresh_token"`
	RefreshTokenExpiresAt sql.NullTime `db:"refresh_token_expires_at"`
	UpdatedAt             time.Time    `db:"updated_at"`
}

// Get returns domain.ErrCredentialAbsent when nothing is stored for platform.
func (s *CredentialStore) Get(ctx context.Context, platform string) (*domain.Credential, error) {
	var row credentialRow
	query := `
		SELECT platform, access_token, access_token_expires_at, refresh_token,
			refresh_token_expires_at, updated_at
		FROM platform_credentials
		WHERE platform = $1`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &row, query, platform)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCredentialAbsent
	}
	if err != nil {
		return nil, err
	}

	return &domain.Credential{
		Platform:              row.Platform,
		AccessToken:           row.AccessToken,
		AccessTokenExpiresAt:  row.AccessTokenExpiresAt.Time,
		RefreshToken:          row.RefreshToken,
		RefreshTokenExpiresAt: row.RefreshTokenExpiresAt.Time,
		UpdatedAt:             row.UpdatedAt,
	}, nil
}

// Save replaces the token pair and both expiries in one statement.
func (s *CredentialStore) Save(ctx context.Context, cred *domain.Credential) error {
	query := `
		INSERT INTO platform_credentials (
			platform, access_token, access_token_expires_at, refresh_token,
			refresh_token_expires_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (platform) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			access_token_expires_at = EXCLUDED.access_token_expires_at,
			refresh_token = EXCLUDED.refresh_token,
			refresh_token_expires_at = EXCLUDED.refresh_token_expires_at,
			updated_at = EXCLUDED.updated_at`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		cred.Platform,
		cred.AccessToken,
		nullTime(cred.AccessTokenExpiresAt),
		cred.RefreshToken,
		nullTime(cred.RefreshTokenExpiresAt),
		cred.UpdatedAt,
	)
	return err
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
