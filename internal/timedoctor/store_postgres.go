package timedoctor

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"worktime-monitor/internal/db"
)

// PostgresStore persists the credential as a singleton row.
//
// Expected schema:
//
//	CREATE TABLE api_credentials (
//	    id          smallint PRIMARY KEY DEFAULT 1 CHECK (id = 1),
//	    token       text NOT NULL,
//	    company_id  text NOT NULL,
//	    expires_at  timestamptz NOT NULL,
//	    fingerprint text NOT NULL,
//	    cached_at   timestamptz NOT NULL
//	);
type PostgresStore struct {
	db *db.DB
}

func NewPostgresStore(dbConn *db.DB) *PostgresStore {
	return &PostgresStore{db: dbConn}
}

func (s *PostgresStore) Load(ctx context.Context) (*Credential, error) {
	var cred Credential
	err := s.db.Pool.QueryRow(ctx,
		`SELECT token, company_id, expires_at, fingerprint, cached_at
		 FROM api_credentials
		 WHERE id = 1`,
	).Scan(&cred.Token, &cred.CompanyID, &cred.ExpiresAt, &cred.Fingerprint, &cred.CachedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if cred.Token == "" {
		return nil, nil
	}
	return &cred, nil
}

func (s *PostgresStore) Save(ctx context.Context, cred *Credential) error {
	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO api_credentials (id, token, company_id, expires_at, fingerprint, cached_at)
		 VALUES (1, $1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
			token = EXCLUDED.token,
			company_id = EXCLUDED.company_id,
			expires_at = EXCLUDED.expires_at,
			fingerprint = EXCLUDED.fingerprint,
			cached_at = EXCLUDED.cached_at`,
		cred.Token, cred.CompanyID, cred.ExpiresAt, cred.Fingerprint, cred.CachedAt,
	)
	return err
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	_, err := s.db.Pool.Exec(ctx, `DELETE FROM api_credentials WHERE id = 1`)
	return err
}
