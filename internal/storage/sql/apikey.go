package sql

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/zentral/zentral/internal/domain"
)

const apiKeyColumns = `id, name, key_hash, key_prefix, created_at, last_used_at`

func createAPIKey(ctx context.Context, db dbInterface, key *domain.APIKey) error {
	_, err := sqlx.NamedExecContext(ctx, db,
		`INSERT INTO api_keys (`+apiKeyColumns+`)
		 VALUES (:id, :name, :key_hash, :key_prefix, :created_at, :last_used_at)`, key)
	return wrapUniqueError(err)
}

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return createAPIKey(ctx, s.db, key)
}

func (t *Tx) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return createAPIKey(ctx, t.tx, key)
}

func getAPIKeyByHash(ctx context.Context, db dbInterface, keyHash string) (*domain.APIKey, error) {
	key := new(domain.APIKey)
	if err := db.GetContext(ctx, key,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, keyHash); err != nil {
		return nil, wrapNoRows(err, domain.ErrNotFound)
	}
	return key, nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	return getAPIKeyByHash(ctx, s.db, keyHash)
}

func (t *Tx) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	return getAPIKeyByHash(ctx, t.tx, keyHash)
}

// listAPIKeys returns the newest keys first.
func listAPIKeys(ctx context.Context, db dbInterface) ([]*domain.APIKey, error) {
	keys := []*domain.APIKey{}
	err := db.SelectContext(ctx, &keys,
		`SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at DESC, id`)
	return keys, err
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	return listAPIKeys(ctx, s.db)
}

func (t *Tx) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	return listAPIKeys(ctx, t.tx)
}

func deleteAPIKey(ctx context.Context, db dbInterface, id string) error {
	return expectRows(db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id))
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	return deleteAPIKey(ctx, s.db, id)
}

func (t *Tx) DeleteAPIKey(ctx context.Context, id string) error {
	return deleteAPIKey(ctx, t.tx, id)
}

func touchAPIKey(ctx context.Context, db dbInterface, id string, at time.Time) error {
	return expectRows(db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, at, id))
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	return touchAPIKey(ctx, s.db, id, time.Now().UTC())
}

func (t *Tx) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	return touchAPIKey(ctx, t.tx, id, time.Now().UTC())
}

func countAPIKeys(ctx context.Context, db dbInterface) (n int, err error) {
	err = db.GetContext(ctx, &n, `SELECT COUNT(*) FROM api_keys`)
	return n, err
}

func (s *Store) CountAPIKeys(ctx context.Context) (int, error) {
	return countAPIKeys(ctx, s.db)
}

func (t *Tx) CountAPIKeys(ctx context.Context) (int, error) {
	return countAPIKeys(ctx, t.tx)
}
