package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"polyscore/internal/domain"
)

// HashKey returns a stable SHA-256 hex digest for the provided key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// InsertPlayerKey stores a hashed key. KeyHash must already contain the hashed value.
func (r Repo) InsertPlayerKey(ctx context.Context, key domain.PlayerKey) error {
	if key.ID == "" {
		return errors.New("id required")
	}
	if key.PlayerID == "" {
		return errors.New("player_id required")
	}
	if key.KeyHash == "" {
		return errors.New("key_hash required")
	}
	if key.CreatedAt == "" {
		key.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO player_keys(id, player_id, name, key_hash, created_at) VALUES (?,?,?,?,?)`,
		key.ID, key.PlayerID, nullable(key.Name), key.KeyHash, key.CreatedAt)
	return err
}

// GetPlayerKeyByHash returns an unrevoked key by its hashed value.
func (r Repo) GetPlayerKeyByHash(ctx context.Context, hash string) (domain.PlayerKey, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, player_id, COALESCE(name,''), key_hash, created_at, revoked_at FROM player_keys WHERE key_hash=? AND revoked_at IS NULL LIMIT 1`, hash)
	return scanPlayerKey(row)
}

// ListPlayerKeys returns keys, optionally filtered by player.
func (r Repo) ListPlayerKeys(ctx context.Context, playerID string) ([]domain.PlayerKey, error) {
	query := `SELECT id, player_id, COALESCE(name,''), key_hash, created_at, revoked_at FROM player_keys`
	var args []any
	if playerID != "" {
		query += ` WHERE player_id=?`
		args = append(args, playerID)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []domain.PlayerKey
	for rows.Next() {
		key, err := scanPlayerKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// RevokePlayerKey marks a key unusable. Revoking twice is ErrNotFound.
func (r Repo) RevokePlayerKey(ctx context.Context, id string, at time.Time) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id required")
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE player_keys SET revoked_at=? WHERE id=? AND revoked_at IS NULL`, at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPlayerKey(row scanner) (domain.PlayerKey, error) {
	var key domain.PlayerKey
	var revoked sql.NullString
	err := row.Scan(&key.ID, &key.PlayerID, &key.Name, &key.KeyHash, &key.CreatedAt, &revoked)
	if err == sql.ErrNoRows {
		return domain.PlayerKey{}, ErrNotFound
	}
	if err != nil {
		return domain.PlayerKey{}, err
	}
	if revoked.Valid {
		key.RevokedAt = &revoked.String
	}
	return key, nil
}
