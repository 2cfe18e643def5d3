package memstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aiovoice/recall/internal/credential"
)

// Engine settings live in the config table next to the memories so a single
// file carries the whole persistent state. Secret values (API keys) are
// encrypted at rest; GetConfig decrypts transparently and passes legacy
// plaintext values through unchanged.

// SetConfig upserts a setting. With secret set the value is encrypted with
// the machine-derived key before it hits the database.
func (s *Store) SetConfig(ctx context.Context, key, value string, secret bool) error {
	db, err := s.ready()
	if err != nil {
		return err
	}

	stored := value
	if secret {
		if s.creds == nil {
			return errors.New("credential manager unavailable")
		}
		stored, err = s.creds.Encrypt(value)
		if err != nil {
			return fmt.Errorf("encrypt setting %q: %w", key, err)
		}
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO config (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, stored)
	if err != nil {
		return fmt.Errorf("save setting %q: %w", key, err)
	}
	return nil
}

// GetConfig reads a setting, decrypting encrypted values. The bool reports
// whether the key existed.
func (s *Store) GetConfig(ctx context.Context, key string) (string, bool, error) {
	db, err := s.ready()
	if err != nil {
		return "", false, err
	}

	var stored string
	err = db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read setting %q: %w", key, err)
	}

	if credential.IsEncrypted(stored) {
		if s.creds == nil {
			return "", true, errors.New("credential manager unavailable")
		}
		plain, err := s.creds.Decrypt(stored)
		if err != nil {
			return "", true, fmt.Errorf("decrypt setting %q: %w", key, err)
		}
		return plain, true, nil
	}
	return stored, true, nil
}

// ListConfig returns every setting key with displayable values: secrets are
// decrypted and then masked, never shown whole.
func (s *Store) ListConfig(ctx context.Context) (map[string]string, error) {
	db, err := s.ready()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT key, value FROM config ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, stored string
		if err := rows.Scan(&key, &stored); err != nil {
			return nil, err
		}
		if credential.IsEncrypted(stored) {
			masked := "****"
			if s.creds != nil {
				if plain, err := s.creds.Decrypt(stored); err == nil {
					masked = credential.MaskSecret(plain)
				}
			}
			out[key] = masked
			continue
		}
		out[key] = stored
	}
	return out, rows.Err()
}

// DeleteConfig removes a setting if present.
func (s *Store) DeleteConfig(ctx context.Context, key string) error {
	db, err := s.ready()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM config WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete setting %q: %w", key, err)
	}
	return nil
}
