package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// Setting keys the core reads. allow_follow, allow_comment and enable_rss
// gate behavior; jwt_secret and the push keypair are generated once by the
// install flow and never rotated automatically.
const (
	SettingAllowFollow    = "allow_follow"
	SettingAllowComment   = "allow_comment"
	SettingEnableRSS      = "enable_rss"
	SettingJWTSecret      = "jwt_secret"
	SettingPushPublicKey  = "push_public_key"
	SettingPushPrivateKey = "push_private_key"
)

// GetSetting returns a raw setting value, or "" when the key is unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var value string
	err := s.db.GetContext(ctx, &value, s.rebind(`SELECT value FROM settings WHERE key = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting writes a setting value, inserting or replacing.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`),
		key, value)
	if err != nil {
		return fmt.Errorf("writing setting %s: %w", key, err)
	}
	return nil
}

// BoolSetting reads a boolean setting, falling back to fallback when the
// key is unset or unparsable.
func (s *Store) BoolSetting(ctx context.Context, key string, fallback bool) (bool, error) {
	raw, err := s.GetSetting(ctx, key)
	if err != nil {
		return fallback, err
	}
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback, nil
	}
	return v, nil
}
