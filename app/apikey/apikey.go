// Package apikey keeps the provider API key in the config table and renders its masked form for display.
package apikey

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"

	"github.com/umputun/nanoledger/app/common"
	"github.com/umputun/nanoledger/app/store"
)

// ConfigKey is the config entry holding the key
const ConfigKey = "gemini_api_key"

// keyPrefix is the format check of provider keys
const keyPrefix = "AI"

// Status is the displayable state of the key. Masked is nil when no key is stored.
type Status struct {
	HasKey bool    `json:"has_key" yaml:"has_key"`
	Masked *string `json:"masked" yaml:"masked"`
}

// Store manages the API key
type Store struct {
	store *store.Store
}

// New makes api key store on top of the given store
func New(s *store.Store) *Store {
	return &Store{store: s}
}

// Status reports whether a non-empty key is stored and its masked form
func (s *Store) Status(ctx context.Context) (Status, error) {
	key, err := s.get(ctx)
	if err != nil {
		return Status{}, err
	}
	if key == "" {
		return Status{}, nil
	}
	masked := Mask(key)
	return Status{HasKey: true, Masked: &masked}, nil
}

// Save validates and stores the key, replacing the previous one
func (s *Store) Save(ctx context.Context, key string) error {
	if !strings.HasPrefix(key, keyPrefix) {
		return common.ErrInvalidKey
	}
	err := s.store.Do(ctx, func(q sqlx.ExtContext) error {
		_, err := q.ExecContext(ctx, `INSERT INTO config (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, ConfigKey, key)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save api key: %w", err)
	}
	log.Printf("[INFO] api key saved, %s", Mask(key))
	return nil
}

// Delete removes the key, no-op if nothing stored
func (s *Store) Delete(ctx context.Context) error {
	err := s.store.Do(ctx, func(q sqlx.ExtContext) error {
		_, err := q.ExecContext(ctx, `DELETE FROM config WHERE key = ?`, ConfigKey)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	log.Printf("[INFO] api key deleted")
	return nil
}

// Raw returns the unmasked key for the provider client. Never show it to the user.
func (s *Store) Raw(ctx context.Context) (string, error) {
	key, err := s.get(ctx)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", common.ErrNotConfigured
	}
	return key, nil
}

// Mask returns display form of the key: first 2 and last 3 characters for keys longer than 8,
// fixed placeholder otherwise.
func Mask(key string) string {
	r := []rune(key)
	if len(r) <= 8 {
		return "****"
	}
	return string(r[:2]) + "..." + string(r[len(r)-3:])
}

// get returns stored key or empty string if none
func (s *Store) get(ctx context.Context) (string, error) {
	var key string
	err := s.store.Do(ctx, func(q sqlx.ExtContext) error {
		return sqlx.GetContext(ctx, q, &key, `SELECT value FROM config WHERE key = ?`, ConfigKey)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read api key: %w", err)
	}
	return key, nil
}
