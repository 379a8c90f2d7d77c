// Package store provides the key-value persistence collaborator. Values are
// whole JSON documents addressed by key; two engines back the same KV
// interface.
package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/gmsas95/medremind/internal/config"
)

// KV is a synchronous get/set/delete-by-key store.
type KV interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Remove(key string) error
	Close() error
}

// New opens the backend selected by cfg.Storage.Backend.
func New(cfg *config.Config) (KV, error) {
	switch cfg.Storage.Backend {
	case "", "badger":
		path := cfg.Storage.BadgerPath
		if path == "" {
			path = filepath.Join(cfg.Storage.DataDir, "badger")
		}
		return OpenBadger(path)
	case "sqlite":
		path := cfg.Storage.SQLitePath
		if path == "" {
			path = filepath.Join(cfg.Storage.DataDir, "medremind.db")
		}
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// GetObject decodes the JSON document under key into v. It reports false
// when the key is absent.
func GetObject(kv KV, key string, v any) (bool, error) {
	data, ok, err := kv.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// SetObject stores v as a JSON document under key.
func SetObject(kv KV, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return kv.Set(key, data)
}

// GetString returns the raw string under key.
func GetString(kv KV, key string) (string, bool, error) {
	data, ok, err := kv.Get(key)
	if err != nil || !ok {
		return "", false, err
	}
	return string(data), true, nil
}

// SetString stores a raw string under key.
func SetString(kv KV, key, value string) error {
	return kv.Set(key, []byte(value))
}
