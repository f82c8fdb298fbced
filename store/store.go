// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package store keeps the operator setpoints and the process phase across
// restarts in a SQLite database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Keys of the persisted records.
const (
	KeyTemperature = "temperature"
	KeyPH          = "ph"
	KeyDO          = "do"
	KeyCO2         = "CO2"
	KeyO2          = "O2"
	KeyPhase       = "state"
)

// ErrNotFound is returned when a key was never written.
var ErrNotFound = errors.New("store: not found")

// Store is a durable key-value table.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}
	// Every write is a setpoint change; make it durable before returning.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS parameters (
		key TEXT PRIMARY KEY,
		value NOT NULL,
		updated_at DATETIME NOT NULL
	);`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(key string, dst any) error {
	err := s.db.QueryRow(`SELECT value FROM parameters WHERE key = ?`, key).Scan(dst)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: get %s: %w", key, err)
	}
	return nil
}

func (s *Store) put(key string, v any) error {
	_, err := s.db.Exec(`
	INSERT INTO parameters (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, v, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: put %s: %w", key, err)
	}
	return nil
}

// Float returns the number stored under key.
func (s *Store) Float(key string) (float64, error) {
	var v float64
	if err := s.get(key, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// PutFloat stores v under key.
func (s *Store) PutFloat(key string, v float64) error {
	return s.put(key, v)
}

// Int returns the integer stored under key.
func (s *Store) Int(key string) (int, error) {
	var v int64
	if err := s.get(key, &v); err != nil {
		return 0, err
	}
	return int(v), nil
}

// PutInt stores v under key.
func (s *Store) PutInt(key string, v int) error {
	return s.put(key, int64(v))
}
