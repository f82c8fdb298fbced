// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "bioreactor.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s, path
}

func TestOpenCreatesFile(t *testing.T) {
	s, path := newTestStore(t)
	defer s.Close()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file was not created: %v", err)
	}
}

func TestNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	defer s.Close()
	if _, err := s.Float(KeyTemperature); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Int(KeyPhase); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPutOverwrites(t *testing.T) {
	s, _ := newTestStore(t)
	defer s.Close()
	if err := s.PutFloat(KeyCO2, 50000); err != nil {
		t.Fatal(err)
	}
	if err := s.PutFloat(KeyCO2, 42000.5); err != nil {
		t.Fatal(err)
	}
	v, err := s.Float(KeyCO2)
	if err != nil {
		t.Fatal(err)
	}
	if v != 42000.5 {
		t.Errorf("got %g", v)
	}
}

func TestReopen(t *testing.T) {
	s, path := newTestStore(t)
	if err := s.PutFloat(KeyTemperature, 36.5); err != nil {
		t.Fatal(err)
	}
	if err := s.PutInt(KeyPhase, 3); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if v, err := s.Float(KeyTemperature); err != nil || v != 36.5 {
		t.Errorf("temperature %g %v", v, err)
	}
	if v, err := s.Int(KeyPhase); err != nil || v != 3 {
		t.Errorf("phase %d %v", v, err)
	}
}
