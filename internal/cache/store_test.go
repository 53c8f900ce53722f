// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var errDatabaseDown = errors.New("database down")

func TestStoreLoadAll(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	store := NewStoreWithDB(db)

	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"hash", "backend", "query", "normalized", "response", "created_at", "hits"}).
		AddRow("h1", "local", "What is DNS?", "what is dns", "DNS maps names to addresses.", created, 3).
		AddRow("h2", "cloud", "Explain TCP.", "explain tcp", "TCP is a reliable transport.", created, 0)

	mock.ExpectQuery("SELECT hash, backend, query, normalized, response, created_at, hits FROM response_cache").
		WillReturnRows(rows)

	entries, err := store.LoadAll()
	if err != nil {
		t.Fatalf("error was not expected while loading entries: %s", err)
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Hash != "h1" || entries[0].Backend != "local" || entries[0].Hits != 3 {
		t.Errorf("first entry mismatch: %+v", entries[0])
	}
	if !entries[0].CreatedAt.Equal(created) {
		t.Errorf("created_at = %v, want %v", entries[0].CreatedAt, created)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestStoreUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	store := NewStoreWithDB(db)

	e := &Entry{
		Hash:       "h1",
		Backend:    "local",
		Query:      "What is DNS?",
		Normalized: "what is dns",
		Response:   "DNS maps names to addresses.",
		CreatedAt:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Hits:       0,
	}

	mock.ExpectExec("INSERT INTO response_cache").
		WithArgs(e.Hash, e.Backend, e.Query, e.Normalized, e.Response, e.CreatedAt, e.Hits).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.Upsert(e); err != nil {
		t.Errorf("error was not expected while upserting: %s", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestStoreIncrementHits(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	store := NewStoreWithDB(db)

	mock.ExpectExec("UPDATE response_cache SET hits").
		WithArgs("h1", "local").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.IncrementHits("h1", "local"); err != nil {
		t.Errorf("error was not expected while incrementing hits: %s", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestStoreDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	store := NewStoreWithDB(db)

	mock.ExpectExec("DELETE FROM response_cache").
		WithArgs("h1", "local").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Delete("h1", "local"); err != nil {
		t.Errorf("error was not expected while deleting: %s", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestStoreLoadAllQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	store := NewStoreWithDB(db)

	mock.ExpectQuery("SELECT hash, backend").WillReturnError(errDatabaseDown)

	if _, err := store.LoadAll(); err == nil {
		t.Fatal("expected load error to propagate")
	}
}
