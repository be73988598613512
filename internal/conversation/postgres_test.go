package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/into-the-night/fin-breaker/internal/agent/core"
)

func setupPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	return NewPostgresStore(db), mock, func() { db.Close() }
}

func TestPostgresStoreSave(t *testing.T) {
	st, mock, cleanup := setupPostgresStore(t)
	defer cleanup()

	state := sampleState()
	raw, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO conversation_states")).
		WithArgs("conv-1", "Did NVDA beat earnings?", "evaluating", 1, raw).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.Save(context.Background(), state); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStoreLoad(t *testing.T) {
	st, mock, cleanup := setupPostgresStore(t)
	defer cleanup()

	raw, _ := json.Marshal(sampleState())
	mock.ExpectQuery(regexp.QuoteMeta(selectConversationSQL)).
		WithArgs("conv-1").
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow(raw))

	got, err := st.Load(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Question != "Did NVDA beat earnings?" || len(got.Evidence) != 1 || got.Evidence[0].Arguments["ticker"] != "NVDA" {
		t.Fatalf("unexpected state %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStoreLoadMissing(t *testing.T) {
	st, mock, cleanup := setupPostgresStore(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(selectConversationSQL)).WithArgs("nope").WillReturnError(sql.ErrNoRows)
	if _, err := st.Load(context.Background(), "nope"); !errors.Is(err, core.ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}
}

func TestPostgresStoreLoadCorrupt(t *testing.T) {
	st, mock, cleanup := setupPostgresStore(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(selectConversationSQL)).WithArgs("bad").
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow([]byte("{not json")))
	if _, err := st.Load(context.Background(), "bad"); err == nil || errors.Is(err, core.ErrStateNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
}
