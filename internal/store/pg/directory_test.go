package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"accessdesk.org/internal/directory"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func userRows() *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "username", "first_name", "last_name", "email",
		"display_name", "hashed_password", "status", "created_at", "updated_at",
	}).AddRow("u1", "jdoe", "John", "Doe", "john@example.com", "John Doe", "hash", "active", now, now)
}

func TestCreateUserUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`insert into users`).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := store.CreateUser(context.Background(), directory.User{ID: "u1", Email: "john@example.com"})
	if !errors.Is(err, directory.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetUserNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`select .+ from users where id`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetUser(context.Background(), "missing")
	if !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateUserBuildsPatch(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`update users set email = \$1, status = \$2, updated_at = now\(\) where id = \$3`).
		WithArgs("new@example.com", "disabled", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`select .+ from users where id`).
		WithArgs("u1").
		WillReturnRows(userRows())

	email := "new@example.com"
	status := "disabled"
	_, err := store.UpdateUser(context.Background(), "u1", directory.UserPatch{Email: &email, Status: &status})
	if err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateUserNoRows(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`update users set`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	email := "new@example.com"
	_, err := store.UpdateUser(context.Background(), "missing", directory.UserPatch{Email: &email})
	if !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssignRoleConflictAndFK(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`insert into user_roles`).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	if err := store.AssignRole(context.Background(), "u1", "r1"); !errors.Is(err, directory.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	mock.ExpectExec(`insert into user_roles`).
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	if err := store.AssignRole(context.Background(), "u1", "ghost"); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUnassignRoleNotAssigned(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`delete from user_roles`).
		WithArgs("u1", "r1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.UnassignRole(context.Background(), "u1", "r1"); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReplaceRoleUsersRollsBackOnUnknownUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`select 1 from roles`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec(`delete from user_roles where role_id`).
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(`select 1 from users`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec(`insert into user_roles`).
		WithArgs("u1", "r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`select 1 from users`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	mock.ExpectRollback()

	err := store.ReplaceRoleUsers(context.Background(), "r1", []string{"u1", "ghost"})
	if !errors.Is(err, directory.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteTokenNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`delete from tokens`).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.DeleteToken(context.Background(), "missing"); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestActivitiesForToken(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "endpoint", "timestamp", "request", "response", "status_code", "token_id",
	}).
		AddRow("a2", "GET /api/v1/users", now, nil, `[]`, 200, "t1").
		AddRow("a1", "POST /api/v1/users", now.Add(-time.Minute), `{"x":1}`, `{"id":"u1"}`, 201, "t1")

	mock.ExpectQuery(`select .+ from activities`).
		WithArgs("t1", 0, 100).
		WillReturnRows(rows)

	acts, err := store.ActivitiesForToken(context.Background(), "t1", 0, 100)
	if err != nil {
		t.Fatalf("ActivitiesForToken failed: %v", err)
	}
	if len(acts) != 2 {
		t.Fatalf("expected 2 activities, got %d", len(acts))
	}
	if acts[0].Request != nil {
		t.Fatalf("expected nil request for GET row, got %v", *acts[0].Request)
	}
	if acts[1].Request == nil || *acts[1].Request != `{"x":1}` {
		t.Fatalf("unexpected request capture: %v", acts[1].Request)
	}
}
