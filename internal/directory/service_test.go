package directory_test

import (
	"context"
	"errors"
	"testing"

	"accessdesk.org/internal/directory"
	"accessdesk.org/internal/store/mem"
)

func newTestService(t *testing.T) *directory.Service {
	t.Helper()
	svc, err := directory.NewService(mem.New())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

func TestCreateUserDerivesUsername(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, generated, err := svc.CreateUser(ctx, "John", "Doe", "john@example.com", "")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if u.Username != "jdoe" {
		t.Fatalf("expected username jdoe, got %q", u.Username)
	}
	if u.DisplayName != "John Doe" {
		t.Fatalf("expected display name John Doe, got %q", u.DisplayName)
	}
	if u.Status != directory.UserStatusActive {
		t.Fatalf("expected active status, got %q", u.Status)
	}
	if generated == "" {
		t.Fatal("expected a generated password")
	}
	if err := directory.VerifyPassword(u.HashedPassword, generated); err != nil {
		t.Fatalf("generated password does not verify: %v", err)
	}
}

func TestCreateUserUsernameCollision(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.CreateUser(ctx, "John", "Doe", "john@example.com", ""); err != nil {
		t.Fatalf("first CreateUser failed: %v", err)
	}
	u2, _, err := svc.CreateUser(ctx, "Jane", "Doe", "jane@example.com", "")
	if err != nil {
		t.Fatalf("second CreateUser failed: %v", err)
	}
	if u2.Username != "jdoe1" {
		t.Fatalf("expected jdoe1, got %q", u2.Username)
	}
	u3, _, err := svc.CreateUser(ctx, "Jim", "Doe", "jim@example.com", "")
	if err != nil {
		t.Fatalf("third CreateUser failed: %v", err)
	}
	if u3.Username != "jdoe2" {
		t.Fatalf("expected jdoe2, got %q", u3.Username)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.CreateUser(ctx, "John", "Doe", "john@example.com", ""); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	_, _, err := svc.CreateUser(ctx, "Johnny", "Dough", "john@example.com", "")
	if !errors.Is(err, directory.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name                string
		first, last, email  string
		password            string
	}{
		{"digits in name", "J0hn", "Doe", "a@b.com", ""},
		{"empty first", "", "Doe", "a@b.com", ""},
		{"hyphen in last", "John", "Doe-Smith", "a@b.com", ""},
		{"bad email", "John", "Doe", "not-an-email", ""},
		{"short password", "John", "Doe", "a@b.com", "abc"},
	}
	for _, tc := range cases {
		if _, _, err := svc.CreateUser(ctx, tc.first, tc.last, tc.email, tc.password); !errors.Is(err, directory.ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", tc.name, err)
		}
	}
}

func TestUpdateUserKeepsUsername(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, _, err := svc.CreateUser(ctx, "John", "Doe", "john@example.com", "")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	last := "Smith"
	updated, err := svc.UpdateUser(ctx, u.ID, directory.UserUpdate{LastName: &last})
	if err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}
	if updated.Username != "jdoe" {
		t.Fatalf("username must not change on API update, got %q", updated.Username)
	}
	if updated.DisplayName != "John Smith" {
		t.Fatalf("display name should follow name change, got %q", updated.DisplayName)
	}
}

func TestUpdateUserRederiveUsername(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, _, err := svc.CreateUser(ctx, "John", "Doe", "john@example.com", "")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	last := "Smith"
	updated, err := svc.UpdateUserRederiveUsername(ctx, u.ID, directory.UserUpdate{LastName: &last})
	if err != nil {
		t.Fatalf("UpdateUserRederiveUsername failed: %v", err)
	}
	if updated.Username != "jsmith" {
		t.Fatalf("expected rederived username jsmith, got %q", updated.Username)
	}
}

func TestUpdateUserRederiveKeepsOwnUsername(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, _, err := svc.CreateUser(ctx, "John", "Doe", "john@example.com", "")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	// Renaming to the same letters must not produce jdoe1.
	first := "John"
	updated, err := svc.UpdateUserRederiveUsername(ctx, u.ID, directory.UserUpdate{FirstName: &first})
	if err != nil {
		t.Fatalf("UpdateUserRederiveUsername failed: %v", err)
	}
	if updated.Username != "jdoe" {
		t.Fatalf("user should keep own username, got %q", updated.Username)
	}
}

func TestUpdateUserEmptyPasswordIsNoop(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, generated, err := svc.CreateUser(ctx, "John", "Doe", "john@example.com", "")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	empty := ""
	updated, err := svc.UpdateUser(ctx, u.ID, directory.UserUpdate{Password: &empty})
	if err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}
	if err := directory.VerifyPassword(updated.HashedPassword, generated); err != nil {
		t.Fatal("empty password update must not change the stored hash")
	}

	pw := "newsecret"
	updated, err = svc.UpdateUser(ctx, u.ID, directory.UserUpdate{Password: &pw})
	if err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}
	if err := directory.VerifyPassword(updated.HashedPassword, pw); err != nil {
		t.Fatalf("new password does not verify: %v", err)
	}
}

func TestUpdateUserDuplicateEmail(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.CreateUser(ctx, "John", "Doe", "john@example.com", ""); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	u2, _, err := svc.CreateUser(ctx, "Jane", "Roe", "jane@example.com", "")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	email := "john@example.com"
	if _, err := svc.UpdateUser(ctx, u2.ID, directory.UserUpdate{Email: &email}); !errors.Is(err, directory.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestUpdateUserBadStatus(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, _, err := svc.CreateUser(ctx, "John", "Doe", "john@example.com", "")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	status := "frozen"
	if _, err := svc.UpdateUser(ctx, u.ID, directory.UserUpdate{Status: &status}); !errors.Is(err, directory.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRoleLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, "admins", "administrators")
	if err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}
	if _, err := svc.CreateRole(ctx, "admins", ""); !errors.Is(err, directory.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate role, got %v", err)
	}

	u, _, err := svc.CreateUser(ctx, "John", "Doe", "john@example.com", "")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	if err := svc.AssignRole(ctx, u.ID, role.ID); err != nil {
		t.Fatalf("AssignRole failed: %v", err)
	}
	if err := svc.AssignRole(ctx, u.ID, role.ID); !errors.Is(err, directory.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate assignment, got %v", err)
	}

	withRoles, err := svc.GetUserWithRoles(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserWithRoles failed: %v", err)
	}
	if len(withRoles.RoleIDs) != 1 || withRoles.RoleIDs[0] != role.ID {
		t.Fatalf("unexpected role ids: %v", withRoles.RoleIDs)
	}

	if err := svc.UnassignRole(ctx, u.ID, role.ID); err != nil {
		t.Fatalf("UnassignRole failed: %v", err)
	}
	if err := svc.UnassignRole(ctx, u.ID, role.ID); !errors.Is(err, directory.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unassigned role, got %v", err)
	}
}

func TestAssignRoleMissingSides(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, "admins", "")
	if err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}
	if err := svc.AssignRole(ctx, "missing", role.ID); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing user, got %v", err)
	}

	u, _, err := svc.CreateUser(ctx, "John", "Doe", "john@example.com", "")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := svc.AssignRole(ctx, u.ID, "missing"); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing role, got %v", err)
	}
}

func TestReplaceRoleUsersUnknownID(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, "admins", "")
	if err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}
	u, _, err := svc.CreateUser(ctx, "John", "Doe", "john@example.com", "")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := svc.AssignRole(ctx, u.ID, role.ID); err != nil {
		t.Fatalf("AssignRole failed: %v", err)
	}

	if err := svc.ReplaceRoleUsers(ctx, role.ID, []string{u.ID, "ghost"}); !errors.Is(err, directory.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	// Membership must be untouched after the failed replace.
	withUsers, err := svc.GetRoleWithUsers(ctx, role.ID)
	if err != nil {
		t.Fatalf("GetRoleWithUsers failed: %v", err)
	}
	if len(withUsers.UserIDs) != 1 || withUsers.UserIDs[0] != u.ID {
		t.Fatalf("membership changed after failed replace: %v", withUsers.UserIDs)
	}
}

func TestSearchUsers(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.CreateUser(ctx, "John", "Doe", "john@example.com", ""); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if _, _, err := svc.CreateUser(ctx, "Jane", "Roe", "jane@other.org", ""); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	got, err := svc.SearchUsers(ctx, "example.com", 0, 100)
	if err != nil {
		t.Fatalf("SearchUsers failed: %v", err)
	}
	if len(got) != 1 || got[0].Email != "john@example.com" {
		t.Fatalf("unexpected search result: %v", got)
	}

	// Substring match is case sensitive.
	got, err = svc.SearchUsers(ctx, "JOHN", 0, 100)
	if err != nil {
		t.Fatalf("SearchUsers failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected case-sensitive miss, got %v", got)
	}
}

func TestTokensAndActivities(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tok, err := svc.CreateToken(ctx)
	if err != nil {
		t.Fatalf("CreateToken failed: %v", err)
	}
	if len(tok.Value) != 32 {
		t.Fatalf("expected 32-character token value, got %d", len(tok.Value))
	}

	resolved, err := svc.TokenByValue(ctx, tok.Value)
	if err != nil {
		t.Fatalf("TokenByValue failed: %v", err)
	}
	if resolved.ID != tok.ID {
		t.Fatalf("resolved wrong token: %q", resolved.ID)
	}

	if _, err := svc.RecordActivity(ctx, directory.Activity{
		Endpoint:   "GET /api/v1/users",
		StatusCode: 200,
		TokenID:    tok.ID,
	}); err != nil {
		t.Fatalf("RecordActivity failed: %v", err)
	}

	acts, err := svc.ListTokenActivities(ctx, tok.ID, 0, 100)
	if err != nil {
		t.Fatalf("ListTokenActivities failed: %v", err)
	}
	if len(acts) != 1 || acts[0].Endpoint != "GET /api/v1/users" {
		t.Fatalf("unexpected activities: %v", acts)
	}

	if err := svc.DeleteToken(ctx, tok.ID); err != nil {
		t.Fatalf("DeleteToken failed: %v", err)
	}
	if _, err := svc.TokenByValue(ctx, tok.Value); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
