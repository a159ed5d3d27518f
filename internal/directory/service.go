package directory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"accessdesk.org/internal/ids"
)

var (
	namePattern  = regexp.MustCompile(`^[A-Za-z]+$`)
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

const minPasswordLen = 6

// Service implements the directory operations on top of a Store. It owns
// validation, username derivation and credential generation; the store only
// moves rows.
type Service struct {
	store Store
}

func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("directory store is required")
	}
	return &Service{store: store}, nil
}

// ValidateName reports whether v is a usable first or last name.
func ValidateName(v string) error {
	if !namePattern.MatchString(v) {
		return fmt.Errorf("%w: name must contain only letters", ErrInvalidInput)
	}
	return nil
}

// ValidateEmail reports whether v looks like a deliverable address.
func ValidateEmail(v string) error {
	if !emailPattern.MatchString(v) {
		return fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	return nil
}

func validStatus(v string) bool {
	switch v {
	case UserStatusActive, UserStatusDisabled, UserStatusTerminated:
		return true
	}
	return false
}

// deriveUsername builds lower(first initial + last name) and appends 1,2,3…
// until the candidate is free. exclude, when non-empty, is treated as
// available so a user keeps their own username across renames.
func (s *Service) deriveUsername(ctx context.Context, first, last, exclude string) (string, error) {
	base := strings.ToLower(first[:1] + last)
	candidate := base
	for i := 1; ; i++ {
		if exclude != "" && candidate == exclude {
			return candidate, nil
		}
		_, err := s.store.GetUserByUsername(ctx, candidate)
		if errors.Is(err, ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = base + strconv.Itoa(i)
	}
}

// CreateUser registers a user. When password is empty a random one is
// generated; the plaintext is returned exactly once and only the bcrypt
// hash is stored.
func (s *Service) CreateUser(ctx context.Context, first, last, email, password string) (User, string, error) {
	first = strings.TrimSpace(first)
	last = strings.TrimSpace(last)
	email = strings.TrimSpace(strings.ToLower(email))
	if err := ValidateName(first); err != nil {
		return User{}, "", fmt.Errorf("%w: first_name must contain only letters", ErrInvalidInput)
	}
	if err := ValidateName(last); err != nil {
		return User{}, "", fmt.Errorf("%w: last_name must contain only letters", ErrInvalidInput)
	}
	if err := ValidateEmail(email); err != nil {
		return User{}, "", err
	}

	generated := ""
	if password == "" {
		var err error
		generated, err = GeneratePassword()
		if err != nil {
			return User{}, "", err
		}
		password = generated
	} else if len(password) < minPasswordLen {
		return User{}, "", fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return User{}, "", fmt.Errorf("%w: email %s already registered", ErrConflict, email)
	} else if !errors.Is(err, ErrNotFound) {
		return User{}, "", err
	}

	username, err := s.deriveUsername(ctx, first, last, "")
	if err != nil {
		return User{}, "", err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, "", err
	}

	u, err := s.store.CreateUser(ctx, User{
		ID:             ids.New(),
		Username:       username,
		FirstName:      first,
		LastName:       last,
		Email:          email,
		DisplayName:    first + " " + last,
		HashedPassword: hash,
		Status:         UserStatusActive,
	})
	if err != nil {
		return User{}, "", err
	}
	return u, generated, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.GetUser(ctx, id)
}

// GetUserWithRoles returns the user plus the ids of every role assigned to
// them, materialized in one shot.
func (s *Service) GetUserWithRoles(ctx context.Context, id string) (UserWithRoles, error) {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return UserWithRoles{}, err
	}
	roleIDs, err := s.store.RoleIDsForUser(ctx, u.ID)
	if err != nil {
		return UserWithRoles{}, err
	}
	return UserWithRoles{User: u, RoleIDs: roleIDs}, nil
}

func (s *Service) ListUsers(ctx context.Context, skip, limit int) ([]User, error) {
	skip, limit = normalizePage(skip, limit)
	return s.store.ListUsers(ctx, skip, limit)
}

// EmailTaken reports whether any user is registered with the address.
func (s *Service) EmailTaken(ctx context.Context, email string) (bool, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return false, nil
	}
	_, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SearchUsers matches q as a case-sensitive substring of username, first
// name, last name or email.
func (s *Service) SearchUsers(ctx context.Context, q string, skip, limit int) ([]User, error) {
	if q == "" {
		return s.ListUsers(ctx, skip, limit)
	}
	skip, limit = normalizePage(skip, limit)
	return s.store.SearchUsers(ctx, q, skip, limit)
}

// UpdateUser applies a partial update. The username is never recomputed on
// this path; display_name follows name changes, a non-empty password is
// rehashed and an empty one is ignored.
func (s *Service) UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error) {
	return s.updateUser(ctx, id, upd, false)
}

// UpdateUserRederiveUsername is the dashboard variant of UpdateUser: when a
// name changes the username is rederived with the collision rule, keeping
// the user's own current username out of the occupied set.
func (s *Service) UpdateUserRederiveUsername(ctx context.Context, id string, upd UserUpdate) (User, error) {
	return s.updateUser(ctx, id, upd, true)
}

func (s *Service) updateUser(ctx context.Context, id string, upd UserUpdate, rederive bool) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	current, err := s.store.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}

	var patch UserPatch
	first, last := current.FirstName, current.LastName
	nameChanged := false

	if upd.FirstName != nil {
		v := strings.TrimSpace(*upd.FirstName)
		if err := ValidateName(v); err != nil {
			return User{}, fmt.Errorf("%w: first_name must contain only letters", ErrInvalidInput)
		}
		if v != first {
			nameChanged = true
		}
		first = v
		patch.FirstName = &v
	}
	if upd.LastName != nil {
		v := strings.TrimSpace(*upd.LastName)
		if err := ValidateName(v); err != nil {
			return User{}, fmt.Errorf("%w: last_name must contain only letters", ErrInvalidInput)
		}
		if v != last {
			nameChanged = true
		}
		last = v
		patch.LastName = &v
	}
	if nameChanged {
		display := first + " " + last
		patch.DisplayName = &display
		if rederive {
			username, err := s.deriveUsername(ctx, first, last, current.Username)
			if err != nil {
				return User{}, err
			}
			patch.Username = &username
		}
	}
	if upd.Email != nil {
		v := strings.TrimSpace(strings.ToLower(*upd.Email))
		if err := ValidateEmail(v); err != nil {
			return User{}, err
		}
		if v != current.Email {
			if _, err := s.store.GetUserByEmail(ctx, v); err == nil {
				return User{}, fmt.Errorf("%w: email %s already registered", ErrConflict, v)
			} else if !errors.Is(err, ErrNotFound) {
				return User{}, err
			}
		}
		patch.Email = &v
	}
	if upd.Password != nil && *upd.Password != "" {
		if len(*upd.Password) < minPasswordLen {
			return User{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
		}
		hash, err := HashPassword(*upd.Password)
		if err != nil {
			return User{}, err
		}
		patch.HashedPassword = &hash
	}
	if upd.Status != nil {
		v := strings.TrimSpace(strings.ToLower(*upd.Status))
		if !validStatus(v) {
			return User{}, fmt.Errorf("%w: unsupported status %s", ErrInvalidInput, v)
		}
		patch.Status = &v
	}

	return s.store.UpdateUser(ctx, id, patch)
}

func (s *Service) DeleteUser(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.DeleteUser(ctx, id)
}

func (s *Service) RemoveUserFromAllRoles(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.RemoveUserFromAllRoles(ctx, id)
}

func (s *Service) RolesForUser(ctx context.Context, userID string) ([]Role, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.RolesForUser(ctx, userID)
}

func (s *Service) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if _, err := s.store.GetRoleByName(ctx, name); err == nil {
		return Role{}, fmt.Errorf("%w: role %s already exists", ErrConflict, name)
	} else if !errors.Is(err, ErrNotFound) {
		return Role{}, err
	}
	return s.store.CreateRole(ctx, Role{
		ID:          ids.New(),
		Name:        name,
		Description: strings.TrimSpace(description),
	})
}

func (s *Service) GetRole(ctx context.Context, id string) (Role, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Role{}, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	return s.store.GetRole(ctx, id)
}

func (s *Service) GetRoleWithUsers(ctx context.Context, id string) (RoleWithUsers, error) {
	role, err := s.GetRole(ctx, id)
	if err != nil {
		return RoleWithUsers{}, err
	}
	userIDs, err := s.store.UserIDsForRole(ctx, role.ID)
	if err != nil {
		return RoleWithUsers{}, err
	}
	return RoleWithUsers{Role: role, UserIDs: userIDs}, nil
}

func (s *Service) ListRoles(ctx context.Context, skip, limit int) ([]Role, error) {
	skip, limit = normalizePage(skip, limit)
	return s.store.ListRoles(ctx, skip, limit)
}

// ListRoleUsers returns the full user records assigned to the role.
func (s *Service) ListRoleUsers(ctx context.Context, roleID string) ([]User, error) {
	if _, err := s.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	return s.store.UsersForRole(ctx, roleID)
}

func (s *Service) UpdateRole(ctx context.Context, id string, upd RoleUpdate) (Role, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Role{}, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	current, err := s.store.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		if name != current.Name {
			if _, err := s.store.GetRoleByName(ctx, name); err == nil {
				return Role{}, fmt.Errorf("%w: role %s already exists", ErrConflict, name)
			} else if !errors.Is(err, ErrNotFound) {
				return Role{}, err
			}
		}
		upd.Name = &name
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		upd.Description = &desc
	}
	return s.store.UpdateRole(ctx, id, upd)
}

func (s *Service) DeleteRole(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	return s.store.DeleteRole(ctx, id)
}

// ReplaceRoleUsers swaps the role's membership for exactly userIDs. Unknown
// ids fail the whole operation and leave the membership untouched.
func (s *Service) ReplaceRoleUsers(ctx context.Context, roleID string, userIDs []string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return err
	}
	return s.store.ReplaceRoleUsers(ctx, roleID, dedupeStrings(userIDs))
}

// AssignRole attaches a role to a user. Both sides must exist; assigning an
// already-held role is a conflict.
func (s *Service) AssignRole(ctx context.Context, userID, roleID string) error {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user id and role id are required", ErrInvalidInput)
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return err
	}
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return err
	}
	return s.store.AssignRole(ctx, userID, roleID)
}

// UnassignRole detaches a role from a user. Removing a role the user does
// not hold is invalid input rather than a silent no-op.
func (s *Service) UnassignRole(ctx context.Context, userID, roleID string) error {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user id and role id are required", ErrInvalidInput)
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return err
	}
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return err
	}
	if err := s.store.UnassignRole(ctx, userID, roleID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: role is not assigned to user", ErrInvalidInput)
		}
		return err
	}
	return nil
}

// CreateToken mints an anonymous bearer credential. The raw secret is only
// available on the returned Token.
func (s *Service) CreateToken(ctx context.Context) (Token, error) {
	value, err := NewTokenValue()
	if err != nil {
		return Token{}, err
	}
	return s.store.CreateToken(ctx, Token{ID: ids.New(), Value: value})
}

func (s *Service) GetToken(ctx context.Context, id string) (Token, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Token{}, fmt.Errorf("%w: token id is required", ErrInvalidInput)
	}
	return s.store.GetToken(ctx, id)
}

// TokenByValue resolves a presented bearer secret to its token record.
func (s *Service) TokenByValue(ctx context.Context, value string) (Token, error) {
	if value == "" {
		return Token{}, fmt.Errorf("%w: token value is required", ErrInvalidInput)
	}
	return s.store.TokenByValue(ctx, value)
}

func (s *Service) ListTokens(ctx context.Context, skip, limit int) ([]Token, error) {
	skip, limit = normalizePage(skip, limit)
	return s.store.ListTokens(ctx, skip, limit)
}

func (s *Service) DeleteToken(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: token id is required", ErrInvalidInput)
	}
	return s.store.DeleteToken(ctx, id)
}

// RecordActivity appends one audit row for an API call made with a token.
func (s *Service) RecordActivity(ctx context.Context, act Activity) (Activity, error) {
	if act.Endpoint == "" || act.TokenID == "" {
		return Activity{}, fmt.Errorf("%w: endpoint and token id are required", ErrInvalidInput)
	}
	if act.ID == "" {
		act.ID = ids.New()
	}
	return s.store.RecordActivity(ctx, act)
}

// ListTokenActivities returns the token's audit trail, newest first.
func (s *Service) ListTokenActivities(ctx context.Context, tokenID string, skip, limit int) ([]Activity, error) {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return nil, fmt.Errorf("%w: token id is required", ErrInvalidInput)
	}
	skip, limit = normalizePage(skip, limit)
	return s.store.ActivitiesForToken(ctx, tokenID, skip, limit)
}

func normalizePage(skip, limit int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return skip, limit
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
