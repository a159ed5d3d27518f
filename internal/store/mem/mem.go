// Package mem provides an in-memory directory.Store used by tests and
// credential-free local runs. Semantics match the PostgreSQL store,
// including conflict and not-found mapping.
package mem

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"accessdesk.org/internal/directory"
)

type Store struct {
	mu         sync.RWMutex
	users      map[string]directory.User
	roles      map[string]directory.Role
	tokens     map[string]directory.Token
	activities map[string]directory.Activity
	userRoles  map[string]map[string]struct{} // userID -> set of roleIDs
}

var _ directory.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:      make(map[string]directory.User),
		roles:      make(map[string]directory.Role),
		tokens:     make(map[string]directory.Token),
		activities: make(map[string]directory.Activity),
		userRoles:  make(map[string]map[string]struct{}),
	}
}

func (s *Store) CreateUser(_ context.Context, u directory.User) (directory.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email || existing.Username == u.Username {
			return directory.User{}, directory.ErrConflict
		}
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (directory.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return directory.User{}, directory.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (directory.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return directory.User{}, directory.ErrNotFound
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (directory.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return directory.User{}, directory.ErrNotFound
}

func (s *Store) ListUsers(_ context.Context, skip, limit int) ([]directory.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]directory.User, 0, len(s.users))
	for _, u := range s.users {
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return pageUsers(all, skip, limit), nil
}

func (s *Store) SearchUsers(_ context.Context, query string, skip, limit int) ([]directory.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []directory.User
	for _, u := range s.users {
		if strings.Contains(u.Username, query) ||
			strings.Contains(u.FirstName, query) ||
			strings.Contains(u.LastName, query) ||
			strings.Contains(u.Email, query) {
			matched = append(matched, u)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return pageUsers(matched, skip, limit), nil
}

func (s *Store) UpdateUser(_ context.Context, id string, patch directory.UserPatch) (directory.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return directory.User{}, directory.ErrNotFound
	}
	if patch.Email != nil {
		for otherID, other := range s.users {
			if otherID != id && other.Email == *patch.Email {
				return directory.User{}, directory.ErrConflict
			}
		}
		u.Email = *patch.Email
	}
	if patch.Username != nil {
		for otherID, other := range s.users {
			if otherID != id && other.Username == *patch.Username {
				return directory.User{}, directory.ErrConflict
			}
		}
		u.Username = *patch.Username
	}
	if patch.FirstName != nil {
		u.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		u.LastName = *patch.LastName
	}
	if patch.DisplayName != nil {
		u.DisplayName = *patch.DisplayName
	}
	if patch.HashedPassword != nil {
		u.HashedPassword = *patch.HashedPassword
	}
	if patch.Status != nil {
		u.Status = *patch.Status
	}
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return u, nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return directory.ErrNotFound
	}
	delete(s.users, id)
	delete(s.userRoles, id)
	return nil
}

func (s *Store) CreateRole(_ context.Context, role directory.Role) (directory.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.roles {
		if existing.Name == role.Name {
			return directory.Role{}, directory.ErrConflict
		}
	}
	now := time.Now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now
	s.roles[role.ID] = role
	return role, nil
}

func (s *Store) GetRole(_ context.Context, id string) (directory.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return directory.Role{}, directory.ErrNotFound
	}
	return r, nil
}

func (s *Store) GetRoleByName(_ context.Context, name string) (directory.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.roles {
		if r.Name == name {
			return r, nil
		}
	}
	return directory.Role{}, directory.ErrNotFound
}

func (s *Store) ListRoles(_ context.Context, skip, limit int) ([]directory.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]directory.Role, 0, len(s.roles))
	for _, r := range s.roles {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if skip >= len(all) {
		return nil, nil
	}
	all = all[skip:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *Store) UpdateRole(_ context.Context, id string, upd directory.RoleUpdate) (directory.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return directory.Role{}, directory.ErrNotFound
	}
	if upd.Name != nil {
		for otherID, other := range s.roles {
			if otherID != id && other.Name == *upd.Name {
				return directory.Role{}, directory.ErrConflict
			}
		}
		r.Name = *upd.Name
	}
	if upd.Description != nil {
		r.Description = *upd.Description
	}
	r.UpdatedAt = time.Now().UTC()
	s.roles[id] = r
	return r, nil
}

func (s *Store) DeleteRole(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return directory.ErrNotFound
	}
	delete(s.roles, id)
	for userID := range s.userRoles {
		delete(s.userRoles[userID], id)
	}
	return nil
}

func (s *Store) RoleIDsForUser(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for roleID := range s.userRoles[userID] {
		ids = append(ids, roleID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) RolesForUser(ctx context.Context, userID string) ([]directory.Role, error) {
	ids, err := s.RoleIDsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var roles []directory.Role
	for _, id := range ids {
		if r, ok := s.roles[id]; ok {
			roles = append(roles, r)
		}
	}
	return roles, nil
}

func (s *Store) UserIDsForRole(_ context.Context, roleID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for userID, set := range s.userRoles {
		if _, ok := set[roleID]; ok {
			ids = append(ids, userID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) UsersForRole(ctx context.Context, roleID string) ([]directory.User, error) {
	ids, err := s.UserIDsForRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var users []directory.User
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

func (s *Store) AssignRole(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return directory.ErrNotFound
	}
	if _, ok := s.roles[roleID]; !ok {
		return directory.ErrNotFound
	}
	set := s.userRoles[userID]
	if set == nil {
		set = make(map[string]struct{})
		s.userRoles[userID] = set
	}
	if _, ok := set[roleID]; ok {
		return directory.ErrConflict
	}
	set[roleID] = struct{}{}
	return nil
}

func (s *Store) UnassignRole(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.userRoles[userID]
	if _, ok := set[roleID]; !ok {
		return directory.ErrNotFound
	}
	delete(set, roleID)
	return nil
}

func (s *Store) ReplaceRoleUsers(_ context.Context, roleID string, userIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return directory.ErrNotFound
	}
	var missing []string
	for _, userID := range userIDs {
		if _, ok := s.users[userID]; !ok {
			missing = append(missing, userID)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: user %s not found", directory.ErrInvalidInput, strings.Join(missing, ", "))
	}
	for userID := range s.userRoles {
		delete(s.userRoles[userID], roleID)
	}
	for _, userID := range userIDs {
		set := s.userRoles[userID]
		if set == nil {
			set = make(map[string]struct{})
			s.userRoles[userID] = set
		}
		set[roleID] = struct{}{}
	}
	return nil
}

func (s *Store) RemoveUserFromAllRoles(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.userRoles, userID)
	return nil
}

func (s *Store) CreateToken(_ context.Context, tok directory.Token) (directory.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tokens {
		if existing.Value == tok.Value {
			return directory.Token{}, directory.ErrConflict
		}
	}
	tok.CreatedAt = time.Now().UTC()
	s.tokens[tok.ID] = tok
	return tok, nil
}

func (s *Store) GetToken(_ context.Context, id string) (directory.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[id]
	if !ok {
		return directory.Token{}, directory.ErrNotFound
	}
	return tok, nil
}

func (s *Store) TokenByValue(_ context.Context, value string) (directory.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tok := range s.tokens {
		if tok.Value == value {
			return tok, nil
		}
	}
	return directory.Token{}, directory.ErrNotFound
}

func (s *Store) ListTokens(_ context.Context, skip, limit int) ([]directory.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]directory.Token, 0, len(s.tokens))
	for _, tok := range s.tokens {
		all = append(all, tok)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if skip >= len(all) {
		return nil, nil
	}
	all = all[skip:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *Store) DeleteToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[id]; !ok {
		return directory.ErrNotFound
	}
	delete(s.tokens, id)
	for actID, act := range s.activities {
		if act.TokenID == id {
			delete(s.activities, actID)
		}
	}
	return nil
}

func (s *Store) RecordActivity(_ context.Context, act directory.Activity) (directory.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[act.TokenID]; !ok {
		return directory.Activity{}, directory.ErrNotFound
	}
	if act.Timestamp.IsZero() {
		act.Timestamp = time.Now().UTC()
	}
	s.activities[act.ID] = act
	return act, nil
}

func (s *Store) ActivitiesForToken(_ context.Context, tokenID string, skip, limit int) ([]directory.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var acts []directory.Activity
	for _, act := range s.activities {
		if act.TokenID == tokenID {
			acts = append(acts, act)
		}
	}
	sort.Slice(acts, func(i, j int) bool { return acts[i].Timestamp.After(acts[j].Timestamp) })
	if skip >= len(acts) {
		return nil, nil
	}
	acts = acts[skip:]
	if limit > 0 && limit < len(acts) {
		acts = acts[:limit]
	}
	return acts, nil
}

func pageUsers(all []directory.User, skip, limit int) []directory.User {
	if skip >= len(all) {
		return nil
	}
	all = all[skip:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}
