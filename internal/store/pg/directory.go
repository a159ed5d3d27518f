package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"accessdesk.org/internal/directory"
)

const userColumns = `id, username, first_name, last_name, email, display_name, hashed_password, status, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (directory.User, error) {
	var u directory.User
	err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Email, &u.DisplayName, &u.HashedPassword, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (s *Store) CreateUser(ctx context.Context, u directory.User) (directory.User, error) {
	if s.db == nil {
		return directory.User{}, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, username, first_name, last_name, email, display_name, hashed_password, status)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning `+userColumns+`
	`, u.ID, u.Username, u.FirstName, u.LastName, u.Email, u.DisplayName, u.HashedPassword, u.Status)
	created, err := scanUser(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return directory.User{}, directory.ErrConflict
		}
		return directory.User{}, err
	}
	return created, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (directory.User, error) {
	return s.userBy(ctx, "id", id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (directory.User, error) {
	return s.userBy(ctx, "email", email)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (directory.User, error) {
	return s.userBy(ctx, "username", username)
}

func (s *Store) userBy(ctx context.Context, column, value string) (directory.User, error) {
	if s.db == nil {
		return directory.User{}, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where `+column+` = $1`, value)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.User{}, directory.ErrNotFound
	}
	if err != nil {
		return directory.User{}, err
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context, skip, limit int) ([]directory.User, error) {
	return s.queryUsers(ctx, `
		select `+userColumns+` from users
		order by id
		offset $1 limit $2
	`, skip, limit)
}

func (s *Store) SearchUsers(ctx context.Context, query string, skip, limit int) ([]directory.User, error) {
	return s.queryUsers(ctx, `
		select `+userColumns+` from users
		where position($1 in username) > 0
		   or position($1 in first_name) > 0
		   or position($1 in last_name) > 0
		   or position($1 in email) > 0
		order by id
		offset $2 limit $3
	`, query, skip, limit)
}

func (s *Store) queryUsers(ctx context.Context, q string, args ...any) ([]directory.User, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []directory.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, patch directory.UserPatch) (directory.User, error) {
	if s.db == nil {
		return directory.User{}, errors.New("database connection unavailable")
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	add := func(column string, value *string) {
		if value == nil {
			return
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, *value)
		idx++
	}
	add("username", patch.Username)
	add("first_name", patch.FirstName)
	add("last_name", patch.LastName)
	add("email", patch.Email)
	add("display_name", patch.DisplayName)
	add("hashed_password", patch.HashedPassword)
	add("status", patch.Status)

	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update users set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return directory.User{}, directory.ErrConflict
			}
			return directory.User{}, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return directory.User{}, err
		}
		if aff == 0 {
			return directory.User{}, directory.ErrNotFound
		}
	}
	return s.GetUser(ctx, id)
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "users", id)
}

const roleColumns = `id, role_name, role_description, created_at, updated_at`

func scanRole(row interface{ Scan(...any) error }) (directory.Role, error) {
	var (
		r    directory.Role
		desc sql.NullString
	)
	err := row.Scan(&r.ID, &r.Name, &desc, &r.CreatedAt, &r.UpdatedAt)
	if desc.Valid {
		r.Description = desc.String
	}
	return r, err
}

func (s *Store) CreateRole(ctx context.Context, role directory.Role) (directory.Role, error) {
	if s.db == nil {
		return directory.Role{}, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		insert into roles (id, role_name, role_description)
		values ($1, $2, $3)
		returning `+roleColumns+`
	`, role.ID, role.Name, nullIfEmpty(role.Description))
	created, err := scanRole(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return directory.Role{}, directory.ErrConflict
		}
		return directory.Role{}, err
	}
	return created, nil
}

func (s *Store) GetRole(ctx context.Context, id string) (directory.Role, error) {
	return s.roleBy(ctx, "id", id)
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (directory.Role, error) {
	return s.roleBy(ctx, "role_name", name)
}

func (s *Store) roleBy(ctx context.Context, column, value string) (directory.Role, error) {
	if s.db == nil {
		return directory.Role{}, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where `+column+` = $1`, value)
	r, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Role{}, directory.ErrNotFound
	}
	if err != nil {
		return directory.Role{}, err
	}
	return r, nil
}

func (s *Store) ListRoles(ctx context.Context, skip, limit int) ([]directory.Role, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+roleColumns+` from roles
		order by id
		offset $1 limit $2
	`, skip, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []directory.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *Store) UpdateRole(ctx context.Context, id string, upd directory.RoleUpdate) (directory.Role, error) {
	if s.db == nil {
		return directory.Role{}, errors.New("database connection unavailable")
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("role_name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Description != nil {
		if *upd.Description == "" {
			sets = append(sets, "role_description = NULL")
		} else {
			sets = append(sets, fmt.Sprintf("role_description = $%d", idx))
			args = append(args, *upd.Description)
			idx++
		}
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update roles set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return directory.Role{}, directory.ErrConflict
			}
			return directory.Role{}, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return directory.Role{}, err
		}
		if aff == 0 {
			return directory.Role{}, directory.ErrNotFound
		}
	}
	return s.GetRole(ctx, id)
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "roles", id)
}

func (s *Store) RoleIDsForUser(ctx context.Context, userID string) ([]string, error) {
	return s.idList(ctx, `select role_id from user_roles where user_id = $1 order by role_id`, userID)
}

func (s *Store) UserIDsForRole(ctx context.Context, roleID string) ([]string, error) {
	return s.idList(ctx, `select user_id from user_roles where role_id = $1 order by user_id`, roleID)
}

func (s *Store) idList(ctx context.Context, q, arg string) ([]string, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) RolesForUser(ctx context.Context, userID string) ([]directory.Role, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.role_name, r.role_description, r.created_at, r.updated_at
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		order by r.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []directory.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *Store) UsersForRole(ctx context.Context, roleID string) ([]directory.User, error) {
	return s.queryUsers(ctx, `
		select u.id, u.username, u.first_name, u.last_name, u.email, u.display_name, u.hashed_password, u.status, u.created_at, u.updated_at
		from user_roles ur
		join users u on u.id = ur.user_id
		where ur.role_id = $1
		order by u.id
	`, roleID)
}

func (s *Store) AssignRole(ctx context.Context, userID, roleID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role_id)
		values ($1, $2)
	`, userID, roleID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return directory.ErrConflict
			case pgErrForeignKeyViolation:
				return directory.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *Store) UnassignRole(ctx context.Context, userID, roleID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		delete from user_roles
		where user_id = $1 and role_id = $2
	`, userID, roleID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return directory.ErrNotFound
	}
	return nil
}

// ReplaceRoleUsers swaps the role's membership in one transaction. Any
// unknown user id aborts the whole swap.
func (s *Store) ReplaceRoleUsers(ctx context.Context, roleID string, userIDs []string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1`, roleID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return directory.ErrNotFound
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `delete from user_roles where role_id = $1`, roleID); err != nil {
		return err
	}
	if len(userIDs) == 0 {
		return tx.Commit()
	}

	for _, userID := range userIDs {
		var dummy int
		if err := tx.QueryRowContext(ctx, `select 1 from users where id = $1`, userID).Scan(&dummy); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: user %s not found", directory.ErrInvalidInput, userID)
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles (user_id, role_id)
			values ($1, $2)
		`, userID, roleID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) RemoveUserFromAllRoles(ctx context.Context, userID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `delete from user_roles where user_id = $1`, userID)
	return err
}

func (s *Store) CreateToken(ctx context.Context, tok directory.Token) (directory.Token, error) {
	if s.db == nil {
		return directory.Token{}, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		insert into tokens (id, token)
		values ($1, $2)
		returning id, token, created_at
	`, tok.ID, tok.Value)
	var created directory.Token
	if err := row.Scan(&created.ID, &created.Value, &created.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return directory.Token{}, directory.ErrConflict
		}
		return directory.Token{}, err
	}
	return created, nil
}

func (s *Store) GetToken(ctx context.Context, id string) (directory.Token, error) {
	return s.tokenBy(ctx, "id", id)
}

func (s *Store) TokenByValue(ctx context.Context, value string) (directory.Token, error) {
	return s.tokenBy(ctx, "token", value)
}

func (s *Store) tokenBy(ctx context.Context, column, value string) (directory.Token, error) {
	if s.db == nil {
		return directory.Token{}, errors.New("database connection unavailable")
	}
	var tok directory.Token
	err := s.db.QueryRowContext(ctx, `select id, token, created_at from tokens where `+column+` = $1`, value).
		Scan(&tok.ID, &tok.Value, &tok.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Token{}, directory.ErrNotFound
	}
	if err != nil {
		return directory.Token{}, err
	}
	return tok, nil
}

func (s *Store) ListTokens(ctx context.Context, skip, limit int) ([]directory.Token, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, token, created_at from tokens
		order by id
		offset $1 limit $2
	`, skip, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []directory.Token
	for rows.Next() {
		var tok directory.Token
		if err := rows.Scan(&tok.ID, &tok.Value, &tok.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tokens, nil
}

func (s *Store) DeleteToken(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "tokens", id)
}

func (s *Store) RecordActivity(ctx context.Context, act directory.Activity) (directory.Activity, error) {
	if s.db == nil {
		return directory.Activity{}, errors.New("database connection unavailable")
	}
	var (
		created directory.Activity
		req     sql.NullString
		resp    sql.NullString
	)
	row := s.db.QueryRowContext(ctx, `
		insert into activities (id, endpoint, request, response, status_code, token_id)
		values ($1, $2, $3, $4, $5, $6)
		returning id, endpoint, timestamp, request, response, status_code, token_id
	`, act.ID, act.Endpoint, nullIfEmptyPtr(act.Request), nullIfEmptyPtr(act.Response), act.StatusCode, act.TokenID)
	if err := row.Scan(&created.ID, &created.Endpoint, &created.Timestamp, &req, &resp, &created.StatusCode, &created.TokenID); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return directory.Activity{}, directory.ErrNotFound
		}
		return directory.Activity{}, err
	}
	if req.Valid {
		created.Request = &req.String
	}
	if resp.Valid {
		created.Response = &resp.String
	}
	return created, nil
}

func (s *Store) ActivitiesForToken(ctx context.Context, tokenID string, skip, limit int) ([]directory.Activity, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, endpoint, timestamp, request, response, status_code, token_id
		from activities
		where token_id = $1
		order by timestamp desc
		offset $2 limit $3
	`, tokenID, skip, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var acts []directory.Activity
	for rows.Next() {
		var (
			act  directory.Activity
			req  sql.NullString
			resp sql.NullString
		)
		if err := rows.Scan(&act.ID, &act.Endpoint, &act.Timestamp, &req, &resp, &act.StatusCode, &act.TokenID); err != nil {
			return nil, err
		}
		if req.Valid {
			act.Request = &req.String
		}
		if resp.Valid {
			act.Response = &resp.String
		}
		acts = append(acts, act)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return acts, nil
}

func (s *Store) deleteByID(ctx context.Context, table, id string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `delete from `+table+` where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return directory.ErrNotFound
	}
	return nil
}

func nullIfEmptyPtr(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
