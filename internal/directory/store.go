package directory

import "context"

// Store describes persistence operations required by the directory service.
// Implementations must map unique-constraint violations to ErrConflict and
// missing rows to ErrNotFound.
type Store interface {
	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	ListUsers(ctx context.Context, skip, limit int) ([]User, error)
	SearchUsers(ctx context.Context, query string, skip, limit int) ([]User, error)
	UpdateUser(ctx context.Context, id string, patch UserPatch) (User, error)
	DeleteUser(ctx context.Context, id string) error

	CreateRole(ctx context.Context, role Role) (Role, error)
	GetRole(ctx context.Context, id string) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context, skip, limit int) ([]Role, error)
	UpdateRole(ctx context.Context, id string, upd RoleUpdate) (Role, error)
	DeleteRole(ctx context.Context, id string) error

	RoleIDsForUser(ctx context.Context, userID string) ([]string, error)
	RolesForUser(ctx context.Context, userID string) ([]Role, error)
	UserIDsForRole(ctx context.Context, roleID string) ([]string, error)
	UsersForRole(ctx context.Context, roleID string) ([]User, error)
	AssignRole(ctx context.Context, userID, roleID string) error
	UnassignRole(ctx context.Context, userID, roleID string) error
	ReplaceRoleUsers(ctx context.Context, roleID string, userIDs []string) error
	RemoveUserFromAllRoles(ctx context.Context, userID string) error

	CreateToken(ctx context.Context, tok Token) (Token, error)
	GetToken(ctx context.Context, id string) (Token, error)
	TokenByValue(ctx context.Context, value string) (Token, error)
	ListTokens(ctx context.Context, skip, limit int) ([]Token, error)
	DeleteToken(ctx context.Context, id string) error

	RecordActivity(ctx context.Context, act Activity) (Activity, error)
	ActivitiesForToken(ctx context.Context, tokenID string, skip, limit int) ([]Activity, error)
}
