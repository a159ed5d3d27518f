package directory

import "time"

const (
	UserStatusActive     = "active"
	UserStatusDisabled   = "disabled"
	UserStatusTerminated = "terminated"
)

// User is a managed account. Username and DisplayName are derived from the
// name fields; the password is only ever stored as a bcrypt hash.
type User struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Email          string    `json:"email"`
	DisplayName    string    `json:"display_name"`
	HashedPassword string    `json:"-"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UserWithRoles is the materialized aggregate returned by single-user reads.
type UserWithRoles struct {
	User
	RoleIDs []string `json:"role_ids"`
}

type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"role_name"`
	Description string    `json:"role_description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type RoleWithUsers struct {
	Role
	UserIDs []string `json:"user_ids"`
}

// Token is an anonymous API credential. Value is the opaque bearer secret;
// it is shown to the operator exactly once at creation time.
type Token struct {
	ID        string    `json:"id"`
	Value     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

// Activity is an append-only audit record of one API call made with a token.
type Activity struct {
	ID         string    `json:"id"`
	Endpoint   string    `json:"endpoint"`
	Timestamp  time.Time `json:"timestamp"`
	Request    *string   `json:"request"`
	Response   *string   `json:"response"`
	StatusCode int       `json:"status_code"`
	TokenID    string    `json:"token_id"`
}

// UserUpdate is the external patch contract: nil means "leave untouched".
// An empty Password pointer value also means "no change".
type UserUpdate struct {
	FirstName *string
	LastName  *string
	Email     *string
	Password  *string
	Status    *string
}

type RoleUpdate struct {
	Name        *string
	Description *string
}

// UserPatch is the store-level column patch produced by the service after
// validation and derivation. Password arrives here already hashed.
type UserPatch struct {
	Username       *string
	FirstName      *string
	LastName       *string
	Email          *string
	DisplayName    *string
	HashedPassword *string
	Status         *string
}
