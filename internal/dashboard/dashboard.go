// Package dashboard serves the HTML administration surface. Tab handlers
// return only their fragment for HTMX navigation and the full page shell on
// direct loads.
package dashboard

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"accessdesk.org/internal/audit"
	"accessdesk.org/internal/directory"
)

//go:embed templates/*.html
var templateFS embed.FS

const listLimit = 1000

type Handlers struct {
	svc  *directory.Service
	tmpl *template.Template
}

func New(svc *directory.Service) (*Handlers, error) {
	if svc == nil {
		return nil, errors.New("directory service is required")
	}
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Handlers{svc: svc, tmpl: tmpl}, nil
}

// Register attaches all dashboard routes. None of them require a bearer
// token; the dashboard is an operator-facing surface.
func (h *Handlers) Register(r chi.Router) {
	r.Get("/dashboard", h.redirectToUsers)
	r.Get("/dashboard/users", h.usersTab)
	r.Get("/dashboard/users/new", h.newUserForm)
	r.Get("/dashboard/users/{id}", h.userDetail)
	r.Get("/dashboard/users/{id}/edit", h.editUserForm)
	r.Get("/dashboard/roles", h.rolesTab)
	r.Get("/dashboard/roles/new", h.newRoleForm)
	r.Get("/dashboard/roles/{id}", h.roleDetail)
	r.Get("/dashboard/roles/{id}/edit", h.editRoleForm)
	r.Get("/dashboard/secrets", h.secretsTab)
	r.Get("/dashboard/secrets/{id}", h.secretDetail)

	r.Post("/ui/users/create", h.createUser)
	r.Post("/ui/users/{id}", h.updateUser)
	r.Delete("/ui/users/{id}", h.deleteUser)
	r.Post("/ui/roles/create", h.createRole)
	r.Post("/ui/roles/{id}", h.updateRole)
	r.Delete("/ui/roles/{id}", h.deleteRole)
	r.Post("/ui/secrets/create", h.createSecret)
	r.Delete("/ui/secrets/{id}", h.deleteSecret)

	r.Post("/validate/name", h.validateName)
	r.Post("/validate/email", h.validateEmail)
}

func (h *Handlers) redirectToUsers(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/dashboard/users", http.StatusSeeOther)
}

// renderTab writes just the fragment for HTMX requests and embeds it into
// the page shell otherwise.
func (h *Handlers) renderTab(w http.ResponseWriter, r *http.Request, activeTab, fragment string, data any) {
	if r.Header.Get("HX-Request") != "" {
		h.renderFragment(w, fragment, data)
		return
	}
	var buf bytes.Buffer
	if err := h.tmpl.ExecuteTemplate(&buf, fragment, data); err != nil {
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	h.renderFragment(w, "layout", map[string]any{
		"ActiveTab":      activeTab,
		"InitialContent": template.HTML(buf.String()),
	})
}

func (h *Handlers) renderFragment(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.tmpl.ExecuteTemplate(w, name, data); err != nil {
		http.Error(w, "template error", http.StatusInternalServerError)
	}
}

func (h *Handlers) renderError(w http.ResponseWriter, msg string) {
	h.renderFragment(w, "error", map[string]any{"Error": msg})
}

func (h *Handlers) usersTab(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListUsers(r.Context(), 0, listLimit)
	if err != nil {
		h.renderError(w, "failed to load users")
		return
	}
	sortUsers(users)
	h.renderTab(w, r, "users", "users", map[string]any{"Users": users})
}

func (h *Handlers) newUserForm(w http.ResponseWriter, r *http.Request) {
	h.renderFragment(w, "user_form", map[string]any{
		"Title":      "Create New User",
		"ActionURL":  "/ui/users/create",
		"SubmitText": "Create User",
	})
}

func (h *Handlers) userDetail(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.GetUserWithRoles(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	roles, err := h.svc.RolesForUser(r.Context(), user.ID)
	if err != nil {
		h.renderError(w, "failed to load roles")
		return
	}
	h.renderFragment(w, "user_detail", map[string]any{"User": user.User, "Roles": roles})
}

func (h *Handlers) editUserForm(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	h.renderFragment(w, "user_form", map[string]any{
		"Title":      "Update User",
		"ActionURL":  "/ui/users/" + user.ID,
		"SubmitText": "Update User",
		"User":       user,
	})
}

func (h *Handlers) rolesTab(w http.ResponseWriter, r *http.Request) {
	roles, err := h.svc.ListRoles(r.Context(), 0, listLimit)
	if err != nil {
		h.renderError(w, "failed to load roles")
		return
	}
	sortRoles(roles)
	h.renderTab(w, r, "roles", "roles", map[string]any{"Roles": roles})
}

func (h *Handlers) newRoleForm(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListUsers(r.Context(), 0, listLimit)
	if err != nil {
		h.renderError(w, "failed to load users")
		return
	}
	sortUsers(users)
	h.renderFragment(w, "role_form", map[string]any{
		"Title":      "Create New Role",
		"ActionURL":  "/ui/roles/create",
		"SubmitText": "Create Role",
		"AllUsers":   users,
	})
}

func (h *Handlers) roleDetail(w http.ResponseWriter, r *http.Request) {
	role, err := h.svc.GetRole(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Role not found", http.StatusNotFound)
		return
	}
	users, err := h.svc.ListRoleUsers(r.Context(), role.ID)
	if err != nil {
		h.renderError(w, "failed to load role members")
		return
	}
	h.renderFragment(w, "role_detail", map[string]any{"Role": role, "Users": users})
}

func (h *Handlers) editRoleForm(w http.ResponseWriter, r *http.Request) {
	role, err := h.svc.GetRoleWithUsers(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Role not found", http.StatusNotFound)
		return
	}
	users, err := h.svc.ListUsers(r.Context(), 0, listLimit)
	if err != nil {
		h.renderError(w, "failed to load users")
		return
	}
	sortUsers(users)
	assigned := make(map[string]bool, len(role.UserIDs))
	for _, id := range role.UserIDs {
		assigned[id] = true
	}
	h.renderFragment(w, "role_form", map[string]any{
		"Title":      "Update Role",
		"ActionURL":  "/ui/roles/" + role.ID,
		"SubmitText": "Update Role",
		"Role":       role.Role,
		"AllUsers":   users,
		"Assigned":   assigned,
	})
}

func (h *Handlers) secretsTab(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.svc.ListTokens(r.Context(), 0, listLimit)
	if err != nil {
		h.renderError(w, "failed to load tokens")
		return
	}
	h.renderTab(w, r, "secrets", "secrets", map[string]any{"Tokens": tokens})
}

func (h *Handlers) secretDetail(w http.ResponseWriter, r *http.Request) {
	tok, err := h.svc.GetToken(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Token not found", http.StatusNotFound)
		return
	}
	activities, err := h.svc.ListTokenActivities(r.Context(), tok.ID, 0, 100)
	if err != nil {
		h.renderError(w, "failed to load activities")
		return
	}
	h.renderFragment(w, "secret_detail", map[string]any{"Token": tok, "Activities": activities})
}

func (h *Handlers) createUser(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderError(w, "invalid form data")
		return
	}
	user, generated, err := h.svc.CreateUser(
		r.Context(),
		r.PostFormValue("first_name"),
		r.PostFormValue("last_name"),
		r.PostFormValue("email"),
		"",
	)
	if err != nil {
		if errors.Is(err, directory.ErrConflict) {
			h.renderError(w, "A user with this email already exists.")
			return
		}
		h.renderError(w, err.Error())
		return
	}

	_ = audit.LogEvent(r.Context(), "dashboard.user.create", map[string]any{"user_id": user.ID})

	users, listErr := h.svc.ListUsers(r.Context(), 0, listLimit)
	if listErr != nil {
		h.renderError(w, "failed to load users")
		return
	}
	sortUsers(users)
	if generated != "" {
		var buf bytes.Buffer
		_ = h.tmpl.ExecuteTemplate(&buf, "password_created", map[string]any{
			"Username": user.Username,
			"Password": generated,
		})
		_ = h.tmpl.ExecuteTemplate(&buf, "users", map[string]any{"Users": users})
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
		return
	}
	h.renderFragment(w, "users", map[string]any{"Users": users})
}

func (h *Handlers) updateUser(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderError(w, "invalid form data")
		return
	}
	upd := directory.UserUpdate{}
	if v := r.PostFormValue("first_name"); v != "" {
		upd.FirstName = &v
	}
	if v := r.PostFormValue("last_name"); v != "" {
		upd.LastName = &v
	}
	if v := r.PostFormValue("email"); v != "" {
		upd.Email = &v
	}
	if v := r.PostFormValue("status"); v != "" {
		upd.Status = &v
	}
	if _, err := h.svc.UpdateUserRederiveUsername(r.Context(), chi.URLParam(r, "id"), upd); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			h.renderError(w, "User not found")
			return
		}
		h.renderError(w, err.Error())
		return
	}
	users, err := h.svc.ListUsers(r.Context(), 0, listLimit)
	if err != nil {
		h.renderError(w, "failed to load users")
		return
	}
	sortUsers(users)
	h.renderFragment(w, "users", map[string]any{"Users": users})
}

func (h *Handlers) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.svc.GetUser(r.Context(), id); err != nil {
		h.renderFragment(w, "error", map[string]any{"Error": "User not found"})
		return
	}
	_ = h.svc.RemoveUserFromAllRoles(r.Context(), id)
	if err := h.svc.DeleteUser(r.Context(), id); err != nil {
		h.renderError(w, "failed to delete user")
		return
	}
	_ = audit.LogEvent(r.Context(), "dashboard.user.delete", map[string]any{"user_id": id})
	// Empty body lets HTMX remove the row.
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) createRole(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderError(w, "invalid form data")
		return
	}
	_, err := h.svc.CreateRole(r.Context(), r.PostFormValue("role_name"), r.PostFormValue("role_description"))
	if err != nil {
		if errors.Is(err, directory.ErrConflict) {
			h.renderError(w, "A role with this name already exists.")
			return
		}
		h.renderError(w, err.Error())
		return
	}
	h.renderRolesList(w, r)
}

func (h *Handlers) updateRole(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderError(w, "invalid form data")
		return
	}
	id := chi.URLParam(r, "id")
	upd := directory.RoleUpdate{}
	if v := r.PostFormValue("role_name"); v != "" {
		upd.Name = &v
	}
	if _, ok := r.PostForm["role_description"]; ok {
		v := r.PostFormValue("role_description")
		upd.Description = &v
	}
	if _, err := h.svc.UpdateRole(r.Context(), id, upd); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			h.renderError(w, "Role not found")
			return
		}
		h.renderError(w, err.Error())
		return
	}
	if err := h.svc.ReplaceRoleUsers(r.Context(), id, r.PostForm["user_ids"]); err != nil {
		h.renderError(w, err.Error())
		return
	}
	h.renderRolesList(w, r)
}

func (h *Handlers) deleteRole(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteRole(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.renderError(w, "failed to delete role")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) renderRolesList(w http.ResponseWriter, r *http.Request) {
	roles, err := h.svc.ListRoles(r.Context(), 0, listLimit)
	if err != nil {
		h.renderError(w, "failed to load roles")
		return
	}
	sortRoles(roles)
	h.renderFragment(w, "roles", map[string]any{"Roles": roles})
}

// createSecret mints a token and shows the raw value exactly once.
func (h *Handlers) createSecret(w http.ResponseWriter, r *http.Request) {
	tok, err := h.svc.CreateToken(r.Context())
	if err != nil {
		h.renderError(w, "failed to create token")
		return
	}
	_ = audit.LogEvent(r.Context(), "dashboard.token.create", map[string]any{"token_id": tok.ID})
	h.renderFragment(w, "token_created", map[string]any{"Token": tok.Value})
}

func (h *Handlers) deleteSecret(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.DeleteToken(r.Context(), id); err != nil {
		h.renderError(w, "failed to delete token")
		return
	}
	_ = audit.LogEvent(r.Context(), "dashboard.token.delete", map[string]any{"token_id": id})
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) validateName(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		return
	}
	name := r.PostFormValue("first_name")
	if name == "" {
		name = r.PostFormValue("last_name")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if name != "" {
		if err := directory.ValidateName(name); err != nil {
			_, _ = w.Write([]byte(`<span class="text-red-600">Names must contain only letters</span>`))
			return
		}
	}
}

func (h *Handlers) validateEmail(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		return
	}
	email := r.PostFormValue("email")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := directory.ValidateEmail(email); err != nil {
		_, _ = w.Write([]byte(`<span class="text-red-600">Invalid email format</span>`))
		return
	}
	if taken, err := h.svc.EmailTaken(r.Context(), email); err == nil && taken {
		_, _ = w.Write([]byte(`<span class="text-red-600">Email already exists</span>`))
	}
}

func sortUsers(users []directory.User) {
	sort.Slice(users, func(i, j int) bool {
		return strings.ToLower(users[i].Username) < strings.ToLower(users[j].Username)
	})
}

func sortRoles(roles []directory.Role) {
	sort.Slice(roles, func(i, j int) bool {
		return strings.ToLower(roles[i].Name) < strings.ToLower(roles[j].Name)
	})
}
