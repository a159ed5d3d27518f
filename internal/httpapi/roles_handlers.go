package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"accessdesk.org/internal/directory"
)

type createRoleRequest struct {
	Name        string `json:"role_name"`
	Description string `json:"role_description"`
}

type updateRoleRequest struct {
	Name        *string   `json:"role_name"`
	Description *string   `json:"role_description"`
	UserIDs     *[]string `json:"user_ids"`
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	skip, limit, err := paging(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	roles, err := a.svc.ListRoles(r.Context(), skip, limit)
	if err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	if roles == nil {
		roles = []directory.Role{}
	}
	writeJSON(w, http.StatusOK, roles)
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.svc.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) getRole(w http.ResponseWriter, r *http.Request) {
	role, err := a.svc.GetRoleWithUsers(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	if role.UserIDs == nil {
		role.UserIDs = []string{}
	}
	writeJSON(w, http.StatusOK, role)
}

// updateRole patches role fields and, when user_ids is present, replaces the
// full membership in the same call.
func (a *API) updateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	role, err := a.svc.UpdateRole(r.Context(), id, directory.RoleUpdate{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	if req.UserIDs != nil {
		if err := a.svc.ReplaceRoleUsers(r.Context(), id, *req.UserIDs); err != nil {
			handleDirectoryError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) deleteRole(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteRole(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listRoleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.svc.ListRoleUsers(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	if users == nil {
		users = []directory.User{}
	}
	writeJSON(w, http.StatusOK, users)
}
