package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"accessdesk.org/internal/directory"
)

type createUserRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type updateUserRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Email     *string `json:"email"`
	Password  *string `json:"password"`
	Status    *string `json:"status"`
}

type createdUserResponse struct {
	directory.User
	GeneratedPassword string `json:"generated_password,omitempty"`
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	skip, limit, err := paging(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	users, err := a.svc.ListUsers(r.Context(), skip, limit)
	if err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	if users == nil {
		users = []directory.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) searchUsers(w http.ResponseWriter, r *http.Request) {
	skip, limit, err := paging(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	users, err := a.svc.SearchUsers(r.Context(), r.URL.Query().Get("q"), skip, limit)
	if err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	if users == nil {
		users = []directory.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, generated, err := a.svc.CreateUser(r.Context(), req.FirstName, req.LastName, req.Email, req.Password)
	if err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdUserResponse{User: user, GeneratedPassword: generated})
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := a.svc.GetUserWithRoles(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	if user.RoleIDs == nil {
		user.RoleIDs = []string{}
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.svc.UpdateUser(r.Context(), chi.URLParam(r, "id"), directory.UserUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
		Status:    req.Status,
	})
	if err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.svc.GetUser(r.Context(), id); err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	if err := a.svc.RemoveUserFromAllRoles(r.Context(), id); err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	if err := a.svc.DeleteUser(r.Context(), id); err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) assignRole(w http.ResponseWriter, r *http.Request) {
	err := a.svc.AssignRole(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "roleID"))
	if err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "assigned"})
}

func (a *API) unassignRole(w http.ResponseWriter, r *http.Request) {
	err := a.svc.UnassignRole(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "roleID"))
	if err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
