package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"accessdesk.org/internal/directory"
	"accessdesk.org/internal/obs"
)

// ReadyProbe reports whether the backing store can serve traffic.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the directory service.
type API struct {
	svc        *directory.Service
	readyProbe ReadyProbe
	apiPrefix  string
	version    string
}

func New(svc *directory.Service, rp ReadyProbe, apiPrefix, version string) *API {
	if apiPrefix == "" {
		apiPrefix = "/api/v1"
	}
	return &API{
		svc:        svc,
		readyProbe: rp,
		apiPrefix:  apiPrefix,
		version:    version,
	}
}

// RouteRegistrar lets the dashboard attach its routes to the shared router
// without httpapi depending on the dashboard package.
type RouteRegistrar interface {
	Register(chi.Router)
}

// Router assembles the full route tree. dashboard, when non-nil, serves the
// unauthenticated HTML surface.
func (a *API) Router(dashboard RouteRegistrar, maxBodyBytes int64) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logging)
	r.Use(SecurityHeaders)
	r.Use(MaxBodyBytes(maxBodyBytes))
	r.Use(a.recordActivity)

	r.Get("/healthz", a.healthz)
	r.Get("/readyz", a.ready)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route(a.apiPrefix, func(r chi.Router) {
		r.Use(a.requireToken)

		r.Route("/users", func(r chi.Router) {
			r.Get("/", a.listUsers)
			r.Post("/", a.createUser)
			r.Get("/search", a.searchUsers)
			r.Get("/{id}", a.getUser)
			r.Patch("/{id}", a.updateUser)
			r.Delete("/{id}", a.deleteUser)
			r.Post("/{id}/roles/{roleID}", a.assignRole)
			r.Delete("/{id}/roles/{roleID}", a.unassignRole)
		})

		r.Route("/roles", func(r chi.Router) {
			r.Get("/", a.listRoles)
			r.Post("/", a.createRole)
			r.Get("/{id}", a.getRole)
			r.Patch("/{id}", a.updateRole)
			r.Delete("/{id}", a.deleteRole)
			r.Get("/{id}/users", a.listRoleUsers)
		})
	})

	if dashboard != nil {
		dashboard.Register(r)
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			http.Redirect(w, req, "/dashboard/users", http.StatusSeeOther)
		})
	}

	return obs.Instrument(r)
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "accessdesk-api",
		"version": a.version,
	})
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleDirectoryError maps domain sentinels onto HTTP statuses. Conflicts
// surface as 400 to keep the external contract uniform for bad requests.
func handleDirectoryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, directory.ErrInvalidInput), errors.Is(err, directory.ErrConflict):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, directory.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, directory.ErrUnauthorized):
		challenge(w, r, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func paging(r *http.Request) (int, int, error) {
	skip, err := parseNonNegativeInt(r.URL.Query().Get("skip"), 0)
	if err != nil {
		return 0, 0, errors.New("skip must be a non-negative integer")
	}
	limit, err := parseNonNegativeInt(r.URL.Query().Get("limit"), 100)
	if err != nil {
		return 0, 0, errors.New("limit must be a non-negative integer")
	}
	return skip, limit, nil
}

func parseNonNegativeInt(raw string, def int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return val, nil
}
