// internal/api/handler.go
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apperrors "github-top-repos/internal/errors"
	"github-top-repos/internal/model"
)

// RepoService is the query surface the API exposes over HTTP.
type RepoService interface {
	GetTop(ctx context.Context, sortBy model.RepoSort, desc bool, limit *int32) ([]model.Repository, error)
	GetActivity(ctx context.Context, owner, repo string, since, until time.Time) ([]model.ActivityRecord, error)
}

// Handler is the container for API dependencies.
type Handler struct {
	svc    RepoService
	logger *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(svc RepoService, logger *slog.Logger) http.Handler {
	h := &Handler{
		svc:    svc,
		logger: logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/repos/top", h.getTopRepos)
		r.Get("/repos/{owner}/{name}/activity", h.getActivity)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// getTopRepos handles the request for the current ranking.
// GET /v1/repos/top?sort=stars&desc=true&limit=N
func (h *Handler) getTopRepos(w http.ResponseWriter, r *http.Request) {
	sortBy, err := model.ParseRepoSort(r.URL.Query().Get("sort"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	desc := true
	if descStr := r.URL.Query().Get("desc"); descStr != "" {
		desc, err = strconv.ParseBool(descStr)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid 'desc' parameter. Must be a boolean.")
			return
		}
	}

	limit := int32(100) // Default limit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.ParseInt(limitStr, 10, 32)
		if err != nil || n <= 0 {
			respondWithError(w, http.StatusBadRequest, "Invalid 'limit' parameter. Must be a positive integer.")
			return
		}
		limit = int32(n)
	}

	repos, err := h.svc.GetTop(r.Context(), sortBy, desc, &limit)
	if err != nil {
		h.logger.Error("Failed to get top repositories", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, repos)
}

// getActivity handles the request for per-day commit activity.
// GET /v1/repos/{owner}/{name}/activity?since=2024-01-01&until=2024-02-01
func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	name := chi.URLParam(r, "name")

	since, err := parseDateParam(r, "since")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	until, err := parseDateParam(r, "until")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.svc.GetActivity(r.Context(), owner, name, since, until)
	if err != nil {
		var tooWide *apperrors.ErrDateRangeTooWide
		var noRepo *apperrors.ErrNoSuchRepository
		switch {
		case errors.Is(err, apperrors.ErrRateLimited):
			respondWithError(w, http.StatusForbidden, err.Error())
		case errors.As(err, &tooWide):
			respondWithError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &noRepo):
			respondWithError(w, http.StatusNotFound, err.Error())
		default:
			h.logger.Error("Failed to get repository activity",
				"owner", owner, "repo", name, "error", err)
			respondWithError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, records)
}

func parseDateParam(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, fmt.Errorf("missing required '%s' parameter (expected %s)", key, model.DateLayout)
	}
	t, err := time.Parse(model.DateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid '%s' parameter %q (expected %s)", key, raw, model.DateLayout)
	}
	return t, nil
}
