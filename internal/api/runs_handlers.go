package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/retail-content-ingestor/internal/store"
)

const (
	defaultRunLimit    = 50
	maxRunLimit        = 500
	defaultChangeLimit = 200
	maxChangeLimit     = 2000
	historyTimeout     = 3 * time.Second
)

// RunHandler exposes read-only run history endpoints.
type RunHandler struct {
	repo    store.RunRepository
	changes store.ChangeRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunHandler wires the repositories and logger. Either repository may be
// nil; its endpoints then answer 503.
func NewRunHandler(repo store.RunRepository, changes store.ChangeRepository, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{
		repo:    repo,
		changes: changes,
		timeout: historyTimeout,
		logger:  logger,
	}
}

// ListRuns handles GET /v1/runs?limit=&offset=. It returns {"runs": [...]}
// newest first, 400 for invalid paging, 503 when no history is configured, or
// 500 if the repository call fails.
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run history unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	runs, err := h.repo.ListRuns(ctx, limit, offset)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": toRunDTOs(runs)})
}

// GetRun handles GET /v1/runs/{run_id}. It returns {"run": {...}}, 400 for
// malformed ids, 404 for store.ErrNotFound, 503 without history, or 500.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run history unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": toRunDTO(run)})
}

// ListChanges handles GET /v1/runs/{run_id}/changes?limit=&offset=. It
// returns {"changes": [...]} in the order the run produced them, 400 for
// malformed ids or paging, 503 without a change log, or 500.
func (h *RunHandler) ListChanges(w http.ResponseWriter, r *http.Request) {
	if h.changes == nil {
		writeError(w, http.StatusServiceUnavailable, "change log unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultChangeLimit, maxChangeLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	changes, err := h.changes.ListChanges(ctx, runID, limit, offset)
	if err != nil {
		h.logger.Error("list changes failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list changes")
		return
	}
	out := make([]changeDTO, 0, len(changes))
	for _, c := range changes {
		out = append(out, changeDTO{
			Source:      c.Source,
			URL:         c.URL,
			Outcome:     c.Outcome,
			ContentHash: c.ContentHash,
			Chunks:      c.Chunks,
			Note:        c.Note,
			At:          c.At,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID.String(), "changes": out})
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("run_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid run_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func toRunDTOs(in []store.Run) []runDTO {
	out := make([]runDTO, 0, len(in))
	for _, run := range in {
		out = append(out, toRunDTO(run))
	}
	return out
}

func toRunDTO(run store.Run) runDTO {
	return runDTO{
		ID:         run.ID.String(),
		Period:     run.Period,
		Trigger:    run.Trigger,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		Error:      run.ErrorMessage,
		Tasks:      run.Tasks,
	}
}

type runDTO struct {
	ID         string            `json:"id"`
	Period     string            `json:"period"`
	Trigger    string            `json:"trigger"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Status     string            `json:"status"`
	Error      *string           `json:"error,omitempty"`
	Tasks      map[string]string `json:"tasks,omitempty"`
}

type changeDTO struct {
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	Outcome     string    `json:"outcome"`
	ContentHash string    `json:"content_hash,omitempty"`
	Chunks      int       `json:"chunks,omitempty"`
	Note        string    `json:"note,omitempty"`
	At          time.Time `json:"at"`
}
