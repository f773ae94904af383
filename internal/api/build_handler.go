package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
)

// ListBuilds возвращает список сборок веток с фильтрацией.
// GET /api/v1/builds?job=...&status=...&limit=...&offset=...
func (h *Handler) ListBuilds(w http.ResponseWriter, r *http.Request) {
	filter := repo.BranchFilter{
		Job: r.URL.Query().Get("job"),
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = domain.BuildStatus(strings.ToUpper(status))
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		filter.Limit = int(mustParseInt(limitStr, 50))
	} else {
		filter.Limit = 50
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		filter.Offset = int(mustParseInt(offsetStr, 0))
	}

	builds, err := h.branches.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]BranchBuildResponse, len(builds))
	for i, build := range builds {
		result[i] = BranchBuildFromDomain(build)
	}

	List(w, result, len(result))
}

// TriggerBuild ставит новую сборку ветки в очередь.
// POST /api/v1/builds
func (h *Handler) TriggerBuild(w http.ResponseWriter, r *http.Request) {
	var req TriggerBuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.Job == "" {
		BadRequest(w, "job is required")
		return
	}

	number, err := h.branches.NextNumber(r.Context(), req.Job)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	build := &domain.BranchBuild{
		ID:        uuid.New(),
		Job:       req.Job,
		Number:    number,
		Status:    domain.StatusQueued,
		SCMVars:   req.SCMVars,
		CreatedAt: time.Now(),
	}
	if err := h.branches.Create(r.Context(), build); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	h.logger.Info("build triggered", "job", build.Job, "build_number", build.Number)

	if h.publisher != nil {
		if err := h.publisher.PublishBranchPending(r.Context(), build.ID); err != nil {
			// Сборка в БД, оркестратор подхватит через polling
			h.logger.Warn("failed to publish branch.pending",
				"build_id", build.ID,
				"error", err,
			)
		}
	}

	Created(w, BranchBuildFromDomain(*build))
}

// GetBuild возвращает сборку ветки по ID.
// GET /api/v1/builds/{id}
func (h *Handler) GetBuild(w http.ResponseWriter, r *http.Request) {
	build, ok := h.buildFromPath(w, r)
	if !ok {
		return
	}
	Success(w, BranchBuildFromDomain(*build))
}

// CancelBuild отменяет сборку ветки, не успевшую начаться.
// POST /api/v1/builds/{id}/cancel
//
// QUEUED сборка отменяется целиком. У RUNNING сборки отменяются
// только дочерние сборки, ещё стоящие в очереди; уже выполняющиеся
// завершатся сами, а их итог сведётся как обычно.
func (h *Handler) CancelBuild(w http.ResponseWriter, r *http.Request) {
	build, ok := h.buildFromPath(w, r)
	if !ok {
		return
	}

	switch build.Status {
	case domain.StatusQueued:
		build.Status = domain.StatusCancelled
		build.Result = domain.ResultAborted
		now := time.Now()
		build.FinishedAt = &now
		if err := h.branches.Update(r.Context(), build); err != nil {
			InternalError(w, h.logger, err)
			return
		}

	case domain.StatusRunning:
		err := h.queue.WithQueueLock(r.Context(), func(ctx context.Context) error {
			cancelled, err := h.queue.CancelQueued(ctx, build.Job, build.Number)
			if err != nil {
				return err
			}
			h.logger.Info("queued environment builds cancelled",
				"job", build.Job,
				"build_number", build.Number,
				"count", len(cancelled),
			)
			return nil
		})
		if err != nil {
			InternalError(w, h.logger, err)
			return
		}

	default:
		InvalidState(w, "build is already finished")
		return
	}

	h.logger.Info("build cancelled", "job", build.Job, "build_number", build.Number)
	Success(w, BranchBuildFromDomain(*build))
}

// ListEnvironmentBuilds возвращает дочерние сборки окружений.
// GET /api/v1/builds/{id}/environments
func (h *Handler) ListEnvironmentBuilds(w http.ResponseWriter, r *http.Request) {
	build, ok := h.buildFromPath(w, r)
	if !ok {
		return
	}

	children, err := h.envBuilds.ListByBuild(r.Context(), build.Job, build.Number)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]EnvironmentBuildResponse, len(children))
	for i, child := range children {
		result[i] = EnvironmentBuildFromDomain(child)
	}

	List(w, result, len(result))
}

// buildFromPath загружает сборку ветки по path-параметру id.
func (h *Handler) buildFromPath(w http.ResponseWriter, r *http.Request) (*domain.BranchBuild, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid build id")
		return nil, false
	}

	build, err := h.branches.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "build not found") {
		return nil, false
	}
	return build, true
}

// mustParseInt парсит строку в int с дефолтным значением.
func mustParseInt(s string, defaultVal int64) int64 {
	if n, err := json.Number(s).Int64(); err == nil {
		return n
	}
	return defaultVal
}
