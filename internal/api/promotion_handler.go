package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shaiso/Conveyor/internal/promotion"
)

// PromotionStatus возвращает статус promotion-процессов сборки.
// GET /api/v1/builds/{id}/promotions
func (h *Handler) PromotionStatus(w http.ResponseWriter, r *http.Request) {
	build, ok := h.buildFromPath(w, r)
	if !ok {
		return
	}

	view, err := h.engine.Status(r.Context(), build.Job, build.Number)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Success(w, PromotionStatusFromView(view))
}

// ApprovePromotion записывает ручное одобрение процесса.
// POST /api/v1/builds/{id}/promotions/{process}/approve
func (h *Handler) ApprovePromotion(w http.ResponseWriter, r *http.Request) {
	build, ok := h.buildFromPath(w, r)
	if !ok {
		return
	}

	process := r.PathValue("process")

	var req ApprovePromotionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.User == "" {
		BadRequest(w, "user is required")
		return
	}

	err := h.engine.Approve(r.Context(), build, process, req.User, req.Parameters)
	if h.handleEngineError(w, err) {
		return
	}

	view, err := h.engine.Status(r.Context(), build.Job, build.Number)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}
	Success(w, PromotionStatusFromView(view))
}

// ForcePromotion запускает процесс в обход условий.
// POST /api/v1/builds/{id}/promotions/{process}/force
func (h *Handler) ForcePromotion(w http.ResponseWriter, r *http.Request) {
	build, ok := h.buildFromPath(w, r)
	if !ok {
		return
	}

	process := r.PathValue("process")

	var req ForcePromotionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.User == "" {
		BadRequest(w, "user is required")
		return
	}

	err := h.engine.ForcePromote(r.Context(), build, process, req.User)
	if h.handleEngineError(w, err) {
		return
	}

	view, err := h.engine.Status(r.Context(), build.Job, build.Number)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}
	Success(w, PromotionStatusFromView(view))
}

// handleEngineError преобразует ошибку promotion-движка в HTTP ответ.
func (h *Handler) handleEngineError(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, promotion.ErrProcessNotFound):
		NotFound(w, err.Error())
	case errors.Is(err, promotion.ErrUserNotAllowed):
		Forbidden(w, err.Error())
	case errors.Is(err, promotion.ErrDuplicateApproval):
		Conflict(w, err.Error())
	default:
		InternalError(w, h.logger, err)
	}
	return true
}
