package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/promotion"
	"github.com/shaiso/Conveyor/internal/repo"
)

// Build DTOs

// TriggerBuildRequest — запрос на запуск сборки ветки.
type TriggerBuildRequest struct {
	Job     string            `json:"job"`
	SCMVars map[string]string `json:"scm_vars,omitempty"`
}

// BranchBuildResponse — ответ со сборкой ветки.
type BranchBuildResponse struct {
	ID           uuid.UUID          `json:"id"`
	Job          string             `json:"job"`
	Number       int                `json:"number"`
	Status       domain.BuildStatus `json:"status"`
	Result       string             `json:"result,omitempty"`
	Environments []string           `json:"environments,omitempty"`
	Error        string             `json:"error,omitempty"`
	StartedAt    *time.Time         `json:"started_at,omitempty"`
	FinishedAt   *time.Time         `json:"finished_at,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

// BranchBuildFromDomain конвертирует domain.BranchBuild в BranchBuildResponse.
func BranchBuildFromDomain(b domain.BranchBuild) BranchBuildResponse {
	envs := make([]string, len(b.Environments))
	for i, env := range b.Environments {
		envs[i] = env.Name()
	}

	resp := BranchBuildResponse{
		ID:           b.ID,
		Job:          b.Job,
		Number:       b.Number,
		Status:       b.Status,
		Environments: envs,
		Error:        b.Error,
		StartedAt:    b.StartedAt,
		FinishedAt:   b.FinishedAt,
		CreatedAt:    b.CreatedAt,
	}
	if b.IsFinished() {
		resp.Result = b.Result.String()
	}
	return resp
}

// EnvironmentBuildResponse — ответ со сборкой окружения.
type EnvironmentBuildResponse struct {
	ID          uuid.UUID          `json:"id"`
	Environment string             `json:"environment"`
	Command     string             `json:"command"`
	Status      domain.BuildStatus `json:"status"`
	Result      string             `json:"result,omitempty"`
	Error       string             `json:"error,omitempty"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	FinishedAt  *time.Time         `json:"finished_at,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// EnvironmentBuildFromDomain конвертирует domain.EnvironmentBuild.
func EnvironmentBuildFromDomain(b domain.EnvironmentBuild) EnvironmentBuildResponse {
	resp := EnvironmentBuildResponse{
		ID:          b.ID,
		Environment: b.Environment.Name(),
		Command:     b.Command,
		Status:      b.Status,
		Error:       b.Error,
		StartedAt:   b.StartedAt,
		FinishedAt:  b.FinishedAt,
		CreatedAt:   b.CreatedAt,
	}
	if b.IsFinished() {
		resp.Result = b.Result.String()
	}
	return resp
}

// Promotion DTOs

// ApprovePromotionRequest — запрос на ручное одобрение процесса.
type ApprovePromotionRequest struct {
	User       string            `json:"user"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// ForcePromotionRequest — запрос на принудительный запуск процесса.
type ForcePromotionRequest struct {
	User string `json:"user"`
}

// BadgeResponse — свидетельство выполненного условия.
type BadgeResponse struct {
	Condition  string            `json:"condition"`
	User       string            `json:"user,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// PromotionStateResponse — состояние квалификации процесса.
type PromotionStateResponse struct {
	QualifiedAt       time.Time       `json:"qualified_at"`
	Badges            []BadgeResponse `json:"badges,omitempty"`
	Attempts          []int           `json:"attempts,omitempty"`
	SuccessfulAttempt int             `json:"successful_attempt,omitempty"`
	Promoted          bool            `json:"promoted"`
}

// PromotionBuildResponse — одна попытка выполнения процесса.
type PromotionBuildResponse struct {
	ID         uuid.UUID          `json:"id"`
	Attempt    int                `json:"attempt"`
	Status     domain.BuildStatus `json:"status"`
	Result     string             `json:"result,omitempty"`
	Error      string             `json:"error,omitempty"`
	StartedAt  *time.Time         `json:"started_at,omitempty"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

// ProcessStatusResponse — статус одного процесса.
type ProcessStatusResponse struct {
	Process        string                  `json:"process"`
	DisplayName    string                  `json:"display_name,omitempty"`
	State          *PromotionStateResponse `json:"state,omitempty"`
	Last           *PromotionBuildResponse `json:"last,omitempty"`
	LastSuccessful *PromotionBuildResponse `json:"last_successful,omitempty"`
	LastFailed     *PromotionBuildResponse `json:"last_failed,omitempty"`
}

// PromotionStatusResponse — статус promotion-процессов сборки.
type PromotionStatusResponse struct {
	Qualified []ProcessStatusResponse `json:"qualified"`
	Pending   []ProcessResponse       `json:"pending"`
}

// PromotionStatusFromView конвертирует promotion.StatusView.
func PromotionStatusFromView(view *promotion.StatusView) PromotionStatusResponse {
	resp := PromotionStatusResponse{
		Qualified: make([]ProcessStatusResponse, 0, len(view.Qualified)),
		Pending:   make([]ProcessResponse, 0, len(view.Pending)),
	}

	for _, status := range view.Qualified {
		resp.Qualified = append(resp.Qualified, ProcessStatusResponse{
			Process:        status.Process.Name,
			DisplayName:    status.Process.DisplayName,
			State:          promotionStateResponse(status.State),
			Last:           promotionBuildResponse(status.Last),
			LastSuccessful: promotionBuildResponse(status.LastSuccessful),
			LastFailed:     promotionBuildResponse(status.LastFailed),
		})
	}
	for _, process := range view.Pending {
		resp.Pending = append(resp.Pending, ProcessFromDomain(process))
	}
	return resp
}

func promotionStateResponse(state *domain.PromotionState) *PromotionStateResponse {
	if state == nil {
		return nil
	}

	badges := make([]BadgeResponse, len(state.Badges))
	for i, badge := range state.Badges {
		badges[i] = BadgeResponse{
			Condition:  badge.Condition,
			User:       badge.User,
			Parameters: badge.Parameters,
		}
	}
	return &PromotionStateResponse{
		QualifiedAt:       state.QualifiedAt,
		Badges:            badges,
		Attempts:          state.Attempts,
		SuccessfulAttempt: state.SuccessfulAttempt,
		Promoted:          state.IsPromoted(),
	}
}

func promotionBuildResponse(build *domain.PromotionBuild) *PromotionBuildResponse {
	if build == nil {
		return nil
	}

	resp := &PromotionBuildResponse{
		ID:         build.ID,
		Attempt:    build.Attempt,
		Status:     build.Status,
		Error:      build.Error,
		StartedAt:  build.StartedAt,
		FinishedAt: build.FinishedAt,
		CreatedAt:  build.CreatedAt,
	}
	if build.IsFinished() {
		resp.Result = build.Result.String()
	}
	return resp
}

// ProcessResponse — процесс из каталога.
type ProcessResponse struct {
	Process     string   `json:"process"`
	DisplayName string   `json:"display_name,omitempty"`
	Environment []string `json:"environment,omitempty"`
	Conditions  []string `json:"conditions,omitempty"`
}

// ProcessFromDomain конвертирует domain.PromotionProcess.
func ProcessFromDomain(p domain.PromotionProcess) ProcessResponse {
	conditions := make([]string, len(p.Conditions))
	for i, cond := range p.Conditions {
		conditions[i] = cond.Type
	}
	return ProcessResponse{
		Process:     p.Name,
		DisplayName: p.DisplayName,
		Environment: p.ConstraintLabels(),
		Conditions:  conditions,
	}
}

// Environment DTOs

// EnvironmentEntryResponse — запись реестра окружений.
type EnvironmentEntryResponse struct {
	Job         string    `json:"job"`
	Environment string    `json:"environment"`
	Active      bool      `json:"active"`
	SeenAt      time.Time `json:"seen_at"`
}

// EnvironmentEntryFromRepo конвертирует repo.RegistryEntry.
func EnvironmentEntryFromRepo(e repo.RegistryEntry) EnvironmentEntryResponse {
	return EnvironmentEntryResponse{
		Job:         e.Job,
		Environment: e.Environment.Name(),
		Active:      e.Active,
		SeenAt:      e.SeenAt,
	}
}
