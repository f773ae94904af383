package domain

import (
	"time"

	"github.com/google/uuid"
)

// BranchBuild — одна логическая сборка ветки.
//
// Запись создаётся при старте сборки ветки и владеет списком окружений,
// разрешённым для этого конкретного номера сборки. Список разрешается
// один раз и неизменен всю жизнь записи; удаляется запись только
// явной политикой retention.
type BranchBuild struct {
	// ID — уникальный идентификатор записи.
	ID uuid.UUID `json:"id"`

	// Job — имя job'а ветки (идентичность родителя для дочерних сборок).
	Job string `json:"job"`

	// Number — номер сборки. Дочерние сборки окружений разделяют
	// этот номер.
	Number int `json:"number"`

	// Status — текущий статус записи.
	Status BuildStatus `json:"status"`

	// Result — агрегированный итог (худший из дочерних).
	// Имеет смысл только при Status == COMPLETED.
	Result BuildResult `json:"result"`

	// Environments — окружения, разрешённые для этой сборки.
	// Nil, пока описание сборки не разрешено.
	Environments []EnvironmentSet `json:"environments,omitempty"`

	// SCMVars — переменные, выставленные системой контроля версий
	// при checkout (коммит, ветка и т.п.). Копируются в окружение
	// promotion-сборок с префиксом PROMOTED_.
	SCMVars map[string]string `json:"scm_vars,omitempty"`

	// Error — текст ошибки, если сборка упала до fan-out
	// (непарсящееся описание, окружение без команды).
	Error string `json:"error,omitempty"`

	// StartedAt — время начала выполнения.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания записи.
	CreatedAt time.Time `json:"created_at"`
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если сборка ещё не завершена.
func (b *BranchBuild) Duration() time.Duration {
	if b.StartedAt == nil || b.FinishedAt == nil {
		return 0
	}
	return b.FinishedAt.Sub(*b.StartedAt)
}

// IsFinished возвращает true, если сборка завершена.
func (b *BranchBuild) IsFinished() bool {
	return b.Status.IsTerminal()
}

// MarkRunning переводит сборку в статус RUNNING.
func (b *BranchBuild) MarkRunning() {
	now := time.Now()
	b.Status = StatusRunning
	b.StartedAt = &now
}

// MarkCompleted завершает сборку с агрегированным результатом.
func (b *BranchBuild) MarkCompleted(result BuildResult) {
	now := time.Now()
	b.Status = StatusCompleted
	b.Result = result
	b.FinishedAt = &now
}

// MarkFailed завершает сборку с результатом FAILURE и текстом ошибки.
// Используется для падений до fan-out.
func (b *BranchBuild) MarkFailed(errMsg string) {
	now := time.Now()
	b.Status = StatusCompleted
	b.Result = ResultFailure
	b.Error = errMsg
	b.FinishedAt = &now
}

// EnvironmentBuild — выполнение одной команды сборки в одном окружении.
//
// Ровно одна запись на пару (окружение, номер сборки). Жизненный цикл
// подчинён родительской BranchBuild: общий номер, общая отмена.
type EnvironmentBuild struct {
	// ID — уникальный идентификатор записи.
	ID uuid.UUID `json:"id"`

	// Job — имя job'а родительской ветки. Вместе с Number образует
	// идентичность родителя, по которой отмена находит ребёнка.
	Job string `json:"job"`

	// Number — номер родительской сборки.
	Number int `json:"number"`

	// Environment — окружение этой сборки.
	Environment EnvironmentSet `json:"environment"`

	// Command — команда сборки, разрешённая из описания проекта.
	Command string `json:"command"`

	// Status — текущий статус.
	Status BuildStatus `json:"status"`

	// Result — итог выполнения при Status == COMPLETED.
	Result BuildResult `json:"result"`

	// Error — текст ошибки выполнения.
	Error string `json:"error,omitempty"`

	// StartedAt — время начала выполнения воркером.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время постановки в очередь.
	CreatedAt time.Time `json:"created_at"`
}

// IsFinished возвращает true, если сборка завершена или отменена.
func (b *EnvironmentBuild) IsFinished() bool {
	return b.Status.IsTerminal()
}

// MarkRunning переводит сборку в статус RUNNING.
func (b *EnvironmentBuild) MarkRunning() {
	now := time.Now()
	b.Status = StatusRunning
	b.StartedAt = &now
}

// MarkCompleted завершает сборку с результатом.
func (b *EnvironmentBuild) MarkCompleted(result BuildResult, errMsg string) {
	now := time.Now()
	b.Status = StatusCompleted
	b.Result = result
	b.Error = errMsg
	b.FinishedAt = &now
}

// MarkCancelled отменяет сборку, не успевшую начаться.
func (b *EnvironmentBuild) MarkCancelled() {
	now := time.Now()
	b.Status = StatusCancelled
	b.Result = ResultAborted
	b.FinishedAt = &now
}
