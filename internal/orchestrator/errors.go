package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrBuildNotFound — branch build не найдена в БД.
	ErrBuildNotFound = errors.New("branch build not found")

	// ErrBuildNotQueued — сборка не в статусе QUEUED.
	ErrBuildNotQueued = errors.New("branch build is not in QUEUED status")

	// ErrBuildAlreadyActive — сборка уже обрабатывается.
	ErrBuildAlreadyActive = errors.New("branch build already being processed")

	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)
