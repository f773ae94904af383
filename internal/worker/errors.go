package worker

import "errors"

// Ошибки воркера.
var (
	// ErrBuildNotFound — сборка не найдена в БД.
	ErrBuildNotFound = errors.New("build not found")

	// ErrBuildNotQueued — сборка не в статусе QUEUED.
	// Обычно значит, что её забрал другой воркер или она отменена.
	ErrBuildNotQueued = errors.New("build is not in QUEUED status")

	// ErrWorkerStopped — воркер остановлен.
	ErrWorkerStopped = errors.New("worker stopped")
)
