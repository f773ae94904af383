package domain

// BuildStatus — статус жизненного цикла записи сборки.
//
// Жизненный цикл:
//
//	QUEUED → RUNNING → COMPLETED
//	       ↘ CANCELLED (из QUEUED, пока сборка не взята исполнителем)
//
// Итог завершённой сборки (SUCCESS/FAILURE/...) хранится отдельно
// в поле Result — статус описывает только положение записи
// в конвейере выполнения.
type BuildStatus string

const (
	// StatusQueued — сборка в очереди, ожидает исполнителя.
	StatusQueued BuildStatus = "QUEUED"

	// StatusRunning — сборка выполняется.
	StatusRunning BuildStatus = "RUNNING"

	// StatusCompleted — сборка завершена; итог в поле Result.
	StatusCompleted BuildStatus = "COMPLETED"

	// StatusCancelled — сборка отменена до начала выполнения.
	StatusCancelled BuildStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
func (s BuildStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}
