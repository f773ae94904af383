package promotion

import "errors"

// Ошибки promotion-подсистемы.
var (
	// ErrProcessNotFound — процесс не объявлен в каталоге.
	ErrProcessNotFound = errors.New("promotion process not found")

	// ErrConditionNotFound — тип условия не зарегистрирован.
	ErrConditionNotFound = errors.New("condition type not found")

	// ErrSetupNotFound — тип setup-шага не зарегистрирован.
	ErrSetupNotFound = errors.New("setup step type not found")

	// ErrInvalidSpec — невалидная конфигурация условия или setup-шага.
	ErrInvalidSpec = errors.New("invalid spec")

	// ErrTargetMissing — сборка-цель не найдена.
	// Цель могла быть удалена retention-политикой; это честный
	// исход разрешения ссылки, а не повреждение данных.
	ErrTargetMissing = errors.New("promotion target missing")

	// ErrSetupFailed — setup-шаг завершился с ошибкой.
	ErrSetupFailed = errors.New("setup step failed")

	// ErrSchedulingFailed — не удалось поставить promotion в очередь.
	// Квалификация уже записана; постановка повторяема.
	ErrSchedulingFailed = errors.New("promotion scheduling failed")

	// ErrDuplicateApproval — процесс уже одобрен этим пользователем.
	ErrDuplicateApproval = errors.New("process already approved")

	// ErrUserNotAllowed — пользователь не входит в список одобряющих.
	ErrUserNotAllowed = errors.New("user not allowed to approve")
)
