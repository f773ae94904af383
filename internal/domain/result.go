package domain

// BuildResult — итог выполнения сборки.
//
// Значения упорядочены по серьёзности:
//
//	SUCCESS < UNSTABLE < FAILURE < NOT_BUILT < ABORTED
//
// Агрегация результата ветки из результатов дочерних сборок выполняется
// через Combine ("худший побеждает").
type BuildResult int8

const (
	// ResultSuccess — сборка успешна.
	ResultSuccess BuildResult = iota

	// ResultUnstable — сборка собралась, но с проблемами
	// (например, упавшие тесты).
	ResultUnstable

	// ResultFailure — сборка завершилась ошибкой.
	ResultFailure

	// ResultNotBuilt — сборка не выполнялась.
	ResultNotBuilt

	// ResultAborted — сборка прервана. Отсутствующий или отменённый
	// ребёнок вносит именно этот результат.
	ResultAborted
)

var resultNames = [...]string{
	ResultSuccess:  "SUCCESS",
	ResultUnstable: "UNSTABLE",
	ResultFailure:  "FAILURE",
	ResultNotBuilt: "NOT_BUILT",
	ResultAborted:  "ABORTED",
}

// String возвращает строковое представление результата.
func (r BuildResult) String() string {
	if r < 0 || int(r) >= len(resultNames) {
		return "UNKNOWN"
	}
	return resultNames[r]
}

// ParseBuildResult парсит строковое представление результата.
// Неизвестные значения трактуются как ABORTED — безопаснее считать
// непонятный исход прерванным, чем успешным.
func ParseBuildResult(s string) BuildResult {
	for r, name := range resultNames {
		if name == s {
			return BuildResult(r)
		}
	}
	return ResultAborted
}

// Combine возвращает худший из двух результатов.
func (r BuildResult) Combine(o BuildResult) BuildResult {
	if o > r {
		return o
	}
	return r
}

// IsWorseThan возвращает true, если r строго хуже o.
func (r BuildResult) IsWorseThan(o BuildResult) bool {
	return r > o
}

// IsBetterOrEqual возвращает true, если r не хуже o.
func (r BuildResult) IsBetterOrEqual(o BuildResult) bool {
	return r <= o
}

// MarshalText сериализует результат в строковую форму.
func (r BuildResult) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText парсит строковую форму результата.
func (r *BuildResult) UnmarshalText(data []byte) error {
	*r = ParseBuildResult(string(data))
	return nil
}
