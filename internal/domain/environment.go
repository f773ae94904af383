package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DefaultEnvironmentName — каноническое имя пустого окружения.
const DefaultEnvironmentName = "default"

// ErrMalformedEnvironment — строка не является каноническим именем окружения.
var ErrMalformedEnvironment = errors.New("malformed environment name")

// EnvironmentSet — неизменяемое множество меток компонентов,
// идентифицирующее одну точку build-матрицы.
//
// Каноническое имя — метки, отсортированные лексикографически и
// соединённые через запятую; для пустого множества — "default".
// Имя детерминировано и стабильно между перезапусками процесса,
// поэтому используется как ключ персистентности (имя директории,
// ключ записи в реестре окружений).
//
// EnvironmentSet создаётся при разрешении описания сборки
// и никогда не мутирует.
type EnvironmentSet struct {
	// labels — отсортированные уникальные метки. Никогда не отдаём
	// наружу сам slice, только копию.
	labels []string
}

// NewEnvironmentSet создаёт EnvironmentSet из произвольного набора меток.
// Метки сортируются и дедуплицируются; пустые метки отбрасываются.
func NewEnvironmentSet(labels ...string) EnvironmentSet {
	seen := make(map[string]bool, len(labels))
	result := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		result = append(result, l)
	}
	sort.Strings(result)
	return EnvironmentSet{labels: result}
}

// ParseEnvironmentSet — обратная операция к Name.
//
// Принимает только каноническую форму: метки должны идти в строго
// возрастающем порядке. Защитная проверка — приём только канонических
// форм исключает тихое появление двух записей с одинаковой
// идентичностью под разными именами.
func ParseEnvironmentSet(name string) (EnvironmentSet, error) {
	if name == DefaultEnvironmentName {
		return EnvironmentSet{}, nil
	}
	if name == "" {
		return EnvironmentSet{}, fmt.Errorf("%w: empty name", ErrMalformedEnvironment)
	}
	var labels []string
	for _, token := range strings.Split(name, ",") {
		if token == "" {
			return EnvironmentSet{}, fmt.Errorf("%w: %q", ErrMalformedEnvironment, name)
		}
		if len(labels) > 0 && token <= labels[len(labels)-1] {
			// не отсортировано (или дубликат) — не каноническая форма
			return EnvironmentSet{}, fmt.Errorf("%w: %q", ErrMalformedEnvironment, name)
		}
		labels = append(labels, token)
	}
	return EnvironmentSet{labels: labels}, nil
}

// EnvironmentSetsFromLabelSets преобразует список наборов меток в список
// EnvironmentSet, сохраняя порядок первого вхождения и убирая дубликаты.
func EnvironmentSetsFromLabelSets(labelSets [][]string) []EnvironmentSet {
	result := make([]EnvironmentSet, 0, len(labelSets))
	seen := make(map[string]bool, len(labelSets))
	for _, labels := range labelSets {
		e := NewEnvironmentSet(labels...)
		if seen[e.Name()] {
			continue
		}
		seen[e.Name()] = true
		result = append(result, e)
	}
	return result
}

// Name возвращает каноническое имя окружения.
func (e EnvironmentSet) Name() string {
	if len(e.labels) == 0 {
		return DefaultEnvironmentName
	}
	return strings.Join(e.labels, ",")
}

// IsDefault возвращает true для пустого окружения.
func (e EnvironmentSet) IsDefault() bool {
	return len(e.labels) == 0
}

// Labels возвращает копию отсортированных меток окружения.
func (e EnvironmentSet) Labels() []string {
	out := make([]string, len(e.labels))
	copy(out, e.labels)
	return out
}

// Size возвращает количество меток.
func (e EnvironmentSet) Size() int {
	return len(e.labels)
}

// Contains проверяет наличие метки.
func (e EnvironmentSet) Contains(label string) bool {
	i := sort.SearchStrings(e.labels, label)
	return i < len(e.labels) && e.labels[i] == label
}

// Intersects возвращает true, если хотя бы одна метка окружения
// входит в переданный набор. Используется для сопоставления окружения
// с ограничением promotion-процесса.
func (e EnvironmentSet) Intersects(labels []string) bool {
	for _, l := range labels {
		if e.Contains(l) {
			return true
		}
	}
	return false
}

// Equal — два EnvironmentSet равны тогда и только тогда,
// когда равны их множества меток.
func (e EnvironmentSet) Equal(o EnvironmentSet) bool {
	if len(e.labels) != len(o.labels) {
		return false
	}
	for i := range e.labels {
		if e.labels[i] != o.labels[i] {
			return false
		}
	}
	return true
}

// Compare задаёт порядок: лексикографическое сравнение по элементам
// отсортированных последовательностей; более короткая
// последовательность-префикс идёт первой.
func (e EnvironmentSet) Compare(o EnvironmentSet) int {
	for i := 0; i < len(e.labels) && i < len(o.labels); i++ {
		if r := strings.Compare(e.labels[i], o.labels[i]); r != 0 {
			return r
		}
	}
	switch {
	case len(e.labels) > len(o.labels):
		return 1
	case len(e.labels) < len(o.labels):
		return -1
	default:
		return 0
	}
}

// String возвращает каноническое имя.
func (e EnvironmentSet) String() string {
	return e.Name()
}

// MarshalText сериализует окружение в каноническое имя.
func (e EnvironmentSet) MarshalText() ([]byte, error) {
	return []byte(e.Name()), nil
}

// UnmarshalText парсит каноническое имя.
func (e *EnvironmentSet) UnmarshalText(data []byte) error {
	parsed, err := ParseEnvironmentSet(string(data))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
