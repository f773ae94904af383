package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PromotionProcess — определение одного promotion-процесса ветки.
//
// Процесс — это именованный условно-запускаемый post-build job.
// Имена сравниваются без учёта регистра; порядок отображения задаётся
// порядком объявления в каталоге, а не алфавитом.
type PromotionProcess struct {
	// Name — уникальное (без учёта регистра) имя процесса.
	Name string `json:"name" yaml:"name"`

	// DisplayName — человекочитаемое имя. Пустое — используется Name.
	DisplayName string `json:"display_name,omitempty" yaml:"display_name"`

	// Environment — необязательное ограничение окружений: строка меток
	// в свободной форме (пробелы/запятые, кавычки, escape).
	// Окружение сборки "подходит", если хотя бы одна его метка входит
	// в ограничение. Используется setup-шагами для выбора артефактов
	// и определяет окружение выполнения команды процесса.
	Environment string `json:"environment,omitempty" yaml:"environment"`

	// Setup — упорядоченные setup-шаги, выполняемые перед командой.
	Setup []SetupSpec `json:"setup,omitempty" yaml:"setup"`

	// Conditions — упорядоченные условия квалификации.
	// Процесс квалифицируется, только если КАЖДОЕ условие вернёт badge.
	Conditions []ConditionSpec `json:"conditions" yaml:"conditions"`
}

// Display возвращает отображаемое имя процесса.
func (p PromotionProcess) Display() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Name
}

// ConstraintLabels возвращает метки ограничения окружений.
// Nil, если ограничение не задано.
func (p PromotionProcess) ConstraintLabels() []string {
	return ParseEnvironmentConstraint(p.Environment)
}

// ConditionSpec — сериализуемое описание условия квалификации.
// Type выбирает реализацию в реестре условий; Params — её параметры.
type ConditionSpec struct {
	Type   string         `json:"type" yaml:"type"`
	Params map[string]any `json:"params,omitempty" yaml:"params"`
}

// SetupSpec — сериализуемое описание setup-шага.
type SetupSpec struct {
	Type   string         `json:"type" yaml:"type"`
	Params map[string]any `json:"params,omitempty" yaml:"params"`
}

// ProcessNameEquals сравнивает имена процессов без учёта регистра.
func ProcessNameEquals(a, b string) bool {
	return strings.EqualFold(a, b)
}

// ProcessKey нормализует имя процесса для использования
// в качестве ключа (персистентность, map-ы).
func ProcessKey(name string) string {
	return strings.ToLower(name)
}

// ParseEnvironmentConstraint разбирает строку ограничения окружений
// на метки. Разделители — пробельные символы и запятые; метка может
// быть взята в одинарные, двойные или обратные кавычки, внутри
// действует экранирование обратным слэшем. Возвращает nil для пустой
// строки или строки без меток.
func ParseEnvironmentConstraint(constraint string) []string {
	if strings.TrimSpace(constraint) == "" {
		return nil
	}
	var (
		result   []string
		builder  strings.Builder
		inQuote  rune
		inEscape bool
	)
	flush := func() {
		if builder.Len() > 0 {
			result = append(result, builder.String())
			builder.Reset()
		}
	}
	for _, c := range constraint {
		switch c {
		case '\\':
			if inEscape {
				builder.WriteRune(c)
				inEscape = false
			} else {
				inEscape = true
			}
		case '\'', '`', '"':
			if inEscape {
				builder.WriteRune(c)
				inEscape = false
				break
			}
			if inQuote == 0 {
				inQuote = c
				break
			}
			if inQuote == c {
				flush()
				inQuote = 0
				break
			}
			builder.WriteRune(c)
		case ' ', ',', '\n', '\r', '\t', '\f', '\v':
			if inEscape {
				builder.WriteRune(c)
				inEscape = false
				break
			}
			if inQuote == 0 {
				flush()
				break
			}
			builder.WriteRune(c)
		default:
			inEscape = false
			builder.WriteRune(c)
		}
	}
	flush()
	if len(result) == 0 {
		return nil
	}
	// дедупликация с сохранением порядка объявления
	seen := make(map[string]bool, len(result))
	unique := result[:0]
	for _, l := range result {
		if !seen[l] {
			seen[l] = true
			unique = append(unique, l)
		}
	}
	return unique
}

// NormalizeEnvironmentConstraint приводит строку ограничения
// к канонической форме: метки, требующие кавычек, заключаются
// в двойные кавычки, разделитель — одиночный пробел.
func NormalizeEnvironmentConstraint(constraint string) string {
	labels := ParseEnvironmentConstraint(constraint)
	if labels == nil {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		if strings.ContainsAny(l, " ,\n\r\t\f\v'\"`\\") {
			escaped := strings.ReplaceAll(l, `\`, `\\`)
			escaped = strings.ReplaceAll(escaped, `"`, `\"`)
			parts = append(parts, `"`+escaped+`"`)
		} else {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, " ")
}

// Badge — свидетельство прохождения условия квалификации.
//
// Записывается в PromotionState при квалификации и служит
// одновременно гейтом и источником данных для окружения
// promotion-сборки (например, параметры ручного одобрения).
type Badge struct {
	// Condition — тип условия, выдавшего badge.
	Condition string `json:"condition"`

	// User — пользователь, если badge порождён ручным действием.
	User string `json:"user,omitempty"`

	// Parameters — параметры, переданные при одобрении.
	Parameters map[string]string `json:"parameters,omitempty"`
}

// ManualApproval — запись ручного одобрения promotion-процесса
// для конкретной сборки-цели. Создаётся действием пользователя
// и живёт в состоянии сборки независимо от исхода квалификации:
// одобрение остаётся, даже если другое условие пока не выполнено.
type ManualApproval struct {
	// Process — имя одобренного процесса.
	Process string `json:"process"`

	// User — кто одобрил.
	User string `json:"user"`

	// Parameters — значения параметров, введённые при одобрении.
	Parameters map[string]string `json:"parameters,omitempty"`

	// ApprovedAt — время одобрения.
	ApprovedAt time.Time `json:"approved_at"`
}

// PromotionState — состояние promotion-процесса для одной сборки-цели.
//
// Создаётся только при первой квалификации процесса: отсутствие записи
// означает "не предпринималось", что отличается от "предпринималось
// и упало". Инвариант: SuccessfulAttempt, если установлен,
// содержится в Attempts.
type PromotionState struct {
	// Job и Number — идентичность сборки-цели.
	Job    string `json:"job"`
	Number int    `json:"number"`

	// Process — имя процесса (как объявлено в каталоге).
	Process string `json:"process"`

	// QualifiedAt — когда сборка квалифицировалась.
	QualifiedAt time.Time `json:"qualified_at"`

	// Badges — свидетельства условий в порядке объявления условий.
	Badges []Badge `json:"badges"`

	// Attempts — номера promotion-сборок в порядке выполнения.
	// Только добавление; попытка записывается до выполнения тела,
	// чтобы падение процесса посреди выполнения оставило след.
	Attempts []int `json:"attempts"`

	// SuccessfulAttempt — номер первой успешной попытки.
	// 0 — успеха ещё не было. Устанавливается не более одного раза
	// (первая запись побеждает).
	SuccessfulAttempt int `json:"successful_attempt,omitempty"`
}

// IsPromoted возвращает true, если процесс успешно выполнен.
func (s *PromotionState) IsPromoted() bool {
	return s.SuccessfulAttempt != 0
}

// AddAttempt дописывает номер попытки. Только добавление в конец.
func (s *PromotionState) AddAttempt(number int) {
	s.Attempts = append(s.Attempts, number)
}

// MarkSuccessful фиксирует первую успешную попытку.
// Возвращает false, если успех уже зафиксирован (первая запись
// побеждает) или номер не входит в Attempts.
//
// Не потокобезопасен сам по себе: вызывающий обязан держать
// блокировку, привязанную к этому состоянию (self-триггер и
// cascade-триггер могут гоняться).
func (s *PromotionState) MarkSuccessful(number int) bool {
	if s.SuccessfulAttempt != 0 {
		return false
	}
	found := false
	for _, a := range s.Attempts {
		if a == number {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	s.SuccessfulAttempt = number
	return true
}

// LastAttempt возвращает номер последней попытки, 0 если попыток не было.
func (s *PromotionState) LastAttempt() int {
	if len(s.Attempts) == 0 {
		return 0
	}
	return s.Attempts[len(s.Attempts)-1]
}

// SortStatesByCatalog сортирует состояния в порядке объявления
// процессов в каталоге; неизвестные процессы уходят в конец.
func SortStatesByCatalog(states []*PromotionState, processes []PromotionProcess) {
	index := make(map[string]int, len(processes))
	for i, p := range processes {
		index[ProcessKey(p.Name)] = i
	}
	sort.SliceStable(states, func(i, j int) bool {
		ii, iok := index[ProcessKey(states[i].Process)]
		ji, jok := index[ProcessKey(states[j].Process)]
		if !iok {
			ii = len(processes)
		}
		if !jok {
			ji = len(processes)
		}
		return ii < ji
	})
}

// PromotionBuild — одно выполнение promotion-процесса против
// сборки-цели.
//
// Цель хранится парой (job, номер сборки), а не прямой ссылкой:
// цель может быть удалена retention-политикой, и разрешение ссылки
// имеет право честно не найти её ("нет такой цели") — это не
// повреждение данных.
type PromotionBuild struct {
	// ID — уникальный идентификатор выполнения.
	ID uuid.UUID `json:"id"`

	// Job и Number — идентичность сборки-цели.
	Job    string `json:"job"`
	Number int    `json:"number"`

	// Process — имя процесса.
	Process string `json:"process"`

	// Attempt — порядковый номер этой попытки в рамках (Job, Process).
	Attempt int `json:"attempt"`

	// Parameters — параметры выполнения (из ручного одобрения
	// плюс параметры сборки-цели).
	Parameters map[string]string `json:"parameters,omitempty"`

	// Status — текущий статус выполнения.
	Status BuildStatus `json:"status"`

	// Result — итог при Status == COMPLETED.
	Result BuildResult `json:"result"`

	// Error — текст ошибки выполнения.
	Error string `json:"error,omitempty"`

	// StartedAt — время начала выполнения.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время постановки в очередь.
	CreatedAt time.Time `json:"created_at"`
}

// IsFinished возвращает true, если выполнение завершено.
func (p *PromotionBuild) IsFinished() bool {
	return p.Status.IsTerminal()
}

// MarkRunning переводит выполнение в статус RUNNING.
func (p *PromotionBuild) MarkRunning() {
	now := time.Now()
	p.Status = StatusRunning
	p.StartedAt = &now
}

// MarkCompleted завершает выполнение с результатом.
func (p *PromotionBuild) MarkCompleted(result BuildResult, errMsg string) {
	now := time.Now()
	p.Status = StatusCompleted
	p.Result = result
	p.Error = errMsg
	p.FinishedAt = &now
}
