package model

import (
	"context"
	"errors"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Ошибки разрешения модели проекта.
var (
	// ErrModelBuild — описание сборки отсутствует или не парсится.
	// Фатально для сборки ветки: fan-out не начинается.
	ErrModelBuild = errors.New("cannot build project model")

	// ErrNoBuildForEnvironment — для разрешённого окружения
	// не объявлена команда сборки.
	ErrNoBuildForEnvironment = errors.New("no build command for environment")
)

// ProjectModel — разрешённая модель проекта: окружения build-матрицы,
// команды сборки по окружениям и команды задач promotion-процессов.
//
// Модель неизменяема после разрешения.
type ProjectModel struct {
	environments []domain.EnvironmentSet
	builds       map[string]string // каноническое имя окружения → команда
	defaultBuild string            // команда без привязки к окружению
	tasks        map[string]string // ключ процесса (lower) → команда
}

// Environments возвращает окружения в порядке объявления.
func (m *ProjectModel) Environments() []domain.EnvironmentSet {
	out := make([]domain.EnvironmentSet, len(m.environments))
	copy(out, m.environments)
	return out
}

// BuildCommand возвращает команду сборки для окружения.
// Ищется точное совпадение по каноническому имени, затем общая
// команда без привязки к окружению.
func (m *ProjectModel) BuildCommand(env domain.EnvironmentSet) (string, bool) {
	if cmd, ok := m.builds[env.Name()]; ok {
		return cmd, true
	}
	if m.defaultBuild != "" {
		return m.defaultBuild, true
	}
	return "", false
}

// TaskCommand возвращает команду задачи для promotion-процесса.
// Имя процесса сравнивается без учёта регистра.
func (m *ProjectModel) TaskCommand(process string) (string, bool) {
	cmd, ok := m.tasks[domain.ProcessKey(process)]
	return cmd, ok
}

// Source разрешает описание сборки репозитория в ProjectModel.
//
// Это контракт внешнего коллаборатора: грамматика описания и политика
// сопоставления окружений с командами здесь не специфицируются.
type Source interface {
	// Resolve строит модель по корню рабочей копии репозитория.
	// Возвращает ErrModelBuild, если описание отсутствует
	// или не парсится.
	Resolve(ctx context.Context, dir string) (*ProjectModel, error)
}
