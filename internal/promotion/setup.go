package promotion

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Типы setup-шагов.
const (
	SetupRestoreArtifacts = "restore-artifacts"
)

// SetupContext — окружение выполнения setup-шагов одного promotion.
type SetupContext struct {
	// Target — сборка-цель.
	Target *domain.BranchBuild

	// Process — выполняемый процесс.
	Process domain.PromotionProcess

	// Workspace — рабочий каталог promotion-сборки.
	Workspace string
}

// SetupStep — подготовительный шаг перед командой promotion.
// Шаги выполняются в порядке объявления; первая ошибка
// пропускает остальные.
type SetupStep interface {
	// Type возвращает тип шага.
	Type() string

	// Run выполняет шаг.
	Run(ctx context.Context, sc *SetupContext) error
}

// --- Restore artifacts ---

// Archive — хранилище артефактов дочерних сборок.
type Archive interface {
	// Restore копирует артефакты сборки окружения в каталог dest,
	// фильтруя по include/exclude шаблонам.
	Restore(ctx context.Context, job string, number int, environment string, includes, excludes []string, dest string) error
}

// RestoreArtifacts копирует артефакты дочерних сборок цели
// в рабочий каталог promotion.
//
// Environments ограничивает выбор: копируются артефакты окружений,
// пересекающихся с перечисленными метками. Пустой список означает
// все окружения цели.
type RestoreArtifacts struct {
	Includes     []string
	Excludes     []string
	Environments []string

	archive Archive
}

// NewRestoreArtifacts создаёт шаг восстановления артефактов.
func NewRestoreArtifacts(archive Archive, includes, excludes, environments []string) *RestoreArtifacts {
	return &RestoreArtifacts{
		Includes:     includes,
		Excludes:     excludes,
		Environments: environments,
		archive:      archive,
	}
}

func (s *RestoreArtifacts) Type() string { return SetupRestoreArtifacts }

func (s *RestoreArtifacts) Run(ctx context.Context, sc *SetupContext) error {
	for _, env := range sc.Target.Environments {
		if len(s.Environments) > 0 && !env.Intersects(s.Environments) {
			continue
		}

		err := s.archive.Restore(ctx, sc.Target.Job, sc.Target.Number, env.Name(), s.Includes, s.Excludes, sc.Workspace)
		if err != nil {
			return fmt.Errorf("restore artifacts of %s: %w", env.Name(), err)
		}
	}
	return nil
}

// --- Registry ---

// SetupFactory создаёт setup-шаг из параметров конфигурации.
type SetupFactory func(params map[string]any) (SetupStep, error)

// SetupRegistry — реестр типов setup-шагов.
// Потокобезопасен.
type SetupRegistry struct {
	mu        sync.RWMutex
	factories map[string]SetupFactory
}

// NewSetupRegistry создаёт пустой реестр.
func NewSetupRegistry() *SetupRegistry {
	return &SetupRegistry{
		factories: make(map[string]SetupFactory),
	}
}

// DefaultSetupRegistry создаёт реестр со стандартными шагами.
func DefaultSetupRegistry(archive Archive) *SetupRegistry {
	r := NewSetupRegistry()

	r.Register(SetupRestoreArtifacts, func(params map[string]any) (SetupStep, error) {
		includes, err := stringSliceParam(params, "includes")
		if err != nil {
			return nil, err
		}
		excludes, err := stringSliceParam(params, "excludes")
		if err != nil {
			return nil, err
		}
		environments, err := stringSliceParam(params, "environments")
		if err != nil {
			return nil, err
		}
		return NewRestoreArtifacts(archive, includes, excludes, environments), nil
	})

	return r
}

// Register регистрирует фабрику setup-шага.
func (r *SetupRegistry) Register(setupType string, factory SetupFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[setupType] = factory
}

// Build создаёт setup-шаг по конфигурации.
func (r *SetupRegistry) Build(spec domain.SetupSpec) (SetupStep, error) {
	r.mu.RLock()
	factory, exists := r.factories[spec.Type]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSetupNotFound, spec.Type)
	}
	return factory(spec.Params)
}

// BuildAll создаёт setup-шаги процесса в порядке объявления.
func (r *SetupRegistry) BuildAll(specs []domain.SetupSpec) ([]SetupStep, error) {
	steps := make([]SetupStep, 0, len(specs))
	for _, spec := range specs {
		step, err := r.Build(spec)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// Types возвращает список зарегистрированных типов.
func (r *SetupRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
