package promotion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/model"
	"github.com/shaiso/Conveyor/internal/repo"
)

// Executor выполняет команду процесса в рабочем каталоге.
type Executor interface {
	Execute(ctx context.Context, command, dir string, env []string) (domain.BuildResult, error)
}

// ModelResolver разрешает описание проекта для job'а.
type ModelResolver interface {
	ResolveJob(ctx context.Context, job string) (*model.ProjectModel, error)
}

// Runner выполняет одну promotion-сборку.
//
// Разрешает сборку-цель по идентичности (job, номер) — цель могла быть
// удалена retention-политикой, тогда выполнение честно падает с
// ErrTargetMissing. Затем выполняет setup-шаги процесса по порядку
// (первая ошибка пропускает остальные) и команду процесса из описания
// проекта с переменными окружения цели.
type Runner struct {
	targets  TargetStore
	models   ModelResolver
	catalog  *Catalog
	setups   *SetupRegistry
	executor Executor

	workspaceBase string
	baseURL       string

	logger *slog.Logger
}

// RunnerConfig — конфигурация Runner.
type RunnerConfig struct {
	// Targets — разрешение сборок-целей. Обязательно.
	Targets TargetStore

	// Models — источник описаний проектов. Обязательно.
	Models ModelResolver

	// Catalog — каталог процессов. Обязательно.
	Catalog *Catalog

	// Setups — реестр setup-шагов. По умолчанию пустой реестр.
	Setups *SetupRegistry

	// Executor — исполнитель команд. Обязательно.
	Executor Executor

	// WorkspaceBase — корень рабочих каталогов promotions.
	WorkspaceBase string

	// BaseURL — внешний адрес системы для PROMOTED_URL.
	BaseURL string

	// Logger — логгер.
	Logger *slog.Logger
}

// NewRunner создаёт новый Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	setups := cfg.Setups
	if setups == nil {
		setups = NewSetupRegistry()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		targets:       cfg.Targets,
		models:        cfg.Models,
		catalog:       cfg.Catalog,
		setups:        setups,
		executor:      cfg.Executor,
		workspaceBase: cfg.WorkspaceBase,
		baseURL:       cfg.BaseURL,
		logger:        logger,
	}
}

// Run выполняет promotion build и возвращает его результат.
func (r *Runner) Run(ctx context.Context, build *domain.PromotionBuild) (domain.BuildResult, error) {
	// 1. Разрешаем сборку-цель
	target, err := r.targets.GetByNumber(ctx, build.Job, build.Number)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.ResultFailure, fmt.Errorf("%w: %s #%d", ErrTargetMissing, build.Job, build.Number)
		}
		return domain.ResultFailure, fmt.Errorf("get target: %w", err)
	}

	// 2. Процесс и команда из описания проекта
	process, err := r.catalog.Lookup(build.Process)
	if err != nil {
		return domain.ResultFailure, err
	}

	projectModel, err := r.models.ResolveJob(ctx, build.Job)
	if err != nil {
		return domain.ResultFailure, fmt.Errorf("resolve project model: %w", err)
	}
	command, ok := projectModel.TaskCommand(process.Name)
	if !ok {
		return domain.ResultFailure, fmt.Errorf("%w: no task command for %s", ErrInvalidSpec, process.Name)
	}

	// 3. Рабочий каталог promotion-сборки
	workspace := filepath.Join(r.workspaceBase, build.Job, "promotions", domain.ProcessKey(build.Process), strconv.Itoa(build.Attempt))
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return domain.ResultFailure, fmt.Errorf("create workspace: %w", err)
	}

	// 4. Setup-шаги по порядку; первая ошибка пропускает остальные
	steps, err := r.setups.BuildAll(process.Setup)
	if err != nil {
		return domain.ResultFailure, err
	}

	sc := &SetupContext{Target: target, Process: process, Workspace: workspace}
	for _, step := range steps {
		if err := step.Run(ctx, sc); err != nil {
			return domain.ResultFailure, fmt.Errorf("%w: %s: %v", ErrSetupFailed, step.Type(), err)
		}
	}

	// 5. Команда процесса с переменными сборки-цели
	env := r.promotionEnv(target, build)
	return r.executor.Execute(ctx, command, workspace, env)
}

// promotionEnv собирает переменные окружения promotion-сборки.
//
// Сборка-цель представлена переменными PROMOTED_*: адрес, имена job'а,
// номер, идентификатор и копии SCM-переменных цели. Параметры
// (введённые при одобрении) добавляются как есть.
func (r *Runner) promotionEnv(target *domain.BranchBuild, build *domain.PromotionBuild) []string {
	env := os.Environ()

	env = append(env,
		"PROMOTED_URL="+r.targetURL(target),
		"PROMOTED_JOB_NAME="+path.Base(target.Job),
		"PROMOTED_JOB_FULL_NAME="+target.Job,
		"PROMOTED_NUMBER="+strconv.Itoa(target.Number),
		"PROMOTED_ID="+target.ID.String(),
	)

	for k, v := range target.SCMVars {
		env = append(env, "PROMOTED_"+k+"="+v)
	}

	for k, v := range build.Parameters {
		env = append(env, k+"="+v)
	}

	return env
}

func (r *Runner) targetURL(target *domain.BranchBuild) string {
	if r.baseURL == "" {
		return fmt.Sprintf("/jobs/%s/builds/%d", target.Job, target.Number)
	}
	return fmt.Sprintf("%s/jobs/%s/builds/%d", r.baseURL, target.Job, target.Number)
}
