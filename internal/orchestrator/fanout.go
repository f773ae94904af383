package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/model"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Default configuration values.
const (
	defaultChildPollInterval  = time.Second
	defaultCancelledThreshold = 5
)

// Scheduler ставит дочерние сборки в очередь и управляет их отменой.
// Production-реализация — queue.Scheduler.
type Scheduler interface {
	// Schedule ставит сборку окружения в очередь.
	Schedule(ctx context.Context, build *domain.EnvironmentBuild) error

	// Get возвращает сборку окружения в рамках branch build.
	Get(ctx context.Context, job string, number int, env domain.EnvironmentSet) (*domain.EnvironmentBuild, error)

	// CancelQueued отменяет не взятые в работу дочерние сборки.
	CancelQueued(ctx context.Context, job string, number int) ([]domain.EnvironmentBuild, error)

	// Interrupt запрашивает остановку выполняющейся сборки.
	Interrupt(ctx context.Context, id uuid.UUID) error

	// WithQueueLock выполняет fn под глобальным lock'ом очереди.
	WithQueueLock(ctx context.Context, fn func(ctx context.Context) error) error
}

// ModelResolver разрешает описание проекта для job'а.
type ModelResolver interface {
	ResolveJob(ctx context.Context, job string) (*model.ProjectModel, error)
}

// Reconciler выверяет реестр окружений по списку сборки.
type Reconciler interface {
	Reconcile(ctx context.Context, job string, envs []domain.EnvironmentSet) error
}

// BuildStore сохраняет изменения branch build.
type BuildStore interface {
	Update(ctx context.Context, build *domain.BranchBuild) error
}

// FanOut выполняет одну сборку ветки: разрешает описание проекта,
// раскладывает сборку по окружениям, ждёт завершения дочерних сборок
// и сводит их результаты в итог по принципу "худший побеждает".
type FanOut struct {
	scheduler Scheduler
	models    ModelResolver
	registry  Reconciler
	builds    BuildStore

	pollInterval       time.Duration
	cancelledThreshold int

	logger *slog.Logger
}

// FanOutConfig — конфигурация FanOut.
type FanOutConfig struct {
	// Scheduler — очередь дочерних сборок. Обязательно.
	Scheduler Scheduler

	// Models — источник описаний проектов. Обязательно.
	Models ModelResolver

	// Registry — реестр окружений. Обязательно.
	Registry Reconciler

	// Builds — хранилище branch builds. Обязательно.
	Builds BuildStore

	// PollInterval — период опроса дочерних сборок (default: 1s).
	PollInterval time.Duration

	// CancelledThreshold — сколько опросов подряд дочерняя сборка
	// может отсутствовать в очереди, прежде чем считается
	// отменённой (default: 5).
	CancelledThreshold int

	// Logger — логгер.
	Logger *slog.Logger
}

// NewFanOut создаёт новый FanOut.
func NewFanOut(cfg FanOutConfig) *FanOut {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultChildPollInterval
	}

	threshold := cfg.CancelledThreshold
	if threshold <= 0 {
		threshold = defaultCancelledThreshold
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &FanOut{
		scheduler:          cfg.Scheduler,
		models:             cfg.Models,
		registry:           cfg.Registry,
		builds:             cfg.Builds,
		pollInterval:       pollInterval,
		cancelledThreshold: threshold,
		logger:             logger,
	}
}

// Run выполняет сборку ветки от начала до конца.
//
// Ошибки до fan-out (непарсящееся описание проекта, окружение без
// команды сборки) завершают сборку с результатом FAILURE, не запуская
// ни одной дочерней сборки. После fan-out итог сводится из результатов
// дочерних сборок: SUCCESS < UNSTABLE < FAILURE < NOT_BUILT < ABORTED,
// побеждает худший.
func (f *FanOut) Run(ctx context.Context, build *domain.BranchBuild) error {
	logger := telemetry.WithBuild(f.logger, build.Job, build.Number)

	// 1. Разрешаем описание проекта
	projectModel, err := f.models.ResolveJob(ctx, build.Job)
	if err != nil {
		logger.Warn("project model unresolvable", "error", err)
		return f.failBuild(ctx, build, fmt.Sprintf("resolve project model: %v", err))
	}

	// 2. Фиксируем список окружений сборки
	envs := projectModel.Environments()
	build.Environments = envs

	// 3. Fail-fast: без окружений сборке нечего раскладывать
	if len(envs) == 0 {
		logger.Warn("project model resolved no environments")
		return f.failBuild(ctx, build, "project model resolved no environments")
	}
	// 4. Fail-fast: у каждого окружения должна быть команда сборки
	commands := make(map[string]string, len(envs))
	for _, env := range envs {
		cmd, ok := projectModel.BuildCommand(env)
		if !ok {
			logger.Warn("environment has no build command", "environment", env.Name())
			return f.failBuild(ctx, build, fmt.Sprintf("environment %q: %v", env.Name(), model.ErrNoBuildForEnvironment))
		}
		commands[env.Name()] = cmd
	}

	// 5. Выверяем реестр окружений
	if err := f.registry.Reconcile(ctx, build.Job, envs); err != nil {
		logger.Warn("registry reconcile failed", "error", err)
	}

	// 6. Переводим сборку в RUNNING
	build.MarkRunning()
	if err := f.builds.Update(ctx, build); err != nil {
		return fmt.Errorf("update branch build: %w", err)
	}

	logger.Info("fanning out", "environments", len(envs))

	// 7. Ставим дочерние сборки в очередь
	scheduled := make(map[string]uuid.UUID, len(envs))
	for _, env := range envs {
		child := &domain.EnvironmentBuild{
			ID:          uuid.New(),
			Job:         build.Job,
			Number:      build.Number,
			Environment: env,
			Command:     commands[env.Name()],
			Status:      domain.StatusQueued,
			CreatedAt:   time.Now(),
		}

		if err := f.scheduler.Schedule(ctx, child); err != nil {
			// Недопоставленная сборка всплывёт как ABORTED при сведении
			logger.Warn("failed to schedule environment build",
				"environment", env.Name(),
				"error", err,
			)
			continue
		}

		scheduled[env.Name()] = child.ID
		telemetry.EnvironmentBuildsScheduled.Inc()
	}

	// 8. Ждём завершения дочерних сборок
	results := f.waitForCompletion(ctx, build, envs)

	// 9. При прерывании снимаем незавершённых детей с очереди
	if ctx.Err() != nil {
		f.cancelChildren(build, scheduled, results, logger)
	}

	// 10. Сводим итог: худший результат побеждает,
	//    отсутствующий ребёнок считается ABORTED
	combined := domain.ResultSuccess
	for _, env := range envs {
		result, ok := results[env.Name()]
		if !ok {
			result = domain.ResultAborted
		}
		combined = combined.Combine(result)
	}

	// Итог записывается и при прерывании
	finishCtx := ctx
	if ctx.Err() != nil {
		finishCtx = context.Background()
	}

	build.MarkCompleted(combined)
	if err := f.builds.Update(finishCtx, build); err != nil {
		return fmt.Errorf("update branch build: %w", err)
	}

	telemetry.BranchBuildsCompleted.WithLabelValues(combined.String()).Inc()
	logger.Info("branch build completed", "result", combined)

	return nil
}

// waitForCompletion опрашивает дочерние сборки до их завершения.
//
// Дочерняя сборка, отсутствующая в очереди cancelledThreshold опросов
// подряд, считается отменённой извне и получает ABORTED. Порог
// защищает от ложного срабатывания на миге между снятием с очереди
// и появлением выполняющейся сборки.
func (f *FanOut) waitForCompletion(ctx context.Context, build *domain.BranchBuild, envs []domain.EnvironmentSet) map[string]domain.BuildResult {
	pending := make(map[string]domain.EnvironmentSet, len(envs))
	for _, env := range envs {
		pending[env.Name()] = env
	}

	absent := make(map[string]int)
	results := make(map[string]domain.BuildResult)

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for len(pending) > 0 {
		for name, env := range pending {
			child, err := f.scheduler.Get(ctx, build.Job, build.Number, env)
			switch {
			case errors.Is(err, repo.ErrNotFound):
				absent[name]++
				if absent[name] >= f.cancelledThreshold {
					f.logger.Warn("environment build disappeared, treating as aborted",
						"job", build.Job,
						"build_number", build.Number,
						"environment", name,
					)
					results[name] = domain.ResultAborted
					delete(pending, name)
				}

			case err != nil:
				f.logger.Warn("failed to poll environment build",
					"environment", name,
					"error", err,
				)

			case child.Status.IsTerminal():
				results[name] = child.Result
				delete(pending, name)

			default:
				absent[name] = 0
			}
		}

		if len(pending) == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return results
		case <-ticker.C:
		}
	}

	return results
}

// cancelChildren снимает незавершённые дочерние сборки с очереди.
//
// Выполняется под глобальным lock'ом очереди: без него сборка могла бы
// уйти воркеру между проверкой и отменой. Уже выполняющиеся сборки
// прерываются по одной.
func (f *FanOut) cancelChildren(build *domain.BranchBuild, scheduled map[string]uuid.UUID, results map[string]domain.BuildResult, logger *slog.Logger) {
	// Родительский контекст уже отменён
	ctx := context.Background()

	err := f.scheduler.WithQueueLock(ctx, func(ctx context.Context) error {
		cancelled, err := f.scheduler.CancelQueued(ctx, build.Job, build.Number)
		if err != nil {
			return err
		}

		cancelledIDs := make(map[uuid.UUID]bool, len(cancelled))
		for _, c := range cancelled {
			cancelledIDs[c.ID] = true
		}

		// Выполняющиеся сборки (поставлены, не отменены, не завершены)
		for name, id := range scheduled {
			if cancelledIDs[id] {
				continue
			}
			if _, done := results[name]; done {
				continue
			}
			if err := f.scheduler.Interrupt(ctx, id); err != nil {
				logger.Warn("failed to interrupt environment build",
					"environment", name,
					"error", err,
				)
			}
		}

		return nil
	})
	if err != nil {
		logger.Warn("failed to cancel environment builds", "error", err)
	}
}

// failBuild завершает сборку с результатом FAILURE до fan-out.
func (f *FanOut) failBuild(ctx context.Context, build *domain.BranchBuild, reason string) error {
	build.MarkFailed(reason)
	if err := f.builds.Update(ctx, build); err != nil {
		return fmt.Errorf("update failed branch build: %w", err)
	}

	telemetry.BranchBuildsCompleted.WithLabelValues(build.Result.String()).Inc()
	return nil
}
