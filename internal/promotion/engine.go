package promotion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Badge condition для force-promotion.
const ConditionForced = "forced"

// StateStore — персистентное состояние promotions.
// Production-реализация — repo.PromotionRepo.
type StateStore interface {
	CreateState(ctx context.Context, state *domain.PromotionState) (bool, error)
	GetState(ctx context.Context, job string, number int, process string) (*domain.PromotionState, error)
	ListStates(ctx context.Context, job string, number int) ([]*domain.PromotionState, error)
	AddAttempt(ctx context.Context, job string, number int, process string, attempt int) error
	MarkSuccessful(ctx context.Context, job string, number int, process string, attempt int) (bool, error)
	NextAttempt(ctx context.Context, job, process string) (int, error)
	CreateBuild(ctx context.Context, build *domain.PromotionBuild) error
	ListBuilds(ctx context.Context, job string, number int) ([]domain.PromotionBuild, error)
	CreateApproval(ctx context.Context, job string, number int, approval *domain.ManualApproval) error
	ListApprovals(ctx context.Context, job string, number int) ([]domain.ManualApproval, error)
}

// Dispatcher передаёт promotion build воркерам.
type Dispatcher interface {
	Dispatch(ctx context.Context, build *domain.PromotionBuild) error
}

// TargetStore разрешает сборку-цель по идентичности (job, номер).
type TargetStore interface {
	GetByNumber(ctx context.Context, job string, number int) (*domain.BranchBuild, error)
}

// Engine — движок promotion-процессов.
//
// Все три входа — завершение сборки-цели, ручное одобрение и каскад
// после успешного promotion — сходятся в одну идемпотентную воронку
// Consider. Состояние процесса создаётся только при первой
// квалификации; существующее состояние делает Consider no-op.
type Engine struct {
	store      StateStore
	targets    TargetStore
	catalog    *Catalog
	conditions *ConditionRegistry
	dispatcher Dispatcher

	locks  stateLocks
	logger *slog.Logger
	now    func() time.Time
}

// EngineConfig — конфигурация Engine.
type EngineConfig struct {
	// Store — хранилище состояния. Обязательно.
	Store StateStore

	// Targets — разрешение сборок-целей. Обязательно.
	Targets TargetStore

	// Catalog — каталог процессов. Обязательно.
	Catalog *Catalog

	// Conditions — реестр условий. По умолчанию DefaultConditionRegistry().
	Conditions *ConditionRegistry

	// Dispatcher — передача promotion builds воркерам. Обязательно.
	Dispatcher Dispatcher

	// Logger — логгер.
	Logger *slog.Logger
}

// NewEngine создаёт новый Engine.
func NewEngine(cfg EngineConfig) *Engine {
	conditions := cfg.Conditions
	if conditions == nil {
		conditions = DefaultConditionRegistry()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:      cfg.Store,
		targets:    cfg.Targets,
		catalog:    cfg.Catalog,
		conditions: conditions,
		dispatcher: cfg.Dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// Consider проверяет квалификацию процесса для сборки-цели.
//
// No-op, если состояние процесса уже существует. Условия вычисляются
// в порядке объявления, все до единого (без short-circuit); процесс
// квалифицируется, только когда каждое условие вернуло badge. Процесс
// без условий квалифицируется сразу. При
// квалификации создаётся состояние, записывается попытка и promotion
// ставится в очередь. Ошибка постановки — предупреждение: квалификация
// уже записана, постановку можно повторить.
func (e *Engine) Consider(ctx context.Context, target *domain.BranchBuild, processName string) error {
	process, err := e.catalog.Lookup(processName)
	if err != nil {
		return err
	}

	telemetry.PromotionsConsidered.Inc()

	// 1. Существующее состояние — no-op
	if _, err := e.store.GetState(ctx, target.Job, target.Number, process.Name); err == nil {
		return nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("get promotion state: %w", err)
	}

	// 2. Вычисляем все условия
	badges, allMet, err := e.evaluate(ctx, target, process)
	if err != nil {
		return err
	}
	if !allMet {
		return nil
	}

	// 3. Квалификация под lock'ом состояния
	lock := e.locks.get(stateKey(target.Job, target.Number, process.Name))
	lock.Lock()
	defer lock.Unlock()

	state := &domain.PromotionState{
		Job:         target.Job,
		Number:      target.Number,
		Process:     process.Name,
		QualifiedAt: e.now(),
		Badges:      badges,
	}
	created, err := e.store.CreateState(ctx, state)
	if err != nil {
		return fmt.Errorf("create promotion state: %w", err)
	}
	if !created {
		// Конкурирующий Consider успел первым
		return nil
	}

	telemetry.PromotionsQualified.Inc()
	e.logger.Info("promotion qualified",
		"job", target.Job,
		"build_number", target.Number,
		"process", process.Name,
	)

	return e.schedule(ctx, target, process, badgeParameters(badges))
}

// ConsiderAll прогоняет все процессы каталога через Consider.
// Ошибка одного процесса не трогает остальные.
func (e *Engine) ConsiderAll(ctx context.Context, target *domain.BranchBuild) {
	for _, process := range e.catalog.Processes() {
		if err := e.Consider(ctx, target, process.Name); err != nil {
			e.logger.Warn("consider failed",
				"job", target.Job,
				"build_number", target.Number,
				"process", process.Name,
				"error", err,
			)
		}
	}
}

// Approve записывает ручное одобрение процесса и пересматривает
// квалификацию.
//
// Запись одобрения сохраняется независимо от исхода: если другое
// условие процесса пока не выполнено, одобрение дождётся его.
func (e *Engine) Approve(ctx context.Context, target *domain.BranchBuild, processName, user string, parameters map[string]string) error {
	process, err := e.catalog.Lookup(processName)
	if err != nil {
		return err
	}

	// Допуск проверяется условием manual-approval процесса
	if manual := e.manualCondition(process); manual != nil {
		existing, err := e.store.ListApprovals(ctx, target.Job, target.Number)
		if err != nil {
			return fmt.Errorf("list approvals: %w", err)
		}
		if err := manual.CanApprove(user, process.Name, existing); err != nil {
			return err
		}
	}

	approval := &domain.ManualApproval{
		Process:    process.Name,
		User:       user,
		Parameters: parameters,
		ApprovedAt: e.now(),
	}
	if err := e.store.CreateApproval(ctx, target.Job, target.Number, approval); err != nil {
		return fmt.Errorf("create approval: %w", err)
	}

	e.logger.Info("promotion approved",
		"job", target.Job,
		"build_number", target.Number,
		"process", process.Name,
		"user", user,
	)

	return e.Consider(ctx, target, process.Name)
}

// ForcePromote запускает процесс в обход условий.
// Квалификация записывается с badge "forced" от имени пользователя.
// Для уже квалифицированного процесса добавляется новая попытка.
func (e *Engine) ForcePromote(ctx context.Context, target *domain.BranchBuild, processName, user string) error {
	process, err := e.catalog.Lookup(processName)
	if err != nil {
		return err
	}

	lock := e.locks.get(stateKey(target.Job, target.Number, process.Name))
	lock.Lock()
	defer lock.Unlock()

	badge := domain.Badge{Condition: ConditionForced, User: user}

	state := &domain.PromotionState{
		Job:         target.Job,
		Number:      target.Number,
		Process:     process.Name,
		QualifiedAt: e.now(),
		Badges:      []domain.Badge{badge},
	}
	if _, err := e.store.CreateState(ctx, state); err != nil {
		return fmt.Errorf("create promotion state: %w", err)
	}

	e.logger.Info("promotion forced",
		"job", target.Job,
		"build_number", target.Number,
		"process", process.Name,
		"user", user,
	)

	return e.schedule(ctx, target, process, nil)
}

// OnPromotionCompleted обрабатывает завершение promotion build.
//
// Первый успех записывается под lock'ом состояния (первая запись
// побеждает). После успеха каскад немедленно пересматривает остальные
// процессы цели: условие upstream-promotion одного из них могло
// выполниться. Каскад лишь ставит promotions в очередь и не ждёт
// их завершения.
func (e *Engine) OnPromotionCompleted(ctx context.Context, job string, number int, processName string, attempt int, result domain.BuildResult) error {
	telemetry.PromotionBuildsCompleted.WithLabelValues(result.String()).Inc()

	if result != domain.ResultSuccess {
		e.logger.Info("promotion attempt failed",
			"job", job,
			"build_number", number,
			"process", processName,
			"attempt", attempt,
			"result", result,
		)
		return nil
	}

	lock := e.locks.get(stateKey(job, number, processName))
	lock.Lock()
	won, err := e.store.MarkSuccessful(ctx, job, number, processName, attempt)
	lock.Unlock()
	if err != nil {
		return fmt.Errorf("mark promotion successful: %w", err)
	}
	if !won {
		// Успех уже записан более ранней попыткой
		return nil
	}

	e.logger.Info("promotion succeeded",
		"job", job,
		"build_number", number,
		"process", processName,
		"attempt", attempt,
	)

	// Каскад: пересматриваем остальные процессы цели
	target, err := e.targets.GetByNumber(ctx, job, number)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s #%d", ErrTargetMissing, job, number)
		}
		return fmt.Errorf("get target: %w", err)
	}
	e.ConsiderAll(ctx, target)

	return nil
}

// --- Internals ---

// evaluate вычисляет все условия процесса в порядке объявления.
// Short-circuit нет: каждое условие вычисляется, даже если предыдущее
// воздержалось. Ошибка условия трактуется как воздержание.
func (e *Engine) evaluate(ctx context.Context, target *domain.BranchBuild, process domain.PromotionProcess) ([]domain.Badge, bool, error) {
	conditions, err := e.conditions.BuildAll(process.Conditions)
	if err != nil {
		return nil, false, err
	}
	// Пустая конъюнкция истинна: процесс без условий квалифицируется
	// сразу, без единого badge.
	if len(conditions) == 0 {
		return nil, true, nil
	}

	approvals, err := e.store.ListApprovals(ctx, target.Job, target.Number)
	if err != nil {
		return nil, false, fmt.Errorf("list approvals: %w", err)
	}

	tc := &Target{
		Build:     target,
		Process:   process,
		Approvals: approvals,
		Promoted: func(other string) bool {
			state, err := e.store.GetState(ctx, target.Job, target.Number, other)
			if err != nil {
				return false
			}
			return state.IsPromoted()
		},
	}

	badges := make([]domain.Badge, 0, len(conditions))
	allMet := true
	for _, cond := range conditions {
		badge, err := cond.Evaluate(ctx, tc)
		if err != nil {
			e.logger.Warn("condition evaluation failed, treating as abstention",
				"process", process.Name,
				"condition", cond.Type(),
				"error", err,
			)
			allMet = false
			continue
		}
		if badge == nil {
			allMet = false
			continue
		}
		badges = append(badges, *badge)
	}

	return badges, allMet, nil
}

// schedule записывает попытку и ставит promotion build в очередь.
// Попытка записывается до выполнения тела. Вызывается под lock'ом
// состояния.
func (e *Engine) schedule(ctx context.Context, target *domain.BranchBuild, process domain.PromotionProcess, parameters map[string]string) error {
	attempt, err := e.store.NextAttempt(ctx, target.Job, process.Name)
	if err != nil {
		return fmt.Errorf("next attempt: %w", err)
	}

	if err := e.store.AddAttempt(ctx, target.Job, target.Number, process.Name, attempt); err != nil {
		return fmt.Errorf("add attempt: %w", err)
	}

	build := &domain.PromotionBuild{
		ID:         uuid.New(),
		Job:        target.Job,
		Number:     target.Number,
		Process:    process.Name,
		Attempt:    attempt,
		Parameters: parameters,
		Status:     domain.StatusQueued,
		CreatedAt:  e.now(),
	}
	if err := e.store.CreateBuild(ctx, build); err != nil {
		return fmt.Errorf("create promotion build: %w", err)
	}

	if err := e.dispatcher.Dispatch(ctx, build); err != nil {
		// Попытка записана, сборка в БД; постановку можно повторить
		e.logger.Warn("promotion scheduling failed",
			"job", target.Job,
			"build_number", target.Number,
			"process", process.Name,
			"attempt", attempt,
			"error", errors.Join(ErrSchedulingFailed, err),
		)
	}

	return nil
}

// manualCondition возвращает условие manual-approval процесса, если есть.
func (e *Engine) manualCondition(process domain.PromotionProcess) *ManualCondition {
	conditions, err := e.conditions.BuildAll(process.Conditions)
	if err != nil {
		return nil
	}
	for _, cond := range conditions {
		if manual, ok := cond.(*ManualCondition); ok {
			return manual
		}
	}
	return nil
}

func badgeParameters(badges []domain.Badge) map[string]string {
	var params map[string]string
	for _, badge := range badges {
		for k, v := range badge.Parameters {
			if params == nil {
				params = make(map[string]string)
			}
			params[k] = v
		}
	}
	return params
}

func stateKey(job string, number int, process string) string {
	return fmt.Sprintf("%s#%d#%s", job, number, domain.ProcessKey(process))
}

// stateLocks — lock'и по ключу состояния.
type stateLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *stateLocks) get(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	lock, exists := l.locks[key]
	if !exists {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	return lock
}
