package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 100
)

// Orchestrator управляет выполнением сборок веток.
//
// Orchestrator — центральный компонент системы, который:
//   - Получает новые сборки веток из очереди RabbitMQ (event-driven)
//   - Периодически проверяет queued сборки в БД (polling fallback)
//   - Выполняет fan-out сборки по окружениям
//   - Отслеживает завершение дочерних сборок
//   - Сводит итог и публикует branch.completed
type Orchestrator struct {
	branchRepo *repo.BranchRepo
	fanOut     *FanOut

	// MQ
	publisher *mq.Publisher
	conn      *mq.Connection

	// Active builds — сборки в процессе fan-out (buildID → cancel)
	activeBuilds map[uuid.UUID]context.CancelFunc
	mu           sync.RWMutex

	// Consumers
	branchConsumer *mq.Consumer
	buildConsumer  *mq.Consumer

	// Configuration
	pollInterval time.Duration
	batchSize    int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	// BranchRepo — репозиторий branch builds. Обязательно.
	BranchRepo *repo.BranchRepo

	// FanOut — исполнитель fan-out одной сборки. Обязательно.
	FanOut *FanOut

	// MQ
	Publisher *mq.Publisher
	Conn      *mq.Connection

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество сборок за один poll (default: 100)

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		branchRepo:   cfg.BranchRepo,
		fanOut:       cfg.FanOut,
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		activeBuilds: make(map[uuid.UUID]context.CancelFunc),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// Start запускает Orchestrator.
//
// Запускает:
//   - Consumer для branches.pending
//   - Consumer для builds.completed
//   - Polling горутину для fallback
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"poll_interval", o.pollInterval,
		"batch_size", o.batchSize,
	)

	// Создаём consumers
	o.branchConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueBranchesPending),
		Handler:  o.handleBranchPending,
		Prefetch: 10,
	})

	o.buildConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueBuildsCompleted),
		Handler:  o.handleBuildCompleted,
		Prefetch: 10,
	})

	// Запускаем branch consumer
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.branchConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error("branch consumer error", "error", err)
		}
	}()

	// Запускаем build consumer
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.buildConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error("build consumer error", "error", err)
		}
	}()

	// Запускаем polling
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pollLoop(ctx)
	}()

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает Orchestrator.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}

	// Останавливаем consumers
	if o.branchConsumer != nil {
		o.branchConsumer.Stop()
	}
	if o.buildConsumer != nil {
		o.buildConsumer.Stop()
	}

	// Ждём завершения горутин
	o.wg.Wait()

	o.logger.Info("orchestrator stopped",
		"active_builds", len(o.activeBuilds),
	)
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// Abort прерывает активный fan-out сборки.
// Дочерние сборки снимаются с очереди под queue lock'ом;
// незавершённые окружения получают ABORTED.
func (o *Orchestrator) Abort(buildID uuid.UUID) bool {
	o.mu.RLock()
	cancel, exists := o.activeBuilds[buildID]
	o.mu.RUnlock()

	if !exists {
		return false
	}

	cancel()
	return true
}

// ActiveBuildsCount возвращает количество активных сборок.
func (o *Orchestrator) ActiveBuildsCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.activeBuilds)
}

// --- Event handlers ---

// handleBranchPending обрабатывает событие о новой сборке ветки.
func (o *Orchestrator) handleBranchPending(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.BranchPendingPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse branch.pending payload", "error", err)
		return err
	}

	o.logger.Debug("received branch.pending event", "build_id", payload.BuildID)

	if err := o.launchBuild(ctx, payload.BuildID); err != nil {
		if errors.Is(err, ErrBuildNotQueued) || errors.Is(err, ErrBuildAlreadyActive) {
			o.logger.Debug("build not launched", "build_id", payload.BuildID, "reason", err)
			return nil
		}
		o.logger.Error("failed to launch build", "build_id", payload.BuildID, "error", err)
		return err
	}

	return nil
}

// handleBuildCompleted обрабатывает событие о завершённой сборке
// окружения. Прогресс отслеживается опросом БД; событие нужно
// для журнала.
func (o *Orchestrator) handleBuildCompleted(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.BuildCompletedPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse build.completed payload", "error", err)
		return err
	}

	o.logger.Debug("environment build completed",
		"job", payload.Job,
		"build_number", payload.Number,
		"environment", payload.Environment,
		"result", payload.Result,
	)

	return nil
}

// --- Build processing ---

// launchBuild запускает fan-out сборки в отдельной горутине.
func (o *Orchestrator) launchBuild(ctx context.Context, buildID uuid.UUID) error {
	// 1. Загружаем сборку из БД
	build, err := o.branchRepo.GetByID(ctx, buildID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrBuildNotFound, buildID)
		}
		return fmt.Errorf("get branch build: %w", err)
	}

	// 2. Проверяем статус
	if build.Status != domain.StatusQueued {
		return ErrBuildNotQueued
	}

	// 3. Регистрируем в активных
	buildCtx, cancel := context.WithCancel(ctx)
	if err := o.addActiveBuild(buildID, cancel); err != nil {
		cancel()
		return err
	}

	telemetry.BranchBuildsStarted.Inc()

	// 4. Fan-out выполняется до завершения всех дочерних сборок,
	//    поэтому уходит в отдельную горутину
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		defer o.removeActiveBuild(buildID)

		if err := o.fanOut.Run(buildCtx, build); err != nil {
			o.logger.Error("fan-out failed",
				"job", build.Job,
				"build_number", build.Number,
				"error", err,
			)
			return
		}

		o.publishCompleted(build)
	}()

	return nil
}

// publishCompleted публикует branch.completed для promoter'а.
func (o *Orchestrator) publishCompleted(build *domain.BranchBuild) {
	if !build.IsFinished() {
		return
	}

	err := o.publisher.PublishBranchCompleted(context.Background(), mq.BranchCompletedPayload{
		BuildID: build.ID,
		Job:     build.Job,
		Number:  build.Number,
		Result:  build.Result.String(),
	})
	if err != nil {
		o.logger.Warn("failed to publish branch.completed",
			"job", build.Job,
			"build_number", build.Number,
			"error", err,
		)
	}
}

// --- Polling fallback ---

// pollLoop — цикл polling для fallback.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем сборки, созданные пока были выключены)
	o.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (o *Orchestrator) poll(ctx context.Context) {
	builds, err := o.branchRepo.List(ctx, repo.BranchFilter{
		Status: domain.StatusQueued,
		Limit:  o.batchSize,
	})
	if err != nil {
		o.logger.Error("failed to list queued builds", "error", err)
		return
	}

	if len(builds) == 0 {
		return
	}

	o.logger.Debug("poll found queued builds", "count", len(builds))

	for i := range builds {
		build := &builds[i]

		if o.isBuildActive(build.ID) {
			continue
		}

		if err := o.launchBuild(ctx, build.ID); err != nil {
			if errors.Is(err, ErrBuildAlreadyActive) {
				continue
			}
			o.logger.Error("failed to launch build from poll",
				"build_id", build.ID,
				"error", err,
			)
		}
	}
}

// --- Active builds ---

func (o *Orchestrator) isBuildActive(buildID uuid.UUID) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, exists := o.activeBuilds[buildID]
	return exists
}

func (o *Orchestrator) addActiveBuild(buildID uuid.UUID, cancel context.CancelFunc) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.activeBuilds[buildID]; exists {
		return ErrBuildAlreadyActive
	}

	o.activeBuilds[buildID] = cancel
	return nil
}

func (o *Orchestrator) removeActiveBuild(buildID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeBuilds, buildID)
}
