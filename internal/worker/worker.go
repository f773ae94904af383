package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 50
	defaultPrefetch     = 5
)

// PromotionRunner выполняет одну promotion-сборку.
// Production-реализация — promotion.Runner.
type PromotionRunner interface {
	Run(ctx context.Context, build *domain.PromotionBuild) (domain.BuildResult, error)
}

// Archiver сохраняет артефакты сборки окружения.
type Archiver interface {
	Store(ctx context.Context, job string, number int, environment, src string, includes []string) error
}

// Worker выполняет сборки окружений и promotion-сборки.
//
// Worker — stateless компонент системы, который:
//   - Получает сборки из очередей RabbitMQ (event-driven)
//   - Периодически проверяет queued сборки в БД (polling fallback)
//   - Выполняет команду сборки окружения в её рабочем каталоге
//   - Выполняет promotion-сборки через promotion.Runner
//   - Отправляет результат в очереди builds.completed / promotions.completed
//
// Workers масштабируются горизонтально — несколько экземпляров
// могут потреблять из одних очередей. Забор сборки атомарен:
// переход QUEUED -> RUNNING выполняется одним UPDATE, проигравший
// воркер пропускает сборку.
type Worker struct {
	// Repositories
	envBuilds  *repo.EnvironmentBuildRepo
	promotions *repo.PromotionRepo

	// MQ
	publisher *mq.Publisher
	conn      *mq.Connection

	// Execution
	executor Executor
	runner   PromotionRunner
	archive  Archiver

	// Consumers
	buildConsumer     *mq.Consumer
	promotionConsumer *mq.Consumer

	// Configuration
	workspaceBase string
	pollInterval  time.Duration
	batchSize     int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	// Repositories
	EnvironmentBuildRepo *repo.EnvironmentBuildRepo
	PromotionRepo        *repo.PromotionRepo

	// MQ
	Publisher *mq.Publisher
	Conn      *mq.Connection

	// Executor — исполнитель команд сборки (опционально;
	// если nil — используется ShellExecutor)
	Executor Executor

	// Runner — исполнитель promotion-сборок
	Runner PromotionRunner

	// Archive — хранилище артефактов (опционально; если nil —
	// артефакты не сохраняются)
	Archive Archiver

	// WorkspaceBase — корень рабочих каталогов сборок окружений
	WorkspaceBase string

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество сборок за один poll (default: 50)

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
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

	executor := cfg.Executor
	if executor == nil {
		executor = &ShellExecutor{}
	}

	return &Worker{
		envBuilds:     cfg.EnvironmentBuildRepo,
		promotions:    cfg.PromotionRepo,
		publisher:     cfg.Publisher,
		conn:          cfg.Conn,
		executor:      executor,
		runner:        cfg.Runner,
		archive:       cfg.Archive,
		workspaceBase: cfg.WorkspaceBase,
		pollInterval:  pollInterval,
		batchSize:     batchSize,
		logger:        logger,
	}
}

// Start запускает Worker.
//
// Запускает:
//   - Consumer для builds.ready
//   - Consumer для promotions.ready
//   - Polling горутину для fallback
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
	)

	// Создаём consumers
	w.buildConsumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueBuildsReady),
		Handler:  w.handleBuildReady,
		Prefetch: defaultPrefetch,
	})
	w.promotionConsumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueuePromotionsReady),
		Handler:  w.handlePromotionReady,
		Prefetch: defaultPrefetch,
	})

	// Запускаем consumers
	for _, consumer := range []*mq.Consumer{w.buildConsumer, w.promotionConsumer} {
		w.wg.Add(1)
		go func(c *mq.Consumer) {
			defer w.wg.Done()
			if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("consumer error", "error", err)
			}
		}(consumer)
	}

	// Запускаем polling
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	if w.buildConsumer != nil {
		w.buildConsumer.Stop()
	}
	if w.promotionConsumer != nil {
		w.promotionConsumer.Stop()
	}

	// Ждём завершения горутин
	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// pollLoop — цикл polling для fallback.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем сборки, созданные
	// пока воркер был выключен)
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling по обеим очередям.
func (w *Worker) poll(ctx context.Context) {
	builds, err := w.envBuilds.ListQueued(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("failed to list queued environment builds", "error", err)
	} else {
		for i := range builds {
			if err := w.processEnvironmentBuild(ctx, builds[i].ID); err != nil && !expectedSkip(err) {
				w.logger.Error("failed to process environment build from poll",
					"build_id", builds[i].ID,
					"error", err,
				)
			}
		}
	}

	promotions, err := w.promotions.ListQueuedBuilds(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("failed to list queued promotion builds", "error", err)
		return
	}
	for i := range promotions {
		if err := w.processPromotionBuild(ctx, promotions[i].ID); err != nil && !expectedSkip(err) {
			w.logger.Error("failed to process promotion build from poll",
				"build_id", promotions[i].ID,
				"error", err,
			)
		}
	}
}

// expectedSkip — ожидаемые ситуации гонки воркеров, не ошибки.
func expectedSkip(err error) bool {
	return errors.Is(err, ErrBuildNotFound) || errors.Is(err, ErrBuildNotQueued)
}
