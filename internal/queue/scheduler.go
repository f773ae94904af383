package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
)

// queueLockKey — ключ advisory lock для критической секции очереди.
// Отмена дочерних сборок и взятие сборки воркером сериализуются
// через этот lock, чтобы сборка не ушла в работу между проверкой
// и отменой.
const queueLockKey = 0x434F4E56 // "CONV"

// Scheduler ставит сборки окружений в очередь и управляет их отменой.
//
// Постановка — это вставка записи в БД плюс публикация события
// builds.ready. Воркеры потребляют события; polling по БД служит
// fallback'ом при потере сообщения.
type Scheduler struct {
	pool      *pgxpool.Pool
	builds    *repo.EnvironmentBuildRepo
	publisher *mq.Publisher
	logger    *slog.Logger
}

// Config — конфигурация Scheduler.
type Config struct {
	// Pool — пул соединений с БД. Обязательно.
	Pool *pgxpool.Pool

	// Builds — репозиторий environment builds. Обязательно.
	Builds *repo.EnvironmentBuildRepo

	// Publisher — издатель событий. Обязательно.
	Publisher *mq.Publisher

	// Logger — логгер. По умолчанию slog.Default().
	Logger *slog.Logger
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		pool:      cfg.Pool,
		builds:    cfg.Builds,
		publisher: cfg.Publisher,
		logger:    logger,
	}
}

// Schedule ставит сборку окружения в очередь.
func (s *Scheduler) Schedule(ctx context.Context, build *domain.EnvironmentBuild) error {
	if err := s.builds.Create(ctx, build); err != nil {
		return fmt.Errorf("create environment build: %w", err)
	}

	err := s.publisher.PublishBuildReady(ctx, mq.BuildReadyPayload{
		BuildID:     build.ID,
		Job:         build.Job,
		Number:      build.Number,
		Environment: build.Environment.Name(),
	})
	if err != nil {
		// Запись уже в БД; воркер подберёт её polling'ом
		s.logger.Warn("failed to publish build.ready, relying on polling",
			"build_id", build.ID,
			"error", err,
		)
	}

	return nil
}

// Get возвращает сборку окружения в рамках branch build (job, number).
func (s *Scheduler) Get(ctx context.Context, job string, number int, env domain.EnvironmentSet) (*domain.EnvironmentBuild, error) {
	return s.builds.GetByEnvironment(ctx, job, number, env)
}

// CancelQueued отменяет все ещё не взятые в работу дочерние сборки.
// Вызывается под WithQueueLock.
func (s *Scheduler) CancelQueued(ctx context.Context, job string, number int) ([]domain.EnvironmentBuild, error) {
	return s.builds.CancelQueued(ctx, job, number)
}

// Interrupt запрашивает остановку выполняющейся сборки.
// Воркер замечает отмену и завершает сборку с результатом ABORTED.
func (s *Scheduler) Interrupt(ctx context.Context, id uuid.UUID) error {
	build, err := s.builds.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if build.Status.IsTerminal() {
		return nil
	}

	build.MarkCancelled()
	return s.builds.Update(ctx, build)
}

// WithQueueLock выполняет fn под глобальным lock'ом очереди.
// Lock берётся в БД (pg_advisory_lock) и действует на все экземпляры.
func (s *Scheduler) WithQueueLock(ctx context.Context, fn func(ctx context.Context) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "select pg_advisory_lock($1)", queueLockKey); err != nil {
		return fmt.Errorf("acquire queue lock: %w", err)
	}
	defer func() {
		if _, err := conn.Exec(context.Background(), "select pg_advisory_unlock($1)", queueLockKey); err != nil {
			s.logger.Warn("failed to release queue lock", "error", err)
		}
	}()

	return fn(ctx)
}
