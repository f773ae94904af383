package promotion

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

const (
	defaultServicePollInterval = 30 * time.Second
	defaultServiceBatchSize    = 50
	defaultServicePrefetch     = 10
)

// ServiceConfig — конфигурация Service.
type ServiceConfig struct {
	// Engine — движок promotion-процессов. Обязательно.
	Engine *Engine

	// Branches — репозиторий branch builds. Обязательно.
	Branches *repo.BranchRepo

	// MQ
	Conn *mq.Connection

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 30s)
	BatchSize    int           // количество сборок за один poll (default: 50)

	// Logger
	Logger *slog.Logger
}

// Service связывает события завершения сборок с движком.
//
// Потребляет branches.completed (вход в квалификацию) и
// promotions.completed (финализация попытки и каскад). Polling по
// недавно завершённым сборкам веток подстраховывает потерянные
// события: Consider идемпотентен, повторное рассмотрение безвредно.
type Service struct {
	engine   *Engine
	branches *repo.BranchRepo
	conn     *mq.Connection

	branchConsumer    *mq.Consumer
	completedConsumer *mq.Consumer

	pollInterval time.Duration
	batchSize    int

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewService создаёт новый Service.
func NewService(cfg ServiceConfig) *Service {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultServicePollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultServiceBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		engine:       cfg.Engine,
		branches:     cfg.Branches,
		conn:         cfg.Conn,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// Start запускает Service.
//
// Запускает:
//   - Consumer для branches.completed
//   - Consumer для promotions.completed
//   - Polling горутину для fallback
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel

	s.logger.Info("starting promotion service",
		"poll_interval", s.pollInterval,
		"batch_size", s.batchSize,
	)

	s.branchConsumer = mq.NewConsumer(s.conn, s.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueBranchesCompleted),
		Handler:  s.handleBranchCompleted,
		Prefetch: defaultServicePrefetch,
	})
	s.completedConsumer = mq.NewConsumer(s.conn, s.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueuePromotionsCompleted),
		Handler:  s.handlePromotionCompleted,
		Prefetch: defaultServicePrefetch,
	})

	for _, consumer := range []*mq.Consumer{s.branchConsumer, s.completedConsumer} {
		s.wg.Add(1)
		go func(c *mq.Consumer) {
			defer s.wg.Done()
			if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("consumer error", "error", err)
			}
		}(consumer)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pollLoop(ctx)
	}()

	s.logger.Info("promotion service started")
	return nil
}

// Stop останавливает Service.
func (s *Service) Stop() {
	s.logger.Info("stopping promotion service...")

	if s.cancelFunc != nil {
		s.cancelFunc()
	}

	if s.branchConsumer != nil {
		s.branchConsumer.Stop()
	}
	if s.completedConsumer != nil {
		s.completedConsumer.Stop()
	}

	s.wg.Wait()

	s.logger.Info("promotion service stopped")
}

// handleBranchCompleted обрабатывает завершение сборки ветки из
// очереди branches.completed.
func (s *Service) handleBranchCompleted(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.BranchCompletedPayload](&delivery.Message)
	if err != nil {
		s.logger.Error("failed to parse branch.completed payload", "error", err)
		return err
	}

	s.logger.Debug("received branch.completed event",
		"job", payload.Job,
		"number", payload.Number,
		"result", payload.Result,
	)

	target, err := s.branches.GetByID(ctx, payload.BuildID)
	if err != nil {
		// Сборка уже удалена retention-политикой — ack
		if errors.Is(err, repo.ErrNotFound) {
			s.logger.Debug("completed build not found", "build_id", payload.BuildID)
			return nil
		}
		return err
	}

	s.engine.ConsiderAll(ctx, target)
	return nil
}

// handlePromotionCompleted обрабатывает завершение promotion-сборки из
// очереди promotions.completed.
func (s *Service) handlePromotionCompleted(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.PromotionCompletedPayload](&delivery.Message)
	if err != nil {
		s.logger.Error("failed to parse promotion.completed payload", "error", err)
		return err
	}

	s.logger.Debug("received promotion.completed event",
		"job", payload.Job,
		"number", payload.Number,
		"process", payload.Process,
		"attempt", payload.Attempt,
		"result", payload.Result,
	)

	result := domain.ParseBuildResult(payload.Result)
	if err := s.engine.OnPromotionCompleted(ctx, payload.Job, payload.Number, payload.Process, payload.Attempt, result); err != nil {
		if errors.Is(err, ErrProcessNotFound) || errors.Is(err, ErrTargetMissing) {
			s.logger.Debug("promotion completion not applied",
				"process", payload.Process,
				"reason", err,
			)
			return nil
		}
		return err
	}

	return nil
}

// pollLoop — цикл polling для fallback.
func (s *Service) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем сборки, завершённые
	// пока сервис был выключен)
	s.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll повторно рассматривает недавно завершённые сборки веток.
func (s *Service) poll(ctx context.Context) {
	builds, err := s.branches.List(ctx, repo.BranchFilter{
		Status: domain.StatusCompleted,
		Limit:  s.batchSize,
	})
	if err != nil {
		s.logger.Error("failed to list completed builds", "error", err)
		return
	}

	for i := range builds {
		s.engine.ConsiderAll(ctx, &builds[i])
	}
}
