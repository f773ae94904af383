package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Conveyor/internal/repo"
)

// Default configuration values.
const (
	defaultKeepBuilds  = 50
	defaultRegistryTTL = 30 * 24 * time.Hour
)

// Sweeper — retention-политика хранилища.
//
// За один тик удаляет завершённые сборки веток старше окна хранения
// (связанные сборки окружений и promotion-записи удаляет каскад БД)
// и неактивные записи реестра окружений, не встречавшиеся дольше TTL.
type Sweeper struct {
	branches *repo.BranchRepo
	registry *repo.RegistryRepo
	logger   *slog.Logger

	keepBuilds  int
	registryTTL time.Duration
}

// Config — конфигурация Sweeper.
type Config struct {
	// BranchRepo — хранилище сборок веток.
	BranchRepo *repo.BranchRepo

	// RegistryRepo — реестр окружений.
	RegistryRepo *repo.RegistryRepo

	// KeepBuilds — сколько последних номеров сборок каждого job
	// сохранять (default: 50). Отрицательное значение отключает
	// удаление сборок.
	KeepBuilds int

	// RegistryTTL — сколько держать неактивные записи реестра
	// (default: 30 дней). Отрицательное значение отключает удаление
	// записей.
	RegistryTTL time.Duration

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Sweeper.
func New(cfg Config) *Sweeper {
	keepBuilds := cfg.KeepBuilds
	if keepBuilds == 0 {
		keepBuilds = defaultKeepBuilds
	}

	registryTTL := cfg.RegistryTTL
	if registryTTL == 0 {
		registryTTL = defaultRegistryTTL
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		branches:    cfg.BranchRepo,
		registry:    cfg.RegistryRepo,
		logger:      logger,
		keepBuilds:  keepBuilds,
		registryTTL: registryTTL,
	}
}

// Tick выполняет один проход retention-политики.
//
// Ошибки одного job не блокируют обработку остальных.
func (s *Sweeper) Tick(ctx context.Context) error {
	if s.keepBuilds >= 0 {
		if err := s.sweepBuilds(ctx); err != nil {
			return err
		}
	}

	if s.registryTTL > 0 {
		cutoff := time.Now().Add(-s.registryTTL)
		deleted, err := s.registry.DeleteInactiveBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("sweep registry entries: %w", err)
		}
		if deleted > 0 {
			s.logger.Info("swept inactive registry entries", "deleted", deleted)
		}
	}

	return nil
}

// sweepBuilds удаляет старые сборки каждого job.
func (s *Sweeper) sweepBuilds(ctx context.Context) error {
	jobs, err := s.branches.Jobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	var total int64
	for _, job := range jobs {
		deleted, err := s.branches.DeleteOlderThan(ctx, job, s.keepBuilds)
		if err != nil {
			s.logger.Error("failed to sweep builds",
				"job", job,
				"error", err,
			)
			// Продолжаем обработку остальных
			continue
		}
		total += deleted
	}

	if total > 0 {
		s.logger.Info("swept old builds", "jobs", len(jobs), "deleted", total)
	}
	return nil
}
