package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// handleBuildReady обрабатывает событие о сборке окружения из очереди
// builds.ready.
func (w *Worker) handleBuildReady(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.BuildReadyPayload](&delivery.Message)
	if err != nil {
		w.logger.Error("failed to parse build.ready payload", "error", err)
		return err
	}

	w.logger.Debug("received build.ready event",
		"build_id", payload.BuildID,
		"environment", payload.Environment,
	)

	if err := w.processEnvironmentBuild(ctx, payload.BuildID); err != nil {
		// Ожидаемые ситуации — не возвращаем ошибку (ack)
		if expectedSkip(err) {
			w.logger.Debug("environment build not processed", "build_id", payload.BuildID, "reason", err)
			return nil
		}
		w.logger.Error("failed to process environment build", "build_id", payload.BuildID, "error", err)
		return err
	}

	return nil
}

// handlePromotionReady обрабатывает событие о promotion-сборке из
// очереди promotions.ready.
func (w *Worker) handlePromotionReady(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.PromotionReadyPayload](&delivery.Message)
	if err != nil {
		w.logger.Error("failed to parse promotion.ready payload", "error", err)
		return err
	}

	w.logger.Debug("received promotion.ready event",
		"build_id", payload.BuildID,
		"process", payload.Process,
		"attempt", payload.Attempt,
	)

	if err := w.processPromotionBuild(ctx, payload.BuildID); err != nil {
		if expectedSkip(err) {
			w.logger.Debug("promotion build not processed", "build_id", payload.BuildID, "reason", err)
			return nil
		}
		w.logger.Error("failed to process promotion build", "build_id", payload.BuildID, "error", err)
		return err
	}

	return nil
}

// processEnvironmentBuild выполняет одну сборку окружения.
func (w *Worker) processEnvironmentBuild(ctx context.Context, buildID uuid.UUID) error {
	// 1. Загружаем сборку из БД
	build, err := w.envBuilds.GetByID(ctx, buildID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrBuildNotFound, buildID)
		}
		return fmt.Errorf("get environment build: %w", err)
	}

	// 2. Атомарно забираем: QUEUED -> RUNNING
	if err := w.envBuilds.MarkRunning(ctx, build.ID); err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			return ErrBuildNotQueued
		}
		return fmt.Errorf("mark environment build running: %w", err)
	}
	build.MarkRunning()

	logger := telemetry.WithEnvironment(
		telemetry.WithBuild(w.logger, build.Job, build.Number),
		build.Environment.Name(),
	)
	logger.Info("environment build started", "command", build.Command)

	// 3. Рабочий каталог сборки
	workspace := filepath.Join(w.workspaceBase, build.Job, strconv.Itoa(build.Number), build.Environment.Name())
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		build.MarkCompleted(domain.ResultFailure, fmt.Sprintf("create workspace: %v", err))
		return w.finishEnvironmentBuild(ctx, build, logger)
	}

	// 4. Выполняем команду сборки
	started := time.Now()
	result, execErr := w.executor.Execute(ctx, build.Command, workspace, w.buildEnv(build))
	telemetry.BuildDuration.WithLabelValues(build.Environment.Name()).Observe(time.Since(started).Seconds())

	errMsg := ""
	if execErr != nil {
		errMsg = execErr.Error()
	}
	build.MarkCompleted(result, errMsg)

	// 5. Архивируем артефакты успешных сборок
	if w.archive != nil && (result == domain.ResultSuccess || result == domain.ResultUnstable) {
		if err := w.archive.Store(ctx, build.Job, build.Number, build.Environment.Name(), workspace, nil); err != nil {
			logger.Warn("failed to archive artifacts", "error", err)
		}
	}

	return w.finishEnvironmentBuild(ctx, build, logger)
}

// finishEnvironmentBuild сохраняет итог и публикует build.completed.
func (w *Worker) finishEnvironmentBuild(ctx context.Context, build *domain.EnvironmentBuild, logger *slog.Logger) error {
	// Отменённый контекст не должен терять итог
	if ctx.Err() != nil {
		ctx = context.Background()
	}

	if err := w.envBuilds.Update(ctx, build); err != nil {
		return fmt.Errorf("update environment build: %w", err)
	}

	telemetry.EnvironmentBuildsCompleted.WithLabelValues(build.Result.String()).Inc()
	logger.Info("environment build finished", "result", build.Result)

	if w.publisher == nil {
		logger.Warn("publisher not available, skipping build.completed publish")
		return nil
	}

	payload := mq.BuildCompletedPayload{
		BuildID:     build.ID,
		Job:         build.Job,
		Number:      build.Number,
		Environment: build.Environment.Name(),
		Result:      build.Result.String(),
		Error:       build.Error,
	}
	if err := w.publisher.PublishBuildCompleted(ctx, payload); err != nil {
		// Итог в БД, оркестратор подхватит через polling
		logger.Warn("failed to publish build.completed", "error", err)
	}
	return nil
}

// processPromotionBuild выполняет одну promotion-сборку.
func (w *Worker) processPromotionBuild(ctx context.Context, buildID uuid.UUID) error {
	// 1. Загружаем сборку из БД
	build, err := w.promotions.GetBuild(ctx, buildID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrBuildNotFound, buildID)
		}
		return fmt.Errorf("get promotion build: %w", err)
	}

	// 2. Атомарно забираем: QUEUED -> RUNNING
	if err := w.promotions.MarkBuildRunning(ctx, build.ID); err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			return ErrBuildNotQueued
		}
		return fmt.Errorf("mark promotion build running: %w", err)
	}
	build.MarkRunning()

	logger := telemetry.WithProcess(
		telemetry.WithBuild(w.logger, build.Job, build.Number),
		build.Process,
	)
	logger.Info("promotion build started", "attempt", build.Attempt)

	// 3. Выполняем через Runner
	result, execErr := w.runner.Run(ctx, build)

	errMsg := ""
	if execErr != nil {
		errMsg = execErr.Error()
	}
	build.MarkCompleted(result, errMsg)

	// Отменённый контекст не должен терять итог
	finishCtx := ctx
	if finishCtx.Err() != nil {
		finishCtx = context.Background()
	}
	if err := w.promotions.UpdateBuild(finishCtx, build); err != nil {
		return fmt.Errorf("update promotion build: %w", err)
	}

	logger.Info("promotion build finished", "attempt", build.Attempt, "result", build.Result)

	if w.publisher == nil {
		logger.Warn("publisher not available, skipping promotion.completed publish")
		return nil
	}

	payload := mq.PromotionCompletedPayload{
		BuildID: build.ID,
		Job:     build.Job,
		Number:  build.Number,
		Process: build.Process,
		Attempt: build.Attempt,
		Result:  build.Result.String(),
		Error:   build.Error,
	}
	if err := w.publisher.PublishPromotionCompleted(finishCtx, payload); err != nil {
		// Итог в БД, promoter подхватит через polling
		logger.Warn("failed to publish promotion.completed", "error", err)
	}
	return nil
}

// buildEnv собирает переменные окружения сборки.
func (w *Worker) buildEnv(build *domain.EnvironmentBuild) []string {
	env := os.Environ()
	env = append(env,
		"JOB_NAME="+path.Base(build.Job),
		"JOB_FULL_NAME="+build.Job,
		"BUILD_NUMBER="+strconv.Itoa(build.Number),
		"BUILD_ID="+build.ID.String(),
		"ENVIRONMENT="+build.Environment.Name(),
	)
	for _, label := range build.Environment.Labels() {
		env = append(env, "LABEL_"+sanitizeEnvKey(label)+"=true")
	}
	return env
}

// sanitizeEnvKey приводит метку окружения к виду, допустимому
// в имени переменной окружения.
func sanitizeEnvKey(label string) string {
	out := make([]byte, 0, len(label))
	for i := 0; i < len(label); i++ {
		c := label[i]
		switch {
		case c >= 'a' && c <= 'z':
			out = append(out, c-'a'+'A')
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
