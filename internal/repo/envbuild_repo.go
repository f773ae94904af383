package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conveyor/internal/domain"
)

// EnvironmentBuildRepo — репозиторий для работы с environment builds.
type EnvironmentBuildRepo struct {
	pool *pgxpool.Pool
}

// NewEnvironmentBuildRepo создаёт новый EnvironmentBuildRepo.
func NewEnvironmentBuildRepo(pool *pgxpool.Pool) *EnvironmentBuildRepo {
	return &EnvironmentBuildRepo{pool: pool}
}

// Create создаёт новую environment build.
// Пара (job, number, environment) уникальна: повторная вставка
// возвращает ErrAlreadyExists.
func (r *EnvironmentBuildRepo) Create(ctx context.Context, build *domain.EnvironmentBuild) error {
	query := `
		INSERT INTO environment_builds (id, job, number, environment, command, status, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job, number, environment) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query,
		build.ID,
		build.Job,
		build.Number,
		build.Environment.Name(),
		build.Command,
		build.Status,
		build.Result.String(),
		build.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert environment build: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// GetByID возвращает environment build по ID.
func (r *EnvironmentBuildRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.EnvironmentBuild, error) {
	query := `
		SELECT id, job, number, environment, command, status, result,
		       error, started_at, finished_at, created_at
		FROM environment_builds
		WHERE id = $1
	`
	return r.scanBuild(r.pool.QueryRow(ctx, query, id))
}

// GetByEnvironment возвращает сборку конкретного окружения
// в рамках branch build (job, number).
func (r *EnvironmentBuildRepo) GetByEnvironment(ctx context.Context, job string, number int, env domain.EnvironmentSet) (*domain.EnvironmentBuild, error) {
	query := `
		SELECT id, job, number, environment, command, status, result,
		       error, started_at, finished_at, created_at
		FROM environment_builds
		WHERE job = $1 AND number = $2 AND environment = $3
	`
	return r.scanBuild(r.pool.QueryRow(ctx, query, job, number, env.Name()))
}

// ListByBuild возвращает все дочерние сборки branch build (job, number).
func (r *EnvironmentBuildRepo) ListByBuild(ctx context.Context, job string, number int) ([]domain.EnvironmentBuild, error) {
	query := `
		SELECT id, job, number, environment, command, status, result,
		       error, started_at, finished_at, created_at
		FROM environment_builds
		WHERE job = $1 AND number = $2
		ORDER BY environment ASC
	`
	return r.queryBuilds(ctx, query, job, number)
}

// ListQueued возвращает сборки в статусе QUEUED (для polling fallback).
func (r *EnvironmentBuildRepo) ListQueued(ctx context.Context, limit int) ([]domain.EnvironmentBuild, error) {
	query := `
		SELECT id, job, number, environment, command, status, result,
		       error, started_at, finished_at, created_at
		FROM environment_builds
		WHERE status = 'QUEUED'
		ORDER BY created_at ASC
		LIMIT $1
	`
	return r.queryBuilds(ctx, query, limit)
}

// Update обновляет environment build.
func (r *EnvironmentBuildRepo) Update(ctx context.Context, build *domain.EnvironmentBuild) error {
	query := `
		UPDATE environment_builds
		SET status = $2, result = $3, error = $4, started_at = $5, finished_at = $6
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		build.ID,
		build.Status,
		build.Result.String(),
		nullString(build.Error),
		build.StartedAt,
		build.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update environment build: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelQueued отменяет все ещё не взятые в работу дочерние сборки
// branch build. Возвращает отменённые записи: они уже не дойдут до
// воркера, и ждать их завершения не нужно.
func (r *EnvironmentBuildRepo) CancelQueued(ctx context.Context, job string, number int) ([]domain.EnvironmentBuild, error) {
	query := `
		UPDATE environment_builds
		SET status = 'CANCELLED', result = 'ABORTED', finished_at = now()
		WHERE job = $1 AND number = $2 AND status = 'QUEUED'
		RETURNING id, job, number, environment, command, status, result,
		          error, started_at, finished_at, created_at
	`
	return r.queryBuilds(ctx, query, job, number)
}

// MarkRunning атомарно переводит сборку QUEUED → RUNNING.
// Возвращает ErrInvalidState, если сборка уже взята или отменена.
func (r *EnvironmentBuildRepo) MarkRunning(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE environment_builds
		SET status = 'RUNNING', started_at = now()
		WHERE id = $1 AND status = 'QUEUED'
	`
	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark environment build running: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// --- Helpers ---

func (r *EnvironmentBuildRepo) queryBuilds(ctx context.Context, query string, args ...any) ([]domain.EnvironmentBuild, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query environment builds: %w", err)
	}
	defer rows.Close()

	var builds []domain.EnvironmentBuild
	for rows.Next() {
		build, err := scanEnvironmentBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, *build)
	}
	return builds, rows.Err()
}

func (r *EnvironmentBuildRepo) scanBuild(row pgx.Row) (*domain.EnvironmentBuild, error) {
	build, err := scanEnvironmentBuild(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return build, err
}

func scanEnvironmentBuild(row pgx.Row) (*domain.EnvironmentBuild, error) {
	var build domain.EnvironmentBuild
	var envName, resultName string
	var buildError *string

	err := row.Scan(
		&build.ID,
		&build.Job,
		&build.Number,
		&envName,
		&build.Command,
		&build.Status,
		&resultName,
		&buildError,
		&build.StartedAt,
		&build.FinishedAt,
		&build.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan environment build: %w", err)
	}

	build.Environment, err = domain.ParseEnvironmentSet(envName)
	if err != nil {
		return nil, fmt.Errorf("parse environment %q: %w", envName, err)
	}
	build.Result = domain.ParseBuildResult(resultName)

	if buildError != nil {
		build.Error = *buildError
	}

	return &build, nil
}
