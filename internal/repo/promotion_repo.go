package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conveyor/internal/domain"
)

// PromotionRepo — репозиторий для promotion states, promotion builds
// и записей ручных одобрений.
type PromotionRepo struct {
	pool *pgxpool.Pool
}

// NewPromotionRepo создаёт новый PromotionRepo.
func NewPromotionRepo(pool *pgxpool.Pool) *PromotionRepo {
	return &PromotionRepo{pool: pool}
}

// --- Promotion states ---

// CreateState создаёт состояние процесса для сборки-цели, если его
// ещё нет. Возвращает true, если запись создана этим вызовом.
// Существующая запись не трогается: состояние создаётся ровно один раз.
func (r *PromotionRepo) CreateState(ctx context.Context, state *domain.PromotionState) (bool, error) {
	badgesJSON, err := json.Marshal(state.Badges)
	if err != nil {
		return false, fmt.Errorf("marshal badges: %w", err)
	}

	query := `
		INSERT INTO promotion_states (job, number, process, qualified_at, badges, attempts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job, number, process) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query,
		state.Job,
		state.Number,
		state.Process,
		state.QualifiedAt,
		badgesJSON,
		state.Attempts,
	)
	if err != nil {
		return false, fmt.Errorf("insert promotion state: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// GetState возвращает состояние процесса для сборки-цели.
// Имя процесса сравнивается без учёта регистра.
func (r *PromotionRepo) GetState(ctx context.Context, job string, number int, process string) (*domain.PromotionState, error) {
	query := `
		SELECT job, number, process, qualified_at, badges, attempts, successful_attempt
		FROM promotion_states
		WHERE job = $1 AND number = $2 AND lower(process) = lower($3)
	`
	state, err := scanPromotionState(r.pool.QueryRow(ctx, query, job, number, process))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return state, err
}

// ListStates возвращает все состояния сборки-цели.
func (r *PromotionRepo) ListStates(ctx context.Context, job string, number int) ([]*domain.PromotionState, error) {
	query := `
		SELECT job, number, process, qualified_at, badges, attempts, successful_attempt
		FROM promotion_states
		WHERE job = $1 AND number = $2
		ORDER BY process ASC
	`
	rows, err := r.pool.Query(ctx, query, job, number)
	if err != nil {
		return nil, fmt.Errorf("list promotion states: %w", err)
	}
	defer rows.Close()

	var states []*domain.PromotionState
	for rows.Next() {
		state, err := scanPromotionState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// AddAttempt дописывает номер попытки в состояние.
// Запись происходит до выполнения тела promotion: след попытки
// сохраняется, даже если процесс упадёт посреди выполнения.
func (r *PromotionRepo) AddAttempt(ctx context.Context, job string, number int, process string, attempt int) error {
	return r.withStateLocked(ctx, job, number, process, func(tx pgx.Tx, state *domain.PromotionState) error {
		state.AddAttempt(attempt)
		return r.writeAttempts(ctx, tx, state)
	})
}

// MarkSuccessful записывает первую успешную попытку.
// Первая запись побеждает: если successful_attempt уже установлен,
// возвращается false и значение не меняется.
func (r *PromotionRepo) MarkSuccessful(ctx context.Context, job string, number int, process string, attempt int) (bool, error) {
	won := false
	err := r.withStateLocked(ctx, job, number, process, func(tx pgx.Tx, state *domain.PromotionState) error {
		if !state.MarkSuccessful(attempt) {
			return nil
		}
		won = true
		return r.writeAttempts(ctx, tx, state)
	})
	return won, err
}

// withStateLocked читает состояние под row lock'ом, применяет fn
// и коммитит. Row lock закрывает гонку между несколькими promoter'ами;
// мутации применяются методами domain.PromotionState.
func (r *PromotionRepo) withStateLocked(ctx context.Context, job string, number int, process string, fn func(tx pgx.Tx, state *domain.PromotionState) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT job, number, process, qualified_at, badges, attempts, successful_attempt
		FROM promotion_states
		WHERE job = $1 AND number = $2 AND lower(process) = lower($3)
		FOR UPDATE
	`
	state, err := scanPromotionState(tx.QueryRow(ctx, query, job, number, process))
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if err := fn(tx, state); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PromotionRepo) writeAttempts(ctx context.Context, tx pgx.Tx, state *domain.PromotionState) error {
	var successful *int
	if state.SuccessfulAttempt != 0 {
		successful = &state.SuccessfulAttempt
	}

	query := `
		UPDATE promotion_states
		SET attempts = $4, successful_attempt = $5
		WHERE job = $1 AND number = $2 AND lower(process) = lower($3)
	`
	if _, err := tx.Exec(ctx, query, state.Job, state.Number, state.Process, state.Attempts, successful); err != nil {
		return fmt.Errorf("update promotion attempts: %w", err)
	}
	return nil
}

// ListPendingStates возвращает состояния без успешной попытки
// для сборки-цели. Используется каскадом после успешного promotion.
func (r *PromotionRepo) ListPendingStates(ctx context.Context, job string, number int) ([]*domain.PromotionState, error) {
	query := `
		SELECT job, number, process, qualified_at, badges, attempts, successful_attempt
		FROM promotion_states
		WHERE job = $1 AND number = $2 AND successful_attempt IS NULL
		ORDER BY process ASC
	`
	rows, err := r.pool.Query(ctx, query, job, number)
	if err != nil {
		return nil, fmt.Errorf("list pending promotion states: %w", err)
	}
	defer rows.Close()

	var states []*domain.PromotionState
	for rows.Next() {
		state, err := scanPromotionState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// --- Promotion builds ---

// CreateBuild создаёт запись выполнения promotion.
func (r *PromotionRepo) CreateBuild(ctx context.Context, build *domain.PromotionBuild) error {
	paramsJSON, err := json.Marshal(build.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}

	query := `
		INSERT INTO promotion_builds (id, job, number, process, attempt, parameters, status, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.pool.Exec(ctx, query,
		build.ID,
		build.Job,
		build.Number,
		build.Process,
		build.Attempt,
		paramsJSON,
		build.Status,
		build.Result.String(),
		build.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert promotion build: %w", err)
	}
	return nil
}

// GetBuild возвращает promotion build по ID.
func (r *PromotionRepo) GetBuild(ctx context.Context, id uuid.UUID) (*domain.PromotionBuild, error) {
	query := `
		SELECT id, job, number, process, attempt, parameters, status, result,
		       error, started_at, finished_at, created_at
		FROM promotion_builds
		WHERE id = $1
	`
	build, err := scanPromotionBuild(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return build, err
}

// NextAttempt выдаёт следующий номер попытки в рамках (job, process).
// Нумерация сквозная по всем сборкам-целям job, как у обычных сборок.
func (r *PromotionRepo) NextAttempt(ctx context.Context, job, process string) (int, error) {
	query := `
		SELECT COALESCE(MAX(attempt), 0) + 1
		FROM promotion_builds
		WHERE job = $1 AND lower(process) = lower($2)
	`
	var attempt int
	if err := r.pool.QueryRow(ctx, query, job, process).Scan(&attempt); err != nil {
		return 0, fmt.Errorf("next promotion attempt: %w", err)
	}
	return attempt, nil
}

// UpdateBuild обновляет promotion build.
func (r *PromotionRepo) UpdateBuild(ctx context.Context, build *domain.PromotionBuild) error {
	query := `
		UPDATE promotion_builds
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
		return fmt.Errorf("update promotion build: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBuilds возвращает promotion builds сборки-цели.
func (r *PromotionRepo) ListBuilds(ctx context.Context, job string, number int) ([]domain.PromotionBuild, error) {
	query := `
		SELECT id, job, number, process, attempt, parameters, status, result,
		       error, started_at, finished_at, created_at
		FROM promotion_builds
		WHERE job = $1 AND number = $2
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, job, number)
	if err != nil {
		return nil, fmt.Errorf("list promotion builds: %w", err)
	}
	defer rows.Close()

	var builds []domain.PromotionBuild
	for rows.Next() {
		build, err := scanPromotionBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, *build)
	}
	return builds, rows.Err()
}

// ListQueuedBuilds возвращает promotion builds в статусе QUEUED.
// Используется воркерами как polling fallback.
func (r *PromotionRepo) ListQueuedBuilds(ctx context.Context, limit int) ([]domain.PromotionBuild, error) {
	query := `
		SELECT id, job, number, process, attempt, parameters, status, result,
		       error, started_at, finished_at, created_at
		FROM promotion_builds
		WHERE status = 'QUEUED'
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list queued promotion builds: %w", err)
	}
	defer rows.Close()

	var builds []domain.PromotionBuild
	for rows.Next() {
		build, err := scanPromotionBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, *build)
	}
	return builds, rows.Err()
}

// MarkBuildRunning атомарно переводит promotion build из QUEUED в RUNNING.
// Возвращает ErrInvalidState, если сборку уже забрал другой воркер.
func (r *PromotionRepo) MarkBuildRunning(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE promotion_builds
		SET status = 'RUNNING', started_at = now()
		WHERE id = $1 AND status = 'QUEUED'
	`
	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark promotion build running: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// --- Manual approvals ---

// CreateApproval сохраняет запись ручного одобрения.
// Запись живёт независимо от исхода квалификации.
func (r *PromotionRepo) CreateApproval(ctx context.Context, job string, number int, approval *domain.ManualApproval) error {
	paramsJSON, err := json.Marshal(approval.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}

	query := `
		INSERT INTO manual_approvals (job, number, process, approved_by, parameters, approved_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.pool.Exec(ctx, query,
		job,
		number,
		approval.Process,
		approval.User,
		paramsJSON,
		approval.ApprovedAt,
	)
	if err != nil {
		return fmt.Errorf("insert manual approval: %w", err)
	}
	return nil
}

// ListApprovals возвращает одобрения сборки-цели в порядке создания.
func (r *PromotionRepo) ListApprovals(ctx context.Context, job string, number int) ([]domain.ManualApproval, error) {
	query := `
		SELECT process, approved_by, parameters, approved_at
		FROM manual_approvals
		WHERE job = $1 AND number = $2
		ORDER BY approved_at ASC
	`
	rows, err := r.pool.Query(ctx, query, job, number)
	if err != nil {
		return nil, fmt.Errorf("list manual approvals: %w", err)
	}
	defer rows.Close()

	var approvals []domain.ManualApproval
	for rows.Next() {
		var approval domain.ManualApproval
		var paramsJSON []byte
		if err := rows.Scan(&approval.Process, &approval.User, &paramsJSON, &approval.ApprovedAt); err != nil {
			return nil, fmt.Errorf("scan manual approval: %w", err)
		}
		if paramsJSON != nil {
			if err := json.Unmarshal(paramsJSON, &approval.Parameters); err != nil {
				return nil, fmt.Errorf("unmarshal parameters: %w", err)
			}
		}
		approvals = append(approvals, approval)
	}
	return approvals, rows.Err()
}

// --- Helpers ---

func scanPromotionState(row pgx.Row) (*domain.PromotionState, error) {
	var state domain.PromotionState
	var badgesJSON []byte
	var successful *int

	err := row.Scan(
		&state.Job,
		&state.Number,
		&state.Process,
		&state.QualifiedAt,
		&badgesJSON,
		&state.Attempts,
		&successful,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan promotion state: %w", err)
	}

	if badgesJSON != nil {
		if err := json.Unmarshal(badgesJSON, &state.Badges); err != nil {
			return nil, fmt.Errorf("unmarshal badges: %w", err)
		}
	}
	if successful != nil {
		state.SuccessfulAttempt = *successful
	}

	return &state, nil
}

func scanPromotionBuild(row pgx.Row) (*domain.PromotionBuild, error) {
	var build domain.PromotionBuild
	var paramsJSON []byte
	var resultName string
	var buildError *string

	err := row.Scan(
		&build.ID,
		&build.Job,
		&build.Number,
		&build.Process,
		&build.Attempt,
		&paramsJSON,
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
		return nil, fmt.Errorf("scan promotion build: %w", err)
	}

	build.Result = domain.ParseBuildResult(resultName)

	if paramsJSON != nil {
		if err := json.Unmarshal(paramsJSON, &build.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal parameters: %w", err)
		}
	}
	if buildError != nil {
		build.Error = *buildError
	}

	return &build, nil
}
