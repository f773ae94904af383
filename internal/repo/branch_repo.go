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

// BranchRepo — репозиторий для работы с branch builds.
type BranchRepo struct {
	pool *pgxpool.Pool
}

// NewBranchRepo создаёт новый BranchRepo.
func NewBranchRepo(pool *pgxpool.Pool) *BranchRepo {
	return &BranchRepo{pool: pool}
}

// Create создаёт новую branch build.
func (r *BranchRepo) Create(ctx context.Context, build *domain.BranchBuild) error {
	envsJSON, err := marshalEnvironments(build.Environments)
	if err != nil {
		return err
	}
	scmJSON, err := json.Marshal(build.SCMVars)
	if err != nil {
		return fmt.Errorf("marshal scm vars: %w", err)
	}

	query := `
		INSERT INTO branch_builds (id, job, number, status, result, environments, scm_vars, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.pool.Exec(ctx, query,
		build.ID,
		build.Job,
		build.Number,
		build.Status,
		build.Result.String(),
		envsJSON,
		scmJSON,
		build.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert branch build: %w", err)
	}
	return nil
}

// GetByID возвращает branch build по ID.
func (r *BranchRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.BranchBuild, error) {
	query := `
		SELECT id, job, number, status, result, environments, scm_vars,
		       error, started_at, finished_at, created_at
		FROM branch_builds
		WHERE id = $1
	`
	return r.scanBuild(r.pool.QueryRow(ctx, query, id))
}

// GetByNumber возвращает branch build по паре (job, номер сборки).
func (r *BranchRepo) GetByNumber(ctx context.Context, job string, number int) (*domain.BranchBuild, error) {
	query := `
		SELECT id, job, number, status, result, environments, scm_vars,
		       error, started_at, finished_at, created_at
		FROM branch_builds
		WHERE job = $1 AND number = $2
	`
	return r.scanBuild(r.pool.QueryRow(ctx, query, job, number))
}

// NextNumber выдаёт следующий номер сборки для job.
// Номера монотонны в рамках job и общие для дочерних environment builds.
func (r *BranchRepo) NextNumber(ctx context.Context, job string) (int, error) {
	query := `
		SELECT COALESCE(MAX(number), 0) + 1
		FROM branch_builds
		WHERE job = $1
	`
	var number int
	if err := r.pool.QueryRow(ctx, query, job).Scan(&number); err != nil {
		return 0, fmt.Errorf("next build number: %w", err)
	}
	return number, nil
}

// List возвращает branch builds с фильтрацией.
func (r *BranchRepo) List(ctx context.Context, filter BranchFilter) ([]domain.BranchBuild, error) {
	query := `
		SELECT id, job, number, status, result, environments, scm_vars,
		       error, started_at, finished_at, created_at
		FROM branch_builds
		WHERE ($1::text IS NULL OR job = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(filter.Job),
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list branch builds: %w", err)
	}
	defer rows.Close()

	var builds []domain.BranchBuild
	for rows.Next() {
		build, err := r.scanBuildRow(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, *build)
	}
	return builds, rows.Err()
}

// Update обновляет изменяемые поля branch build.
// Environments записываются тоже: список разрешается после создания записи.
func (r *BranchRepo) Update(ctx context.Context, build *domain.BranchBuild) error {
	envsJSON, err := marshalEnvironments(build.Environments)
	if err != nil {
		return err
	}

	query := `
		UPDATE branch_builds
		SET status = $2, result = $3, environments = $4, error = $5,
		    started_at = $6, finished_at = $7
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		build.ID,
		build.Status,
		build.Result.String(),
		envsJSON,
		nullString(build.Error),
		build.StartedAt,
		build.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update branch build: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LastCompleted возвращает последнюю завершённую сборку job,
// опционально отфильтрованную по результату.
func (r *BranchRepo) LastCompleted(ctx context.Context, job string, results ...domain.BuildResult) (*domain.BranchBuild, error) {
	names := make([]string, len(results))
	for i, res := range results {
		names[i] = res.String()
	}

	query := `
		SELECT id, job, number, status, result, environments, scm_vars,
		       error, started_at, finished_at, created_at
		FROM branch_builds
		WHERE job = $1 AND status = 'COMPLETED'
		  AND (cardinality($2::text[]) = 0 OR result = ANY($2))
		ORDER BY number DESC
		LIMIT 1
	`
	return r.scanBuild(r.pool.QueryRow(ctx, query, job, names))
}

// Jobs возвращает список job'ов, у которых есть сборки.
func (r *BranchRepo) Jobs(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT job FROM branch_builds ORDER BY job`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []string
	for rows.Next() {
		var job string
		if err := rows.Scan(&job); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// DeleteOlderThan удаляет завершённые сборки job старше отметки.
// Используется retention-политикой; связанные записи удаляет каскад БД.
func (r *BranchRepo) DeleteOlderThan(ctx context.Context, job string, keep int) (int64, error) {
	query := `
		DELETE FROM branch_builds
		WHERE job = $1 AND status IN ('COMPLETED', 'CANCELLED')
		  AND number < (
		      SELECT COALESCE(MAX(number), 0) - $2
		      FROM branch_builds
		      WHERE job = $1
		  )
	`
	result, err := r.pool.Exec(ctx, query, job, keep)
	if err != nil {
		return 0, fmt.Errorf("delete old branch builds: %w", err)
	}
	return result.RowsAffected(), nil
}

// --- Helpers ---

// BranchFilter — параметры фильтрации branch builds.
type BranchFilter struct {
	Job    string
	Status domain.BuildStatus
	Limit  int
	Offset int
}

func (r *BranchRepo) scanBuild(row pgx.Row) (*domain.BranchBuild, error) {
	build, err := scanBranchBuild(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return build, err
}

func (r *BranchRepo) scanBuildRow(rows pgx.Rows) (*domain.BranchBuild, error) {
	return scanBranchBuild(rows)
}

func scanBranchBuild(row pgx.Row) (*domain.BranchBuild, error) {
	var build domain.BranchBuild
	var envsJSON, scmJSON []byte
	var resultName string
	var buildError *string

	err := row.Scan(
		&build.ID,
		&build.Job,
		&build.Number,
		&build.Status,
		&resultName,
		&envsJSON,
		&scmJSON,
		&buildError,
		&build.StartedAt,
		&build.FinishedAt,
		&build.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan branch build: %w", err)
	}

	build.Result = domain.ParseBuildResult(resultName)

	build.Environments, err = unmarshalEnvironments(envsJSON)
	if err != nil {
		return nil, err
	}

	if scmJSON != nil {
		if err := json.Unmarshal(scmJSON, &build.SCMVars); err != nil {
			return nil, fmt.Errorf("unmarshal scm vars: %w", err)
		}
	}
	if buildError != nil {
		build.Error = *buildError
	}

	return &build, nil
}

// marshalEnvironments сериализует окружения в JSON-массив канонических имён.
func marshalEnvironments(envs []domain.EnvironmentSet) ([]byte, error) {
	if envs == nil {
		return nil, nil
	}
	names := make([]string, len(envs))
	for i, env := range envs {
		names[i] = env.Name()
	}
	data, err := json.Marshal(names)
	if err != nil {
		return nil, fmt.Errorf("marshal environments: %w", err)
	}
	return data, nil
}

// unmarshalEnvironments восстанавливает окружения из JSON-массива имён.
func unmarshalEnvironments(data []byte) ([]domain.EnvironmentSet, error) {
	if data == nil {
		return nil, nil
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("unmarshal environments: %w", err)
	}
	envs := make([]domain.EnvironmentSet, len(names))
	for i, name := range names {
		env, err := domain.ParseEnvironmentSet(name)
		if err != nil {
			return nil, fmt.Errorf("parse environment %q: %w", name, err)
		}
		envs[i] = env
	}
	return envs, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
