package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conveyor/internal/domain"
)

// RegistryEntry — запись реестра окружений в БД.
// Реестр ведётся на каждую ветку отдельно: одно и то же окружение
// у разных jobs — независимые записи.
type RegistryEntry struct {
	Job         string
	Environment domain.EnvironmentSet
	Active      bool
	SeenAt      time.Time
}

// RegistryRepo — репозиторий реестра известных окружений.
type RegistryRepo struct {
	pool *pgxpool.Pool
}

// NewRegistryRepo создаёт новый RegistryRepo.
func NewRegistryRepo(pool *pgxpool.Pool) *RegistryRepo {
	return &RegistryRepo{pool: pool}
}

// Upsert записывает окружение job'а как активное и обновляет отметку
// последней встречи. Ключ — (job, каноническое имя), дубликаты
// невозможны.
func (r *RegistryRepo) Upsert(ctx context.Context, job string, env domain.EnvironmentSet, seenAt time.Time) error {
	query := `
		INSERT INTO registry_entries (job, name, active, seen_at)
		VALUES ($1, $2, true, $3)
		ON CONFLICT (job, name) DO UPDATE
		SET active = true, seen_at = EXCLUDED.seen_at
	`
	if _, err := r.pool.Exec(ctx, query, job, env.Name(), seenAt); err != nil {
		return fmt.Errorf("upsert registry entry: %w", err)
	}
	return nil
}

// MarkInactive помечает окружение job'а неактивным. Запись не
// удаляется: история окружения сохраняется до retention-политики.
func (r *RegistryRepo) MarkInactive(ctx context.Context, job string, env domain.EnvironmentSet) error {
	query := `
		UPDATE registry_entries
		SET active = false
		WHERE job = $1 AND name = $2
	`
	result, err := r.pool.Exec(ctx, query, job, env.Name())
	if err != nil {
		return fmt.Errorf("mark registry entry inactive: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List возвращает все записи реестра в детерминированном порядке.
func (r *RegistryRepo) List(ctx context.Context) ([]RegistryEntry, error) {
	query := `
		SELECT job, name, active, seen_at
		FROM registry_entries
		ORDER BY job ASC, name ASC
	`
	return r.queryEntries(ctx, query)
}

// ListByJob возвращает записи реестра одного job'а.
func (r *RegistryRepo) ListByJob(ctx context.Context, job string) ([]RegistryEntry, error) {
	query := `
		SELECT job, name, active, seen_at
		FROM registry_entries
		WHERE job = $1
		ORDER BY name ASC
	`
	return r.queryEntries(ctx, query, job)
}

// DeleteInactiveBefore удаляет неактивные записи, не встречавшиеся
// с отметки cutoff. Используется retention-sweep'ом.
func (r *RegistryRepo) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM registry_entries
		WHERE active = false AND seen_at < $1
	`
	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete inactive registry entries: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *RegistryRepo) queryEntries(ctx context.Context, query string, args ...any) ([]RegistryEntry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list registry entries: %w", err)
	}
	defer rows.Close()

	var entries []RegistryEntry
	for rows.Next() {
		var name string
		var entry RegistryEntry
		if err := rows.Scan(&entry.Job, &name, &entry.Active, &entry.SeenAt); err != nil {
			return nil, fmt.Errorf("scan registry entry: %w", err)
		}
		entry.Environment, err = domain.ParseEnvironmentSet(name)
		if err != nil {
			return nil, fmt.Errorf("parse environment %q: %w", name, err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
