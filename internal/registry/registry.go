package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
)

// Store — персистентное хранилище записей реестра.
type Store interface {
	Upsert(ctx context.Context, job string, env domain.EnvironmentSet, seenAt time.Time) error
	MarkInactive(ctx context.Context, job string, env domain.EnvironmentSet) error
	List(ctx context.Context) ([]repo.RegistryEntry, error)
}

// Entry — запись реестра окружений.
type Entry struct {
	// Job — ветка, которой принадлежит запись.
	Job string

	// Environment — окружение.
	Environment domain.EnvironmentSet

	// Active — встречалось ли окружение в последней выверке ветки.
	Active bool

	// SeenAt — когда окружение последний раз встречалось активным.
	SeenAt time.Time
}

// Registry — реестр известных окружений.
//
// Реестр ведётся на каждую ветку отдельно и выверяется по списку
// окружений каждой новой сборки этой ветки: новые окружения
// добавляются, пропавшие помечаются неактивными. Сборки других веток
// чужие записи не трогают. Записи никогда не удаляются выверкой;
// удаление — только явной retention-политикой. Ключ записи —
// (job, каноническое имя окружения), поэтому дубликаты невозможны.
type Registry struct {
	store  Store
	logger *slog.Logger

	mu sync.RWMutex
	// job -> каноническое имя окружения -> запись
	entries map[string]map[string]Entry

	now func() time.Time
}

// Config — конфигурация Registry.
type Config struct {
	// Store — персистентное хранилище. Обязательно.
	Store Store

	// Logger — логгер. По умолчанию slog.Default().
	Logger *slog.Logger
}

// New создаёт Registry с пустым снимком.
// Снимок наполняется из хранилища вызовом Load.
func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:   cfg.Store,
		logger:  logger,
		entries: make(map[string]map[string]Entry),
		now:     time.Now,
	}
}

// Load загружает снимок реестра из хранилища.
func (r *Registry) Load(ctx context.Context) error {
	stored, err := r.store.List(ctx)
	if err != nil {
		return err
	}

	entries := make(map[string]map[string]Entry)
	total := 0
	for _, e := range stored {
		jobEntries, ok := entries[e.Job]
		if !ok {
			jobEntries = make(map[string]Entry)
			entries[e.Job] = jobEntries
		}
		jobEntries[e.Environment.Name()] = Entry{
			Job:         e.Job,
			Environment: e.Environment,
			Active:      e.Active,
			SeenAt:      e.SeenAt,
		}
		total++
	}

	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()

	r.logger.Debug("registry loaded", "jobs", len(entries), "entries", total)
	return nil
}

// Reconcile выверяет записи одной ветки по списку окружений её
// очередной сборки.
//
//  1. Окружения из списка добавляются или помечаются активными
//  2. Активные записи ветки, не попавшие в список, помечаются
//     неактивными
//  3. Записи других веток не затрагиваются, ничего не удаляется
//
// Повторная выверка с тем же списком ничего не меняет.
func (r *Registry) Reconcile(ctx context.Context, job string, envs []domain.EnvironmentSet) error {
	seenAt := r.now()

	seen := make(map[string]bool, len(envs))
	for _, env := range envs {
		seen[env.Name()] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	jobEntries, ok := r.entries[job]
	if !ok {
		jobEntries = make(map[string]Entry)
		r.entries[job] = jobEntries
	}

	// 1. Добавляем новые и реактивируем встреченные
	for _, env := range envs {
		name := env.Name()
		entry, exists := jobEntries[name]
		if exists && entry.Active {
			continue
		}

		if err := r.store.Upsert(ctx, job, env, seenAt); err != nil {
			return err
		}
		jobEntries[name] = Entry{Job: job, Environment: env, Active: true, SeenAt: seenAt}

		if !exists {
			r.logger.Info("environment registered", "job", job, "environment", name)
		} else {
			r.logger.Info("environment reactivated", "job", job, "environment", name)
		}
	}

	// 2. Помечаем пропавшие неактивными
	for name, entry := range jobEntries {
		if seen[name] || !entry.Active {
			continue
		}

		if err := r.store.MarkInactive(ctx, job, entry.Environment); err != nil {
			return err
		}
		entry.Active = false
		jobEntries[name] = entry

		r.logger.Info("environment deactivated", "job", job, "environment", name)
	}

	return nil
}

// Snapshot возвращает копию всех записей реестра,
// отсортированную по job'у и имени окружения.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var entries []Entry
	for _, jobEntries := range r.entries {
		for _, entry := range jobEntries {
			entries = append(entries, entry)
		}
	}
	sortEntries(entries)
	return entries
}

// Active возвращает активные окружения ветки.
func (r *Registry) Active(job string) []domain.EnvironmentSet {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var envs []domain.EnvironmentSet
	for _, entry := range r.entries[job] {
		if entry.Active {
			envs = append(envs, entry.Environment)
		}
	}
	sort.Slice(envs, func(i, j int) bool { return envs[i].Compare(envs[j]) < 0 })
	return envs
}

// Contains проверяет, известно ли окружение реестру ветки.
func (r *Registry) Contains(job string, env domain.EnvironmentSet) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.entries[job][env.Name()]
	return ok
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Job != entries[j].Job {
			return entries[i].Job < entries[j].Job
		}
		return entries[i].Environment.Compare(entries[j].Environment) < 0
	})
}
