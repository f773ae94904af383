package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/model"
	"github.com/shaiso/Conveyor/internal/repo"
)

// --- Fakes ---

// fakeScheduler — in-memory Scheduler для тестов.
// completeWith задаёт результат, с которым дочерняя сборка завершается
// сразу после постановки; окружения без записи остаются QUEUED.
type fakeScheduler struct {
	mu           sync.Mutex
	children     map[string]*domain.EnvironmentBuild
	completeWith map[string]domain.BuildResult
	failSchedule map[string]bool
	vanish       map[string]bool // Get всегда отвечает "не найдено"

	lockHeld         bool
	cancelInsideLock bool
	interrupted      []uuid.UUID
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		children:     make(map[string]*domain.EnvironmentBuild),
		completeWith: make(map[string]domain.BuildResult),
		failSchedule: make(map[string]bool),
		vanish:       make(map[string]bool),
	}
}

func (s *fakeScheduler) Schedule(_ context.Context, build *domain.EnvironmentBuild) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := build.Environment.Name()
	if s.failSchedule[name] {
		return errors.New("queue unavailable")
	}

	child := *build
	if result, ok := s.completeWith[name]; ok {
		child.MarkRunning()
		child.MarkCompleted(result, "")
	}
	s.children[name] = &child
	return nil
}

func (s *fakeScheduler) Get(_ context.Context, _ string, _ int, env domain.EnvironmentSet) (*domain.EnvironmentBuild, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := env.Name()
	child, ok := s.children[name]
	if !ok || s.vanish[name] {
		return nil, repo.ErrNotFound
	}
	copied := *child
	return &copied, nil
}

func (s *fakeScheduler) CancelQueued(_ context.Context, _ string, _ int) ([]domain.EnvironmentBuild, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelInsideLock = s.lockHeld

	var cancelled []domain.EnvironmentBuild
	for _, child := range s.children {
		if child.Status == domain.StatusQueued {
			child.MarkCancelled()
			cancelled = append(cancelled, *child)
		}
	}
	return cancelled, nil
}

func (s *fakeScheduler) Interrupt(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.interrupted = append(s.interrupted, id)
	for _, child := range s.children {
		if child.ID == id {
			child.MarkCancelled()
		}
	}
	return nil
}

func (s *fakeScheduler) WithQueueLock(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	s.lockHeld = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.lockHeld = false
		s.mu.Unlock()
	}()

	return fn(ctx)
}

// fakeModels отдаёт одно и то же описание проекта для любого job'а.
type fakeModels struct {
	model *model.ProjectModel
	err   error
}

func (m *fakeModels) ResolveJob(context.Context, string) (*model.ProjectModel, error) {
	return m.model, m.err
}

// fakeRegistry запоминает списки выверки по веткам.
type fakeRegistry struct {
	mu         sync.Mutex
	jobs       []string
	reconciled [][]domain.EnvironmentSet
}

func (r *fakeRegistry) Reconcile(_ context.Context, job string, envs []domain.EnvironmentSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	r.reconciled = append(r.reconciled, envs)
	return nil
}

// fakeStore запоминает состояние сборки.
type fakeStore struct {
	mu      sync.Mutex
	updates int
}

func (s *fakeStore) Update(context.Context, *domain.BranchBuild) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	return nil
}

// --- Helpers ---

func testModel(environments ...string) *model.ProjectModel {
	envs := make([]domain.EnvironmentSet, len(environments))
	builds := make(map[string]string, len(environments))
	for i, name := range environments {
		env, err := domain.ParseEnvironmentSet(name)
		if err != nil {
			panic(err)
		}
		envs[i] = env
		builds[name] = "make test"
	}
	return model.StaticModel(envs, builds, nil)
}

func testBuild() *domain.BranchBuild {
	return &domain.BranchBuild{
		ID:        uuid.New(),
		Job:       "widget/main",
		Number:    7,
		Status:    domain.StatusQueued,
		CreatedAt: time.Now(),
	}
}

func newTestFanOut(sched *fakeScheduler, models *fakeModels) (*FanOut, *fakeRegistry, *fakeStore) {
	registry := &fakeRegistry{}
	store := &fakeStore{}
	f := NewFanOut(FanOutConfig{
		Scheduler:          sched,
		Models:             models,
		Registry:           registry,
		Builds:             store,
		PollInterval:       2 * time.Millisecond,
		CancelledThreshold: 3,
	})
	return f, registry, store
}

// --- Tests ---

func TestFanOutAllSucceed(t *testing.T) {
	sched := newFakeScheduler()
	sched.completeWith["linux"] = domain.ResultSuccess
	sched.completeWith["osx"] = domain.ResultSuccess
	sched.completeWith["windows"] = domain.ResultSuccess

	f, registry, _ := newTestFanOut(sched, &fakeModels{model: testModel("linux", "osx", "windows")})

	build := testBuild()
	if err := f.Run(context.Background(), build); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if build.Status != domain.StatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", build.Status)
	}
	if build.Result != domain.ResultSuccess {
		t.Errorf("Result = %s, want SUCCESS", build.Result)
	}
	if len(build.Environments) != 3 {
		t.Errorf("Environments = %d, want 3", len(build.Environments))
	}
	if len(sched.children) != 3 {
		t.Errorf("scheduled %d children, want 3", len(sched.children))
	}
	if len(registry.reconciled) != 1 {
		t.Errorf("registry reconciled %d times, want 1", len(registry.reconciled))
	}
	if len(registry.jobs) != 1 || registry.jobs[0] != build.Job {
		t.Errorf("registry reconciled for jobs %v, want [%s]", registry.jobs, build.Job)
	}
}

func TestFanOutWorstResultWins(t *testing.T) {
	tests := []struct {
		name    string
		results map[string]domain.BuildResult
		want    domain.BuildResult
	}{
		{
			name: "one unstable",
			results: map[string]domain.BuildResult{
				"linux": domain.ResultSuccess, "osx": domain.ResultUnstable, "windows": domain.ResultSuccess,
			},
			want: domain.ResultUnstable,
		},
		{
			name: "windows fails",
			results: map[string]domain.BuildResult{
				"linux": domain.ResultSuccess, "osx": domain.ResultSuccess, "windows": domain.ResultFailure,
			},
			want: domain.ResultFailure,
		},
		{
			name: "aborted beats failure",
			results: map[string]domain.BuildResult{
				"linux": domain.ResultFailure, "osx": domain.ResultAborted, "windows": domain.ResultSuccess,
			},
			want: domain.ResultAborted,
		},
		{
			name: "not built beats failure",
			results: map[string]domain.BuildResult{
				"linux": domain.ResultNotBuilt, "osx": domain.ResultFailure, "windows": domain.ResultSuccess,
			},
			want: domain.ResultNotBuilt,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched := newFakeScheduler()
			for env, result := range tt.results {
				sched.completeWith[env] = result
			}

			f, _, _ := newTestFanOut(sched, &fakeModels{model: testModel("linux", "osx", "windows")})

			build := testBuild()
			if err := f.Run(context.Background(), build); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if build.Result != tt.want {
				t.Errorf("Result = %s, want %s", build.Result, tt.want)
			}
		})
	}
}

func TestFanOutModelUnresolvableFailsFast(t *testing.T) {
	sched := newFakeScheduler()
	models := &fakeModels{err: model.ErrModelBuild}

	f, _, _ := newTestFanOut(sched, models)

	build := testBuild()
	if err := f.Run(context.Background(), build); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if build.Result != domain.ResultFailure {
		t.Errorf("Result = %s, want FAILURE", build.Result)
	}
	if build.Error == "" {
		t.Error("Error should record the failure reason")
	}
	if len(sched.children) != 0 {
		t.Errorf("scheduled %d children, want 0 (fail before fan-out)", len(sched.children))
	}
}

func TestFanOutEmptyModelFailsFast(t *testing.T) {
	sched := newFakeScheduler()

	// Описание проекта без единого окружения
	f, registry, _ := newTestFanOut(sched, &fakeModels{model: model.StaticModel(nil, nil, nil)})

	build := testBuild()
	if err := f.Run(context.Background(), build); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if build.Status != domain.StatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", build.Status)
	}
	if build.Result != domain.ResultFailure {
		t.Errorf("Result = %s, want FAILURE (no environments to build)", build.Result)
	}
	if build.Error == "" {
		t.Error("Error should record the failure reason")
	}
	if len(sched.children) != 0 {
		t.Errorf("scheduled %d children, want 0", len(sched.children))
	}
	if len(registry.reconciled) != 0 {
		t.Errorf("registry reconciled %d times, want 0 (fail before reconcile)", len(registry.reconciled))
	}
}

func TestFanOutMissingCommandFailsFast(t *testing.T) {
	sched := newFakeScheduler()

	// У windows нет команды сборки
	envs := []domain.EnvironmentSet{
		domain.NewEnvironmentSet("linux"),
		domain.NewEnvironmentSet("windows"),
	}
	m := model.StaticModel(envs, map[string]string{"linux": "make"}, nil)

	f, _, _ := newTestFanOut(sched, &fakeModels{model: m})

	build := testBuild()
	if err := f.Run(context.Background(), build); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if build.Result != domain.ResultFailure {
		t.Errorf("Result = %s, want FAILURE", build.Result)
	}
	if len(sched.children) != 0 {
		t.Errorf("scheduled %d children, want 0 (no partial fan-out)", len(sched.children))
	}
}

func TestFanOutVanishedChildAborted(t *testing.T) {
	sched := newFakeScheduler()
	sched.completeWith["linux"] = domain.ResultSuccess
	sched.completeWith["windows"] = domain.ResultSuccess
	// osx исчезает из очереди: Get отвечает "не найдено"
	sched.vanish["osx"] = true

	f, _, _ := newTestFanOut(sched, &fakeModels{model: testModel("linux", "osx", "windows")})

	build := testBuild()
	if err := f.Run(context.Background(), build); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if build.Result != domain.ResultAborted {
		t.Errorf("Result = %s, want ABORTED (vanished child)", build.Result)
	}
}

func TestFanOutScheduleFailureAborts(t *testing.T) {
	sched := newFakeScheduler()
	sched.completeWith["linux"] = domain.ResultSuccess
	sched.completeWith["windows"] = domain.ResultSuccess
	sched.failSchedule["windows"] = true

	f, _, _ := newTestFanOut(sched, &fakeModels{model: testModel("linux", "windows")})

	build := testBuild()
	if err := f.Run(context.Background(), build); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if build.Result != domain.ResultAborted {
		t.Errorf("Result = %s, want ABORTED (child never scheduled)", build.Result)
	}
}

func TestFanOutCancelOnAbort(t *testing.T) {
	sched := newFakeScheduler()
	sched.completeWith["linux"] = domain.ResultSuccess
	// osx остаётся QUEUED и должен быть снят с очереди при прерывании

	f, _, _ := newTestFanOut(sched, &fakeModels{model: testModel("linux", "osx")})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	build := testBuild()
	if err := f.Run(ctx, build); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if build.Result != domain.ResultAborted {
		t.Errorf("Result = %s, want ABORTED", build.Result)
	}
	if !sched.cancelInsideLock {
		t.Error("CancelQueued must run under the queue lock")
	}

	osx := sched.children["osx"]
	if osx == nil || osx.Status != domain.StatusCancelled {
		t.Error("queued osx build should be cancelled")
	}
	if osx != nil && osx.Result != domain.ResultAborted {
		t.Errorf("cancelled osx result = %s, want ABORTED", osx.Result)
	}
}

func TestFanOutInterruptsRunningChildren(t *testing.T) {
	sched := newFakeScheduler()
	sched.completeWith["linux"] = domain.ResultSuccess

	f, _, _ := newTestFanOut(sched, &fakeModels{model: testModel("linux", "windows")})

	// windows стартует, но никогда не завершается
	done := make(chan struct{})
	go func() {
		for {
			sched.mu.Lock()
			child, ok := sched.children["windows"]
			if ok && child.Status == domain.StatusQueued {
				child.MarkRunning()
				sched.mu.Unlock()
				close(done)
				return
			}
			sched.mu.Unlock()
			time.Sleep(time.Millisecond)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-done
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	build := testBuild()
	if err := f.Run(ctx, build); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if build.Result != domain.ResultAborted {
		t.Errorf("Result = %s, want ABORTED", build.Result)
	}
	if len(sched.interrupted) != 1 {
		t.Fatalf("interrupted %d children, want 1", len(sched.interrupted))
	}
}

func TestFanOutDefaultEnvironment(t *testing.T) {
	sched := newFakeScheduler()
	sched.completeWith[domain.DefaultEnvironmentName] = domain.ResultSuccess

	f, _, _ := newTestFanOut(sched, &fakeModels{model: testModel("default")})

	build := testBuild()
	if err := f.Run(context.Background(), build); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if build.Result != domain.ResultSuccess {
		t.Errorf("Result = %s, want SUCCESS", build.Result)
	}
	if len(build.Environments) != 1 || !build.Environments[0].IsDefault() {
		t.Errorf("Environments = %v, want single default", build.Environments)
	}
}
