package promotion

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/model"
)

// fakeExecutor записывает последний вызов.
type fakeExecutor struct {
	command string
	dir     string
	env     []string
	calls   int

	result domain.BuildResult
	err    error
}

func (f *fakeExecutor) Execute(_ context.Context, command, dir string, env []string) (domain.BuildResult, error) {
	f.calls++
	f.command = command
	f.dir = dir
	f.env = env
	return f.result, f.err
}

// fakeModels отдаёт одну статичную модель для любого job'а.
type fakeModels struct {
	model *model.ProjectModel
	err   error
}

func (f *fakeModels) ResolveJob(context.Context, string) (*model.ProjectModel, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.model, nil
}

func deployModel() *model.ProjectModel {
	return model.StaticModel(
		[]domain.EnvironmentSet{domain.NewEnvironmentSet("linux")},
		map[string]string{"linux": "make"},
		map[string]string{"deploy": "./deploy.sh"},
	)
}

func newTestRunner(t *testing.T, target *domain.BranchBuild, executor *fakeExecutor, setups *SetupRegistry) *Runner {
	t.Helper()

	targets := &fakeTargets{builds: map[string]*domain.BranchBuild{}}
	if target != nil {
		targets.builds[buildKey(target.Job, target.Number)] = target
	}

	return NewRunner(RunnerConfig{
		Targets:       targets,
		Models:        &fakeModels{model: deployModel()},
		Catalog:       NewCatalog([]domain.PromotionProcess{selfPromotionProcess("deploy")}),
		Setups:        setups,
		Executor:      executor,
		WorkspaceBase: t.TempDir(),
		BaseURL:       "http://conveyor.local",
	})
}

func promotionBuild(target *domain.BranchBuild, process string, attempt int) *domain.PromotionBuild {
	return &domain.PromotionBuild{
		Job:     target.Job,
		Number:  target.Number,
		Process: process,
		Attempt: attempt,
		Status:  domain.StatusQueued,
	}
}

func envValue(env []string, key string) (string, bool) {
	prefix := key + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			return strings.TrimPrefix(kv, prefix), true
		}
	}
	return "", false
}

func TestRunnerExecutesTaskCommand(t *testing.T) {
	target := successfulTarget()
	target.SCMVars = map[string]string{"GIT_COMMIT": "abc1234"}
	executor := &fakeExecutor{result: domain.ResultSuccess}
	runner := newTestRunner(t, target, executor, nil)

	build := promotionBuild(target, "deploy", 3)
	build.Parameters = map[string]string{"VERSION": "1.2.3"}

	result, err := runner.Run(context.Background(), build)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result != domain.ResultSuccess {
		t.Errorf("result = %v, want SUCCESS", result)
	}
	if executor.command != "./deploy.sh" {
		t.Errorf("command = %q, want ./deploy.sh", executor.command)
	}

	// Рабочий каталог изолирован по процессу и попытке
	wantSuffix := filepath.Join(target.Job, "promotions", "deploy", "3")
	if !strings.HasSuffix(executor.dir, wantSuffix) {
		t.Errorf("dir = %q, want suffix %q", executor.dir, wantSuffix)
	}

	// Контракт переменных сборки-цели
	checks := map[string]string{
		"PROMOTED_URL":           fmt.Sprintf("http://conveyor.local/jobs/%s/builds/%d", target.Job, target.Number),
		"PROMOTED_JOB_NAME":      "main",
		"PROMOTED_JOB_FULL_NAME": "widget/main",
		"PROMOTED_NUMBER":        strconv.Itoa(target.Number),
		"PROMOTED_ID":            target.ID.String(),
		"PROMOTED_GIT_COMMIT":    "abc1234",
		"VERSION":                "1.2.3",
	}
	for key, want := range checks {
		got, ok := envValue(executor.env, key)
		if !ok {
			t.Errorf("env %s missing", key)
			continue
		}
		if got != want {
			t.Errorf("env %s = %q, want %q", key, got, want)
		}
	}
}

func TestRunnerTargetMissing(t *testing.T) {
	executor := &fakeExecutor{result: domain.ResultSuccess}
	runner := newTestRunner(t, nil, executor, nil)

	build := &domain.PromotionBuild{Job: "widget/main", Number: 99, Process: "deploy", Attempt: 1}
	result, err := runner.Run(context.Background(), build)
	if !errors.Is(err, ErrTargetMissing) {
		t.Fatalf("Run() error = %v, want ErrTargetMissing", err)
	}
	if result != domain.ResultFailure {
		t.Errorf("result = %v, want FAILURE", result)
	}
	if executor.calls != 0 {
		t.Error("executor should not be called for a missing target")
	}
}

func TestRunnerUnknownProcess(t *testing.T) {
	target := successfulTarget()
	runner := newTestRunner(t, target, &fakeExecutor{}, nil)

	_, err := runner.Run(context.Background(), promotionBuild(target, "ship", 1))
	if !errors.Is(err, ErrProcessNotFound) {
		t.Fatalf("Run() error = %v, want ErrProcessNotFound", err)
	}
}

func TestRunnerMissingTaskCommand(t *testing.T) {
	target := successfulTarget()
	executor := &fakeExecutor{}
	targets := &fakeTargets{builds: map[string]*domain.BranchBuild{
		buildKey(target.Job, target.Number): target,
	}}

	runner := NewRunner(RunnerConfig{
		Targets:       targets,
		Models:        &fakeModels{model: deployModel()},
		Catalog:       NewCatalog([]domain.PromotionProcess{selfPromotionProcess("release")}),
		Executor:      executor,
		WorkspaceBase: t.TempDir(),
	})

	result, err := runner.Run(context.Background(), promotionBuild(target, "release", 1))
	if err == nil {
		t.Fatal("Run() should fail when the model declares no task for the process")
	}
	if result != domain.ResultFailure {
		t.Errorf("result = %v, want FAILURE", result)
	}
	if executor.calls != 0 {
		t.Error("executor should not be called without a task command")
	}
}

// recordingStep записывает факт запуска.
type recordingStep struct {
	name string
	ran  *[]string
	err  error
}

func (s *recordingStep) Type() string { return s.name }

func (s *recordingStep) Run(context.Context, *SetupContext) error {
	*s.ran = append(*s.ran, s.name)
	return s.err
}

func TestRunnerSetupFailureSkipsRest(t *testing.T) {
	var ran []string
	setups := NewSetupRegistry()
	setups.Register("first", func(map[string]any) (SetupStep, error) {
		return &recordingStep{name: "first", ran: &ran, err: fmt.Errorf("disk full")}, nil
	})
	setups.Register("second", func(map[string]any) (SetupStep, error) {
		return &recordingStep{name: "second", ran: &ran}, nil
	})

	target := successfulTarget()
	executor := &fakeExecutor{}
	targets := &fakeTargets{builds: map[string]*domain.BranchBuild{
		buildKey(target.Job, target.Number): target,
	}}

	process := selfPromotionProcess("deploy")
	process.Setup = []domain.SetupSpec{{Type: "first"}, {Type: "second"}}

	runner := NewRunner(RunnerConfig{
		Targets:       targets,
		Models:        &fakeModels{model: deployModel()},
		Catalog:       NewCatalog([]domain.PromotionProcess{process}),
		Setups:        setups,
		Executor:      executor,
		WorkspaceBase: t.TempDir(),
	})

	result, err := runner.Run(context.Background(), promotionBuild(target, "deploy", 1))
	if !errors.Is(err, ErrSetupFailed) {
		t.Fatalf("Run() error = %v, want ErrSetupFailed", err)
	}
	if result != domain.ResultFailure {
		t.Errorf("result = %v, want FAILURE", result)
	}
	if len(ran) != 1 || ran[0] != "first" {
		t.Errorf("ran = %v, want [first] (failure skips the rest)", ran)
	}
	if executor.calls != 0 {
		t.Error("executor should not run after a setup failure")
	}
}

// fakeArchive записывает восстановленные окружения.
type fakeArchive struct {
	restored []string
}

func (f *fakeArchive) Restore(_ context.Context, _ string, _ int, environment string, _, _ []string, _ string) error {
	f.restored = append(f.restored, environment)
	return nil
}

func TestRestoreArtifactsFiltersEnvironments(t *testing.T) {
	archive := &fakeArchive{}
	step := NewRestoreArtifacts(archive, nil, nil, []string{"linux"})

	target := successfulTarget()
	target.Environments = []domain.EnvironmentSet{
		domain.NewEnvironmentSet("linux", "go1.24"),
		domain.NewEnvironmentSet("windows"),
	}

	sc := &SetupContext{Target: target, Workspace: t.TempDir()}
	if err := step.Run(context.Background(), sc); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(archive.restored) != 1 || archive.restored[0] != "go1.24,linux" {
		t.Errorf("restored = %v, want the linux environment only", archive.restored)
	}
}

func TestRestoreArtifactsAllEnvironmentsByDefault(t *testing.T) {
	archive := &fakeArchive{}
	step := NewRestoreArtifacts(archive, nil, nil, nil)

	target := successfulTarget()
	target.Environments = []domain.EnvironmentSet{
		domain.NewEnvironmentSet("linux"),
		domain.NewEnvironmentSet("windows"),
	}

	sc := &SetupContext{Target: target, Workspace: t.TempDir()}
	if err := step.Run(context.Background(), sc); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(archive.restored) != 2 {
		t.Errorf("restored = %v, want both environments", archive.restored)
	}
}
