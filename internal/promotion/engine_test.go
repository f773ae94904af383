package promotion

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
)

// --- Fakes ---

// memStore — in-memory StateStore для тестов.
type memStore struct {
	mu        sync.Mutex
	states    map[string]*domain.PromotionState
	builds    []domain.PromotionBuild
	approvals map[string][]domain.ManualApproval
}

func newMemStore() *memStore {
	return &memStore{
		states:    make(map[string]*domain.PromotionState),
		approvals: make(map[string][]domain.ManualApproval),
	}
}

func buildKey(job string, number int) string {
	return fmt.Sprintf("%s#%d", job, number)
}

func (s *memStore) key(job string, number int, process string) string {
	return fmt.Sprintf("%s#%d#%s", job, number, domain.ProcessKey(process))
}

func (s *memStore) CreateState(_ context.Context, state *domain.PromotionState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.key(state.Job, state.Number, state.Process)
	if _, exists := s.states[key]; exists {
		return false, nil
	}
	copied := *state
	s.states[key] = &copied
	return true, nil
}

func (s *memStore) GetState(_ context.Context, job string, number int, process string) (*domain.PromotionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, exists := s.states[s.key(job, number, process)]
	if !exists {
		return nil, repo.ErrNotFound
	}
	copied := *state
	return &copied, nil
}

func (s *memStore) ListStates(_ context.Context, job string, number int) ([]*domain.PromotionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.PromotionState
	for _, state := range s.states {
		if state.Job == job && state.Number == number {
			copied := *state
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memStore) AddAttempt(_ context.Context, job string, number int, process string, attempt int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, exists := s.states[s.key(job, number, process)]
	if !exists {
		return repo.ErrNotFound
	}
	state.AddAttempt(attempt)
	return nil
}

func (s *memStore) MarkSuccessful(_ context.Context, job string, number int, process string, attempt int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, exists := s.states[s.key(job, number, process)]
	if !exists {
		return false, repo.ErrNotFound
	}
	return state.MarkSuccessful(attempt), nil
}

func (s *memStore) NextAttempt(_ context.Context, job, process string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	max := 0
	for _, build := range s.builds {
		if build.Job == job && domain.ProcessNameEquals(build.Process, process) && build.Attempt > max {
			max = build.Attempt
		}
	}
	return max + 1, nil
}

func (s *memStore) CreateBuild(_ context.Context, build *domain.PromotionBuild) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builds = append(s.builds, *build)
	return nil
}

func (s *memStore) ListBuilds(_ context.Context, job string, number int) ([]domain.PromotionBuild, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.PromotionBuild
	for _, build := range s.builds {
		if build.Job == job && build.Number == number {
			out = append(out, build)
		}
	}
	return out, nil
}

func (s *memStore) CreateApproval(_ context.Context, job string, number int, approval *domain.ManualApproval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := buildKey(job, number)
	s.approvals[key] = append(s.approvals[key], *approval)
	return nil
}

func (s *memStore) ListApprovals(_ context.Context, job string, number int) ([]domain.ManualApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ManualApproval(nil), s.approvals[buildKey(job, number)]...), nil
}

func (s *memStore) state(t *testing.T, job string, number int, process string) *domain.PromotionState {
	t.Helper()
	state, err := s.GetState(context.Background(), job, number, process)
	if err != nil {
		t.Fatalf("state %s not found", process)
	}
	return state
}

// fakeDispatcher записывает переданные promotion builds.
type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []domain.PromotionBuild
	fail       bool
}

func (d *fakeDispatcher) Dispatch(_ context.Context, build *domain.PromotionBuild) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fail {
		return fmt.Errorf("mq unavailable")
	}
	d.dispatched = append(d.dispatched, *build)
	return nil
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dispatched)
}

// fakeTargets — in-memory TargetStore.
type fakeTargets struct {
	builds map[string]*domain.BranchBuild
}

func (f *fakeTargets) GetByNumber(_ context.Context, job string, number int) (*domain.BranchBuild, error) {
	build, exists := f.builds[buildKey(job, number)]
	if !exists {
		return nil, repo.ErrNotFound
	}
	return build, nil
}

// --- Helpers ---

func successfulTarget() *domain.BranchBuild {
	now := time.Now()
	return &domain.BranchBuild{
		ID:         uuid.New(),
		Job:        "widget/main",
		Number:     42,
		Status:     domain.StatusCompleted,
		Result:     domain.ResultSuccess,
		FinishedAt: &now,
		CreatedAt:  now,
	}
}

func selfPromotionProcess(name string) domain.PromotionProcess {
	return domain.PromotionProcess{
		Name: name,
		Conditions: []domain.ConditionSpec{
			{Type: ConditionSelfPromotion},
		},
	}
}

func newTestEngine(processes []domain.PromotionProcess, target *domain.BranchBuild) (*Engine, *memStore, *fakeDispatcher) {
	store := newMemStore()
	dispatcher := &fakeDispatcher{}
	targets := &fakeTargets{builds: map[string]*domain.BranchBuild{}}
	if target != nil {
		targets.builds[buildKey(target.Job, target.Number)] = target
	}

	engine := NewEngine(EngineConfig{
		Store:      store,
		Targets:    targets,
		Catalog:    NewCatalog(processes),
		Dispatcher: dispatcher,
	})
	return engine, store, dispatcher
}

// --- Tests ---

func TestConsiderQualifies(t *testing.T) {
	target := successfulTarget()
	engine, store, dispatcher := newTestEngine([]domain.PromotionProcess{selfPromotionProcess("deploy")}, target)

	if err := engine.Consider(context.Background(), target, "deploy"); err != nil {
		t.Fatalf("Consider() error = %v", err)
	}

	state := store.state(t, target.Job, target.Number, "deploy")
	if len(state.Badges) != 1 || state.Badges[0].Condition != ConditionSelfPromotion {
		t.Errorf("Badges = %v, want single self-promotion badge", state.Badges)
	}
	if len(state.Attempts) != 1 || state.Attempts[0] != 1 {
		t.Errorf("Attempts = %v, want [1]", state.Attempts)
	}
	if state.IsPromoted() {
		t.Error("state should not be promoted before completion")
	}
	if dispatcher.count() != 1 {
		t.Errorf("dispatched %d builds, want 1", dispatcher.count())
	}
}

func TestConsiderNoConditionsQualifies(t *testing.T) {
	// Пустая конъюнкция истинна: процесс без условий запускается
	// сразу, badge'й при этом нет.
	target := successfulTarget()
	process := domain.PromotionProcess{Name: "deploy"}
	engine, store, dispatcher := newTestEngine([]domain.PromotionProcess{process}, target)

	if err := engine.Consider(context.Background(), target, "deploy"); err != nil {
		t.Fatalf("Consider() error = %v", err)
	}

	state := store.state(t, target.Job, target.Number, "deploy")
	if len(state.Badges) != 0 {
		t.Errorf("Badges = %v, want none", state.Badges)
	}
	if len(state.Attempts) != 1 {
		t.Errorf("Attempts = %v, want one attempt", state.Attempts)
	}
	if dispatcher.count() != 1 {
		t.Errorf("dispatched %d builds, want 1", dispatcher.count())
	}
}

func TestConsiderCaseInsensitiveProcessName(t *testing.T) {
	target := successfulTarget()
	engine, store, _ := newTestEngine([]domain.PromotionProcess{selfPromotionProcess("Deploy")}, target)

	if err := engine.Consider(context.Background(), target, "dePLOY"); err != nil {
		t.Fatalf("Consider() error = %v", err)
	}

	// Состояние хранится под именем из каталога
	state := store.state(t, target.Job, target.Number, "Deploy")
	if state.Process != "Deploy" {
		t.Errorf("Process = %q, want catalog spelling %q", state.Process, "Deploy")
	}
}

func TestConsiderAllConditionsMustHold(t *testing.T) {
	process := domain.PromotionProcess{
		Name: "release",
		Conditions: []domain.ConditionSpec{
			{Type: ConditionSelfPromotion},
			{Type: ConditionManualApproval, Params: map[string]any{"users": []any{"alice"}}},
		},
	}
	target := successfulTarget()
	engine, store, dispatcher := newTestEngine([]domain.PromotionProcess{process}, target)
	ctx := context.Background()

	// self-promotion выполнено, manual-approval нет — не квалифицируется
	if err := engine.Consider(ctx, target, "release"); err != nil {
		t.Fatalf("Consider() error = %v", err)
	}
	if _, err := store.GetState(ctx, target.Job, target.Number, "release"); err == nil {
		t.Fatal("state should not exist until every condition holds")
	}
	if dispatcher.count() != 0 {
		t.Fatalf("dispatched %d builds, want 0", dispatcher.count())
	}

	// После одобрения выполняются оба условия
	if err := engine.Approve(ctx, target, "release", "alice", map[string]string{"VERSION": "1.2.3"}); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	state := store.state(t, target.Job, target.Number, "release")
	if len(state.Badges) != 2 {
		t.Fatalf("Badges = %d, want 2 (each condition contributes)", len(state.Badges))
	}
	if dispatcher.count() != 1 {
		t.Errorf("dispatched %d builds, want 1", dispatcher.count())
	}
	if got := dispatcher.dispatched[0].Parameters["VERSION"]; got != "1.2.3" {
		t.Errorf("dispatched VERSION = %q, want 1.2.3", got)
	}
}

func TestConsiderEvaluatesEveryCondition(t *testing.T) {
	registry := DefaultConditionRegistry()

	var evaluated []string
	registry.Register("never", func(map[string]any) (Condition, error) {
		return &recordingCondition{name: "never", evaluated: &evaluated, badge: false}, nil
	})
	registry.Register("always", func(map[string]any) (Condition, error) {
		return &recordingCondition{name: "always", evaluated: &evaluated, badge: true}, nil
	})

	process := domain.PromotionProcess{
		Name: "deploy",
		Conditions: []domain.ConditionSpec{
			{Type: "never"},
			{Type: "always"},
		},
	}

	target := successfulTarget()
	store := newMemStore()
	engine := NewEngine(EngineConfig{
		Store:      store,
		Targets:    &fakeTargets{builds: map[string]*domain.BranchBuild{}},
		Catalog:    NewCatalog([]domain.PromotionProcess{process}),
		Conditions: registry,
		Dispatcher: &fakeDispatcher{},
	})

	if err := engine.Consider(context.Background(), target, "deploy"); err != nil {
		t.Fatalf("Consider() error = %v", err)
	}

	// Нет short-circuit: второе условие вычислено после воздержания первого
	if len(evaluated) != 2 || evaluated[0] != "never" || evaluated[1] != "always" {
		t.Errorf("evaluated = %v, want [never always]", evaluated)
	}
	if _, err := store.GetState(context.Background(), target.Job, target.Number, "deploy"); err == nil {
		t.Error("state should not be created")
	}
}

type recordingCondition struct {
	name      string
	evaluated *[]string
	badge     bool
}

func (c *recordingCondition) Type() string { return c.name }

func (c *recordingCondition) Evaluate(context.Context, *Target) (*domain.Badge, error) {
	*c.evaluated = append(*c.evaluated, c.name)
	if !c.badge {
		return nil, nil
	}
	return &domain.Badge{Condition: c.name}, nil
}

func TestConsiderIdempotent(t *testing.T) {
	target := successfulTarget()
	engine, store, dispatcher := newTestEngine([]domain.PromotionProcess{selfPromotionProcess("deploy")}, target)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := engine.Consider(ctx, target, "deploy"); err != nil {
			t.Fatalf("Consider() #%d error = %v", i, err)
		}
	}

	state := store.state(t, target.Job, target.Number, "deploy")
	if len(state.Attempts) != 1 {
		t.Errorf("Attempts = %v, want exactly one", state.Attempts)
	}
	if dispatcher.count() != 1 {
		t.Errorf("dispatched %d builds, want 1", dispatcher.count())
	}
}

func TestConsiderConcurrentAtMostOnce(t *testing.T) {
	target := successfulTarget()
	engine, store, dispatcher := newTestEngine([]domain.PromotionProcess{selfPromotionProcess("deploy")}, target)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = engine.Consider(context.Background(), target, "deploy")
		}()
	}
	wg.Wait()

	state := store.state(t, target.Job, target.Number, "deploy")
	if len(state.Attempts) != 1 {
		t.Errorf("Attempts = %v, want exactly one under concurrency", state.Attempts)
	}
	if dispatcher.count() != 1 {
		t.Errorf("dispatched %d builds, want 1", dispatcher.count())
	}
}

func TestConsiderUnsuccessfulTargetAbstains(t *testing.T) {
	target := successfulTarget()
	target.Result = domain.ResultFailure

	engine, store, _ := newTestEngine([]domain.PromotionProcess{selfPromotionProcess("deploy")}, target)

	if err := engine.Consider(context.Background(), target, "deploy"); err != nil {
		t.Fatalf("Consider() error = %v", err)
	}
	if _, err := store.GetState(context.Background(), target.Job, target.Number, "deploy"); err == nil {
		t.Error("failed target should not qualify self-promotion")
	}
}

func TestConsiderUnknownProcess(t *testing.T) {
	target := successfulTarget()
	engine, _, _ := newTestEngine([]domain.PromotionProcess{selfPromotionProcess("deploy")}, target)

	err := engine.Consider(context.Background(), target, "ship")
	if err == nil {
		t.Fatal("Consider() with unknown process should fail")
	}
}

func TestCascadeQualifiesDownstream(t *testing.T) {
	processes := []domain.PromotionProcess{
		selfPromotionProcess("stage"),
		{
			Name: "production",
			Conditions: []domain.ConditionSpec{
				{Type: ConditionUpstreamPromotion, Params: map[string]any{"process": "stage"}},
			},
		},
	}
	target := successfulTarget()
	engine, store, dispatcher := newTestEngine(processes, target)
	ctx := context.Background()

	// Завершение цели квалифицирует stage, production ждёт upstream
	engine.ConsiderAll(ctx, target)

	if _, err := store.GetState(ctx, target.Job, target.Number, "production"); err == nil {
		t.Fatal("production should wait for stage promotion")
	}
	if dispatcher.count() != 1 {
		t.Fatalf("dispatched %d builds, want 1 (stage only)", dispatcher.count())
	}

	// stage выполнился успешно — каскад квалифицирует production
	stageAttempt := store.state(t, target.Job, target.Number, "stage").Attempts[0]
	if err := engine.OnPromotionCompleted(ctx, target.Job, target.Number, "stage", stageAttempt, domain.ResultSuccess); err != nil {
		t.Fatalf("OnPromotionCompleted() error = %v", err)
	}

	if !store.state(t, target.Job, target.Number, "stage").IsPromoted() {
		t.Error("stage should be promoted")
	}
	prodState := store.state(t, target.Job, target.Number, "production")
	if len(prodState.Attempts) != 1 {
		t.Errorf("production Attempts = %v, want one", prodState.Attempts)
	}

	// Повторный каскад ничего не дублирует
	if err := engine.OnPromotionCompleted(ctx, target.Job, target.Number, "stage", stageAttempt, domain.ResultSuccess); err != nil {
		t.Fatalf("OnPromotionCompleted() repeat error = %v", err)
	}
	if got := len(store.state(t, target.Job, target.Number, "production").Attempts); got != 1 {
		t.Errorf("production Attempts after repeat cascade = %d, want 1", got)
	}
}

func TestFirstSuccessfulAttemptWins(t *testing.T) {
	target := successfulTarget()
	engine, store, _ := newTestEngine([]domain.PromotionProcess{selfPromotionProcess("deploy")}, target)
	ctx := context.Background()

	if err := engine.Consider(ctx, target, "deploy"); err != nil {
		t.Fatalf("Consider() error = %v", err)
	}

	// Принудительный повтор добавляет вторую попытку
	if err := engine.ForcePromote(ctx, target, "deploy", "admin"); err != nil {
		t.Fatalf("ForcePromote() error = %v", err)
	}

	state := store.state(t, target.Job, target.Number, "deploy")
	if len(state.Attempts) != 2 {
		t.Fatalf("Attempts = %v, want two", state.Attempts)
	}
	first, second := state.Attempts[0], state.Attempts[1]

	// Вторая попытка завершается первой
	if err := engine.OnPromotionCompleted(ctx, target.Job, target.Number, "deploy", second, domain.ResultSuccess); err != nil {
		t.Fatalf("OnPromotionCompleted() error = %v", err)
	}
	// Первая приходит позже, но успех уже записан
	if err := engine.OnPromotionCompleted(ctx, target.Job, target.Number, "deploy", first, domain.ResultSuccess); err != nil {
		t.Fatalf("OnPromotionCompleted() error = %v", err)
	}

	state = store.state(t, target.Job, target.Number, "deploy")
	if state.SuccessfulAttempt != second {
		t.Errorf("SuccessfulAttempt = %d, want first recorded %d", state.SuccessfulAttempt, second)
	}
}

func TestFailedAttemptDoesNotPromote(t *testing.T) {
	target := successfulTarget()
	engine, store, _ := newTestEngine([]domain.PromotionProcess{selfPromotionProcess("deploy")}, target)
	ctx := context.Background()

	if err := engine.Consider(ctx, target, "deploy"); err != nil {
		t.Fatalf("Consider() error = %v", err)
	}
	attempt := store.state(t, target.Job, target.Number, "deploy").Attempts[0]

	if err := engine.OnPromotionCompleted(ctx, target.Job, target.Number, "deploy", attempt, domain.ResultFailure); err != nil {
		t.Fatalf("OnPromotionCompleted() error = %v", err)
	}

	state := store.state(t, target.Job, target.Number, "deploy")
	if state.IsPromoted() {
		t.Error("failed attempt must not promote")
	}
	// Состояние остаётся: "предпринималось и упало", не "не предпринималось"
	if len(state.Attempts) != 1 {
		t.Errorf("Attempts = %v, want the failed attempt kept", state.Attempts)
	}
}

func TestApproveRecordsEvenWithoutQualification(t *testing.T) {
	process := domain.PromotionProcess{
		Name: "release",
		Conditions: []domain.ConditionSpec{
			{Type: ConditionManualApproval},
			{Type: ConditionSelfPromotion},
		},
	}
	target := successfulTarget()
	target.Result = domain.ResultFailure // self-promotion не выполнится

	engine, store, _ := newTestEngine([]domain.PromotionProcess{process}, target)
	ctx := context.Background()

	if err := engine.Approve(ctx, target, "release", "bob", nil); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	// Квалификации нет, но одобрение записано
	if _, err := store.GetState(ctx, target.Job, target.Number, "release"); err == nil {
		t.Error("state should not exist")
	}
	approvals, _ := store.ListApprovals(ctx, target.Job, target.Number)
	if len(approvals) != 1 || approvals[0].User != "bob" {
		t.Errorf("approvals = %v, want one by bob", approvals)
	}
}

func TestApproveRejectsOutsideAllowList(t *testing.T) {
	process := domain.PromotionProcess{
		Name: "release",
		Conditions: []domain.ConditionSpec{
			{Type: ConditionManualApproval, Params: map[string]any{"users": []any{"alice"}}},
		},
	}
	target := successfulTarget()
	engine, _, _ := newTestEngine([]domain.PromotionProcess{process}, target)

	err := engine.Approve(context.Background(), target, "release", "mallory", nil)
	if err == nil {
		t.Fatal("Approve() by unlisted user should fail")
	}
}

func TestApproveRejectsDuplicate(t *testing.T) {
	process := domain.PromotionProcess{
		Name: "release",
		Conditions: []domain.ConditionSpec{
			{Type: ConditionManualApproval},
			{Type: ConditionSelfPromotion},
		},
	}
	target := successfulTarget()
	target.Result = domain.ResultFailure

	engine, _, _ := newTestEngine([]domain.PromotionProcess{process}, target)
	ctx := context.Background()

	if err := engine.Approve(ctx, target, "release", "bob", nil); err != nil {
		t.Fatalf("first Approve() error = %v", err)
	}
	if err := engine.Approve(ctx, target, "release", "bob", nil); err == nil {
		t.Fatal("second Approve() by same user should fail")
	}
}

func TestForcePromoteBypassesConditions(t *testing.T) {
	process := domain.PromotionProcess{
		Name: "release",
		Conditions: []domain.ConditionSpec{
			{Type: ConditionManualApproval, Params: map[string]any{"users": []any{"alice"}}},
		},
	}
	target := successfulTarget()
	engine, store, dispatcher := newTestEngine([]domain.PromotionProcess{process}, target)

	if err := engine.ForcePromote(context.Background(), target, "release", "admin"); err != nil {
		t.Fatalf("ForcePromote() error = %v", err)
	}

	state := store.state(t, target.Job, target.Number, "release")
	if len(state.Badges) != 1 || state.Badges[0].Condition != ConditionForced {
		t.Errorf("Badges = %v, want single forced badge", state.Badges)
	}
	if state.Badges[0].User != "admin" {
		t.Errorf("forced badge user = %q, want admin", state.Badges[0].User)
	}
	if dispatcher.count() != 1 {
		t.Errorf("dispatched %d builds, want 1", dispatcher.count())
	}
}

func TestSchedulingFailureKeepsQualification(t *testing.T) {
	target := successfulTarget()
	engine, store, dispatcher := newTestEngine([]domain.PromotionProcess{selfPromotionProcess("deploy")}, target)
	dispatcher.fail = true

	if err := engine.Consider(context.Background(), target, "deploy"); err != nil {
		t.Fatalf("Consider() error = %v (scheduling failure is a warning)", err)
	}

	// Квалификация и попытка записаны несмотря на недоступность очереди
	state := store.state(t, target.Job, target.Number, "deploy")
	if len(state.Attempts) != 1 {
		t.Errorf("Attempts = %v, want one", state.Attempts)
	}
}

func TestStatusView(t *testing.T) {
	processes := []domain.PromotionProcess{
		selfPromotionProcess("stage"),
		selfPromotionProcess("production"),
		{
			Name: "archive",
			Conditions: []domain.ConditionSpec{
				{Type: ConditionUpstreamPromotion, Params: map[string]any{"process": "production"}},
			},
		},
	}
	target := successfulTarget()
	engine, store, _ := newTestEngine(processes, target)
	ctx := context.Background()

	engine.ConsiderAll(ctx, target)

	// stage упал, production ещё выполняется
	stageAttempt := store.state(t, target.Job, target.Number, "stage").Attempts[0]
	if err := engine.OnPromotionCompleted(ctx, target.Job, target.Number, "stage", stageAttempt, domain.ResultFailure); err != nil {
		t.Fatalf("OnPromotionCompleted() error = %v", err)
	}
	now := time.Now()
	for i := range store.builds {
		if domain.ProcessNameEquals(store.builds[i].Process, "stage") {
			store.builds[i].Status = domain.StatusCompleted
			store.builds[i].Result = domain.ResultFailure
			store.builds[i].FinishedAt = &now
		}
	}

	view, err := engine.Status(ctx, target.Job, target.Number)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	if len(view.Qualified) != 2 {
		t.Fatalf("Qualified = %d, want 2 (stage, production)", len(view.Qualified))
	}
	// Порядок каталога
	if view.Qualified[0].Process.Name != "stage" || view.Qualified[1].Process.Name != "production" {
		t.Errorf("Qualified order = [%s %s], want [stage production]",
			view.Qualified[0].Process.Name, view.Qualified[1].Process.Name)
	}
	if view.Qualified[0].Last == nil || view.Qualified[0].Last.Attempt != stageAttempt {
		t.Error("stage Last should point at the latest recorded attempt")
	}
	if view.Qualified[0].LastFailed == nil {
		t.Error("stage should have a last failed attempt")
	}
	if view.Qualified[0].LastSuccessful != nil {
		t.Error("stage should have no successful attempt")
	}

	// archive не предпринимался — pending, а не failed
	if len(view.Pending) != 1 || view.Pending[0].Name != "archive" {
		t.Errorf("Pending = %v, want [archive]", view.Pending)
	}
}
