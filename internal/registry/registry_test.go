package registry

import (
	"context"
	"testing"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
)

// fakeStore — in-memory Store для тестов.
type fakeStore struct {
	entries map[string]map[string]repo.RegistryEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]map[string]repo.RegistryEntry)}
}

func (s *fakeStore) Upsert(_ context.Context, job string, env domain.EnvironmentSet, seenAt time.Time) error {
	if s.entries[job] == nil {
		s.entries[job] = make(map[string]repo.RegistryEntry)
	}
	s.entries[job][env.Name()] = repo.RegistryEntry{Job: job, Environment: env, Active: true, SeenAt: seenAt}
	return nil
}

func (s *fakeStore) MarkInactive(_ context.Context, job string, env domain.EnvironmentSet) error {
	entry := s.entries[job][env.Name()]
	entry.Active = false
	s.entries[job][env.Name()] = entry
	return nil
}

func (s *fakeStore) List(_ context.Context) ([]repo.RegistryEntry, error) {
	var out []repo.RegistryEntry
	for _, byName := range s.entries {
		for _, e := range byName {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) count() int {
	n := 0
	for _, byName := range s.entries {
		n += len(byName)
	}
	return n
}

func envs(names ...string) []domain.EnvironmentSet {
	out := make([]domain.EnvironmentSet, len(names))
	for i, name := range names {
		env, err := domain.ParseEnvironmentSet(name)
		if err != nil {
			panic(err)
		}
		out[i] = env
	}
	return out
}

func TestReconcileAddsNewEnvironments(t *testing.T) {
	reg := New(Config{Store: newFakeStore()})

	if err := reg.Reconcile(context.Background(), "lib/main", envs("linux", "osx", "windows")); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	snapshot := reg.Snapshot()
	if len(snapshot) != 3 {
		t.Fatalf("Snapshot() returned %d entries, want 3", len(snapshot))
	}
	for _, entry := range snapshot {
		if !entry.Active {
			t.Errorf("entry %s inactive after reconcile", entry.Environment.Name())
		}
		if entry.Job != "lib/main" {
			t.Errorf("entry %s has job %q, want lib/main", entry.Environment.Name(), entry.Job)
		}
	}
}

func TestReconcileDeactivatesMissing(t *testing.T) {
	reg := New(Config{Store: newFakeStore()})
	ctx := context.Background()

	if err := reg.Reconcile(ctx, "lib/main", envs("linux", "windows")); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	// windows пропадает из описания проекта
	if err := reg.Reconcile(ctx, "lib/main", envs("linux")); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	snapshot := reg.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("Snapshot() returned %d entries, want 2 (nothing is deleted)", len(snapshot))
	}

	byName := make(map[string]Entry)
	for _, e := range snapshot {
		byName[e.Environment.Name()] = e
	}
	if !byName["linux"].Active {
		t.Error("linux should stay active")
	}
	if byName["windows"].Active {
		t.Error("windows should become inactive")
	}
}

func TestReconcileScopedToJob(t *testing.T) {
	reg := New(Config{Store: newFakeStore()})
	ctx := context.Background()

	if err := reg.Reconcile(ctx, "lib/main", envs("linux", "osx")); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	// Ветка feature собирается только под windows; окружения lib/main
	// она трогать не должна.
	if err := reg.Reconcile(ctx, "lib/feature", envs("windows")); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if got := len(reg.Active("lib/main")); got != 2 {
		t.Errorf("Active(lib/main) has %d environments after foreign reconcile, want 2", got)
	}
	if !reg.Contains("lib/main", domain.NewEnvironmentSet("linux")) {
		t.Error("lib/main lost linux after reconciling lib/feature")
	}
	if got := len(reg.Active("lib/feature")); got != 1 {
		t.Errorf("Active(lib/feature) has %d environments, want 1", got)
	}
}

func TestReconcileReactivates(t *testing.T) {
	reg := New(Config{Store: newFakeStore()})
	ctx := context.Background()

	if err := reg.Reconcile(ctx, "lib/main", envs("linux", "windows")); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if err := reg.Reconcile(ctx, "lib/main", envs("linux")); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	// windows возвращается
	if err := reg.Reconcile(ctx, "lib/main", envs("linux", "windows")); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	active := reg.Active("lib/main")
	if len(active) != 2 {
		t.Fatalf("Active() returned %d environments, want 2", len(active))
	}
}

func TestReconcileIdempotent(t *testing.T) {
	store := newFakeStore()
	reg := New(Config{Store: store})
	ctx := context.Background()

	list := envs("linux,osx", "windows")
	for i := 0; i < 3; i++ {
		if err := reg.Reconcile(ctx, "lib/main", list); err != nil {
			t.Fatalf("Reconcile() #%d error = %v", i, err)
		}
	}

	if store.count() != 2 {
		t.Errorf("store has %d entries, want 2 (no duplicates)", store.count())
	}
	if len(reg.Snapshot()) != 2 {
		t.Errorf("Snapshot() has %d entries, want 2", len(reg.Snapshot()))
	}
}

func TestLoadRestoresSnapshot(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	first := New(Config{Store: store})
	if err := first.Reconcile(ctx, "lib/main", envs("linux", "windows")); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if err := first.Reconcile(ctx, "lib/main", envs("linux")); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	// Новый экземпляр поднимает состояние из хранилища
	second := New(Config{Store: store})
	if err := second.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(second.Snapshot()) != 2 {
		t.Fatalf("Snapshot() after Load has %d entries, want 2", len(second.Snapshot()))
	}
	active := second.Active("lib/main")
	if len(active) != 1 || active[0].Name() != "linux" {
		t.Errorf("Active() after Load = %v, want [linux]", active)
	}
}

func TestSnapshotSorted(t *testing.T) {
	reg := New(Config{Store: newFakeStore()})
	ctx := context.Background()

	if err := reg.Reconcile(ctx, "lib/main", envs("windows", "linux", "osx")); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if err := reg.Reconcile(ctx, "app/main", envs("solaris")); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	snapshot := reg.Snapshot()
	for i := 1; i < len(snapshot); i++ {
		prev, cur := snapshot[i-1], snapshot[i]
		if prev.Job > cur.Job {
			t.Errorf("Snapshot() not sorted by job: %s before %s", prev.Job, cur.Job)
		}
		if prev.Job == cur.Job && prev.Environment.Compare(cur.Environment) >= 0 {
			t.Errorf("Snapshot() not sorted: %s before %s",
				prev.Environment.Name(), cur.Environment.Name())
		}
	}
}

func TestContains(t *testing.T) {
	reg := New(Config{Store: newFakeStore()})

	if err := reg.Reconcile(context.Background(), "lib/main", envs("linux")); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if !reg.Contains("lib/main", domain.NewEnvironmentSet("linux")) {
		t.Error("Contains(linux) = false, want true")
	}
	if reg.Contains("lib/main", domain.NewEnvironmentSet("solaris")) {
		t.Error("Contains(solaris) = true, want false")
	}
	if reg.Contains("lib/feature", domain.NewEnvironmentSet("linux")) {
		t.Error("Contains(lib/feature, linux) = true, want false")
	}
}
