package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}
}

// --- ShellExecutor Tests ---

func TestShellExecutor_Success(t *testing.T) {
	skipWithoutShell(t)

	executor := &ShellExecutor{}
	result, err := executor.Execute(context.Background(), "true", t.TempDir(), os.Environ())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != domain.ResultSuccess {
		t.Errorf("result = %v, want SUCCESS", result)
	}
}

func TestShellExecutor_Failure(t *testing.T) {
	skipWithoutShell(t)

	executor := &ShellExecutor{}
	result, err := executor.Execute(context.Background(), "echo broken >&2; exit 3", t.TempDir(), os.Environ())
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if result != domain.ResultFailure {
		t.Errorf("result = %v, want FAILURE", result)
	}
	// Хвост вывода попадает в текст ошибки
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error %q should contain command output", err)
	}
	if !strings.Contains(err.Error(), "exit status 3") {
		t.Errorf("error %q should contain exit status", err)
	}
}

func TestShellExecutor_UnstableExitCode(t *testing.T) {
	skipWithoutShell(t)

	executor := &ShellExecutor{UnstableExitCode: 2}
	result, err := executor.Execute(context.Background(), "exit 2", t.TempDir(), os.Environ())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != domain.ResultUnstable {
		t.Errorf("result = %v, want UNSTABLE", result)
	}
}

func TestShellExecutor_WorkingDirectory(t *testing.T) {
	skipWithoutShell(t)

	dir := t.TempDir()
	executor := &ShellExecutor{}
	result, err := executor.Execute(context.Background(), "pwd > where.txt", dir, os.Environ())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != domain.ResultSuccess {
		t.Fatalf("result = %v, want SUCCESS", result)
	}

	out, err := os.ReadFile(filepath.Join(dir, "where.txt"))
	if err != nil {
		t.Fatalf("command should write into the working directory: %v", err)
	}
	got, err := filepath.EvalSymlinks(strings.TrimSpace(string(out)))
	if err != nil {
		t.Fatal(err)
	}
	want, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("pwd = %q, want %q", got, want)
	}
}

func TestShellExecutor_Environment(t *testing.T) {
	skipWithoutShell(t)

	dir := t.TempDir()
	executor := &ShellExecutor{}
	env := append(os.Environ(), "BUILD_NUMBER=42")

	result, err := executor.Execute(context.Background(), `echo "$BUILD_NUMBER" > num.txt`, dir, env)
	if err != nil || result != domain.ResultSuccess {
		t.Fatalf("Execute() = %v, %v", result, err)
	}

	out, _ := os.ReadFile(filepath.Join(dir, "num.txt"))
	if strings.TrimSpace(string(out)) != "42" {
		t.Errorf("BUILD_NUMBER = %q, want 42", strings.TrimSpace(string(out)))
	}
}

func TestShellExecutor_ContextCancelled(t *testing.T) {
	skipWithoutShell(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	executor := &ShellExecutor{}
	result, err := executor.Execute(ctx, "sleep 30", t.TempDir(), os.Environ())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want context.DeadlineExceeded", err)
	}
	if result != domain.ResultAborted {
		t.Errorf("result = %v, want ABORTED", result)
	}
}

// --- buildEnv Tests ---

func TestBuildEnvVariables(t *testing.T) {
	w := New(Config{WorkspaceBase: t.TempDir()})

	build := &domain.EnvironmentBuild{
		Job:         "widget/main",
		Number:      7,
		Environment: domain.NewEnvironmentSet("linux", "go1.24"),
	}

	env := w.buildEnv(build)

	checks := map[string]string{
		"JOB_NAME":      "main",
		"JOB_FULL_NAME": "widget/main",
		"BUILD_NUMBER":  "7",
		"ENVIRONMENT":   "go1.24,linux",
		"LABEL_LINUX":   "true",
		"LABEL_GO1_24":  "true",
	}
	for key, want := range checks {
		got, ok := lookupEnv(env, key)
		if !ok {
			t.Errorf("env %s missing", key)
			continue
		}
		if got != want {
			t.Errorf("env %s = %q, want %q", key, got, want)
		}
	}
}

func lookupEnv(env []string, key string) (string, bool) {
	prefix := key + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			return strings.TrimPrefix(kv, prefix), true
		}
	}
	return "", false
}

func TestSanitizeEnvKey(t *testing.T) {
	cases := map[string]string{
		"linux":     "LINUX",
		"go1.24":    "GO1_24",
		"x86-64":    "X86_64",
		"Windows":   "WINDOWS",
		"feature/x": "FEATURE_X",
	}
	for in, want := range cases {
		if got := sanitizeEnvKey(in); got != want {
			t.Errorf("sanitizeEnvKey(%q) = %q, want %q", in, got, want)
		}
	}
}
