package model

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shaiso/Conveyor/internal/domain"
)

func writeMarker(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, DefaultMarkerFile), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestYAMLSource_Resolve(t *testing.T) {
	dir := writeMarker(t, `
environments:
  - linux
  - windows
  - osx
builds:
  linux: echo linux
  windows: echo windows
  osx: echo osx
tasks:
  deploy: ./deploy.sh
`)

	src := &YAMLSource{}
	m, err := src.Resolve(context.Background(), dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	envs := m.Environments()
	if len(envs) != 3 {
		t.Fatalf("expected 3 environments, got %d", len(envs))
	}

	cmd, ok := m.BuildCommand(domain.NewEnvironmentSet("windows"))
	if !ok || cmd != "echo windows" {
		t.Errorf("BuildCommand(windows) = %q, %v", cmd, ok)
	}

	// task lookup is case-insensitive
	cmd, ok = m.TaskCommand("Deploy")
	if !ok || cmd != "./deploy.sh" {
		t.Errorf("TaskCommand(Deploy) = %q, %v", cmd, ok)
	}

	if _, ok := m.TaskCommand("release"); ok {
		t.Error("undeclared task should not resolve")
	}
}

func TestYAMLSource_Resolve_DefaultEnvironment(t *testing.T) {
	dir := writeMarker(t, "build: make\n")

	src := &YAMLSource{}
	m, err := src.Resolve(context.Background(), dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	envs := m.Environments()
	if len(envs) != 1 || !envs[0].IsDefault() {
		t.Fatalf("expected single default environment, got %v", envs)
	}

	cmd, ok := m.BuildCommand(envs[0])
	if !ok || cmd != "make" {
		t.Errorf("BuildCommand(default) = %q, %v", cmd, ok)
	}
}

func TestYAMLSource_Resolve_MissingBuildCommand(t *testing.T) {
	dir := writeMarker(t, `
environments:
  - linux
  - windows
builds:
  linux: make
`)

	src := &YAMLSource{}
	m, err := src.Resolve(context.Background(), dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := m.BuildCommand(domain.NewEnvironmentSet("windows")); ok {
		t.Error("windows has no build command and no default")
	}
}

func TestYAMLSource_Resolve_MissingMarker(t *testing.T) {
	src := &YAMLSource{}
	_, err := src.Resolve(context.Background(), t.TempDir())
	if !errors.Is(err, ErrModelBuild) {
		t.Errorf("expected ErrModelBuild, got %v", err)
	}
}

func TestYAMLSource_Resolve_Unparseable(t *testing.T) {
	dir := writeMarker(t, "environments: [unterminated\n")

	src := &YAMLSource{}
	_, err := src.Resolve(context.Background(), dir)
	if !errors.Is(err, ErrModelBuild) {
		t.Errorf("expected ErrModelBuild, got %v", err)
	}
}

func TestYAMLSource_Resolve_EnvironmentKeyNormalized(t *testing.T) {
	// build keys are normalized to canonical environment names
	dir := writeMarker(t, `
environments:
  - go1.24, linux
builds:
  "linux, go1.24": make
`)

	src := &YAMLSource{}
	m, err := src.Resolve(context.Background(), dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cmd, ok := m.BuildCommand(domain.NewEnvironmentSet("linux", "go1.24"))
	if !ok || cmd != "make" {
		t.Errorf("BuildCommand = %q, %v", cmd, ok)
	}
}
