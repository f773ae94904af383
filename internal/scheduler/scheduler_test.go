package scheduler

import (
	"testing"
	"time"
)

func TestNewAppliesDefaults(t *testing.T) {
	s := New(Config{})

	if s.keepBuilds != defaultKeepBuilds {
		t.Errorf("keepBuilds = %d, want %d", s.keepBuilds, defaultKeepBuilds)
	}
	if s.registryTTL != defaultRegistryTTL {
		t.Errorf("registryTTL = %v, want %v", s.registryTTL, defaultRegistryTTL)
	}
}

func TestNewNegativeDisables(t *testing.T) {
	s := New(Config{KeepBuilds: -1, RegistryTTL: -time.Hour})

	if s.keepBuilds >= 0 {
		t.Errorf("keepBuilds = %d, want negative (disabled)", s.keepBuilds)
	}
	if s.registryTTL > 0 {
		t.Errorf("registryTTL = %v, want non-positive (disabled)", s.registryTTL)
	}
}

func TestNextSweep(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

	next, err := NextSweep("0 3 * * *", now)
	if err != nil {
		t.Fatalf("NextSweep() error = %v", err)
	}
	want := time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextSweep() = %v, want %v", next, want)
	}

	if err := ValidateCronExpr("not a cron"); err == nil {
		t.Error("ValidateCronExpr should reject garbage")
	}
}
