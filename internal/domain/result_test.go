package domain

import "testing"

func TestBuildResult_Combine(t *testing.T) {
	tests := []struct {
		a, b, want BuildResult
	}{
		{ResultSuccess, ResultSuccess, ResultSuccess},
		{ResultSuccess, ResultUnstable, ResultUnstable},
		{ResultUnstable, ResultSuccess, ResultUnstable},
		{ResultSuccess, ResultFailure, ResultFailure},
		{ResultFailure, ResultUnstable, ResultFailure},
		{ResultFailure, ResultAborted, ResultAborted},
		{ResultAborted, ResultSuccess, ResultAborted},
		{ResultNotBuilt, ResultFailure, ResultNotBuilt},
	}

	for _, tt := range tests {
		if got := tt.a.Combine(tt.b); got != tt.want {
			t.Errorf("%v.Combine(%v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestBuildResult_Combine_Commutative(t *testing.T) {
	all := []BuildResult{ResultSuccess, ResultUnstable, ResultFailure, ResultNotBuilt, ResultAborted}
	for _, a := range all {
		for _, b := range all {
			if a.Combine(b) != b.Combine(a) {
				t.Errorf("Combine not commutative for %v, %v", a, b)
			}
		}
	}
}

func TestBuildResult_String_Roundtrip(t *testing.T) {
	all := []BuildResult{ResultSuccess, ResultUnstable, ResultFailure, ResultNotBuilt, ResultAborted}
	for _, r := range all {
		if got := ParseBuildResult(r.String()); got != r {
			t.Errorf("ParseBuildResult(%q) = %v, want %v", r.String(), got, r)
		}
	}
}

func TestParseBuildResult_Unknown(t *testing.T) {
	// unknown values are treated as ABORTED
	if got := ParseBuildResult("WAT"); got != ResultAborted {
		t.Errorf("ParseBuildResult(WAT) = %v, want ABORTED", got)
	}
}

func TestBuildResult_IsWorseThan(t *testing.T) {
	if !ResultFailure.IsWorseThan(ResultUnstable) {
		t.Error("FAILURE should be worse than UNSTABLE")
	}
	if ResultSuccess.IsWorseThan(ResultSuccess) {
		t.Error("a result is not worse than itself")
	}
}
