package engine

import "testing"

func TestNewIdentity(t *testing.T) {
	a := NewIdentity("source")
	b := NewIdentity("source")

	if a.Stage != "source" || b.Stage != "source" {
		t.Error("identities must keep their stage")
	}
	if a.Instance == b.Instance {
		t.Error("instance identifiers must be unique")
	}
	if a.String() == "" {
		t.Error("expected non-empty identity string")
	}
}

func TestRunStateString(t *testing.T) {
	tests := []struct {
		state RunState
		want  string
	}{
		{Uninitialized, "uninitialized"},
		{Running, "running"},
		{Paused, "paused"},
		{Completed, "completed"},
		{Faulted, "faulted"},
		{RunState(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}
}

func TestSeverityOrdering(t *testing.T) {
	order := []RunState{Uninitialized, Completed, Running, Paused, Faulted}
	for i := 1; i < len(order); i++ {
		if order[i].Severity() <= order[i-1].Severity() {
			t.Errorf("%v must be more severe than %v", order[i], order[i-1])
		}
	}
}
