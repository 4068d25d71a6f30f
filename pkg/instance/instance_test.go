package instance

import "testing"

func TestIDPrefersExplicitInstance(t *testing.T) {
	t.Setenv("IBOS_INSTANCE_ID", " api-7 ")
	t.Setenv("HOSTNAME", "pod-abc")
	if got := ID(); got != "api-7" {
		t.Fatalf("expected api-7 got %q", got)
	}
}

func TestIDFallsBackToHostname(t *testing.T) {
	t.Setenv("IBOS_INSTANCE_ID", "")
	t.Setenv("HOSTNAME", "pod-abc")
	if got := ID(); got != "pod-abc" {
		t.Fatalf("expected pod-abc got %q", got)
	}
}

func TestIDNeverEmpty(t *testing.T) {
	t.Setenv("IBOS_INSTANCE_ID", "")
	t.Setenv("HOSTNAME", "")
	if ID() == "" {
		t.Fatal("expected a non-empty instance id")
	}
}
