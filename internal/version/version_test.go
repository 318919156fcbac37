package version

import (
	"strings"
	"testing"
)

func TestInfoMatchesAccessors(t *testing.T) {
	v, c, d := Info()

	if v == "" || c == "" || d == "" {
		t.Fatalf("build info must not contain empty fields: %q %q %q", v, c, d)
	}
	if v != GetVersion() {
		t.Errorf("GetVersion (%s) diverges from Info (%s)", GetVersion(), v)
	}
	if c != GetCommit() {
		t.Errorf("GetCommit (%s) diverges from Info (%s)", GetCommit(), c)
	}
	if d != GetDate() {
		t.Errorf("GetDate (%s) diverges from Info (%s)", GetDate(), d)
	}
}

func TestDefaultsWithoutLdflags(t *testing.T) {
	if GetVersion() != "dev" {
		t.Errorf("expected default version 'dev', got %s", GetVersion())
	}
	if GetCommit() != "unknown" {
		t.Errorf("expected default commit 'unknown', got %s", GetCommit())
	}
}

func TestString(t *testing.T) {
	s := String()

	for _, field := range []string{"version=", "commit=", "date="} {
		if !strings.Contains(s, field) {
			t.Errorf("String must contain %q, got: %s", field, s)
		}
	}
}
