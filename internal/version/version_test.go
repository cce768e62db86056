package version

import (
	"strings"
	"testing"
)

func TestGet_LdflagsCommit(t *testing.T) {
	old := Commit
	t.Cleanup(func() { Commit = old })
	Commit = "abc1234"

	info := Get()
	if info.Commit != "abc1234" {
		t.Errorf("Commit = %q, want %q", info.Commit, "abc1234")
	}
	if info.Version != Version {
		t.Errorf("Version = %q, want %q", info.Version, Version)
	}
}

func TestString(t *testing.T) {
	old := Commit
	t.Cleanup(func() { Commit = old })
	Commit = "abc1234"

	s := String()
	if !strings.HasPrefix(s, Version+" (abc1234) built ") {
		t.Errorf("String() = %q", s)
	}
}

func TestGet_FallbackCommit(t *testing.T) {
	old := Commit
	t.Cleanup(func() { Commit = old })
	Commit = ""

	if got := Get().Commit; got == "" {
		t.Error("Commit is empty, want vcs revision or \"unknown\"")
	}
}
