package gate

import (
	"testing"

	"safemap/core-go/internal/fingerprint"
)

func TestShouldRun_FreshCategory(t *testing.T) {
	g := New()
	if !g.ShouldRun("incidents", "abc") {
		t.Fatalf("expected fresh category to run")
	}
	if g.State("incidents") != Idle {
		t.Fatalf("expected idle, got %s", g.State("incidents"))
	}
}

func TestShouldRun_FalseWhileRunning(t *testing.T) {
	g := New()
	if !g.Begin("incidents") {
		t.Fatalf("expected first begin to succeed")
	}
	if g.ShouldRun("incidents", "abc") {
		t.Fatalf("expected shouldRun=false while a pass is in flight")
	}
	if g.Begin("incidents") {
		t.Fatalf("expected running -> running to be refused")
	}
	g.End("incidents")
	if !g.ShouldRun("incidents", "abc") {
		t.Fatalf("expected shouldRun=true after end")
	}
}

func TestShouldRun_FalseWhenFingerprintApplied(t *testing.T) {
	g := New()
	g.Commit("routes", "abc")
	if g.ShouldRun("routes", "abc") {
		t.Fatalf("expected unchanged fingerprint to be skipped")
	}
	if !g.ShouldRun("routes", "def") {
		t.Fatalf("expected changed fingerprint to run")
	}
}

func TestAdmit_Decisions(t *testing.T) {
	g := New()

	if d := g.Admit("groups", "one"); d != Admitted {
		t.Fatalf("expected admitted, got %s", d)
	}
	if d := g.Admit("groups", "two"); d != Busy {
		t.Fatalf("expected busy while running, got %s", d)
	}
	g.Commit("groups", "one")
	g.End("groups")

	if d := g.Admit("groups", "one"); d != Unchanged {
		t.Fatalf("expected unchanged, got %s", d)
	}
	if g.State("groups") != Idle {
		t.Fatalf("expected unchanged decision to leave the gate idle")
	}
	if d := g.Admit("groups", "two"); d != Admitted {
		t.Fatalf("expected admitted for a new fingerprint, got %s", d)
	}
}

func TestEnd_AfterPanicLeavesGateUsable(t *testing.T) {
	g := New()
	func() {
		defer func() { _ = recover() }()
		if !g.Begin("incidents") {
			t.Fatalf("expected begin to succeed")
		}
		defer g.End("incidents")
		panic("boom")
	}()
	if g.State("incidents") != Idle {
		t.Fatalf("expected gate to return to idle after a failed pass")
	}
}

func TestCategoriesAreIndependent(t *testing.T) {
	g := New()
	g.Begin("incidents")
	if !g.ShouldRun("routes", "abc") {
		t.Fatalf("expected a running incidents pass not to block routes")
	}
}

func TestForget(t *testing.T) {
	g := New()
	g.Commit("incidents", "abc")
	g.Forget("incidents")
	if g.Applied("incidents") != fingerprint.None {
		t.Fatalf("expected applied fingerprint to be cleared")
	}
	if !g.ShouldRun("incidents", "abc") {
		t.Fatalf("expected pass to run after forget")
	}
}
