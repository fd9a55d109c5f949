package overlay

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"safemap/core-go/internal/gate"
	"safemap/core-go/internal/surface"
	"safemap/core-go/internal/surface/memsurface"
)

// reentrantSurface runs hook from inside the next CreateMarker call, while
// the pass that issued it is still in flight.
type reentrantSurface struct {
	*memsurface.Surface

	hookMu sync.Mutex
	hook   func()
}

func (s *reentrantSurface) CreateMarker(el surface.MarkerElement, at surface.LngLat) (surface.MarkerHandle, error) {
	s.hookMu.Lock()
	hook := s.hook
	s.hook = nil
	s.hookMu.Unlock()
	if hook != nil {
		hook()
	}
	return s.Surface.CreateMarker(el, at)
}

type reentrantEngine struct {
	*memsurface.Engine
	last *reentrantSurface
}

func (e *reentrantEngine) NewSurface(cfg surface.Config, onReady func()) (surface.Surface, error) {
	s, err := e.Engine.NewSurface(cfg, onReady)
	if err != nil {
		return nil, err
	}
	e.last = &reentrantSurface{Surface: s.(*memsurface.Surface)}
	return e.last, nil
}

func TestScenarioD_backToBackPassIsDropped(t *testing.T) {
	e := &reentrantEngine{Engine: memsurface.New(memsurface.Options{ManualReady: true})}
	o := New(zerolog.Nop(), e, nil, Options{})
	if err := o.Initialize(surface.Config{}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	e.Last().FireReady()
	s := e.Last()
	s.ResetCalls()

	first := []Incident{incident("i1", -26.30, 27.93)}
	second := []Incident{incident("i2", -26.31, 27.94), incident("i3", -26.32, 27.95)}

	var (
		shouldRun bool
		nested    Outcome
	)
	e.last.hook = func() {
		shouldRun = o.gate.ShouldRun(string(CategoryIncidents), o.incidents.Fingerprint(second, true))
		nested = o.incidents.Reconcile(second, true)
	}

	out := o.incidents.Reconcile(first, true)

	if shouldRun {
		t.Fatalf("expected shouldRun to be false while a pass is in flight")
	}
	if nested.Status != StatusBusy {
		t.Fatalf("expected nested pass busy, got %s", nested.Status)
	}
	if out.Status != StatusApplied {
		t.Fatalf("expected first pass applied, got %s", out.Status)
	}
	if got := s.CallCount(memsurface.OpCreateMarker); got != 1 {
		t.Fatalf("expected only the first pass's marker, got %d creates", got)
	}
	if keys := o.incidents.Keys(); len(keys) != 1 || keys[0] != "i1" {
		t.Fatalf("unexpected keys %v", keys)
	}
	if st := o.gate.State(string(CategoryIncidents)); st != gate.Idle {
		t.Fatalf("expected gate idle after the pass, got %s", st)
	}

	// The dropped update is picked up by the next pass that carries it.
	if out := o.incidents.Reconcile(second, true); out.Status != StatusApplied {
		t.Fatalf("expected follow-up pass applied, got %s", out.Status)
	}
	if keys := o.incidents.Keys(); len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %v", keys)
	}
}

func TestReconcile_panicInEngineDoesNotWedgeGate(t *testing.T) {
	sink := &recordingSink{}
	o, s := newTestOwner(t, Options{Sink: sink})
	s.PanicOn(memsurface.OpCreateMarker)

	out := o.incidents.Reconcile(fullData().Incidents, true)
	if out.Status != StatusApplied || out.Failed != 2 {
		t.Fatalf("expected both items failed, got %+v", out)
	}
	if st := o.gate.State(string(CategoryIncidents)); st != gate.Idle {
		t.Fatalf("expected gate idle, got %s", st)
	}

	s.ClearFailures()
	if out := o.incidents.Reconcile(fullData().Incidents, true); out.Created != 2 {
		t.Fatalf("expected retry to create 2 markers, got %+v", out)
	}
}

func TestFingerprint_coversOrderAndActiveFlag(t *testing.T) {
	o, _ := newTestOwner(t, Options{})
	items := fullData().Incidents
	reversed := []Incident{items[1], items[0]}

	if o.incidents.Fingerprint(items, true) == o.incidents.Fingerprint(reversed, true) {
		t.Fatalf("expected order to change the fingerprint")
	}
	if o.incidents.Fingerprint(items, false) != o.incidents.Fingerprint(nil, false) {
		t.Fatalf("expected inactive fingerprint to ignore items")
	}
	if o.incidents.Fingerprint(nil, true) == o.incidents.Fingerprint(nil, false) {
		t.Fatalf("expected active flag to change the fingerprint")
	}

	moved := cloneData(Data{Incidents: items}).Incidents
	*moved[0].Latitude += 0.001
	if o.incidents.Fingerprint(items, true) == o.incidents.Fingerprint(moved, true) {
		t.Fatalf("expected coordinates to change the fingerprint")
	}
}

func TestReconcile_routeMarkersUseStartAndEndKeys(t *testing.T) {
	o, s := newTestOwner(t, Options{})
	o.routes.Reconcile(fullData().Routes, true)

	want := []string{RouteEndKey("r1"), RouteStartKey("r1"), RouteEndKey("r2"), RouteStartKey("r2")}
	keys := o.routes.Keys()
	if len(keys) != len(want) {
		t.Fatalf("expected %v, got %v", want, keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, keys)
		}
	}
	for _, m := range s.MarkersOfKind(KindRouteStart) {
		if m.Element.Label != "A" {
			t.Fatalf("expected start label A, got %q", m.Element.Label)
		}
	}
}
