package overlay

import (
	"errors"
	"fmt"
	"testing"

	"github.com/paulmach/orb"

	"safemap/core-go/internal/surface"
	"safemap/core-go/internal/surface/memsurface"
)

func TestRouteLayer_singleSourceAndLayerAcrossUpdates(t *testing.T) {
	o, s := newTestOwner(t, Options{})
	o.SetView(View{Active: CategoryRoutes})

	for n := 1; n <= 8; n++ {
		var routes []Route
		for i := 0; i < n; i++ {
			off := float64(i) / 100
			routes = append(routes, route(fmt.Sprintf("r%d", i), float64(10*n), -26.2+off, 28.0, -26.1, 28.0+off))
		}
		o.SetData(Data{Routes: routes})

		if s.SourceCount() != 1 || s.LayerCount() != 1 {
			t.Fatalf("pass %d: expected 1 source and 1 layer, got %d and %d", n, s.SourceCount(), s.LayerCount())
		}
		if got := s.ListenerCountOn(surface.TargetLayer); got != 1 {
			t.Fatalf("pass %d: expected 1 layer listener, got %d", n, got)
		}
		fc, _ := s.Source(RouteSourceID)
		if len(fc.Features) != n {
			t.Fatalf("pass %d: expected %d features, got %d", n, n, len(fc.Features))
		}
	}

	o.SetData(Data{})
	if s.SourceCount() != 0 || s.LayerCount() != 0 || s.ListenerCountOn(surface.TargetLayer) != 0 {
		t.Fatalf("expected empty route list to remove the layer, got %+v", s.Snapshot())
	}
	if st := o.RouteLayerState(); st.SourceExists || st.LayerExists {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestRouteLayer_inactiveRemovesLayer(t *testing.T) {
	o, s := newTestOwner(t, Options{})
	o.Sync(Props{Data: fullData(), View: View{Active: CategoryRoutes}})
	if !o.RouteLayerState().LayerExists {
		t.Fatalf("expected route layer")
	}

	o.SetView(View{Active: CategoryGroups})

	if s.SourceCount() != 0 || s.LayerCount() != 0 {
		t.Fatalf("expected route layer removed, got %d sources %d layers", s.SourceCount(), s.LayerCount())
	}
	if got := o.Counts()[CategoryRouteLine]; got != 0 {
		t.Fatalf("expected no route line, got %d", got)
	}
}

func TestRouteLayer_identicalApplyIsNoOp(t *testing.T) {
	o, s := newTestOwner(t, Options{})
	props := Props{Data: fullData(), View: View{Active: CategoryRoutes}}
	o.Sync(props)
	s.ResetCalls()

	for i := 0; i < 3; i++ {
		out := o.routeLine.Apply(props.Routes, true)
		if out.Status != StatusUnchanged {
			t.Fatalf("expected unchanged, got %s", out.Status)
		}
	}
	if s.Calls() != 0 {
		t.Fatalf("expected no engine calls, got %d", s.Calls())
	}
}

func TestRouteLayer_failedUpdateRestoresPreviousLayer(t *testing.T) {
	sink := &recordingSink{}
	o, s := newTestOwner(t, Options{Sink: sink})
	r1 := route("r1", 82, -26.20, 28.04, -26.19, 28.05)
	r2 := route("r2", 41, -26.10, 28.00, -26.11, 28.02)
	o.Sync(Props{Data: Data{Routes: []Route{r1}}, View: View{Active: CategoryRoutes}})
	applied := o.RouteLayerState().LastFingerprint

	s.FailOn(memsurface.OpAddLayer, errors.New("style is loading"), 1)
	report := o.SetData(Data{Routes: []Route{r1, r2}})

	out, _ := report.Get(CategoryRouteLine)
	if out.Status != StatusFailed {
		t.Fatalf("expected route line failed, got %+v", out)
	}
	if s.SourceCount() != 1 || s.LayerCount() != 1 {
		t.Fatalf("expected previous layer restored, got %d sources %d layers", s.SourceCount(), s.LayerCount())
	}
	fc, _ := s.Source(RouteSourceID)
	if len(fc.Features) != 1 || fc.Features[0].ID != "r1" {
		t.Fatalf("expected previous features, got %+v", fc.Features)
	}
	if got := o.RouteLayerState().LastFingerprint; got != applied {
		t.Fatalf("expected fingerprint not committed, got %q want %q", got, applied)
	}
	if len(sink.all()) == 0 {
		t.Fatalf("expected failure reported")
	}

	// The same input is retried on the next sync.
	report = o.SetData(Data{Routes: []Route{r1, r2}})
	if out, _ := report.Get(CategoryRouteLine); out.Status != StatusApplied {
		t.Fatalf("expected retry applied, got %+v", out)
	}
	fc, _ = s.Source(RouteSourceID)
	if len(fc.Features) != 2 {
		t.Fatalf("expected 2 features after retry, got %d", len(fc.Features))
	}
}

func TestRouteLayer_failedRestoreClearsState(t *testing.T) {
	o, s := newTestOwner(t, Options{Sink: &recordingSink{}})
	r1 := route("r1", 82, -26.20, 28.04, -26.19, 28.05)
	r2 := route("r2", 41, -26.10, 28.00, -26.11, 28.02)
	o.Sync(Props{Data: Data{Routes: []Route{r1}}, View: View{Active: CategoryRoutes}})

	s.ResetCalls()
	s.FailOn(memsurface.OpAddLayer, errors.New("style is loading"), 2)
	report := o.SetData(Data{Routes: []Route{r1, r2}})

	if out, _ := report.Get(CategoryRouteLine); out.Status != StatusFailed || out.Live != 0 {
		t.Fatalf("expected route line failed with nothing live, got %+v", out)
	}
	if got := s.CallCount(memsurface.OpAddLayer); got != 2 {
		t.Fatalf("expected update and restore attempted, got %d add layer calls", got)
	}
	if s.SourceCount() != 0 || s.LayerCount() != 0 {
		t.Fatalf("expected nothing drawn, got %d sources %d layers", s.SourceCount(), s.LayerCount())
	}
	st := o.RouteLayerState()
	if st.SourceExists || st.LayerExists || st.LastFingerprint != "" {
		t.Fatalf("expected cleared state, got %+v", st)
	}

	o.routeLine.dispatch(surface.Event{Properties: map[string]any{"id": "r1"}})
	if got := len(s.Popups()); got != 0 {
		t.Fatalf("expected no popup for an undrawn route, got %d", got)
	}

	report = o.SetData(Data{Routes: []Route{r1, r2}})
	if out, _ := report.Get(CategoryRouteLine); out.Status != StatusApplied {
		t.Fatalf("expected retry applied, got %+v", out)
	}
	if s.SourceCount() != 1 || s.LayerCount() != 1 {
		t.Fatalf("expected 1 source and 1 layer, got %d and %d", s.SourceCount(), s.LayerCount())
	}
}

func TestRouteLayer_failedRemovalIsRetried(t *testing.T) {
	r1 := route("r1", 82, -26.20, 28.04, -26.19, 28.05)
	r2 := route("r2", 41, -26.10, 28.00, -26.11, 28.02)

	for _, failures := range []int{1, 2} {
		t.Run(fmt.Sprintf("update_%d", failures), func(t *testing.T) {
			o, s := newTestOwner(t, Options{Sink: &recordingSink{}})
			o.Sync(Props{Data: Data{Routes: []Route{r1}}, View: View{Active: CategoryRoutes}})

			s.FailOn(memsurface.OpRemoveLayer, errors.New("layer busy"), failures)
			report := o.SetData(Data{Routes: []Route{r2}})

			if out, _ := report.Get(CategoryRouteLine); out.Status != StatusApplied {
				t.Fatalf("expected route line applied, got %+v", out)
			}
			if s.SourceCount() != 1 || s.LayerCount() != 1 {
				t.Fatalf("expected 1 source and 1 layer, got %d and %d", s.SourceCount(), s.LayerCount())
			}
			if got := s.ListenerCountOn(surface.TargetLayer); got != 1 {
				t.Fatalf("expected 1 layer listener, got %d", got)
			}
			fc, _ := s.Source(RouteSourceID)
			if len(fc.Features) != 1 || fc.Features[0].ID != "r2" {
				t.Fatalf("expected new features, got %+v", fc.Features)
			}
		})
	}

	t.Run("deactivate", func(t *testing.T) {
		o, s := newTestOwner(t, Options{Sink: &recordingSink{}})
		o.Sync(Props{Data: Data{Routes: []Route{r1}}, View: View{Active: CategoryRoutes}})

		s.FailOn(memsurface.OpRemoveLayer, errors.New("layer busy"), 2)
		report := o.SetView(View{Active: CategoryGroups})
		if out, _ := report.Get(CategoryRouteLine); out.Status != StatusFailed {
			t.Fatalf("expected removal failure reported, got %+v", out)
		}
		if st := o.RouteLayerState(); !st.SourceExists || !st.LayerExists {
			t.Fatalf("expected leftover layer still tracked, got %+v", st)
		}

		report = o.SetView(View{Active: CategoryGroups})
		if out, _ := report.Get(CategoryRouteLine); out.Status != StatusApplied {
			t.Fatalf("expected removal retried, got %+v", out)
		}
		if s.SourceCount() != 0 || s.LayerCount() != 0 {
			t.Fatalf("expected route layer removed, got %d sources %d layers", s.SourceCount(), s.LayerCount())
		}
	})

	t.Run("teardown", func(t *testing.T) {
		o, s := newTestOwner(t, Options{Sink: &recordingSink{}})
		o.Sync(Props{Data: Data{Routes: []Route{r1}}, View: View{Active: CategoryRoutes}})

		s.FailOn(memsurface.OpRemoveLayer, errors.New("layer busy"), 2)
		o.SetView(View{Active: CategoryGroups})
		o.Teardown()

		if s.SourceCount() != 0 || s.LayerCount() != 0 {
			t.Fatalf("expected teardown to remove the leftover layer, got %d sources %d layers", s.SourceCount(), s.LayerCount())
		}
	})

	t.Run("untracked leftover", func(t *testing.T) {
		o, s := newTestOwner(t, Options{Sink: &recordingSink{}})
		o.SetView(View{Active: CategoryRoutes})
		if err := s.AddSource(RouteSourceID, nil); err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if err := s.AddLayer(o.routeLine.Spec()); err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}

		report := o.SetData(Data{Routes: []Route{r1}})
		if out, _ := report.Get(CategoryRouteLine); out.Status != StatusApplied {
			t.Fatalf("expected install over the leftover, got %+v", out)
		}
		fc, _ := s.Source(RouteSourceID)
		if fc == nil || len(fc.Features) != 1 {
			t.Fatalf("expected the new source data, got %v", fc)
		}
		if s.LayerCount() != 1 {
			t.Fatalf("expected 1 layer, got %d", s.LayerCount())
		}
	})
}

func TestRouteLayer_featuresAndPaint(t *testing.T) {
	o, s := newTestOwner(t, Options{Thresholds: Thresholds{Safe: 80, Moderate: 60}})
	r := route("r1", 82, -26.20, 28.04, -26.19, 28.05)
	r.Lighting = "good"
	o.Sync(Props{Data: Data{Routes: []Route{r}}, View: View{Active: CategoryRoutes}})

	fc, ok := s.Source(RouteSourceID)
	if !ok || len(fc.Features) != 1 {
		t.Fatalf("expected 1 feature, got %v", fc)
	}
	f := fc.Features[0]
	line, ok := f.Geometry.(orb.LineString)
	if !ok || len(line) != 2 {
		t.Fatalf("expected a 2-point line string, got %T", f.Geometry)
	}
	if line[0] != (orb.Point{28.04, -26.20}) || line[1] != (orb.Point{28.05, -26.19}) {
		t.Fatalf("expected lng/lat endpoints, got %v", line)
	}
	if f.Properties["safetyScore"] != 82.0 || f.Properties["lighting"] != "good" || f.Properties["id"] != "r1" {
		t.Fatalf("unexpected properties %v", f.Properties)
	}

	spec, ok := s.Layer(RouteLayerID)
	if !ok || spec.Source != RouteSourceID || spec.Type != "line" {
		t.Fatalf("unexpected layer %+v", spec)
	}
	step, ok := spec.Paint["line-color"].([]any)
	if !ok || len(step) != 7 {
		t.Fatalf("expected step expression, got %v", spec.Paint["line-color"])
	}
	p := DefaultPalette()
	if step[0] != "step" || step[2] != p.Caution || step[3] != 60.0 || step[4] != p.Moderate || step[5] != 80.0 || step[6] != p.Safe {
		t.Fatalf("unexpected step expression %v", step)
	}
	if spec.Paint["line-width"] != 4.0 || spec.Paint["line-opacity"] != 0.8 {
		t.Fatalf("unexpected paint %v", spec.Paint)
	}

	feat, err := o.routeLine.Feature("r1")
	if err != nil || feat.Properties["name"] != "Route r1" {
		t.Fatalf("expected applied feature, got %v %v", feat, err)
	}
	if _, err := o.routeLine.Feature("nope"); err == nil {
		t.Fatalf("expected error for unknown route")
	}
}

func TestRouteLayer_malformedRouteSkipped(t *testing.T) {
	sink := &recordingSink{}
	o, s := newTestOwner(t, Options{Sink: sink})
	broken := route("r2", 50, -26.1, 28.0, 0, 0)
	broken.EndLng = nil
	o.Sync(Props{Data: Data{Routes: []Route{route("r1", 82, -26.20, 28.04, -26.19, 28.05), broken}}, View: View{Active: CategoryRoutes}})

	fc, _ := s.Source(RouteSourceID)
	if len(fc.Features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(fc.Features))
	}
	if got := len(s.MarkersOfKind(KindRouteStart)); got != 1 {
		t.Fatalf("expected 1 start marker, got %d", got)
	}
	if len(sink.itemErrors(CategoryRouteLine)) != 1 || len(sink.itemErrors(CategoryRoutes)) != 1 {
		t.Fatalf("expected the broken route reported once per category, got %v", sink.all())
	}
}

func TestRouteLayer_allRoutesMalformedLeavesNoLayer(t *testing.T) {
	o, s := newTestOwner(t, Options{Sink: &recordingSink{}})
	broken := route("r1", 50, -26.1, 28.0, 0, 0)
	broken.StartLat = nil
	o.Sync(Props{Data: Data{Routes: []Route{broken}}, View: View{Active: CategoryRoutes}})

	if s.SourceCount() != 0 || s.LayerCount() != 0 {
		t.Fatalf("expected no route layer, got %d sources %d layers", s.SourceCount(), s.LayerCount())
	}
}
