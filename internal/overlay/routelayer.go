package overlay

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"safemap/core-go/internal/fingerprint"
	"safemap/core-go/internal/gate"
	"safemap/core-go/internal/resource"
	"safemap/core-go/internal/surface"
)

const (
	RouteSourceID = "safe-routes"
	RouteLayerID  = "safe-routes-line"

	routeLineWidth   = 4.0
	routeLineOpacity = 0.8
)

// VectorLayerState describes the shared route source and layer.
type VectorLayerState struct {
	SourceExists    bool                    `json:"source_exists"`
	LayerExists     bool                    `json:"layer_exists"`
	LastFingerprint fingerprint.Fingerprint `json:"last_fingerprint"`
}

// RouteLayer draws every route as one line feature of a single GeoJSON
// source rendered by a single layer. There is never more than one of each.
type RouteLayer struct {
	env        Env
	tracker    *resource.Tracker
	gate       *gate.Gate
	log        zerolog.Logger
	palette    Palette
	thresholds Thresholds
	onClick    func(Route)

	mu      sync.Mutex
	state   VectorLayerState
	record  *resource.Record
	applied *geojson.FeatureCollection

	routes atomic.Pointer[map[string]Route]
}

func newRouteLayer(env Env, tr *resource.Tracker, g *gate.Gate, log zerolog.Logger, p Palette, t Thresholds, onClick func(Route)) *RouteLayer {
	return &RouteLayer{
		env:        env,
		tracker:    tr,
		gate:       g,
		log:        log.With().Str("category", string(CategoryRouteLine)).Logger(),
		palette:    p,
		thresholds: t,
		onClick:    onClick,
	}
}

func (l *RouteLayer) Fingerprint(routes []Route, active bool) fingerprint.Fingerprint {
	b := fingerprint.New(string(CategoryRouteLine)).Bool(active)
	if !active {
		return b.Sum()
	}
	b.Int(len(routes))
	for _, r := range routes {
		b.Str(r.ID).OptFloat(r.StartLat).OptFloat(r.StartLng).
			OptFloat(r.EndLat).OptFloat(r.EndLng).Float(r.SafetyScore)
	}
	return b.Sum()
}

// Spec returns the layer definition: a three-tier colour step over the
// safety score with fixed width and opacity.
func (l *RouteLayer) Spec() surface.LayerSpec {
	return surface.LayerSpec{
		ID:     RouteLayerID,
		Type:   "line",
		Source: RouteSourceID,
		Layout: map[string]any{
			"line-join": "round",
			"line-cap":  "round",
		},
		Paint: map[string]any{
			"line-color": []any{
				"step", []any{"get", "safetyScore"},
				l.palette.Caution,
				l.thresholds.Moderate, l.palette.Moderate,
				l.thresholds.Safe, l.palette.Safe,
			},
			"line-width":   routeLineWidth,
			"line-opacity": routeLineOpacity,
		},
	}
}

func (l *RouteLayer) collection(routes []Route) (*geojson.FeatureCollection, map[string]Route) {
	fc := geojson.NewFeatureCollection()
	byID := make(map[string]Route, len(routes))
	for _, r := range routes {
		if err := requireID(r.ID); err != nil {
			l.env.Report(itemError(CategoryRouteLine, r.ID, err))
			continue
		}
		if _, dup := byID[r.ID]; dup {
			l.env.Report(itemError(CategoryRouteLine, r.ID, ErrDuplicateKey))
			continue
		}
		start, err := r.Start()
		if err == nil {
			var end surface.LngLat
			end, err = r.End()
			if err == nil {
				f := geojson.NewFeature(orb.LineString{start.Point(), end.Point()})
				f.ID = r.ID
				f.Properties["id"] = r.ID
				f.Properties["name"] = r.Name
				f.Properties["safetyScore"] = r.SafetyScore
				f.Properties["lighting"] = r.Lighting
				fc.Append(f)
				byID[r.ID] = r
				continue
			}
		}
		l.env.Report(itemError(CategoryRouteLine, r.ID, err))
	}
	return fc, byID
}

// Apply brings the shared route layer in line with routes. Identical input
// is a strict no-op. If installing the new layer fails, the previously
// applied one is restored.
func (l *RouteLayer) Apply(routes []Route, active bool) Outcome {
	start := time.Now()
	out := Outcome{Category: CategoryRouteLine}
	done := func(s Status) Outcome {
		out.Status = s
		if l.record != nil {
			out.Live = 1
		}
		out.Duration = time.Since(start)
		return out
	}

	if !l.env.Mounted() {
		out.Status, out.Duration = StatusUnmounted, time.Since(start)
		return out
	}
	if !l.env.Ready() {
		out.Status, out.Duration = StatusNotReady, time.Since(start)
		return out
	}

	fp := l.Fingerprint(routes, active)
	switch l.gate.Admit(string(CategoryRouteLine), fp) {
	case gate.Busy:
		out.Status, out.Duration = StatusBusy, time.Since(start)
		return out
	case gate.Unchanged:
		l.mu.Lock()
		defer l.mu.Unlock()
		if active && l.record != nil {
			byID := routeIndex(routes)
			l.routes.Store(&byID)
		}
		return done(StatusUnchanged)
	}
	defer l.gate.End(string(CategoryRouteLine))

	l.mu.Lock()
	defer l.mu.Unlock()

	surf := l.env.Surface()
	if !l.env.Mounted() || surf == nil {
		return done(StatusUnmounted)
	}

	var fc *geojson.FeatureCollection
	var byID map[string]Route
	if active && len(routes) > 0 {
		fc, byID = l.collection(routes)
		out.Failed = len(routes) - len(fc.Features)
	}

	if fc == nil || len(fc.Features) == 0 {
		if l.record != nil {
			out.Released = 1
		}
		err := l.releaseLocked(surf)
		empty := map[string]Route{}
		l.routes.Store(&empty)
		if err != nil {
			l.env.Report(fmt.Errorf("route layer removal: %w", err))
			out.Failed++
			l.state.LastFingerprint = fingerprint.None
			l.gate.Forget(string(CategoryRouteLine))
			return done(StatusFailed)
		}
		l.state.LastFingerprint = fp
		l.gate.Commit(string(CategoryRouteLine), fp)
		return done(StatusApplied)
	}

	previous := l.applied
	if l.record != nil {
		out.Released = 1
	}
	if err := l.releaseLocked(surf); err != nil {
		l.log.Warn().Err(err).Msg("route layer did not release cleanly")
	}

	if err := l.installLocked(surf, fc); err != nil {
		l.env.Report(fmt.Errorf("route layer update: %w", err))
		out.Failed++
		restored := false
		if previous != nil {
			if rerr := l.installLocked(surf, previous); rerr != nil {
				l.env.Report(fmt.Errorf("route layer restore: %w", rerr))
			} else {
				restored = true
				l.log.Warn().Err(err).Msg("route layer update failed, previous layer restored")
			}
		}
		if !restored {
			// Nothing is drawn, so nothing may be clicked or skipped as unchanged.
			empty := map[string]Route{}
			l.routes.Store(&empty)
			l.state.LastFingerprint = fingerprint.None
			l.gate.Forget(string(CategoryRouteLine))
		}
		return done(StatusFailed)
	}

	out.Created = 1
	l.routes.Store(&byID)
	l.state.LastFingerprint = fp
	l.gate.Commit(string(CategoryRouteLine), fp)
	return done(StatusApplied)
}

// routeIndex maps ids to routes without reporting item errors; they were
// reported by the pass that applied this fingerprint.
func routeIndex(routes []Route) map[string]Route {
	byID := make(map[string]Route, len(routes))
	for _, r := range routes {
		if r.ID == "" {
			continue
		}
		if _, err := r.Start(); err != nil {
			continue
		}
		if _, err := r.End(); err != nil {
			continue
		}
		if _, dup := byID[r.ID]; !dup {
			byID[r.ID] = r
		}
	}
	return byID
}

// installLocked adds the source, then the layer, then the one click
// listener. A failure part way removes whatever was added. A layer or source
// left behind by an earlier failed removal is cleared and the add retried
// once.
func (l *RouteLayer) installLocked(surf surface.Surface, fc *geojson.FeatureCollection) error {
	if err := l.clearLeftoverLocked(surf); err != nil {
		return fmt.Errorf("clear leftover route layer: %w", err)
	}

	addSource := func() error { return surf.AddSource(RouteSourceID, fc) }
	err := surface.Guard("add source", addSource)
	if errors.Is(err, surface.ErrSourceExists) {
		l.state.SourceExists, l.state.LayerExists = true, true
		if cerr := l.clearLeftoverLocked(surf); cerr != nil {
			return fmt.Errorf("clear leftover route layer: %w", cerr)
		}
		err = surface.Guard("add source", addSource)
	}
	if err != nil {
		return err
	}
	l.state.SourceExists = true

	addLayer := func() error { return surf.AddLayer(l.Spec()) }
	err = surface.Guard("add layer", addLayer)
	if errors.Is(err, surface.ErrLayerExists) {
		if rerr := surface.Guard("remove layer", func() error { return surf.RemoveLayer(RouteLayerID) }); rerr == nil {
			err = surface.Guard("add layer", addLayer)
		}
	}
	if errors.Is(err, surface.ErrLayerExists) {
		l.state.LayerExists = true
		return err
	}
	if err != nil {
		if rerr := surface.Guard("remove source", func() error { return surf.RemoveSource(RouteSourceID) }); rerr == nil {
			l.state.SourceExists = false
		} else {
			l.env.Report(rerr)
		}
		return err
	}
	l.state.LayerExists = true

	visual := resource.VectorLayer{Surface: surf, LayerID: RouteLayerID, SourceID: RouteSourceID}
	rec, err := l.tracker.Acquire(surf, RouteLayerID, visual, []resource.ListenerSpec{{
		Target:  surface.LayerTarget(RouteLayerID),
		Event:   surface.EventClick,
		Handler: l.dispatch,
	}})
	if err != nil {
		// Acquire removed the pair on its way out.
		l.state.SourceExists, l.state.LayerExists = false, false
		return err
	}
	l.record = rec
	l.applied = fc
	return nil
}

// releaseLocked drops the record. If the engine refused a removal the
// state flags keep describing what is still on the surface, and one more
// removal is attempted.
func (l *RouteLayer) releaseLocked(surf surface.Surface) error {
	if l.record != nil {
		err := l.record.Release()
		l.record = nil
		l.applied = nil
		if err == nil {
			l.state.SourceExists, l.state.LayerExists = false, false
			return nil
		}
		l.log.Warn().Err(err).Msg("route layer did not release cleanly, retrying")
	}
	return l.clearLeftoverLocked(surf)
}

// clearLeftoverLocked removes an untracked layer and source, layer first.
func (l *RouteLayer) clearLeftoverLocked(surf surface.Surface) error {
	if l.record != nil {
		return nil
	}
	if l.state.LayerExists {
		err := surface.Guard("remove layer", func() error { return surf.RemoveLayer(RouteLayerID) })
		if err != nil && !errors.Is(err, surface.ErrLayerNotFound) {
			return err
		}
		l.state.LayerExists = false
	}
	if l.state.SourceExists {
		err := surface.Guard("remove source", func() error { return surf.RemoveSource(RouteSourceID) })
		if err != nil && !errors.Is(err, surface.ErrSourceNotFound) {
			return err
		}
		l.state.SourceExists = false
	}
	return nil
}

// dispatch handles a click on the line layer. The popup anchors at the
// pointer, not at the route's start point.
func (l *RouteLayer) dispatch(ev surface.Event) {
	if !l.env.Mounted() {
		return
	}
	id, _ := ev.Properties["id"].(string)
	if id == "" {
		return
	}
	idx := l.routes.Load()
	if idx == nil {
		return
	}
	r, ok := (*idx)[id]
	if !ok {
		return
	}
	if l.onClick != nil {
		l.onClick(r)
		return
	}
	l.env.ShowPopup(ev.LngLat, routePopup(r, l.thresholds))
}

// Release removes the layer and source if present and forgets the last
// applied fingerprint.
func (l *RouteLayer) Release() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	if l.record != nil {
		n = 1
	}
	if surf := l.env.Surface(); surf != nil {
		if err := l.releaseLocked(surf); err != nil {
			l.env.Report(fmt.Errorf("route layer removal: %w", err))
		}
	} else {
		// The surface is gone and took the layer with it.
		if l.record != nil {
			_ = l.record.Release()
		}
		l.record, l.applied = nil, nil
		l.state.SourceExists, l.state.LayerExists = false, false
	}
	empty := map[string]Route{}
	l.routes.Store(&empty)
	l.state.LastFingerprint = fingerprint.None
	l.gate.Forget(string(CategoryRouteLine))
	return n
}

func (l *RouteLayer) State() VectorLayerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

var errNoRouteLayer = errors.New("route layer not present")

// Feature returns the source feature for a route id, for inspection.
func (l *RouteLayer) Feature(id string) (*geojson.Feature, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.applied == nil {
		return nil, errNoRouteLayer
	}
	for _, f := range l.applied.Features {
		if f.ID == id {
			return f, nil
		}
	}
	return nil, fmt.Errorf("route %s: %w", id, errNoRouteLayer)
}
