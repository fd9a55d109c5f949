// Package overlay keeps a live map surface in line with a stream of
// declarative updates: incident, route and group markers, the shared route
// line layer, and the user and selected location markers.
package overlay

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"safemap/core-go/internal/gate"
	"safemap/core-go/internal/metrics"
	"safemap/core-go/internal/resource"
	"safemap/core-go/internal/surface"
)

// State is the lifecycle of the owned surface.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateTearingDown
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateTearingDown:
		return "tearing_down"
	case StateTornDown:
		return "torn_down"
	default:
		return "uninitialized"
	}
}

// Callbacks replace the default popup for clicks on items of a category.
// All of them are optional and run outside the owner's locks.
type Callbacks struct {
	OnIncidentClick func(Incident)
	OnRouteClick    func(Route)
	OnGroupClick    func(Group)
	OnMapClick      func(surface.LngLat)
}

type Options struct {
	Palette    Palette
	Thresholds Thresholds
	Callbacks  Callbacks
	// Sink also receives every reported error, after logging.
	Sink resource.ErrorSink
}

// Owner owns the single map surface for its lifetime and every reconciler
// drawing on it.
type Owner struct {
	log     zerolog.Logger
	engine  surface.Engine
	metrics *metrics.Metrics
	opts    Options
	tracker *resource.Tracker
	gate    *gate.Gate

	mu      sync.Mutex
	state   State
	surf    surface.Surface
	globals []*resource.ListenerRecord
	popup   surface.PopupHandle
	props   Props

	ready   atomic.Bool
	mounted atomic.Bool

	incidents *Reconciler[Incident]
	routes    *Reconciler[Route]
	routeLine *RouteLayer
	groups    *Reconciler[Group]
	user      *Reconciler[surface.LngLat]
	selected  *Reconciler[surface.LngLat]
}

func New(log zerolog.Logger, engine surface.Engine, m *metrics.Metrics, opts Options) *Owner {
	opts.Palette = opts.Palette.withDefaults()
	opts.Thresholds = opts.Thresholds.withDefaults()

	o := &Owner{
		log:     log.With().Str("component", "overlay").Logger(),
		engine:  engine,
		metrics: m,
		opts:    opts,
		gate:    gate.New(),
	}
	o.tracker = resource.NewTracker(resource.SinkFunc(o.Report))

	p, t, cb := opts.Palette, opts.Thresholds, opts.Callbacks
	o.incidents = newReconciler(CategoryIncidents, incidentLayer(p), o, o.tracker, o.gate, o.log, cb.OnIncidentClick)
	o.routes = newReconciler(CategoryRoutes, routeMarkerLayer(p, t), o, o.tracker, o.gate, o.log, cb.OnRouteClick)
	o.routeLine = newRouteLayer(o, o.tracker, o.gate, o.log, p, t, cb.OnRouteClick)
	o.groups = newReconciler(CategoryGroups, groupLayer(p), o, o.tracker, o.gate, o.log, cb.OnGroupClick)
	o.user = newReconciler(CategoryUserLocation, locationLayer(UserLocationKey, userLocationElement(p), "You are here"), o, o.tracker, o.gate, o.log, nil)
	o.selected = newReconciler(CategorySelectedLocation, locationLayer(SelectedLocationKey, selectedLocationElement(p), "Selected location"), o, o.tracker, o.gate, o.log, nil)
	return o
}

// Initialize creates the surface. It fails with ErrSurfaceInit if this
// owner already has (or had) one. Nothing is drawn until the engine reports
// the surface ready.
func (o *Owner) Initialize(cfg surface.Config) error {
	o.mu.Lock()
	if st := o.state; st != StateUninitialized {
		o.mu.Unlock()
		return fmt.Errorf("%w: owner is %s", ErrSurfaceInit, st)
	}
	o.state = StateInitializing
	o.mounted.Store(true)
	o.mu.Unlock()

	var surf surface.Surface
	err := surface.Guard("create surface", func() error {
		var err error
		surf, err = o.engine.NewSurface(cfg, o.handleReady)
		return err
	})

	o.mu.Lock()
	if err != nil {
		o.state = StateUninitialized
		o.mounted.Store(false)
		o.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrSurfaceInit, err)
	}
	if o.state != StateInitializing {
		// Torn down while the engine was creating the surface.
		o.mu.Unlock()
		if rerr := surface.Guard("remove surface", surf.Remove); rerr != nil {
			o.Report(rerr)
		}
		return ErrNotMounted
	}
	o.surf = surf
	o.mu.Unlock()

	if _, err := o.RegisterGlobalListener(surface.EventClick, o.handleMapClick); err != nil {
		o.Report(fmt.Errorf("register map click: %w", err))
	}

	o.log.Info().Str("style", cfg.Style).Float64("zoom", cfg.Zoom).Msg("map surface created")

	// The engine may have reported ready before the surface was stored.
	if o.ready.Load() {
		o.promote()
	}
	return nil
}

func (o *Owner) handleReady() {
	if !o.mounted.Load() {
		return
	}
	o.ready.Store(true)
	o.promote()
}

// promote moves Initializing to Ready once both the surface and the ready
// signal exist, then replays the latest props.
func (o *Owner) promote() {
	o.mu.Lock()
	if o.state != StateInitializing || o.surf == nil {
		o.mu.Unlock()
		return
	}
	o.state = StateReady
	props := o.props
	o.mu.Unlock()

	o.log.Info().Msg("map surface ready")
	o.sync(props)
}

// RegisterGlobalListener attaches a listener to the surface itself. Every
// such listener is detached by Teardown.
func (o *Owner) RegisterGlobalListener(event string, h surface.Handler) (*resource.ListenerRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.mounted.Load() || o.surf == nil {
		return nil, ErrNotMounted
	}
	rec, err := o.tracker.Listen(o.surf, resource.ListenerSpec{Target: surface.MapTarget(), Event: event, Handler: h})
	if err != nil {
		return nil, err
	}
	o.globals = append(o.globals, rec)
	return rec, nil
}

// Teardown detaches global listeners, releases every record of every
// category, removes the route layer and destroys the surface. It is safe on
// a partially initialised owner and a no-op the second time.
func (o *Owner) Teardown() {
	o.mu.Lock()
	if o.state == StateTearingDown || o.state == StateTornDown {
		o.mu.Unlock()
		return
	}
	prev := o.state
	o.state = StateTearingDown
	o.mounted.Store(false)
	o.ready.Store(false)
	globals := o.globals
	o.globals = nil
	popup := o.popup
	o.popup = ""
	surf := o.surf
	o.mu.Unlock()

	start := time.Now()
	for _, g := range globals {
		_ = g.Detach()
	}
	if popup != "" && surf != nil {
		if err := surface.Guard("close popup", func() error { return surf.ClosePopup(popup) }); err != nil {
			o.Report(err)
		}
	}

	released := o.incidents.Release() +
		o.routes.Release() +
		o.routeLine.Release() +
		o.groups.Release() +
		o.user.Release() +
		o.selected.Release()

	if surf != nil {
		if err := surface.Guard("remove surface", surf.Remove); err != nil {
			o.Report(err)
		}
	}

	o.mu.Lock()
	o.state = StateTornDown
	o.surf = nil
	o.mu.Unlock()

	stats := o.tracker.Stats()
	o.metrics.SetLiveResources(stats.LiveVisuals, stats.LiveListeners)
	o.log.Info().
		Str("from", prev.String()).
		Int("released", released).
		Int("globals", len(globals)).
		Int64("failures", stats.Failures).
		Dur("duration", time.Since(start)).
		Msg("map surface torn down")
}

// Sync stores props as the latest input and reconciles every category.
// Before the surface is ready the props are only stored; they are applied
// when it becomes ready.
func (o *Owner) Sync(props Props) SyncReport {
	o.mu.Lock()
	o.props = props
	o.mu.Unlock()
	return o.sync(props)
}

// SetData replaces the dataset and keeps the current view.
func (o *Owner) SetData(d Data) SyncReport {
	o.mu.Lock()
	o.props.Data = d
	props := o.props
	o.mu.Unlock()
	return o.sync(props)
}

// SetView replaces the view and keeps the current dataset.
func (o *Owner) SetView(v View) SyncReport {
	o.mu.Lock()
	o.props.View = v
	props := o.props
	o.mu.Unlock()
	return o.sync(props)
}

func (o *Owner) Props() Props {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.props
}

func (o *Owner) sync(p Props) SyncReport {
	var report SyncReport
	record := func(out Outcome) {
		report.Outcomes = append(report.Outcomes, out)
		o.metrics.ObserveReconcile(string(out.Category), string(out.Status), out.Duration)
	}

	record(o.incidents.Reconcile(p.Incidents, p.Active == CategoryIncidents))
	record(o.routes.Reconcile(p.Routes, p.Active == CategoryRoutes))
	record(o.routeLine.Apply(p.Routes, p.Active == CategoryRoutes))
	record(o.groups.Reconcile(p.Groups, p.Active == CategoryGroups))
	record(o.user.Reconcile(locations(p.UserLocation), p.ShowUserLocation && p.UserLocation != nil))
	record(o.selected.Reconcile(locations(p.SelectedLocation), p.SelectedLocation != nil))

	stats := o.tracker.Stats()
	o.metrics.SetLiveResources(stats.LiveVisuals, stats.LiveListeners)
	if report.Applied() {
		ev := o.log.Debug()
		for _, out := range report.Outcomes {
			ev = ev.Object(string(out.Category), out)
		}
		ev.Msg("overlay synced")
	}
	return report
}

func locations(p *surface.LngLat) []surface.LngLat {
	if p == nil {
		return nil
	}
	return []surface.LngLat{*p}
}

// handleMapClick places the selected-location marker at the pointer and
// then hands the position to OnMapClick.
func (o *Owner) handleMapClick(ev surface.Event) {
	if !o.mounted.Load() {
		return
	}
	at := ev.LngLat
	o.mu.Lock()
	o.props.SelectedLocation = &at
	o.mu.Unlock()

	out := o.selected.Reconcile([]surface.LngLat{at}, true)
	o.metrics.ObserveReconcile(string(out.Category), string(out.Status), out.Duration)

	if cb := o.opts.Callbacks.OnMapClick; cb != nil {
		cb(at)
	}
}

// ClearSelection removes the selected-location marker.
func (o *Owner) ClearSelection() Outcome {
	o.mu.Lock()
	o.props.SelectedLocation = nil
	o.mu.Unlock()
	out := o.selected.Reconcile(nil, false)
	o.metrics.ObserveReconcile(string(out.Category), string(out.Status), out.Duration)
	return out
}

// Surface returns the live surface, or nil outside Initialize..Teardown.
func (o *Owner) Surface() surface.Surface {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.surf
}

// Ready reports whether mutations may be issued.
func (o *Owner) Ready() bool {
	if !o.ready.Load() || !o.mounted.Load() {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state == StateReady
}

// Mounted is false once teardown has begun. Every asynchronous continuation
// checks it before mutating anything.
func (o *Owner) Mounted() bool { return o.mounted.Load() }

func (o *Owner) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Report logs err and forwards it to the configured sink. It never panics
// and never returns the error to the caller of a pass.
func (o *Owner) Report(err error) {
	if err == nil {
		return
	}
	category := "surface"
	var ie *ItemError
	if errors.As(err, &ie) {
		category = string(ie.Category)
		o.log.Warn().Err(ie.Err).Str("category", category).Str("key", ie.Key).Msg("item skipped")
	} else {
		o.log.Warn().Err(err).Msg("map operation failed")
	}
	o.metrics.IncItemError(category)
	if o.opts.Sink != nil {
		o.opts.Sink.Report(err)
	}
}

// ShowPopup opens a popup, closing the previous one. At most one popup is
// open at a time.
func (o *Owner) ShowPopup(at surface.LngLat, html string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.mounted.Load() || o.surf == nil {
		return
	}
	if o.popup != "" {
		prev := o.popup
		o.popup = ""
		if err := surface.Guard("close popup", func() error { return o.surf.ClosePopup(prev) }); err != nil {
			o.Report(err)
		}
	}
	var h surface.PopupHandle
	err := surface.Guard("open popup", func() error {
		var err error
		h, err = o.surf.OpenPopup(at, html)
		return err
	})
	if err != nil {
		o.Report(err)
		return
	}
	o.popup = h
}

// RouteLayerState exposes the shared route layer state.
func (o *Owner) RouteLayerState() VectorLayerState { return o.routeLine.State() }

// ResourceStats exposes the tracker counters.
func (o *Owner) ResourceStats() resource.Stats { return o.tracker.Stats() }

// Counts returns the live record count per category.
func (o *Owner) Counts() map[Category]int {
	line := 0
	if st := o.routeLine.State(); st.LayerExists {
		line = 1
	}
	return map[Category]int{
		CategoryIncidents:        o.incidents.Len(),
		CategoryRoutes:           o.routes.Len(),
		CategoryRouteLine:        line,
		CategoryGroups:           o.groups.Len(),
		CategoryUserLocation:     o.user.Len(),
		CategorySelectedLocation: o.selected.Len(),
	}
}

// MarkerHandle finds the marker placed under key in any marker category.
func (o *Owner) MarkerHandle(key string) (surface.MarkerHandle, bool) {
	lookups := []func(string) (surface.MarkerHandle, bool){
		o.incidents.Handle, o.routes.Handle, o.groups.Handle, o.user.Handle, o.selected.Handle,
	}
	for _, lookup := range lookups {
		if h, ok := lookup(key); ok {
			return h, true
		}
	}
	return "", false
}

// Keys returns the live record keys of a marker category.
func (o *Owner) Keys(c Category) []string {
	switch c {
	case CategoryIncidents:
		return o.incidents.Keys()
	case CategoryRoutes:
		return o.routes.Keys()
	case CategoryGroups:
		return o.groups.Keys()
	case CategoryUserLocation:
		return o.user.Keys()
	case CategorySelectedLocation:
		return o.selected.Keys()
	default:
		return nil
	}
}
