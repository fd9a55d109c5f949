// Package memsurface is a goroutine-safe in-memory map engine. It backs the
// headless preview server and doubles as the engine in tests: every mutating
// call is counted, failures can be injected per operation, and clicks can be
// simulated against the map, a marker or a layer.
package memsurface

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"

	"safemap/core-go/internal/surface"
)

// Operation names used for call counting and failure injection.
const (
	OpCreateMarker = "createMarker"
	OpRemoveMarker = "removeMarker"
	OpAddSource    = "addSource"
	OpRemoveSource = "removeSource"
	OpAddLayer     = "addLayer"
	OpRemoveLayer  = "removeLayer"
	OpOn           = "on"
	OpOff          = "off"
	OpOpenPopup    = "openPopup"
	OpClosePopup   = "closePopup"
	OpRemove       = "remove"
)

type Options struct {
	// ManualReady leaves surfaces not-ready until FireReady is called.
	ManualReady bool
}

// Engine creates in-memory surfaces and remembers every one it created.
type Engine struct {
	mu       sync.Mutex
	opts     Options
	surfaces []*Surface
	failNew  error
}

func New(opts Options) *Engine {
	return &Engine{opts: opts}
}

// FailNewSurface makes the next NewSurface call fail with err.
func (e *Engine) FailNewSurface(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failNew = err
}

func (e *Engine) NewSurface(cfg surface.Config, onReady func()) (surface.Surface, error) {
	e.mu.Lock()
	if err := e.failNew; err != nil {
		e.failNew = nil
		e.mu.Unlock()
		return nil, err
	}
	s := newSurface(cfg, onReady)
	e.surfaces = append(e.surfaces, s)
	manual := e.opts.ManualReady
	e.mu.Unlock()

	if !manual {
		go s.FireReady()
	}
	return s, nil
}

// Surfaces returns every surface created so far, oldest first.
func (e *Engine) Surfaces() []*Surface {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Surface(nil), e.surfaces...)
}

// Last returns the most recently created surface, or nil.
func (e *Engine) Last() *Surface {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.surfaces) == 0 {
		return nil
	}
	return e.surfaces[len(e.surfaces)-1]
}

type Marker struct {
	Handle  surface.MarkerHandle  `json:"handle"`
	Element surface.MarkerElement `json:"element"`
	At      surface.LngLat        `json:"at"`
}

type Popup struct {
	Handle surface.PopupHandle `json:"handle"`
	At     surface.LngLat      `json:"at"`
	HTML   string              `json:"html"`
}

type listener struct {
	target  surface.Target
	event   string
	handler surface.Handler
}

// Surface is a single in-memory map instance.
type Surface struct {
	mu        sync.Mutex
	cfg       surface.Config
	onReady   func()
	readyOnce sync.Once
	ready     bool
	removed   bool

	markers   map[surface.MarkerHandle]Marker
	sources   map[string]*geojson.FeatureCollection
	layers    map[string]surface.LayerSpec
	listeners map[surface.ListenerID]listener
	popups    map[surface.PopupHandle]Popup

	calls  map[string]int
	total  int
	fail   map[string]failure
	panics map[string]bool
}

type failure struct {
	err   error
	count int // <= 0 means every call
}

func newSurface(cfg surface.Config, onReady func()) *Surface {
	return &Surface{
		cfg:       cfg,
		onReady:   onReady,
		markers:   make(map[surface.MarkerHandle]Marker),
		sources:   make(map[string]*geojson.FeatureCollection),
		layers:    make(map[string]surface.LayerSpec),
		listeners: make(map[surface.ListenerID]listener),
		popups:    make(map[surface.PopupHandle]Popup),
		calls:     make(map[string]int),
		fail:      make(map[string]failure),
		panics:    make(map[string]bool),
	}
}

// FireReady marks the surface ready and runs the ready callback once.
func (s *Surface) FireReady() {
	s.readyOnce.Do(func() {
		s.mu.Lock()
		if s.removed {
			s.mu.Unlock()
			return
		}
		s.ready = true
		cb := s.onReady
		s.mu.Unlock()
		if cb != nil {
			cb()
		}
	})
}

// FailOn makes the next n calls of op fail with err (n <= 0: every call).
func (s *Surface) FailOn(op string, err error, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op] = failure{err: err, count: n}
}

// PanicOn makes every call of op panic until cleared with ClearFailures.
func (s *Surface) PanicOn(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panics[op] = true
}

func (s *Surface) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = make(map[string]failure)
	s.panics = make(map[string]bool)
}

// begin counts the call and applies injected failures. Callers hold s.mu.
func (s *Surface) begin(op string) error {
	s.calls[op]++
	s.total++
	if s.panics[op] {
		panic(fmt.Sprintf("memsurface: injected panic in %s", op))
	}
	if f, ok := s.fail[op]; ok {
		if f.count > 0 {
			f.count--
			if f.count == 0 {
				delete(s.fail, op)
			} else {
				s.fail[op] = f
			}
		}
		return f.err
	}
	if s.removed {
		return surface.ErrSurfaceRemoved
	}
	return nil
}

func (s *Surface) CreateMarker(el surface.MarkerElement, at surface.LngLat) (surface.MarkerHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpCreateMarker); err != nil {
		return "", err
	}
	h := surface.MarkerHandle("marker-" + uuid.NewString())
	el.Classes = append([]string(nil), el.Classes...)
	s.markers[h] = Marker{Handle: h, Element: el, At: at}
	return h, nil
}

func (s *Surface) RemoveMarker(h surface.MarkerHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpRemoveMarker); err != nil {
		return err
	}
	if _, ok := s.markers[h]; !ok {
		return surface.ErrMarkerNotFound
	}
	delete(s.markers, h)
	return nil
}

func (s *Surface) AddSource(id string, data *geojson.FeatureCollection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpAddSource); err != nil {
		return err
	}
	if _, ok := s.sources[id]; ok {
		return surface.ErrSourceExists
	}
	s.sources[id] = data
	return nil
}

func (s *Surface) RemoveSource(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpRemoveSource); err != nil {
		return err
	}
	if _, ok := s.sources[id]; !ok {
		return surface.ErrSourceNotFound
	}
	for _, l := range s.layers {
		if l.Source == id {
			return surface.ErrSourceInUse
		}
	}
	delete(s.sources, id)
	return nil
}

func (s *Surface) AddLayer(spec surface.LayerSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpAddLayer); err != nil {
		return err
	}
	if _, ok := s.layers[spec.ID]; ok {
		return surface.ErrLayerExists
	}
	if _, ok := s.sources[spec.Source]; !ok {
		return surface.ErrSourceNotFound
	}
	s.layers[spec.ID] = spec
	return nil
}

func (s *Surface) RemoveLayer(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpRemoveLayer); err != nil {
		return err
	}
	if _, ok := s.layers[id]; !ok {
		return surface.ErrLayerNotFound
	}
	delete(s.layers, id)
	return nil
}

func (s *Surface) On(target surface.Target, event string, h surface.Handler) (surface.ListenerID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpOn); err != nil {
		return "", err
	}
	switch target.Kind {
	case surface.TargetMarker:
		if _, ok := s.markers[surface.MarkerHandle(target.ID)]; !ok {
			return "", surface.ErrMarkerNotFound
		}
	case surface.TargetLayer:
		if _, ok := s.layers[target.ID]; !ok {
			return "", surface.ErrLayerNotFound
		}
	}
	id := surface.ListenerID("listener-" + uuid.NewString())
	s.listeners[id] = listener{target: target, event: event, handler: h}
	return id, nil
}

func (s *Surface) Off(id surface.ListenerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpOff); err != nil {
		return err
	}
	if _, ok := s.listeners[id]; !ok {
		return surface.ErrListenerNotFound
	}
	delete(s.listeners, id)
	return nil
}

func (s *Surface) OpenPopup(at surface.LngLat, html string) (surface.PopupHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpOpenPopup); err != nil {
		return "", err
	}
	h := surface.PopupHandle("popup-" + uuid.NewString())
	s.popups[h] = Popup{Handle: h, At: at, HTML: html}
	return h, nil
}

func (s *Surface) ClosePopup(h surface.PopupHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpClosePopup); err != nil {
		return err
	}
	if _, ok := s.popups[h]; !ok {
		return surface.ErrPopupNotFound
	}
	delete(s.popups, h)
	return nil
}

// Remove destroys the surface. Anything still attached is dropped with it.
func (s *Surface) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpRemove); err != nil {
		return err
	}
	s.removed = true
	s.ready = false
	return nil
}

// Click fires every handler registered for event on target, outside the lock.
func (s *Surface) Click(target surface.Target, at surface.LngLat, props map[string]any) int {
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return 0
	}
	var handlers []surface.Handler
	ids := make([]string, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	for _, id := range ids {
		l := s.listeners[surface.ListenerID(id)]
		if l.target == target && l.event == surface.EventClick {
			handlers = append(handlers, l.handler)
		}
	}
	s.mu.Unlock()

	ev := surface.Event{Name: surface.EventClick, Target: target, LngLat: at, Properties: props}
	for _, h := range handlers {
		h(ev)
	}
	return len(handlers)
}

func (s *Surface) ClickMap(at surface.LngLat) int {
	return s.Click(surface.MapTarget(), at, nil)
}

// ClickMarker clicks a marker at its own position.
func (s *Surface) ClickMarker(h surface.MarkerHandle) int {
	s.mu.Lock()
	m, ok := s.markers[h]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return s.Click(surface.MarkerTarget(h), m.At, nil)
}

// ClickLayer clicks a layer at the pointer position with the given feature
// properties under the pointer.
func (s *Surface) ClickLayer(layerID string, at surface.LngLat, props map[string]any) int {
	return s.Click(surface.LayerTarget(layerID), at, props)
}

func (s *Surface) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Surface) Removed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removed
}

func (s *Surface) Config() surface.Config {
	return s.cfg
}

// Calls returns the total number of mutating calls made so far.
func (s *Surface) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *Surface) CallCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Surface) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[string]int)
	s.total = 0
}

// Markers returns live markers ordered by kind, then position, then handle.
func (s *Surface) Markers() []Marker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Marker, 0, len(s.markers))
	for _, m := range s.markers {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Element.Kind != out[j].Element.Kind {
			return out[i].Element.Kind < out[j].Element.Kind
		}
		if out[i].At.Lat != out[j].At.Lat {
			return out[i].At.Lat < out[j].At.Lat
		}
		if out[i].At.Lng != out[j].At.Lng {
			return out[i].At.Lng < out[j].At.Lng
		}
		return out[i].Handle < out[j].Handle
	})
	return out
}

// MarkersOfKind filters Markers by element kind.
func (s *Surface) MarkersOfKind(kind string) []Marker {
	var out []Marker
	for _, m := range s.Markers() {
		if m.Element.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func (s *Surface) MarkerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.markers)
}

func (s *Surface) SourceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sources)
}

func (s *Surface) LayerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.layers)
}

func (s *Surface) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// ListenerCountOn counts listeners attached to targets of the given kind.
func (s *Surface) ListenerCountOn(kind surface.TargetKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.listeners {
		if l.target.Kind == kind {
			n++
		}
	}
	return n
}

func (s *Surface) Source(id string) (*geojson.FeatureCollection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fc, ok := s.sources[id]
	return fc, ok
}

func (s *Surface) Layer(id string) (surface.LayerSpec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.layers[id]
	return l, ok
}

func (s *Surface) Popups() []Popup {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Popup, 0, len(s.popups))
	for _, p := range s.popups {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}
