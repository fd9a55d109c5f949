// Package surface describes the boundary between the overlay core and the map
// rendering engine. The engine itself (tiles, projection, camera) lives on the
// other side of these interfaces.
package surface

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var (
	ErrSurfaceRemoved   = errors.New("surface removed")
	ErrMarkerNotFound   = errors.New("marker not found")
	ErrSourceExists     = errors.New("source already exists")
	ErrSourceNotFound   = errors.New("source not found")
	ErrSourceInUse      = errors.New("source referenced by a layer")
	ErrLayerExists      = errors.New("layer already exists")
	ErrLayerNotFound    = errors.New("layer not found")
	ErrListenerNotFound = errors.New("listener not found")
	ErrPopupNotFound    = errors.New("popup not found")
)

// Event names understood by every engine.
const (
	EventClick = "click"
	EventLoad  = "load"
)

// LngLat is a WGS84 position in the engine's (lng, lat) order.
type LngLat struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

func (p LngLat) Point() orb.Point {
	return orb.Point{p.Lng, p.Lat}
}

func (p LngLat) Valid() bool {
	if math.IsNaN(p.Lng) || math.IsNaN(p.Lat) || math.IsInf(p.Lng, 0) || math.IsInf(p.Lat, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func (p LngLat) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", p.Lng, p.Lat)
}

type (
	MarkerHandle string
	PopupHandle  string
	ListenerID   string
)

type TargetKind string

const (
	TargetMap    TargetKind = "map"
	TargetMarker TargetKind = "marker"
	TargetLayer  TargetKind = "layer"
)

// Target identifies what a listener is attached to: the surface itself, a
// single marker, or a rendered layer.
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id,omitempty"`
}

func MapTarget() Target { return Target{Kind: TargetMap} }
func MarkerTarget(h MarkerHandle) Target { return Target{Kind: TargetMarker, ID: string(h)} }
func LayerTarget(layerID string) Target { return Target{Kind: TargetLayer, ID: layerID} }
func (t Target) String() string { return string(t.Kind) + ":" + t.ID }

// Event is delivered to listeners. For layer events Properties holds the
// properties of the feature under the pointer.
type Event struct {
	Name       string         `json:"name"`
	Target     Target         `json:"target"`
	LngLat     LngLat         `json:"lng_lat"`
	Properties map[string]any `json:"properties,omitempty"`
}

type Handler func(Event)

// MarkerElement is the styled element placed at a marker position. Its
// fields are a pure function of the item being rendered.
type MarkerElement struct {
	Kind    string   `json:"kind"`
	Classes []string `json:"classes,omitempty"`
	Color   string   `json:"color,omitempty"`
	Label   string   `json:"label,omitempty"`
	Badge   string   `json:"badge,omitempty"`
	Title   string   `json:"title,omitempty"`
	Size    int      `json:"size,omitempty"`
}

func (e MarkerElement) HasClass(class string) bool {
	for _, c := range e.Classes {
		if c == class {
			return true
		}
	}
	return false
}

// LayerSpec is a styled rendering rule bound to a named source.
type LayerSpec struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Source string         `json:"source"`
	Paint  map[string]any `json:"paint,omitempty"`
	Layout map[string]any `json:"layout,omitempty"`
}

// Config is handed to the engine when a surface is created.
type Config struct {
	Container string  `json:"container" yaml:"container"`
	Style     string  `json:"style" yaml:"style"`
	Center    LngLat  `json:"center" yaml:"center"`
	Zoom      float64 `json:"zoom" yaml:"zoom"`
}

// Surface is a single live map instance. All methods are synchronous; a
// failing call reports an error (engines may also panic, see Guard).
type Surface interface {
	CreateMarker(el MarkerElement, at LngLat) (MarkerHandle, error)
	RemoveMarker(h MarkerHandle) error
	AddSource(id string, data *geojson.FeatureCollection) error
	RemoveSource(id string) error
	AddLayer(spec LayerSpec) error
	RemoveLayer(id string) error
	On(target Target, event string, h Handler) (ListenerID, error)
	Off(id ListenerID) error
	OpenPopup(at LngLat, html string) (PopupHandle, error)
	ClosePopup(h PopupHandle) error
	Remove() error
}

// Engine creates surfaces. onReady is invoked once when the surface can
// accept mutations; it may run on any goroutine.
type Engine interface {
	NewSurface(cfg Config, onReady func()) (Surface, error)
}

// Guard runs a single engine operation and turns a panic into an error so
// that one misbehaving call never unwinds a whole batch.
func Guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: engine panic: %v", op, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
