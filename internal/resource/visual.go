package resource

import (
	"errors"

	"safemap/core-go/internal/surface"
)

// Marker is a single marker on a surface.
type Marker struct {
	Surface surface.Surface
	Handle  surface.MarkerHandle
}

func (m Marker) Remove() error {
	return m.Surface.RemoveMarker(m.Handle)
}

func (m Marker) String() string {
	return "marker " + string(m.Handle)
}

// VectorLayer is a source plus the one layer rendering it. The layer is
// removed before the source because a layer may not outlive its source.
type VectorLayer struct {
	Surface  surface.Surface
	LayerID  string
	SourceID string
}

func (v VectorLayer) Remove() error {
	layerErr := surface.Guard("remove layer", func() error { return v.Surface.RemoveLayer(v.LayerID) })
	if layerErr != nil && !errors.Is(layerErr, surface.ErrLayerNotFound) {
		// The source is still referenced; removing it would fail too.
		return layerErr
	}
	sourceErr := surface.Guard("remove source", func() error { return v.Surface.RemoveSource(v.SourceID) })
	if sourceErr != nil && errors.Is(sourceErr, surface.ErrSourceNotFound) {
		sourceErr = nil
	}
	if errors.Is(layerErr, surface.ErrLayerNotFound) {
		layerErr = nil
	}
	return errors.Join(layerErr, sourceErr)
}

func (v VectorLayer) String() string {
	return "layer " + v.LayerID + " on source " + v.SourceID
}
