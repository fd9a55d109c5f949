package memsurface

import (
	"sort"

	"safemap/core-go/internal/surface"
)

type SourceView struct {
	ID       string `json:"id"`
	Features int    `json:"features"`
}

// Snapshot is a point-in-time view of everything live on a surface.
type Snapshot struct {
	Ready     bool                `json:"ready"`
	Removed   bool                `json:"removed"`
	Markers   []Marker            `json:"markers"`
	Sources   []SourceView        `json:"sources"`
	Layers    []surface.LayerSpec `json:"layers"`
	Listeners map[string]int      `json:"listeners"`
	Popups    []Popup             `json:"popups"`
	Calls     int                 `json:"calls"`
}

func (s *Surface) Snapshot() Snapshot {
	markers := s.Markers()
	popups := s.Popups()

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Ready:     s.ready,
		Removed:   s.removed,
		Markers:   markers,
		Sources:   make([]SourceView, 0, len(s.sources)),
		Layers:    make([]surface.LayerSpec, 0, len(s.layers)),
		Listeners: map[string]int{},
		Popups:    popups,
		Calls:     s.total,
	}
	for id, fc := range s.sources {
		n := 0
		if fc != nil {
			n = len(fc.Features)
		}
		snap.Sources = append(snap.Sources, SourceView{ID: id, Features: n})
	}
	sort.Slice(snap.Sources, func(i, j int) bool { return snap.Sources[i].ID < snap.Sources[j].ID })
	for _, l := range s.layers {
		snap.Layers = append(snap.Layers, l)
	}
	sort.Slice(snap.Layers, func(i, j int) bool { return snap.Layers[i].ID < snap.Layers[j].ID })
	for _, l := range s.listeners {
		snap.Listeners[string(l.target.Kind)]++
	}
	return snap
}
