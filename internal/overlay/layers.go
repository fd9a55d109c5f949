package overlay

import (
	"strings"

	"safemap/core-go/internal/fingerprint"
	"safemap/core-go/internal/surface"
)

// Singleton keys for the location categories.
const (
	UserLocationKey     = "user-location"
	SelectedLocationKey = "selected-location"
)

func requireID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrMissingID
	}
	return nil
}

func incidentLayer(p Palette) layer[Incident] {
	return layer[Incident]{
		key: func(i Incident) string { return i.ID },
		fingerprint: func(b *fingerprint.Builder, i Incident) {
			b.Str(i.ID).OptFloat(i.Latitude).OptFloat(i.Longitude).
				Str(normalizeSeverity(i.Severity)).Bool(i.Urgent).Bool(i.Verified).Str(i.Title)
		},
		placements: func(i Incident) ([]placement, error) {
			if err := requireID(i.ID); err != nil {
				return nil, err
			}
			at, err := i.Position()
			if err != nil {
				return nil, err
			}
			return []placement{{key: i.ID, at: at, el: incidentElement(i, p)}}, nil
		},
		popup: incidentPopup,
	}
}

// RouteStartKey and RouteEndKey name the two markers drawn per route.
func RouteStartKey(id string) string { return id + ":start" }
func RouteEndKey(id string) string { return id + ":end" }

func routeMarkerLayer(p Palette, t Thresholds) layer[Route] {
	return layer[Route]{
		key: func(r Route) string { return r.ID },
		fingerprint: func(b *fingerprint.Builder, r Route) {
			b.Str(r.ID).OptFloat(r.StartLat).OptFloat(r.StartLng).
				OptFloat(r.EndLat).OptFloat(r.EndLng).Str(r.Name)
		},
		placements: func(r Route) ([]placement, error) {
			if err := requireID(r.ID); err != nil {
				return nil, err
			}
			start, err := r.Start()
			if err != nil {
				return nil, err
			}
			end, err := r.End()
			if err != nil {
				return nil, err
			}
			return []placement{
				{key: RouteStartKey(r.ID), at: start, el: routeStartElement(r, p)},
				{key: RouteEndKey(r.ID), at: end, el: routeEndElement(r, p)},
			}, nil
		},
		popup: func(r Route) string { return routePopup(r, t) },
	}
}

func groupLayer(p Palette) layer[Group] {
	return layer[Group]{
		key: func(g Group) string { return g.ID },
		fingerprint: func(b *fingerprint.Builder, g Group) {
			b.Str(g.ID).OptFloat(g.Latitude).OptFloat(g.Longitude).
				Str(memberBadge(g.MemberCount)).Str(g.Name)
		},
		placements: func(g Group) ([]placement, error) {
			if err := requireID(g.ID); err != nil {
				return nil, err
			}
			at, err := g.Position()
			if err != nil {
				return nil, err
			}
			return []placement{{key: g.ID, at: at, el: groupElement(g, p)}}, nil
		},
		popup: groupPopup,
	}
}

func locationLayer(key string, el surface.MarkerElement, label string) layer[surface.LngLat] {
	return layer[surface.LngLat]{
		key: func(surface.LngLat) string { return key },
		fingerprint: func(b *fingerprint.Builder, at surface.LngLat) {
			b.Float(at.Lng).Float(at.Lat)
		},
		placements: func(at surface.LngLat) ([]placement, error) {
			if !at.Valid() {
				return nil, ErrInvalidCoordinates
			}
			return []placement{{key: key, at: at, el: el}}, nil
		},
		popup: func(surface.LngLat) string { return locationPopup(label) },
	}
}
