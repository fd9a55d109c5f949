package overlay

import (
	"fmt"
	"strings"
	"time"

	"safemap/core-go/internal/surface"
)

// Category names one independently reconciled group of map elements.
type Category string

const (
	CategoryIncidents        Category = "incidents"
	CategoryRoutes           Category = "routes"
	CategoryGroups           Category = "groups"
	CategoryUserLocation     Category = "user_location"
	CategorySelectedLocation Category = "selected_location"

	// CategoryRouteLine is the shared vector layer drawn for all routes.
	CategoryRouteLine Category = "route_line"
)

// Categories lists every category in reconciliation order.
var Categories = []Category{
	CategoryIncidents,
	CategoryRoutes,
	CategoryRouteLine,
	CategoryGroups,
	CategoryUserLocation,
	CategorySelectedLocation,
}

// ParseActive normalises an active-category selector. Only the three data
// categories can be selected; anything else selects nothing.
func ParseActive(raw string) (Category, bool) {
	switch c := Category(strings.ToLower(strings.TrimSpace(raw))); c {
	case CategoryIncidents, CategoryRoutes, CategoryGroups:
		return c, true
	case "":
		return "", true
	default:
		return "", false
	}
}

type Incident struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Severity    string    `json:"severity"`
	Urgent      bool      `json:"urgent"`
	Verified    bool      `json:"verified"`
	Latitude    *float64  `json:"latitude"`
	Longitude   *float64  `json:"longitude"`
	ReportedAt  time.Time `json:"reported_at,omitempty"`
}

type Route struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	SafetyScore float64  `json:"safety_score"`
	Lighting    string   `json:"lighting,omitempty"`
	StartLat    *float64 `json:"start_lat"`
	StartLng    *float64 `json:"start_lng"`
	EndLat      *float64 `json:"end_lat"`
	EndLng      *float64 `json:"end_lng"`
}

type Group struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	MemberCount int      `json:"member_count"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
}

// Data is the dataset side of the input: entities loaded from the store.
type Data struct {
	Incidents []Incident `json:"incidents"`
	Routes    []Route    `json:"routes"`
	Groups    []Group    `json:"groups"`
}

// View is the UI side of the input.
type View struct {
	Active           Category        `json:"active"`
	ShowUserLocation bool            `json:"show_user_location"`
	UserLocation     *surface.LngLat `json:"user_location,omitempty"`
	SelectedLocation *surface.LngLat `json:"selected_location,omitempty"`
}

// Props is the full declarative input of one sync.
type Props struct {
	Data
	View
}

func point(lat, lng *float64) (surface.LngLat, error) {
	if lat == nil || lng == nil {
		return surface.LngLat{}, ErrMissingCoordinates
	}
	p := surface.LngLat{Lng: *lng, Lat: *lat}
	if !p.Valid() {
		return surface.LngLat{}, fmt.Errorf("%w: %s", ErrInvalidCoordinates, p)
	}
	return p, nil
}

func (i Incident) Position() (surface.LngLat, error) { return point(i.Latitude, i.Longitude) }
func (g Group) Position() (surface.LngLat, error) { return point(g.Latitude, g.Longitude) }
func (r Route) Start() (surface.LngLat, error) { return point(r.StartLat, r.StartLng) }
func (r Route) End() (surface.LngLat, error) { return point(r.EndLat, r.EndLng) }
