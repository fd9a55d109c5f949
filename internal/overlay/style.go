package overlay

import (
	"strconv"
	"strings"

	"safemap/core-go/internal/surface"
)

// Element kinds placed on the surface.
const (
	KindIncident         = "incident"
	KindRouteStart       = "route-start"
	KindRouteEnd         = "route-end"
	KindGroup            = "group"
	KindUserLocation     = "user-location"
	KindSelectedLocation = "selected-location"
)

// Marker classes.
const (
	ClassUrgent   = "urgent"
	ClassPulse    = "pulse"
	ClassVerified = "verified"
)

type Palette struct {
	Safe       string `yaml:"safe"`
	Moderate   string `yaml:"moderate"`
	Caution    string `yaml:"caution"`
	Low        string `yaml:"low"`
	Medium     string `yaml:"medium"`
	High       string `yaml:"high"`
	Critical   string `yaml:"critical"`
	RouteStart string `yaml:"route_start"`
	RouteEnd   string `yaml:"route_end"`
	Group      string `yaml:"group"`
	User       string `yaml:"user"`
	Selected   string `yaml:"selected"`
}

func DefaultPalette() Palette {
	return Palette{
		Safe:       "#22c55e",
		Moderate:   "#eab308",
		Caution:    "#ef4444",
		Low:        "#3b82f6",
		Medium:     "#f59e0b",
		High:       "#f97316",
		Critical:   "#dc2626",
		RouteStart: "#16a34a",
		RouteEnd:   "#b91c1c",
		Group:      "#8b5cf6",
		User:       "#2563eb",
		Selected:   "#0f172a",
	}
}

// withDefaults fills empty entries from DefaultPalette.
func (p Palette) withDefaults() Palette {
	d := DefaultPalette()
	fill := func(v *string, def string) {
		if strings.TrimSpace(*v) == "" {
			*v = def
		}
	}
	fill(&p.Safe, d.Safe)
	fill(&p.Moderate, d.Moderate)
	fill(&p.Caution, d.Caution)
	fill(&p.Low, d.Low)
	fill(&p.Medium, d.Medium)
	fill(&p.High, d.High)
	fill(&p.Critical, d.Critical)
	fill(&p.RouteStart, d.RouteStart)
	fill(&p.RouteEnd, d.RouteEnd)
	fill(&p.Group, d.Group)
	fill(&p.User, d.User)
	fill(&p.Selected, d.Selected)
	return p
}

// Thresholds split safety scores into the three route tiers.
type Thresholds struct {
	Safe     float64 `yaml:"safe"`
	Moderate float64 `yaml:"moderate"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Safe: 75, Moderate: 50}
}

func (t Thresholds) withDefaults() Thresholds {
	if t.Safe <= 0 && t.Moderate <= 0 {
		return DefaultThresholds()
	}
	if t.Moderate > t.Safe {
		t.Moderate, t.Safe = t.Safe, t.Moderate
	}
	return t
}

// Tier names a route's safety band.
func (t Thresholds) Tier(score float64) string {
	switch {
	case score >= t.Safe:
		return "safe"
	case score >= t.Moderate:
		return "moderate"
	default:
		return "caution"
	}
}

// SafetyColor is the Go mirror of the step expression used by the route layer.
func SafetyColor(score float64, t Thresholds, p Palette) string {
	switch t.Tier(score) {
	case "safe":
		return p.Safe
	case "moderate":
		return p.Moderate
	default:
		return p.Caution
	}
}

func normalizeSeverity(s string) string {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "low", "medium", "high", "critical":
		return v
	default:
		return "medium"
	}
}

func severityColor(severity string, p Palette) string {
	switch normalizeSeverity(severity) {
	case "low":
		return p.Low
	case "high":
		return p.High
	case "critical":
		return p.Critical
	default:
		return p.Medium
	}
}

func incidentElement(i Incident, p Palette) surface.MarkerElement {
	severity := normalizeSeverity(i.Severity)
	el := surface.MarkerElement{
		Kind:    KindIncident,
		Classes: []string{"severity-" + severity},
		Color:   severityColor(severity, p),
		Title:   i.Title,
		Size:    28,
	}
	if i.Urgent {
		el.Classes = append(el.Classes, ClassUrgent, ClassPulse)
		el.Size = 34
		el.Label = "!"
	}
	if i.Verified {
		el.Classes = append(el.Classes, ClassVerified)
		el.Badge = "✓"
	}
	return el
}

func routeStartElement(r Route, p Palette) surface.MarkerElement {
	return surface.MarkerElement{
		Kind:  KindRouteStart,
		Color: p.RouteStart,
		Label: "A",
		Title: r.Name + " (start)",
		Size:  24,
	}
}

func routeEndElement(r Route, p Palette) surface.MarkerElement {
	return surface.MarkerElement{
		Kind:  KindRouteEnd,
		Color: p.RouteEnd,
		Label: "B",
		Title: r.Name + " (end)",
		Size:  24,
	}
}

func memberBadge(n int) string {
	switch {
	case n <= 0:
		return ""
	case n > 99:
		return "99+"
	default:
		return strconv.Itoa(n)
	}
}

func groupElement(g Group, p Palette) surface.MarkerElement {
	return surface.MarkerElement{
		Kind:  KindGroup,
		Color: p.Group,
		Badge: memberBadge(g.MemberCount),
		Title: g.Name,
		Size:  30,
	}
}

func userLocationElement(p Palette) surface.MarkerElement {
	return surface.MarkerElement{
		Kind:    KindUserLocation,
		Classes: []string{ClassPulse},
		Color:   p.User,
		Title:   "You are here",
		Size:    18,
	}
}

func selectedLocationElement(p Palette) surface.MarkerElement {
	return surface.MarkerElement{
		Kind:  KindSelectedLocation,
		Color: p.Selected,
		Title: "Selected location",
		Size:  22,
	}
}
