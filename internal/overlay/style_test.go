package overlay

import (
	"strings"
	"testing"
)

func TestIncidentElement(t *testing.T) {
	p := DefaultPalette()

	plain := incidentElement(Incident{Title: "Theft", Severity: "LOW"}, p)
	if !plain.HasClass("severity-low") || plain.Color != p.Low || plain.Size != 28 || plain.Label != "" {
		t.Fatalf("unexpected plain element %+v", plain)
	}

	unknown := incidentElement(Incident{Severity: "catastrophic"}, p)
	if !unknown.HasClass("severity-medium") || unknown.Color != p.Medium {
		t.Fatalf("expected unknown severity to fall back to medium, got %+v", unknown)
	}

	both := incidentElement(Incident{Severity: "critical", Urgent: true, Verified: true}, p)
	for _, class := range []string{ClassUrgent, ClassPulse, ClassVerified} {
		if !both.HasClass(class) {
			t.Fatalf("expected class %s, got %v", class, both.Classes)
		}
	}
	if both.Badge != "✓" || both.Label != "!" || both.Size != 34 || both.Color != p.Critical {
		t.Fatalf("unexpected urgent verified element %+v", both)
	}
}

func TestMemberBadge(t *testing.T) {
	cases := map[int]string{-1: "", 0: "", 7: "7", 99: "99", 100: "99+"}
	for n, want := range cases {
		if got := memberBadge(n); got != want {
			t.Fatalf("memberBadge(%d): expected %q, got %q", n, want, got)
		}
	}
}

func TestThresholds(t *testing.T) {
	d := Thresholds{}.withDefaults()
	if d != DefaultThresholds() {
		t.Fatalf("expected defaults, got %+v", d)
	}
	swapped := Thresholds{Safe: 40, Moderate: 90}.withDefaults()
	if swapped.Safe != 90 || swapped.Moderate != 40 {
		t.Fatalf("expected inverted thresholds swapped, got %+v", swapped)
	}

	p := DefaultPalette()
	cases := []struct {
		score float64
		tier  string
		color string
	}{
		{100, "safe", p.Safe},
		{75, "safe", p.Safe},
		{74.9, "moderate", p.Moderate},
		{50, "moderate", p.Moderate},
		{49, "caution", p.Caution},
		{0, "caution", p.Caution},
	}
	for _, tc := range cases {
		if got := d.Tier(tc.score); got != tc.tier {
			t.Fatalf("Tier(%v): expected %s, got %s", tc.score, tc.tier, got)
		}
		if got := SafetyColor(tc.score, d, p); got != tc.color {
			t.Fatalf("SafetyColor(%v): expected %s, got %s", tc.score, tc.color, got)
		}
	}
}

func TestPaletteWithDefaultsKeepsOverrides(t *testing.T) {
	p := Palette{Safe: "#00ff00"}.withDefaults()
	if p.Safe != "#00ff00" {
		t.Fatalf("expected override kept, got %s", p.Safe)
	}
	if p.Caution != DefaultPalette().Caution {
		t.Fatalf("expected default caution, got %s", p.Caution)
	}
}

func TestParseActive(t *testing.T) {
	cases := []struct {
		in   string
		want Category
		ok   bool
	}{
		{"incidents", CategoryIncidents, true},
		{" Routes ", CategoryRoutes, true},
		{"groups", CategoryGroups, true},
		{"", "", true},
		{"user_location", "", false},
		{"weather", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseActive(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseActive(%q): expected (%q, %v), got (%q, %v)", tc.in, tc.want, tc.ok, got, ok)
		}
	}
}

func TestPopups_escapeContent(t *testing.T) {
	html := incidentPopup(Incident{Title: "<script>alert(1)</script>", Type: "theft", Severity: "high", Urgent: true})
	if strings.Contains(html, "<script>") {
		t.Fatalf("expected title escaped, got %q", html)
	}
	if !strings.Contains(html, "Urgent") || !strings.Contains(html, "High") {
		t.Fatalf("expected severity and urgency, got %q", html)
	}

	routeHTML := routePopup(Route{Name: "Main Rd", SafetyScore: 61.6, Lighting: "poor"}, DefaultThresholds())
	if !strings.Contains(routeHTML, "Safety score 62 (moderate)") || !strings.Contains(routeHTML, "Lighting: poor") {
		t.Fatalf("unexpected route popup %q", routeHTML)
	}

	groupHTML := groupPopup(Group{Name: "Night Walkers", MemberCount: 12})
	if !strings.Contains(groupHTML, "12 members") {
		t.Fatalf("unexpected group popup %q", groupHTML)
	}
}
