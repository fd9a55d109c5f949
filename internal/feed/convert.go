package feed

import (
	"safemap/core-go/internal/fingerprint"
	"safemap/core-go/internal/overlay"
	"safemap/core-go/internal/sqlcgen"
)

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toIncident(row sqlcgen.Incident) overlay.Incident {
	return overlay.Incident{
		ID:          row.ID,
		Type:        row.Type,
		Title:       row.Title,
		Description: deref(row.Description),
		Severity:    row.Severity,
		Urgent:      row.Urgent,
		Verified:    row.Verified,
		Latitude:    row.Latitude,
		Longitude:   row.Longitude,
		ReportedAt:  row.ReportedAt,
	}
}

func toRoute(row sqlcgen.SafeRoute) overlay.Route {
	return overlay.Route{
		ID:          row.ID,
		Name:        row.Name,
		Description: deref(row.Description),
		SafetyScore: row.SafetyScore,
		Lighting:    deref(row.Lighting),
		StartLat:    row.StartLat,
		StartLng:    row.StartLng,
		EndLat:      row.EndLat,
		EndLng:      row.EndLng,
	}
}

func toGroup(row sqlcgen.CommunityGroup) overlay.Group {
	return overlay.Group{
		ID:          row.ID,
		Name:        row.Name,
		Description: deref(row.Description),
		MemberCount: int(row.MemberCount),
		Latitude:    row.Latitude,
		Longitude:   row.Longitude,
	}
}

// datasetFingerprint covers every field, including ones that only show in
// popups, so any edit in the store reaches the overlay.
func datasetFingerprint(d overlay.Data) fingerprint.Fingerprint {
	b := fingerprint.New("dataset")
	b.Int(len(d.Incidents))
	for _, i := range d.Incidents {
		b.Str(i.ID).Str(i.Type).Str(i.Title).Str(i.Description).Str(i.Severity).
			Bool(i.Urgent).Bool(i.Verified).OptFloat(i.Latitude).OptFloat(i.Longitude).
			Int(int(i.ReportedAt.UnixNano()))
	}
	b.Int(len(d.Routes))
	for _, r := range d.Routes {
		b.Str(r.ID).Str(r.Name).Str(r.Description).Float(r.SafetyScore).Str(r.Lighting).
			OptFloat(r.StartLat).OptFloat(r.StartLng).OptFloat(r.EndLat).OptFloat(r.EndLng)
	}
	b.Int(len(d.Groups))
	for _, g := range d.Groups {
		b.Str(g.ID).Str(g.Name).Str(g.Description).Int(g.MemberCount).
			OptFloat(g.Latitude).OptFloat(g.Longitude)
	}
	return b.Sum()
}
