package sqlcgen

import "time"

type Incident struct {
	ID          string
	Type        string
	Title       string
	Description *string
	Severity    string
	Urgent      bool
	Verified    bool
	Latitude    *float64
	Longitude   *float64
	ReportedAt  time.Time
}

type SafeRoute struct {
	ID          string
	Name        string
	Description *string
	SafetyScore float64
	Lighting    *string
	StartLat    *float64
	StartLng    *float64
	EndLat      *float64
	EndLng      *float64
}

type CommunityGroup struct {
	ID          string
	Name        string
	Description *string
	MemberCount int32
	Latitude    *float64
	Longitude   *float64
}

type DatasetStamp struct {
	UpdatedAt *time.Time
	Rows      int64
}
