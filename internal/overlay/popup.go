package overlay

import (
	"bytes"
	"html"
	"html/template"
	"strconv"
	"strings"
)

var popupTemplates = template.Must(template.New("popup").Funcs(template.FuncMap{
	"title": func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	},
	"score": func(f float64) string { return strconv.FormatFloat(f, 'f', 0, 64) },
}).Parse(`
{{define "incident"}}<div class="popup popup-incident"><h3>{{.Title}}</h3><p class="meta">{{title .Type}} · {{title .Severity}}{{if .Urgent}} · <strong>Urgent</strong>{{end}}{{if .Verified}} · Verified{{end}}</p>{{with .Description}}<p>{{.}}</p>{{end}}</div>{{end}}
{{define "route"}}<div class="popup popup-route"><h3>{{.Route.Name}}</h3><p class="meta">Safety score {{score .Route.SafetyScore}} ({{.Tier}}){{with .Route.Lighting}} · Lighting: {{.}}{{end}}</p>{{with .Route.Description}}<p>{{.}}</p>{{end}}</div>{{end}}
{{define "group"}}<div class="popup popup-group"><h3>{{.Name}}</h3><p class="meta">{{.MemberCount}} members</p>{{with .Description}}<p>{{.}}</p>{{end}}</div>{{end}}
{{define "location"}}<div class="popup popup-location"><p>{{.}}</p></div>{{end}}
`))

func renderPopup(name string, data any, fallback string) string {
	var buf bytes.Buffer
	if err := popupTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return `<div class="popup">` + html.EscapeString(fallback) + `</div>`
	}
	return buf.String()
}

func incidentPopup(i Incident) string {
	i.Severity = normalizeSeverity(i.Severity)
	return renderPopup("incident", i, i.Title)
}

func routePopup(r Route, t Thresholds) string {
	return renderPopup("route", struct {
		Route Route
		Tier  string
	}{Route: r, Tier: t.Tier(r.SafetyScore)}, r.Name)
}

func groupPopup(g Group) string {
	return renderPopup("group", g, g.Name)
}

func locationPopup(label string) string {
	return renderPopup("location", label, label)
}
