package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"safemap/core-go/internal/overlay"
	"safemap/core-go/internal/resource"
	"safemap/core-go/internal/surface"
	"safemap/core-go/internal/surface/memsurface"
)

const (
	overlayMaxMarkers     = 5000
	overlayDefaultMarkers = 500
)

type overlayResponse struct {
	State      string                   `json:"state"`
	Ready      bool                     `json:"ready"`
	View       overlay.View             `json:"view"`
	Counts     map[overlay.Category]int `json:"counts"`
	RouteLayer overlay.VectorLayerState `json:"route_layer"`
	Resources  resource.Stats           `json:"resources"`
	Surface    *memsurface.Snapshot     `json:"surface,omitempty"`
	Truncation overlayTruncation        `json:"truncation"`
}

type overlayTruncation struct {
	Markers truncationMetric `json:"markers"`
}

type truncationMetric struct {
	Returned  int     `json:"returned"`
	Limit     int     `json:"limit"`
	Truncated bool    `json:"truncated"`
	Total     *int    `json:"total,omitempty"`
	Warning   *string `json:"warning,omitempty"`
}

type viewUpdate struct {
	Active           string          `json:"active"`
	ShowUserLocation bool            `json:"show_user_location"`
	UserLocation     *surface.LngLat `json:"user_location,omitempty"`
	SelectedLocation *surface.LngLat `json:"selected_location,omitempty"`
}

type clickRequest struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
	// RouteID clicks the route line layer on that route instead of the
	// bare map.
	RouteID string `json:"route_id,omitempty"`
}

type clickResponse struct {
	Handlers         int                `json:"handlers"`
	Popups           []memsurface.Popup `json:"popups"`
	SelectedLocation *surface.LngLat    `json:"selected_location,omitempty"`
}

func (h *Handler) handleGetOverlay(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimitParam(r.URL.Query().Get("limit"), overlayMaxMarkers, overlayDefaultMarkers)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid limit", map[string]any{"error": err.Error()})
		return
	}

	resp := overlayResponse{
		State:      h.overlay.State().String(),
		Ready:      h.overlay.Ready(),
		View:       h.overlay.Props().View,
		Counts:     h.overlay.Counts(),
		RouteLayer: h.overlay.RouteLayerState(),
		Resources:  h.overlay.ResourceStats(),
		Truncation: overlayTruncation{
			Markers: truncationMetric{Returned: 0, Limit: limit, Truncated: false},
		},
	}

	if s, ok := h.overlay.Surface().(previewSurface); ok {
		snap := s.Snapshot()
		total := len(snap.Markers)
		if total > limit {
			snap.Markers = snap.Markers[:limit]
			warning := fmt.Sprintf("Marker cap hit: showing %d of %d markers.", limit, total)
			resp.Truncation.Markers.Truncated = true
			resp.Truncation.Markers.Warning = &warning
		}
		resp.Truncation.Markers.Returned = len(snap.Markers)
		resp.Truncation.Markers.Total = &total
		resp.Surface = &snap
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handlePutView(w http.ResponseWriter, r *http.Request) {
	var req viewUpdate
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}

	active, ok := overlay.ParseActive(req.Active)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid active category", map[string]any{"active": req.Active})
		return
	}
	for field, at := range map[string]*surface.LngLat{"user_location": req.UserLocation, "selected_location": req.SelectedLocation} {
		if at != nil && !at.Valid() {
			h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid coordinates", map[string]any{"field": field})
			return
		}
	}

	report := h.overlay.SetView(overlay.View{
		Active:           active,
		ShowUserLocation: req.ShowUserLocation,
		UserLocation:     req.UserLocation,
		SelectedLocation: req.SelectedLocation,
	})
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handlePutData(w http.ResponseWriter, r *http.Request) {
	var req overlay.Data
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}

	// Malformed items are skipped and reported by the overlay itself.
	report := h.overlay.SetData(req)
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleClick(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	at := surface.LngLat{Lng: req.Lng, Lat: req.Lat}
	if !at.Valid() {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid coordinates", map[string]any{"lng": req.Lng, "lat": req.Lat})
		return
	}

	s, ok := h.preview(w)
	if !ok {
		return
	}

	var n int
	if req.RouteID != "" {
		n = s.ClickLayer(overlay.RouteLayerID, at, map[string]any{"id": req.RouteID})
	} else {
		n = s.ClickMap(at)
	}

	h.writeJSON(w, http.StatusOK, clickResponse{
		Handlers:         n,
		Popups:           s.Popups(),
		SelectedLocation: h.overlay.Props().SelectedLocation,
	})
}

func (h *Handler) handleMarkerClick(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	s, ok := h.preview(w)
	if !ok {
		return
	}

	handle, ok := h.overlay.MarkerHandle(key)
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "marker not found", map[string]any{"key": key})
		return
	}

	n := s.ClickMarker(handle)
	h.writeJSON(w, http.StatusOK, clickResponse{
		Handlers:         n,
		Popups:           s.Popups(),
		SelectedLocation: h.overlay.Props().SelectedLocation,
	})
}

func (h *Handler) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.overlay.ClearSelection())
}

func parseLimitParam(value string, max, def int) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.New("invalid value")
	}
	if parsed < 1 {
		return 0, errors.New("must be positive")
	}
	if parsed > max {
		parsed = max
	}
	return parsed, nil
}
