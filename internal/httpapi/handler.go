package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"safemap/core-go/internal/metrics"
	"safemap/core-go/internal/overlay"
	"safemap/core-go/internal/resource"
	"safemap/core-go/internal/surface"
	"safemap/core-go/internal/surface/memsurface"
)

// Overlay is the slice of *overlay.Owner the API drives.
type Overlay interface {
	State() overlay.State
	Ready() bool
	Props() overlay.Props
	SetData(d overlay.Data) overlay.SyncReport
	SetView(v overlay.View) overlay.SyncReport
	ClearSelection() overlay.Outcome
	Counts() map[overlay.Category]int
	RouteLayerState() overlay.VectorLayerState
	ResourceStats() resource.Stats
	MarkerHandle(key string) (surface.MarkerHandle, bool)
	Surface() surface.Surface
}

// Pinger reports whether the dataset store is reachable. *db.Pool
// satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// previewSurface is implemented by engines that can render their live
// state and accept simulated clicks.
type previewSurface interface {
	Snapshot() memsurface.Snapshot
	Popups() []memsurface.Popup
	ClickMap(at surface.LngLat) int
	ClickMarker(h surface.MarkerHandle) int
	ClickLayer(layerID string, at surface.LngLat, props map[string]any) int
}

type Handler struct {
	log     zerolog.Logger
	overlay Overlay
	db      Pinger
	metrics *metrics.Metrics
}

// NewHandler wires the API. db may be nil when no dataset store is
// configured.
func NewHandler(log zerolog.Logger, ov Overlay, db Pinger, m *metrics.Metrics) *Handler {
	return &Handler{
		log:     log.With().Str("component", "httpapi").Logger(),
		overlay: ov,
		db:      db,
		metrics: m,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Route("/overlay", func(r chi.Router) {
				r.Get("/", h.handleGetOverlay)
				r.Put("/view", h.handlePutView)
				r.Put("/data", h.handlePutData)
				r.Post("/click", h.handleClick)
				r.Delete("/selection", h.handleClearSelection)
				r.Post("/markers/{key}/click", h.handleMarkerClick)
			})
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		// Route patterns keep the path label bounded.
		pattern := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			pattern = rc.RoutePattern()
		}
		h.metrics.ObserveHTTPRequest(r.Method, pattern, ww.Status(), time.Since(start))

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if !h.overlay.Ready() {
		h.writeError(w, http.StatusServiceUnavailable, "overlay_not_ready", "map surface not ready", map[string]any{"state": h.overlay.State().String()})
		return
	}

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
			return
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

// preview returns the live surface when it supports inspection, writing an
// error response otherwise.
func (h *Handler) preview(w http.ResponseWriter) (previewSurface, bool) {
	if !h.overlay.Ready() {
		h.writeError(w, http.StatusConflict, "overlay_not_ready", "map surface not ready", map[string]any{"state": h.overlay.State().String()})
		return nil, false
	}
	s, ok := h.overlay.Surface().(previewSurface)
	if !ok {
		h.writeError(w, http.StatusNotImplemented, "preview_unsupported", "map engine does not support inspection", nil)
		return nil, false
	}
	return s, true
}
