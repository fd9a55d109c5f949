// Package feed polls the dataset store and pushes incidents, routes and
// groups into the overlay whenever they change.
package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"safemap/core-go/internal/fingerprint"
	"safemap/core-go/internal/metrics"
	"safemap/core-go/internal/overlay"
	"safemap/core-go/internal/sqlcgen"
)

// Queries is the minimal DB interface the feed needs. *sqlcgen.Queries
// satisfies it.
type Queries interface {
	GetDatasetStamp(ctx context.Context) (sqlcgen.DatasetStamp, error)
	ListIncidents(ctx context.Context, limit int32) ([]sqlcgen.Incident, error)
	ListSafeRoutes(ctx context.Context, limit int32) ([]sqlcgen.SafeRoute, error)
	ListCommunityGroups(ctx context.Context, limit int32) ([]sqlcgen.CommunityGroup, error)
}

// Target receives each changed dataset. *overlay.Owner satisfies it.
type Target interface {
	SetData(d overlay.Data) overlay.SyncReport
}

type Worker struct {
	log          zerolog.Logger
	q            Queries
	target       Target
	pollInterval time.Duration
	limit        int32
	metrics      *metrics.Metrics

	stamp     sqlcgen.DatasetStamp
	haveStamp bool
	pushed    fingerprint.Fingerprint
}

type Options struct {
	PollInterval time.Duration
	// Limit caps the rows loaded per table.
	Limit int
}

func New(log zerolog.Logger, q Queries, target Target, opts Options, m *metrics.Metrics) *Worker {
	pi := opts.PollInterval
	if pi <= 0 {
		pi = 5 * time.Second
	}
	limit := opts.Limit
	if limit <= 0 || limit > 10000 {
		limit = 2000
	}
	return &Worker{
		log:          log.With().Str("component", "feed").Logger(),
		q:            q,
		target:       target,
		pollInterval: pi,
		limit:        int32(limit),
		metrics:      m,
	}
}

// Run polls until ctx is done. The first poll happens immediately; failures
// back off exponentially.
func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.q == nil || w.target == nil {
		return
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	var consecutiveFailures int
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if _, err := w.runOnce(ctx); err != nil {
			consecutiveFailures++
		} else {
			consecutiveFailures = 0
		}

		timer.Reset(backoffDuration(w.pollInterval, consecutiveFailures))
	}
}

func backoffDuration(base time.Duration, failures int) time.Duration {
	if base <= 0 {
		base = 5 * time.Second
	}
	if failures <= 0 {
		return base
	}

	// Exponential-ish backoff: base * 2^failures, capped.
	if failures > 6 {
		failures = 6
	}
	d := base * time.Duration(1<<failures)
	if d > 2*time.Minute {
		return 2 * time.Minute
	}
	return d
}

// runOnce loads the dataset if the store changed since the last poll and
// pushes it if it differs from the last pushed one. It reports whether a
// push happened.
func (w *Worker) runOnce(ctx context.Context) (bool, error) {
	start := time.Now()

	stamp, err := w.q.GetDatasetStamp(ctx)
	stamped := err == nil
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// No stamp to compare against; fall through to a full load.
	case err != nil:
		w.log.Error().Err(err).Msg("feed failed to read dataset stamp")
		w.metrics.ObserveFeedPoll("error", time.Since(start))
		return false, err
	case w.haveStamp && sameStamp(stamp, w.stamp):
		w.metrics.ObserveFeedPoll("unchanged", time.Since(start))
		return false, nil
	}

	data, err := w.load(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("feed failed to load dataset")
		w.metrics.ObserveFeedPoll("error", time.Since(start))
		return false, err
	}
	w.stamp, w.haveStamp = stamp, stamped

	fp := datasetFingerprint(data)
	if fp == w.pushed {
		w.metrics.ObserveFeedPoll("unchanged", time.Since(start))
		return false, nil
	}

	report := w.target.SetData(data)
	w.pushed = fp
	w.metrics.ObserveFeedPoll("changed", time.Since(start))

	ev := w.log.Info().
		Int("incidents", len(data.Incidents)).
		Int("routes", len(data.Routes)).
		Int("groups", len(data.Groups))
	for _, out := range report.Outcomes {
		if out.Status != overlay.StatusUnchanged {
			ev = ev.Str(string(out.Category), string(out.Status))
		}
	}
	ev.Dur("duration", time.Since(start)).Msg("dataset pushed")
	return true, nil
}

func (w *Worker) load(ctx context.Context) (overlay.Data, error) {
	incidents, err := w.q.ListIncidents(ctx, w.limit)
	if err != nil {
		return overlay.Data{}, fmt.Errorf("list incidents: %w", err)
	}
	routes, err := w.q.ListSafeRoutes(ctx, w.limit)
	if err != nil {
		return overlay.Data{}, fmt.Errorf("list safe routes: %w", err)
	}
	groups, err := w.q.ListCommunityGroups(ctx, w.limit)
	if err != nil {
		return overlay.Data{}, fmt.Errorf("list community groups: %w", err)
	}

	var d overlay.Data
	for _, row := range incidents {
		d.Incidents = append(d.Incidents, toIncident(row))
	}
	for _, row := range routes {
		d.Routes = append(d.Routes, toRoute(row))
	}
	for _, row := range groups {
		d.Groups = append(d.Groups, toGroup(row))
	}
	return d, nil
}

func sameStamp(a, b sqlcgen.DatasetStamp) bool {
	if a.Rows != b.Rows {
		return false
	}
	if a.UpdatedAt == nil || b.UpdatedAt == nil {
		return a.UpdatedAt == nil && b.UpdatedAt == nil
	}
	return a.UpdatedAt.Equal(*b.UpdatedAt)
}
