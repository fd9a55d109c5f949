package overlay

import (
	"time"

	"github.com/rs/zerolog"
)

type Status string

const (
	StatusApplied   Status = "applied"
	StatusUnchanged Status = "unchanged"
	StatusBusy      Status = "busy"
	StatusNotReady  Status = "not_ready"
	StatusUnmounted Status = "unmounted"
	// StatusFailed means the pass could not reach the desired state and the
	// previous state was kept.
	StatusFailed Status = "failed"
)

// Outcome summarises one reconciliation pass for one category.
type Outcome struct {
	Category Category      `json:"category"`
	Status   Status        `json:"status"`
	Created  int           `json:"created"`
	Released int           `json:"released"`
	Failed   int           `json:"failed"`
	Live     int           `json:"live"`
	Duration time.Duration `json:"duration_ns"`
}

func (o Outcome) MarshalZerologObject(e *zerolog.Event) {
	e.Str("category", string(o.Category)).
		Str("status", string(o.Status)).
		Int("created", o.Created).
		Int("released", o.Released).
		Int("failed", o.Failed).
		Int("live", o.Live).
		Dur("duration", o.Duration)
}

// SyncReport holds one Outcome per category, in reconciliation order.
type SyncReport struct {
	Outcomes []Outcome `json:"outcomes"`
}

func (r SyncReport) Get(c Category) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Category == c {
			return o, true
		}
	}
	return Outcome{}, false
}

// Applied reports whether any category changed the surface.
func (r SyncReport) Applied() bool {
	for _, o := range r.Outcomes {
		if o.Status == StatusApplied {
			return true
		}
	}
	return false
}
