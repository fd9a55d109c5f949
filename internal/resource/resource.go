// Package resource owns handles acquired from the map engine: one visual
// element plus the listeners attached to it, released exactly once.
package resource

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"safemap/core-go/internal/surface"
)

// ErrorSink receives failures that are reported instead of returned.
type ErrorSink interface {
	Report(err error)
}

type SinkFunc func(err error)

func (f SinkFunc) Report(err error) { f(err) }

// Discard drops every report.
var Discard ErrorSink = SinkFunc(func(error) {})

// Visual is a single element on the surface.
type Visual interface {
	Remove() error
	String() string
}

// Listenable is the part of a surface needed to attach and detach listeners.
type Listenable interface {
	On(target surface.Target, event string, h surface.Handler) (surface.ListenerID, error)
	Off(id surface.ListenerID) error
}

type ListenerSpec struct {
	Target  surface.Target
	Event   string
	Handler surface.Handler
}

// ListenerRecord is one attached listener. It belongs either to a Record or
// to the surface owner's global registrations.
type ListenerRecord struct {
	Target  surface.Target
	Event   string
	Handler surface.Handler

	id       surface.ListenerID
	on       Listenable
	tracker  *Tracker
	detached atomic.Bool
}

func (l *ListenerRecord) ID() surface.ListenerID { return l.id }

// Detach removes the listener. Only the first call does anything; a failure
// is reported and the listener is no longer counted as live either way.
func (l *ListenerRecord) Detach() error {
	if !l.detached.CompareAndSwap(false, true) {
		return nil
	}
	l.tracker.liveListeners.Add(-1)
	err := surface.Guard("off", func() error { return l.on.Off(l.id) })
	if err != nil {
		err = fmt.Errorf("detach %s listener on %s: %w", l.Event, l.Target, err)
		l.tracker.fail(err)
	}
	return err
}

func (l *ListenerRecord) Detached() bool { return l.detached.Load() }

// Record pairs a visual with every listener attached to it.
type Record struct {
	Key       string
	Visual    Visual
	Listeners []*ListenerRecord

	tracker  *Tracker
	mu       sync.Mutex
	released bool
}

// Release detaches listeners first and removes the visual last, so no
// callback can fire on an element that is already gone. It is idempotent.
// Failures are reported to the tracker's sink; the returned error is only
// for diagnostics, and the record counts as released regardless.
func (r *Record) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil
	}
	r.released = true

	var errs []error
	for _, l := range r.Listeners {
		if err := l.Detach(); err != nil {
			errs = append(errs, err)
		}
	}
	r.tracker.liveVisuals.Add(-1)
	if err := surface.Guard("remove visual", r.Visual.Remove); err != nil {
		err = fmt.Errorf("release %s (%s): %w", r.Key, r.Visual, err)
		r.tracker.fail(err)
		errs = append(errs, err)
	}
	r.tracker.released.Add(1)
	return errors.Join(errs...)
}

func (r *Record) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

// Stats is a point-in-time view of the tracker's counters.
type Stats struct {
	LiveVisuals   int64 `json:"live_visuals"`
	LiveListeners int64 `json:"live_listeners"`
	Acquired      int64 `json:"acquired"`
	Released      int64 `json:"released"`
	Failures      int64 `json:"failures"`
}

// Tracker hands out Records and keeps live counts. It is safe for concurrent
// use.
type Tracker struct {
	sink ErrorSink

	liveVisuals   atomic.Int64
	liveListeners atomic.Int64
	acquired      atomic.Int64
	released      atomic.Int64
	failures      atomic.Int64
}

func NewTracker(sink ErrorSink) *Tracker {
	if sink == nil {
		sink = Discard
	}
	return &Tracker{sink: sink}
}

func (t *Tracker) fail(err error) {
	t.failures.Add(1)
	t.sink.Report(err)
}

// Listen attaches a single listener that is not tied to a visual.
func (t *Tracker) Listen(on Listenable, spec ListenerSpec) (*ListenerRecord, error) {
	var id surface.ListenerID
	err := surface.Guard("on", func() error {
		var err error
		id, err = on.On(spec.Target, spec.Event, spec.Handler)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("attach %s listener on %s: %w", spec.Event, spec.Target, err)
	}
	t.liveListeners.Add(1)
	return &ListenerRecord{
		Target:  spec.Target,
		Event:   spec.Event,
		Handler: spec.Handler,
		id:      id,
		on:      on,
		tracker: t,
	}, nil
}

// Acquire takes ownership of visual and attaches listeners to it. If any
// listener fails to attach, everything attached so far is detached, the
// visual is removed, and the error is returned.
func (t *Tracker) Acquire(on Listenable, key string, visual Visual, listeners []ListenerSpec) (*Record, error) {
	r := &Record{Key: key, Visual: visual, tracker: t}
	t.liveVisuals.Add(1)
	t.acquired.Add(1)

	for _, spec := range listeners {
		l, err := t.Listen(on, spec)
		if err != nil {
			_ = r.Release()
			return nil, err
		}
		r.Listeners = append(r.Listeners, l)
	}
	return r, nil
}

// ReleaseAll releases every record, continuing past failures, and returns
// how many were released cleanly.
func (t *Tracker) ReleaseAll(records []*Record) int {
	clean := 0
	for _, r := range records {
		if r == nil {
			continue
		}
		if r.Released() {
			continue
		}
		if err := r.Release(); err == nil {
			clean++
		}
	}
	return clean
}

func (t *Tracker) Stats() Stats {
	return Stats{
		LiveVisuals:   t.liveVisuals.Load(),
		LiveListeners: t.liveListeners.Load(),
		Acquired:      t.acquired.Load(),
		Released:      t.released.Load(),
		Failures:      t.failures.Load(),
	}
}
