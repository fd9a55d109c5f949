package overlay

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"safemap/core-go/internal/fingerprint"
	"safemap/core-go/internal/gate"
	"safemap/core-go/internal/resource"
	"safemap/core-go/internal/surface"
)

// Env is the narrow capability view of the surface owner handed to every
// reconciler.
type Env interface {
	Surface() surface.Surface
	Ready() bool
	Mounted() bool
	Report(err error)
	ShowPopup(at surface.LngLat, html string)
}

type placement struct {
	key string
	at  surface.LngLat
	el  surface.MarkerElement
}

// layer describes how one category turns items into markers.
type layer[T any] struct {
	key         func(T) string
	fingerprint func(*fingerprint.Builder, T)
	placements  func(T) ([]placement, error)
	popup       func(T) string
}

type entry[T any] struct {
	item T
	at   surface.LngLat
}

// Reconciler keeps the markers of one category in line with its input.
// Each pass releases everything it owns and rebuilds from the input; item
// counts are small and this keeps the key invariant trivially true.
type Reconciler[T any] struct {
	category Category
	layer    layer[T]
	env      Env
	tracker  *resource.Tracker
	gate     *gate.Gate
	log      zerolog.Logger
	onClick  func(T)

	mu      sync.Mutex
	records map[string]*resource.Record
	order   []string

	// index maps placement keys to the item they render. Click handlers only
	// carry a key and read this immutable snapshot.
	index atomic.Pointer[map[string]entry[T]]
}

func newReconciler[T any](c Category, l layer[T], env Env, tr *resource.Tracker, g *gate.Gate, log zerolog.Logger, onClick func(T)) *Reconciler[T] {
	return &Reconciler[T]{
		category: c,
		layer:    l,
		env:      env,
		tracker:  tr,
		gate:     g,
		log:      log.With().Str("category", string(c)).Logger(),
		onClick:  onClick,
		records:  make(map[string]*resource.Record),
	}
}

func (r *Reconciler[T]) Category() Category { return r.category }

// Fingerprint covers the active flag and, when active, every field that
// changes what the markers look like or where they are.
func (r *Reconciler[T]) Fingerprint(items []T, active bool) fingerprint.Fingerprint {
	b := fingerprint.New(string(r.category)).Bool(active)
	if !active {
		return b.Sum()
	}
	b.Int(len(items))
	for _, item := range items {
		r.layer.fingerprint(b, item)
	}
	return b.Sum()
}

// Reconcile runs one pass. It never runs concurrently with another pass of
// the same category, and it touches nothing when the fingerprint matches
// the last applied one.
func (r *Reconciler[T]) Reconcile(items []T, active bool) Outcome {
	start := time.Now()
	out := Outcome{Category: r.category}
	done := func(s Status, live int) Outcome {
		out.Status = s
		out.Live = live
		out.Duration = time.Since(start)
		return out
	}

	if !r.env.Mounted() {
		return done(StatusUnmounted, 0)
	}
	if !r.env.Ready() {
		return done(StatusNotReady, 0)
	}

	fp := r.Fingerprint(items, active)
	switch r.gate.Admit(string(r.category), fp) {
	case gate.Busy:
		r.log.Debug().Msg("pass already in flight, skipping")
		return done(StatusBusy, 0)
	case gate.Unchanged:
		r.mu.Lock()
		defer r.mu.Unlock()
		r.refreshIndexLocked(items, active)
		return done(StatusUnchanged, len(r.records))
	}
	defer r.gate.End(string(r.category))

	r.mu.Lock()
	defer r.mu.Unlock()

	// Teardown may have started while we waited for the lock.
	surf := r.env.Surface()
	if !r.env.Mounted() || surf == nil {
		return done(StatusUnmounted, len(r.records))
	}

	out.Released = r.releaseLocked()

	// Surface failures are retried by the next pass; malformed items are not.
	surfaceFailed := false
	index := make(map[string]entry[T])
	if active {
		for _, item := range items {
			ps, err := r.layer.placements(item)
			if err != nil {
				r.env.Report(itemError(r.category, r.layer.key(item), err))
				out.Failed++
				continue
			}
			for _, p := range ps {
				if _, dup := r.records[p.key]; dup {
					r.env.Report(itemError(r.category, p.key, ErrDuplicateKey))
					out.Failed++
					continue
				}
				rec, err := r.place(surf, p)
				if err != nil {
					r.env.Report(itemError(r.category, p.key, err))
					out.Failed++
					surfaceFailed = true
					continue
				}
				r.records[p.key] = rec
				r.order = append(r.order, p.key)
				index[p.key] = entry[T]{item: item, at: p.at}
				out.Created++
			}
		}
	}
	r.index.Store(&index)
	if surfaceFailed {
		r.gate.Forget(string(r.category))
	} else {
		r.gate.Commit(string(r.category), fp)
	}

	return done(StatusApplied, len(r.records))
}

func (r *Reconciler[T]) place(surf surface.Surface, p placement) (*resource.Record, error) {
	var h surface.MarkerHandle
	err := surface.Guard("create marker", func() error {
		var err error
		h, err = surf.CreateMarker(p.el, p.at)
		return err
	})
	if err != nil {
		return nil, err
	}
	key := p.key
	return r.tracker.Acquire(surf, key, resource.Marker{Surface: surf, Handle: h}, []resource.ListenerSpec{{
		Target:  surface.MarkerTarget(h),
		Event:   surface.EventClick,
		Handler: func(surface.Event) { r.dispatch(key) },
	}})
}

// dispatch handles a click on the marker registered under key. A marker
// popup anchors at the marker's own position.
func (r *Reconciler[T]) dispatch(key string) {
	if !r.env.Mounted() {
		return
	}
	idx := r.index.Load()
	if idx == nil {
		return
	}
	e, ok := (*idx)[key]
	if !ok {
		return
	}
	if r.onClick != nil {
		r.onClick(e.item)
		return
	}
	if r.layer.popup != nil {
		r.env.ShowPopup(e.at, r.layer.popup(e.item))
	}
}

// refreshIndexLocked swaps in the latest items without touching the
// surface, so clicks see current popup content after an unchanged pass.
func (r *Reconciler[T]) refreshIndexLocked(items []T, active bool) {
	index := make(map[string]entry[T])
	if active {
		for _, item := range items {
			ps, err := r.layer.placements(item)
			if err != nil {
				continue
			}
			for _, p := range ps {
				if _, ok := r.records[p.key]; ok {
					if _, seen := index[p.key]; !seen {
						index[p.key] = entry[T]{item: item, at: p.at}
					}
				}
			}
		}
	}
	r.index.Store(&index)
}

func (r *Reconciler[T]) releaseLocked() int {
	if len(r.records) == 0 {
		return 0
	}
	records := make([]*resource.Record, 0, len(r.order))
	for _, key := range r.order {
		if rec, ok := r.records[key]; ok {
			records = append(records, rec)
		}
	}
	clean := r.tracker.ReleaseAll(records)
	if clean < len(records) {
		r.log.Warn().Int("released", len(records)).Int("clean", clean).Msg("some markers did not release cleanly")
	}
	r.records = make(map[string]*resource.Record)
	r.order = r.order[:0]
	return len(records)
}

// Release drops every record the reconciler owns and forgets the last
// applied fingerprint. It waits for an in-flight pass to finish.
func (r *Reconciler[T]) Release() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.releaseLocked()
	empty := make(map[string]entry[T])
	r.index.Store(&empty)
	r.gate.Forget(string(r.category))
	return n
}

func (r *Reconciler[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Handle returns the marker placed under key.
func (r *Reconciler[T]) Handle(key string) (surface.MarkerHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return "", false
	}
	m, ok := rec.Visual.(resource.Marker)
	return m.Handle, ok
}

func (r *Reconciler[T]) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.records))
	for k := range r.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
