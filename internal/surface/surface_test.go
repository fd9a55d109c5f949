package surface

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestGuard(t *testing.T) {
	if err := Guard("noop", func() error { return nil }); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}

	err := Guard("createMarker", func() error { return ErrSurfaceRemoved })
	if !errors.Is(err, ErrSurfaceRemoved) || !strings.HasPrefix(err.Error(), "createMarker: ") {
		t.Fatalf("expected wrapped error, got %v", err)
	}

	err = Guard("addLayer", func() error { panic("style not loaded") })
	if err == nil || !strings.Contains(err.Error(), "engine panic: style not loaded") {
		t.Fatalf("expected panic converted to error, got %v", err)
	}
}

func TestLngLatValid(t *testing.T) {
	cases := []struct {
		p    LngLat
		want bool
	}{
		{LngLat{Lng: 28.04, Lat: -26.2}, true},
		{LngLat{Lng: -180, Lat: 90}, true},
		{LngLat{Lng: 180.1, Lat: 0}, false},
		{LngLat{Lng: 0, Lat: -90.5}, false},
		{LngLat{Lng: math.NaN(), Lat: 0}, false},
		{LngLat{Lng: 0, Lat: math.Inf(1)}, false},
	}
	for _, tc := range cases {
		if got := tc.p.Valid(); got != tc.want {
			t.Fatalf("Valid(%v): expected %v, got %v", tc.p, tc.want, got)
		}
	}
}
