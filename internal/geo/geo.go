// Package geo supplies positions for tagging scans.
package geo

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"scanmap/pkg/platform/sentinel"
)

const (
	DefaultTimeout    = 15 * time.Second
	DefaultMaximumAge = 10 * time.Second
)

// Position is a WGS84 coordinate in degrees.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Source returns the current position.
type Source interface {
	CurrentPosition(ctx context.Context) (Position, error)
}

// Static always reports the same position.
type Static Position

func (s Static) CurrentPosition(context.Context) (Position, error) {
	return Position(s), nil
}

// Tracker holds the latest fix pushed by the platform and answers position
// requests with it. A fix older than the maximum age is not served; callers
// wait for a newer one up to the timeout.
type Tracker struct {
	timeout time.Duration
	maxAge  time.Duration
	now     func() time.Time

	mu      sync.Mutex
	last    Position
	at      time.Time
	updated chan struct{}
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTimeout bounds how long CurrentPosition waits for a fresh fix.
func WithTimeout(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithMaximumAge sets how old a cached fix may be.
func WithMaximumAge(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.maxAge = d
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		timeout: DefaultTimeout,
		maxAge:  DefaultMaximumAge,
		now:     time.Now,
		updated: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Update records a fix taken at the given time and wakes waiting callers.
func (t *Tracker) Update(pos Position, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.at.IsZero() && at.Before(t.at) {
		return
	}
	t.last = pos
	t.at = at
	close(t.updated)
	t.updated = make(chan struct{})
}

// Last returns the latest fix regardless of age.
func (t *Tracker) Last() (Position, time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.at, !t.at.IsZero()
}

// CurrentPosition returns a fix no older than the maximum age, waiting for the
// next Update if needed. It fails with sentinel.ErrTimeout when no fix arrives
// within the timeout, or with the parent's error when ctx ends first.
func (t *Tracker) CurrentPosition(parent context.Context) (Position, error) {
	ctx, cancel := context.WithTimeout(parent, t.timeout)
	defer cancel()
	for {
		t.mu.Lock()
		if !t.at.IsZero() && t.now().Sub(t.at) <= t.maxAge {
			pos := t.last
			t.mu.Unlock()
			return pos, nil
		}
		wait := t.updated
		t.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			if err := parent.Err(); err != nil {
				return Position{}, err
			}
			return Position{}, fmt.Errorf("no position fix within %s: %w", t.timeout, sentinel.ErrTimeout)
		}
	}
}

const metersPerDegree = 111_320.0

// RandomCircle returns a uniformly distributed point within Radius meters of Center.
type RandomCircle struct {
	Center Position
	Radius float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandomCircle builds a source seeded from seed.
func NewRandomCircle(center Position, radiusMeters float64, seed uint64) *RandomCircle {
	return &RandomCircle{
		Center: center,
		Radius: radiusMeters,
		rnd:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (c *RandomCircle) CurrentPosition(context.Context) (Position, error) {
	c.mu.Lock()
	u, v := c.rnd.Float64(), c.rnd.Float64()
	c.mu.Unlock()

	// sqrt keeps the density uniform over the disc area
	distance := c.Radius * math.Sqrt(u)
	bearing := 2 * math.Pi * v

	dLat := distance * math.Cos(bearing) / metersPerDegree
	dLon := distance * math.Sin(bearing) / (metersPerDegree * math.Cos(c.Center.Latitude*math.Pi/180))
	return Position{
		Latitude:  c.Center.Latitude + dLat,
		Longitude: c.Center.Longitude + dLon,
	}, nil
}

// Distance returns the great-circle distance in meters.
func Distance(a, b Position) float64 {
	const earthRadius = 6_371_000.0
	lat1, lat2 := a.Latitude*math.Pi/180, b.Latitude*math.Pi/180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadius * math.Asin(math.Sqrt(h))
}
