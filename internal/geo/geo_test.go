package geo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"scanmap/pkg/platform/sentinel"
)

type GeoSuite struct {
	suite.Suite
	now time.Time
	mu  sync.Mutex
}

func TestGeoSuite(t *testing.T) {
	suite.Run(t, new(GeoSuite))
}

func (s *GeoSuite) SetupTest() {
	s.now = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
}

func (s *GeoSuite) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *GeoSuite) advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}

func (s *GeoSuite) TestFreshFixIsServed() {
	tr := NewTracker(WithClock(s.clock))
	tr.Update(Position{Latitude: 50.45, Longitude: 30.52}, s.clock())
	s.advance(5 * time.Second)

	pos, err := tr.CurrentPosition(context.Background())
	s.Require().NoError(err)
	s.Equal(Position{Latitude: 50.45, Longitude: 30.52}, pos)
}

func (s *GeoSuite) TestStaleFixTimesOut() {
	tr := NewTracker(WithClock(s.clock), WithTimeout(30*time.Millisecond))
	tr.Update(Position{Latitude: 1, Longitude: 2}, s.clock())
	s.advance(11 * time.Second)

	_, err := tr.CurrentPosition(context.Background())
	s.Require().ErrorIs(err, sentinel.ErrTimeout)
}

func (s *GeoSuite) TestCancelledCallerIsNotATimeout() {
	tr := NewTracker(WithClock(s.clock), WithTimeout(time.Minute))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := tr.CurrentPosition(ctx)
	s.Require().ErrorIs(err, context.Canceled)
	s.NotErrorIs(err, sentinel.ErrTimeout)
}

func (s *GeoSuite) TestWaiterWakesOnUpdate() {
	tr := NewTracker(WithClock(s.clock), WithTimeout(time.Second))

	done := make(chan Position, 1)
	go func() {
		pos, err := tr.CurrentPosition(context.Background())
		if err == nil {
			done <- pos
		}
	}()

	time.Sleep(10 * time.Millisecond)
	tr.Update(Position{Latitude: 3, Longitude: 4}, s.clock())

	select {
	case pos := <-done:
		s.Equal(Position{Latitude: 3, Longitude: 4}, pos)
	case <-time.After(time.Second):
		s.FailNow("waiter not woken")
	}
}

func (s *GeoSuite) TestOutOfOrderFixIgnored() {
	tr := NewTracker(WithClock(s.clock))
	tr.Update(Position{Latitude: 1}, s.clock())
	tr.Update(Position{Latitude: 2}, s.clock().Add(-time.Second))

	pos, _, ok := tr.Last()
	s.True(ok)
	s.Equal(1.0, pos.Latitude)
}

func (s *GeoSuite) TestRandomCircleStaysWithinRadius() {
	center := Position{Latitude: 50.43697235800866, Longitude: 30.53963517451611}
	src := NewRandomCircle(center, 15000, 42)

	for range 500 {
		pos, err := src.CurrentPosition(context.Background())
		s.Require().NoError(err)
		s.LessOrEqual(Distance(center, pos), 15000*1.01)
	}
}

func (s *GeoSuite) TestDistance() {
	kyiv := Position{Latitude: 50.4501, Longitude: 30.5234}
	lviv := Position{Latitude: 49.8397, Longitude: 24.0297}
	s.InDelta(469_000, Distance(kyiv, lviv), 5_000)
	s.Zero(Distance(kyiv, kyiv))
}
