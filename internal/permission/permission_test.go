package permission

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"scanmap/pkg/platform/sentinel"
)

type fakePrompter struct {
	granted  bool
	checkErr error
	answer   Result
	reqErr   error
	requests int
}

func (f *fakePrompter) Check(context.Context, Name) (bool, error) {
	return f.granted, f.checkErr
}

func (f *fakePrompter) Request(context.Context, Name) (Result, error) {
	f.requests++
	return f.answer, f.reqErr
}

type TrackerSuite struct {
	suite.Suite
	prompter *fakePrompter
	blocked  []Name
	tracker  *Tracker
}

func TestTrackerSuite(t *testing.T) {
	suite.Run(t, new(TrackerSuite))
}

func (s *TrackerSuite) SetupTest() {
	s.prompter = &fakePrompter{}
	s.blocked = nil
	s.tracker = NewTracker(Bluetooth, s.prompter, WithOnBlocked(func(n Name) {
		s.blocked = append(s.blocked, n)
	}))
}

func (s *TrackerSuite) TestStartsLoading() {
	s.True(s.tracker.State().Loading)
}

func (s *TrackerSuite) TestCheck() {
	s.Run("granted", func() {
		s.prompter.granted = true
		s.True(s.tracker.Check(context.Background()))
		s.Equal(State{Granted: true}, s.tracker.State())
	})
	s.Run("not granted can be requested", func() {
		s.prompter.granted = false
		s.False(s.tracker.Check(context.Background()))
		s.Equal(State{ShouldShowRequest: true}, s.tracker.State())
	})
	s.Run("failure records the message", func() {
		s.prompter.checkErr = errors.New("service unavailable")
		s.False(s.tracker.Check(context.Background()))
		s.Equal(State{Error: "service unavailable"}, s.tracker.State())
	})
}

func (s *TrackerSuite) TestRequestGranted() {
	s.prompter.answer = Granted
	s.True(s.tracker.Request(context.Background()))
	s.Equal(State{Granted: true}, s.tracker.State())
	s.Empty(s.blocked)
}

func (s *TrackerSuite) TestRequestDeniedCanAskAgain() {
	s.prompter.answer = Denied
	s.False(s.tracker.Request(context.Background()))
	s.Equal(State{ShouldShowRequest: true}, s.tracker.State())
	s.Empty(s.blocked)
}

func (s *TrackerSuite) TestNeverAskAgainBlocksAndNotifiesOncePerRequest() {
	s.prompter.answer = NeverAskAgain

	s.False(s.tracker.Request(context.Background()))
	s.Equal(State{Blocked: true}, s.tracker.State())
	s.Equal([]Name{Bluetooth}, s.blocked)

	s.tracker.Request(context.Background())
	s.Len(s.blocked, 2)
}

func (s *TrackerSuite) TestRequestFailure() {
	s.prompter.reqErr = errors.New("activity gone")
	s.False(s.tracker.Request(context.Background()))
	s.Equal(State{Error: "activity gone"}, s.tracker.State())
	s.Empty(s.blocked)
}

func (s *TrackerSuite) TestRequire() {
	s.Require().ErrorIs(s.tracker.Require(context.Background()), sentinel.ErrPermissionDenied)
	s.prompter.granted = true
	s.Require().NoError(s.tracker.Require(context.Background()))
}

func (s *TrackerSuite) TestSet() {
	set := NewSet(s.prompter)
	for _, n := range Names {
		t, err := set.Get(n)
		s.Require().NoError(err)
		s.Equal(n, t.Name())
	}
	_, err := set.Get("microphone")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}
