package navigate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/g960059/viasacra/internal/model"
	"github.com/g960059/viasacra/internal/position"
	"github.com/g960059/viasacra/internal/testutil"
)

type staticSession struct {
	sess model.Session
}

func (s staticSession) Current() model.Session { return s.sess }

type fakeRooms struct {
	mu          sync.Mutex
	advances    []int
	completes   int
	advanceErr  error
	completeErr error
	block       chan struct{}
	entered     chan struct{}
}

func (f *fakeRooms) AdvanceStation(_ context.Context, roomID string, station int, hostToken string) error {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if roomID != "r1" || hostToken != "tok" {
		return errors.New("unexpected credentials")
	}
	if f.advanceErr != nil {
		return f.advanceErr
	}
	f.advances = append(f.advances, station)
	return nil
}

func (f *fakeRooms) CompleteRoom(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes++
	return f.completeErr
}

func newGate(t *testing.T, sess model.Session, station int, rooms *fakeRooms) (*Gate, *position.Tracker) {
	t.Helper()
	store, ctx := testutil.NewStore(t)
	tracker := position.NewTracker(store)
	if _, err := tracker.Set(ctx, station); err != nil {
		t.Fatalf("set station: %v", err)
	}
	return NewGate(staticSession{sess: sess}, tracker, rooms), tracker
}

var (
	soloSession     = model.Session{Role: model.RoleSolo}
	hostSession     = model.Session{RoomID: "r1", Role: model.RoleHost, HostToken: "tok"}
	followerSession = model.Session{RoomID: "r1", Role: model.RoleFollower}
)

func TestCanGoPreviousFalseAtFirstStationForEveryRole(t *testing.T) {
	for _, sess := range []model.Session{soloSession, hostSession, followerSession} {
		g, _ := newGate(t, sess, 1, &fakeRooms{})
		if g.CanGoPrevious() {
			t.Fatalf("role %s: CanGoPrevious at station 1", sess.Role)
		}
	}
}

func TestFollowerControlsDisabledEverywhere(t *testing.T) {
	for station := model.FirstStation; station <= model.LastStation; station++ {
		g, _ := newGate(t, followerSession, station, &fakeRooms{})
		if g.CanGoPrevious() || g.CanGoNext() {
			t.Fatalf("follower controls enabled at station %d", station)
		}
	}
}

func TestFollowerMovesRejected(t *testing.T) {
	rooms := &fakeRooms{}
	g, tracker := newGate(t, followerSession, 4, rooms)
	if _, err := g.GoNext(context.Background()); !errors.Is(err, ErrNotPermitted) {
		t.Fatalf("expected ErrNotPermitted, got %v", err)
	}
	if _, err := g.GoPrevious(context.Background()); !errors.Is(err, ErrNotPermitted) {
		t.Fatalf("expected ErrNotPermitted, got %v", err)
	}
	if tracker.Station() != 4 || len(rooms.advances) != 0 {
		t.Fatalf("follower move had side effects")
	}
}

func TestSoloNavigatesLocally(t *testing.T) {
	rooms := &fakeRooms{}
	g, tracker := newGate(t, soloSession, 1, rooms)
	ctx := context.Background()

	if res, err := g.GoPrevious(ctx); err != nil || res.Station != 1 {
		t.Fatalf("previous at 1: %+v %v", res, err)
	}
	for want := 2; want <= 14; want++ {
		res, err := g.GoNext(ctx)
		if err != nil || res.Station != want || res.Finished {
			t.Fatalf("next to %d: %+v %v", want, res, err)
		}
	}
	res, err := g.GoNext(ctx)
	if err != nil || !res.Finished || res.Station != 14 {
		t.Fatalf("finish at 14: %+v %v", res, err)
	}
	if res, err := g.GoPrevious(ctx); err != nil || res.Station != 13 {
		t.Fatalf("previous from 14: %+v %v", res, err)
	}
	if tracker.Station() != 13 || len(rooms.advances) != 0 || rooms.completes != 0 {
		t.Fatalf("solo navigation touched the network")
	}
}

func TestHostAdvanceUpdatesDisplayOnSuccessOnly(t *testing.T) {
	rooms := &fakeRooms{}
	g, tracker := newGate(t, hostSession, 3, rooms)
	ctx := context.Background()

	res, err := g.GoNext(ctx)
	if err != nil || res.Station != 4 {
		t.Fatalf("host next: %+v %v", res, err)
	}
	if tracker.Station() != 4 || len(rooms.advances) != 1 || rooms.advances[0] != 4 {
		t.Fatalf("unexpected state: display=%d advances=%v", tracker.Station(), rooms.advances)
	}

	rooms.advanceErr = errors.New("forbidden")
	if _, err := g.GoPrevious(ctx); err == nil {
		t.Fatalf("expected advance error")
	}
	if tracker.Station() != 4 {
		t.Fatalf("display changed on failure: %d", tracker.Station())
	}
	if !g.CanGoNext() {
		t.Fatalf("guard not released after failure")
	}
}

func TestHostFinishCompletesBestEffort(t *testing.T) {
	rooms := &fakeRooms{completeErr: errors.New("backend down")}
	g, _ := newGate(t, hostSession, 14, rooms)

	res, err := g.GoNext(context.Background())
	if err != nil || !res.Finished {
		t.Fatalf("finish: %+v %v", res, err)
	}
	if rooms.completes != 1 {
		t.Fatalf("expected one complete request, got %d", rooms.completes)
	}
	if len(rooms.advances) != 0 {
		t.Fatalf("finish must not advance past 14: %v", rooms.advances)
	}
}

func TestConcurrentMutationRejected(t *testing.T) {
	rooms := &fakeRooms{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	g, tracker := newGate(t, hostSession, 2, rooms)

	done := make(chan error, 1)
	go func() {
		_, err := g.GoNext(context.Background())
		done <- err
	}()
	select {
	case <-rooms.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("first advance never started")
	}

	if g.CanGoNext() || g.CanGoPrevious() {
		t.Fatalf("controls enabled while mutation in flight")
	}
	if _, err := g.GoNext(context.Background()); !errors.Is(err, ErrMutationInFlight) {
		t.Fatalf("expected ErrMutationInFlight, got %v", err)
	}
	if err := g.Exclusive(func() error { return nil }); !errors.Is(err, ErrMutationInFlight) {
		t.Fatalf("expected exclusive section to be rejected, got %v", err)
	}

	close(rooms.block)
	if err := <-done; err != nil {
		t.Fatalf("first advance: %v", err)
	}
	if tracker.Station() != 3 || len(rooms.advances) != 1 {
		t.Fatalf("expected exactly one advance, got display=%d advances=%v", tracker.Station(), rooms.advances)
	}
}
