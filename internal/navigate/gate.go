package navigate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/g960059/viasacra/internal/model"
)

var (
	ErrNotPermitted     = errors.New("only the host can change the room station")
	ErrMutationInFlight = errors.New("another station change is in progress")
)

type SessionReader interface {
	Current() model.Session
}

type Display interface {
	Station() int
	Set(ctx context.Context, station int) (bool, error)
}

// RoomMutator issues host-authorized writes. *roomclient.Client implements it.
type RoomMutator interface {
	AdvanceStation(ctx context.Context, roomID string, station int, hostToken string) error
	CompleteRoom(ctx context.Context, roomID, hostToken string) error
}

type Result struct {
	Station  int
	Finished bool
}

// Gate decides who may move through the stations and performs the move.
type Gate struct {
	session SessionReader
	display Display
	rooms   RoomMutator
	busy    atomic.Bool
}

func NewGate(session SessionReader, display Display, rooms RoomMutator) *Gate {
	return &Gate{session: session, display: display, rooms: rooms}
}

func (g *Gate) CanGoPrevious() bool {
	return g.display.Station() > model.FirstStation &&
		g.session.Current().Role != model.RoleFollower &&
		!g.busy.Load()
}

// CanGoNext also covers the finish action on the last station.
func (g *Gate) CanGoNext() bool {
	return g.session.Current().Role != model.RoleFollower && !g.busy.Load()
}

// Exclusive runs fn while holding the mutation guard. It fails fast with
// ErrMutationInFlight instead of queueing.
func (g *Gate) Exclusive(fn func() error) error {
	if !g.busy.CompareAndSwap(false, true) {
		return ErrMutationInFlight
	}
	defer g.busy.Store(false)
	return fn()
}

func (g *Gate) GoNext(ctx context.Context) (Result, error) {
	return g.move(ctx, 1)
}

func (g *Gate) GoPrevious(ctx context.Context) (Result, error) {
	return g.move(ctx, -1)
}

func (g *Gate) move(ctx context.Context, step int) (Result, error) {
	if g.session.Current().Role == model.RoleFollower {
		return Result{Station: g.display.Station()}, ErrNotPermitted
	}
	var res Result
	err := g.Exclusive(func() error {
		var err error
		res, err = g.moveLocked(ctx, step)
		return err
	})
	return res, err
}

func (g *Gate) moveLocked(ctx context.Context, step int) (Result, error) {
	sess := g.session.Current()
	current := g.display.Station()
	target := current + step

	if target < model.FirstStation {
		return Result{Station: current}, nil
	}
	if target > model.LastStation {
		if sess.Role == model.RoleHost {
			g.complete(ctx, sess)
		}
		return Result{Station: current, Finished: true}, nil
	}

	switch sess.Role {
	case model.RoleHost:
		if err := g.rooms.AdvanceStation(ctx, sess.RoomID, target, sess.HostToken); err != nil {
			return Result{Station: current}, fmt.Errorf("advance room to station %d: %w", target, err)
		}
	case model.RoleFollower:
		return Result{Station: current}, ErrNotPermitted
	}
	if _, err := g.display.Set(ctx, target); err != nil {
		return Result{Station: g.display.Station()}, fmt.Errorf("show station %d: %w", target, err)
	}
	return Result{Station: target}, nil
}

// complete marks the room finished. Failure is logged only; the walk is over
// for the host either way.
func (g *Gate) complete(ctx context.Context, sess model.Session) {
	if err := g.rooms.CompleteRoom(ctx, sess.RoomID, sess.HostToken); err != nil {
		log.Warn().Err(err).Str("room_id", sess.RoomID).Msg("complete room failed")
		return
	}
	log.Info().Str("room_id", sess.RoomID).Msg("room completed")
}
