package poller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/g960059/viasacra/internal/model"
	"github.com/g960059/viasacra/internal/roomclient"
)

const DefaultInterval = 5 * time.Second

// Fetcher reads the authoritative room state. *roomclient.Client implements it.
type Fetcher interface {
	GetRoom(ctx context.Context, roomID string) (model.RoomSnapshot, error)
}

// Handler receives the outcome of each poll. Calls for one subscription are
// serialized. Handlers other than RoomClosed must not call Stop synchronously.
type Handler interface {
	Snapshot(ctx context.Context, snap model.RoomSnapshot)
	SyncDegraded(err error)
	SyncRestored()
	RoomClosed(roomID string)
}

type Options struct {
	Interval time.Duration
	Clock    clockwork.Clock
}

type Stats struct {
	Polls    int64
	Failures int64
	// Rejected counts failures the backend will not accept on retry, such as
	// a 403. They still degrade the sync rather than stopping it.
	Rejected int64
	Skipped  int64
}

// Poller fetches one room on a fixed interval with at most one request in
// flight.
type Poller struct {
	fetcher  Fetcher
	handler  Handler
	interval time.Duration
	clock    clockwork.Clock

	mu  sync.Mutex
	sub *subscription

	polls    atomic.Int64
	failures atomic.Int64
	rejected atomic.Int64
	skipped  atomic.Int64
}

type subscription struct {
	roomID string
	ctx    context.Context
	cancel context.CancelFunc

	inFlight atomic.Bool

	// deliverMu serializes handler calls and guards the fields below.
	deliverMu sync.Mutex
	degraded  bool
	closed    bool
}

func New(fetcher Fetcher, handler Handler, opts Options) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Poller{
		fetcher:  fetcher,
		handler:  handler,
		interval: interval,
		clock:    clock,
	}
}

// Start polls roomID immediately and then on every interval until Stop, a
// terminal not-found response, or ctx cancellation. A running subscription is
// replaced.
func (p *Poller) Start(ctx context.Context, roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return errors.New("poller: room id is required")
	}
	p.Stop()

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{roomID: roomID, ctx: subCtx, cancel: cancel}
	p.mu.Lock()
	p.sub = sub
	p.mu.Unlock()

	log.Debug().Str("room_id", roomID).Dur("interval", p.interval).Msg("room poller started")
	go p.run(sub)
	return nil
}

// Stop cancels the current subscription and waits for an in-progress
// delivery to finish. No handler call happens after Stop returns. Safe to
// call repeatedly.
func (p *Poller) Stop() {
	p.mu.Lock()
	sub := p.sub
	p.sub = nil
	p.mu.Unlock()
	if sub == nil {
		return
	}
	sub.cancel()
	sub.deliverMu.Lock()
	sub.deliverMu.Unlock() //nolint:staticcheck
	log.Debug().Str("room_id", sub.roomID).Msg("room poller stopped")
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sub != nil
}

func (p *Poller) RoomID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sub == nil {
		return ""
	}
	return p.sub.roomID
}

func (p *Poller) Stats() Stats {
	return Stats{
		Polls:    p.polls.Load(),
		Failures: p.failures.Load(),
		Rejected: p.rejected.Load(),
		Skipped:  p.skipped.Load(),
	}
}

func (p *Poller) run(sub *subscription) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(sub)
	for {
		select {
		case <-sub.ctx.Done():
			return
		case <-ticker.Chan():
			p.tick(sub)
		}
	}
}

func (p *Poller) tick(sub *subscription) {
	if sub.ctx.Err() != nil {
		return
	}
	if !sub.inFlight.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		log.Debug().Str("room_id", sub.roomID).Msg("poll skipped, fetch still in flight")
		return
	}
	go func() {
		defer sub.inFlight.Store(false)
		p.poll(sub)
	}()
}

func (p *Poller) poll(sub *subscription) {
	snap, err := p.fetcher.GetRoom(sub.ctx, sub.roomID)

	sub.deliverMu.Lock()
	defer sub.deliverMu.Unlock()
	if sub.ctx.Err() != nil {
		return
	}

	switch {
	case err == nil:
		p.polls.Add(1)
		if sub.degraded {
			sub.degraded = false
			log.Info().Str("room_id", sub.roomID).Msg("room sync restored")
			p.handler.SyncRestored()
		}
		p.handler.Snapshot(sub.ctx, snap)
	case errors.Is(err, roomclient.ErrRoomNotFound):
		p.detach(sub)
		if sub.closed {
			return
		}
		sub.closed = true
		log.Info().Str("room_id", sub.roomID).Msg("room closed, polling stopped")
		p.handler.RoomClosed(sub.roomID)
	default:
		p.failures.Add(1)
		sub.degraded = true
		evt := log.Warn()
		if !retryable(err) {
			p.rejected.Add(1)
			evt = log.Error()
		}
		evt.Err(err).Str("room_id", sub.roomID).Msg("room sync degraded")
		p.handler.SyncDegraded(err)
	}
}

// detach ends sub without waiting on deliverMu; the caller already holds it.
func (p *Poller) detach(sub *subscription) {
	sub.cancel()
	p.mu.Lock()
	if p.sub == sub {
		p.sub = nil
	}
	p.mu.Unlock()
}

// retryable treats transport and decode failures as transient; HTTP errors
// defer to the status code.
func retryable(err error) bool {
	var reqErr *roomclient.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Retryable()
	}
	return true
}
