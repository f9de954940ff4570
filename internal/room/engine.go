package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/g960059/viasacra/internal/model"
	"github.com/g960059/viasacra/internal/navigate"
	"github.com/g960059/viasacra/internal/poller"
	"github.com/g960059/viasacra/internal/position"
	"github.com/g960059/viasacra/internal/presence"
	"github.com/g960059/viasacra/internal/reconcile"
	"github.com/g960059/viasacra/internal/roomclient"
	"github.com/g960059/viasacra/internal/session"
)

var ErrNoRoom = errors.New("not in a room")

const defaultLeaveTimeout = 3 * time.Second

// RoomAPI is the backend surface the engine needs. *roomclient.Client
// implements it.
type RoomAPI interface {
	ListRooms(ctx context.Context) ([]model.RoomListing, error)
	CreateRoom(ctx context.Context, params roomclient.CreateRoomParams) (roomclient.CreatedRoom, error)
	JoinRoom(ctx context.Context, roomID, password, participantName string) (roomclient.JoinedRoom, error)
	GetRoom(ctx context.Context, roomID string) (model.RoomSnapshot, error)
	AdvanceStation(ctx context.Context, roomID string, station int, hostToken string) error
	CompleteRoom(ctx context.Context, roomID, hostToken string) error
	LeaveRoom(ctx context.Context, roomID, participantName string) error
	HostLogin(ctx context.Context, roomID, password, participantName string) (roomclient.HostCredential, error)
	GetStation(ctx context.Context, station int) (model.Station, error)
}

// Backing is the durable local state. *db.Store implements it.
type Backing interface {
	session.Persister
	position.Saver
}

type Options struct {
	PollInterval time.Duration
	LeaveTimeout time.Duration
	Clock        clockwork.Clock
	// Listener receives every engine event. Poll-driven events arrive on the
	// poller goroutine; the listener must not call Detach, SignOut or Close
	// synchronously from there.
	Listener func(Event)
}

// Engine ties the session, poller, reconciler, presence differ and
// navigation gate together for one local participant.
type Engine struct {
	rooms      RoomAPI
	sessions   *session.Store
	display    *position.Tracker
	reconciler *reconcile.Reconciler
	differ     *presence.Differ
	gate       *navigate.Gate
	poller     *poller.Poller

	leaveTimeout time.Duration
	listener     func(Event)
	emitMu       sync.Mutex
	// syncMu orders snapshot reconciliation against role changes made while
	// polling.
	syncMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(backing Backing, rooms RoomAPI, opts Options) *Engine {
	leaveTimeout := opts.LeaveTimeout
	if leaveTimeout <= 0 {
		leaveTimeout = defaultLeaveTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		rooms:        rooms,
		sessions:     session.NewStore(backing),
		display:      position.NewTracker(backing),
		differ:       presence.NewDiffer(),
		leaveTimeout: leaveTimeout,
		listener:     opts.Listener,
		ctx:          ctx,
		cancel:       cancel,
	}
	e.reconciler = reconcile.NewReconciler(e.display)
	e.gate = navigate.NewGate(e.sessions, e.display, rooms)
	e.poller = poller.New(rooms, pollHandler{e: e}, poller.Options{
		Interval: opts.PollInterval,
		Clock:    opts.Clock,
	})
	return e
}

// Load restores the persisted session and position without contacting the
// room.
func (e *Engine) Load(ctx context.Context) (model.Session, error) {
	sess, err := e.sessions.Load(ctx)
	if err != nil {
		return model.Session{}, err
	}
	station, err := e.display.Restore(ctx)
	if err != nil {
		return model.Session{}, err
	}
	log.Info().
		Str("room_id", sess.RoomID).
		Str("role", string(sess.Role)).
		Int("station", station).
		Msg("session restored")
	return sess, nil
}

// Open is Load followed by polling when the session belongs to a room.
func (e *Engine) Open(ctx context.Context) (model.Session, error) {
	sess, err := e.Load(ctx)
	if err != nil {
		return model.Session{}, err
	}
	if sess.InRoom() {
		if err := e.startPolling(sess.RoomID); err != nil {
			return model.Session{}, err
		}
	}
	return sess, nil
}

func (e *Engine) Session() model.Session {
	return e.sessions.Current()
}

func (e *Engine) Station() int {
	return e.display.Station()
}

func (e *Engine) CanGoNext() bool {
	return e.gate.CanGoNext()
}

func (e *Engine) CanGoPrevious() bool {
	return e.gate.CanGoPrevious()
}

func (e *Engine) Polling() bool {
	return e.poller.Running()
}

func (e *Engine) PollStats() poller.Stats {
	return e.poller.Stats()
}

// StartSolo leaves any room and starts a private walk at the first station.
func (e *Engine) StartSolo(ctx context.Context, name string) (model.Session, error) {
	e.detach("", true)
	sess, err := e.sessions.SetSolo(ctx, name)
	if err != nil {
		return model.Session{}, err
	}
	e.differ.Reset()
	if err := e.showStation(ctx, model.FirstStation); err != nil {
		return model.Session{}, err
	}
	return sess, nil
}

func (e *Engine) ListRooms(ctx context.Context) ([]model.RoomListing, error) {
	rooms, err := e.rooms.ListRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

// CreateRoom creates a shared room led by the local participant. A taken
// name surfaces as roomclient.ErrRoomNameTaken and leaves the session as is.
func (e *Engine) CreateRoom(ctx context.Context, params roomclient.CreateRoomParams) (model.Session, error) {
	params.ParticipantName = e.participantName(params.ParticipantName)
	created, err := e.rooms.CreateRoom(ctx, params)
	if err != nil {
		return model.Session{}, fmt.Errorf("create room: %w", err)
	}
	e.detach(created.RoomID, true)
	sess, err := e.sessions.AdoptRoom(ctx, created.RoomID, model.RoleHost, created.HostToken, params.ParticipantName)
	if err != nil {
		return model.Session{}, err
	}
	if err := e.enterRoom(ctx, sess.RoomID, model.FirstStation); err != nil {
		return model.Session{}, err
	}
	log.Info().Str("room_id", sess.RoomID).Str("name", strings.TrimSpace(params.Name)).Msg("room created")
	return sess, nil
}

// JoinRoom joins an existing room as a follower.
func (e *Engine) JoinRoom(ctx context.Context, roomID, password, name string) (model.Session, error) {
	name = e.participantName(name)
	joined, err := e.rooms.JoinRoom(ctx, roomID, password, name)
	if err != nil {
		return model.Session{}, fmt.Errorf("join room: %w", err)
	}
	e.detach(joined.RoomID, true)
	sess, err := e.sessions.AdoptRoom(ctx, joined.RoomID, model.RoleFollower, "", name)
	if err != nil {
		return model.Session{}, err
	}
	station := joined.CurrentStation
	if !model.ValidStation(station) {
		station = model.FirstStation
	}
	if err := e.enterRoom(ctx, sess.RoomID, station); err != nil {
		return model.Session{}, err
	}
	log.Info().Str("room_id", sess.RoomID).Msg("room joined")
	return sess, nil
}

func (e *Engine) GoNext(ctx context.Context) (navigate.Result, error) {
	before := e.display.Station()
	res, err := e.gate.GoNext(ctx)
	return e.navigated(before, res, err)
}

func (e *Engine) GoPrevious(ctx context.Context) (navigate.Result, error) {
	before := e.display.Station()
	res, err := e.gate.GoPrevious(ctx)
	return e.navigated(before, res, err)
}

// Content fetches the display content of the current station.
func (e *Engine) Content(ctx context.Context) (model.Station, error) {
	return e.rooms.GetStation(ctx, e.display.Station())
}

// Detach stops polling and tells the room the participant left. The leave
// notification is sent in the background and never retried.
func (e *Engine) Detach() {
	e.detach("", false)
}

// detach skips the leave notification when the participant is re-entering
// the same room, or when nothing was polling unless force is set.
func (e *Engine) detach(nextRoomID string, force bool) {
	attached := e.poller.Running()
	e.poller.Stop()
	sess := e.sessions.Current()
	if !sess.InRoom() || sess.RoomID == nextRoomID || (!attached && !force) {
		return
	}
	e.dispatchLeave(sess.RoomID, sess.ParticipantName)
}

// SignOut leaves the room and forgets the session and navigation position.
func (e *Engine) SignOut(ctx context.Context) error {
	e.detach("", true)
	if err := e.sessions.Clear(ctx); err != nil {
		return err
	}
	e.display.Reset()
	e.differ.Reset()
	return nil
}

// Close detaches and waits for background leave notifications.
func (e *Engine) Close() {
	e.Detach()
	e.Shutdown()
}

// Shutdown stops polling without telling the room and waits for background
// work. The persisted session stays attached to the room for the next Open.
func (e *Engine) Shutdown() {
	e.poller.Stop()
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) enterRoom(ctx context.Context, roomID string, station int) error {
	if err := e.showStation(ctx, station); err != nil {
		return err
	}
	return e.startPolling(roomID)
}

func (e *Engine) startPolling(roomID string) error {
	e.differ.Reset()
	return e.poller.Start(e.ctx, roomID)
}

func (e *Engine) showStation(ctx context.Context, station int) error {
	changed, err := e.display.Set(ctx, station)
	if err != nil {
		return err
	}
	if changed {
		e.emit(Event{Kind: EventStationChanged, Station: station})
	}
	return nil
}

func (e *Engine) navigated(before int, res navigate.Result, err error) (navigate.Result, error) {
	if err != nil {
		return res, err
	}
	switch {
	case res.Finished:
		e.emit(Event{Kind: EventFinished, RoomID: e.sessions.Current().RoomID, Station: res.Station})
	case res.Station != before:
		e.emit(Event{Kind: EventStationChanged, RoomID: e.sessions.Current().RoomID, Station: res.Station})
	}
	return res, nil
}

func (e *Engine) dispatchLeave(roomID, name string) {
	if strings.TrimSpace(name) == "" {
		log.Debug().Str("room_id", roomID).Msg("skip leave notification without participant name")
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.leaveTimeout)
		defer cancel()
		if err := e.rooms.LeaveRoom(ctx, roomID, name); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("leave notification failed")
			return
		}
		log.Debug().Str("room_id", roomID).Msg("leave notification sent")
	}()
}

func (e *Engine) participantName(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return e.sessions.Current().ParticipantName
}

func (e *Engine) emit(ev Event) {
	if e.listener == nil {
		return
	}
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	e.listener(ev)
}

// pollHandler keeps the poller callbacks off the Engine's exported surface.
type pollHandler struct {
	e *Engine
}

// Snapshot reconciles the displayed station before diffing the roster.
func (h pollHandler) Snapshot(ctx context.Context, snap model.RoomSnapshot) {
	e := h.e
	e.syncMu.Lock()
	sess := e.sessions.Current()
	if !sess.InRoom() {
		e.syncMu.Unlock()
		return
	}
	outcome, err := e.reconciler.Reconcile(ctx, snap, sess.Role)
	station := e.display.Station()
	e.syncMu.Unlock()

	switch {
	case err != nil:
		log.Warn().Err(err).Str("room_id", sess.RoomID).Msg("room snapshot not applied")
	case outcome == reconcile.OutcomeApplied:
		e.emit(Event{Kind: EventStationChanged, RoomID: sess.RoomID, Station: station, Remote: true})
	}

	e.differ.Observe(snap.Participants, func(ev presence.Event) {
		kind := EventParticipantJoined
		if ev.Kind == presence.EventLeft {
			kind = EventParticipantLeft
		}
		e.emit(Event{Kind: kind, RoomID: sess.RoomID, Name: ev.Name})
	})
}

func (h pollHandler) SyncDegraded(err error) {
	h.e.emit(Event{Kind: EventSyncDegraded, RoomID: h.e.sessions.Current().RoomID, Err: err})
}

func (h pollHandler) SyncRestored() {
	h.e.emit(Event{Kind: EventSyncRestored, RoomID: h.e.sessions.Current().RoomID})
}

// RoomClosed clears the session: the room expired or was completed.
func (h pollHandler) RoomClosed(roomID string) {
	e := h.e
	if sess := e.sessions.Current(); sess.RoomID != roomID {
		return
	}
	if err := e.sessions.Clear(e.ctx); err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("clear session after room closed")
	}
	e.display.Reset()
	e.differ.Reset()
	e.emit(Event{Kind: EventRoomClosed, RoomID: roomID})
}
