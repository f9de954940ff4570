package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/g960059/viasacra/internal/api"
	"github.com/g960059/viasacra/internal/model"
)

// RoomServer is an in-memory implementation of the room backend contract
// used by engine and CLI tests.
type RoomServer struct {
	srv *httptest.Server

	mu        sync.Mutex
	rooms     map[string]*fakeRoom
	calls     map[string]int
	failures  map[string][]int
	onRequest func(route string)
}

type fakeRoom struct {
	id           string
	name         string
	password     string
	hostToken    string
	station      int
	active       bool
	expiresAt    time.Time
	participants []api.ParticipantResponse
}

func NewRoomServer(t *testing.T) *RoomServer {
	t.Helper()
	rs := &RoomServer{
		rooms:    make(map[string]*fakeRoom),
		calls:    make(map[string]int),
		failures: make(map[string][]int),
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/api", func(r chi.Router) {
		r.Get("/rooms", rs.track("GET /rooms", rs.listRooms))
		r.Post("/rooms", rs.track("POST /rooms", rs.createRoom))
		r.Post("/rooms/join", rs.track("POST /rooms/join", rs.joinRoom))
		r.Get("/rooms/{roomID}", rs.track("GET /rooms/{id}", rs.getRoom))
		r.Patch("/rooms/{roomID}/station", rs.track("PATCH /rooms/{id}/station", rs.updateStation))
		r.Patch("/rooms/{roomID}/complete", rs.track("PATCH /rooms/{id}/complete", rs.completeRoom))
		r.Post("/rooms/{roomID}/leave", rs.track("POST /rooms/{id}/leave", rs.leaveRoom))
		r.Post("/rooms/{roomID}/host-login", rs.track("POST /rooms/{id}/host-login", rs.hostLogin))
		r.Get("/stations/{station}", rs.track("GET /stations/{n}", rs.getStation))
	})
	rs.srv = httptest.NewServer(r)
	t.Cleanup(rs.srv.Close)
	return rs
}

// URL is the API base URL, including the /api prefix.
func (rs *RoomServer) URL() string {
	return rs.srv.URL + "/api"
}

func (rs *RoomServer) Client() *http.Client {
	return rs.srv.Client()
}

// Calls reports how many requests hit a route, e.g. "GET /rooms/{id}".
func (rs *RoomServer) Calls(route string) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.calls[route]
}

// FailNext makes the next len(statuses) requests on route answer with the
// given status codes.
func (rs *RoomServer) FailNext(route string, statuses ...int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.failures[route] = append(rs.failures[route], statuses...)
}

// OnRequest registers a hook invoked after every tracked request.
func (rs *RoomServer) OnRequest(fn func(route string)) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.onRequest = fn
}

// SeedRoom creates a room directly and returns its id and host token.
func (rs *RoomServer) SeedRoom(name, password, hostName string) (string, string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	room := rs.newRoomLocked(name, password, hostName)
	return room.id, room.hostToken
}

func (rs *RoomServer) SetStation(roomID string, station int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if room := rs.rooms[roomID]; room != nil {
		room.station = station
	}
}

func (rs *RoomServer) Station(roomID string) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if room := rs.rooms[roomID]; room != nil {
		return room.station
	}
	return 0
}

// SetParticipants replaces the roster with followers of the given names.
func (rs *RoomServer) SetParticipants(roomID string, names ...string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	room := rs.rooms[roomID]
	if room == nil {
		return
	}
	room.participants = room.participants[:0]
	for _, name := range names {
		room.participants = append(room.participants, api.ParticipantResponse{Name: name, JoinedAt: time.Now().UTC()})
	}
}

func (rs *RoomServer) Participants(roomID string) []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	room := rs.rooms[roomID]
	if room == nil {
		return nil
	}
	out := make([]string, 0, len(room.participants))
	for _, p := range room.participants {
		out = append(out, p.Name)
	}
	return out
}

func (rs *RoomServer) HostToken(roomID string) string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if room := rs.rooms[roomID]; room != nil {
		return room.hostToken
	}
	return ""
}

// Expire makes every later request on the room answer 404.
func (rs *RoomServer) Expire(roomID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if room := rs.rooms[roomID]; room != nil {
		room.active = false
	}
}

func (rs *RoomServer) Active(roomID string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	room := rs.rooms[roomID]
	return room != nil && room.active
}

func (rs *RoomServer) track(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		rs.calls[route]++
		var status int
		if queued := rs.failures[route]; len(queued) > 0 {
			status = queued[0]
			rs.failures[route] = queued[1:]
		}
		hook := rs.onRequest
		rs.mu.Unlock()

		if status != 0 {
			writeDetail(w, status, fmt.Sprintf("injected failure %d", status))
		} else {
			next(w, r)
		}
		if hook != nil {
			hook(route)
		}
	}
}

func (rs *RoomServer) newRoomLocked(name, password, hostName string) *fakeRoom {
	room := &fakeRoom{
		id:        uuid.NewString(),
		name:      name,
		password:  password,
		hostToken: uuid.NewString(),
		station:   model.FirstStation,
		active:    true,
		expiresAt: time.Now().UTC().Add(24 * time.Hour),
	}
	if hostName = strings.TrimSpace(hostName); hostName != "" {
		room.participants = append(room.participants, api.ParticipantResponse{Name: hostName, IsHost: true, JoinedAt: time.Now().UTC()})
	}
	rs.rooms[room.id] = room
	return room
}

func (rs *RoomServer) activeRoomLocked(r *http.Request) *fakeRoom {
	room := rs.rooms[chi.URLParam(r, "roomID")]
	if room == nil || !room.active {
		return nil
	}
	return room
}

func (rs *RoomServer) listRooms(w http.ResponseWriter, _ *http.Request) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]api.RoomListItem, 0, len(rs.rooms))
	for _, room := range rs.rooms {
		if room.active {
			out = append(out, api.RoomListItem{RoomID: room.id, Name: room.name, ExpiresAt: room.expiresAt})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (rs *RoomServer) createRoom(w http.ResponseWriter, r *http.Request) {
	var req api.CreateRoomRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" || len(req.Password) < 4 {
		writeDetail(w, http.StatusUnprocessableEntity, "name and a password of at least 4 characters are required")
		return
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, room := range rs.rooms {
		if room.active && strings.EqualFold(room.name, strings.TrimSpace(req.Name)) {
			writeDetail(w, http.StatusConflict, "room name already in use")
			return
		}
	}
	room := rs.newRoomLocked(strings.TrimSpace(req.Name), req.Password, fullName(req.FirstName, req.LastName))
	writeJSON(w, http.StatusOK, api.CreateRoomResponse{
		RoomID:         room.id,
		Name:           room.name,
		HostToken:      room.hostToken,
		CurrentStation: room.station,
		ExpiresAt:      &room.expiresAt,
	})
}

func (rs *RoomServer) joinRoom(w http.ResponseWriter, r *http.Request) {
	var req api.JoinRoomRequest
	if !decode(w, r, &req) {
		return
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	room := rs.rooms[req.RoomID]
	if room == nil || !room.active {
		writeDetail(w, http.StatusNotFound, "room not found or expired")
		return
	}
	if room.password != req.Password {
		writeDetail(w, http.StatusUnauthorized, "wrong password")
		return
	}
	if name := fullName(req.FirstName, req.LastName); name != "" {
		room.participants = append(room.participants, api.ParticipantResponse{Name: name, JoinedAt: time.Now().UTC()})
	}
	writeJSON(w, http.StatusOK, api.JoinRoomResponse{RoomID: room.id, Name: room.name, CurrentStation: room.station, ExpiresAt: &room.expiresAt})
}

func (rs *RoomServer) getRoom(w http.ResponseWriter, r *http.Request) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	room := rs.activeRoomLocked(r)
	if room == nil {
		writeDetail(w, http.StatusNotFound, "room not found or expired")
		return
	}
	participants := make([]api.ParticipantResponse, len(room.participants))
	copy(participants, room.participants)
	writeJSON(w, http.StatusOK, api.RoomResponse{
		RoomID:         room.id,
		Name:           room.name,
		CurrentStation: room.station,
		ExpiresAt:      &room.expiresAt,
		Participants:   participants,
	})
}

func (rs *RoomServer) updateStation(w http.ResponseWriter, r *http.Request) {
	var req api.StationUpdateRequest
	if !decode(w, r, &req) {
		return
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	room := rs.activeRoomLocked(r)
	if room == nil {
		writeDetail(w, http.StatusNotFound, "room not found or expired")
		return
	}
	if req.HostToken != room.hostToken {
		writeDetail(w, http.StatusForbidden, "only the host can advance")
		return
	}
	if !model.ValidStation(req.Station) {
		writeDetail(w, http.StatusUnprocessableEntity, "station must be between 1 and 14")
		return
	}
	room.station = req.Station
	w.WriteHeader(http.StatusNoContent)
}

func (rs *RoomServer) completeRoom(w http.ResponseWriter, r *http.Request) {
	var req api.CompleteRoomRequest
	if !decode(w, r, &req) {
		return
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	room := rs.activeRoomLocked(r)
	if room == nil {
		writeDetail(w, http.StatusNotFound, "room not found or expired")
		return
	}
	if req.HostToken != room.hostToken {
		writeDetail(w, http.StatusForbidden, "only the host can complete")
		return
	}
	room.active = false
	w.WriteHeader(http.StatusNoContent)
}

func (rs *RoomServer) leaveRoom(w http.ResponseWriter, r *http.Request) {
	var req api.LeaveRoomRequest
	if !decode(w, r, &req) {
		return
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	room := rs.activeRoomLocked(r)
	if room == nil {
		writeDetail(w, http.StatusNotFound, "room not found or expired")
		return
	}
	kept := room.participants[:0]
	for _, p := range room.participants {
		if p.Name != req.Name {
			kept = append(kept, p)
		}
	}
	room.participants = kept
	w.WriteHeader(http.StatusNoContent)
}

func (rs *RoomServer) hostLogin(w http.ResponseWriter, r *http.Request) {
	var req api.HostLoginRequest
	if !decode(w, r, &req) {
		return
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	room := rs.activeRoomLocked(r)
	if room == nil {
		writeDetail(w, http.StatusNotFound, "room not found or expired")
		return
	}
	if req.Password != room.password {
		writeDetail(w, http.StatusUnauthorized, "wrong password")
		return
	}
	room.hostToken = uuid.NewString()
	name := fullName(req.FirstName, req.LastName)
	for i := range room.participants {
		room.participants[i].IsHost = room.participants[i].Name == name
	}
	writeJSON(w, http.StatusOK, api.HostLoginResponse{HostToken: room.hostToken, CurrentStation: room.station})
}

func (rs *RoomServer) getStation(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "station"))
	if err != nil || !model.ValidStation(n) {
		writeDetail(w, http.StatusBadRequest, "Station ID must be between 1 and 14")
		return
	}
	writeJSON(w, http.StatusOK, api.StationResponse{
		ID:    n,
		Title: fmt.Sprintf("Station %d", n),
	})
}

func fullName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body: "+err.Error())
		return false
	}
	return true
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
