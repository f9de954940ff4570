package roomclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/g960059/viasacra/internal/api"
	"github.com/g960059/viasacra/internal/model"
	"github.com/g960059/viasacra/internal/security"
)

const (
	defaultUnaryTimeout = 10 * time.Second
	requestIDHeader     = "X-Request-ID"
)

var (
	ErrRoomNotFound  = errors.New("room not found or expired")
	ErrUnauthorized  = errors.New("invalid room password")
	ErrForbidden     = errors.New("host token rejected")
	ErrRoomNameTaken = errors.New("room name already taken")
)

// Client speaks the room backend's REST contract.
type Client struct {
	baseURL      string
	client       *http.Client
	unaryTimeout time.Duration
}

func New(baseURL string) *Client {
	return NewWithClient(baseURL, &http.Client{})
}

func NewWithClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       client,
		unaryTimeout: defaultUnaryTimeout,
	}
}

func (c *Client) WithUnaryTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.unaryTimeout = timeout
	return &clone
}

type RequestError struct {
	StatusCode int
	Detail     string
	RequestID  string
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	detail := strings.TrimSpace(e.Detail)
	if e.StatusCode > 0 && detail != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, detail)
	}
	if detail != "" {
		return detail
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return "http error"
}

// Is maps status codes onto the package sentinels so callers can use
// errors.Is(err, ErrRoomNotFound) and friends.
func (e *RequestError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrRoomNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	case ErrRoomNameTaken:
		return e.StatusCode == http.StatusConflict
	default:
		return false
	}
}

func (e *RequestError) Retryable() bool {
	if e == nil {
		return false
	}
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout {
		return true
	}
	return e.StatusCode >= 500
}

type CreateRoomParams struct {
	Name            string
	Password        string
	ParticipantName string
}

type CreatedRoom struct {
	RoomID         string
	HostToken      string
	CurrentStation int
}

type JoinedRoom struct {
	RoomID         string
	CurrentStation int
}

type HostCredential struct {
	HostToken      string
	CurrentStation int
}

func (c *Client) ListRooms(ctx context.Context) ([]model.RoomListing, error) {
	body, err := c.request(ctx, http.MethodGet, "/rooms", nil)
	if err != nil {
		return nil, err
	}
	var items []api.RoomListItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decode room list: %w", err)
	}
	out := make([]model.RoomListing, 0, len(items))
	for _, item := range items {
		out = append(out, model.RoomListing{RoomID: item.RoomID, Name: item.Name, ExpiresAt: item.ExpiresAt})
	}
	return out, nil
}

func (c *Client) CreateRoom(ctx context.Context, params CreateRoomParams) (CreatedRoom, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return CreatedRoom{}, fmt.Errorf("room name is required")
	}
	first, last := api.SplitName(params.ParticipantName)
	body, err := c.request(ctx, http.MethodPost, "/rooms", api.CreateRoomRequest{
		Name:      name,
		Password:  params.Password,
		FirstName: first,
		LastName:  last,
	})
	if err != nil {
		return CreatedRoom{}, err
	}
	var resp api.CreateRoomResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return CreatedRoom{}, fmt.Errorf("decode create room response: %w", err)
	}
	if resp.RoomID == "" || resp.HostToken == "" {
		return CreatedRoom{}, fmt.Errorf("create room response missing room_id or host_token")
	}
	station := resp.CurrentStation
	if station == 0 {
		station = model.FirstStation
	}
	return CreatedRoom{RoomID: resp.RoomID, HostToken: resp.HostToken, CurrentStation: station}, nil
}

func (c *Client) JoinRoom(ctx context.Context, roomID, password, participantName string) (JoinedRoom, error) {
	id := strings.TrimSpace(roomID)
	if id == "" {
		return JoinedRoom{}, fmt.Errorf("room id is required")
	}
	first, last := api.SplitName(participantName)
	body, err := c.request(ctx, http.MethodPost, "/rooms/join", api.JoinRoomRequest{
		RoomID:    id,
		Password:  password,
		FirstName: first,
		LastName:  last,
	})
	if err != nil {
		return JoinedRoom{}, err
	}
	var resp api.JoinRoomResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return JoinedRoom{}, fmt.Errorf("decode join room response: %w", err)
	}
	if resp.RoomID == "" {
		resp.RoomID = id
	}
	return JoinedRoom{RoomID: resp.RoomID, CurrentStation: resp.CurrentStation}, nil
}

func (c *Client) GetRoom(ctx context.Context, roomID string) (model.RoomSnapshot, error) {
	path, err := roomPath(roomID, "")
	if err != nil {
		return model.RoomSnapshot{}, err
	}
	body, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return model.RoomSnapshot{}, err
	}
	var resp api.RoomResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.RoomSnapshot{}, fmt.Errorf("decode room: %w", err)
	}
	snap := model.RoomSnapshot{
		RoomID:         resp.RoomID,
		Name:           resp.Name,
		CurrentStation: resp.CurrentStation,
		ExpiresAt:      resp.ExpiresAt,
		Participants:   make([]model.Participant, 0, len(resp.Participants)),
		FetchedAt:      time.Now().UTC(),
	}
	if snap.RoomID == "" {
		snap.RoomID = strings.TrimSpace(roomID)
	}
	for _, p := range resp.Participants {
		snap.Participants = append(snap.Participants, model.Participant{Name: p.Name, IsHost: p.IsHost, JoinedAt: p.JoinedAt})
	}
	return snap, nil
}

func (c *Client) AdvanceStation(ctx context.Context, roomID string, station int, hostToken string) error {
	if !model.ValidStation(station) {
		return fmt.Errorf("station %d out of range", station)
	}
	path, err := roomPath(roomID, "/station")
	if err != nil {
		return err
	}
	_, err = c.request(ctx, http.MethodPatch, path, api.StationUpdateRequest{Station: station, HostToken: hostToken})
	return err
}

func (c *Client) CompleteRoom(ctx context.Context, roomID, hostToken string) error {
	path, err := roomPath(roomID, "/complete")
	if err != nil {
		return err
	}
	_, err = c.request(ctx, http.MethodPatch, path, api.CompleteRoomRequest{HostToken: hostToken})
	return err
}

func (c *Client) LeaveRoom(ctx context.Context, roomID, participantName string) error {
	path, err := roomPath(roomID, "/leave")
	if err != nil {
		return err
	}
	_, err = c.request(ctx, http.MethodPost, path, api.LeaveRoomRequest{Name: participantName})
	return err
}

func (c *Client) HostLogin(ctx context.Context, roomID, password, participantName string) (HostCredential, error) {
	path, err := roomPath(roomID, "/host-login")
	if err != nil {
		return HostCredential{}, err
	}
	first, last := api.SplitName(participantName)
	body, err := c.request(ctx, http.MethodPost, path, api.HostLoginRequest{
		Password:  password,
		FirstName: first,
		LastName:  last,
	})
	if err != nil {
		return HostCredential{}, err
	}
	var resp api.HostLoginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return HostCredential{}, fmt.Errorf("decode host login response: %w", err)
	}
	if resp.HostToken == "" {
		return HostCredential{}, fmt.Errorf("host login response missing host_token")
	}
	return HostCredential{HostToken: resp.HostToken, CurrentStation: resp.CurrentStation}, nil
}

// GetStation fetches display content from the content API.
func (c *Client) GetStation(ctx context.Context, station int) (model.Station, error) {
	if !model.ValidStation(station) {
		return model.Station{}, fmt.Errorf("station %d out of range", station)
	}
	body, err := c.request(ctx, http.MethodGet, "/stations/"+strconv.Itoa(station), nil)
	if err != nil {
		return model.Station{}, err
	}
	var resp api.StationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.Station{}, fmt.Errorf("decode station: %w", err)
	}
	return model.Station{
		ID:              resp.ID,
		Title:           resp.Title,
		ImageURL:        resp.ImageURL,
		Versicle:        resp.Versicle,
		Meditation:      resp.Meditation,
		Prayer:          resp.Prayer,
		StandardPrayers: resp.StandardPrayers,
		Hymn:            resp.Hymn,
	}, nil
}

func roomPath(roomID, suffix string) (string, error) {
	id := strings.TrimSpace(roomID)
	if id == "" {
		return "", fmt.Errorf("room id is required")
	}
	return "/rooms/" + url.PathEscape(id) + suffix, nil
}

func (c *Client) request(ctx context.Context, method, path string, body any) ([]byte, error) {
	reqCtx := ctx
	if c.unaryTimeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.unaryTimeout {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.unaryTimeout)
			defer cancel()
		}
	}
	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = buf
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("method", method).Str("path", path).Str("request_id", requestID).Msg("room request failed")
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("request_id", requestID).
		Dur("elapsed", time.Since(started)).
		Msg("room request")

	if resp.StatusCode >= 400 {
		detail := security.RedactDetail(strings.TrimSpace(string(payload)))
		var er api.ErrorResponse
		if err := json.Unmarshal(payload, &er); err == nil {
			if msg := er.Message(); msg != "" {
				detail = security.RedactDetail(msg)
			}
		}
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			Detail:     detail,
			RequestID:  requestID,
		}
	}
	return payload, nil
}
