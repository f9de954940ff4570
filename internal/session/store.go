package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/g960059/viasacra/internal/model"
)

// Persister is the durable backing of a Store. *db.Store implements it.
type Persister interface {
	LoadSession(ctx context.Context) (model.Session, error)
	SaveSession(ctx context.Context, s model.Session) error
	ClearSession(ctx context.Context) error
}

// Store holds the local session identity. Reads never touch the network or
// the disk; writes go through to the Persister before the in-memory copy is
// swapped.
type Store struct {
	mu      sync.RWMutex
	backing Persister
	current model.Session
}

func NewStore(backing Persister) *Store {
	return &Store{
		backing: backing,
		current: model.Session{Role: model.RoleSolo},
	}
}

// Load reconstructs the session from durable storage. A persisted record that
// breaks the role/token/room invariants is normalized and written back.
func (s *Store) Load(ctx context.Context) (model.Session, error) {
	stored, err := s.backing.LoadSession(ctx)
	if err != nil {
		return model.Session{}, fmt.Errorf("load session: %w", err)
	}
	normalized := stored.Normalize()
	if normalized != stored {
		log.Warn().
			Str("room_id", stored.RoomID).
			Str("role", string(stored.Role)).
			Bool("had_token", stored.HostToken != "").
			Msg("normalized persisted session")
		if err := s.backing.SaveSession(ctx, normalized); err != nil {
			return model.Session{}, fmt.Errorf("rewrite normalized session: %w", err)
		}
	}

	s.mu.Lock()
	s.current = normalized
	s.mu.Unlock()
	return normalized, nil
}

// AdoptRoom replaces the whole session. Only a host keeps hostToken; an empty
// name keeps the participant name already on record.
func (s *Store) AdoptRoom(ctx context.Context, roomID string, role model.Role, hostToken, name string) (model.Session, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return model.Session{}, fmt.Errorf("adopt room: room id is required")
	}
	if role != model.RoleHost && role != model.RoleFollower {
		return model.Session{}, fmt.Errorf("adopt room: invalid role %q", role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(name) == "" {
		name = s.current.ParticipantName
	}
	next := model.Session{
		RoomID:          roomID,
		Role:            role,
		HostToken:       strings.TrimSpace(hostToken),
		ParticipantName: name,
	}.Normalize()
	if err := s.backing.SaveSession(ctx, next); err != nil {
		return model.Session{}, fmt.Errorf("adopt room: %w", err)
	}
	s.current = next
	return next, nil
}

// SetSolo detaches from any room while keeping the participant name.
func (s *Store) SetSolo(ctx context.Context, name string) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(name) == "" {
		name = s.current.ParticipantName
	}
	next := model.Session{Role: model.RoleSolo, ParticipantName: name}.Normalize()
	if err := s.backing.ClearSession(ctx); err != nil {
		return model.Session{}, fmt.Errorf("set solo: %w", err)
	}
	if err := s.backing.SaveSession(ctx, next); err != nil {
		return model.Session{}, fmt.Errorf("set solo: %w", err)
	}
	s.current = next
	return next, nil
}

// Clear removes every session field together with the persisted navigation
// position.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backing.ClearSession(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.current = model.Session{Role: model.RoleSolo}
	return nil
}

func (s *Store) Current() model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}
