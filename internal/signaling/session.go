package signaling

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/edusphere/backend/pkg/metrics"
)

// State is a connection's position in the signaling lifecycle.
type State int

const (
	StateConnecting State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Outbox is the write side of a participant connection.
type Outbox interface {
	Send(env Envelope) error
}

// Session is the relay state machine for one connection: Connecting -> Joined -> Closed.
// Handle and Close are called from the connection's read goroutine; State may be read concurrently.
type Session struct {
	registry *Registry
	out      Outbox
	limiter  *rate.Limiter
	metrics  *metrics.Signaling
	logger   *zap.Logger

	mu     sync.Mutex
	state  State
	id     string
	name   string
	roomID string
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithRateLimit drops inbound envelopes beyond perSec (burst) per connection.
func WithRateLimit(perSec float64, burst int) SessionOption {
	return func(s *Session) {
		if perSec > 0 && burst > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
		}
	}
}

// WithMetrics attaches signaling metrics.
func WithMetrics(m *metrics.Signaling) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// NewSession creates a session in StateConnecting writing to out.
func NewSession(registry *Registry, out Outbox, logger *zap.Logger, opts ...SessionOption) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{registry: registry, out: out, logger: logger, state: StateConnecting}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID implements Peer. Empty until joined.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Name implements Peer.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Send implements Peer by forwarding to the connection's outbox.
func (s *Session) Send(env Envelope) error { return s.out.Send(env) }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RoomID returns the joined room, or "" before join.
func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// HandleRaw decodes one inbound frame and handles it. Malformed frames are dropped.
func (s *Session) HandleRaw(data []byte) {
	if s.State() == StateClosed {
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.drop("rate_limited", Envelope{}, nil)
		return
	}
	env, err := DecodeEnvelope(data)
	if err != nil {
		reason := "malformed"
		switch {
		case errors.Is(err, errUnknownType):
			reason = "unknown_type"
		case errors.Is(err, errMissingRoomID):
			reason = "missing_room_id"
		}
		s.drop(reason, env, err)
		return
	}
	s.Handle(env)
}

// Handle processes one decoded envelope according to the current state.
func (s *Session) Handle(env Envelope) {
	switch s.State() {
	case StateClosed:
		return
	case StateConnecting:
		switch env.Type {
		case TypeJoin:
			s.join(env)
		default:
			s.drop("not_joined", env, nil)
		}
	case StateJoined:
		switch {
		case isRelayed(env.Type):
			s.relay(env)
		case env.Type == TypeLeave:
			if env.RoomID != s.roomID {
				s.drop("room_mismatch", env, nil)
				return
			}
			s.Close()
		case env.Type == TypeJoin:
			s.drop("already_joined", env, nil)
		default:
			s.drop("unknown_type", env, nil)
		}
	}
}

func (s *Session) join(env Envelope) {
	id := env.SenderID
	if id == "" {
		id = uuid.New().String()
	}

	s.mu.Lock()
	s.id, s.name = id, env.Name
	s.mu.Unlock()

	if err := s.registry.Join(env.RoomID, s); err != nil {
		s.logger.Warn("join rejected", zap.String("room_id", env.RoomID), zap.String("participant_id", id), zap.Error(err))
		code := "join_failed"
		switch {
		case errors.Is(err, ErrRoomFull):
			code = "room_full"
		case errors.Is(err, ErrParticipantExists):
			code = "participant_exists"
		}
		s.mu.Lock()
		s.id, s.name = "", ""
		s.mu.Unlock()
		if sendErr := s.out.Send(errorEnvelope(env.RoomID, code, err.Error())); sendErr != nil {
			s.logger.Debug("error reply not delivered", zap.Error(sendErr))
		}
		return
	}

	s.mu.Lock()
	s.roomID = env.RoomID
	s.state = StateJoined
	s.mu.Unlock()

	s.logger.Info("participant joined", zap.String("room_id", env.RoomID), zap.String("participant_id", id), zap.String("name", env.Name))
	s.fanOut(Envelope{Type: TypeUserJoined, RoomID: env.RoomID, SenderID: id, Name: env.Name})
}

// relay forwards offer/answer/ice-candidate without looking at the payload.
func (s *Session) relay(env Envelope) {
	if env.RoomID != s.roomID {
		s.drop("room_mismatch", env, nil)
		return
	}
	if env.TargetID != "" && env.TargetID == s.id {
		s.drop("self_target", env, nil)
		return
	}
	env.SenderID = s.id

	if env.TargetID != "" {
		if err := s.registry.SendTo(s.roomID, env.TargetID, env); err != nil {
			s.logger.Warn("directed relay failed", zap.String("room_id", s.roomID), zap.String("sender_id", s.id),
				zap.String("target_id", env.TargetID), zap.String("type", env.Type), zap.Error(err))
			return
		}
		s.metrics.Relayed(env.Type)
		return
	}
	s.metrics.Relayed(env.Type)
	s.fanOut(env)
}

func (s *Session) fanOut(env Envelope) {
	if err := s.registry.BroadcastExcept(s.roomID, s.id, env); err != nil {
		s.logger.Warn("relay delivery incomplete", zap.String("room_id", s.roomID), zap.String("sender_id", s.id),
			zap.String("type", env.Type), zap.Error(err))
	}
}

// Close deregisters a joined participant, tells the remaining members, and moves to StateClosed.
// Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	prev := s.state
	s.state = StateClosed
	s.mu.Unlock()

	if prev != StateJoined {
		return
	}
	s.registry.Leave(s.roomID, s.id)
	s.logger.Info("participant left", zap.String("room_id", s.roomID), zap.String("participant_id", s.id))
	if err := s.registry.BroadcastExcept(s.roomID, s.id, Envelope{Type: TypeUserLeft, RoomID: s.roomID, SenderID: s.id, Name: s.name}); err != nil && !errors.Is(err, ErrRoomNotFound) {
		s.logger.Warn("user-left delivery incomplete", zap.String("room_id", s.roomID), zap.Error(err))
	}
}

func (s *Session) drop(reason string, env Envelope, err error) {
	s.metrics.Dropped(reason)
	fields := []zap.Field{zap.String("reason", reason), zap.String("type", env.Type), zap.String("room_id", env.RoomID), zap.String("participant_id", s.id)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	s.logger.Warn("signaling envelope dropped", fields...)
}
