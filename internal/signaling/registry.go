package signaling

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/edusphere/backend/pkg/apperr"
	"github.com/edusphere/backend/pkg/metrics"
)

var (
	ErrRoomFull          = apperr.New(apperr.KindConflict, "signaling.join", "room is full")
	ErrParticipantExists = apperr.New(apperr.KindConflict, "signaling.join", "participant already in room")
	ErrRoomNotFound      = apperr.NotFound("signaling", "room not found")
	ErrPeerNotFound      = apperr.NotFound("signaling", "peer not found in room")
)

// Peer is a participant connection the registry can deliver envelopes to.
// Send must not block: it enqueues or fails.
type Peer interface {
	ID() string
	Name() string
	Send(env Envelope) error
}

// ParticipantInfo is a snapshot of one room member.
type ParticipantInfo struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// RoomEvent describes a membership change, delivered to observers after the room lock is released.
type RoomEvent struct {
	RoomID      string
	PeerID      string
	Joined      bool // false = left
	Count       int  // members after the change
	RoomCreated bool
	RoomClosed  bool
}

// RoomObserver is notified of membership changes (presence mirror, audits).
type RoomObserver func(RoomEvent)

type room struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	peers     map[string]Peer
	closed    bool // set under mu once emptied; joiners must look the room up again
}

// Registry maps room id -> participants. The map lock only guards lookups and
// insert/delete of rooms; membership and fan-out are serialized per room.
type Registry struct {
	mu              sync.Mutex
	rooms           map[string]*room
	maxParticipants int
	observers       []RoomObserver
	metrics         *metrics.Signaling
	logger          *zap.Logger
}

// NewRegistry creates a registry. maxParticipants <= 0 disables the cap.
func NewRegistry(maxParticipants int, m *metrics.Signaling, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		rooms:           make(map[string]*room),
		maxParticipants: maxParticipants,
		metrics:         m,
		logger:          logger,
	}
}

// AddObserver registers fn for membership events. Call before serving connections.
func (r *Registry) AddObserver(fn RoomObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Join adds p to roomID, creating the room if absent.
func (r *Registry) Join(roomID string, p Peer) error {
	for {
		rm := r.getOrCreate(roomID)

		rm.mu.Lock()
		if rm.closed {
			// emptied and removed between lookup and lock
			rm.mu.Unlock()
			continue
		}
		if _, ok := rm.peers[p.ID()]; ok {
			rm.mu.Unlock()
			return ErrParticipantExists
		}
		if r.maxParticipants > 0 && len(rm.peers) >= r.maxParticipants {
			rm.mu.Unlock()
			return ErrRoomFull
		}
		rm.peers[p.ID()] = p
		count := len(rm.peers)
		// A room counts as open from its first member, not from map insertion: a
		// lookup can lose the race to a join+leave that closes the room first.
		opened := count == 1
		rm.mu.Unlock()

		if opened {
			r.metrics.RoomOpened()
		}
		r.metrics.ParticipantJoined()
		r.logger.Debug("participant joined room", zap.String("room_id", roomID), zap.String("participant_id", p.ID()), zap.Int("count", count))
		r.notify(RoomEvent{RoomID: roomID, PeerID: p.ID(), Joined: true, Count: count, RoomCreated: opened})
		return nil
	}
}

func (r *Registry) getOrCreate(roomID string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[roomID]; ok {
		return rm
	}
	rm := &room{id: roomID, createdAt: time.Now(), peers: make(map[string]Peer)}
	r.rooms[roomID] = rm
	return rm
}

func (r *Registry) get(roomID string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[roomID]
}

// Leave removes participantID from roomID and discards the room when it empties.
// Leaving twice or leaving an unknown room is a no-op.
func (r *Registry) Leave(roomID, participantID string) {
	rm := r.get(roomID)
	if rm == nil {
		return
	}

	rm.mu.Lock()
	if _, ok := rm.peers[participantID]; !ok {
		rm.mu.Unlock()
		return
	}
	delete(rm.peers, participantID)
	count := len(rm.peers)
	if count == 0 {
		rm.closed = true
		r.mu.Lock()
		if r.rooms[roomID] == rm {
			delete(r.rooms, roomID)
		}
		r.mu.Unlock()
	}
	rm.mu.Unlock()

	r.metrics.ParticipantLeft()
	if count == 0 {
		r.metrics.RoomClosed()
	}
	r.logger.Debug("participant left room", zap.String("room_id", roomID), zap.String("participant_id", participantID), zap.Int("count", count))
	r.notify(RoomEvent{RoomID: roomID, PeerID: participantID, Count: count, RoomClosed: count == 0})
}

// BroadcastExcept delivers env to every member of roomID other than senderID.
// A failing recipient does not stop delivery to the others; failures are
// aggregated into the returned error for logging only.
func (r *Registry) BroadcastExcept(roomID, senderID string, env Envelope) error {
	rm := r.get(roomID)
	if rm == nil {
		return ErrRoomNotFound
	}

	var errs error
	failed := 0
	rm.mu.Lock()
	for id, p := range rm.peers {
		if id == senderID {
			continue
		}
		if err := p.Send(env); err != nil {
			failed++
			errs = multierr.Append(errs, fmt.Errorf("peer %s: %w", id, err))
		}
	}
	rm.mu.Unlock()

	r.metrics.DeliveryFailed(failed)
	return errs
}

// SendTo delivers env to one member of roomID.
func (r *Registry) SendTo(roomID, targetID string, env Envelope) error {
	rm := r.get(roomID)
	if rm == nil {
		return ErrRoomNotFound
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	p, ok := rm.peers[targetID]
	if !ok {
		return ErrPeerNotFound
	}
	if err := p.Send(env); err != nil {
		r.metrics.DeliveryFailed(1)
		return fmt.Errorf("peer %s: %w", targetID, err)
	}
	return nil
}

// Participants returns the members of roomID sorted by id, or nil if the room does not exist.
func (r *Registry) Participants(roomID string) []ParticipantInfo {
	rm := r.get(roomID)
	if rm == nil {
		return nil
	}
	rm.mu.Lock()
	out := make([]ParticipantInfo, 0, len(rm.peers))
	for id, p := range rm.peers {
		out = append(out, ParticipantInfo{ID: id, Name: p.Name()})
	}
	rm.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ParticipantCount returns the number of members in roomID (0 when absent).
func (r *Registry) ParticipantCount(roomID string) int {
	rm := r.get(roomID)
	if rm == nil {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.peers)
}

// HasRoom reports whether roomID currently exists.
func (r *Registry) HasRoom(roomID string) bool {
	return r.get(roomID) != nil
}

// RoomCount returns the number of open rooms.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// RoomCreatedAt returns when roomID was opened.
func (r *Registry) RoomCreatedAt(roomID string) (time.Time, error) {
	rm := r.get(roomID)
	if rm == nil {
		return time.Time{}, ErrRoomNotFound
	}
	return rm.createdAt, nil
}

func (r *Registry) notify(ev RoomEvent) {
	r.mu.Lock()
	observers := r.observers
	r.mu.Unlock()
	for _, fn := range observers {
		fn(ev)
	}
}
