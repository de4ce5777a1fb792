package signaling

import (
	"encoding/json"
	"errors"
)

// Envelope types understood by the relay. Inbound: join, offer, answer, ice-candidate, leave.
// Outbound only: user-joined, user-left, error.
const (
	TypeJoin         = "join"
	TypeJoinRoom     = "join-room" // legacy browser client
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeLeave        = "leave"
	TypeUserJoined   = "user-joined"
	TypeUserLeft     = "user-left"
	TypeError        = "error"
)

// Envelope is one signaling message. Payload is opaque to the relay.
type Envelope struct {
	Type     string          `json:"type"`
	RoomID   string          `json:"roomId"`
	SenderID string          `json:"senderId,omitempty"`
	TargetID string          `json:"targetId,omitempty"`
	Name     string          `json:"name,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload is the payload of an outbound error envelope.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var (
	errUnknownType   = errors.New("unknown envelope type")
	errMissingRoomID = errors.New("missing roomId")
)

// DecodeEnvelope parses and validates an inbound envelope. join-room is normalized to join.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	if env.Type == TypeJoinRoom {
		env.Type = TypeJoin
	}
	if !isInbound(env.Type) {
		return env, errUnknownType
	}
	if env.RoomID == "" {
		return env, errMissingRoomID
	}
	return env, nil
}

func isInbound(t string) bool {
	switch t {
	case TypeJoin, TypeOffer, TypeAnswer, TypeICECandidate, TypeLeave:
		return true
	}
	return false
}

func isRelayed(t string) bool {
	return t == TypeOffer || t == TypeAnswer || t == TypeICECandidate
}

func errorEnvelope(roomID, code, message string) Envelope {
	payload, _ := json.Marshal(ErrorPayload{Code: code, Message: message})
	return Envelope{Type: TypeError, RoomID: roomID, Payload: payload}
}
