package signaling

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingOutbox captures what a session's connection would write.
type recordingOutbox struct {
	fakePeer
}

func newSessionFor(t *testing.T, reg *Registry) (*Session, *recordingOutbox) {
	t.Helper()
	out := &recordingOutbox{}
	return NewSession(reg, out, nil), out
}

func raw(t *testing.T, env Envelope) []byte {
	t.Helper()
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return b
}

func TestSession_OfferReachesOnlyOtherMember(t *testing.T) {
	reg := NewRegistry(0, nil, nil)
	a, outA := newSessionFor(t, reg)
	b, outB := newSessionFor(t, reg)

	a.HandleRaw(raw(t, Envelope{Type: TypeJoin, RoomID: "room-1", SenderID: "A", Name: "Alice"}))
	b.HandleRaw(raw(t, Envelope{Type: TypeJoin, RoomID: "room-1", SenderID: "B", Name: "Bob"}))
	require.Equal(t, StateJoined, a.State())
	require.Equal(t, StateJoined, b.State())

	// A learns about B; B hears nothing about its own join.
	require.Len(t, outA.received(), 1)
	assert.Equal(t, TypeUserJoined, outA.received()[0].Type)
	assert.Equal(t, "B", outA.received()[0].SenderID)
	assert.Empty(t, outB.received())

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1"}`)
	a.HandleRaw(raw(t, Envelope{Type: TypeOffer, RoomID: "room-1", Payload: payload}))

	got := outB.received()
	require.Len(t, got, 1)
	assert.Equal(t, TypeOffer, got[0].Type)
	assert.Equal(t, "A", got[0].SenderID)
	assert.Equal(t, "room-1", got[0].RoomID)
	assert.JSONEq(t, string(payload), string(got[0].Payload))
	assert.Len(t, outA.received(), 1, "sender does not receive its own offer")
}

func TestSession_RelayPreservesOrderAndPayload(t *testing.T) {
	reg := NewRegistry(0, nil, nil)
	a, _ := newSessionFor(t, reg)
	b, outB := newSessionFor(t, reg)
	c, outC := newSessionFor(t, reg)
	for id, s := range map[string]*Session{"A": a, "B": b, "C": c} {
		s.Handle(Envelope{Type: TypeJoin, RoomID: "r", SenderID: id})
	}
	outB.got, outC.got = nil, nil

	sent := []Envelope{
		{Type: TypeOffer, RoomID: "r", Payload: json.RawMessage(`{"n":1}`)},
		{Type: TypeICECandidate, RoomID: "r", Payload: json.RawMessage(`{"candidate":"c1"}`)},
		{Type: TypeICECandidate, RoomID: "r", Payload: json.RawMessage(`{"candidate":"c2"}`)},
		{Type: TypeAnswer, RoomID: "r", Payload: json.RawMessage(`{"n":4}`)},
	}
	for _, env := range sent {
		a.Handle(env)
	}

	for _, out := range []*recordingOutbox{outB, outC} {
		got := out.received()
		require.Len(t, got, len(sent))
		for i := range sent {
			assert.Equal(t, sent[i].Type, got[i].Type)
			assert.Equal(t, "A", got[i].SenderID)
			assert.Equal(t, string(sent[i].Payload), string(got[i].Payload))
		}
	}
}

func TestSession_DirectedRelay(t *testing.T) {
	reg := NewRegistry(0, nil, nil)
	a, _ := newSessionFor(t, reg)
	b, outB := newSessionFor(t, reg)
	c, outC := newSessionFor(t, reg)
	a.Handle(Envelope{Type: TypeJoin, RoomID: "r", SenderID: "A"})
	b.Handle(Envelope{Type: TypeJoin, RoomID: "r", SenderID: "B"})
	c.Handle(Envelope{Type: TypeJoin, RoomID: "r", SenderID: "C"})
	outB.got, outC.got = nil, nil

	a.Handle(Envelope{Type: TypeOffer, RoomID: "r", TargetID: "C", Payload: json.RawMessage(`{}`)})

	assert.Empty(t, outB.received())
	require.Len(t, outC.received(), 1)
	assert.Equal(t, "A", outC.received()[0].SenderID)
}

func TestSession_SelfTargetedRelayIsDropped(t *testing.T) {
	reg := NewRegistry(0, nil, nil)
	a, outA := newSessionFor(t, reg)
	b, outB := newSessionFor(t, reg)
	a.Handle(Envelope{Type: TypeJoin, RoomID: "r", SenderID: "A"})
	b.Handle(Envelope{Type: TypeJoin, RoomID: "r", SenderID: "B"})
	outA.got, outB.got = nil, nil

	a.Handle(Envelope{Type: TypeOffer, RoomID: "r", TargetID: "A", Payload: json.RawMessage(`{}`)})

	assert.Empty(t, outA.received(), "sender never receives its own offer")
	assert.Empty(t, outB.received())
	assert.Equal(t, StateJoined, a.State())
}

func TestSession_MalformedEnvelopesAreDropped(t *testing.T) {
	reg := NewRegistry(0, nil, nil)
	a, outA := newSessionFor(t, reg)
	b, outB := newSessionFor(t, reg)
	a.Handle(Envelope{Type: TypeJoin, RoomID: "r", SenderID: "A"})
	b.Handle(Envelope{Type: TypeJoin, RoomID: "r", SenderID: "B"})
	outA.got = nil

	a.HandleRaw([]byte(`not json`))
	a.HandleRaw([]byte(`{"type":"renegotiate","roomId":"r"}`))
	a.HandleRaw([]byte(`{"type":"offer"}`))
	a.HandleRaw([]byte(`{"type":"offer","roomId":"another-room"}`))
	a.HandleRaw([]byte(`{"type":"join","roomId":"r2"}`))

	assert.Equal(t, StateJoined, a.State())
	assert.Equal(t, 2, reg.ParticipantCount("r"))
	assert.Empty(t, outB.received())
	assert.Empty(t, outA.received())

	a.HandleRaw(raw(t, Envelope{Type: TypeOffer, RoomID: "r", Payload: json.RawMessage(`{}`)}))
	assert.Len(t, outB.received(), 1, "connection keeps relaying after bad frames")
}

func TestSession_RelayBeforeJoinIsDropped(t *testing.T) {
	reg := NewRegistry(0, nil, nil)
	b, outB := newSessionFor(t, reg)
	b.Handle(Envelope{Type: TypeJoin, RoomID: "r", SenderID: "B"})

	a, _ := newSessionFor(t, reg)
	a.Handle(Envelope{Type: TypeOffer, RoomID: "r", Payload: json.RawMessage(`{}`)})

	assert.Equal(t, StateConnecting, a.State())
	assert.Empty(t, outB.received())
}

func TestSession_LeaveNotifiesAndIsTerminal(t *testing.T) {
	reg := NewRegistry(0, nil, nil)
	a, _ := newSessionFor(t, reg)
	b, outB := newSessionFor(t, reg)
	a.Handle(Envelope{Type: TypeJoin, RoomID: "r", SenderID: "A", Name: "Alice"})
	b.Handle(Envelope{Type: TypeJoin, RoomID: "r", SenderID: "B"})

	a.HandleRaw(raw(t, Envelope{Type: TypeLeave, RoomID: "r"}))

	assert.Equal(t, StateClosed, a.State())
	assert.Equal(t, 1, reg.ParticipantCount("r"))
	got := outB.received()
	require.Len(t, got, 1)
	assert.Equal(t, TypeUserLeft, got[0].Type)
	assert.Equal(t, "A", got[0].SenderID)
	assert.Equal(t, "Alice", got[0].Name)

	// Closed ignores everything, including a second close.
	a.Handle(Envelope{Type: TypeJoin, RoomID: "r", SenderID: "A"})
	a.Handle(Envelope{Type: TypeOffer, RoomID: "r"})
	a.Close()
	assert.Equal(t, StateClosed, a.State())
	assert.Len(t, outB.received(), 1)
	assert.Equal(t, 1, reg.ParticipantCount("r"))
}

func TestSession_CloseOfLastMemberRemovesRoom(t *testing.T) {
	reg := NewRegistry(0, nil, nil)
	a, _ := newSessionFor(t, reg)
	a.Handle(Envelope{Type: TypeJoin, RoomID: "r", SenderID: "A"})

	a.Close()

	assert.False(t, reg.HasRoom("r"))
	assert.Equal(t, StateClosed, a.State())
}

func TestSession_CloseWhileConnecting(t *testing.T) {
	reg := NewRegistry(0, nil, nil)
	a, _ := newSessionFor(t, reg)
	a.Close()
	assert.Equal(t, StateClosed, a.State())
	assert.Equal(t, 0, reg.RoomCount())
}

func TestSession_JoinRejectedWhenFull(t *testing.T) {
	reg := NewRegistry(1, nil, nil)
	a, _ := newSessionFor(t, reg)
	b, outB := newSessionFor(t, reg)
	a.Handle(Envelope{Type: TypeJoin, RoomID: "r", SenderID: "A"})

	b.Handle(Envelope{Type: TypeJoin, RoomID: "r", SenderID: "B"})

	assert.Equal(t, StateConnecting, b.State())
	got := outB.received()
	require.Len(t, got, 1)
	assert.Equal(t, TypeError, got[0].Type)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(got[0].Payload, &p))
	assert.Equal(t, "room_full", p.Code)
}

func TestSession_JoinRoomAliasAndGeneratedID(t *testing.T) {
	reg := NewRegistry(0, nil, nil)
	a, _ := newSessionFor(t, reg)

	a.HandleRaw([]byte(`{"type":"join-room","roomId":"r","name":"Alice"}`))

	require.Equal(t, StateJoined, a.State())
	assert.NotEmpty(t, a.ID())
	assert.Equal(t, "Alice", a.Name())
	assert.Equal(t, "r", a.RoomID())
}

func TestSession_RateLimitDropsExcess(t *testing.T) {
	reg := NewRegistry(0, nil, nil)
	out := &recordingOutbox{}
	a := NewSession(reg, out, nil, WithRateLimit(0.0001, 2))
	b, outB := newSessionFor(t, reg)
	b.Handle(Envelope{Type: TypeJoin, RoomID: "r", SenderID: "B"})

	a.HandleRaw(raw(t, Envelope{Type: TypeJoin, RoomID: "r", SenderID: "A"}))
	outB.got = nil
	for i := 0; i < 5; i++ {
		a.HandleRaw(raw(t, Envelope{Type: TypeICECandidate, RoomID: "r"}))
	}

	assert.Len(t, outB.received(), 1)
	assert.Equal(t, StateJoined, a.State())
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"ice-candidate","roomId":"r","payload":{"candidate":"x"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeICECandidate, env.Type)
	assert.JSONEq(t, `{"candidate":"x"}`, string(env.Payload))

	_, err = DecodeEnvelope([]byte(`{"type":"user-joined","roomId":"r"}`))
	assert.ErrorIs(t, err, errUnknownType)

	_, err = DecodeEnvelope([]byte(`{"type":"offer"}`))
	assert.ErrorIs(t, err, errMissingRoomID)
}
