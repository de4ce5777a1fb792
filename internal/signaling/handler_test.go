package signaling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubPresence struct{ n int64 }

func (p stubPresence) Count(string) (int64, error) { return p.n, nil }

func newTestServer(t *testing.T, reg *Registry, opts Options) (*httptest.Server, *Handler) {
	t.Helper()
	h := NewHandler(reg, opts, nil, nil)
	r := gin.New()
	r.GET("/ws", h.ServeWS)
	r.GET("/calls/ice-servers", h.ICEServers)
	r.GET("/calls/rooms/:id", h.RoomInfo)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, h
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestHandler_RelaysOfferBetweenWebSocketPeers(t *testing.T) {
	reg := NewRegistry(0, nil, nil)
	srv, _ := newTestServer(t, reg, Options{})
	a := dial(t, srv)
	b := dial(t, srv)

	require.NoError(t, a.WriteJSON(Envelope{Type: TypeJoin, RoomID: "lecture-7", SenderID: "A", Name: "Alice"}))
	require.Eventually(t, func() bool { return reg.ParticipantCount("lecture-7") == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, b.WriteJSON(Envelope{Type: TypeJoin, RoomID: "lecture-7", SenderID: "B", Name: "Bob"}))

	joined := readEnvelope(t, a)
	assert.Equal(t, TypeUserJoined, joined.Type)
	assert.Equal(t, "B", joined.SenderID)
	assert.Equal(t, "Bob", joined.Name)

	sdp := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	require.NoError(t, a.WriteJSON(Envelope{Type: TypeOffer, RoomID: "lecture-7", Payload: sdp}))

	offer := readEnvelope(t, b)
	assert.Equal(t, TypeOffer, offer.Type)
	assert.Equal(t, "A", offer.SenderID)
	assert.JSONEq(t, string(sdp), string(offer.Payload))

	// Disconnect without a leave envelope still removes the member.
	require.NoError(t, b.Close())
	left := readEnvelope(t, a)
	assert.Equal(t, TypeUserLeft, left.Type)
	assert.Equal(t, "B", left.SenderID)
	assert.Equal(t, 1, reg.ParticipantCount("lecture-7"))
}

func TestHandler_RejectsDisallowedOrigin(t *testing.T) {
	srv, _ := newTestServer(t, NewRegistry(0, nil, nil), Options{
		CheckOrigin: func(r *http.Request) bool { return r.Header.Get("Origin") == "https://app.example.com" },
	})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://app.example.com"}})
	require.NoError(t, err)
	_ = conn.Close()
}

func TestHandler_RoomInfo(t *testing.T) {
	reg := NewRegistry(0, nil, nil)
	srv, h := newTestServer(t, reg, Options{})

	resp, err := http.Get(srv.URL + "/calls/rooms/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, reg.Join("lecture-8", newFakePeer("p1")))
	h.SetPresence(stubPresence{n: 3})

	resp, err = http.Get(srv.URL + "/calls/rooms/lecture-8")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data struct {
			RoomID              string            `json:"roomId"`
			Participants        []ParticipantInfo `json:"participants"`
			ClusterParticipants int64             `json:"clusterParticipants"`
			CreatedAt           string            `json:"createdAt"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "lecture-8", body.Data.RoomID)
	assert.Equal(t, []ParticipantInfo{{ID: "p1", Name: "name-p1"}}, body.Data.Participants)
	assert.EqualValues(t, 3, body.Data.ClusterParticipants)
	_, err = time.Parse(time.RFC3339, body.Data.CreatedAt)
	assert.NoError(t, err)
}

func TestHandler_ICEServers(t *testing.T) {
	servers := BuildICEServers([]string{"stun:stun.example.com:3478", "", "turn:turn.example.com:3478"}, "u", "p")
	srv, _ := newTestServer(t, NewRegistry(0, nil, nil), Options{ICEServers: servers})

	resp, err := http.Get(srv.URL + "/calls/ice-servers")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Data struct {
			ICEServers []struct {
				URLs       []string `json:"urls"`
				Username   string   `json:"username"`
				Credential string   `json:"credential"`
			} `json:"iceServers"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Data.ICEServers, 2)
	assert.Equal(t, []string{"stun:stun.example.com:3478"}, body.Data.ICEServers[0].URLs)
	assert.Empty(t, body.Data.ICEServers[0].Username)
	assert.Equal(t, "u", body.Data.ICEServers[1].Username)
	assert.Equal(t, "p", body.Data.ICEServers[1].Credential)
}

func TestBuildICEServers(t *testing.T) {
	servers := BuildICEServers([]string{"turns:turn.example.com:5349"}, "", "")
	require.Len(t, servers, 1)
	assert.Empty(t, servers[0].Username)

	servers = BuildICEServers([]string{"turns:turn.example.com:5349"}, "user", "secret")
	assert.Equal(t, webrtc.ICECredentialTypePassword, servers[0].CredentialType)
	assert.Empty(t, BuildICEServers(nil, "user", "secret"))
}
