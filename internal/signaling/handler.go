package signaling

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/edusphere/backend/pkg/metrics"
	"github.com/edusphere/backend/pkg/response"
)

// Options configures the signaling HTTP handler.
type Options struct {
	SendBuffer int
	RatePerSec float64
	RateBurst  int
	ICEServers []webrtc.ICEServer
	// CheckOrigin vets the browser origin of upgrade requests; nil allows all.
	CheckOrigin func(r *http.Request) bool
}

// PresenceCounter reports cluster-wide membership (e.g. the Redis presence mirror).
type PresenceCounter interface {
	Count(roomID string) (int64, error)
}

// Handler serves the signaling WebSocket and call metadata endpoints.
type Handler struct {
	registry *Registry
	opts     Options
	upgrader websocket.Upgrader
	presence PresenceCounter // optional
	metrics  *metrics.Signaling
	logger   *zap.Logger
}

// NewHandler creates a signaling handler.
func NewHandler(registry *Registry, opts Options, m *metrics.Signaling, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		registry: registry,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		metrics: m,
		logger:  logger,
	}
}

// SetPresence sets the optional cluster presence source for RoomInfo.
func (h *Handler) SetPresence(p PresenceCounter) { h.presence = p }

// ServeWS upgrades the request and runs the connection until it closes.
// The participant joins a room with its first join envelope, not at upgrade time.
func (h *Handler) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.metrics.Connected()

	client := newClient(conn, h.opts.SendBuffer, h.logger)
	client.session = NewSession(h.registry, client, h.logger,
		WithRateLimit(h.opts.RatePerSec, h.opts.RateBurst),
		WithMetrics(h.metrics),
	)
	go client.writePump()
	client.readPump()
}

// ICEServers handles GET /calls/ice-servers for the call client's RTCPeerConnection config.
func (h *Handler) ICEServers(c *gin.Context) {
	servers := h.opts.ICEServers
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	response.OK(c, gin.H{"iceServers": servers})
}

// RoomInfo handles GET /calls/rooms/:id.
func (h *Handler) RoomInfo(c *gin.Context) {
	roomID := c.Param("id")
	createdAt, err := h.registry.RoomCreatedAt(roomID)
	if err != nil {
		response.Error(c, err)
		return
	}
	body := gin.H{
		"roomId":       roomID,
		"participants": h.registry.Participants(roomID),
		"createdAt":    createdAt.UTC().Format(time.RFC3339),
	}
	if h.presence != nil {
		if n, err := h.presence.Count(roomID); err == nil {
			body["clusterParticipants"] = n
		} else {
			h.logger.Debug("presence count failed", zap.String("room_id", roomID), zap.Error(err))
		}
	}
	response.OK(c, body)
}

// BuildICEServers converts configured URLs into pion ICE servers. TURN URLs get the credentials.
func BuildICEServers(urls []string, username, credential string) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		s := webrtc.ICEServer{URLs: []string{u}}
		if isTURN(u) && username != "" {
			s.Username = username
			s.Credential = credential
			s.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, s)
	}
	return servers
}

func isTURN(u string) bool {
	return strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:")
}
