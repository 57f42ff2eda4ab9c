package server

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"orchestra/internal/event"
	"orchestra/internal/ids"
	"orchestra/internal/metrics"
	"orchestra/internal/registry"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

const wsRoute = "/ws"

// handleWebSocket accepts a bus connection. The client declares its identity
// with ?clientId= (or the X-Client-Id header); agents are recognized by the
// agent-<id> naming.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !validateToken(r, s.opts.AuthToken) {
		s.logger.Warn("websocket rejected", map[string]string{
			"remote_addr": r.RemoteAddr,
			"reason":      "unauthorized",
		})
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !s.trackConnection() {
		http.Error(w, "server not running", http.StatusServiceUnavailable)
		return
	}
	defer s.connWG.Done()

	identity := declaredIdentity(r)
	clientID := ids.ClientID()
	ctx, span := startWebSocketSpan(r, wsRoute,
		attribute.String("orchestra.client_id", clientID),
		attribute.String("orchestra.identity", identity),
	)
	defer span.End()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r, s.opts.AllowedOrigins)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", map[string]string{
			"remote_addr": r.RemoteAddr,
			"error":       err.Error(),
		})
		return
	}
	// Oversized frames below this cap get an error response; above it the
	// socket is closed.
	conn.SetReadLimit(int64(s.opts.MaxFrameBytes) * 4)

	conn.SetPongHandler(func(string) error {
		s.registry.Touch(clientID)
		return nil
	})
	sender := newWSConn(conn, s.pingInterval(), func(size int) {
		s.outbound.record(s.now(), size)
	})
	s.RegisterClient(clientID, sender, identity)
	defer s.dropConnection(clientID)
	s.bindIdentity(ctx, clientID, identity)

	var limiter *rate.Limiter
	if s.opts.RateLimit > 0 {
		burst := s.opts.RateBurst
		if burst <= 0 {
			burst = int(s.opts.RateLimit) + 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.opts.RateLimit), burst)
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Debug("websocket read ended", map[string]string{
					"client_id": clientID,
					"error":     err.Error(),
				})
			}
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		if limiter != nil && !limiter.Allow() {
			s.logger.Warn("rate limit exceeded", map[string]string{"client_id": clientID})
			s.sendError(clientID, "rate limit exceeded", "")
			continue
		}
		s.HandleMessage(ctx, clientID, data)
	}
}

// pingInterval keeps pongs arriving at least twice per heartbeat timeout.
func (s *Server) pingInterval() time.Duration {
	interval := s.opts.HeartbeatInterval
	if interval <= 0 {
		interval = registry.DefaultHeartbeatInterval
	}
	timeout := s.opts.HeartbeatTimeout
	if timeout <= 0 {
		timeout = registry.DefaultHeartbeatTimeout
	}
	if half := timeout / 2; interval > half {
		interval = half
	}
	return interval
}

func (s *Server) trackConnection() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return false
	}
	s.connWG.Add(1)
	return true
}

// RegisterClient adds a connection to the registry under clientID. The agent
// flag is inferred from identity.
func (s *Server) RegisterClient(clientID string, sender registry.Sender, identity string) *registry.Connection {
	isAgent := registry.InferAgent(identity)
	conn := s.registry.Add(clientID, sender, identity, isAgent)
	s.metrics.IncrementCounter(metrics.ConnectionsEstablished, 1, map[string]string{"agent": strconv.FormatBool(isAgent)})
	s.recordConnectionGauges()
	s.publish(event.NewConnectionEvent(event.TypeClientConnected, clientID, identity, isAgent))
	s.logger.Info("client connected", map[string]string{
		"client_id": clientID,
		"identity":  identity,
		"is_agent":  strconv.FormatBool(isAgent),
	})
	return conn
}

func (s *Server) dropConnection(clientID string) {
	conn, ok := s.registry.Get(clientID)
	if !s.registry.Remove(clientID) {
		return
	}
	s.recordConnectionGauges()
	if ok {
		s.publish(event.NewConnectionEvent(event.TypeClientDisconnected, clientID, conn.Identity, conn.IsAgent))
	}
	s.logger.Info("client disconnected", map[string]string{"client_id": clientID})
}

func declaredIdentity(r *http.Request) string {
	for _, key := range []string{"clientId", "identity"} {
		if value := strings.TrimSpace(r.URL.Query().Get(key)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(r.Header.Get("X-Client-Id"))
}

func validateToken(r *http.Request, token string) bool {
	if token == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ") == token
	}
	if queryToken := r.URL.Query().Get("token"); queryToken != "" {
		return queryToken == token
	}
	return false
}

func isOriginAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Hostname() == "" {
		return false
	}
	if len(allowed) > 0 {
		for _, candidate := range allowed {
			if candidate == "*" || strings.EqualFold(origin, candidate) || strings.EqualFold(parsed.Hostname(), candidate) {
				return true
			}
		}
		return false
	}
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.EqualFold(parsed.Hostname(), host)
}
