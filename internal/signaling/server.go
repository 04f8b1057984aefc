package signaling

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/origin"
)

const (
	wsWriteWait = 1 * time.Second

	defaultIdleTimeout          = 60 * time.Second
	defaultPingInterval         = 20 * time.Second
	defaultMaxMessageBytes      = int64(64 * 1024)
	defaultMaxMessagesPerSecond = 50
)

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	Registry *Registry
	Router   *Router
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// AllowedOrigins is checked against the browser Origin header during the
	// WebSocket upgrade. Empty means same-host only; "*" allows any origin.
	AllowedOrigins []string

	// IdleTimeout closes connections that send nothing (including pongs) for
	// this long. PingInterval must be shorter.
	IdleTimeout  time.Duration
	PingInterval time.Duration

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
}

// Server is the transport listener: it upgrades GET /socket to a WebSocket,
// registers a peer per connection and feeds inbound frames to the Router.
type Server struct {
	cfg      Config
	log      *slog.Logger
	origins  origin.Policy
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*wsSession]struct{}
	closed   bool
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.IdleTimeout {
		cfg.PingInterval = min(defaultPingInterval, cfg.IdleTimeout/2)
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	if cfg.MaxMessagesPerSecond <= 0 {
		cfg.MaxMessagesPerSecond = defaultMaxMessagesPerSecond
	}

	s := &Server{
		cfg:      cfg,
		log:      cfg.Logger,
		origins:  origin.NewPolicy(cfg.AllowedOrigins),
		sessions: make(map[*wsSession]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 4 * 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /socket", s.handleWebSocket)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Close terminates every open signaling connection. Their peers are removed
// from the room table as the read loops unwind.
func (s *Server) Close() {
	s.mu.Lock()
	sessions := make([]*wsSession, 0, len(s.sessions))
	for wss := range s.sessions {
		sessions = append(sessions, wss)
	}
	s.sessions = nil
	s.closed = true
	s.mu.Unlock()

	for _, wss := range sessions {
		wss.closeWith(websocket.CloseGoingAway, "server shutting down")
		_ = wss.conn.Close()
	}
}

func (s *Server) track(wss *wsSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[wss] = struct{}{}
	return true
}

func (s *Server) untrack(wss *wsSession) {
	s.mu.Lock()
	if s.sessions != nil {
		delete(s.sessions, wss)
	}
	s.mu.Unlock()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(r.Header.Values("Origin")) > 1 {
		s.cfg.Metrics.Inc(metrics.OriginRejected)
		return false
	}
	originHeader := r.Header.Get("Origin")
	if _, ok := s.origins.Check(originHeader, r.Host); ok {
		return true
	}
	s.cfg.Metrics.Inc(metrics.OriginRejected)
	s.log.Warn("rejected websocket origin", "origin", originHeader, "host", r.Host)
	return false
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		s.log.Debug("websocket upgrade failed", "err", err, "remote_addr", r.RemoteAddr)
		return
	}

	peer := s.cfg.Registry.Connect()
	wss := &wsSession{
		srv:  s,
		conn: conn,
		peer: peer,
		log:  s.log.With("peer_id", peer.ID(), "remote_addr", r.RemoteAddr),
		limiter: rate.NewLimiter(
			rate.Limit(s.cfg.MaxMessagesPerSecond),
			s.cfg.MaxMessagesPerSecond,
		),
		writerDone: make(chan struct{}),
	}
	if !s.track(wss) {
		s.cfg.Registry.Disconnect(peer.ID())
		wss.closeWith(websocket.CloseGoingAway, "server shutting down")
		_ = conn.Close()
		return
	}
	defer s.untrack(wss)

	s.cfg.Metrics.Inc(metrics.PeerConnected)
	wss.log.Info("peer connected")
	wss.run()
}

type wsSession struct {
	srv  *Server
	conn *websocket.Conn
	peer *Peer
	log  *slog.Logger

	limiter *rate.Limiter

	writerDone chan struct{}
}

func (wss *wsSession) run() {
	defer wss.shutdown()

	cfg := wss.srv.cfg

	wss.conn.SetReadLimit(cfg.MaxMessageBytes)
	_ = wss.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
	wss.conn.SetPongHandler(func(string) error {
		return wss.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
	})

	go wss.writeLoop()

	for {
		msgType, data, err := wss.conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				cfg.Metrics.Inc(metrics.DropReasonMessageTooLarge)
				wss.closeWith(websocket.CloseMessageTooBig, "message too large")
			case isTimeout(err):
				wss.log.Debug("idle timeout")
				wss.closeWith(websocket.CloseNormalClosure, "idle timeout")
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived):
				wss.log.Warn("websocket read failed", "err", err)
			}
			return
		}
		_ = wss.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))

		// Rate limit after the read so the frame is consumed; closing with
		// unread data can turn into a TCP reset that hides the close reason.
		if !wss.limiter.Allow() {
			cfg.Metrics.Inc(metrics.DropReasonRateLimited)
			wss.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			wss.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		msg, err := ParseInbound(data)
		if err != nil {
			cfg.Metrics.Inc(metrics.DropReasonProtocolError)
			wss.reportProtocolError(err)
			continue
		}

		if err := cfg.Router.Dispatch(wss.peer, msg); err != nil {
			wss.log.Debug("delivery failed", "type", msg.Type(), "err", err)
		}
	}
}

func (wss *wsSession) reportProtocolError(err error) {
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		protoErr = &ProtocolError{Code: "bad_message", Message: err.Error()}
	}
	wss.log.Debug("dropping malformed message", "code", protoErr.Code, "err", protoErr.Message)
	if err := wss.peer.Enqueue(Error{Code: protoErr.Code, Message: protoErr.Message}); err != nil {
		wss.log.Debug("failed to report protocol error", "err", err)
	}
}

// writeLoop is the only goroutine that writes data frames. It exits when the
// peer's queue is closed or a write fails.
func (wss *wsSession) writeLoop() {
	defer close(wss.writerDone)

	ticker := time.NewTicker(wss.srv.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-wss.peer.Outbound():
			if !ok {
				return
			}
			frame, err := EncodeOutbound(msg)
			if err != nil {
				wss.log.Error("failed to encode outbound message", "type", msg.Type(), "err", err)
				continue
			}
			_ = wss.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := wss.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				wss.log.Debug("websocket write failed", "err", err)
				_ = wss.conn.Close()
				return
			}
		case <-ticker.C:
			if err := wss.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				_ = wss.conn.Close()
				return
			}
		}
	}
}

func (wss *wsSession) closeWith(code int, reason string) {
	_ = wss.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func (wss *wsSession) shutdown() {
	wss.srv.cfg.Registry.Disconnect(wss.peer.ID())
	<-wss.writerDone
	_ = wss.conn.Close()

	wss.srv.cfg.Metrics.Inc(metrics.PeerDisconnected)
	wss.log.Info("peer disconnected")
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
