package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"courier/internal/broker"
	"courier/internal/config"
	"courier/internal/logger"
	"courier/pkg/logging"
	"courier/pkg/metrics"
	"courier/pkg/models"
)

// Handler upgrades TLS-client-authenticated HTTP requests to websocket
// sessions and feeds received frames into the broker's ingress pipeline.
// Frames from one session are processed sequentially; sessions run in
// parallel.
type Handler struct {
	baseCtx  context.Context
	broker   *broker.Broker
	cfg      config.WebSocketConfig
	limit    config.SessionRateLimit
	upgrader websocket.Upgrader
	log      logger.Logger
}

func NewHandler(baseCtx context.Context, b *broker.Broker, cfg config.WebSocketConfig, limit config.SessionRateLimit, log logger.Logger) *Handler {
	return &Handler{
		baseCtx: baseCtx,
		broker:  b,
		cfg:     cfg,
		limit:   limit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  int(cfg.ReadLimitBytes),
			WriteBufferSize: int(cfg.ReadLimitBytes),
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cn, ok := peerCommonName(r)
	if !ok {
		h.log.Warnw("rejecting connection without client certificate",
			"remote_addr", r.RemoteAddr,
		)
		http.Error(w, "client certificate required", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("websocket upgrade failed",
			"remote_addr", r.RemoteAddr,
			"error", err,
		)
		return
	}

	sess := newWSSession(conn, cn, h.cfg.WriteWaitSeconds)
	h.broker.Registry().Add(sess)
	metrics.ConnectionsActive.Inc()

	ctx := logging.WithCommonName(h.baseCtx, cn)
	h.log.InfowCtx(ctx, "session connected",
		"remote_addr", r.RemoteAddr,
	)

	go h.readPump(ctx, sess)
}

func (h *Handler) readPump(ctx context.Context, sess *wsSession) {
	defer func() {
		h.broker.Registry().Remove(sess)
		metrics.ConnectionsActive.Dec()
		_ = sess.Close()
		h.log.InfowCtx(ctx, "session disconnected")
	}()

	sess.conn.SetReadLimit(h.cfg.ReadLimitBytes)
	_ = sess.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWaitSeconds))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWaitSeconds))
	})

	go h.pingLoop(sess)

	limiter := rate.NewLimiter(rate.Limit(h.limit.MessagesPerSecond), h.limit.Burst)

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.InfowCtx(ctx, "session read failed",
					"error", err,
				)
			}
			return
		}

		if !limiter.Allow() {
			metrics.RateLimitTotal.WithLabelValues("session", "limited").Inc()
			h.log.WarnwCtx(ctx, "session over ingress rate limit, frame dropped")
			continue
		}

		env, err := models.Decode(data)
		if err != nil {
			h.log.WarnwCtx(ctx, "dropping undecodable frame",
				"error", err,
			)
			continue
		}

		h.broker.Ingress(ctx, sess, env)
	}
}

func (h *Handler) pingLoop(sess *wsSession) {
	ticker := time.NewTicker(h.cfg.PingIntervalSeconds)
	defer ticker.Stop()

	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(h.cfg.WriteWaitSeconds)
			if err := sess.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func peerCommonName(r *http.Request) (string, bool) {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return "", false
	}
	cn := r.TLS.PeerCertificates[0].Subject.CommonName
	if cn == "" {
		return "", false
	}
	return cn, true
}

// wsSession adapts a websocket connection to the broker's Session interface.
// Send is serialized by the broker's per-session write lock; the ping loop
// uses WriteControl, which gorilla allows concurrently with writes.
type wsSession struct {
	conn      *websocket.Conn
	cn        string
	writeWait time.Duration
	done      chan struct{}
	closeOnce sync.Once
}

func newWSSession(conn *websocket.Conn, cn string, writeWait time.Duration) *wsSession {
	return &wsSession{
		conn:      conn,
		cn:        cn,
		writeWait: writeWait,
		done:      make(chan struct{}),
	}
}

func (s *wsSession) Send(data []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *wsSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		deadline := time.Now().Add(s.writeWait)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = s.conn.Close()
	})
	return err
}

func (s *wsSession) CommonName() string {
	return s.cn
}
