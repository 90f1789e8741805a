package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/spec-kit/complaint-service/internal/domain"
	"github.com/spec-kit/complaint-service/internal/observability"
	"github.com/spec-kit/complaint-service/internal/ratelimit"
	apperrors "github.com/spec-kit/complaint-service/pkg/util/errorutil"
)

// Client to server event names.
const (
	ClientJoinTicket  = "join_ticket"
	ClientLeaveTicket = "leave_ticket"
	ClientComment     = "comment"
	ClientPing        = "ping"
)

// Authenticator resolves a bearer token to an identity.
type Authenticator interface {
	AuthenticateIdentity(ctx context.Context, token string) (Identity, error)
}

// CommentPoster appends a comment on behalf of a connected identity.
type CommentPoster interface {
	PostComment(ctx context.Context, actor domain.Actor, ticketID, message string, internal bool) error
}

// GatewayConfig configures the websocket endpoint.
type GatewayConfig struct {
	Addr           string
	AllowedOrigins []string
	// TrustedProxies are peer addresses or CIDRs whose X-Forwarded-For is
	// honoured. Other peers are keyed on their socket address.
	TrustedProxies []string
}

// Gateway upgrades HTTP connections and pumps frames between clients and the registry.
type Gateway struct {
	registry *Registry
	limiter  ratelimit.Limiter
	auth     Authenticator
	comments CommentPoster
	logger   *zap.Logger
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
	server   *http.Server
	trusted  []netip.Prefix
}

// NewGateway builds the gateway and its HTTP server.
func NewGateway(cfg GatewayConfig, registry *Registry, limiter ratelimit.Limiter, auth Authenticator,
	comments CommentPoster, logger *zap.Logger, metrics *observability.Metrics) *Gateway {
	g := &Gateway{
		registry: registry,
		limiter:  limiter,
		auth:     auth,
		comments: comments,
		logger:   logger,
		metrics:  metrics,
		trusted:  parseTrustedProxies(cfg.TrustedProxies, logger),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.ServeWS)
	g.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Handler exposes the HTTP handler for tests and embedding.
func (g *Gateway) Handler() http.Handler {
	return g.server.Handler
}

// Start serves until Shutdown.
func (g *Gateway) Start() error {
	g.logger.Info("websocket gateway listening", zap.String("addr", g.server.Addr))
	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains the registry.
func (g *Gateway) Shutdown(ctx context.Context) error {
	err := g.server.Shutdown(ctx)
	g.registry.Drain("server shutting down")
	return err
}

// ServeWS handles GET /ws?token=<jwt>.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	origin := g.remoteOrigin(r)
	if g.limiter != nil {
		allowed, err := g.limiter.Allow(r.Context(), origin)
		if err != nil {
			g.logger.Warn("rate limiter unavailable", zap.Error(err))
		} else if !allowed {
			g.metrics.RecordRejection()
			writeHTTPError(w, apperrors.NewRateLimited("too many connection attempts"))
			return
		}
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		writeHTTPError(w, apperrors.NewUnauthorized("token required"))
		return
	}
	identity, err := g.auth.AuthenticateIdentity(r.Context(), token)
	if err != nil {
		writeHTTPError(w, err)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.String("origin", origin), zap.Error(err))
		return
	}
	ch := newWSChannel(conn, origin)
	go ch.writePump()

	// the request context ends when ServeWS returns
	ctx := context.WithoutCancel(r.Context())
	if err := g.registry.Register(ctx, identity, ch); err != nil {
		_ = ch.Send(EventError, errorPayload(err))
		_ = ch.Close("registration failed")
		return
	}
	go g.readPump(ctx, ch, identity)
}

func (g *Gateway) readPump(ctx context.Context, ch *wsChannel, identity Identity) {
	defer func() {
		g.registry.Unregister(ctx, ch)
		_ = ch.Close("disconnected")
	}()

	ch.conn.SetReadLimit(maxMessageSize)
	_ = ch.conn.SetReadDeadline(time.Now().Add(pongWait))
	ch.conn.SetPongHandler(func(string) error {
		return ch.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env Envelope
		if err := ch.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				g.logger.Debug("websocket read failed", zap.String("identity", identity.ID), zap.Error(err))
			}
			return
		}
		g.handleMessage(ctx, ch, identity, env)
	}
}

type ticketRef struct {
	TicketID string `json:"ticket_id"`
}

type commentMessage struct {
	TicketID string `json:"ticket_id"`
	Message  string `json:"message"`
	Internal bool   `json:"internal"`
}

func (g *Gateway) handleMessage(ctx context.Context, ch Channel, identity Identity, env Envelope) {
	switch env.Event {
	case ClientPing:
		_ = ch.Send(EventPong, map[string]any{"at": time.Now().UTC()})
	case ClientJoinTicket:
		var ref ticketRef
		if err := decode(env.Payload, &ref); err != nil {
			_ = ch.Send(EventError, errorPayload(err))
			return
		}
		if err := g.registry.JoinTicket(ctx, ch, ref.TicketID); err != nil {
			_ = ch.Send(EventError, errorPayload(err))
			return
		}
		_ = ch.Send(EventJoined, ref)
	case ClientLeaveTicket:
		var ref ticketRef
		if err := decode(env.Payload, &ref); err != nil {
			_ = ch.Send(EventError, errorPayload(err))
			return
		}
		g.registry.LeaveTicket(ch, ref.TicketID)
		_ = ch.Send(EventLeft, ref)
	case ClientComment:
		var msg commentMessage
		if err := decode(env.Payload, &msg); err != nil {
			_ = ch.Send(EventError, errorPayload(err))
			return
		}
		if g.comments == nil {
			_ = ch.Send(EventError, errorPayload(apperrors.NewCollaboratorUnavailable("comments", nil)))
			return
		}
		if err := g.comments.PostComment(ctx, identity.Actor(), msg.TicketID, msg.Message, msg.Internal); err != nil {
			_ = ch.Send(EventError, errorPayload(err))
		}
	default:
		_ = ch.Send(EventError, errorPayload(apperrors.NewValidationError("unknown event", map[string]any{"event": env.Event})))
	}
}

func decode(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return apperrors.NewValidationError("payload required", nil)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return apperrors.NewValidationError("invalid payload", map[string]any{"reason": err.Error()})
	}
	return nil
}

// ErrorPayload is the structured error frame.
type ErrorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func errorPayload(err error) ErrorPayload {
	de := apperrors.ToDomainError(err)
	return ErrorPayload{Code: de.Code, Message: de.Message, Details: de.Details}
}

func writeHTTPError(w http.ResponseWriter, err error) {
	de := apperrors.ToDomainError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(de.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": errorPayload(de)})
}

func parseTrustedProxies(entries []string, logger *zap.Logger) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(entries))
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				logger.Warn("ignoring trusted proxy", zap.String("entry", entry), zap.Error(err))
				continue
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			logger.Warn("ignoring trusted proxy", zap.String("entry", entry), zap.Error(err))
			continue
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out
}

func (g *Gateway) isTrusted(host string) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range g.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// remoteOrigin keys rate limiting on the socket peer. Behind a trusted proxy
// it walks X-Forwarded-For from the right and returns the first hop that is
// not itself a trusted proxy.
func (g *Gateway) remoteOrigin(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !g.isTrusted(host) {
		return host
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !g.isTrusted(hop) {
			return hop
		}
	}
	return host
}
