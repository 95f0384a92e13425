package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/memorybank/contextgraph/internal/authgate"
	"github.com/memorybank/contextgraph/internal/obs"
	"github.com/memorybank/contextgraph/internal/ratelimit"
)

// Header names used by the session endpoint.
const (
	SessionIDHeader   = "X-MemoryServer-Session-Id"
	LastEventIDHeader = "Last-Event-Id"

	RateLimitLimitHeader     = "X-RateLimit-Limit"
	RateLimitRemainingHeader = "X-RateLimit-Remaining"
	RateLimitResetHeader     = "X-RateLimit-Reset"
)

// MessageHandler processes one submitted JSON-RPC message for sess. Any
// server-initiated replies are pushed out-of-band via [Transport.Publish],
// not returned here.
type MessageHandler func(ctx context.Context, sess *Session, payload []byte) error

// Config configures a [Transport].
type Config struct {
	AllowedOrigins         []string
	AllowedHosts           map[string]struct{}
	IdleTTL                time.Duration
	RateLimitMax           int
	RateLimitWindowSeconds int
}

// Transport implements the single session HTTP endpoint: POST submits a
// message, GET opens an SSE stream, DELETE closes the session.
type Transport struct {
	sessions        *SessionStore
	events          EventStore
	auth            *authgate.Gate
	limiter         *ratelimit.Limiter
	handler         MessageHandler
	allowedHosts    map[string]struct{}
	rateLimitMax    atomic.Int64
	rateLimitWindow atomic.Int64
	logger          *slog.Logger
	metrics         *obs.Metrics

	subs *subscriberRegistry
}

// New constructs a Transport. handler may be nil if messages are only
// pushed server-side (e.g. in tests).
func New(cfg Config, auth *authgate.Gate, limiter *ratelimit.Limiter, events EventStore, handler MessageHandler) *Transport {
	metrics := obs.DefaultMetrics()
	sessions := NewSessionStore(cfg.IdleTTL)
	sessions.onExpire = func(n int) {
		metrics.SessionsExpired.Add(context.Background(), int64(n))
		metrics.ActiveSessions.Add(context.Background(), -int64(n))
	}

	t := &Transport{
		sessions:     sessions,
		events:       events,
		auth:         auth,
		limiter:      limiter,
		handler:      handler,
		allowedHosts: cfg.AllowedHosts,
		logger:       slog.Default(),
		metrics:      metrics,
		subs:         newSubscriberRegistry(),
	}
	t.SetRateLimit(cfg.RateLimitMax, cfg.RateLimitWindowSeconds)
	return t
}

// SetRateLimit updates the rate limit applied to future requests. It is
// safe to call concurrently with request handling, so a [config.Watcher]
// can push a reloaded limit in without restarting the server.
func (t *Transport) SetRateLimit(max, windowSeconds int) {
	t.rateLimitMax.Store(int64(max))
	t.rateLimitWindow.Store(int64(windowSeconds))
}

// SetHandler installs the message handler after construction. Useful when
// the handler itself needs a reference to t (to publish responses via
// [Transport.PublishJSON]), which would otherwise make New's signature
// impossible to satisfy.
func (t *Transport) SetHandler(handler MessageHandler) {
	t.handler = handler
}

// Router builds the chi router for the session endpoint, with CORS and
// Origin/Host allowlisting applied ahead of every handler.
func (t *Transport) Router(allowedOrigins []string) chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"POST", "GET", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{authgate.CredentialHeader, SessionIDHeader, LastEventIDHeader, "Content-Type"},
		AllowCredentials: true,
	}))
	r.Use(t.hostAllowlist)
	r.Use(obs.Middleware(t.metrics))

	r.Post("/session", t.handlePost)
	r.Get("/session", t.handleGet)
	r.Delete("/session", t.handleDelete)
	return r
}

// hostAllowlist rejects any request whose Host header is not in the
// configured allowlist, before any handler runs.
func (t *Transport) hostAllowlist(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(t.allowedHosts) > 0 {
			if _, ok := t.allowedHosts[r.Host]; !ok {
				http.Error(w, "host not allowed", http.StatusForbidden)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate extracts and verifies the presented credential, and, if a
// limiter is configured, enforces its rate limit, writing the standard
// rate-limit response headers.
func (t *Transport) authenticate(w http.ResponseWriter, r *http.Request) (authgate.AuthContext, bool) {
	credential := r.Header.Get(authgate.CredentialHeader)
	authCtx, err := t.auth.Authenticate(r.Context(), credential)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return authgate.AuthContext{}, false
	}

	if max := int(t.rateLimitMax.Load()); t.limiter != nil && max > 0 {
		if authCtx.RateLimit > 0 {
			max = authCtx.RateLimit
		}
		window := int(t.rateLimitWindow.Load())
		result := t.limiter.Check(r.Context(), authCtx.UserID, max, window)
		w.Header().Set(RateLimitLimitHeader, strconv.Itoa(max))
		w.Header().Set(RateLimitRemainingHeader, strconv.Itoa(result.Remaining))
		w.Header().Set(RateLimitResetHeader, strconv.Itoa(int(result.ResetIn.Seconds())))
		if !result.Allowed {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return authgate.AuthContext{}, false
		}
	}

	return authCtx, true
}

// sessionOwnedBy looks up sessionID and confirms it belongs to authCtx's
// tenant. A session belonging to a different tenant is reported as not
// found, never as forbidden — its existence is not disclosed.
func (t *Transport) sessionOwnedBy(ctx context.Context, sessionID string, authCtx authgate.AuthContext) (*Session, error) {
	sess, err := t.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != authCtx.UserID || sess.ProjectID != authCtx.ProjectID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// handlePost implements session creation (no session id header) and
// message submission (session id header present).
func (t *Transport) handlePost(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := t.authenticate(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	sessionID := r.Header.Get(SessionIDHeader)
	var sess *Session
	if sessionID == "" {
		sess = t.sessions.Create(authCtx.UserID, authCtx.ProjectID)
		t.metrics.SessionsCreated.Add(r.Context(), 1)
		t.metrics.ActiveSessions.Add(r.Context(), 1)
	} else {
		sess, err = t.sessionOwnedBy(r.Context(), sessionID, authCtx)
		if errors.Is(err, ErrSessionNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
	}

	w.Header().Set(SessionIDHeader, sess.ID)

	if t.handler != nil && len(body) > 0 {
		if err := t.handler(r.Context(), sess, body); err != nil {
			t.logger.Error("transport: message handler failed", "session_id", sess.ID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
}

// handleGet opens a server-sent-event stream for sess, replaying any
// events after Last-Event-Id before forwarding live events.
func (t *Transport) handleGet(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := t.authenticate(w, r)
	if !ok {
		return
	}

	sessionID := r.Header.Get(SessionIDHeader)
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusNotFound)
		return
	}
	sess, err := t.sessionOwnedBy(r.Context(), sessionID, authCtx)
	if errors.Is(err, ErrSessionNotFound) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := t.subs.subscribe(sess.StreamID)
	defer t.subs.unsubscribe(sess.StreamID, ch)

	var afterID int64
	if raw := r.Header.Get(LastEventIDHeader); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			afterID = parsed
		}
	}

	replayErr := t.events.ReplayAfter(r.Context(), sess.StreamID, afterID, func(eventID int64, payload []byte) error {
		return writeSSEEvent(w, flusher, eventID, payload)
	})
	if replayErr != nil {
		t.logger.Warn("transport: replay failed", "session_id", sess.ID, "error", replayErr)
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			if err := writeSSEEvent(w, flusher, ev.id, ev.payload); err != nil {
				return
			}
		}
	}
}

// handleDelete closes and removes a session.
func (t *Transport) handleDelete(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := t.authenticate(w, r)
	if !ok {
		return
	}

	sessionID := r.Header.Get(SessionIDHeader)
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusNotFound)
		return
	}
	sess, err := t.sessionOwnedBy(r.Context(), sessionID, authCtx)
	if errors.Is(err, ErrSessionNotFound) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if err := t.sessions.Delete(r.Context(), sessionID); errors.Is(err, ErrSessionNotFound) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	t.subs.closeStream(sess.StreamID)
	t.metrics.ActiveSessions.Add(r.Context(), -1)
	w.WriteHeader(http.StatusOK)
}

// Publish persists payload on sess's stream and fans it out to any open SSE
// subscriber, in submission order.
func (t *Transport) Publish(ctx context.Context, sess *Session, payload []byte) (int64, error) {
	id, err := t.events.Append(ctx, sess.StreamID, payload)
	if err != nil {
		return 0, fmt.Errorf("transport: publish: %w", err)
	}
	t.subs.publish(sess.StreamID, storedEvent{id: id, streamID: sess.StreamID, payload: payload})
	return id, nil
}

// PublishJSON marshals v and publishes it via [Transport.Publish].
func (t *Transport) PublishJSON(ctx context.Context, sess *Session, v any) (int64, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("transport: marshal payload: %w", err)
	}
	return t.Publish(ctx, sess, payload)
}

// writeSSEEvent writes one event in text/event-stream wire format and
// flushes it immediately.
func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventID int64, payload []byte) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "id: %d\ndata: %s\n\n", eventID, payload); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
