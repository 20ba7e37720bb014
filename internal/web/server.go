package web

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/KongGithubDev/LightLink/internal/automation"
	"github.com/KongGithubDev/LightLink/internal/chat"
	"github.com/KongGithubDev/LightLink/internal/core"

	"github.com/google/uuid"
)

// Heartbeat defaults.
const (
	DefaultSSEInterval  = 25 * time.Second
	DefaultPingInterval = 25 * time.Second
	DefaultPongTimeout  = 20 * time.Second
)

var errSlowSubscriber = errors.New("subscriber too slow")

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithToken requires the shared bearer token on API and socket routes.
func WithToken(token string) ServerOption {
	return func(s *Server) {
		s.token = token
	}
}

// WithAllowedOrigins sets allowed CORS and browser socket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithVersion sets the application version string reported by the API.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// WithChat sets the text generator used by the chat endpoint.
func WithChat(g chat.Generator) ServerOption {
	return func(s *Server) {
		s.chat = g
	}
}

// WithReplayGuard replaces the default replay guard of the command endpoint.
func WithReplayGuard(g *core.ReplayGuard) ServerOption {
	return func(s *Server) {
		if g != nil {
			s.guard = g
		}
	}
}

// WithMetrics serves h at /metrics.
func WithMetrics(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithHeartbeat overrides the SSE ping interval and the socket ping/pong
// timing. Zero values keep the defaults.
func WithHeartbeat(sse, ping, pong time.Duration) ServerOption {
	return func(s *Server) {
		if sse > 0 {
			s.sseInterval = sse
		}
		if ping > 0 {
			s.pingInterval = ping
		}
		if pong > 0 {
			s.pongTimeout = pong
		}
	}
}

// WithAutomation sets the automation engine; its manager backs the script
// API.
func WithAutomation(engine *automation.Engine) ServerOption {
	return func(s *Server) {
		s.autoEngine = engine
		if engine != nil {
			s.scriptMgr = engine.Manager()
		}
	}
}

// Server is the HTTP server: REST API, SSE stream, the browser socket and
// the controller socket.
type Server struct {
	dispatcher     *core.Dispatcher
	hub            *core.Hub
	guard          *core.ReplayGuard
	chat           chat.Generator
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	token          string
	allowedOrigins []string
	version        string
	metrics        http.Handler
	sseInterval    time.Duration
	pingInterval   time.Duration
	pongTimeout    time.Duration
	scriptMgr      *automation.Manager
	autoEngine     *automation.Engine

	wg          sync.WaitGroup
	unsubEvents func()
	done        chan struct{}
	stopOnce    sync.Once
}

// NewServer creates a new web server.
func NewServer(d *core.Dispatcher, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		dispatcher:   d,
		hub:          d.Hub(),
		guard:        core.NewReplayGuard(core.DefaultMaxSkew, core.DefaultNonceTTL),
		logger:       logger.With("component", "web"),
		mux:          http.NewServeMux(),
		sseInterval:  DefaultSSEInterval,
		pingInterval: DefaultPingInterval,
		pongTimeout:  DefaultPongTimeout,
		done:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	// Browsers get status and catalog changes.
	s.unsubEvents = s.hub.Events().Subscribe(core.SubscriberFunc(func(e core.Event) error {
		if e.Type != core.EventStatus && e.Type != core.EventCatalog {
			return nil
		}
		if !s.wsHub.Broadcast(socketFrame{Event: e.Type, Data: e.Payload}) {
			return errSlowSubscriber
		}
		return nil
	}))

	s.routes()
	return s
}

// Stop closes every stream and socket and waits for the hub goroutine.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.unsubEvents != nil {
			s.unsubEvents()
		}
		s.wsHub.Stop()
	})
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/version", s.handleVersion)

	// State and commands
	s.mux.HandleFunc("GET /api/status", s.handleGetStatus)
	s.mux.HandleFunc("POST /api/status", s.handlePostStatus)
	s.mux.HandleFunc("POST /api/cmd", s.handleCommand)
	s.mux.HandleFunc("GET /api/poll", s.handlePoll)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("POST /api/chat", s.handleChat)

	// Catalog
	s.mux.HandleFunc("GET /api/lights", s.handleListLights)
	s.mux.HandleFunc("POST /api/lights", s.handleCreateLight)
	s.mux.HandleFunc("PATCH /api/lights/{name}", s.handleUpdateLight)
	s.mux.HandleFunc("DELETE /api/lights/{name}", s.handleDeleteLight)
	s.mux.HandleFunc("GET /api/device/lights", s.handleDeviceLights)

	// Automations
	s.mux.HandleFunc("GET /api/automations", s.handleAPIListAutomations)
	s.mux.HandleFunc("GET /api/automations/{id}", s.handleAPIGetAutomation)
	s.mux.HandleFunc("POST /api/automations", s.handleAPICreateAutomation)
	s.mux.HandleFunc("PUT /api/automations/{id}", s.handleAPIUpdateAutomation)
	s.mux.HandleFunc("DELETE /api/automations/{id}", s.handleAPIDeleteAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/toggle", s.handleAPIToggleAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/run", s.handleAPIRunAutomation)

	// Sockets
	s.mux.HandleFunc("GET /api/socket", s.handleSocket)
	s.mux.HandleFunc("GET /ws", s.handleDeviceWS)

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

// ServeHTTP implements http.Handler, applying request IDs, CORS and auth.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", reqID)

	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				// Preflight request.
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	if !s.authorized(r) {
		s.logger.Debug("unauthorized request", "method", r.Method, "path", r.URL.Path, "request_id", reqID)
		s.writeError(w, core.Errorf(core.CodeUnauthorized, "%s %s", r.Method, r.URL.Path))
		return
	}
	s.mux.ServeHTTP(w, r)
}

// authorized reports whether r may proceed. With no token configured every
// request is allowed. Browser reads of status, catalog and streams are
// allowed from the same origin, and status is open in mock mode.
func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	path := r.URL.Path
	if path == "/api/health" || (!strings.HasPrefix(path, "/api/") && path != "/ws") {
		return true
	}
	if s.tokenMatches(bearerToken(r)) {
		return true
	}
	if r.Method != http.MethodGet {
		return false
	}
	switch path {
	case "/ws":
		return s.tokenMatches(r.URL.Query().Get("token"))
	case "/api/events", "/api/socket":
		return s.tokenMatches(r.URL.Query().Get("token")) || s.sameOrigin(r)
	case "/api/status":
		return s.hub.Mock() || s.sameOrigin(r)
	case "/api/lights":
		return s.sameOrigin(r)
	}
	return false
}

func (s *Server) tokenMatches(got string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) == 1
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// sameOrigin reports whether the request's Origin (or Referer) names this
// host or an allowed origin.
func (s *Server) sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = r.Header.Get("Referer")
	}
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return s.isOriginAllowed(u.Scheme + "://" + u.Host)
}

// isOriginAllowed checks if the origin matches any allowed origin pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
