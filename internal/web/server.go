// Package web exposes a read-only HTTP inspector over the engine and
// its run store, plus a websocket feed of live events.
package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/skeinhq/skein/internal/bus"
	"github.com/skeinhq/skein/internal/config"
	"github.com/skeinhq/skein/internal/engine"
	"github.com/skeinhq/skein/internal/store"
)

const (
	sessionCookieName = "session"
	sessionMaxAge     = 30 * 24 * time.Hour
)

// sessions tracks login tokens and their expiry.
type sessions struct {
	mu     sync.Mutex
	tokens map[string]time.Time
}

func newSessions() *sessions {
	return &sessions{tokens: make(map[string]time.Time)}
}

// validate reports whether token is live and slides its expiry forward.
func (s *sessions) validate(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.tokens[token]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(s.tokens, token)
		return false
	}
	s.tokens[token] = time.Now().Add(sessionMaxAge)
	return true
}

func (s *sessions) create() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)

	s.mu.Lock()
	s.tokens[token] = time.Now().Add(sessionMaxAge)
	s.mu.Unlock()
	return token, nil
}

func (s *sessions) drop(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

type Server struct {
	store     *store.Store
	engine    *engine.Engine
	hub       *Hub
	cfg       config.WebConfig
	version   string
	startedAt time.Time
	sessions  *sessions
	unsub     func()
}

func NewServer(st *store.Store, eng *engine.Engine, cfg config.WebConfig, version string) *Server {
	return &Server{
		store:     st,
		engine:    eng,
		hub:       NewHub(),
		cfg:       cfg,
		version:   version,
		startedAt: time.Now(),
		sessions:  newSessions(),
	}
}

// Handler builds the full route table wrapped in auth/CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/check", s.handleAuthCheck)

	s.registerAPI(mux)

	mux.HandleFunc("/api/ws", s.handleWebSocket)

	return s.withMiddleware(mux)
}

// Start serves the inspector until ctx is cancelled, feeding live engine
// events to websocket clients.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	s.unsub = s.engine.Events().SubscribeAll(func(ev bus.Event) {
		s.hub.Broadcast(Event{Type: ev.Name, Payload: ev})
	})
	defer s.unsub()

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{Addr: addr, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	slog.Info("web inspector listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		if s.cfg.Auth != "" && strings.HasPrefix(r.URL.Path, "/api/") {
			switch r.URL.Path {
			case "/api/login", "/api/auth/check":
			default:
				if !s.authorized(r) {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
			}
		}

		next.ServeHTTP(w, r)
	})
}

// authorized accepts a live session cookie or Basic Auth with the shared
// password, for programmatic access.
func (s *Server) authorized(r *http.Request) bool {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && s.sessions.validate(cookie.Value) {
		return true
	}
	if _, pass, ok := r.BasicAuth(); ok && pass == s.cfg.Auth {
		return true
	}
	return false
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Auth == "" {
		jsonResponse(w, map[string]string{"status": "ok"})
		return
	}

	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Password != s.cfg.Auth {
		jsonError(w, "invalid password", http.StatusUnauthorized)
		return
	}

	token, err := s.sessions.create()
	if err != nil {
		jsonError(w, "session creation failed", http.StatusInternalServerError)
		return
	}

	s.setSessionCookie(w, token, int(sessionMaxAge.Seconds()))
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		s.sessions.drop(cookie.Value)
	}
	s.setSessionCookie(w, "", -1)
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	// No auth configured, tell clients to skip login.
	if s.cfg.Auth == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if cookie, err := r.Cookie(sessionCookieName); err == nil && s.sessions.validate(cookie.Value) {
		s.setSessionCookie(w, cookie.Value, int(sessionMaxAge.Seconds()))
		jsonResponse(w, map[string]string{"status": "ok"})
		return
	}

	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
