package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"formpilot/internal/ratelimit"
	"formpilot/internal/usertoken"
	"formpilot/internal/util"
	"formpilot/services/api/internal/app"
	"formpilot/services/api/internal/security"
)

const (
	maxBodyBytes = 1 << 20
	rateWindow   = time.Minute
)

var errUnauthorized = errors.New("unauthorized")

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	PublicBaseURL  string
	AllowedOrigins []string
	TrustedProxies []string
	// TokenVerifier is optional. When set, every userId must match the bearer token subject.
	TokenVerifier *usertoken.Verifier

	Redis                      redis.UniversalClient
	GenerateRateLimitPerMinute int
	SubmitRateLimitPerMinute   int
}

// Server exposes the form builder HTTP API.
type Server struct {
	app             *app.App
	tokenVerifier   *usertoken.Verifier
	trusted         *util.TrustedProxies
	allowedOrigins  []string
	callbackOrigin  string
	generateLimiter *ratelimit.FixedWindowLimiter
	submitLimiter   *ratelimit.FixedWindowLimiter
	alerter         *security.Alerter
	router          chi.Router
}

func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	origin, err := originOf(cfg.PublicBaseURL)
	if err != nil {
		return nil, err
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		if limit <= 0 {
			return nil, nil
		}
		if cfg.Redis == nil {
			return nil, fmt.Errorf("%s rate limit requires redis", name)
		}
		return ratelimit.NewFixedWindowLimiter(cfg.Redis, "formpilot:api:ratelimit:"+name, limit, rateWindow)
	}
	generateLimiter, err := newLimiter("generate", cfg.GenerateRateLimitPerMinute)
	if err != nil {
		return nil, err
	}
	submitLimiter, err := newLimiter("submit", cfg.SubmitRateLimitPerMinute)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:             cfg.App,
		tokenVerifier:   cfg.TokenVerifier,
		trusted:         trusted,
		allowedOrigins:  cfg.AllowedOrigins,
		callbackOrigin:  origin,
		generateLimiter: generateLimiter,
		submitLimiter:   submitLimiter,
		alerter:         security.NewAlerter(cfg.Redis, "formpilot:api:alerts"),
		router:          chi.NewRouter(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler wrapped in the middleware chain.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("api", util.WithSecurityHeaders(util.WithCORS(s.allowedOrigins, s.router))))
}

func (s *Server) routes() {
	r := s.router
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		// internal hosting
		r.Post("/forms/create", s.handleCreateForm)
		r.Get("/forms", s.handleListForms)
		r.Get("/forms/{id}", s.handleGetForm)
		r.Delete("/forms/{id}", s.handleDeactivateForm)
		r.With(s.limit(s.submitLimiter, "too many submissions")).Post("/forms/{id}/submit", s.handleSubmit)
		r.Get("/forms/{id}/submissions", s.handleListSubmissions)
		r.Post("/forms/{id}/exports", s.handleRequestExport)
		r.Get("/exports/{jobId}", s.handleExportStatus)

		// publishing
		r.Post("/google-forms/create", s.handlePublishGoogle)
		r.Post("/typeform/create", s.handlePublishTypeform)
		r.Post("/tally/create", s.handlePublishTally)

		// provider connections
		r.Get("/auth/connections", s.handleConnections)
		r.Post("/auth/tally/connect", s.handleConnectTally)
		r.Post("/auth/{provider}/authorize", s.handleAuthorize)
		r.Get("/auth/{provider}/callback", s.handleCallback)
		r.Get("/auth/{provider}/status", s.handleStatus)
		r.Post("/auth/{provider}/disconnect", s.handleDisconnect)

		// generation
		r.Group(func(r chi.Router) {
			r.Use(s.limit(s.generateLimiter, "too many generation requests"))
			r.Post("/chat", s.handleChat)
			r.Post("/conversation", s.handleConverse)
			r.Post("/generate-form-stream", s.handleGenerateStream)
		})
		r.Get("/conversation", s.handleListConversations)
		r.Get("/conversation/{id}", s.handleGetConversation)
		r.Delete("/conversation/{id}", s.handleDeleteConversation)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// limit rejects requests over quota per caller IP and route. A nil limiter allows everything.
func (s *Server) limit(limiter *ratelimit.FixedWindowLimiter, msg string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
			if !limiter.Allow(r.Context(), key) {
				s.audit(r, "rate_limit", "rate_limited")
				w.Header().Set("Retry-After", strconv.Itoa(int(limiter.Window().Seconds())))
				writeError(w, http.StatusTooManyRequests, msg)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// resolveUser returns the acting user id. Without a token verifier the
// claimed id is trusted; with one, the bearer subject wins and a mismatching
// claim is rejected.
func (s *Server) resolveUser(r *http.Request, claimed string) (string, error) {
	claimed = strings.TrimSpace(claimed)
	if s.tokenVerifier == nil {
		return claimed, nil
	}
	subject, err := s.tokenVerifier.VerifyRequest(r)
	if err != nil {
		s.audit(r, "token_rejected", "denied", "err", err)
		return "", errUnauthorized
	}
	if claimed != "" && claimed != subject {
		s.audit(r, "user_mismatch", "denied", "claimed", claimed)
		return "", errUnauthorized
	}
	return subject, nil
}

func (s *Server) queryUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := s.resolveUser(r, r.URL.Query().Get("userId"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return "", false
	}
	return userID, true
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := util.ClientIP(r, s.trusted)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
	} else {
		logger.Warn("security_event", logAttrs...)
	}

	res, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security alert counter failed", "event", event, "err", err)
		return
	}
	if res.Triggered {
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", res.Count,
			"threshold", res.Threshold,
			"window", res.Window.String(),
		)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errUnauthorized), errors.Is(err, app.ErrNotConnected):
		return http.StatusUnauthorized
	case errors.Is(err, app.ErrInvalidInput),
		errors.Is(err, app.ErrProviderUnsupported),
		errors.Is(err, app.ErrInvalidAPIKey),
		errors.Is(err, app.ErrInvalidState),
		errors.Is(err, app.ErrAuthorizationDenied):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrFormNotFound),
		errors.Is(err, app.ErrConversationNotFound),
		errors.Is(err, app.ErrExportNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// writeAppError maps app errors to client or server errors and logs the latter.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeError(w, status, err.Error())
}

func originOf(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("public base url must be absolute, got %q", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}
