// Package auth is the HTTP function serving the OAuth login flow and the
// small authenticated API the web client talks to.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	shared "github.com/tracktiles/server/pkg"
	"github.com/tracktiles/server/pkg/bootstrap"
	jwtauth "github.com/tracktiles/server/pkg/infrastructure/auth"
	ps "github.com/tracktiles/server/pkg/infrastructure/pubsub"
	"github.com/tracktiles/server/pkg/integrations/intervals"
)

const (
	stateTTL     = 10 * time.Minute
	sessionTTL   = 30 * 24 * time.Hour
	bearerScheme = "Bearer "
)

var (
	handlerOnce sync.Once
	handler     http.Handler
	handlerErr  error
)

func init() {
	functions.HTTP("Auth", Auth)
}

// Auth is the entry point.
func Auth(w http.ResponseWriter, r *http.Request) {
	handlerOnce.Do(func() {
		svc, err := bootstrap.NewService(r.Context())
		if err != nil {
			handlerErr = err
			return
		}
		handler = newRouter(newServer(svc))
	})
	if handlerErr != nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	handler.ServeHTTP(w, r)
}

type server struct {
	svc         *bootstrap.Service
	oauthConfig *oauth2.Config
	jwt         *jwtauth.Manager
	frontendURL string
	logger      *slog.Logger
}

func newServer(svc *bootstrap.Service) *server {
	return &server{
		svc: svc,
		oauthConfig: &oauth2.Config{
			ClientID:     os.Getenv("INTERVALS_CLIENT_ID"),
			ClientSecret: os.Getenv("INTERVALS_CLIENT_SECRET"),
			RedirectURL:  os.Getenv("OAUTH_REDIRECT_URL"),
			Endpoint:     intervals.OAuthEndpoint,
			Scopes:       []string{intervals.OAuthScope},
		},
		jwt:         jwtauth.NewManager([]byte(os.Getenv("JWT_SECRET")), sessionTTL),
		frontendURL: strings.TrimSuffix(os.Getenv("FRONTEND_URL"), "/"),
		logger:      bootstrap.NewLogger("auth"),
	}
}

func newRouter(s *server) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.cors)

	r.Get("/auth/login", s.handleLogin)
	r.Get("/auth/callback", s.handleCallback)
	r.Get("/auth/verify", s.handleVerify)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/auth/user", s.handleUser)
		r.Post("/auth/sync", s.handleSyncRequest)
	})

	return r
}

func (s *server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.frontendURL != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.frontendURL)
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleLogin creates a single-use CSRF state and sends the browser to
// the provider's consent page.
func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	now := time.Now().UTC()

	err := s.svc.DB.CreateOAuthState(r.Context(), &shared.OAuthState{
		State:        state,
		RedirectPath: r.URL.Query().Get("redirect"),
		CreatedAt:    now,
		ExpiresAt:    now.Add(stateTTL),
	})
	if err != nil {
		s.logger.Error("Failed to create oauth state", "error", err)
		http.Error(w, "login unavailable", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, s.oauthConfig.AuthCodeURL(state), http.StatusFound)
}

// handleCallback completes the OAuth flow: the state must match a stored
// nonce (consumed exactly once), the code is exchanged for tokens, and
// the athlete profile becomes the user record.
func (s *server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stateParam := r.URL.Query().Get("state")
	if stateParam == "" {
		http.Error(w, "missing state", http.StatusBadRequest)
		return
	}
	state, err := s.svc.DB.ConsumeOAuthState(ctx, stateParam)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			http.Error(w, "invalid or expired state", http.StatusForbidden)
			return
		}
		s.logger.Error("Failed to consume oauth state", "error", err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}
	token, err := s.oauthConfig.Exchange(ctx, code)
	if err != nil {
		s.logger.Error("Token exchange failed", "error", err)
		http.Error(w, "login failed", http.StatusBadGateway)
		return
	}

	profile, err := intervals.NewTokenClient(token.AccessToken, "").GetAthleteProfile(ctx)
	if err != nil {
		s.logger.Error("Failed to fetch athlete profile", "error", err)
		http.Error(w, "login failed", http.StatusBadGateway)
		return
	}

	user, err := s.upsertUser(ctx, profile, token)
	if err != nil {
		s.logger.Error("Failed to store user", "error", err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	session, err := s.jwt.Issue(user.ID)
	if err != nil {
		s.logger.Error("Failed to issue session token", "error", err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	redirect := s.frontendURL + "/login/complete"
	if state.RedirectPath != "" && strings.HasPrefix(state.RedirectPath, "/") {
		redirect = s.frontendURL + state.RedirectPath
	}
	http.Redirect(w, r, redirect+"#token="+session, http.StatusFound)
}

func (s *server) upsertUser(ctx context.Context, profile *intervals.AthleteProfile, token *oauth2.Token) (*shared.UserRecord, error) {
	now := time.Now().UTC()
	userID := "intervals-" + profile.ID

	user, err := s.svc.DB.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}
	if user == nil {
		user = &shared.UserRecord{ID: userID, CreatedAt: now}
	}

	user.AthleteID = profile.ID
	user.Name = profile.Name
	user.Email = profile.Email
	user.Avatar = profile.Avatar
	user.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		user.RefreshToken = token.RefreshToken
	}
	user.TokenExpiry = token.Expiry
	user.UpdatedAt = now

	if err := s.svc.DB.SetUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// handleVerify reports whether a session token is still valid, for
// cheap client-side session checks.
func (s *server) handleVerify(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"valid": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"valid": true, "user_id": userID})
}

type contextKey string

const userIDKey contextKey = "userID"

func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.userFromRequest(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func (s *server) userFromRequest(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerScheme) {
		return "", fmt.Errorf("missing bearer token")
	}
	return s.jwt.Verify(strings.TrimPrefix(header, bearerScheme))
}

func (s *server) handleUser(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(string)

	user, err := s.svc.DB.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		s.logger.Error("Failed to load user", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// handleSyncRequest queues a sync run for the authenticated user and
// returns the sync ID the client polls status under.
func (s *server) handleSyncRequest(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(string)
	syncID := uuid.NewString()

	data, err := json.Marshal(ps.SyncRequestedEvent{
		UserID:    userID,
		SyncID:    syncID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if _, err := s.svc.Pub.Publish(r.Context(), shared.TopicSyncRequested, data); err != nil {
		s.logger.Error("Failed to publish sync request", "error", err)
		http.Error(w, "sync unavailable", http.StatusServiceUnavailable)
		return
	}

	s.logger.Info("Queued sync", "user_id", userID, "sync_id", syncID)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"sync_id": syncID})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
