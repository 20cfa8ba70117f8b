package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tailscale-portfolio/directory-ui/internal/session"
	"github.com/tailscale-portfolio/directory-ui/internal/viewstate"
)

// Options wires the App's collaborators.
type Options struct {
	Sessions *session.Store
	// Authenticator runs the OIDC login. When nil, DevIdentityEmail signs
	// every visitor in directly.
	Authenticator    *session.Authenticator
	DevIdentityEmail string
	Views            *viewstate.Registry
	Logger           *zap.Logger
	HTTPTimeout      time.Duration
}

// App serves the user directory page.
type App struct {
	sessions    *session.Store
	auth        *session.Authenticator
	devEmail    string
	views       *viewstate.Registry
	logger      *zap.Logger
	httpTimeout time.Duration
}

// NewApp validates opts.
func NewApp(opts Options) (*App, error) {
	if opts.Sessions == nil || opts.Views == nil {
		return nil, errors.New("web: sessions and views are required")
	}
	if opts.Authenticator == nil && opts.DevIdentityEmail == "" {
		return nil, errors.New("web: an authenticator or a dev identity is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &App{
		sessions:    opts.Sessions,
		auth:        opts.Authenticator,
		devEmail:    opts.DevIdentityEmail,
		views:       opts.Views,
		logger:      logger,
		httpTimeout: timeout,
	}, nil
}

// Routes returns the HTTP handler for the app.
func (a *App) Routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodGet)
	r.HandleFunc("/login", a.handleLogin).Methods(http.MethodGet)
	if a.auth != nil {
		r.HandleFunc("/callback", a.handleCallback).Methods(http.MethodGet)
	}
	r.HandleFunc("/logout", a.handleLogout).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/retry", a.handleRetry).Methods(http.MethodPost)
	r.HandleFunc("/view-state", a.handleViewState).Methods(http.MethodGet)
	r.HandleFunc("/", a.handleHome).Methods(http.MethodGet)

	return requestLogger(a.logger)(recoveryHandler(a.logger)(r))
}

// mount returns the caller's controller, or nil for anonymous visitors. No
// controller is mounted without a session, so anonymous views never fetch.
func (a *App) mount(r *http.Request) *viewstate.Controller {
	sess, err := a.sessions.Load(r)
	if err != nil {
		return nil
	}
	return a.views.Mount(sess.ID, &viewstate.Identity{Subject: sess.Subject, Email: sess.Email})
}

func (a *App) handleHome(w http.ResponseWriter, r *http.Request) {
	st := viewstate.State{Status: viewstate.StatusUnauthenticated}
	if ctrl := a.mount(r); ctrl != nil {
		st = ctrl.State()
	}

	var buf bytes.Buffer
	if err := homeTemplate.Execute(&buf, newHomePage(st)); err != nil {
		a.logger.Error("render home", zap.Error(err), zap.String("request_id", requestID(r.Context())))
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = buf.WriteTo(w)
}

func (a *App) handleRetry(w http.ResponseWriter, r *http.Request) {
	ctrl := a.mount(r)
	if ctrl == nil {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	if err := ctrl.Retry(); err != nil {
		a.logger.Warn("retry rejected", zap.Error(err))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleViewState reports the caller's snapshot without mounting a view, so
// polling it never starts a fetch.
func (a *App) handleViewState(w http.ResponseWriter, r *http.Request) {
	sess, err := a.sessions.Load(r)
	if err != nil {
		writeJSON(w, http.StatusOK, viewstate.State{Status: viewstate.StatusUnauthenticated})
		return
	}
	ctrl, ok := a.views.Lookup(sess.ID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "view not mounted"})
		return
	}
	writeJSON(w, http.StatusOK, ctrl.State())
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	if a.auth == nil {
		sess := a.sessions.New("dev|"+a.devEmail, a.devEmail)
		if err := a.sessions.Save(w, sess); err != nil {
			a.logger.Error("save dev session", zap.Error(err))
			http.Error(w, "failed to set session", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	state, err := a.sessions.BeginLogin(w)
	if err != nil {
		a.logger.Error("begin login", zap.Error(err))
		http.Error(w, "failed to set state", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, a.auth.AuthCodeURL(state), http.StatusFound)
}

func (a *App) handleCallback(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.VerifyState(r, r.URL.Query().Get("state")); err != nil {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.httpTimeout)
	defer cancel()

	claims, err := a.auth.Exchange(ctx, r.URL.Query().Get("code"))
	if err != nil {
		a.logger.Warn("login callback failed", zap.Error(err))
		http.Error(w, "login failed", http.StatusBadGateway)
		return
	}

	sess := a.sessions.New(claims.Subject, claims.Email)
	if err := a.sessions.Save(w, sess); err != nil {
		a.logger.Error("save session", zap.Error(err))
		http.Error(w, "failed to set session", http.StatusInternalServerError)
		return
	}
	a.logger.Info("signed in", zap.String("subject", claims.Subject))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sess, err := a.sessions.Load(r); err == nil {
		a.views.Unmount(sess.ID)
	}
	a.sessions.Clear(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
