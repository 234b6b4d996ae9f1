// Package pages serves the web client pages on top of the session store: the
// entry page with the login/register form and the pages behind the guard.
package pages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/2beens/gymweb/internal/guard"
	"github.com/2beens/gymweb/internal/middleware"
	"github.com/2beens/gymweb/internal/session"
	"github.com/2beens/gymweb/internal/telemetry/metrics"
	"github.com/2beens/gymweb/internal/telemetry/tracing"
	"github.com/2beens/gymweb/pkg"

	"github.com/a-h/templ"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const (
	EntryRoute = "/"

	modeRegister = "register"
	modeLogin    = "login"

	maxFormBytes = 64 << 10
)

// SessionStore is the part of *session.Store the pages drive.
type SessionStore interface {
	State() session.State
	Login(ctx context.Context, email, password string) session.State
	Register(ctx context.Context, email, password, name string) session.State
	Logout()
	ResetError()
}

type section struct {
	path  string
	title string
}

// protected pages besides home
var sections = []section{
	{path: "stats", title: "Stats"},
	{path: "savedroutines", title: "Saved Routines"},
	{path: "previousworkouts", title: "Previous Workouts"},
	{path: "profile", title: "Profile"},
}

type Handler struct {
	store          SessionStore
	metricsManager *metrics.Manager
}

func NewHandler(store SessionStore, metricsManager *metrics.Manager) *Handler {
	return &Handler{
		store:          store,
		metricsManager: metricsManager,
	}
}

func (handler *Handler) SetupRoutes(
	mainRouter *mux.Router,
	rateLimiter middleware.RequestRateLimiter,
	authRateLimitPerMin int,
) {
	rateLimit := middleware.RateLimit(rateLimiter, "auth", authRateLimitPerMin, handler.metricsManager)
	protect := guard.Protect(handler.store, EntryRoute, LoadingPage())

	mainRouter.HandleFunc(EntryRoute, handler.handleEntry).Methods("GET").Name("entry")
	mainRouter.Handle("/login", rateLimit(http.HandlerFunc(handler.handleLogin))).Methods("POST").Name("login")
	mainRouter.Handle("/register", rateLimit(http.HandlerFunc(handler.handleRegister))).Methods("POST").Name("register")
	mainRouter.HandleFunc("/mode", handler.handleMode).Methods("POST").Name("mode")
	mainRouter.HandleFunc("/logout", handler.handleLogout).Methods("POST").Name("logout")
	mainRouter.HandleFunc("/api/session", handler.handleSession).Methods("GET").Name("session")

	mainRouter.Handle("/home/{username}", protect(http.HandlerFunc(handler.handleHome))).Methods("GET").Name("home")
	for _, s := range sections {
		mainRouter.
			Handle("/"+s.path+"/{username}", protect(handler.sectionHandler(s))).
			Methods("GET").Name(s.path)
	}
}

func (handler *Handler) handleEntry(w http.ResponseWriter, r *http.Request) {
	st := handler.store.State()
	if st.IsLoading {
		w.Header().Set("Retry-After", "1")
		render(w, r, LoadingPage(), http.StatusOK)
		return
	}

	if st.IsAuthenticated && st.User != nil {
		http.Redirect(w, r, homeRoute(st.User), http.StatusSeeOther)
		return
	}

	render(w, r, EntryPage(EntryView{
		Registering: r.URL.Query().Get("mode") == modeRegister,
		Error:       st.Error,
		Email:       r.URL.Query().Get("email"),
	}), http.StatusOK)
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func readCredentials(r *http.Request) (credentials, bool, error) {
	var creds credentials
	if strings.HasPrefix(r.Header.Get("Content-Type"), pkg.ContentType.JSON) {
		if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxFormBytes)).Decode(&creds); err != nil {
			return creds, true, fmt.Errorf("unmarshal json params: %w", err)
		}
		return creds, true, nil
	}

	r.Body = http.MaxBytesReader(nil, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		return creds, false, fmt.Errorf("parse form: %w", err)
	}
	return credentials{
		Email:    strings.TrimSpace(r.PostForm.Get("email")),
		Password: r.PostForm.Get("password"),
		Name:     strings.TrimSpace(r.PostForm.Get("name")),
	}, false, nil
}

var (
	errEmailEmpty    = errors.New("error, email empty")
	errPasswordEmpty = errors.New("error, password empty")
)

func (c credentials) validate() error {
	if c.Email == "" {
		return errEmailEmpty
	}
	if c.Password == "" {
		return errPasswordEmpty
	}
	return nil
}

func (handler *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "pagesHandler.login")
	defer span.End()

	creds, isJSON, err := readCredentials(r)
	if err != nil {
		log.Errorf("login: %s", err)
		http.Error(w, "bad login request", http.StatusBadRequest)
		return
	}
	if err := creds.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	st := handler.store.Login(ctx, creds.Email, creds.Password)
	result := handler.countAttempt("login", st, ctx.Err())
	span.SetAttributes(attribute.String("login.result", result))

	if isJSON {
		status := http.StatusOK
		if st.Error != "" {
			status = http.StatusUnauthorized
		}
		writeState(w, st, status)
		return
	}

	target := EntryRoute
	if st.Error != "" {
		target = EntryRoute + "?email=" + url.QueryEscape(creds.Email)
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (handler *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "pagesHandler.register")
	defer span.End()

	creds, isJSON, err := readCredentials(r)
	if err != nil {
		log.Errorf("register: %s", err)
		http.Error(w, "bad register request", http.StatusBadRequest)
		return
	}
	if err := creds.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	st := handler.store.Register(ctx, creds.Email, creds.Password, creds.Name)
	result := handler.countAttempt("register", st, ctx.Err())
	span.SetAttributes(attribute.String("register.result", result))

	if isJSON {
		status := http.StatusOK
		if st.Error != "" {
			status = http.StatusBadRequest
		}
		writeState(w, st, status)
		return
	}

	if st.Error != "" {
		http.Redirect(w, r, EntryRoute+"?mode="+modeRegister, http.StatusSeeOther)
		return
	}
	// a registered user still has to log in
	http.Redirect(w, r, EntryRoute+"?email="+url.QueryEscape(creds.Email), http.StatusSeeOther)
}

func (handler *Handler) countAttempt(operation string, st session.State, ctxErr error) string {
	result := "ok"
	switch {
	case st.Error != "":
		result = "failed"
	case ctxErr != nil:
		result = "aborted"
	}
	if handler.metricsManager != nil {
		handler.metricsManager.CounterAuthAttempts.WithLabelValues(operation, result).Inc()
	}
	return result
}

// handleMode switches between the login and register forms, dismissing any
// error shown with the previous one.
func (handler *Handler) handleMode(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "parse form error", http.StatusBadRequest)
		return
	}

	handler.store.ResetError()

	target := EntryRoute
	if r.PostForm.Get("mode") == modeRegister {
		target = EntryRoute + "?mode=" + modeRegister
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (handler *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "pagesHandler.logout")
	defer span.End()

	handler.store.Logout()
	if handler.metricsManager != nil {
		handler.metricsManager.CounterLogouts.Inc()
	}
	http.Redirect(w, r, EntryRoute, http.StatusSeeOther)
}

func (handler *Handler) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeState(w, handler.store.State(), http.StatusOK)
}

func (handler *Handler) handleHome(w http.ResponseWriter, r *http.Request) {
	st := handler.store.State()
	render(w, r, HomePage(st.User, mux.Vars(r)["username"]), http.StatusOK)
}

func (handler *Handler) sectionHandler(s section) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := handler.store.State()
		render(w, r, SectionPage(s.title, st.User, mux.Vars(r)["username"]), http.StatusOK)
	})
}

func render(w http.ResponseWriter, r *http.Request, c templ.Component, status int) {
	w.Header().Set("Cache-Control", "no-store")
	templ.Handler(c, templ.WithStatus(status)).ServeHTTP(w, r)
}

func writeState(w http.ResponseWriter, st session.State, status int) {
	stateBytes, err := json.Marshal(st)
	if err != nil {
		log.Errorf("marshal session state: %s", err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, stateBytes, status)
}

func homeRoute(user *session.User) string {
	return string(sectionURL("home", user.Username))
}

func sectionURL(section, username string) templ.SafeURL {
	if username == "" {
		username = "user"
	}
	return templ.SafeURL("/" + section + "/" + url.PathEscape(username))
}
