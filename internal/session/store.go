// Package session holds the one authenticated session of a web client process:
// who is logged in, the bearer token, and whether an auth request is in flight.
//
// A Store starts in the restoring phase (IsLoading=true) until Init reads the
// persisted record back. Login and Register report their outcome through the
// returned State snapshot instead of an error; subscribers see every change.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/2beens/gymweb/internal/backend"
	"github.com/2beens/gymweb/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
)

// Persisted record keys.
const (
	AuthTokenKey = "authToken"
	UserKey      = "user"
)

const (
	msgLoginFailed        = "Login failed"
	msgRegistrationFailed = "Registration failed"
	msgInvalidResponse    = "Invalid response from server"
	msgTryAgainSuffix     = ". Please try again."

	localUserIDPrefix = "user-"
	localTokenPrefix  = "mock-jwt-token-"
)

type RestoreOutcome int

const (
	// RestoreEmpty means nothing was persisted.
	RestoreEmpty RestoreOutcome = iota
	RestoreRestored
	// RestoreCorrupt means a partial or unparseable record was found and cleared.
	RestoreCorrupt
	// RestoreFailed means the persistent store could not be read.
	RestoreFailed
)

func (o RestoreOutcome) String() string {
	switch o {
	case RestoreEmpty:
		return "empty"
	case RestoreRestored:
		return "restored"
	case RestoreCorrupt:
		return "corrupt"
	case RestoreFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type Option func(s *Store)

// WithDetachedRequests lets in-flight login/register requests outlive the
// caller's context. A cancelled caller then still gets its session adopted.
func WithDetachedRequests() Option {
	return func(s *Store) {
		s.detached = true
	}
}

// WithRemoteRegistration sends Register to the backend instead of creating a
// local account.
func WithRemoteRegistration() Option {
	return func(s *Store) {
		s.remoteRegistration = true
	}
}

// WithClock replaces the clock local account ids are derived from.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

type Store struct {
	persistent         PersistentStore
	api                Authenticator
	detached           bool
	remoteRegistration bool
	now                func() time.Time

	mu          sync.RWMutex
	state       State
	token       string
	lastLocalID int64

	subsMutex   sync.Mutex
	subscribers map[int]func(State)
	nextSubID   int
	closed      bool
}

func New(persistent PersistentStore, api Authenticator, opts ...Option) *Store {
	s := &Store{
		persistent: persistent,
		api:        api,
		now:        time.Now,
		state: State{
			IsLoading: true,
		},
		subscribers: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init restores the session from the persistent store. It never fails: any
// partial or unreadable record is cleared and the session continues anonymous.
func (s *Store) Init(ctx context.Context) RestoreOutcome {
	ctx, span := tracing.GlobalTracer.Start(ctx, "session.init")
	defer span.End()

	outcome, user, token := s.restore(ctx)
	span.SetAttributes(attribute.String("restore.outcome", outcome.String()))

	s.mutate(func() {
		if outcome == RestoreRestored {
			s.state.User = user
			s.state.IsAuthenticated = true
			s.token = token
		}
		s.state.IsLoading = false
	})

	return outcome
}

func (s *Store) restore(ctx context.Context) (RestoreOutcome, *User, string) {
	token, tokenFound, err := s.persistent.Get(ctx, AuthTokenKey)
	if err != nil {
		log.Errorf("session restore: read %s: %s", AuthTokenKey, err)
		return RestoreFailed, nil, ""
	}
	rawUser, userFound, err := s.persistent.Get(ctx, UserKey)
	if err != nil {
		log.Errorf("session restore: read %s: %s", UserKey, err)
		return RestoreFailed, nil, ""
	}

	hasToken := tokenFound && token != ""
	hasUser := userFound && rawUser != ""
	if !hasToken && !hasUser {
		return RestoreEmpty, nil, ""
	}
	if !hasToken || !hasUser {
		log.Warnf("session restore: partial record (token: %t, user: %t), clearing", hasToken, hasUser)
		s.clearPersisted(ctx)
		return RestoreCorrupt, nil, ""
	}

	user, err := decodeUser(rawUser)
	if err != nil {
		log.Warnf("session restore: %s, clearing", err)
		s.clearPersisted(ctx)
		return RestoreCorrupt, nil, ""
	}

	log.Debugf("session restore: user %s restored", user.ID)
	return RestoreRestored, user, token
}

// Login authenticates against the backend. The outcome is the returned snapshot:
// on failure Error is set and the current user is left untouched.
func (s *Store) Login(ctx context.Context, email, password string) State {
	ctx, span := tracing.GlobalTracer.Start(ctx, "session.login")
	defer span.End()

	s.beginAuth()

	resp, err := s.api.Login(s.requestContext(ctx), email, password)
	if err != nil {
		span.RecordError(err)
		return s.failAuth(ctx, "login", err, msgLoginFailed)
	}

	s.persist(ctx, resp.Token, resp.User)
	log.Debugf("session: user %s logged in", resp.User.ID)

	return s.mutate(func() {
		s.state.User = cloneUser(resp.User)
		s.state.IsAuthenticated = true
		s.state.IsLoading = false
		s.token = resp.Token
	})
}

// Register creates an account, locally by default. The new user is adopted and
// persisted, but IsAuthenticated is left as it was: a registered user still
// has to log in before protected pages render.
func (s *Store) Register(ctx context.Context, email, password, name string) State {
	ctx, span := tracing.GlobalTracer.Start(ctx, "session.register")
	defer span.End()
	span.SetAttributes(attribute.Bool("register.remote", s.remoteRegistration))

	s.beginAuth()

	var (
		user  *User
		token string
	)
	if s.remoteRegistration {
		resp, err := s.api.Register(s.requestContext(ctx), email, password, name)
		if err != nil {
			span.RecordError(err)
			return s.failAuth(ctx, "register", err, msgRegistrationFailed)
		}
		user, token = resp.User, resp.Token
	} else {
		user, token = s.localAccount(email, name)
	}

	s.persist(ctx, token, user)
	log.Debugf("session: user %s registered", user.ID)

	return s.mutate(func() {
		s.state.User = cloneUser(user)
		s.state.IsLoading = false
		s.token = token
	})
}

func (s *Store) localAccount(email, name string) (*User, string) {
	n := s.nextLocalID()
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	return &User{
		ID:    fmt.Sprintf("%s%d", localUserIDPrefix, n),
		Email: email,
		Name:  name,
	}, fmt.Sprintf("%s%d", localTokenPrefix, n)
}

// nextLocalID is a millisecond timestamp, bumped when the clock has not moved
// so ids stay unique and strictly increasing within the process.
func (s *Store) nextLocalID() int64 {
	n := s.now().UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= s.lastLocalID {
		n = s.lastLocalID + 1
	}
	s.lastLocalID = n
	return n
}

// Logout clears the session and the persisted record. Storage failures are
// logged, the in-memory session is cleared regardless.
func (s *Store) Logout() {
	s.clearPersisted(context.Background())
	s.mutate(func() {
		s.state.User = nil
		s.state.IsAuthenticated = false
		s.token = ""
	})
	log.Debugln("session: logged out")
}

func (s *Store) ResetError() {
	s.mutate(func() {
		s.state.Error = ""
	})
}

func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Token is the bearer token of the current session, empty when anonymous.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Subscribe registers fn to be called with a snapshot after every change.
// Callbacks run on the goroutine that made the change, outside the store lock.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.subsMutex.Lock()
	defer s.subsMutex.Unlock()
	if s.closed {
		return func() {}
	}

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn

	return func() {
		s.subsMutex.Lock()
		defer s.subsMutex.Unlock()
		delete(s.subscribers, id)
	}
}

// Close drops all subscribers. The store stays readable.
func (s *Store) Close() {
	s.subsMutex.Lock()
	defer s.subsMutex.Unlock()
	s.closed = true
	s.subscribers = make(map[int]func(State))
}

func (s *Store) beginAuth() {
	s.mutate(func() {
		s.state.IsLoading = true
		s.state.Error = ""
	})
}

func (s *Store) failAuth(ctx context.Context, operation string, err error, fallback string) State {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		log.Debugf("session %s: aborted by caller: %s", operation, ctx.Err())
		return s.mutate(func() {
			s.state.IsLoading = false
		})
	}

	log.Warnf("session %s failed: %s", operation, err)
	message := failureMessage(err, fallback)
	return s.mutate(func() {
		s.state.Error = message
		s.state.IsLoading = false
	})
}

func failureMessage(err error, fallback string) string {
	if errors.Is(err, backend.ErrInvalidResponse) {
		return msgInvalidResponse
	}

	var statusErr *backend.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Message != "" {
			return statusErr.Message
		}
		return fallback
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fallback + msgTryAgainSuffix
}

func (s *Store) requestContext(ctx context.Context) context.Context {
	if s.detached {
		return context.WithoutCancel(ctx)
	}
	return ctx
}

// persist writes the record after a successful auth call. Failures only cost
// reload survival, so they are logged and the session is adopted anyway.
func (s *Store) persist(ctx context.Context, token string, user *User) {
	ctx = context.WithoutCancel(ctx)
	userJson, err := encodeUser(user)
	if err != nil {
		log.Errorf("session persist: %s", err)
		return
	}
	if err := multierr.Combine(
		s.persistent.Set(ctx, AuthTokenKey, token),
		s.persistent.Set(ctx, UserKey, userJson),
	); err != nil {
		log.Errorf("session persist: %s", err)
	}
}

func (s *Store) clearPersisted(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if err := multierr.Combine(
		s.persistent.Remove(ctx, AuthTokenKey),
		s.persistent.Remove(ctx, UserKey),
	); err != nil {
		log.Errorf("session: clear persisted record: %s", err)
	}
}

// mutate applies fn under the lock and notifies subscribers with the result.
func (s *Store) mutate(fn func()) State {
	s.mu.Lock()
	fn()
	snapshot := s.state.clone()
	s.mu.Unlock()

	s.notify(snapshot)
	return snapshot
}

func (s *Store) notify(snapshot State) {
	s.subsMutex.Lock()
	subs := make([]func(State), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.subsMutex.Unlock()

	for _, fn := range subs {
		fn(snapshot.clone())
	}
}
