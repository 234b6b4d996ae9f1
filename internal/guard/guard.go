// Package guard gates protected pages behind the session flags.
package guard

import (
	"sync"

	"github.com/2beens/gymweb/internal/session"
)

type Decision int

const (
	// Loading renders a placeholder and nothing else.
	Loading Decision = iota
	// Redirect sends the user to the entry route.
	Redirect
	// Render shows the protected content.
	Render
)

func (d Decision) String() string {
	switch d {
	case Loading:
		return "loading"
	case Redirect:
		return "redirect"
	case Render:
		return "render"
	default:
		return "unknown"
	}
}

// Decide maps the session flags to what a protected page does.
func Decide(loading, authenticated bool) Decision {
	switch {
	case loading:
		return Loading
	case !authenticated:
		return Redirect
	default:
		return Render
	}
}

// StateSource is anything a session snapshot can be read from.
type StateSource interface {
	State() session.State
}

// Observable is a StateSource that also notifies about changes.
type Observable interface {
	StateSource
	Subscribe(fn func(session.State)) (unsubscribe func())
}

// Navigator performs the redirect to route.
type Navigator func(route string)

// Guard tracks decisions over time and fires the navigator once per
// transition into Redirect, never on repeated observations of it.
type Guard struct {
	entryRoute string
	navigate   Navigator

	mu       sync.Mutex
	last     Decision
	observed bool
}

func New(entryRoute string, navigate Navigator) *Guard {
	return &Guard{
		entryRoute: entryRoute,
		navigate:   navigate,
	}
}

func (g *Guard) EntryRoute() string {
	return g.entryRoute
}

func (g *Guard) Observe(st session.State) Decision {
	decision := Decide(st.IsLoading, st.IsAuthenticated)

	g.mu.Lock()
	fire := decision == Redirect && (!g.observed || g.last != Redirect)
	g.last = decision
	g.observed = true
	g.mu.Unlock()

	if fire && g.navigate != nil {
		g.navigate(g.entryRoute)
	}
	return decision
}

// Attach observes the current state of source and every change after it.
func (g *Guard) Attach(source Observable) (detach func()) {
	detach = source.Subscribe(func(st session.State) {
		g.Observe(st)
	})
	g.Observe(source.State())
	return detach
}
