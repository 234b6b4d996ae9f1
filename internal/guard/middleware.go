package guard

import (
	"context"
	"io"
	"net/http"

	"github.com/a-h/templ"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

var plainLoading = templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
	_, err := io.WriteString(w, "Loading...")
	return err
})

// Protect wraps handlers that need an authenticated session. While the session
// is being restored the loading component is served and the browser retries;
// an anonymous session is sent to entryRoute. A nil loading component renders
// plain "Loading...".
func Protect(source StateSource, entryRoute string, loading templ.Component) mux.MiddlewareFunc {
	if loading == nil {
		loading = plainLoading
	}
	loadingHandler := templ.Handler(loading, templ.WithStatus(http.StatusOK))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st := source.State()
			switch Decide(st.IsLoading, st.IsAuthenticated) {
			case Loading:
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Cache-Control", "no-store")
				loadingHandler.ServeHTTP(w, r)
			case Redirect:
				log.Debugf("guard: %s requires a session, redirecting to %s", r.URL.Path, entryRoute)
				http.Redirect(w, r, entryRoute, http.StatusSeeOther)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
