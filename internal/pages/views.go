package pages

import (
	"context"
	"io"

	"github.com/2beens/gymweb/internal/session"

	"github.com/a-h/templ"
)

const appName = "Gym"

const pageStyle = `<style>
body{margin:0;font-family:system-ui,sans-serif;background:linear-gradient(to right,#6D51A5,#E4A7C5);min-height:100vh;display:flex;align-items:center;justify-content:center}
.card{background:#fff;border-radius:12px;padding:24px;width:350px;box-shadow:0 4px 16px rgba(0,0,0,.15)}
.card h1{font-size:1.4em;text-align:center;margin-top:0}
.error{color:#ef4444;text-align:center}
form.auth{display:grid;gap:12px}
label{display:grid;gap:4px;font-size:.9em}
input{padding:8px;border:1px solid #ddd;border-radius:6px}
button{padding:10px;border:0;border-radius:6px;background:#7F96FF;color:#fff;cursor:pointer}
button:hover{background:#320E3B}
button.link{background:none;color:#320E3B;text-decoration:underline}
button.danger{background:#ef4444}
nav a{margin-right:12px}
</style>`

// EntryView is what the entry page renders: the login or register form.
type EntryView struct {
	Registering bool
	Error       string
	Email       string
	Name        string
}

type htmlWriter struct {
	w   io.Writer
	err error
}

func (hw *htmlWriter) raw(s string) {
	if hw.err != nil {
		return
	}
	_, hw.err = io.WriteString(hw.w, s)
}

func (hw *htmlWriter) text(s string) {
	hw.raw(templ.EscapeString(s))
}

func (hw *htmlWriter) component(ctx context.Context, c templ.Component) {
	if hw.err != nil {
		return
	}
	hw.err = c.Render(ctx, hw.w)
}

func layout(title string, body templ.Component) templ.Component {
	return page(title, "", body)
}

// page is layout with extra raw markup in the document head.
func page(title, head string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		hw := &htmlWriter{w: w}
		hw.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1">`)
		hw.raw(head)
		hw.raw(`<title>`)
		hw.text(title + " | " + appName)
		hw.raw(`</title>`)
		hw.raw(pageStyle)
		hw.raw(`</head><body>`)
		hw.component(ctx, body)
		hw.raw(`</body></html>`)
		return hw.err
	})
}

// LoadingPage is shown while the session is being restored.
func LoadingPage() templ.Component {
	return page("Loading", `<meta http-equiv="refresh" content="1">`, templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		hw := &htmlWriter{w: w}
		hw.raw(`<div class="card" style="text-align:center"><p>Loading...</p></div>`)
		return hw.err
	}))
}

func EntryPage(view EntryView) templ.Component {
	title, action, submit := "Welcome to the Gym", "/login", "Login"
	toggleMode, toggleLabel := "register", "Don't have an account? Sign Up"
	if view.Registering {
		title, action, submit = "Create an Account", "/register", "Sign Up"
		toggleMode, toggleLabel = "login", "Already have an account? Login"
	}

	return layout(title, templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		hw := &htmlWriter{w: w}
		hw.raw(`<div class="card"><h1>`)
		hw.text(title)
		hw.raw(`</h1>`)
		if view.Error != "" {
			hw.raw(`<p class="error" role="alert">`)
			hw.text(view.Error)
			hw.raw(`</p>`)
		}

		hw.raw(`<form class="auth" method="post" action="` + action + `">`)
		if view.Registering {
			hw.raw(`<label for="name">Name<input type="text" id="name" name="name" placeholder="Your name" value="`)
			hw.text(view.Name)
			hw.raw(`"></label>`)
		}
		hw.raw(`<label for="email">Email<input type="email" id="email" name="email" placeholder="Email" required value="`)
		hw.text(view.Email)
		hw.raw(`"></label>`)
		hw.raw(`<label for="password">Password<input type="password" id="password" name="password" placeholder="Password" required></label>`)
		hw.raw(`<button type="submit">` + submit + `</button></form>`)

		hw.raw(`<form method="post" action="/mode"><input type="hidden" name="mode" value="` + toggleMode + `">`)
		hw.raw(`<button type="submit" class="link">` + toggleLabel + `</button></form>`)
		hw.raw(`</div>`)
		return hw.err
	}))
}

// HomePage greets the signed in user. username is the path segment the page
// was requested with.
func HomePage(user *session.User, username string) templ.Component {
	return layout("Home", templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		hw := &htmlWriter{w: w}
		hw.raw(`<div class="card"><h1>Welcome, `)
		hw.text(displayName(user))
		hw.raw(`</h1>`)
		hw.raw(`<nav>`)
		for _, section := range sections {
			hw.raw(`<a href="`)
			hw.text(string(sectionURL(section.path, username)))
			hw.raw(`">`)
			hw.text(section.title)
			hw.raw(`</a>`)
		}
		hw.raw(`</nav>`)
		hw.raw(`<form method="post" action="/logout"><button type="submit" class="danger">Logout</button></form>`)
		hw.raw(`</div>`)
		return hw.err
	}))
}

// SectionPage is a protected page of the signed in user with only navigation
// back home.
func SectionPage(title string, user *session.User, username string) templ.Component {
	return layout(title, templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		hw := &htmlWriter{w: w}
		hw.raw(`<div class="card"><h1>`)
		hw.text(title)
		hw.raw(`</h1><p>`)
		hw.text(displayName(user))
		hw.raw(`</p><nav><a href="`)
		hw.text(string(sectionURL("home", username)))
		hw.raw(`">Home</a></nav></div>`)
		return hw.err
	}))
}

func displayName(user *session.User) string {
	switch {
	case user == nil:
		return "user"
	case user.Name != "":
		return user.Name
	case user.Username != "":
		return user.Username
	default:
		return user.Email
	}
}
