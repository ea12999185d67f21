package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/harrylevesque/contactbook/internal/auth"
	"github.com/harrylevesque/contactbook/internal/contacts"
	"github.com/harrylevesque/contactbook/internal/files"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the HTTP API.
type Deps struct {
	Auth     *auth.Auth
	Contacts *contacts.Service
	Bucket   *files.Bucket
	Store    Pinger
	Logger   *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// KeepAlive is the interval of SSE comment frames; zero means 25s.
	KeepAlive time.Duration
}

func NewRouter(d Deps) *mux.Router {
	h := newHandler(d)

	r := mux.NewRouter()
	r.Use(h.logRequests)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, errRouteNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, errMethodNotAllowed)
	})

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if d.Store != nil {
			if err := d.Store.Ping(r.Context()); err != nil {
				h.logger.Error("health check failed", "error", err)
				http.Error(w, "UNAVAILABLE", http.StatusServiceUnavailable)
				return
			}
		}
		if _, err := fmt.Fprintln(w, "OK"); err != nil {
			h.logger.Debug("writing health response", "error", err)
		}
	}).Methods("GET")
	r.HandleFunc("/time", h.getTime).Methods("GET")

	r.HandleFunc("/auth/signup", h.signUp).Methods("POST")
	r.HandleFunc("/auth/signin", h.signIn).Methods("POST")

	private := r.NewRoute().Subrouter()
	private.Use(d.Auth.Middleware(h.writeError))
	private.HandleFunc("/auth/signout", h.signOut).Methods("POST")
	private.HandleFunc("/auth/password", h.changePassword).Methods("POST")
	private.HandleFunc("/auth/me", h.me).Methods("GET")

	private.HandleFunc("/contacts", h.listContacts).Methods("GET")
	private.HandleFunc("/contacts", h.createContact).Methods("POST")
	private.HandleFunc("/contacts/stream", h.streamContacts).Methods("GET")
	private.HandleFunc("/contacts/{id}", h.getContact).Methods("GET")
	private.HandleFunc("/contacts/{id}", h.updateContact).Methods("PUT")
	private.HandleFunc("/contacts/{id}", h.deleteContact).Methods("DELETE")

	private.HandleFunc(files.URLPrefix+"{path:.+}", h.getFile).Methods("GET")
	return r
}
