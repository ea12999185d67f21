package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/harrylevesque/contactbook/internal/auth"
	"github.com/harrylevesque/contactbook/internal/contacts"
	"github.com/harrylevesque/contactbook/internal/files"
	"github.com/harrylevesque/contactbook/internal/models"
)

// maxBodyBytes bounds request bodies; inline images travel inside them.
const maxBodyBytes = 10 << 20

type handler struct {
	auth      *auth.Auth
	contacts  *contacts.Service
	bucket    *files.Bucket
	logger    *slog.Logger
	now       func() time.Time
	keepAlive time.Duration
}

func newHandler(d Deps) *handler {
	h := &handler{
		auth:      d.Auth,
		contacts:  d.Contacts,
		bucket:    d.Bucket,
		logger:    d.Logger,
		now:       d.Now,
		keepAlive: d.KeepAlive,
	}
	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.keepAlive <= 0 {
		h.keepAlive = 25 * time.Second
	}
	return h
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return err
		}
		return errBadBody
	}
	if _, err := dec.Token(); err != io.EOF {
		return errBadBody
	}
	return nil
}

// getTime returns the current server time in RFC3339 format
func (h *handler) getTime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"time": h.now().UTC().Format(time.RFC3339)})
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by sign-up and sign-in.
type AuthResponse struct {
	User    models.User    `json:"user"`
	Session models.Session `json:"session"`
}

func (h *handler) signUp(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := decode(w, r, &c); err != nil {
		h.writeError(w, err)
		return
	}
	u, s, err := h.auth.SignUp(r.Context(), c.Email, c.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, AuthResponse{User: u, Session: s})
}

func (h *handler) signIn(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := decode(w, r, &c); err != nil {
		h.writeError(w, err)
		return
	}
	u, s, err := h.auth.SignIn(r.Context(), c.Email, c.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{User: u, Session: s})
}

func (h *handler) signOut(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.SignOut(r.Context(), auth.TokenFrom(r.Context())); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PasswordChange is the body of POST /auth/password.
type PasswordChange struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var p PasswordChange
	if err := decode(w, r, &p); err != nil {
		h.writeError(w, err)
		return
	}
	ctx := r.Context()
	if err := h.auth.ChangePassword(ctx, auth.OwnerFrom(ctx), auth.TokenFrom(ctx), p.CurrentPassword, p.NewPassword); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	u, err := h.auth.Authenticate(r.Context(), auth.TokenFrom(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *handler) listContacts(w http.ResponseWriter, r *http.Request) {
	list, err := h.contacts.List(r.Context(), auth.OwnerFrom(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) createContact(w http.ResponseWriter, r *http.Request) {
	var d contacts.Draft
	if err := decode(w, r, &d); err != nil {
		h.writeError(w, err)
		return
	}
	c, err := h.contacts.Create(r.Context(), auth.OwnerFrom(r.Context()), d)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Location", "/contacts/"+c.ID)
	writeJSON(w, http.StatusCreated, c)
}

func (h *handler) getContact(w http.ResponseWriter, r *http.Request) {
	c, err := h.contacts.Get(r.Context(), auth.OwnerFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handler) updateContact(w http.ResponseWriter, r *http.Request) {
	var d contacts.Draft
	if err := decode(w, r, &d); err != nil {
		h.writeError(w, err)
		return
	}
	c, err := h.contacts.Update(r.Context(), auth.OwnerFrom(r.Context()), mux.Vars(r)["id"], d)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handler) deleteContact(w http.ResponseWriter, r *http.Request) {
	if err := h.contacts.Delete(r.Context(), auth.OwnerFrom(r.Context()), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getFile serves a bucket object to the owner of its namespace.
func (h *handler) getFile(w http.ResponseWriter, r *http.Request) {
	p := mux.Vars(r)["path"]
	if err := files.ValidatePath(p); err != nil {
		h.writeError(w, err)
		return
	}
	if !strings.HasPrefix(p, "users/"+auth.OwnerFrom(r.Context())+"/") {
		h.writeError(w, errFileForbidden)
		return
	}
	obj, err := h.bucket.Get(p)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(obj.Data); err != nil {
		h.logger.Debug("writing file", "path", p, "error", err)
	}
}
