// Package client talks to the contactbook HTTP API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harrylevesque/contactbook/internal/api"
	"github.com/harrylevesque/contactbook/internal/contacts"
	"github.com/harrylevesque/contactbook/internal/media"
	"github.com/harrylevesque/contactbook/internal/models"
	"github.com/harrylevesque/contactbook/internal/utils"
)

// ErrNotSignedIn is returned by calls that need a session when none is set.
var ErrNotSignedIn = errors.New("client: not signed in")

// Client is an API client. The zero Token means signed out.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// New returns a client for baseURL.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("client: encoding request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return req, nil
}

// do sends a request and decodes a JSON response into out when non-nil.
// Error responses become *utils.CustomError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decoding %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &body) != nil || body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}
	return &utils.CustomError{Code: resp.StatusCode, Message: body.Error}
}

// IsUnauthorized reports whether err is a 401 from the server.
func IsUnauthorized(err error) bool {
	var ce *utils.CustomError
	return errors.As(err, &ce) && ce.Code == http.StatusUnauthorized
}

// Health returns nil when the server answers /health.
func (c *Client) Health(ctx context.Context) error {
	req, err := c.newRequest(ctx, "GET", "/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("client: health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("client: health: %s", resp.Status)
	}
	return nil
}

// SignUp creates an account and keeps its session token.
func (c *Client) SignUp(ctx context.Context, email, password string) (api.AuthResponse, error) {
	return c.authenticate(ctx, "/auth/signup", email, password)
}

// SignIn signs in and keeps the session token.
func (c *Client) SignIn(ctx context.Context, email, password string) (api.AuthResponse, error) {
	return c.authenticate(ctx, "/auth/signin", email, password)
}

func (c *Client) authenticate(ctx context.Context, path, email, password string) (api.AuthResponse, error) {
	var ar api.AuthResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, "POST", path, body, &ar); err != nil {
		return api.AuthResponse{}, err
	}
	c.Token = ar.Session.Token
	return ar, nil
}

// SignOut revokes the session and forgets the token.
func (c *Client) SignOut(ctx context.Context) error {
	if c.Token == "" {
		return ErrNotSignedIn
	}
	if err := c.do(ctx, "POST", "/auth/signout", nil, nil); err != nil && !IsUnauthorized(err) {
		return err
	}
	c.Token = ""
	return nil
}

// ChangePassword replaces the account password.
func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	return c.do(ctx, "POST", "/auth/password", api.PasswordChange{CurrentPassword: current, NewPassword: next}, nil)
}

// Me returns the signed in account.
func (c *Client) Me(ctx context.Context) (models.User, error) {
	var u models.User
	err := c.do(ctx, "GET", "/auth/me", nil, &u)
	return u, err
}

// List returns the contacts sorted by display name.
func (c *Client) List(ctx context.Context) ([]contacts.Contact, error) {
	var list []contacts.Contact
	if err := c.do(ctx, "GET", "/contacts", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Get returns one contact.
func (c *Client) Get(ctx context.Context, id string) (contacts.Contact, error) {
	var ct contacts.Contact
	err := c.do(ctx, "GET", "/contacts/"+url.PathEscape(id), nil, &ct)
	return ct, err
}

// Create adds a contact. A local image path in d is sent inline.
func (c *Client) Create(ctx context.Context, d contacts.Draft) (contacts.Contact, error) {
	d, err := prepareImage(d)
	if err != nil {
		return contacts.Contact{}, err
	}
	var ct contacts.Contact
	err = c.do(ctx, "POST", "/contacts", d, &ct)
	return ct, err
}

// Update edits a contact. A local image path in d is sent inline.
func (c *Client) Update(ctx context.Context, id string, d contacts.Draft) (contacts.Contact, error) {
	d, err := prepareImage(d)
	if err != nil {
		return contacts.Contact{}, err
	}
	var ct contacts.Contact
	err = c.do(ctx, "PUT", "/contacts/"+url.PathEscape(id), d, &ct)
	return ct, err
}

// Delete removes a contact.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, "DELETE", "/contacts/"+url.PathEscape(id), nil, nil)
}

func prepareImage(d contacts.Draft) (contacts.Draft, error) {
	ref := strings.TrimSpace(d.ImageURI)
	if ref == "" || media.IsRemote(ref) || media.IsDataURI(ref) {
		return d, nil
	}
	uri, err := media.EncodeFileAsDataURI(ref)
	if err != nil {
		return d, err
	}
	d.ImageURI = uri
	return d, nil
}

// Watch calls onList with the full sorted contact list now and after every
// change until ctx ends or the server closes the stream.
func (c *Client) Watch(ctx context.Context, onList func([]contacts.Contact)) error {
	req, err := c.newRequest(ctx, "GET", "/contacts/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	// The shared client timeout would cut the stream.
	hc := *c.HTTP
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("client: watch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	err = readEvents(resp.Body, func(event, data string) error {
		if event != api.StreamEvent {
			return nil
		}
		var list []contacts.Contact
		if err := json.Unmarshal([]byte(data), &list); err != nil {
			return fmt.Errorf("client: decoding stream: %w", err)
		}
		onList(list)
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readEvents parses a server-sent event stream, calling fn once per
// dispatched event.
func readEvents(r io.Reader, fn func(event, data string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 16<<20)
	var event string
	var data []string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				if err := fn(or(event, "message"), strings.Join(data, "\n")); err != nil {
					return err
				}
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				event = value
			case "data":
				data = append(data, value)
			}
		}
	}
	return sc.Err()
}

func or(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
