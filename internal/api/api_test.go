package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/harrylevesque/contactbook/internal/auth"
	"github.com/harrylevesque/contactbook/internal/contacts"
	"github.com/harrylevesque/contactbook/internal/files"
	"github.com/harrylevesque/contactbook/internal/media"
	"github.com/harrylevesque/contactbook/internal/store"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()

	var router http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	st, err := store.Open(store.Config{Path: filepath.Join(dir, "test.db"), PoolSize: 4})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	bucket, err := files.New(files.Config{Dir: filepath.Join(dir, "files"), PublicURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	a := auth.New(st.Users(), auth.Config{Cost: bcrypt.MinCost}, nil)
	uploader := &media.Uploader{Bucket: bucket}
	svc := contacts.NewService(st.Contacts(),
		contacts.WithUploader(uploader),
		contacts.WithImageRemover(uploader),
		contacts.WithHub(contacts.NewHub()),
	)
	router = NewRouter(Deps{
		Auth:      a,
		Contacts:  svc,
		Bucket:    bucket,
		Store:     st,
		Now:       func() time.Time { return fixedNow },
		KeepAlive: time.Hour,
	})
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, data
}

func errorText(t *testing.T, data []byte) string {
	t.Helper()
	var e errorBody
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("error body %q: %v", data, err)
	}
	return e.Error
}

func signUp(t *testing.T, srv *httptest.Server, email string) AuthResponse {
	t.Helper()
	code, data := call(t, srv, "POST", "/auth/signup", "", credentials{Email: email, Password: "secret1"})
	if code != http.StatusCreated {
		t.Fatalf("signup status = %d body = %s", code, data)
	}
	var ar AuthResponse
	if err := json.Unmarshal(data, &ar); err != nil {
		t.Fatal(err)
	}
	return ar
}

func TestHealthAndTime(t *testing.T) {
	srv := newTestServer(t)

	code, data := call(t, srv, "GET", "/health", "", nil)
	if code != http.StatusOK || strings.TrimSpace(string(data)) != "OK" {
		t.Errorf("health = %d %q", code, data)
	}
	code, data = call(t, srv, "GET", "/time", "", nil)
	if code != http.StatusOK || !strings.Contains(string(data), "2026-03-01T12:00:00Z") {
		t.Errorf("time = %d %q", code, data)
	}
	code, data = call(t, srv, "GET", "/nowhere", "", nil)
	if code != http.StatusNotFound || errorText(t, data) != "Not found" {
		t.Errorf("unknown route = %d %q", code, data)
	}
}

func TestAuthFlow(t *testing.T) {
	srv := newTestServer(t)
	ar := signUp(t, srv, "Ada@Example.com")
	if ar.User.Email != "ada@example.com" || ar.Session.Token == "" {
		t.Fatalf("signup = %+v", ar)
	}

	code, data := call(t, srv, "POST", "/auth/signup", "", credentials{Email: "ada@example.com", Password: "another1"})
	if code != http.StatusConflict {
		t.Errorf("duplicate signup = %d %s", code, data)
	}
	code, data = call(t, srv, "POST", "/auth/signup", "", credentials{Email: "bob@example.com", Password: "123"})
	if code != http.StatusBadRequest || errorText(t, data) != "Password is too short" {
		t.Errorf("weak password = %d %s", code, data)
	}
	code, data = call(t, srv, "POST", "/auth/signin", "", credentials{Email: "ada@example.com", Password: "wrong!"})
	if code != http.StatusUnauthorized || errorText(t, data) != "Invalid email or password" {
		t.Errorf("bad signin = %d %s", code, data)
	}
	code, data = call(t, srv, "POST", "/auth/signin", "", map[string]string{"email": "x", "pass": "y"})
	if code != http.StatusBadRequest || errorText(t, data) != "Invalid request body" {
		t.Errorf("unknown field = %d %s", code, data)
	}

	code, data = call(t, srv, "POST", "/auth/signin", "", credentials{Email: "ada@example.com", Password: "secret1"})
	if code != http.StatusOK {
		t.Fatalf("signin = %d %s", code, data)
	}
	var second AuthResponse
	if err := json.Unmarshal(data, &second); err != nil {
		t.Fatal(err)
	}

	code, data = call(t, srv, "GET", "/auth/me", second.Session.Token, nil)
	if code != http.StatusOK || !strings.Contains(string(data), "ada@example.com") {
		t.Errorf("me = %d %s", code, data)
	}
	if strings.Contains(string(data), "password") {
		t.Errorf("me leaks the password hash: %s", data)
	}

	// Changing the password keeps the calling session and drops the others.
	code, data = call(t, srv, "POST", "/auth/password", second.Session.Token, PasswordChange{CurrentPassword: "secret1", NewPassword: "better22"})
	if code != http.StatusNoContent {
		t.Fatalf("password change = %d %s", code, data)
	}
	if code, _ := call(t, srv, "GET", "/auth/me", ar.Session.Token, nil); code != http.StatusUnauthorized {
		t.Errorf("old session after password change = %d", code)
	}
	if code, _ := call(t, srv, "GET", "/auth/me", second.Session.Token, nil); code != http.StatusOK {
		t.Errorf("current session after password change = %d", code)
	}

	code, _ = call(t, srv, "POST", "/auth/signout", second.Session.Token, nil)
	if code != http.StatusNoContent {
		t.Errorf("signout = %d", code)
	}
	code, data = call(t, srv, "GET", "/auth/me", second.Session.Token, nil)
	if code != http.StatusUnauthorized || errorText(t, data) != "Please sign in again" {
		t.Errorf("me after signout = %d %s", code, data)
	}
}

func TestContactsCRUD(t *testing.T) {
	srv := newTestServer(t)
	tok := signUp(t, srv, "ada@example.com").Session.Token

	if code, _ := call(t, srv, "GET", "/contacts", "", nil); code != http.StatusUnauthorized {
		t.Errorf("anonymous list = %d", code)
	}

	tests := []struct {
		name  string
		draft contacts.Draft
		want  string
	}{
		{"missing last name", contacts.Draft{FirstName: "Ada", Number: "5551234567"}, "Please enter a first and last name."},
		{"short number", contacts.Draft{FirstName: "Ada", LastName: "L", Number: "555"}, "Please enter a 10-digit phone number."},
		{"local file", contacts.Draft{FirstName: "Ada", LastName: "L", Number: "5551234567", ImageURI: "/etc/passwd"}, "Images must be sent inline or as a URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, data := call(t, srv, "POST", "/contacts", tok, tt.draft)
			if code != http.StatusBadRequest || errorText(t, data) != tt.want {
				t.Errorf("create = %d %s", code, data)
			}
		})
	}

	// Create with an inline picture
	code, data := call(t, srv, "POST", "/contacts", tok, contacts.Draft{
		FirstName: " Grace ", LastName: "Hopper", Number: "555.123.4567",
		ImageURI: "data:image/png;base64,aGVsbG8=",
	})
	if code != http.StatusCreated {
		t.Fatalf("create = %d %s", code, data)
	}
	var grace contacts.Contact
	if err := json.Unmarshal(data, &grace); err != nil {
		t.Fatal(err)
	}
	if grace.Name != "Grace Hopper" || grace.Number != "(555) 123-4567" || grace.ID == "" {
		t.Errorf("created = %+v", grace)
	}
	prefix := srv.URL + "/files/users/" + grace.OwnerID + "/contacts/"
	if !strings.HasPrefix(grace.ImageURI, prefix) || !strings.HasSuffix(grace.ImageURI, ".jpg") {
		t.Errorf("image uri = %q", grace.ImageURI)
	}

	code, data = call(t, srv, "GET", strings.TrimPrefix(grace.ImageURI, srv.URL), tok, nil)
	if code != http.StatusOK || string(data) != "hello" {
		t.Errorf("download = %d %q", code, data)
	}

	// Legacy clients may send only "name"
	code, data = call(t, srv, "POST", "/contacts", tok, map[string]string{"name": "alan Mathison Turing", "number": "2125550000"})
	if code != http.StatusCreated {
		t.Fatalf("legacy create = %d %s", code, data)
	}

	code, data = call(t, srv, "GET", "/contacts", tok, nil)
	var list []contacts.Contact
	if err := json.Unmarshal(data, &list); err != nil || code != http.StatusOK {
		t.Fatalf("list = %d %s", code, data)
	}
	if len(list) != 2 || list[0].FirstName != "alan" || list[1].ID != grace.ID {
		t.Errorf("list order = %+v", list)
	}

	// Update keeps the uploaded picture when the URL is sent back
	code, data = call(t, srv, "PUT", "/contacts/"+grace.ID, tok, contacts.Draft{
		FirstName: "Grace", LastName: "Brewster Hopper", Number: "5559876543", ImageURI: grace.ImageURI,
	})
	if code != http.StatusOK {
		t.Fatalf("update = %d %s", code, data)
	}
	var updated contacts.Contact
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatal(err)
	}
	if updated.Name != "Grace Brewster Hopper" || updated.ImageURI != grace.ImageURI || !updated.CreatedAt.Equal(grace.CreatedAt) {
		t.Errorf("updated = %+v", updated)
	}

	code, _ = call(t, srv, "DELETE", "/contacts/"+grace.ID, tok, nil)
	if code != http.StatusNoContent {
		t.Errorf("delete = %d", code)
	}
	code, data = call(t, srv, "GET", "/contacts/"+grace.ID, tok, nil)
	if code != http.StatusNotFound || errorText(t, data) != "Contact not found" {
		t.Errorf("get after delete = %d %s", code, data)
	}
}

func TestContactImagesFollowTheRecord(t *testing.T) {
	srv := newTestServer(t)
	tok := signUp(t, srv, "ada@example.com").Session.Token

	// Given a contact with an inline picture
	code, data := call(t, srv, "POST", "/contacts", tok, contacts.Draft{
		FirstName: "Grace", LastName: "Hopper", Number: "5551234567",
		ImageURI: "data:image/png;base64,b2xk",
	})
	if code != http.StatusCreated {
		t.Fatalf("create = %d %s", code, data)
	}
	var c contacts.Contact
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatal(err)
	}
	oldPath := strings.TrimPrefix(c.ImageURI, srv.URL)

	// Then reading it back yields the same CreatedAt
	code, data = call(t, srv, "GET", "/contacts/"+c.ID, tok, nil)
	var got contacts.Contact
	if err := json.Unmarshal(data, &got); err != nil || code != http.StatusOK {
		t.Fatalf("get = %d %s", code, data)
	}
	if !got.CreatedAt.Equal(c.CreatedAt) {
		t.Errorf("CreatedAt = %v, created as %v", got.CreatedAt, c.CreatedAt)
	}

	// When the picture is replaced
	code, data = call(t, srv, "PUT", "/contacts/"+c.ID, tok, contacts.Draft{
		FirstName: "Grace", LastName: "Hopper", Number: "5551234567",
		ImageURI: "data:image/png;base64,bmV3",
	})
	if code != http.StatusOK {
		t.Fatalf("update = %d %s", code, data)
	}
	var updated contacts.Contact
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatal(err)
	}
	newPath := strings.TrimPrefix(updated.ImageURI, srv.URL)

	// Then the old object is gone and the new one is served
	code, data = call(t, srv, "GET", oldPath, tok, nil)
	if code != http.StatusNotFound || errorText(t, data) != "File not found" {
		t.Errorf("old picture = %d %s", code, data)
	}
	if code, data = call(t, srv, "GET", newPath, tok, nil); code != http.StatusOK || string(data) != "new" {
		t.Errorf("new picture = %d %q", code, data)
	}

	// When the contact is deleted, its picture goes with it
	if code, _ := call(t, srv, "DELETE", "/contacts/"+c.ID, tok, nil); code != http.StatusNoContent {
		t.Fatalf("delete = %d", code)
	}
	if code, _ := call(t, srv, "GET", newPath, tok, nil); code != http.StatusNotFound {
		t.Errorf("picture after delete = %d, want 404", code)
	}
}

func TestFileDownloadHeaders(t *testing.T) {
	srv := newTestServer(t)
	tok := signUp(t, srv, "ada@example.com").Session.Token

	// A non-image data URI is stored as a JPEG, never as HTML.
	code, data := call(t, srv, "POST", "/contacts", tok, contacts.Draft{
		FirstName: "Grace", LastName: "Hopper", Number: "5551234567",
		ImageURI: "data:text/html,%3Cscript%3E",
	})
	if code != http.StatusCreated {
		t.Fatalf("create = %d %s", code, data)
	}
	var c contacts.Contact
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatal(err)
	}

	req, err := http.NewRequest("GET", c.ImageURI, nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "image/jpeg" {
		t.Errorf("Content-Type = %q, want image/jpeg", got)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestRequestBodyLimit(t *testing.T) {
	srv := newTestServer(t)
	tok := signUp(t, srv, "ada@example.com").Session.Token

	big := "data:image/png;base64," + strings.Repeat("A", maxBodyBytes)
	code, data := call(t, srv, "POST", "/contacts", tok, contacts.Draft{
		FirstName: "Grace", LastName: "Hopper", Number: "5551234567", ImageURI: big,
	})
	if code != http.StatusRequestEntityTooLarge || errorText(t, data) != "Request is too large" {
		t.Errorf("oversized create = %d %s", code, data)
	}
	code, data = call(t, srv, "GET", "/contacts", tok, nil)
	if code != http.StatusOK || strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("list after rejected create = %d %s", code, data)
	}
}

func TestContactsOwnership(t *testing.T) {
	srv := newTestServer(t)
	ada := signUp(t, srv, "ada@example.com").Session.Token
	bob := signUp(t, srv, "bob@example.com").Session.Token

	code, data := call(t, srv, "POST", "/contacts", ada, contacts.Draft{
		FirstName: "Grace", LastName: "Hopper", Number: "5551234567", ImageURI: "data:,hi",
	})
	if code != http.StatusCreated {
		t.Fatalf("create = %d %s", code, data)
	}
	var c contacts.Contact
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatal(err)
	}

	code, data = call(t, srv, "GET", "/contacts/"+c.ID, bob, nil)
	if code != http.StatusForbidden || errorText(t, data) != "You don't have permission to view this contact" {
		t.Errorf("foreign get = %d %s", code, data)
	}
	if code, _ := call(t, srv, "DELETE", "/contacts/"+c.ID, bob, nil); code != http.StatusForbidden {
		t.Errorf("foreign delete = %d", code)
	}
	if code, _ := call(t, srv, "GET", strings.TrimPrefix(c.ImageURI, srv.URL), bob, nil); code != http.StatusForbidden {
		t.Errorf("foreign download = %d", code)
	}
	code, data = call(t, srv, "GET", "/contacts", bob, nil)
	if code != http.StatusOK || strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("bob's list = %d %s", code, data)
	}
}

func readEvent(t *testing.T, rd *bufio.Reader) []contacts.Contact {
	t.Helper()
	var event, payload string
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if event == StreamEvent {
				var list []contacts.Contact
				if err := json.Unmarshal([]byte(payload), &list); err != nil {
					t.Fatalf("decoding event %q: %v", payload, err)
				}
				return list
			}
			event, payload = "", ""
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			payload = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestContactsStream(t *testing.T) {
	// Given a subscriber with no contacts
	srv := newTestServer(t)
	tok := signUp(t, srv, "ada@example.com").Session.Token

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/contacts/stream", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	rd := bufio.NewReader(resp.Body)
	if first := readEvent(t, rd); len(first) != 0 {
		t.Fatalf("first event = %+v", first)
	}

	// When contacts are added
	call(t, srv, "POST", "/contacts", tok, contacts.Draft{FirstName: "Zed", LastName: "Z", Number: "5551234567"})
	call(t, srv, "POST", "/contacts", tok, contacts.Draft{FirstName: "Amy", LastName: "A", Number: "5551234567"})

	// Then the stream eventually carries the full sorted list
	var got []contacts.Contact
	for len(got) < 2 {
		got = readEvent(t, rd)
	}
	if got[0].FirstName != "Amy" || got[1].FirstName != "Zed" {
		t.Errorf("stream list = %+v", got)
	}
}
