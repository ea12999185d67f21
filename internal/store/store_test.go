package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/harrylevesque/contactbook/internal/auth"
	"github.com/harrylevesque/contactbook/internal/contacts"
	"github.com/harrylevesque/contactbook/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "contactbook.db"), PoolSize: 2})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatal("Open() with empty path succeeded")
	}
}

func TestStore_Ping(t *testing.T) {
	s := openTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestContactStore_RoundTrip(t *testing.T) {
	// Given a stored contact with and without an image
	ctx := context.Background()
	cs := openTestStore(t).Contacts()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	withImage := contacts.Contact{
		ID: "a", OwnerID: "u1", FirstName: "Ada", LastName: "Lovelace", Name: "Ada Lovelace",
		Number: "(555) 123-4567", ImageURI: "https://files/a.jpg", CreatedAt: created,
	}
	noImage := contacts.Contact{ID: "b", OwnerID: "u1", FirstName: "Bob", LastName: "B", CreatedAt: created.Add(time.Hour)}
	for _, c := range []contacts.Contact{withImage, noImage} {
		if err := cs.Insert(ctx, c); err != nil {
			t.Fatalf("Insert(%s) error = %v", c.ID, err)
		}
	}

	// When read back
	got, err := cs.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	// Then every field survives
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	got.CreatedAt, withImage.CreatedAt = time.Time{}, time.Time{}
	if got != withImage {
		t.Errorf("Get() = %+v, want %+v", got, withImage)
	}
	got, err = cs.Get(ctx, "b")
	if err != nil {
		t.Fatal(err)
	}
	if got.ImageURI != "" {
		t.Errorf("ImageURI = %q, want empty", got.ImageURI)
	}
}

func TestContactStore_GetMissing(t *testing.T) {
	cs := openTestStore(t).Contacts()
	if _, err := cs.Get(context.Background(), "nope"); !errors.Is(err, contacts.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestContactStore_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	cs := openTestStore(t).Contacts()
	c := contacts.Contact{ID: "a", OwnerID: "u1", FirstName: "A", LastName: "B", Number: "(555) 123-4567", ImageURI: "x", CreatedAt: time.UnixMilli(1000).UTC()}
	if err := cs.Insert(ctx, c); err != nil {
		t.Fatal(err)
	}

	c.FirstName = "Alan"
	c.ImageURI = ""
	c.OwnerID = "someone-else"
	if err := cs.Update(ctx, c); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, _ := cs.Get(ctx, "a")
	if got.FirstName != "Alan" || got.ImageURI != "" {
		t.Errorf("after Update: %+v", got)
	}
	if got.OwnerID != "u1" {
		t.Errorf("OwnerID changed to %q", got.OwnerID)
	}

	if err := cs.Update(ctx, contacts.Contact{ID: "missing"}); !errors.Is(err, contacts.ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrNotFound", err)
	}

	if err := cs.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := cs.Get(ctx, "a"); !errors.Is(err, contacts.ErrNotFound) {
		t.Errorf("Get() after Delete error = %v", err)
	}
	if err := cs.Delete(ctx, "a"); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestContactStore_ListByOwner(t *testing.T) {
	ctx := context.Background()
	cs := openTestStore(t).Contacts()
	for i, owner := range []string{"u1", "u2", "u1"} {
		c := contacts.Contact{ID: string(rune('a' + i)), OwnerID: owner, CreatedAt: time.UnixMilli(int64(i) * 1000).UTC()}
		if err := cs.Insert(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	list, err := cs.ListByOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != "c" || list[1].ID != "a" {
		t.Errorf("ListByOwner() = %+v, want [c a]", list)
	}

	empty, err := cs.ListByOwner(ctx, "nobody")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("ListByOwner(nobody) = %v, %v; want empty non-nil", empty, err)
	}
}

func TestUserStore_Accounts(t *testing.T) {
	ctx := context.Background()
	us := openTestStore(t).Users()
	u := models.User{UID: "u1", Email: "ada@example.com", PasswordHash: "h1", CreatedAt: time.UnixMilli(5000).UTC()}

	if err := us.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := us.CreateUser(ctx, models.User{UID: "u2", Email: "ada@example.com", PasswordHash: "h"}); !errors.Is(err, auth.ErrEmailTaken) {
		t.Errorf("duplicate CreateUser() error = %v, want ErrEmailTaken", err)
	}

	got, err := us.UserByEmail(ctx, "ada@example.com")
	if err != nil || got.UID != "u1" || got.PasswordHash != "h1" || !got.CreatedAt.Equal(u.CreatedAt) {
		t.Errorf("UserByEmail() = %+v, %v", got, err)
	}
	if _, err := us.UserByID(ctx, "u2"); !errors.Is(err, auth.ErrUserNotFound) {
		t.Errorf("UserByID(u2) error = %v, want ErrUserNotFound", err)
	}

	if err := us.UpdatePassword(ctx, "u1", "h2"); err != nil {
		t.Fatalf("UpdatePassword() error = %v", err)
	}
	got, _ = us.UserByID(ctx, "u1")
	if got.PasswordHash != "h2" {
		t.Errorf("PasswordHash = %q, want h2", got.PasswordHash)
	}
	if err := us.UpdatePassword(ctx, "ghost", "h"); !errors.Is(err, auth.ErrUserNotFound) {
		t.Errorf("UpdatePassword(ghost) error = %v", err)
	}
}

func TestUserStore_Sessions(t *testing.T) {
	ctx := context.Background()
	us := openTestStore(t).Users()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for _, s := range []models.Session{
		{Token: "t1", UID: "u1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
		{Token: "t2", UID: "u1", CreatedAt: now, ExpiresAt: now.Add(-time.Hour)},
		{Token: "t3", UID: "u1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
	} {
		if err := us.CreateSession(ctx, s); err != nil {
			t.Fatalf("CreateSession(%s) error = %v", s.Token, err)
		}
	}

	s, err := us.Session(ctx, "t1")
	if err != nil || s.UID != "u1" || !s.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("Session(t1) = %+v, %v", s, err)
	}

	n, err := us.PurgeExpiredSessions(ctx, now)
	if err != nil || n != 1 {
		t.Errorf("PurgeExpiredSessions() = %d, %v; want 1", n, err)
	}

	if err := us.DeleteUserSessions(ctx, "u1", "t1"); err != nil {
		t.Fatal(err)
	}
	if _, err := us.Session(ctx, "t3"); !errors.Is(err, auth.ErrSessionNotFound) {
		t.Errorf("Session(t3) error = %v, want ErrSessionNotFound", err)
	}
	if err := us.DeleteSession(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if _, err := us.Session(ctx, "t1"); !errors.Is(err, auth.ErrSessionNotFound) {
		t.Errorf("Session(t1) after delete error = %v", err)
	}
}
