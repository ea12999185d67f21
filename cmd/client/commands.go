package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/harrylevesque/contactbook/internal/alert"
	"github.com/harrylevesque/contactbook/internal/client"
	"github.com/harrylevesque/contactbook/internal/contacts"
)

// SignupCmd creates an account.
type SignupCmd struct {
	Email        string `arg:"" help:"Account email."`
	PasswordFile string `help:"Read the password from a file." type:"existingfile" name:"password-file"`
}

func (c *SignupCmd) Run(a *app) error {
	if err := a.checkServer(context.Background()); err != nil {
		return err
	}
	pw, err := a.readPassword("Password: ", c.PasswordFile)
	if err != nil {
		return err
	}
	ar, err := a.client.SignUp(context.Background(), c.Email, pw)
	if err != nil {
		return a.fail("Failed to create account", err)
	}
	if err := a.saveSession(ar.User.Email, ar.Session.Token, ar.Session.ExpiresAt); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Signed in as %s\n", ar.User.Email)
	return nil
}

// SigninCmd signs in.
type SigninCmd struct {
	Email        string `arg:"" help:"Account email."`
	PasswordFile string `help:"Read the password from a file." type:"existingfile" name:"password-file"`
}

func (c *SigninCmd) Run(a *app) error {
	if err := a.checkServer(context.Background()); err != nil {
		return err
	}
	pw, err := a.readPassword("Password: ", c.PasswordFile)
	if err != nil {
		return err
	}
	ar, err := a.client.SignIn(context.Background(), c.Email, pw)
	if err != nil {
		return a.fail("Failed to sign in", err)
	}
	if err := a.saveSession(ar.User.Email, ar.Session.Token, ar.Session.ExpiresAt); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Signed in as %s\n", ar.User.Email)
	return nil
}

// SignoutCmd revokes the session.
type SignoutCmd struct{}

func (c *SignoutCmd) Run(a *app) error {
	if _, err := a.requireSession(); err != nil {
		return client.ClearSession(a.sessionPath)
	}
	if err := a.client.SignOut(context.Background()); err != nil {
		return a.fail("Failed to sign out", err)
	}
	if err := client.ClearSession(a.sessionPath); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Signed out")
	return nil
}

// PasswdCmd changes the password.
type PasswdCmd struct{}

func (c *PasswdCmd) Run(a *app) error {
	if _, err := a.requireSession(); err != nil {
		return err
	}
	current, err := a.readPassword("Current password: ", "")
	if err != nil {
		return err
	}
	next, err := a.readPassword("New password: ", "")
	if err != nil {
		return err
	}
	again, err := a.readPassword("Repeat new password: ", "")
	if err != nil {
		return err
	}
	if next != again {
		a.notify(alert.KindWarning, "Password mismatch", "The new passwords do not match.")
		return errReported
	}
	if err := a.client.ChangePassword(context.Background(), current, next); err != nil {
		return a.fail("Failed to change password", err)
	}
	a.notify(alert.KindSuccess, "Success", "Password changed successfully")
	return nil
}

// WhoamiCmd prints the signed in account.
type WhoamiCmd struct{}

func (c *WhoamiCmd) Run(a *app) error {
	if _, err := a.requireSession(); err != nil {
		return err
	}
	u, err := a.client.Me(context.Background())
	if err != nil {
		return a.fail("Failed to load account", err)
	}
	fmt.Fprintf(a.out, "Signed in as %s (%s)\n", u.Email, u.UID)
	return nil
}

// ListCmd prints the contacts.
type ListCmd struct{}

func (c *ListCmd) Run(a *app) error {
	if _, err := a.requireSession(); err != nil {
		return err
	}
	list, err := a.client.List(context.Background())
	if err != nil {
		return a.fail("Failed to load contacts", err)
	}
	a.printList(list)
	return nil
}

var headerStyle = lipgloss.NewStyle().Bold(true)

func (a *app) printList(list []contacts.Contact) {
	fmt.Fprintln(a.out, headerStyle.Render("Your Contacts"))
	fmt.Fprintf(a.out, "%d contacts\n", len(list))
	if len(list) == 0 {
		fmt.Fprintln(a.out, "No contacts yet")
		return
	}
	width := 0
	for _, c := range list {
		width = max(width, len(contacts.DisplayName(c)))
	}
	for _, c := range list {
		fmt.Fprintf(a.out, "  %-*s  %-14s  %s\n", width, contacts.DisplayName(c), c.Number, c.ID)
	}
}

// AddCmd creates a contact.
type AddCmd struct {
	First  string `help:"First name." required:""`
	Last   string `help:"Last name." required:""`
	Number string `help:"Ten-digit phone number." required:""`
	Image  string `help:"Picture: local file, data URI or URL."`
}

func (c *AddCmd) Run(a *app) error {
	if _, err := a.requireSession(); err != nil {
		return err
	}
	d := contacts.Draft{FirstName: c.First, LastName: c.Last, Number: c.Number, ImageURI: c.Image}
	if !a.validate(d) {
		return errReported
	}
	ct, err := a.client.Create(context.Background(), d)
	if err != nil {
		return a.fail("Failed to add contact", err)
	}
	fmt.Fprintf(a.out, "Added %s (%s)\n", contacts.DisplayName(ct), ct.ID)
	return nil
}

// validate runs the form checks locally so nothing is sent for a bad form.
func (a *app) validate(d contacts.Draft) bool {
	_, err := d.Normalize()
	switch {
	case errors.Is(err, contacts.ErrNameRequired):
		a.notify(alert.KindWarning, "Missing info", "Please enter a first and last name.")
	case errors.Is(err, contacts.ErrInvalidPhone):
		a.notify(alert.KindWarning, "Invalid number", "Please enter a 10-digit phone number.")
	default:
		return err == nil
	}
	return false
}

// ShowCmd prints one contact.
type ShowCmd struct {
	ID string `arg:"" help:"Contact id."`
}

func (c *ShowCmd) Run(a *app) error {
	if _, err := a.requireSession(); err != nil {
		return err
	}
	ct, err := a.client.Get(context.Background(), c.ID)
	if err != nil {
		return a.fail("Failed to load contact", err)
	}
	fmt.Fprintln(a.out, headerStyle.Render(contacts.DisplayName(ct)))
	fmt.Fprintf(a.out, "First name: %s\nLast name:  %s\nNumber:     %s\n", ct.FirstName, ct.LastName, ct.Number)
	if ct.ImageURI != "" {
		fmt.Fprintf(a.out, "Picture:    %s\n", ct.ImageURI)
	}
	fmt.Fprintf(a.out, "Added:      %s\n", ct.CreatedAt.Local().Format("2006-01-02 15:04"))
	return nil
}

// EditCmd changes the given fields of a contact.
type EditCmd struct {
	ID          string `arg:"" help:"Contact id."`
	First       string `help:"New first name."`
	Last        string `help:"New last name."`
	Number      string `help:"New phone number."`
	Image       string `help:"New picture: local file, data URI or URL."`
	RemoveImage bool   `help:"Remove the picture." name:"remove-image"`
}

func (c *EditCmd) Run(a *app) error {
	if _, err := a.requireSession(); err != nil {
		return err
	}
	ctx := context.Background()
	ct, err := a.client.Get(ctx, c.ID)
	if err != nil {
		return a.fail("Failed to load contact", err)
	}
	d := contacts.Draft{
		FirstName: or(c.First, ct.FirstName),
		LastName:  or(c.Last, ct.LastName),
		Number:    or(c.Number, ct.Number),
		ImageURI:  or(c.Image, ct.ImageURI),
	}
	// Records written before first and last names existed only carry "name".
	if ct.FirstName == "" && ct.LastName == "" && c.First == "" && c.Last == "" {
		d.FirstName, d.LastName = contacts.SplitFullName(ct.Name)
	}
	if c.RemoveImage {
		d.ImageURI = ""
	}
	if !a.validate(d) {
		return errReported
	}
	if _, err := a.client.Update(ctx, c.ID, d); err != nil {
		return a.fail("Failed to update contact", err)
	}
	a.notify(alert.KindSuccess, "Success", "Contact updated successfully")
	return nil
}

// RmCmd deletes a contact after confirmation.
type RmCmd struct {
	ID  string `arg:"" help:"Contact id."`
	Yes bool   `help:"Do not ask for confirmation." short:"y"`
}

func (c *RmCmd) Run(a *app) error {
	if _, err := a.requireSession(); err != nil {
		return err
	}
	ctx := context.Background()
	var result error
	deleted := false
	remove := func() {
		if err := a.client.Delete(ctx, c.ID); err != nil {
			result = a.fail("Failed to delete contact", err)
			return
		}
		deleted = true
	}
	if c.Yes {
		remove()
		return a.afterDelete(deleted, result)
	}

	a.relay.Confirm(alert.ConfirmOptions{
		Title:        "Delete Contact",
		Message:      "Are you sure you want to delete this contact?",
		ConfirmLabel: "Delete",
		OnConfirm:    remove,
	})
	if err := a.presenter.Prompt(a.relay); err != nil {
		return err
	}
	return a.afterDelete(deleted, result)
}

func (a *app) afterDelete(deleted bool, err error) error {
	if err != nil {
		return err
	}
	if deleted {
		fmt.Fprintln(a.out, "Deleted")
	}
	return nil
}

// WatchCmd prints the list on every change until interrupted.
type WatchCmd struct{}

func (c *WatchCmd) Run(a *app) error {
	if _, err := a.requireSession(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := a.checkServer(ctx); err != nil {
		return err
	}
	err := a.client.Watch(ctx, func(list []contacts.Contact) {
		a.printList(list)
		fmt.Fprintln(a.out)
	})
	if err != nil {
		return a.fail("Lost connection to the server", err)
	}
	return nil
}

func (a *app) saveSession(email, token string, expires time.Time) error {
	return client.SaveSession(a.sessionPath, client.Session{
		ServerURL: a.serverURL,
		Token:     token,
		Email:     email,
		ExpiresAt: expires,
	})
}

func or(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
