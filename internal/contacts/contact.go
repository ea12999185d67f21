// Package contacts holds the contact record, its derived fields and the
// owner-scoped service the API and client build on.
package contacts

import (
	"errors"
	"strings"
	"time"

	"github.com/harrylevesque/contactbook/internal/phone"
)

// Unnamed is shown for a contact with no usable name.
const Unnamed = "Unnamed"

var (
	// ErrNotFound is returned when no contact has the requested ID.
	ErrNotFound = errors.New("contacts: not found")
	// ErrForbidden is returned when a contact belongs to another owner.
	ErrForbidden = errors.New("contacts: not owned by caller")
	// ErrNameRequired is returned when the first or last name is blank.
	ErrNameRequired = errors.New("contacts: first and last name required")
	// ErrInvalidPhone is returned when the number does not hold ten digits.
	ErrInvalidPhone = errors.New("contacts: phone number must have 10 digits")
	// ErrNoOwner is returned when an operation is attempted without an owner.
	ErrNoOwner = errors.New("contacts: owner required")
)

// Contact is a name/phone/photo record owned by one user.
type Contact struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	// Name is the legacy combined name, still written for older readers.
	Name      string    `json:"name,omitempty"`
	Number    string    `json:"number"`
	ImageURI  string    `json:"image_uri,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DisplayName resolves the name shown for c: first and last name, then the
// legacy combined name, then Unnamed.
func DisplayName(c Contact) string {
	first := strings.TrimSpace(c.FirstName)
	last := strings.TrimSpace(c.LastName)
	if combined := strings.TrimSpace(first + " " + last); combined != "" {
		return combined
	}
	if c.Name != "" {
		return c.Name
	}
	return Unnamed
}

// SplitFullName splits a combined name into its first token and the rest.
func SplitFullName(full string) (first, last string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// Draft is the form input for creating or editing a contact.
type Draft struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	// FullName is accepted from older clients that only send "name". It is
	// used when both FirstName and LastName are empty.
	FullName string `json:"name,omitempty"`
	Number   string `json:"number"`
	ImageURI string `json:"image_uri,omitempty"`
}

// Normalize validates d and returns it with trimmed names and a canonical
// phone number.
func (d Draft) Normalize() (Draft, error) {
	first := strings.TrimSpace(d.FirstName)
	last := strings.TrimSpace(d.LastName)
	if first == "" && last == "" && strings.TrimSpace(d.FullName) != "" {
		first, last = SplitFullName(d.FullName)
	}
	if first == "" || last == "" {
		return Draft{}, ErrNameRequired
	}
	if !phone.IsValid(d.Number) {
		return Draft{}, ErrInvalidPhone
	}
	return Draft{
		FirstName: first,
		LastName:  last,
		FullName:  first + " " + last,
		Number:    phone.Format(d.Number),
		ImageURI:  strings.TrimSpace(d.ImageURI),
	}, nil
}
