package store

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/harrylevesque/contactbook/internal/contacts"
)

// ContactStore implements contacts.Repository.
type ContactStore struct {
	s *Store
}

var _ contacts.Repository = (*ContactStore)(nil)

const contactColumns = `id, owner_id, first_name, last_name, name, number, image_uri, created_at`

// Insert writes a new contact.
func (cs *ContactStore) Insert(ctx context.Context, c contacts.Contact) error {
	conn, err := cs.s.take(ctx)
	if err != nil {
		return err
	}
	defer cs.s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO contacts (`+contactColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			c.ID, c.OwnerID, c.FirstName, c.LastName, c.Name, c.Number,
			nullable(c.ImageURI), c.CreatedAt.UnixMilli(),
		}})
	if err != nil {
		return fmt.Errorf("store: insert contact %s: %w", c.ID, err)
	}
	return nil
}

// Get returns the contact with id regardless of owner.
func (cs *ContactStore) Get(ctx context.Context, id string) (contacts.Contact, error) {
	conn, err := cs.s.take(ctx)
	if err != nil {
		return contacts.Contact{}, err
	}
	defer cs.s.pool.Put(conn)

	var (
		found bool
		c     contacts.Contact
	)
	err = sqlitex.Execute(conn,
		`SELECT `+contactColumns+` FROM contacts WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				c = scanContact(stmt)
				return nil
			},
		})
	if err != nil {
		return contacts.Contact{}, fmt.Errorf("store: get contact %s: %w", id, err)
	}
	if !found {
		return contacts.Contact{}, contacts.ErrNotFound
	}
	return c, nil
}

// Update overwrites the editable fields of c. Owner and CreatedAt are kept.
func (cs *ContactStore) Update(ctx context.Context, c contacts.Contact) error {
	conn, err := cs.s.take(ctx)
	if err != nil {
		return err
	}
	defer cs.s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE contacts SET first_name = ?, last_name = ?, name = ?, number = ?, image_uri = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{
			c.FirstName, c.LastName, c.Name, c.Number, nullable(c.ImageURI), c.ID,
		}})
	if err != nil {
		return fmt.Errorf("store: update contact %s: %w", c.ID, err)
	}
	if conn.Changes() == 0 {
		return contacts.ErrNotFound
	}
	return nil
}

// Delete removes the contact with id. Deleting a missing contact is not an
// error.
func (cs *ContactStore) Delete(ctx context.Context, id string) error {
	conn, err := cs.s.take(ctx)
	if err != nil {
		return err
	}
	defer cs.s.pool.Put(conn)

	if err := sqlitex.Execute(conn, `DELETE FROM contacts WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{id}}); err != nil {
		return fmt.Errorf("store: delete contact %s: %w", id, err)
	}
	return nil
}

// ListByOwner returns the contacts of ownerID, newest first.
func (cs *ContactStore) ListByOwner(ctx context.Context, ownerID string) ([]contacts.Contact, error) {
	conn, err := cs.s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer cs.s.pool.Put(conn)

	list := []contacts.Contact{}
	err = sqlitex.Execute(conn,
		`SELECT `+contactColumns+` FROM contacts WHERE owner_id = ? ORDER BY created_at DESC, id`,
		&sqlitex.ExecOptions{
			Args: []any{ownerID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				list = append(list, scanContact(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: list contacts for %s: %w", ownerID, err)
	}
	return list, nil
}

func scanContact(stmt *sqlite.Stmt) contacts.Contact {
	c := contacts.Contact{
		ID:        stmt.ColumnText(0),
		OwnerID:   stmt.ColumnText(1),
		FirstName: stmt.ColumnText(2),
		LastName:  stmt.ColumnText(3),
		Name:      stmt.ColumnText(4),
		Number:    stmt.ColumnText(5),
		CreatedAt: time.UnixMilli(stmt.ColumnInt64(7)).UTC(),
	}
	if !stmt.ColumnIsNull(6) {
		c.ImageURI = stmt.ColumnText(6)
	}
	return c
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
