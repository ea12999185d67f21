package contacts

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository stores contacts. Get and Delete are not owner-scoped; the
// service enforces ownership before mutating.
type Repository interface {
	Insert(ctx context.Context, c Contact) error
	Get(ctx context.Context, id string) (Contact, error)
	Update(ctx context.Context, c Contact) error
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string) ([]Contact, error)
}

// ImageUploader turns an image reference into a public URL.
type ImageUploader interface {
	UploadContactImage(ctx context.Context, ref, ownerID string) (string, error)
}

// ImageRemover deletes a picture previously returned by an ImageUploader.
type ImageRemover interface {
	RemoveContactImage(ctx context.Context, url, ownerID string) error
}

// Service implements contact CRUD and the realtime list for one backend.
type Service struct {
	repo     Repository
	uploader ImageUploader
	remover  ImageRemover
	hub      *Hub
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithUploader sets the image uploader. Without one, image references are
// stored as given.
func WithUploader(u ImageUploader) Option {
	return func(s *Service) { s.uploader = u }
}

// WithImageRemover sets what deletes pictures a contact no longer uses.
// Without one, replaced and deleted pictures stay in storage.
func WithImageRemover(r ImageRemover) Option {
	return func(s *Service) { s.remover = r }
}

// WithHub shares a change hub between services.
func WithHub(h *Hub) Option {
	return func(s *Service) { s.hub = h }
}

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides contact ID generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service backed by repo.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		hub:    NewHub(),
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates d and stores a new contact for ownerID.
func (s *Service) Create(ctx context.Context, ownerID string, d Draft) (Contact, error) {
	if ownerID == "" {
		return Contact{}, ErrNoOwner
	}
	d, err := d.Normalize()
	if err != nil {
		return Contact{}, err
	}
	image, err := s.upload(ctx, d.ImageURI, ownerID)
	if err != nil {
		return Contact{}, err
	}
	c := Contact{
		ID:        s.newID(),
		OwnerID:   ownerID,
		FirstName: d.FirstName,
		LastName:  d.LastName,
		Name:      d.FullName,
		Number:    d.Number,
		ImageURI:  image,
		// Storage keeps milliseconds.
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	if err := s.repo.Insert(ctx, c); err != nil {
		if image != d.ImageURI {
			s.discardUpload(ctx, ownerID, image)
		}
		return Contact{}, fmt.Errorf("contacts: create: %w", err)
	}
	s.logger.Info("contact created", "owner", ownerID, "id", c.ID)
	s.hub.Publish(ownerID)
	return c, nil
}

// Get returns the contact with id if ownerID owns it.
func (s *Service) Get(ctx context.Context, ownerID, id string) (Contact, error) {
	if ownerID == "" {
		return Contact{}, ErrNoOwner
	}
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return Contact{}, err
	}
	if c.OwnerID != ownerID {
		return Contact{}, ErrForbidden
	}
	return c, nil
}

// Update replaces the editable fields of the contact with id.
func (s *Service) Update(ctx context.Context, ownerID, id string, d Draft) (Contact, error) {
	c, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return Contact{}, err
	}
	d, err = d.Normalize()
	if err != nil {
		return Contact{}, err
	}
	image, err := s.upload(ctx, d.ImageURI, ownerID)
	if err != nil {
		return Contact{}, err
	}
	oldImage := c.ImageURI
	c.FirstName = d.FirstName
	c.LastName = d.LastName
	c.Name = d.FullName
	c.Number = d.Number
	c.ImageURI = image
	if err := s.repo.Update(ctx, c); err != nil {
		if image != d.ImageURI {
			s.discardUpload(ctx, ownerID, image)
		}
		return Contact{}, fmt.Errorf("contacts: update %s: %w", id, err)
	}
	s.logger.Info("contact updated", "owner", ownerID, "id", id)
	if oldImage != image {
		s.removeImage(ctx, ownerID, oldImage, id)
	}
	s.hub.Publish(ownerID)
	return c, nil
}

// Delete removes the contact with id outright.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	c, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("contacts: delete %s: %w", id, err)
	}
	s.logger.Info("contact deleted", "owner", ownerID, "id", id)
	s.removeImage(ctx, ownerID, c.ImageURI, id)
	s.hub.Publish(ownerID)
	return nil
}

// List returns every contact of ownerID sorted by display name.
func (s *Service) List(ctx context.Context, ownerID string) ([]Contact, error) {
	if ownerID == "" {
		return nil, ErrNoOwner
	}
	list, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("contacts: list: %w", err)
	}
	SortByDisplayName(list)
	return list, nil
}

// Watch delivers the full sorted list of ownerID now and after every
// change. The channel is closed when ctx is done.
func (s *Service) Watch(ctx context.Context, ownerID string) (<-chan []Contact, error) {
	if ownerID == "" {
		return nil, ErrNoOwner
	}
	sub, cancel := s.hub.subscribe(ownerID)
	first, err := s.List(ctx, ownerID)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan []Contact, 1)
	out <- first
	go func() {
		defer close(out)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub:
			}
			list, err := s.List(ctx, ownerID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("watch reload failed", "owner", ownerID, "error", err)
				continue
			}
			select {
			case out <- list:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Service) upload(ctx context.Context, ref, ownerID string) (string, error) {
	if ref == "" || s.uploader == nil {
		return ref, nil
	}
	url, err := s.uploader.UploadContactImage(ctx, ref, ownerID)
	if err != nil {
		return "", fmt.Errorf("contacts: upload image: %w", err)
	}
	return url, nil
}

// removeImage deletes url unless another contact of ownerID still shows
// it. except names the contact that just dropped it. Failures are logged
// only; the write they follow has already succeeded.
func (s *Service) removeImage(ctx context.Context, ownerID, url, except string) {
	if url == "" || s.remover == nil {
		return
	}
	list, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		s.logger.Warn("image cleanup skipped", "owner", ownerID, "error", err)
		return
	}
	for _, c := range list {
		if c.ID != except && c.ImageURI == url {
			return
		}
	}
	s.discardUpload(ctx, ownerID, url)
}

// discardUpload deletes a picture no record refers to.
func (s *Service) discardUpload(ctx context.Context, ownerID, url string) {
	if url == "" || s.remover == nil {
		return
	}
	if err := s.remover.RemoveContactImage(ctx, url, ownerID); err != nil {
		s.logger.Warn("image cleanup failed", "owner", ownerID, "url", url, "error", err)
	}
}

// SortByDisplayName orders list by case-insensitive display name, with ID
// as the tie breaker.
func SortByDisplayName(list []Contact) {
	slices.SortStableFunc(list, func(a, b Contact) int {
		if c := strings.Compare(strings.ToLower(DisplayName(a)), strings.ToLower(DisplayName(b))); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
