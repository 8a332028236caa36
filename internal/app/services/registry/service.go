// Package registry manages application records: creation, lookup, owner and
// metadata mutations.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/releaserelay/release_layer/internal/app/domain/application"
	"github.com/releaserelay/release_layer/internal/app/storage"
	"github.com/releaserelay/release_layer/pkg/logger"
)

// ErrLastOwner is returned when a mutation would leave an application
// without any owner.
var ErrLastOwner = errors.New("cannot remove the last owner")

// Service manages the application registry.
type Service struct {
	store storage.ApplicationStore
	log   *logger.Logger
}

// New constructs a registry service.
func New(store storage.ApplicationStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("registry")
	}
	return &Service{store: store, log: log}
}

// Create registers a new application. The identifier must be unique across
// all tenants; the webhook secret is derived from the display name and the
// creation instant.
func (s *Service) Create(ctx context.Context, tenant, identifier, displayName, description string, aliases []string, owner, announceChannel string) (application.Application, error) {
	identifier = strings.TrimSpace(identifier)
	displayName = strings.TrimSpace(displayName)
	owner = strings.TrimSpace(owner)

	if tenant == "" {
		return application.Application{}, fmt.Errorf("tenant is required")
	}
	if identifier == "" {
		return application.Application{}, fmt.Errorf("identifier is required")
	}
	if displayName == "" {
		displayName = identifier
	}
	if owner == "" {
		return application.Application{}, fmt.Errorf("initial owner is required")
	}

	now := time.Now().UTC()
	app := application.Application{
		Tenant:          tenant,
		Identifier:      strings.ReplaceAll(identifier, " ", "_"),
		DisplayName:     displayName,
		Description:     description,
		Aliases:         aliases,
		Owners:          []string{owner},
		WebhookSecret:   application.DeriveWebhookSecret(displayName, now),
		AnnounceChannel: announceChannel,
		CreatedAt:       now,
	}

	app, err := s.store.CreateApplication(ctx, app)
	if err != nil {
		return application.Application{}, err
	}
	s.log.WithField("app_id", app.ID).
		WithField("identifier", app.Identifier).
		WithField("tenant", tenant).
		Info("application registered")
	return app, nil
}

// Get retrieves an application by id.
func (s *Service) Get(ctx context.Context, id int64) (application.Application, error) {
	return s.store.GetApplication(ctx, id)
}

// GetByWebhook retrieves an application by its webhook secret.
func (s *Service) GetByWebhook(ctx context.Context, secret string) (application.Application, error) {
	return s.store.GetApplicationByWebhook(ctx, secret)
}

// GetByName retrieves an application by identifier or alias within a tenant.
func (s *Service) GetByName(ctx context.Context, tenant, name string) (application.Application, error) {
	return s.store.GetApplicationByName(ctx, tenant, name)
}

// List returns all applications of a tenant, ordered by id.
func (s *Service) List(ctx context.Context, tenant string) ([]application.Application, error) {
	apps, err := s.store.ListApplications(ctx, tenant)
	if err != nil {
		return nil, err
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].ID < apps[j].ID })
	return apps, nil
}

// AddOwner grants application access to an actor. Adding an existing owner
// is a no-op.
func (s *Service) AddOwner(ctx context.Context, id int64, actor string) (application.Application, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return application.Application{}, fmt.Errorf("actor is required")
	}

	app, err := s.store.GetApplication(ctx, id)
	if err != nil {
		return application.Application{}, err
	}
	if app.IsOwner(actor) {
		return app, nil
	}
	app.Owners = append(app.Owners, actor)
	return s.store.UpdateApplication(ctx, app)
}

// RemoveOwner revokes application access from an actor. Removing an actor
// who is not an owner is a no-op; removing the last owner fails with
// ErrLastOwner.
func (s *Service) RemoveOwner(ctx context.Context, id int64, actor string) (application.Application, error) {
	app, err := s.store.GetApplication(ctx, id)
	if err != nil {
		return application.Application{}, err
	}
	if !app.IsOwner(actor) {
		return app, nil
	}
	if len(app.Owners) == 1 {
		return application.Application{}, ErrLastOwner
	}

	owners := make([]string, 0, len(app.Owners)-1)
	for _, o := range app.Owners {
		if o != actor {
			owners = append(owners, o)
		}
	}
	app.Owners = owners
	return s.store.UpdateApplication(ctx, app)
}

// Rename changes the identifier slug, re-checking uniqueness.
func (s *Service) Rename(ctx context.Context, id int64, identifier string) (application.Application, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return application.Application{}, fmt.Errorf("identifier is required")
	}
	app, err := s.store.GetApplication(ctx, id)
	if err != nil {
		return application.Application{}, err
	}
	app.Identifier = strings.ReplaceAll(identifier, " ", "_")
	return s.store.UpdateApplication(ctx, app)
}

// SetDisplayName updates the display name.
func (s *Service) SetDisplayName(ctx context.Context, id int64, name string) (application.Application, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return application.Application{}, fmt.Errorf("display name is required")
	}
	app, err := s.store.GetApplication(ctx, id)
	if err != nil {
		return application.Application{}, err
	}
	app.DisplayName = name
	return s.store.UpdateApplication(ctx, app)
}

// SetDescription updates the description.
func (s *Service) SetDescription(ctx context.Context, id int64, description string) (application.Application, error) {
	app, err := s.store.GetApplication(ctx, id)
	if err != nil {
		return application.Application{}, err
	}
	app.Description = description
	return s.store.UpdateApplication(ctx, app)
}

// SetAliases replaces the alias set.
func (s *Service) SetAliases(ctx context.Context, id int64, aliases []string) (application.Application, error) {
	app, err := s.store.GetApplication(ctx, id)
	if err != nil {
		return application.Application{}, err
	}
	app.Aliases = aliases
	return s.store.UpdateApplication(ctx, app)
}

// SetAnnounceChannel updates the channel releases are announced to. An empty
// channel disables announcements.
func (s *Service) SetAnnounceChannel(ctx context.Context, id int64, channel string) (application.Application, error) {
	app, err := s.store.GetApplication(ctx, id)
	if err != nil {
		return application.Application{}, err
	}
	app.AnnounceChannel = strings.TrimSpace(channel)
	return s.store.UpdateApplication(ctx, app)
}

// Remove deletes an application and, via the store, all its releases.
func (s *Service) Remove(ctx context.Context, id int64) error {
	if err := s.store.DeleteApplication(ctx, id); err != nil {
		return err
	}
	s.log.WithField("app_id", id).Info("application removed")
	return nil
}
