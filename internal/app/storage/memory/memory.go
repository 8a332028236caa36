// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/releaserelay/release_layer/internal/app/domain/application"
	"github.com/releaserelay/release_layer/internal/app/domain/release"
	"github.com/releaserelay/release_layer/internal/app/storage"
)

// Store holds applications and their releases. Release slices preserve
// insertion order, which backs the deterministic tie-break for equal
// publication times.
type Store struct {
	mu        sync.RWMutex
	nextAppID int64
	nextSeq   int64
	apps      map[int64]application.Application
	releases  map[int64][]release.Release
}

var _ storage.ApplicationStore = (*Store)(nil)
var _ storage.ReleaseStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextAppID: 1,
		nextSeq:   1,
		apps:      make(map[int64]application.Application),
		releases:  make(map[int64][]release.Release),
	}
}

// ApplicationStore implementation ---------------------------------------------

func (s *Store) CreateApplication(_ context.Context, app application.Application) (application.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.apps {
		if strings.EqualFold(existing.Identifier, app.Identifier) {
			return application.Application{}, storage.ErrDuplicateIdentifier
		}
	}

	if app.ID == 0 {
		app.ID = s.nextAppID
		s.nextAppID++
	} else if _, exists := s.apps[app.ID]; exists {
		return application.Application{}, storage.ErrDuplicateIdentifier
	} else if app.ID >= s.nextAppID {
		s.nextAppID = app.ID + 1
	}

	now := time.Now().UTC()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}
	app.UpdatedAt = now
	app.Aliases = cloneStrings(app.Aliases)
	app.Owners = cloneStrings(app.Owners)

	s.apps[app.ID] = app
	return cloneApplication(app), nil
}

func (s *Store) UpdateApplication(_ context.Context, app application.Application) (application.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.apps[app.ID]
	if !ok {
		return application.Application{}, storage.ErrNotFound
	}

	for id, existing := range s.apps {
		if id != app.ID && strings.EqualFold(existing.Identifier, app.Identifier) {
			return application.Application{}, storage.ErrDuplicateIdentifier
		}
	}

	app.CreatedAt = original.CreatedAt
	app.WebhookSecret = original.WebhookSecret
	app.UpdatedAt = time.Now().UTC()
	app.Aliases = cloneStrings(app.Aliases)
	app.Owners = cloneStrings(app.Owners)

	s.apps[app.ID] = app
	return cloneApplication(app), nil
}

func (s *Store) GetApplication(_ context.Context, id int64) (application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.apps[id]
	if !ok {
		return application.Application{}, storage.ErrNotFound
	}
	return cloneApplication(app), nil
}

func (s *Store) GetApplicationByWebhook(_ context.Context, secret string) (application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, app := range s.apps {
		if app.WebhookSecret == secret {
			return cloneApplication(app), nil
		}
	}
	return application.Application{}, storage.ErrNotFound
}

func (s *Store) GetApplicationByName(_ context.Context, tenant, name string) (application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, app := range s.apps {
		if tenant != "" && app.Tenant != tenant {
			continue
		}
		if app.MatchesName(name) {
			return cloneApplication(app), nil
		}
	}
	return application.Application{}, storage.ErrNotFound
}

func (s *Store) ListApplications(_ context.Context, tenant string) ([]application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]application.Application, 0)
	for _, app := range s.apps {
		if tenant == "" || app.Tenant == tenant {
			result = append(result, cloneApplication(app))
		}
	}
	return result, nil
}

func (s *Store) DeleteApplication(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.apps[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.apps, id)
	delete(s.releases, id)
	return nil
}

// ReleaseStore implementation -------------------------------------------------

func (s *Store) AppendRelease(_ context.Context, rel release.Release, overwrite bool) (release.Release, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.apps[rel.AppID]; !ok {
		return release.Release{}, storage.ErrNotFound
	}

	entries := s.releases[rel.AppID]
	existingIdx := -1
	for i := range entries {
		if release.KeysEqual(entries[i].Version, rel.Version) {
			existingIdx = i
			break
		}
	}
	if existingIdx >= 0 && !overwrite {
		return release.Release{}, storage.ErrDuplicateVersion
	}

	rel.Seq = s.nextSeq
	s.nextSeq++
	rel.CreatedAt = time.Now().UTC()
	if rel.Published.IsZero() {
		rel.Published = rel.CreatedAt
	}

	if existingIdx >= 0 {
		entries[existingIdx] = rel
		s.releases[rel.AppID] = entries
	} else {
		s.releases[rel.AppID] = append(entries, rel)
	}
	return rel, nil
}

func (s *Store) GetRelease(_ context.Context, appID int64, version string) (release.Release, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rel, ok := release.Resolve(s.releases[appID], version)
	if !ok {
		return release.Release{}, storage.ErrNotFound
	}
	return rel, nil
}

func (s *Store) ListReleases(_ context.Context, appID int64) ([]release.Release, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]release.Release(nil), s.releases[appID]...), nil
}

func (s *Store) DeleteRelease(_ context.Context, appID int64, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.releases[appID]
	for i := range entries {
		if release.KeysEqual(entries[i].Version, version) {
			s.releases[appID] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	return storage.ErrNotFound
}

func (s *Store) IncrementDownloads(_ context.Context, appID int64, version string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.releases[appID]
	for i := range entries {
		if release.KeysEqual(entries[i].Version, version) {
			entries[i].Downloads++
			s.releases[appID] = entries
			return entries[i].Downloads, nil
		}
	}
	return 0, storage.ErrNotFound
}

// Helpers ----------------------------------------------------------------------

func cloneStrings(src []string) []string {
	if len(src) == 0 {
		return nil
	}
	return append([]string(nil), src...)
}

func cloneApplication(app application.Application) application.Application {
	app.Aliases = cloneStrings(app.Aliases)
	app.Owners = cloneStrings(app.Owners)
	return app
}
