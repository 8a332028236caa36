// Package releases exposes the release collection of an application: append,
// lookup, version resolution and download accounting.
package releases

import (
	"context"
	"errors"

	"github.com/releaserelay/release_layer/internal/app/domain/release"
	"github.com/releaserelay/release_layer/internal/app/storage"
	"github.com/releaserelay/release_layer/pkg/logger"
)

// Service provides query and mutation operations over stored releases.
type Service struct {
	store storage.ReleaseStore
	log   *logger.Logger
}

// New constructs a release service.
func New(store storage.ReleaseStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("releases")
	}
	return &Service{store: store, log: log}
}

// Append stores a new release. A duplicate version fails with
// storage.ErrDuplicateVersion unless overwrite is set.
func (s *Service) Append(ctx context.Context, rel release.Release, overwrite bool) (release.Release, error) {
	rel, err := s.store.AppendRelease(ctx, rel, overwrite)
	if err != nil {
		return release.Release{}, err
	}
	s.log.WithField("app_id", rel.AppID).
		WithField("version", rel.Version).
		WithField("dev_build", rel.DevBuild).
		Info("release appended")
	return rel, nil
}

// Get resolves a release by key. The reserved key "latest" returns the most
// recently published release including dev builds; other keys are matched
// exactly after underscore and case normalization.
func (s *Service) Get(ctx context.Context, appID int64, key string) (release.Release, error) {
	return s.store.GetRelease(ctx, appID, key)
}

// Latest returns the most recently published release, dev builds included.
func (s *Service) Latest(ctx context.Context, appID int64) (release.Release, error) {
	all, err := s.store.ListReleases(ctx, appID)
	if err != nil {
		return release.Release{}, err
	}
	rel, ok := release.Latest(all)
	if !ok {
		return release.Release{}, storage.ErrNotFound
	}
	return rel, nil
}

// LatestStable returns the most recently published non-dev release.
func (s *Service) LatestStable(ctx context.Context, appID int64) (release.Release, error) {
	all, err := s.store.ListReleases(ctx, appID)
	if err != nil {
		return release.Release{}, err
	}
	rel, ok := release.LatestStable(all)
	if !ok {
		return release.Release{}, storage.ErrNotFound
	}
	return rel, nil
}

// Candidate returns the release an update check compares against: the latest
// build when dev builds are allowed, otherwise the latest stable release,
// falling back to the latest build when no stable release exists.
func (s *Service) Candidate(ctx context.Context, appID int64, allowDev bool) (release.Release, error) {
	if allowDev {
		return s.Latest(ctx, appID)
	}
	rel, err := s.LatestStable(ctx, appID)
	if errors.Is(err, storage.ErrNotFound) {
		return s.Latest(ctx, appID)
	}
	return rel, err
}

// List returns releases sorted by published time descending, dev builds
// filtered unless includeDev is set.
func (s *Service) List(ctx context.Context, appID int64, includeDev bool) ([]release.Release, error) {
	all, err := s.store.ListReleases(ctx, appID)
	if err != nil {
		return nil, err
	}
	return release.Sorted(all, includeDev), nil
}

// Delete removes a release record. The stored artifact is left for the
// caller to clean up.
func (s *Service) Delete(ctx context.Context, appID int64, version string) error {
	if err := s.store.DeleteRelease(ctx, appID, version); err != nil {
		return err
	}
	s.log.WithField("app_id", appID).WithField("version", version).Info("release deleted")
	return nil
}

// Downloaded records one completed download and returns the new counter
// value.
func (s *Service) Downloaded(ctx context.Context, appID int64, version string) (int64, error) {
	return s.store.IncrementDownloads(ctx, appID, version)
}
