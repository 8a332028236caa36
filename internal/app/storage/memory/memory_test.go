package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/releaserelay/release_layer/internal/app/domain/application"
	"github.com/releaserelay/release_layer/internal/app/domain/release"
	"github.com/releaserelay/release_layer/internal/app/storage"
)

func seedApp(t *testing.T, s *Store) application.Application {
	t.Helper()
	app, err := s.CreateApplication(context.Background(), application.Application{
		Tenant:        "guild-1",
		Identifier:    "shepard",
		DisplayName:   "Shepard",
		Aliases:       []string{"shep"},
		Owners:        []string{"actor-1"},
		WebhookSecret: "secret-1",
	})
	require.NoError(t, err)
	return app
}

func TestApplicationLookups(t *testing.T) {
	s := New()
	app := seedApp(t, s)
	assert.Equal(t, int64(1), app.ID)

	byID, err := s.GetApplication(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, "shepard", byID.Identifier)

	byHook, err := s.GetApplicationByWebhook(context.Background(), "secret-1")
	require.NoError(t, err)
	assert.Equal(t, app.ID, byHook.ID)

	// identifier and alias matching is case-insensitive
	for _, name := range []string{"SHEPARD", "Shep"} {
		byName, err := s.GetApplicationByName(context.Background(), "guild-1", name)
		require.NoError(t, err, "lookup %q", name)
		assert.Equal(t, app.ID, byName.ID)
	}

	_, err = s.GetApplicationByName(context.Background(), "guild-2", "shepard")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// empty tenant matches across tenants, for the public endpoints
	byName, err := s.GetApplicationByName(context.Background(), "", "shepard")
	require.NoError(t, err)
	assert.Equal(t, app.ID, byName.ID)
}

func TestDuplicateIdentifierRejected(t *testing.T) {
	s := New()
	seedApp(t, s)

	_, err := s.CreateApplication(context.Background(), application.Application{
		Tenant:     "guild-2",
		Identifier: "Shepard",
		Owners:     []string{"actor-2"},
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateIdentifier)
}

func TestAppendReleaseDuplicateAndOverwrite(t *testing.T) {
	s := New()
	app := seedApp(t, s)

	first, err := s.AppendRelease(context.Background(), release.Release{
		AppID: app.ID, Version: "1.0", Checksum: "aa",
	}, false)
	require.NoError(t, err)

	_, err = s.AppendRelease(context.Background(), release.Release{AppID: app.ID, Version: "1.0"}, false)
	assert.ErrorIs(t, err, storage.ErrDuplicateVersion)

	replaced, err := s.AppendRelease(context.Background(), release.Release{
		AppID: app.ID, Version: "1.0", Checksum: "bb",
	}, true)
	require.NoError(t, err)
	assert.Greater(t, replaced.Seq, first.Seq)

	got, err := s.GetRelease(context.Background(), app.ID, "1.0")
	require.NoError(t, err)
	assert.Equal(t, "bb", got.Checksum)

	list, err := s.ListReleases(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestGetReleaseLatestAndNormalization(t *testing.T) {
	s := New()
	app := seedApp(t, s)

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, v := range []string{"alpha one", "beta two"} {
		_, err := s.AppendRelease(context.Background(), release.Release{
			AppID: app.ID, Version: v, Published: base.Add(time.Duration(i) * time.Hour),
		}, false)
		require.NoError(t, err)
	}

	latest, err := s.GetRelease(context.Background(), app.ID, "Latest")
	require.NoError(t, err)
	assert.Equal(t, "beta two", latest.Version)

	underscored, err := s.GetRelease(context.Background(), app.ID, "Alpha_One")
	require.NoError(t, err)
	assert.Equal(t, "alpha one", underscored.Version)
}

func TestIncrementDownloadsMonotonic(t *testing.T) {
	s := New()
	app := seedApp(t, s)
	_, err := s.AppendRelease(context.Background(), release.Release{AppID: app.ID, Version: "1.0"}, false)
	require.NoError(t, err)

	for want := int64(1); want <= 3; want++ {
		got, err := s.IncrementDownloads(context.Background(), app.ID, "1.0")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err = s.IncrementDownloads(context.Background(), app.ID, "9.9")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteApplicationDropsReleases(t *testing.T) {
	s := New()
	app := seedApp(t, s)
	_, err := s.AppendRelease(context.Background(), release.Release{AppID: app.ID, Version: "1.0"}, false)
	require.NoError(t, err)

	require.NoError(t, s.DeleteApplication(context.Background(), app.ID))

	_, err = s.GetRelease(context.Background(), app.ID, "1.0")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.AppendRelease(context.Background(), release.Release{AppID: app.ID, Version: "2.0"}, false)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
