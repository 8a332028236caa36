package releases

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/releaserelay/release_layer/internal/app/domain/application"
	"github.com/releaserelay/release_layer/internal/app/domain/release"
	"github.com/releaserelay/release_layer/internal/app/storage"
	"github.com/releaserelay/release_layer/internal/app/storage/memory"
)

func seed(t *testing.T) (*memory.Store, *Service, application.Application) {
	t.Helper()
	store := memory.New()
	app, err := store.CreateApplication(context.Background(), application.Application{
		Tenant: "guild-1", Identifier: "app", Owners: []string{"actor-1"}, WebhookSecret: "s",
	})
	if err != nil {
		t.Fatalf("create application: %v", err)
	}
	return store, New(store, nil), app
}

func TestCandidateFallsBackToDevWhenNoStableExists(t *testing.T) {
	_, svc, app := seed(t)
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.Append(context.Background(), release.Release{
		AppID: app.ID, Version: "0.1-dev", DevBuild: true, Published: base,
	}, false)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := svc.Candidate(context.Background(), app.ID, false)
	if err != nil {
		t.Fatalf("candidate: %v", err)
	}
	if got.Version != "0.1-dev" {
		t.Fatalf("expected dev fallback, got %q", got.Version)
	}

	_, err = svc.Append(context.Background(), release.Release{
		AppID: app.ID, Version: "1.0", Published: base.Add(time.Hour),
	}, false)
	if err != nil {
		t.Fatalf("append stable: %v", err)
	}
	_, err = svc.Append(context.Background(), release.Release{
		AppID: app.ID, Version: "1.1-dev", DevBuild: true, Published: base.Add(2 * time.Hour),
	}, false)
	if err != nil {
		t.Fatalf("append dev: %v", err)
	}

	stable, err := svc.Candidate(context.Background(), app.ID, false)
	if err != nil || stable.Version != "1.0" {
		t.Fatalf("expected stable candidate 1.0, got %q err=%v", stable.Version, err)
	}
	dev, err := svc.Candidate(context.Background(), app.ID, true)
	if err != nil || dev.Version != "1.1-dev" {
		t.Fatalf("expected dev candidate 1.1-dev, got %q err=%v", dev.Version, err)
	}
}

func TestCandidateEmptyApplication(t *testing.T) {
	_, svc, app := seed(t)
	if _, err := svc.Candidate(context.Background(), app.ID, true); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetLatestMatchesListHead(t *testing.T) {
	_, svc, app := seed(t)
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	for i, v := range []string{"1.0", "1.1", "2.0-dev"} {
		dev := v == "2.0-dev"
		_, err := svc.Append(context.Background(), release.Release{
			AppID: app.ID, Version: v, DevBuild: dev, Published: base.Add(time.Duration(i) * time.Hour),
		}, false)
		if err != nil {
			t.Fatalf("append %s: %v", v, err)
		}
	}

	latest, err := svc.Get(context.Background(), app.ID, "latest")
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	list, err := svc.List(context.Background(), app.ID, true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].Version != latest.Version {
		t.Fatalf("latest %q != list head %q", latest.Version, list[0].Version)
	}

	stableList, err := svc.List(context.Background(), app.ID, false)
	if err != nil {
		t.Fatalf("list stable: %v", err)
	}
	for _, r := range stableList {
		if r.DevBuild {
			t.Fatalf("dev build leaked into stable list: %q", r.Version)
		}
	}
}

func TestDuplicateVersionRejected(t *testing.T) {
	_, svc, app := seed(t)
	_, err := svc.Append(context.Background(), release.Release{AppID: app.ID, Version: "1.0"}, false)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	_, err = svc.Append(context.Background(), release.Release{AppID: app.ID, Version: "1.0"}, false)
	if !errors.Is(err, storage.ErrDuplicateVersion) {
		t.Fatalf("expected duplicate version error, got %v", err)
	}
}

func TestDownloadedCountsSequentially(t *testing.T) {
	_, svc, app := seed(t)
	if _, err := svc.Append(context.Background(), release.Release{AppID: app.ID, Version: "1.0"}, false); err != nil {
		t.Fatalf("append: %v", err)
	}

	for want := int64(1); want <= 4; want++ {
		got, err := svc.Downloaded(context.Background(), app.ID, "1.0")
		if err != nil {
			t.Fatalf("downloaded: %v", err)
		}
		if got != want {
			t.Fatalf("expected counter %d, got %d", want, got)
		}
	}
}
