package storage

import (
	"context"

	"github.com/releaserelay/release_layer/internal/app/domain/application"
	"github.com/releaserelay/release_layer/internal/app/domain/release"
)

// ApplicationStore persists application records.
type ApplicationStore interface {
	CreateApplication(ctx context.Context, app application.Application) (application.Application, error)
	UpdateApplication(ctx context.Context, app application.Application) (application.Application, error)
	GetApplication(ctx context.Context, id int64) (application.Application, error)
	GetApplicationByWebhook(ctx context.Context, secret string) (application.Application, error)
	GetApplicationByName(ctx context.Context, tenant, name string) (application.Application, error)
	ListApplications(ctx context.Context, tenant string) ([]application.Application, error)
	DeleteApplication(ctx context.Context, id int64) error
}

// ReleaseStore persists immutable release records per application.
type ReleaseStore interface {
	// AppendRelease adds a release. A release with the same normalized
	// version key fails with ErrDuplicateVersion unless overwrite is set,
	// in which case the existing record is replaced.
	AppendRelease(ctx context.Context, rel release.Release, overwrite bool) (release.Release, error)
	GetRelease(ctx context.Context, appID int64, version string) (release.Release, error)
	ListReleases(ctx context.Context, appID int64) ([]release.Release, error)
	DeleteRelease(ctx context.Context, appID int64, version string) error
	// IncrementDownloads bumps the download counter by one and returns the
	// new value. Call only after a fully delivered transfer.
	IncrementDownloads(ctx context.Context, appID int64, version string) (int64, error)
}
