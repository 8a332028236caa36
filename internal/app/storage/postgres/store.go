// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/releaserelay/release_layer/internal/app/domain/application"
	"github.com/releaserelay/release_layer/internal/app/domain/release"
	"github.com/releaserelay/release_layer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.ApplicationStore = (*Store)(nil)
var _ storage.ReleaseStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS applications (
	id               BIGSERIAL PRIMARY KEY,
	tenant           TEXT NOT NULL,
	identifier       TEXT NOT NULL,
	display_name     TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	aliases          TEXT[] NOT NULL DEFAULT '{}',
	owners           TEXT[] NOT NULL,
	webhook_secret   TEXT NOT NULL UNIQUE,
	announce_channel TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS applications_identifier_key
	ON applications (LOWER(identifier));

CREATE TABLE IF NOT EXISTS releases (
	seq          BIGSERIAL PRIMARY KEY,
	app_id       BIGINT NOT NULL REFERENCES applications(id) ON DELETE CASCADE,
	version      TEXT NOT NULL,
	version_key  TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	patchnotes   TEXT NOT NULL DEFAULT '',
	dev_build    BOOLEAN NOT NULL DEFAULT FALSE,
	published    TIMESTAMPTZ NOT NULL,
	file         TEXT NOT NULL,
	checksum     TEXT NOT NULL,
	downloads    BIGINT NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL,
	UNIQUE (app_id, version_key)
);
`

// EnsureSchema creates the required tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// --- ApplicationStore -------------------------------------------------------

func (s *Store) CreateApplication(ctx context.Context, app application.Application) (application.Application, error) {
	now := time.Now().UTC()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}
	app.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO applications (tenant, identifier, display_name, description, aliases, owners, webhook_secret, announce_channel, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, app.Tenant, app.Identifier, app.DisplayName, app.Description,
		pq.Array(app.Aliases), pq.Array(app.Owners), app.WebhookSecret,
		app.AnnounceChannel, app.CreatedAt, app.UpdatedAt).Scan(&app.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return application.Application{}, storage.ErrDuplicateIdentifier
		}
		return application.Application{}, err
	}
	return app, nil
}

func (s *Store) UpdateApplication(ctx context.Context, app application.Application) (application.Application, error) {
	app.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE applications
		SET identifier = $2, display_name = $3, description = $4, aliases = $5,
		    owners = $6, announce_channel = $7, updated_at = $8
		WHERE id = $1
	`, app.ID, app.Identifier, app.DisplayName, app.Description,
		pq.Array(app.Aliases), pq.Array(app.Owners), app.AnnounceChannel, app.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return application.Application{}, storage.ErrDuplicateIdentifier
		}
		return application.Application{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return application.Application{}, storage.ErrNotFound
	}
	return s.GetApplication(ctx, app.ID)
}

const applicationColumns = `id, tenant, identifier, display_name, description, aliases, owners, webhook_secret, announce_channel, created_at, updated_at`

func (s *Store) GetApplication(ctx context.Context, id int64) (application.Application, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+applicationColumns+` FROM applications WHERE id = $1
	`, id)
	return scanApplication(row)
}

func (s *Store) GetApplicationByWebhook(ctx context.Context, secret string) (application.Application, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+applicationColumns+` FROM applications WHERE webhook_secret = $1
	`, secret)
	return scanApplication(row)
}

func (s *Store) GetApplicationByName(ctx context.Context, tenant, name string) (application.Application, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+applicationColumns+` FROM applications
		WHERE ($1 = '' OR tenant = $1) AND (LOWER(identifier) = LOWER($2) OR EXISTS (
			SELECT 1 FROM unnest(aliases) AS a WHERE LOWER(a) = LOWER($2)
		))
	`, tenant, name)
	return scanApplication(row)
}

func (s *Store) ListApplications(ctx context.Context, tenant string) ([]application.Application, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+applicationColumns+` FROM applications
		WHERE $1 = '' OR tenant = $1
		ORDER BY id
	`, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []application.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, app)
	}
	return result, rows.Err()
}

func (s *Store) DeleteApplication(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM applications WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- ReleaseStore -----------------------------------------------------------

func (s *Store) AppendRelease(ctx context.Context, rel release.Release, overwrite bool) (release.Release, error) {
	rel.CreatedAt = time.Now().UTC()
	if rel.Published.IsZero() {
		rel.Published = rel.CreatedAt
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM applications WHERE id = $1)
	`, rel.AppID).Scan(&exists); err != nil {
		return release.Release{}, err
	}
	if !exists {
		return release.Release{}, storage.ErrNotFound
	}

	query := `
		INSERT INTO releases (app_id, version, version_key, title, patchnotes, dev_build, published, file, checksum, downloads, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10)
	`
	if overwrite {
		query += `
		ON CONFLICT (app_id, version_key) DO UPDATE
		SET version = EXCLUDED.version, title = EXCLUDED.title,
		    patchnotes = EXCLUDED.patchnotes, dev_build = EXCLUDED.dev_build,
		    published = EXCLUDED.published, file = EXCLUDED.file,
		    checksum = EXCLUDED.checksum, created_at = EXCLUDED.created_at
		`
	}
	query += ` RETURNING seq, downloads`

	err := s.db.QueryRowContext(ctx, query,
		rel.AppID, rel.Version, release.NormalizeKey(rel.Version), rel.Title,
		rel.Patchnotes, rel.DevBuild, rel.Published, rel.File, rel.Checksum,
		rel.CreatedAt).Scan(&rel.Seq, &rel.Downloads)
	if err != nil {
		if isUniqueViolation(err) {
			return release.Release{}, storage.ErrDuplicateVersion
		}
		return release.Release{}, err
	}
	return rel, nil
}

const releaseColumns = `seq, app_id, version, title, patchnotes, dev_build, published, file, checksum, downloads, created_at`

func (s *Store) GetRelease(ctx context.Context, appID int64, version string) (release.Release, error) {
	if release.NormalizeKey(version) == release.LatestKey {
		row := s.db.QueryRowContext(ctx, `
			SELECT `+releaseColumns+` FROM releases
			WHERE app_id = $1
			ORDER BY published DESC, seq DESC
			LIMIT 1
		`, appID)
		return scanRelease(row)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+releaseColumns+` FROM releases
		WHERE app_id = $1 AND version_key = $2
	`, appID, release.NormalizeKey(version))
	return scanRelease(row)
}

func (s *Store) ListReleases(ctx context.Context, appID int64) ([]release.Release, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+releaseColumns+` FROM releases WHERE app_id = $1 ORDER BY seq
	`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []release.Release
	for rows.Next() {
		rel, err := scanRelease(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rel)
	}
	return result, rows.Err()
}

func (s *Store) DeleteRelease(ctx context.Context, appID int64, version string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM releases WHERE app_id = $1 AND version_key = $2
	`, appID, release.NormalizeKey(version))
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) IncrementDownloads(ctx context.Context, appID int64, version string) (int64, error) {
	var downloads int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE releases SET downloads = downloads + 1
		WHERE app_id = $1 AND version_key = $2
		RETURNING downloads
	`, appID, release.NormalizeKey(version)).Scan(&downloads)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	return downloads, err
}

// --- helpers ----------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApplication(row rowScanner) (application.Application, error) {
	var (
		app     application.Application
		aliases pq.StringArray
		owners  pq.StringArray
	)
	err := row.Scan(&app.ID, &app.Tenant, &app.Identifier, &app.DisplayName,
		&app.Description, &aliases, &owners, &app.WebhookSecret,
		&app.AnnounceChannel, &app.CreatedAt, &app.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return application.Application{}, storage.ErrNotFound
	}
	if err != nil {
		return application.Application{}, err
	}
	app.Aliases = []string(aliases)
	app.Owners = []string(owners)
	return app, nil
}

func scanRelease(row rowScanner) (release.Release, error) {
	var rel release.Release
	err := row.Scan(&rel.Seq, &rel.AppID, &rel.Version, &rel.Title,
		&rel.Patchnotes, &rel.DevBuild, &rel.Published, &rel.File,
		&rel.Checksum, &rel.Downloads, &rel.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return release.Release{}, storage.ErrNotFound
	}
	return rel, err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
