package ingest

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/releaserelay/release_layer/internal/app/domain/application"
	"github.com/releaserelay/release_layer/internal/app/domain/release"
	"github.com/releaserelay/release_layer/internal/app/services/releases"
	"github.com/releaserelay/release_layer/internal/app/storage"
	"github.com/releaserelay/release_layer/pkg/logger"
)

// Announcer is notified after a release has been fully ingested. Failures to
// announce never fail the ingestion itself.
type Announcer interface {
	AnnounceRelease(ctx context.Context, app application.Application, rel release.Release)
}

// LogAnnouncer writes announcements to the service log. It is the default
// when no external announcer is attached.
type LogAnnouncer struct {
	log *logger.Logger
}

func NewLogAnnouncer(log *logger.Logger) *LogAnnouncer {
	if log == nil {
		log = logger.NewDefault("announcer")
	}
	return &LogAnnouncer{log: log}
}

func (a *LogAnnouncer) AnnounceRelease(_ context.Context, app application.Application, rel release.Release) {
	a.log.WithField("app", app.Identifier).
		WithField("version", rel.Version).
		WithField("channel", app.AnnounceChannel).
		Info("release published")
}

// Params describes one release to ingest.
type Params struct {
	Version    string
	Title      string
	Patchnotes string
	DevBuild   bool
	AssetURL   string
	Overwrite  bool
}

// Recorder receives ingestion outcome counts. It is satisfied by the metrics
// service.
type Recorder interface {
	ObserveIngestion(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveIngestion(string) {}

// Service runs the release ingestion pipeline: fetch the asset, checksum it,
// persist the artifact and append the release record. Ingestions for the same
// application are serialized.
type Service struct {
	releases  *releases.Service
	announcer Announcer
	recorder  Recorder
	client    *http.Client
	dataDir   string
	log       *logger.Logger

	maxFetchAttempts int

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func New(rel *releases.Service, announcer Announcer, recorder Recorder, dataDir string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ingest")
	}
	if announcer == nil {
		announcer = NewLogAnnouncer(log)
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		releases:         rel,
		announcer:        announcer,
		recorder:         recorder,
		client:           &http.Client{Timeout: 2 * time.Minute},
		dataDir:          dataDir,
		log:              log,
		maxFetchAttempts: 3,
		locks:            make(map[int64]*sync.Mutex),
	}
}

// SetHTTPClient replaces the asset fetch client. Intended for tests.
func (s *Service) SetHTTPClient(c *http.Client) { s.client = c }

func (s *Service) appLock(appID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[appID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[appID] = l
	}
	return l
}

// Ingest executes the full pipeline for one release. Any failure before the
// final append leaves no trace: no artifact is kept and no release record is
// written.
func (s *Service) Ingest(ctx context.Context, app application.Application, p Params) (release.Release, error) {
	if !release.ValidVersion(p.Version) {
		s.recorder.ObserveIngestion("invalid_version")
		return release.Release{}, fmt.Errorf("ingest: invalid version %q", p.Version)
	}
	if p.AssetURL == "" {
		return release.Release{}, fmt.Errorf("ingest: asset url is required")
	}

	lock := s.appLock(app.ID)
	lock.Lock()
	defer lock.Unlock()

	if !p.Overwrite {
		if _, err := s.releases.Get(ctx, app.ID, p.Version); err == nil {
			s.recorder.ObserveIngestion("duplicate")
			return release.Release{}, storage.ErrDuplicateVersion
		}
	}

	_, ext, err := parseAssetName(p.AssetURL)
	if err != nil {
		s.recorder.ObserveIngestion("bad_asset")
		return release.Release{}, err
	}

	tmpPath, checksum, err := s.fetchAsset(ctx, p.AssetURL)
	if err != nil {
		s.recorder.ObserveIngestion("fetch_failed")
		return release.Release{}, err
	}

	artifact, err := s.persistArtifact(tmpPath, app.ID, p.Version, app.Identifier, ext)
	if err != nil {
		os.Remove(tmpPath)
		s.recorder.ObserveIngestion("persist_failed")
		return release.Release{}, err
	}

	rel := release.Release{
		AppID:      app.ID,
		Version:    p.Version,
		Title:      p.Title,
		Patchnotes: p.Patchnotes,
		DevBuild:   p.DevBuild,
		Published:  time.Now().UTC(),
		File:       artifact,
		Checksum:   checksum,
	}

	stored, err := s.releases.Append(ctx, rel, p.Overwrite)
	if err != nil {
		os.Remove(artifact)
		s.recorder.ObserveIngestion("append_failed")
		return release.Release{}, err
	}

	s.recorder.ObserveIngestion("ok")
	s.log.WithField("app", app.Identifier).
		WithField("version", stored.Version).
		WithField("checksum", checksum).
		Info("release ingested")

	s.announcer.AnnounceRelease(ctx, app, stored)
	return stored, nil
}
