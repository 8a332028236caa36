package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	app "github.com/releaserelay/release_layer/internal/app"
	domain "github.com/releaserelay/release_layer/internal/app/domain/application"
	"github.com/releaserelay/release_layer/internal/app/domain/release"
	"github.com/releaserelay/release_layer/internal/app/metrics"
	"github.com/releaserelay/release_layer/internal/app/services/ingest"
	"github.com/releaserelay/release_layer/internal/app/services/registry"
	"github.com/releaserelay/release_layer/internal/app/storage"
	"github.com/releaserelay/release_layer/pkg/logger"
)

// handler bundles HTTP endpoints for the release services.
type handler struct {
	app    *app.Application
	tokens map[string]struct{}
	audit  *auditLog
	log    *logger.Logger
}

// NewHandler returns the service mux: the public update-check and download
// protocol, the release webhook, and the token-protected management API.
func NewHandler(application *app.Application, tokens []string, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, tokens: make(map[string]struct{}), log: log}
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			h.tokens[t] = struct{}{}
		}
	}
	if len(h.tokens) == 0 {
		log.Warn("no API tokens configured; management API is open")
	}

	var sink auditSink
	if application.AuditLog != "" {
		fs, err := newFileAuditSink(application.AuditLog)
		if err != nil {
			log.WithError(err).Warn("audit log file unavailable, keeping entries in memory only")
		} else {
			sink = fs
		}
	}
	h.audit = newAuditLog(200, sink)

	mux := http.NewServeMux()
	mux.Handle("/check", application.Limiter.Handler(http.HandlerFunc(h.check)))
	mux.Handle("/download", application.Limiter.Handler(http.HandlerFunc(h.download)))
	mux.HandleFunc("/webhook/", h.audited(h.webhook))
	mux.HandleFunc("/applications", h.requireToken(h.audited(h.applications)))
	mux.HandleFunc("/applications/", h.requireToken(h.audited(h.applicationResources)))
	mux.HandleFunc("/audit", h.requireToken(h.auditEntries))
	mux.HandleFunc("/healthz", h.health)
	mux.Handle("/metrics", metrics.Handler())
	return metrics.InstrumentHandler(mux)
}

// audited records mutating requests in the audit log.
func (h *handler) audited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			next(w, r)
			return
		}
		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		h.audit.add(auditEntry{
			Time:       time.Now().UTC(),
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     rec.status,
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})
	}
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(h.tokens) > 0 {
			token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer"))
			if _, ok := h.tokens[token]; !ok {
				writeError(w, http.StatusUnauthorized, fmt.Errorf("missing or invalid token"))
				return
			}
		}
		next(w, r)
	}
}

// checkResponse is the wire shape of the update-check protocol. An unknown
// application answers with both fields null.
type checkResponse struct {
	NewVersionAvailable bool    `json:"newVersionAvailable"`
	LatestVersion       *string `json:"latestVersion"`
	Hash                *string `json:"hash"`
}

// queryAlias returns the first present query parameter of the given names.
func queryAlias(q url.Values, names ...string) string {
	for _, n := range names {
		if v := q.Get(n); v != "" {
			return v
		}
	}
	return ""
}

// resolveApplication finds the application a public request addresses. The id
// parameter carries the numeric application id; the app parameter (and a
// non-numeric id, for lenient clients) resolves by identifier or alias.
func (h *handler) resolveApplication(r *http.Request, q url.Values) (domain.Application, error) {
	if raw := q.Get("id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return h.app.Registry.Get(r.Context(), id)
		}
		return h.app.Registry.GetByName(r.Context(), q.Get("tenant"), raw)
	}
	return h.app.Registry.GetByName(r.Context(), q.Get("tenant"), q.Get("app"))
}

func (h *handler) check(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	current := q.Get("version")
	allowDev, _ := strconv.ParseBool(queryAlias(q, "dev", "devbuild"))

	application, err := h.resolveApplication(r, q)
	if err != nil {
		metrics.RecordUpdateCheck("unknown_app")
		writeJSON(w, http.StatusBadRequest, checkResponse{})
		return
	}

	candidate, err := h.app.Releases.Candidate(r.Context(), application.ID, allowDev)
	if err != nil {
		metrics.RecordUpdateCheck("no_release")
		writeJSON(w, http.StatusNotFound, checkResponse{})
		return
	}

	// a client on an unknown version is always behind; a known version is
	// compared by publish time so dev clients ahead of stable stay put
	newVersion := true
	if release.KeysEqual(candidate.Version, current) {
		newVersion = false
	} else if baseline, err := h.app.Releases.Get(r.Context(), application.ID, current); err == nil {
		newVersion = release.Newer(candidate, baseline)
	}

	if newVersion {
		metrics.RecordUpdateCheck("update_available")
	} else {
		metrics.RecordUpdateCheck("up_to_date")
	}
	writeJSON(w, http.StatusOK, checkResponse{
		NewVersionAvailable: newVersion,
		LatestVersion:       &candidate.Version,
		Hash:                &candidate.Checksum,
	})
}

func (h *handler) download(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.serveArtifact(w, r)
	case http.MethodPost:
		h.downloadLink(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) resolveDownload(w http.ResponseWriter, r *http.Request) (release.Release, bool) {
	q := r.URL.Query()
	application, err := h.resolveApplication(r, q)
	if err != nil {
		metrics.RecordDownload("unknown_app")
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown application"))
		return release.Release{}, false
	}

	version := q.Get("version")
	if version == "" {
		version = release.LatestKey
	}
	rel, err := h.app.Releases.Get(r.Context(), application.ID, version)
	if err != nil {
		metrics.RecordDownload("unknown_version")
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown version"))
		return release.Release{}, false
	}
	return rel, true
}

func (h *handler) serveArtifact(w http.ResponseWriter, r *http.Request) {
	rel, ok := h.resolveDownload(w, r)
	if !ok {
		return
	}

	f, err := os.Open(rel.File)
	if err != nil {
		metrics.RecordDownload("missing_file")
		h.log.WithError(err).
			WithField("app_id", rel.AppID).
			WithField("version", rel.Version).
			Error("release artifact missing from disk")
		writeError(w, http.StatusInternalServerError, fmt.Errorf("artifact unavailable"))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		metrics.RecordDownload("missing_file")
		writeError(w, http.StatusInternalServerError, fmt.Errorf("artifact unavailable"))
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepathBase(rel.File)))
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))

	// counted only after the full body went out
	if _, err := io.Copy(w, f); err != nil {
		metrics.RecordDownload("aborted")
		h.log.WithError(err).
			WithField("app_id", rel.AppID).
			WithField("version", rel.Version).
			Warn("download aborted mid-stream")
		return
	}

	if _, err := h.app.Releases.Downloaded(r.Context(), rel.AppID, rel.Version); err != nil {
		h.log.WithError(err).Warn("increment download counter")
	}
	metrics.RecordDownload("ok")
}

// downloadLink answers form posts with a minimal HTML page linking to the
// artifact, for clients that cannot follow a direct stream.
func (h *handler) downloadLink(w http.ResponseWriter, r *http.Request) {
	rel, ok := h.resolveDownload(w, r)
	if !ok {
		return
	}

	q := url.Values{}
	q.Set("id", strconv.FormatInt(rel.AppID, 10))
	q.Set("version", rel.Version)
	href := strings.TrimSuffix(h.app.HostName, "/") + "/download?" + q.Encode()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "<html><body><a href=%q>%s</a></body></html>", href, html.EscapeString(filepathBase(rel.File)))
}

// githubPayload covers the fields of a GitHub release event the ingestion
// pipeline needs. Everything else in the payload is ignored.
type githubPayload struct {
	Action  string `json:"action"`
	Release struct {
		TagName    string `json:"tag_name"`
		Name       string `json:"name"`
		Body       string `json:"body"`
		Prerelease bool   `json:"prerelease"`
		Assets     []struct {
			BrowserDownloadURL string `json:"browser_download_url"`
		} `json:"assets"`
	} `json:"release"`
}

func (h *handler) webhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/webhook"), "/"), "/")
	if len(parts) != 2 || parts[1] != "github" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	secret := parts[0]

	application, err := h.app.Registry.GetByWebhook(r.Context(), secret)
	if err != nil {
		// unknown secrets get a plain 400 so probing cannot tell a bad
		// secret from a malformed request
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var payload githubPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("malformed payload"))
		return
	}

	switch payload.Action {
	case "released", "prereleased":
	default:
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// a release event without assets is acknowledged but not ingested, so
	// the sender does not mark the delivery as failed
	if len(payload.Release.Assets) == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}

	tagParts := strings.Split(payload.Release.TagName, "/")
	version := tagParts[len(tagParts)-1]

	rel, err := h.app.Ingest.Ingest(r.Context(), application, ingest.Params{
		Version:    version,
		Title:      payload.Release.Name,
		Patchnotes: payload.Release.Body,
		DevBuild:   payload.Release.Prerelease || payload.Action == "prereleased",
		AssetURL:   payload.Release.Assets[0].BrowserDownloadURL,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateVersion) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

func (h *handler) applications(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			Tenant          string   `json:"tenant"`
			Identifier      string   `json:"identifier"`
			DisplayName     string   `json:"display_name"`
			Description     string   `json:"description"`
			Aliases         []string `json:"aliases"`
			Owner           string   `json:"owner"`
			AnnounceChannel string   `json:"announce_channel"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		created, err := h.app.Registry.Create(r.Context(), payload.Tenant, payload.Identifier, payload.DisplayName, payload.Description, payload.Aliases, payload.Owner, payload.AnnounceChannel)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, created)

	case http.MethodGet:
		apps, err := h.app.Registry.List(r.Context(), r.URL.Query().Get("tenant"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, apps)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) applicationResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/applications"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	appID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("application id must be numeric"))
		return
	}

	if len(parts) == 1 {
		h.applicationByID(w, r, appID)
		return
	}

	switch parts[1] {
	case "owners":
		h.applicationOwners(w, r, appID)
	case "releases":
		h.applicationReleases(w, r, appID, parts[2:])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) applicationByID(w http.ResponseWriter, r *http.Request, appID int64) {
	switch r.Method {
	case http.MethodGet:
		application, err := h.app.Registry.Get(r.Context(), appID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, application)

	case http.MethodPatch:
		var payload struct {
			Identifier      *string  `json:"identifier"`
			DisplayName     *string  `json:"display_name"`
			Description     *string  `json:"description"`
			Aliases         []string `json:"aliases"`
			AnnounceChannel *string  `json:"announce_channel"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		application, err := h.app.Registry.Get(r.Context(), appID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		if payload.Identifier != nil {
			application, err = h.app.Registry.Rename(r.Context(), appID, *payload.Identifier)
		}
		if err == nil && payload.DisplayName != nil {
			application, err = h.app.Registry.SetDisplayName(r.Context(), appID, *payload.DisplayName)
		}
		if err == nil && payload.Description != nil {
			application, err = h.app.Registry.SetDescription(r.Context(), appID, *payload.Description)
		}
		if err == nil && payload.Aliases != nil {
			application, err = h.app.Registry.SetAliases(r.Context(), appID, payload.Aliases)
		}
		if err == nil && payload.AnnounceChannel != nil {
			application, err = h.app.Registry.SetAnnounceChannel(r.Context(), appID, *payload.AnnounceChannel)
		}
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, application)

	case http.MethodDelete:
		if err := h.app.Registry.Remove(r.Context(), appID); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		if err := h.app.Ingest.RemoveApplicationArtifacts(appID); err != nil {
			h.log.WithError(err).WithField("app_id", appID).Warn("remove application artifacts")
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) applicationOwners(w http.ResponseWriter, r *http.Request, appID int64) {
	if r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		Add    []string `json:"add"`
		Remove []string `json:"remove"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	application, err := h.app.Registry.Get(r.Context(), appID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	for _, actor := range payload.Add {
		if application, err = h.app.Registry.AddOwner(r.Context(), appID, actor); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	}
	for _, actor := range payload.Remove {
		if application, err = h.app.Registry.RemoveOwner(r.Context(), appID, actor); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	}
	writeJSON(w, http.StatusOK, application)
}

func (h *handler) applicationReleases(w http.ResponseWriter, r *http.Request, appID int64, rest []string) {
	if len(rest) == 0 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		includeDev, _ := strconv.ParseBool(r.URL.Query().Get("dev"))
		list, err := h.app.Releases.List(r.Context(), appID, includeDev)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, list)
		return
	}

	version, err := url.PathUnescape(rest[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("malformed version"))
		return
	}
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rel, err := h.app.Releases.Get(r.Context(), appID, version)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if err := h.app.Releases.Delete(r.Context(), appID, rel.Version); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if err := h.app.Ingest.RemoveArtifact(rel.File); err != nil {
		h.log.WithError(err).WithField("app_id", appID).Warn("remove release artifact")
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrDuplicateIdentifier),
		errors.Is(err, storage.ErrDuplicateVersion),
		errors.Is(err, registry.ErrLastOwner):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func filepathBase(path string) string {
	if idx := strings.LastIndexAny(path, "/\\"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
