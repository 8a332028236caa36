package dialog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/releaserelay/release_layer/internal/app/services/ingest"
	"github.com/releaserelay/release_layer/internal/app/services/registry"
	"github.com/releaserelay/release_layer/internal/app/services/releases"
	"github.com/releaserelay/release_layer/internal/app/storage/memory"
)

func newTestFlows(t *testing.T) (*Flows, *recordingPrompter, *registry.Service, *releases.Service) {
	t.Helper()

	store := memory.New()
	reg := registry.New(store, nil)
	rel := releases.New(store, nil)
	ing := ingest.New(rel, nil, nil, t.TempDir(), nil)

	prompter := &recordingPrompter{}
	engine := NewEngine(prompter, time.Minute, time.Minute, nil)
	return NewFlows(engine, reg, rel, ing, nil), prompter, reg, rel
}

func drive(t *testing.T, f *Flows, key Key, inputs ...Input) {
	t.Helper()
	for _, in := range inputs {
		if err := f.Engine().Invoke(context.Background(), key, in); err != nil {
			t.Fatalf("invoke %q: %v", in.Content, err)
		}
	}
}

func TestCreateApplicationFlow(t *testing.T) {
	f, prompter, reg, _ := newTestFlows(t)
	key := Key{Tenant: "guild-1", Channel: "ops", Actor: "alice"}

	if err := f.StartCreateApplication(context.Background(), key); err != nil {
		t.Fatalf("start: %v", err)
	}
	drive(t, f, key,
		Input{Content: "butler"},
		Input{Content: "Update Butler"},
		Input{Content: "ub deploybot"},
		Input{Content: "Keeps everything fresh"},
		Input{Content: "releases"},
	)

	if f.Engine().Active(key) {
		t.Fatal("session still active after final step")
	}

	app, err := reg.GetByName(context.Background(), "guild-1", "butler")
	if err != nil {
		t.Fatalf("application was not created: %v", err)
	}
	if app.DisplayName != "Update Butler" {
		t.Fatalf("display name = %q", app.DisplayName)
	}
	if len(app.Aliases) != 2 {
		t.Fatalf("aliases = %v", app.Aliases)
	}
	if !app.IsOwner("alice") {
		t.Fatal("creator is not an owner")
	}
	if app.AnnounceChannel != "releases" {
		t.Fatalf("announce channel = %q", app.AnnounceChannel)
	}
	if !strings.Contains(prompter.last(t), app.WebhookSecret) {
		t.Fatal("final prompt does not include the webhook secret")
	}

	// alias resolves too
	if _, err := reg.GetByName(context.Background(), "guild-1", "deploybot"); err != nil {
		t.Fatalf("alias lookup failed: %v", err)
	}
}

func TestCreateApplicationFlowSkipsOptionalFields(t *testing.T) {
	f, _, reg, _ := newTestFlows(t)
	key := Key{Tenant: "guild-1", Actor: "alice"}

	if err := f.StartCreateApplication(context.Background(), key); err != nil {
		t.Fatalf("start: %v", err)
	}
	drive(t, f, key,
		Input{Content: "plain"},
		Input{Content: ""},
		Input{Content: "none"},
		Input{Content: "none"},
		Input{Content: "none"},
	)

	app, err := reg.GetByName(context.Background(), "guild-1", "plain")
	if err != nil {
		t.Fatalf("application was not created: %v", err)
	}
	if app.DisplayName != "plain" {
		t.Fatalf("display name should default to identifier, got %q", app.DisplayName)
	}
	if len(app.Aliases) != 0 || app.Description != "" || app.AnnounceChannel != "" {
		t.Fatalf("optional fields not empty: %+v", app)
	}
}

func TestDeployReleaseFlow(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("release payload"))
	}))
	defer origin.Close()

	f, prompter, reg, rel := newTestFlows(t)
	app, err := reg.Create(context.Background(), "guild-1", "butler", "Butler", "", nil, "alice", "")
	if err != nil {
		t.Fatalf("create app: %v", err)
	}

	key := Key{Tenant: "guild-1", Actor: "alice"}
	if err := f.StartDeployRelease(context.Background(), key); err != nil {
		t.Fatalf("start: %v", err)
	}
	drive(t, f, key,
		Input{Content: "butler"},
		Input{Content: "1.0.0"},
		Input{Content: "First stable"},
		Input{Content: "none"},
		Input{Content: "no"},
		Input{AttachmentURL: origin.URL + "/butler-1.0.0.jar"},
	)

	if f.Engine().Active(key) {
		t.Fatal("session still active after deploy")
	}
	got, err := rel.Latest(context.Background(), app.ID)
	if err != nil {
		t.Fatalf("release missing after deploy: %v", err)
	}
	if got.Version != "1.0.0" || got.Title != "First stable" || got.DevBuild {
		t.Fatalf("unexpected release: %+v", got)
	}
	if !strings.Contains(prompter.last(t), "1.0.0") {
		t.Fatalf("confirmation prompt = %q", prompter.last(t))
	}
}

func TestDeployReleaseFlowRejectsNonOwner(t *testing.T) {
	f, prompter, reg, _ := newTestFlows(t)
	if _, err := reg.Create(context.Background(), "guild-1", "butler", "Butler", "", nil, "alice", ""); err != nil {
		t.Fatalf("create app: %v", err)
	}

	key := Key{Tenant: "guild-1", Actor: "mallory"}
	if err := f.StartDeployRelease(context.Background(), key); err != nil {
		t.Fatalf("start: %v", err)
	}
	drive(t, f, key, Input{Content: "butler"})

	if !f.Engine().Active(key) {
		t.Fatal("session should reprompt, not end")
	}
	if !strings.Contains(prompter.last(t), "not an owner") {
		t.Fatalf("prompt = %q", prompter.last(t))
	}
}

func TestDeployReleaseFlowRepromptsOnBadVersion(t *testing.T) {
	f, prompter, reg, _ := newTestFlows(t)
	if _, err := reg.Create(context.Background(), "guild-1", "butler", "Butler", "", nil, "alice", ""); err != nil {
		t.Fatalf("create app: %v", err)
	}

	key := Key{Tenant: "guild-1", Actor: "alice"}
	if err := f.StartDeployRelease(context.Background(), key); err != nil {
		t.Fatalf("start: %v", err)
	}
	drive(t, f, key,
		Input{Content: "butler"},
		Input{Content: "1.0/illegal"},
	)

	if !f.Engine().Active(key) {
		t.Fatal("session ended instead of reprompting")
	}
	if !strings.Contains(prompter.last(t), "invalid characters") {
		t.Fatalf("prompt = %q", prompter.last(t))
	}
}

func TestDeleteReleaseFlow(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer origin.Close()

	f, _, reg, rel := newTestFlows(t)
	app, err := reg.Create(context.Background(), "guild-1", "butler", "Butler", "", nil, "alice", "")
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	ing := ingest.New(rel, nil, nil, t.TempDir(), nil)
	if _, err := ing.Ingest(context.Background(), app, ingest.Params{Version: "1.0.0", AssetURL: origin.URL + "/a.zip"}); err != nil {
		t.Fatalf("seed release: %v", err)
	}

	key := Key{Tenant: "guild-1", Actor: "alice"}
	if err := f.StartDeleteRelease(context.Background(), key); err != nil {
		t.Fatalf("start: %v", err)
	}
	drive(t, f, key,
		Input{Content: "butler"},
		Input{Content: "1.0.0"},
		Input{Content: "yes"},
	)

	if _, err := rel.Get(context.Background(), app.ID, "1.0.0"); err == nil {
		t.Fatal("release still present after delete flow")
	}
}

func TestDeleteApplicationFlowDeclined(t *testing.T) {
	f, _, reg, _ := newTestFlows(t)
	if _, err := reg.Create(context.Background(), "guild-1", "butler", "Butler", "", nil, "alice", ""); err != nil {
		t.Fatalf("create app: %v", err)
	}

	key := Key{Tenant: "guild-1", Actor: "alice"}
	if err := f.StartDeleteApplication(context.Background(), key); err != nil {
		t.Fatalf("start: %v", err)
	}
	drive(t, f, key,
		Input{Content: "butler"},
		Input{Content: "no"},
	)

	if _, err := reg.GetByName(context.Background(), "guild-1", "butler"); err != nil {
		t.Fatalf("application was deleted despite declining: %v", err)
	}
}
