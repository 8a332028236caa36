package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/releaserelay/release_layer/internal/app/storage"
	"github.com/releaserelay/release_layer/internal/app/storage/memory"
)

func TestCreateAssignsIdentityAndSecret(t *testing.T) {
	svc := New(memory.New(), nil)

	app, err := svc.Create(context.Background(), "guild-1", "my app", "My App", "does things", []string{"ma"}, "actor-1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if app.ID == 0 {
		t.Fatalf("expected assigned id")
	}
	if app.Identifier != "my_app" {
		t.Fatalf("expected spaces replaced in identifier, got %q", app.Identifier)
	}
	if len(app.WebhookSecret) != 64 {
		t.Fatalf("expected sha256 hex webhook secret, got %q", app.WebhookSecret)
	}
	if len(app.Owners) != 1 || app.Owners[0] != "actor-1" {
		t.Fatalf("expected creator as sole owner, got %v", app.Owners)
	}

	if _, err := svc.Create(context.Background(), "guild-2", "MY_APP", "Other", "", nil, "actor-2", ""); !errors.Is(err, storage.ErrDuplicateIdentifier) {
		t.Fatalf("expected duplicate identifier across tenants, got %v", err)
	}
}

func TestOwnerMutations(t *testing.T) {
	svc := New(memory.New(), nil)
	app, err := svc.Create(context.Background(), "guild-1", "app", "App", "", nil, "actor-1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := svc.AddOwner(context.Background(), app.ID, "actor-2")
	if err != nil {
		t.Fatalf("add owner: %v", err)
	}
	if len(updated.Owners) != 2 {
		t.Fatalf("expected 2 owners, got %v", updated.Owners)
	}

	// idempotent add
	updated, err = svc.AddOwner(context.Background(), app.ID, "actor-2")
	if err != nil || len(updated.Owners) != 2 {
		t.Fatalf("expected idempotent add, got %v err=%v", updated.Owners, err)
	}

	updated, err = svc.RemoveOwner(context.Background(), app.ID, "actor-1")
	if err != nil {
		t.Fatalf("remove owner: %v", err)
	}
	if len(updated.Owners) != 1 || updated.Owners[0] != "actor-2" {
		t.Fatalf("unexpected owners after removal: %v", updated.Owners)
	}

	if _, err := svc.RemoveOwner(context.Background(), app.ID, "actor-2"); !errors.Is(err, ErrLastOwner) {
		t.Fatalf("expected ErrLastOwner, got %v", err)
	}

	// removing a non-owner is a no-op
	if _, err := svc.RemoveOwner(context.Background(), app.ID, "stranger"); err != nil {
		t.Fatalf("remove non-owner: %v", err)
	}
}

func TestLookupByNameAndAlias(t *testing.T) {
	svc := New(memory.New(), nil)
	app, err := svc.Create(context.Background(), "guild-1", "butler", "Butler", "", []string{"b", "serve"}, "actor-1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, name := range []string{"butler", "BUTLER", "Serve"} {
		got, err := svc.GetByName(context.Background(), "guild-1", name)
		if err != nil {
			t.Fatalf("lookup %q: %v", name, err)
		}
		if got.ID != app.ID {
			t.Fatalf("lookup %q resolved wrong app", name)
		}
	}

	if _, err := svc.GetByName(context.Background(), "guild-1", "unknown"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMetadataMutations(t *testing.T) {
	svc := New(memory.New(), nil)
	app, err := svc.Create(context.Background(), "guild-1", "app", "App", "old", nil, "actor-1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.SetDescription(context.Background(), app.ID, "new description"); err != nil {
		t.Fatalf("set description: %v", err)
	}
	if _, err := svc.SetAliases(context.Background(), app.ID, []string{"a1"}); err != nil {
		t.Fatalf("set aliases: %v", err)
	}
	updated, err := svc.SetAnnounceChannel(context.Background(), app.ID, "channel-9")
	if err != nil {
		t.Fatalf("set channel: %v", err)
	}
	if updated.Description != "new description" || updated.AnnounceChannel != "channel-9" {
		t.Fatalf("mutations not applied: %#v", updated)
	}
	if updated.WebhookSecret != app.WebhookSecret {
		t.Fatalf("webhook secret must not change on update")
	}

	renamed, err := svc.Rename(context.Background(), app.ID, "renamed app")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.Identifier != "renamed_app" {
		t.Fatalf("unexpected identifier %q", renamed.Identifier)
	}
}
