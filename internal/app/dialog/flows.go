package dialog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/releaserelay/release_layer/internal/app/domain/application"
	"github.com/releaserelay/release_layer/internal/app/domain/release"
	"github.com/releaserelay/release_layer/internal/app/services/ingest"
	"github.com/releaserelay/release_layer/internal/app/services/registry"
	"github.com/releaserelay/release_layer/internal/app/services/releases"
	"github.com/releaserelay/release_layer/internal/app/storage"
	"github.com/releaserelay/release_layer/pkg/logger"
)

// skipKeyword leaves an optional answer empty.
const skipKeyword = "none"

// Flows wires the interactive dialogs onto the application services. Every
// flow runs on the shared engine, so tenant, channel and actor come from the
// session key.
type Flows struct {
	engine   *Engine
	registry *registry.Service
	releases *releases.Service
	ingest   *ingest.Service
	log      *logger.Logger
}

func NewFlows(engine *Engine, reg *registry.Service, rel *releases.Service, ing *ingest.Service, log *logger.Logger) *Flows {
	if log == nil {
		log = logger.NewDefault("dialog-flows")
	}
	return &Flows{engine: engine, registry: reg, releases: rel, ingest: ing, log: log}
}

// Engine exposes the underlying session engine so transports can route
// follow-up input.
func (f *Flows) Engine() *Engine { return f.engine }

// StartCreateApplication begins the application registration dialog.
func (f *Flows) StartCreateApplication(ctx context.Context, key Key) error {
	return f.engine.Start(ctx, key, f.createIdentifierStep(), "What should the application be called? (identifier)")
}

func (f *Flows) createIdentifierStep() StepFunc {
	return func(ctx context.Context, s *Session, in Input) (StepFunc, error) {
		identifier := strings.TrimSpace(in.Content)
		if identifier == "" {
			s.Prompt(ctx, "The identifier cannot be empty. What should the application be called?")
			return f.createIdentifierStep(), nil
		}
		s.Values["identifier"] = identifier
		s.Prompt(ctx, "What is the display name?")
		return f.createDisplayNameStep(), nil
	}
}

func (f *Flows) createDisplayNameStep() StepFunc {
	return func(ctx context.Context, s *Session, in Input) (StepFunc, error) {
		name := strings.TrimSpace(in.Content)
		if name == "" {
			name = s.String("identifier")
		}
		s.Values["display_name"] = name
		s.Prompt(ctx, fmt.Sprintf("Any aliases? Space separated, or %q.", skipKeyword))
		return f.createAliasesStep(), nil
	}
}

func (f *Flows) createAliasesStep() StepFunc {
	return func(ctx context.Context, s *Session, in Input) (StepFunc, error) {
		answer := strings.TrimSpace(in.Content)
		if !strings.EqualFold(answer, skipKeyword) && answer != "" {
			s.Values["aliases"] = strings.Fields(answer)
		}
		s.Prompt(ctx, fmt.Sprintf("Short description, or %q.", skipKeyword))
		return f.createDescriptionStep(), nil
	}
}

func (f *Flows) createDescriptionStep() StepFunc {
	return func(ctx context.Context, s *Session, in Input) (StepFunc, error) {
		answer := strings.TrimSpace(in.Content)
		if !strings.EqualFold(answer, skipKeyword) {
			s.Values["description"] = answer
		}
		s.Prompt(ctx, fmt.Sprintf("Which channel should release announcements go to? Channel name, or %q.", skipKeyword))
		return f.createChannelStep(), nil
	}
}

func (f *Flows) createChannelStep() StepFunc {
	return func(ctx context.Context, s *Session, in Input) (StepFunc, error) {
		answer := strings.TrimSpace(in.Content)
		if !strings.EqualFold(answer, skipKeyword) {
			s.Values["channel"] = answer
		}

		aliases, _ := s.Values["aliases"].([]string)
		app, err := f.registry.Create(ctx,
			s.Key.Tenant,
			s.String("identifier"),
			s.String("display_name"),
			s.String("description"),
			aliases,
			s.Key.Actor,
			s.String("channel"),
		)
		if err != nil {
			if errors.Is(err, storage.ErrDuplicateIdentifier) {
				s.Prompt(ctx, "That identifier is already taken. Pick another one.")
				s.Prompt(ctx, "What should the application be called? (identifier)")
				return f.createIdentifierStep(), nil
			}
			s.Prompt(ctx, "Could not create the application: "+err.Error())
			return nil, err
		}

		s.Prompt(ctx, fmt.Sprintf("Application %q registered. Webhook secret: %s", app.Identifier, app.WebhookSecret))
		return nil, nil
	}
}

// StartDeployRelease begins the manual release deployment dialog.
func (f *Flows) StartDeployRelease(ctx context.Context, key Key) error {
	return f.engine.Start(ctx, key, f.deployAppStep(), "Which application is this release for?")
}

// resolveOwnedApp looks up an application by name and verifies the actor may
// manage it.
func (f *Flows) resolveOwnedApp(ctx context.Context, s *Session, name string) (application.Application, bool) {
	app, err := f.registry.GetByName(ctx, s.Key.Tenant, strings.TrimSpace(name))
	if err != nil {
		s.Prompt(ctx, fmt.Sprintf("No application named %q. Try again.", strings.TrimSpace(name)))
		return application.Application{}, false
	}
	if !app.IsOwner(s.Key.Actor) {
		s.Prompt(ctx, "You are not an owner of that application. Name another one.")
		return application.Application{}, false
	}
	return app, true
}

func (f *Flows) deployAppStep() StepFunc {
	return func(ctx context.Context, s *Session, in Input) (StepFunc, error) {
		app, ok := f.resolveOwnedApp(ctx, s, in.Content)
		if !ok {
			return f.deployAppStep(), nil
		}
		s.Values["app"] = app
		s.Prompt(ctx, "Which version is this?")
		return f.deployVersionStep(), nil
	}
}

func (f *Flows) deployVersionStep() StepFunc {
	return func(ctx context.Context, s *Session, in Input) (StepFunc, error) {
		version := strings.TrimSpace(in.Content)
		if !release.ValidVersion(version) {
			s.Prompt(ctx, "That version contains invalid characters. Use letters, digits, dots, underscores, dashes and spaces.")
			return f.deployVersionStep(), nil
		}
		s.Values["version"] = version
		s.Prompt(ctx, "Give the release a title.")
		return f.deployTitleStep(), nil
	}
}

func (f *Flows) deployTitleStep() StepFunc {
	return func(ctx context.Context, s *Session, in Input) (StepFunc, error) {
		s.Values["title"] = strings.TrimSpace(in.Content)
		s.Prompt(ctx, fmt.Sprintf("Patchnotes? Full text, or %q.", skipKeyword))
		return f.deployPatchnotesStep(), nil
	}
}

func (f *Flows) deployPatchnotesStep() StepFunc {
	return func(ctx context.Context, s *Session, in Input) (StepFunc, error) {
		answer := strings.TrimSpace(in.Content)
		if !strings.EqualFold(answer, skipKeyword) {
			s.Values["patchnotes"] = answer
		}
		s.Prompt(ctx, "Is this a dev build? (yes/no)")
		return f.deployDevBuildStep(), nil
	}
}

func (f *Flows) deployDevBuildStep() StepFunc {
	return func(ctx context.Context, s *Session, in Input) (StepFunc, error) {
		switch strings.ToLower(strings.TrimSpace(in.Content)) {
		case "yes", "y":
			s.Values["dev"] = true
		case "no", "n":
			s.Values["dev"] = false
		default:
			s.Prompt(ctx, "Please answer yes or no. Is this a dev build?")
			return f.deployDevBuildStep(), nil
		}
		s.Prompt(ctx, "Attach the release file.")
		return f.deployAssetStep(), nil
	}
}

func (f *Flows) deployAssetStep() StepFunc {
	return func(ctx context.Context, s *Session, in Input) (StepFunc, error) {
		if in.AttachmentURL == "" {
			s.Prompt(ctx, "I need a file attachment to publish the release. Attach the release file.")
			return f.deployAssetStep(), nil
		}

		app, _ := s.Values["app"].(application.Application)
		dev, _ := s.Values["dev"].(bool)

		rel, err := f.ingest.Ingest(ctx, app, ingest.Params{
			Version:    s.String("version"),
			Title:      s.String("title"),
			Patchnotes: s.String("patchnotes"),
			DevBuild:   dev,
			AssetURL:   in.AttachmentURL,
		})
		if err != nil {
			if errors.Is(err, storage.ErrDuplicateVersion) {
				s.Prompt(ctx, "That version already exists. Start over with a new version, or delete the old release first.")
				return nil, nil
			}
			s.Prompt(ctx, "Publishing failed: "+err.Error())
			return nil, err
		}

		s.Prompt(ctx, fmt.Sprintf("Version %s of %s is live.", rel.Version, app.DisplayName))
		return nil, nil
	}
}

// StartDeleteRelease begins the release removal dialog.
func (f *Flows) StartDeleteRelease(ctx context.Context, key Key) error {
	return f.engine.Start(ctx, key, f.deleteReleaseAppStep(), "Which application do you want to delete a release from?")
}

func (f *Flows) deleteReleaseAppStep() StepFunc {
	return func(ctx context.Context, s *Session, in Input) (StepFunc, error) {
		app, ok := f.resolveOwnedApp(ctx, s, in.Content)
		if !ok {
			return f.deleteReleaseAppStep(), nil
		}
		s.Values["app"] = app
		s.Prompt(ctx, "Which version should be deleted?")
		return f.deleteReleaseVersionStep(), nil
	}
}

func (f *Flows) deleteReleaseVersionStep() StepFunc {
	return func(ctx context.Context, s *Session, in Input) (StepFunc, error) {
		app, _ := s.Values["app"].(application.Application)
		version := strings.TrimSpace(in.Content)

		rel, err := f.releases.Get(ctx, app.ID, version)
		if err != nil {
			s.Prompt(ctx, fmt.Sprintf("No release %q for %s. Which version should be deleted?", version, app.DisplayName))
			return f.deleteReleaseVersionStep(), nil
		}
		s.Values["version"] = rel.Version
		s.Prompt(ctx, fmt.Sprintf("Really delete %s %s? (yes/no)", app.DisplayName, rel.Version))
		return f.deleteReleaseConfirmStep(), nil
	}
}

func (f *Flows) deleteReleaseConfirmStep() StepFunc {
	return func(ctx context.Context, s *Session, in Input) (StepFunc, error) {
		if !confirmed(in.Content) {
			s.Prompt(ctx, "Nothing was deleted.")
			return nil, nil
		}
		app, _ := s.Values["app"].(application.Application)
		rel, err := f.releases.Get(ctx, app.ID, s.String("version"))
		if err != nil {
			s.Prompt(ctx, "Deleting the release failed: "+err.Error())
			return nil, err
		}
		if err := f.releases.Delete(ctx, app.ID, rel.Version); err != nil {
			s.Prompt(ctx, "Deleting the release failed: "+err.Error())
			return nil, err
		}
		if err := f.ingest.RemoveArtifact(rel.File); err != nil {
			f.log.WithError(err).Warn("remove release artifact")
		}
		s.Prompt(ctx, fmt.Sprintf("Release %s of %s was deleted.", s.String("version"), app.DisplayName))
		return nil, nil
	}
}

// StartDeleteApplication begins the application removal dialog.
func (f *Flows) StartDeleteApplication(ctx context.Context, key Key) error {
	return f.engine.Start(ctx, key, f.deleteAppStep(), "Which application do you want to delete?")
}

func (f *Flows) deleteAppStep() StepFunc {
	return func(ctx context.Context, s *Session, in Input) (StepFunc, error) {
		app, ok := f.resolveOwnedApp(ctx, s, in.Content)
		if !ok {
			return f.deleteAppStep(), nil
		}
		s.Values["app"] = app
		s.Prompt(ctx, fmt.Sprintf("Really delete %q and all of its releases? (yes/no)", app.DisplayName))
		return f.deleteAppConfirmStep(), nil
	}
}

func (f *Flows) deleteAppConfirmStep() StepFunc {
	return func(ctx context.Context, s *Session, in Input) (StepFunc, error) {
		if !confirmed(in.Content) {
			s.Prompt(ctx, "Nothing was deleted.")
			return nil, nil
		}
		app, _ := s.Values["app"].(application.Application)
		if err := f.registry.Remove(ctx, app.ID); err != nil {
			s.Prompt(ctx, "Deleting the application failed: "+err.Error())
			return nil, err
		}
		if err := f.ingest.RemoveApplicationArtifacts(app.ID); err != nil {
			f.log.WithError(err).Warn("remove application artifacts")
		}
		s.Prompt(ctx, fmt.Sprintf("Application %q and its releases were deleted.", app.DisplayName))
		return nil, nil
	}
}

func confirmed(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "yes", "y":
		return true
	default:
		return false
	}
}
