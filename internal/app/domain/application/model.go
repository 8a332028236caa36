// Package application defines the registered application model.
package application

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Application is a registered, versionable piece of software whose releases
// the service distributes. ID and WebhookSecret are assigned at creation and
// never change.
type Application struct {
	ID              int64
	Tenant          string
	Identifier      string
	DisplayName     string
	Description     string
	Aliases         []string
	Owners          []string
	WebhookSecret   string
	AnnounceChannel string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DeriveWebhookSecret computes the opaque token binding inbound webhook
// deliveries to one application: lowercase hex SHA-256 over the display name
// and the creation instant.
func DeriveWebhookSecret(displayName string, createdAt time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s%d", displayName, createdAt.UnixMilli())))
	return hex.EncodeToString(sum[:])
}

// IsOwner reports whether the actor is an owner of the application.
func (a Application) IsOwner(actor string) bool {
	for _, o := range a.Owners {
		if o == actor {
			return true
		}
	}
	return false
}

// MatchesName reports whether the given name matches the identifier or any
// alias, case-insensitively.
func (a Application) MatchesName(name string) bool {
	if strings.EqualFold(a.Identifier, name) {
		return true
	}
	for _, alias := range a.Aliases {
		if strings.EqualFold(alias, name) {
			return true
		}
	}
	return false
}
