// Package remote is the boundary to the remote preference service. Service is
// the abstract contract the session depends on; HTTPClient is the JSON/HTTP
// implementation.
package remote

import (
	"context"

	"github.com/and161185/prefsync/internal/model"
)

// PreferenceUpdate is a partial write: only non-nil maps are sent. Timezone
// rides along on every schedule-touching write so the server can convert a
// local "HH:mm" into an absolute delivery time.
type PreferenceUpdate struct {
	Preferences map[string]bool        `json:"preferences,omitempty"`
	Schedules   map[string]bool        `json:"schedules,omitempty"`
	Times       map[string]string      `json:"times,omitempty"`
	Channels    map[model.Channel]bool `json:"channels,omitempty"`
	Timezone    string                 `json:"timezone,omitempty"`
}

// Service exposes the remote operations the session consumes. All calls are
// blocking; the caller decides whether to fire them asynchronously.
type Service interface {
	// FetchConfig returns the current preference schema for the app credential.
	FetchConfig(ctx context.Context) (*model.PreferenceSchema, error)
	// FetchUserPreferences returns the override document for userID.
	FetchUserPreferences(ctx context.Context, userID string) (*model.UserPreferenceState, error)
	// UpdateUserPreferences applies a partial preference/schedule/channel/time write.
	UpdateUserPreferences(ctx context.Context, userID string, upd PreferenceUpdate) error

	SubscribeTopic(ctx context.Context, userID, topicID string) error
	UnsubscribeTopic(ctx context.Context, userID, topicID string) error

	RegisterPushToken(ctx context.Context, userID, token string) error
	RegisterPhoneNumber(ctx context.Context, userID, number string) error

	LogAppOpen(ctx context.Context, userID string, meta map[string]string) error
	LogPushOpen(ctx context.Context, userID string, meta map[string]string) error

	SyncPermissionStatus(ctx context.Context, userID string, status model.OSPermission) error
	SetUserAttributes(ctx context.Context, userID string, attrs map[string]string) error
}
