// Package prefsync synchronizes a user's notification preferences with a
// remote preference service and renders them locally from a durable cache.
//
// The SDK is built around an explicit Session: identity lifecycle
// (Identify/Logout), an identity-gated deferred command queue, optimistic
// write-through mutations, and a pure merge engine that projects the cached
// schema and user overrides into an effective view. Reads are always served
// from the local cache; remote writes are fire-and-forget with a documented
// no-rollback policy.
package prefsync

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/and161185/prefsync/internal/cache"
	"github.com/and161185/prefsync/internal/errs"
	"github.com/and161185/prefsync/internal/merge"
	"github.com/and161185/prefsync/internal/metrics"
	"github.com/and161185/prefsync/internal/model"
	"github.com/and161185/prefsync/internal/remote"
	"github.com/and161185/prefsync/internal/session"
)

// Sentinel errors surfaced by the SDK; test with errors.Is.
var (
	ErrNotConfigured      = errs.ErrNotConfigured
	ErrInvalidEndpoint    = errs.ErrInvalidEndpoint
	ErrNoResponseBody     = errs.ErrNoResponseBody
	ErrUnparsableResponse = errs.ErrUnparsableResponse
	ErrRemoteRejected     = errs.ErrRemoteRejected
)

// RegisterMetrics attaches the SDK's prometheus collectors to r. Nothing is
// registered unless the embedder opts in.
func RegisterMetrics(r prometheus.Registerer) {
	metrics.Register(r)
}

// Re-exported core types.
type (
	Session          = session.Session
	WriteFailureHook = session.WriteFailureHook

	View                    = merge.View
	PreferenceSchema        = model.PreferenceSchema
	PreferenceDefinition    = model.PreferenceDefinition
	ScheduleParameter       = model.ScheduleParameter
	UserPreferenceState     = model.UserPreferenceState
	EffectivePreferenceItem = model.EffectivePreferenceItem
	EffectiveTopic          = model.EffectiveTopic
	Channel                 = model.Channel
	OSPermission            = model.OSPermission
	TopicType               = model.TopicType

	// Store is the local cache contract; bring your own for custom platforms.
	Store = cache.Store
	// Service is the remote boundary; bring your own transport if needed.
	Service = remote.Service
)

// Channel, permission and topic-type constants.
const (
	ChannelPush = model.ChannelPush
	ChannelSMS  = model.ChannelSMS

	PermissionAuthorized    = model.PermissionAuthorized
	PermissionDenied        = model.PermissionDenied
	PermissionNotDetermined = model.PermissionNotDetermined
	PermissionProvisional   = model.PermissionProvisional
	PermissionEphemeral     = model.PermissionEphemeral
	PermissionUnknown       = model.PermissionUnknown

	TopicPersistent = model.TopicPersistent
	TopicContextual = model.TopicContextual
)

// Config collects everything needed to open a session against the hosted
// service. BaseURL and APIKey are required.
type Config struct {
	BaseURL string
	APIKey  string

	// CacheDir holds the durable local cache; defaults to the per-user
	// config directory for "prefsync".
	CacheDir string
	// CacheSecret, when set, seals the cached blobs at rest.
	CacheSecret []byte

	// Timezone overrides the device timezone stamped into schedule writes.
	Timezone string
	// Timeout bounds each remote call; defaults to remote.DefaultTimeout.
	Timeout time.Duration
	// HTTPClient replaces the underlying transport (custom TLS, tests).
	HTTPClient *http.Client

	Logger         *zap.Logger
	OnWriteFailure WriteFailureHook
}

// Open builds the file-backed cache, the HTTP client and the session.
func Open(cfg Config) (*Session, error) {
	dir := cfg.CacheDir
	if dir == "" {
		dir = cache.DefaultDir("prefsync")
	}
	var store Store
	fs, err := cache.NewFileStore(dir)
	if err != nil {
		return nil, err
	}
	store = fs
	if len(cfg.CacheSecret) > 0 {
		store, err = cache.NewSealedStore(fs, cfg.CacheSecret)
		if err != nil {
			return nil, err
		}
	}

	var copts []remote.Option
	if cfg.Timeout > 0 {
		copts = append(copts, remote.WithTimeout(cfg.Timeout))
	}
	if cfg.HTTPClient != nil {
		copts = append(copts, remote.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.Logger != nil {
		copts = append(copts, remote.WithLogger(cfg.Logger))
	}
	svc, err := remote.NewHTTPClient(cfg.BaseURL, cfg.APIKey, copts...)
	if err != nil {
		return nil, err
	}

	return NewSession(store, svc, cfg)
}

// NewSession wires a session over a custom store and transport. Config is
// only consulted for Logger, Timezone and OnWriteFailure here.
func NewSession(store Store, svc Service, cfg Config) (*Session, error) {
	var opts []session.Option
	if cfg.Logger != nil {
		opts = append(opts, session.WithLogger(cfg.Logger))
	}
	if cfg.Timezone != "" {
		opts = append(opts, session.WithTimezone(cfg.Timezone))
	}
	if cfg.OnWriteFailure != nil {
		opts = append(opts, session.WithWriteFailureHook(cfg.OnWriteFailure))
	}
	return session.New(store, svc, opts...)
}

// NewMemStore returns an in-memory Store, useful in tests and previews.
func NewMemStore() Store {
	return cache.NewMemStore()
}
