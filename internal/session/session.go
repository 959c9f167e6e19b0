// Package session wires identity, the deferred command queue, the local cache
// and the remote service into one constructible object. Exactly one Session
// per logical consumer; there is no package-level singleton.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/and161185/prefsync/internal/cache"
	"github.com/and161185/prefsync/internal/merge"
	"github.com/and161185/prefsync/internal/model"
	"github.com/and161185/prefsync/internal/queue"
	"github.com/and161185/prefsync/internal/remote"
)

// WriteFailureHook observes a failed fire-and-forget remote write. The
// optimistic local state is left standing (documented policy, not an
// accident); this hook is the attachment point for a future reconciliation
// layer.
type WriteFailureHook func(op string, err error)

// bearerSetter is implemented by transports that carry a per-user identity
// token (remote.HTTPClient does).
type bearerSetter interface {
	SetBearer(token string)
}

// Session owns the mutable SDK state. Every mutation path — enqueue, drain,
// optimistic write, cache write, baseline apply — passes through mu; network
// calls never run under it.
type Session struct {
	log      *zap.Logger
	store    cache.Store
	svc      remote.Service
	q        *queue.Deferred
	onFail   WriteFailureHook
	timezone string

	sf singleflight.Group

	mu        sync.Mutex
	installID string
	userID    string // empty while anonymous
	schema    *model.PreferenceSchema
	state     *model.UserPreferenceState
	// dirty maps a key to the generation of its newest unacknowledged
	// optimistic write. An ack clears the mark only when it carries the
	// matching generation, so a stale ack for an older write to the same key
	// cannot expose a newer pending value to the next fetched baseline.
	dirty map[string]uint64
}

type Option func(*Session)

func WithLogger(log *zap.Logger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithWriteFailureHook registers the reconciliation hook described above.
func WithWriteFailureHook(h WriteFailureHook) Option {
	return func(s *Session) { s.onFail = h }
}

// WithTimezone overrides the device timezone stamped into schedule writes.
// Pass an IANA zone name ("Europe/Berlin"); without it the default degrades
// to $TZ, or to empty when the process zone has no usable name.
func WithTimezone(tz string) Option {
	return func(s *Session) { s.timezone = tz }
}

// deviceTimezone resolves a zone name worth sending to the server.
// time.Local stringifies as the opaque "Local" unless TZ was set at startup,
// and "Local" tells a server nothing about converting "HH:mm" to absolute
// times, so it is never returned.
func deviceTimezone() string {
	if tz := time.Local.String(); tz != "" && tz != "Local" {
		return tz
	}
	return os.Getenv("TZ")
}

// New loads (or creates) the install id and the cached schema/state, then
// returns a ready session. An unreadable cached blob is logged and treated as
// absent; it never fails construction.
func New(store cache.Store, svc remote.Service, opts ...Option) (*Session, error) {
	s := &Session{
		log:      zap.NewNop(),
		store:    store,
		svc:      svc,
		q:        queue.New(),
		timezone: deviceTimezone(),
		dirty:    map[string]uint64{},
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.loadInstallID(); err != nil {
		return nil, err
	}
	s.loadCaches()
	return s, nil
}

// loadInstallID reads the persisted install id, generating it exactly once
// per install. It is never regenerated while cached state referencing it
// exists.
func (s *Session) loadInstallID() error {
	b, ok, err := s.store.Get(cache.KeyInstallID)
	if err != nil {
		return fmt.Errorf("install id: %w", err)
	}
	if ok && len(b) > 0 {
		s.installID = string(b)
		return nil
	}
	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("install id: %w", err)
	}
	s.installID = id.String()
	if err := s.store.Set(cache.KeyInstallID, []byte(s.installID)); err != nil {
		return fmt.Errorf("install id: %w", err)
	}
	return nil
}

func (s *Session) loadCaches() {
	if b, ok, err := s.store.Get(cache.KeySchema); err != nil {
		s.log.Warn("schema cache read failed", zap.Error(err))
	} else if ok {
		var schema model.PreferenceSchema
		if err := json.Unmarshal(b, &schema); err != nil {
			s.log.Warn("schema cache unparsable, ignoring", zap.Error(err))
		} else {
			s.schema = &schema
		}
	}

	if b, ok, err := s.store.Get(cache.KeyUserState); err != nil {
		s.log.Warn("user state cache read failed", zap.Error(err))
	} else if ok {
		var st model.UserPreferenceState
		if err := json.Unmarshal(b, &st); err != nil {
			s.log.Warn("user state cache unparsable, ignoring", zap.Error(err))
		} else {
			st.Normalize()
			s.state = &st
		}
	}
	if s.state == nil {
		s.state = model.NewUserPreferenceState()
	}
}

// persistStateLocked writes the in-memory state through to the cache.
// Callers hold mu.
func (s *Session) persistStateLocked() error {
	b, err := json.Marshal(s.state)
	if err != nil {
		return fmt.Errorf("encode user state: %w", err)
	}
	if err := s.store.Set(cache.KeyUserState, b); err != nil {
		return fmt.Errorf("persist user state: %w", err)
	}
	return nil
}

func (s *Session) persistSchemaLocked() error {
	b, err := json.Marshal(s.schema)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	if err := s.store.Set(cache.KeySchema, b); err != nil {
		return fmt.Errorf("persist schema: %w", err)
	}
	return nil
}

// InstallID returns the stable per-install identifier.
func (s *Session) InstallID() string {
	return s.installID
}

// EffectiveUserID is the identified user id when present, else the install id.
func (s *Session) EffectiveUserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveUserIDLocked()
}

func (s *Session) effectiveUserIDLocked() string {
	if s.userID != "" {
		return s.userID
	}
	return s.installID
}

// IsIdentified reports whether the session is bound to an application user id.
func (s *Session) IsIdentified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID != ""
}

// View projects the cached schema and user state into the effective
// presentation view. Synchronous and cache-only: safe to call from a render
// path while a background refresh proceeds.
func (s *Session) View() merge.View {
	s.mu.Lock()
	schema := s.schema
	state := s.state.Clone()
	s.mu.Unlock()
	return merge.Project(schema, state)
}

// UserState returns a copy of the current override document.
func (s *Session) UserState() *model.UserPreferenceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

func (s *Session) markDirtyLocked(key string) uint64 {
	s.dirty[key]++
	return s.dirty[key]
}

// clearDirty drops the mark only if gen is still the newest write to key.
func (s *Session) clearDirty(key string, gen uint64) {
	s.mu.Lock()
	if s.dirty[key] == gen {
		delete(s.dirty, key)
	}
	s.mu.Unlock()
}
