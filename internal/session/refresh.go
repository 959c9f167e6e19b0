package session

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/prefsync/internal/model"
)

// Refresh fetches the schema and the user override document and folds them
// into the cache. Concurrent callers collapse into a single flight. A failed
// fetch leaves the last-known cache in place: the UI degrades to stale data,
// never to blank state.
func (s *Session) Refresh(ctx context.Context) error {
	_, err, _ := s.sf.Do("refresh", func() (any, error) {
		return nil, s.refresh(ctx)
	})
	return err
}

func (s *Session) refresh(ctx context.Context) error {
	schema, err := s.svc.FetchConfig(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.schema = schema
	if perr := s.persistSchemaLocked(); perr != nil {
		s.log.Warn("schema cache write failed", zap.Error(perr))
	}
	s.mu.Unlock()

	fetched, err := s.svc.FetchUserPreferences(ctx, s.EffectiveUserID())
	if err != nil {
		return err
	}
	s.applyBaseline(fetched)
	return nil
}

// applyBaseline folds a freshly fetched override document into local state.
// The fetched document is a merge input, not the truth: any field carrying a
// dirty mark (optimistically written, not yet acknowledged by the server)
// keeps its local value. Without this, the re-fetch triggered by Identify
// could silently overwrite a value a just-drained queued command wrote.
func (s *Session) applyBaseline(fetched *model.UserPreferenceState) {
	fetched.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	next := fetched.Clone()
	local := s.state

	for key := range s.dirty {
		switch {
		case key == permKey:
			next.OSPermission = local.OSPermission
		case strings.HasPrefix(key, "pref/"):
			id := strings.TrimPrefix(key, "pref/")
			if v, ok := local.PreferenceEnabled[id]; ok {
				next.PreferenceEnabled[id] = v
			}
		case strings.HasPrefix(key, "sched/"):
			id := strings.TrimPrefix(key, "sched/")
			if v, ok := local.ScheduleEnabled[id]; ok {
				next.ScheduleEnabled[id] = v
			}
		case strings.HasPrefix(key, "time/"):
			id := strings.TrimPrefix(key, "time/")
			if v, ok := local.ScheduleTime[id]; ok {
				next.ScheduleTime[id] = v
			}
		case strings.HasPrefix(key, "topic/"):
			id := strings.TrimPrefix(key, "topic/")
			next.SetSubscribed(id, local.IsSubscribed(id))
		case strings.HasPrefix(key, "channel/"):
			ch := model.Channel(strings.TrimPrefix(key, "channel/"))
			if v, ok := local.ChannelEnabled[ch]; ok {
				next.ChannelEnabled[ch] = v
			}
		}
	}
	// Keep the locally resolved timezone if we ever stamped one.
	if local.Timezone != "" && next.Timezone == "" {
		next.Timezone = local.Timezone
	}

	s.state = next
	if err := s.persistStateLocked(); err != nil {
		s.log.Warn("user state cache write failed", zap.Error(err))
	}
}
