package session

import (
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/and161185/prefsync/internal/metrics"
	"github.com/and161185/prefsync/internal/model"
	"github.com/and161185/prefsync/internal/queue"
	"github.com/and161185/prefsync/internal/remote"
)

// opTimeout bounds each fire-and-forget remote call. Single timeout, no
// retry, no backoff.
const opTimeout = remote.DefaultTimeout

var hhmmRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// Dirty-key namespace for the baseline merge.
func prefKey(id string) string           { return "pref/" + id }
func schedKey(id string) string          { return "sched/" + id }
func timeKey(id string) string           { return "time/" + id }
func topicKey(id string) string          { return "topic/" + id }
func channelKey(ch model.Channel) string { return "channel/" + string(ch) }

const permKey = "perm"

// enqueueOrRun gates an identity-dependent command. While anonymous the
// command is buffered; once identified it runs immediately. The re-check
// after enqueue closes the race with a concurrent Identify: a command that
// slipped in after the final drain is drained here instead of getting stuck.
func (s *Session) enqueueOrRun(cmd queue.Command) {
	if s.IsIdentified() {
		go cmd()
		return
	}
	s.q.Enqueue(cmd)
	metrics.DeferredQueueDepth.Set(float64(s.q.Len()))
	if s.IsIdentified() {
		s.drainLoop()
	}
}

// remoteWrite wraps a fire-and-forget remote call. On success the mutation's
// dirty mark clears, but only while gen still names the newest write to that
// key — a late ack for a superseded write must not unmark a pending one. On
// failure the optimistic local state stands and the failure is reported
// exactly once.
func (s *Session) remoteWrite(op, dirtyKey string, gen uint64, call func(ctx context.Context, userID string) error) queue.Command {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		// Resolve the user id at execution time: a queued command must use
		// the identity that became available, not the one at enqueue time.
		userID := s.EffectiveUserID()
		if err := call(ctx, userID); err != nil {
			metrics.WriteFailuresTotal.Inc()
			s.log.Warn("remote write failed, optimistic local state kept",
				zap.String("op", op), zap.Error(err))
			if s.onFail != nil {
				s.onFail(op, err)
			}
			return
		}
		if dirtyKey != "" {
			s.clearDirty(dirtyKey, gen)
		}
	}
}

// mutate applies fn to the in-memory state, marks dirtyKey, and persists the
// state synchronously, all before any network traffic. It returns the dirty
// generation the matching remote write must present to clear the mark.
func (s *Session) mutate(op, dirtyKey string, fn func(st *model.UserPreferenceState)) (uint64, error) {
	s.mu.Lock()
	fn(s.state)
	var gen uint64
	if dirtyKey != "" {
		gen = s.markDirtyLocked(dirtyKey)
	}
	err := s.persistStateLocked()
	s.mu.Unlock()
	metrics.OptimisticWritesTotal.WithLabelValues(op).Inc()
	return gen, err
}

// TogglePreference sets a per-item override for a generic preference.
func (s *Session) TogglePreference(id string, enabled bool) error {
	gen, err := s.mutate("toggle_preference", prefKey(id), func(st *model.UserPreferenceState) {
		st.PreferenceEnabled[id] = enabled
	})
	if err != nil {
		return err
	}
	s.enqueueOrRun(s.remoteWrite("toggle_preference", prefKey(id), gen, func(ctx context.Context, userID string) error {
		return s.svc.UpdateUserPreferences(ctx, userID, remote.PreferenceUpdate{
			Preferences: map[string]bool{id: enabled},
		})
	}))
	return nil
}

// ToggleSchedule enables or disables a scheduled notification. The resolved
// device timezone is stamped into the outgoing write: the server needs it to
// turn a local "HH:mm" into an absolute delivery time.
func (s *Session) ToggleSchedule(id string, enabled bool) error {
	tz := s.timezone
	gen, err := s.mutate("toggle_schedule", schedKey(id), func(st *model.UserPreferenceState) {
		st.ScheduleEnabled[id] = enabled
		st.Timezone = tz
	})
	if err != nil {
		return err
	}
	s.enqueueOrRun(s.remoteWrite("toggle_schedule", schedKey(id), gen, func(ctx context.Context, userID string) error {
		return s.svc.UpdateUserPreferences(ctx, userID, remote.PreferenceUpdate{
			Schedules: map[string]bool{id: enabled},
			Timezone:  tz,
		})
	}))
	return nil
}

// SetScheduleTime sets the delivery time ("HH:mm", 24h) for a schedule item.
func (s *Session) SetScheduleTime(id, hhmm string) error {
	if !hhmmRe.MatchString(hhmm) {
		return fmt.Errorf("invalid time %q, want HH:mm", hhmm)
	}
	tz := s.timezone
	gen, err := s.mutate("set_schedule_time", timeKey(id), func(st *model.UserPreferenceState) {
		st.ScheduleTime[id] = hhmm
		st.Timezone = tz
	})
	if err != nil {
		return err
	}
	s.enqueueOrRun(s.remoteWrite("set_schedule_time", timeKey(id), gen, func(ctx context.Context, userID string) error {
		return s.svc.UpdateUserPreferences(ctx, userID, remote.PreferenceUpdate{
			Times:    map[string]string{id: hhmm},
			Timezone: tz,
		})
	}))
	return nil
}

// ToggleTopic subscribes or unsubscribes a topic. Unsubscribing a contextual
// topic hides it from the effective view without deleting anything else.
func (s *Session) ToggleTopic(id string, subscribed bool) error {
	gen, err := s.mutate("toggle_topic", topicKey(id), func(st *model.UserPreferenceState) {
		st.SetSubscribed(id, subscribed)
	})
	if err != nil {
		return err
	}
	s.enqueueOrRun(s.remoteWrite("toggle_topic", topicKey(id), gen, func(ctx context.Context, userID string) error {
		if subscribed {
			return s.svc.SubscribeTopic(ctx, userID, id)
		}
		return s.svc.UnsubscribeTopic(ctx, userID, id)
	}))
	return nil
}

// SetChannelEnabled gates a delivery channel. Per-item enabled/time values
// are deliberately untouched so re-enabling the channel restores them exactly.
func (s *Session) SetChannelEnabled(ch model.Channel, enabled bool) error {
	gen, err := s.mutate("set_channel_enabled", channelKey(ch), func(st *model.UserPreferenceState) {
		st.ChannelEnabled[ch] = enabled
	})
	if err != nil {
		return err
	}
	s.enqueueOrRun(s.remoteWrite("set_channel_enabled", channelKey(ch), gen, func(ctx context.Context, userID string) error {
		return s.svc.UpdateUserPreferences(ctx, userID, remote.PreferenceUpdate{
			Channels: map[model.Channel]bool{ch: enabled},
		})
	}))
	return nil
}

// SyncPermissionStatus records the OS push authorization status and reports
// it to the server.
func (s *Session) SyncPermissionStatus(status model.OSPermission) error {
	gen, err := s.mutate("sync_permission_status", permKey, func(st *model.UserPreferenceState) {
		st.OSPermission = status
	})
	if err != nil {
		return err
	}
	s.enqueueOrRun(s.remoteWrite("sync_permission_status", permKey, gen, func(ctx context.Context, userID string) error {
		return s.svc.SyncPermissionStatus(ctx, userID, status)
	}))
	return nil
}

// RegisterPushToken forwards the device push token. No local state involved.
func (s *Session) RegisterPushToken(token string) {
	s.enqueueOrRun(s.remoteWrite("register_push_token", "", 0, func(ctx context.Context, userID string) error {
		return s.svc.RegisterPushToken(ctx, userID, token)
	}))
}

// RegisterPhoneNumber forwards the SMS destination. No local state involved.
func (s *Session) RegisterPhoneNumber(number string) {
	s.enqueueOrRun(s.remoteWrite("register_phone_number", "", 0, func(ctx context.Context, userID string) error {
		return s.svc.RegisterPhoneNumber(ctx, userID, number)
	}))
}

// LogAppOpen reports an app-open event.
func (s *Session) LogAppOpen(meta map[string]string) {
	s.enqueueOrRun(s.remoteWrite("log_app_open", "", 0, func(ctx context.Context, userID string) error {
		return s.svc.LogAppOpen(ctx, userID, meta)
	}))
}

// LogPushOpen reports a push-open event.
func (s *Session) LogPushOpen(meta map[string]string) {
	s.enqueueOrRun(s.remoteWrite("log_push_open", "", 0, func(ctx context.Context, userID string) error {
		return s.svc.LogPushOpen(ctx, userID, meta)
	}))
}

// SetUserAttributes forwards free-form user attributes.
func (s *Session) SetUserAttributes(attrs map[string]string) {
	s.enqueueOrRun(s.remoteWrite("set_user_attributes", "", 0, func(ctx context.Context, userID string) error {
		return s.svc.SetUserAttributes(ctx, userID, attrs)
	}))
}

// syncPermissionNow pushes the last known permission status during identify.
func (s *Session) syncPermissionNow(ctx context.Context) {
	s.mu.Lock()
	status := s.state.OSPermission
	s.mu.Unlock()
	userID := s.EffectiveUserID()
	if err := s.svc.SyncPermissionStatus(ctx, userID, status); err != nil {
		s.log.Warn("permission sync failed", zap.Error(err))
	}
}
