package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/and161185/prefsync/internal/cache"
	"github.com/and161185/prefsync/internal/model"
	"github.com/and161185/prefsync/internal/remote"
)

// fakeService records calls in order and serves canned fetch responses.
type fakeService struct {
	mu     sync.Mutex
	calls  []string
	err    error // returned by every write op
	schema *model.PreferenceSchema
	state  *model.UserPreferenceState
	bearer string
}

var _ remote.Service = (*fakeService)(nil)

func (f *fakeService) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeService) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeService) SetBearer(token string) {
	f.mu.Lock()
	f.bearer = token
	f.mu.Unlock()
}

func (f *fakeService) FetchConfig(context.Context) (*model.PreferenceSchema, error) {
	f.record("fetch_config")
	if f.schema == nil {
		return nil, errors.New("no schema configured")
	}
	return f.schema, nil
}

func (f *fakeService) FetchUserPreferences(_ context.Context, userID string) (*model.UserPreferenceState, error) {
	f.record("fetch_user_preferences:" + userID)
	if f.state == nil {
		return nil, errors.New("no state configured")
	}
	return f.state.Clone(), nil
}

func (f *fakeService) UpdateUserPreferences(_ context.Context, userID string, upd remote.PreferenceUpdate) error {
	f.record(fmt.Sprintf("update:%s:p=%v:s=%v:t=%v:c=%v:tz=%s",
		userID, upd.Preferences, upd.Schedules, upd.Times, upd.Channels, upd.Timezone))
	return f.err
}

func (f *fakeService) SubscribeTopic(_ context.Context, userID, topicID string) error {
	f.record("subscribe:" + userID + ":" + topicID)
	return f.err
}

func (f *fakeService) UnsubscribeTopic(_ context.Context, userID, topicID string) error {
	f.record("unsubscribe:" + userID + ":" + topicID)
	return f.err
}

func (f *fakeService) RegisterPushToken(_ context.Context, userID, token string) error {
	f.record("push_token:" + userID + ":" + token)
	return f.err
}

func (f *fakeService) RegisterPhoneNumber(_ context.Context, userID, number string) error {
	f.record("phone:" + userID + ":" + number)
	return f.err
}

func (f *fakeService) LogAppOpen(_ context.Context, userID string, _ map[string]string) error {
	f.record("app_open:" + userID)
	return f.err
}

func (f *fakeService) LogPushOpen(_ context.Context, userID string, _ map[string]string) error {
	f.record("push_open:" + userID)
	return f.err
}

func (f *fakeService) SyncPermissionStatus(_ context.Context, userID string, status model.OSPermission) error {
	f.record("perm:" + userID + ":" + string(status))
	return f.err
}

func (f *fakeService) SetUserAttributes(_ context.Context, userID string, _ map[string]string) error {
	f.record("attrs:" + userID)
	return f.err
}

// gatedWrites holds every preference update open until the test releases it,
// so acknowledgements can be delivered out of order.
type gatedWrites struct {
	*fakeService
	gateMu  sync.Mutex
	holds   []chan struct{}
	entered chan struct{}
}

func (g *gatedWrites) UpdateUserPreferences(ctx context.Context, userID string, upd remote.PreferenceUpdate) error {
	hold := make(chan struct{})
	g.gateMu.Lock()
	g.holds = append(g.holds, hold)
	g.gateMu.Unlock()
	g.entered <- struct{}{}
	<-hold
	return g.fakeService.UpdateUserPreferences(ctx, userID, upd)
}

func (g *gatedWrites) release(i int) {
	g.gateMu.Lock()
	defer g.gateMu.Unlock()
	close(g.holds[i])
}

func newTestSession(t *testing.T, svc remote.Service, opts ...Option) (*Session, *cache.MemStore) {
	t.Helper()
	store := cache.NewMemStore()
	s, err := New(store, svc, opts...)
	require.NoError(t, err)
	return s, store
}

func TestInstallID_StableAcrossSessions(t *testing.T) {
	t.Parallel()
	store := cache.NewMemStore()
	s1, err := New(store, &fakeService{})
	require.NoError(t, err)
	require.NotEmpty(t, s1.InstallID())

	s2, err := New(store, &fakeService{})
	require.NoError(t, err)
	assert.Equal(t, s1.InstallID(), s2.InstallID())
}

func TestAnonymous_NoRemoteWrites_ThenDrainInOrder(t *testing.T) {
	t.Parallel()
	svc := &fakeService{
		schema: &model.PreferenceSchema{},
		state:  model.NewUserPreferenceState(),
	}
	s, _ := newTestSession(t, svc)

	require.NoError(t, s.ToggleTopic("flash_sale", true))
	s.RegisterPushToken("device-token")
	require.NoError(t, s.TogglePreference("weekly_digest", false))
	s.LogAppOpen(map[string]string{"v": "1"})

	assert.Empty(t, svc.recorded(), "no remote traffic before identify")

	s.Identify("u-1", "")

	got := svc.recorded()
	require.GreaterOrEqual(t, len(got), 4)
	assert.Equal(t, []string{
		"subscribe:u-1:flash_sale",
		"push_token:u-1:device-token",
		"update:u-1:p=map[weekly_digest:false]:s=map[]:t=map[]:c=map[]:tz=",
		"app_open:u-1",
	}, got[:4], "queued commands replay in issue order with the new user id")
}

func TestIdentifyLogoutIdentify_SameEffectiveUserID(t *testing.T) {
	t.Parallel()
	svc := &fakeService{schema: &model.PreferenceSchema{}, state: model.NewUserPreferenceState()}
	s, _ := newTestSession(t, svc)

	install := s.EffectiveUserID()
	assert.Equal(t, s.InstallID(), install)

	s.Identify("u-42", "")
	first := s.EffectiveUserID()
	assert.Equal(t, "u-42", first)

	s.Logout()
	assert.Equal(t, install, s.EffectiveUserID(), "logout reverts to the install id")
	assert.False(t, s.IsIdentified())

	s.Identify("u-42", "")
	assert.Equal(t, first, s.EffectiveUserID())
}

func TestOptimisticToggle_VisibleBeforeAnyNetwork(t *testing.T) {
	t.Parallel()
	svc := &fakeService{err: errors.New("network down")}
	s, _ := newTestSession(t, svc)
	s.mu.Lock()
	s.schema = &model.PreferenceSchema{
		Preferences: []model.PreferenceDefinition{
			{ID: "weekly_digest", Title: "Weekly digest", EnabledByDefault: true},
		},
		Topics: []model.PreferenceDefinition{
			{ID: "flash_sale", Title: "Flash sale", TopicType: model.TopicContextual},
		},
	}
	s.mu.Unlock()

	v := s.View()
	require.True(t, v.Loaded)
	assert.True(t, v.Preferences[0].Enabled)
	assert.False(t, v.Topics[0].Visible)

	require.NoError(t, s.TogglePreference("weekly_digest", false))
	require.NoError(t, s.ToggleTopic("flash_sale", true))

	v = s.View()
	assert.False(t, v.Preferences[0].Enabled, "override must win before any round trip")
	assert.True(t, v.Topics[0].Visible, "contextual topic appears with no network available")
	assert.Empty(t, svc.recorded())
}

func TestChannelGate_DoesNotMutatePerItemState(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	s, _ := newTestSession(t, svc)
	s.mu.Lock()
	s.schema = &model.PreferenceSchema{
		Schedules: []model.PreferenceDefinition{
			{ID: "morning", Title: "Morning", EnabledByDefault: true,
				Schedule: &model.ScheduleParameter{DefaultTime: "08:30"}},
		},
	}
	s.mu.Unlock()

	require.NoError(t, s.SetScheduleTime("morning", "07:15"))
	before := s.View().Schedules[0]

	require.NoError(t, s.SetChannelEnabled(model.ChannelPush, false))
	mid := s.View().Schedules[0]
	assert.False(t, mid.ChannelEnabled)
	assert.Equal(t, before.Enabled, mid.Enabled)
	assert.Equal(t, before.Time, mid.Time)

	require.NoError(t, s.SetChannelEnabled(model.ChannelPush, true))
	after := s.View().Schedules[0]
	assert.True(t, after.ChannelEnabled)
	assert.Equal(t, before.Enabled, after.Enabled)
	assert.Equal(t, before.Time, after.Time)
}

func TestSetScheduleTime_RejectsBadFormat(t *testing.T) {
	t.Parallel()
	s, _ := newTestSession(t, &fakeService{})
	require.Error(t, s.SetScheduleTime("morning", "25:00"))
	require.Error(t, s.SetScheduleTime("morning", "7:15"))
	require.NoError(t, s.SetScheduleTime("morning", "23:59"))
}

func TestUserState_CacheRoundTrip(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	store := cache.NewMemStore()
	s1, err := New(store, svc)
	require.NoError(t, err)

	require.NoError(t, s1.TogglePreference("weekly_digest", false))
	require.NoError(t, s1.ToggleTopic("news", true))
	require.NoError(t, s1.SetScheduleTime("morning", "07:15"))
	want := s1.UserState()

	persisted, ok, err := store.Get(cache.KeyUserState)
	require.NoError(t, err)
	require.True(t, ok)

	s2, err := New(store, svc)
	require.NoError(t, err)
	assert.Equal(t, want, s2.UserState(), "reload must yield the identical state")

	reencoded, err := json.Marshal(s2.UserState())
	require.NoError(t, err)
	assert.Equal(t, string(persisted), string(reencoded),
		"the document survives the cache byte for byte")
}

func TestRefresh_BaselineMergePreservesDirtyFields(t *testing.T) {
	t.Parallel()
	baseline := model.NewUserPreferenceState()
	baseline.PreferenceEnabled["weekly_digest"] = true
	baseline.PreferenceEnabled["promo"] = false
	baseline.Timezone = "UTC"

	svc := &fakeService{schema: &model.PreferenceSchema{}, state: baseline}
	s, _ := newTestSession(t, svc)

	// Optimistic write while anonymous: queued, not yet acknowledged.
	require.NoError(t, s.TogglePreference("weekly_digest", false))

	require.NoError(t, s.Refresh(context.Background()))

	st := s.UserState()
	assert.False(t, st.PreferenceEnabled["weekly_digest"],
		"fetched baseline must not overwrite a pending optimistic write")
	assert.False(t, st.PreferenceEnabled["promo"], "non-dirty fields take the fetched value")
	assert.Equal(t, "UTC", st.Timezone)
}

func TestStaleAck_DoesNotUnmarkNewerWrite(t *testing.T) {
	t.Parallel()
	baseline := model.NewUserPreferenceState()
	baseline.PreferenceEnabled["weekly_digest"] = true

	svc := &gatedWrites{
		fakeService: &fakeService{schema: &model.PreferenceSchema{}, state: baseline},
		entered:     make(chan struct{}),
	}
	s, _ := newTestSession(t, svc)

	s.Identify("u-1", "")
	require.Eventually(t, func() bool {
		for _, c := range svc.recorded() {
			if c == "fetch_user_preferences:u-1" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "identify refresh settles first")

	require.NoError(t, s.TogglePreference("weekly_digest", true))
	<-svc.entered // write #1 is on the wire, ack held back
	require.NoError(t, s.TogglePreference("weekly_digest", false))
	<-svc.entered // write #2 is on the wire, ack held back
	t.Cleanup(func() { svc.release(1) })

	svc.release(0) // the ack for the superseded write lands now
	require.Never(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, marked := s.dirty[prefKey("weekly_digest")]
		return !marked
	}, 300*time.Millisecond, 20*time.Millisecond,
		"a superseded write's ack must not clear the newer write's mark")

	require.NoError(t, s.Refresh(context.Background()))
	assert.False(t, s.UserState().PreferenceEnabled["weekly_digest"],
		"the pending write keeps its value against the fetched baseline")
}

func TestDeviceTimezone_NeverOpaqueLocal(t *testing.T) {
	t.Parallel()
	assert.NotEqual(t, "Local", deviceTimezone(),
		"an opaque zone name is worthless to the server")
}

func TestIdentify_AcknowledgedWriteYieldsToNextBaseline(t *testing.T) {
	t.Parallel()
	baseline := model.NewUserPreferenceState()
	baseline.PreferenceEnabled["weekly_digest"] = true

	svc := &fakeService{schema: &model.PreferenceSchema{}, state: baseline}
	s, _ := newTestSession(t, svc)

	require.NoError(t, s.TogglePreference("weekly_digest", false))
	s.Identify("u-1", "") // drain acknowledges the write, clearing its dirty mark

	require.Eventually(t, func() bool {
		return s.UserState().PreferenceEnabled["weekly_digest"]
	}, 2*time.Second, 10*time.Millisecond,
		"once acknowledged, the next fetched baseline owns the field")
}

func TestIdentify_InstallsBearerAndLogoutClearsIt(t *testing.T) {
	t.Parallel()
	svc := &fakeService{schema: &model.PreferenceSchema{}, state: model.NewUserPreferenceState()}
	s, _ := newTestSession(t, svc)

	s.Identify("u-1", "tok-abc")
	svc.mu.Lock()
	bearer := svc.bearer
	svc.mu.Unlock()
	assert.Equal(t, "tok-abc", bearer)

	s.Logout()
	svc.mu.Lock()
	bearer = svc.bearer
	svc.mu.Unlock()
	assert.Empty(t, bearer)
}

func TestScheduleWrites_StampTimezone(t *testing.T) {
	t.Parallel()
	svc := &fakeService{schema: &model.PreferenceSchema{}, state: model.NewUserPreferenceState()}
	s, _ := newTestSession(t, svc, WithTimezone("Europe/Berlin"))

	require.NoError(t, s.ToggleSchedule("morning", false))
	s.Identify("u-1", "")

	got := svc.recorded()
	require.NotEmpty(t, got)
	assert.Equal(t, "update:u-1:p=map[]:s=map[morning:false]:t=map[]:c=map[]:tz=Europe/Berlin", got[0])
	assert.Equal(t, "Europe/Berlin", s.UserState().Timezone)
}

func TestWriteFailure_NoRollbackAndHookFires(t *testing.T) {
	t.Parallel()
	svc := &fakeService{schema: &model.PreferenceSchema{}, state: model.NewUserPreferenceState(), err: errors.New("boom")}

	var hookMu sync.Mutex
	var failedOps []string
	s, _ := newTestSession(t, svc, WithWriteFailureHook(func(op string, err error) {
		hookMu.Lock()
		failedOps = append(failedOps, op)
		hookMu.Unlock()
	}))

	require.NoError(t, s.TogglePreference("weekly_digest", false))
	s.Identify("u-1", "")

	assert.False(t, s.UserState().PreferenceEnabled["weekly_digest"],
		"failed remote write must leave the optimistic state standing")
	hookMu.Lock()
	defer hookMu.Unlock()
	assert.Contains(t, failedOps, "toggle_preference")
}

func TestRefresh_SchemaPersistsAcrossRestart(t *testing.T) {
	t.Parallel()
	svc := &fakeService{
		schema: &model.PreferenceSchema{
			Preferences: []model.PreferenceDefinition{{ID: "weekly_digest", Title: "Weekly digest", EnabledByDefault: true}},
		},
		state: model.NewUserPreferenceState(),
	}
	store := cache.NewMemStore()
	s1, err := New(store, svc)
	require.NoError(t, err)
	require.NoError(t, s1.Refresh(context.Background()))

	// A fresh session over the same store renders instantly from cache,
	// no network involved.
	s2, err := New(store, &fakeService{})
	require.NoError(t, err)
	v := s2.View()
	require.True(t, v.Loaded)
	require.Len(t, v.Preferences, 1)
	assert.Equal(t, "weekly_digest", v.Preferences[0].ID)
}

func TestRefresh_FailureLeavesCacheInPlace(t *testing.T) {
	t.Parallel()
	svc := &fakeService{} // fetches fail: nothing configured
	s, _ := newTestSession(t, svc)
	s.mu.Lock()
	s.schema = &model.PreferenceSchema{
		Preferences: []model.PreferenceDefinition{{ID: "a", Title: "A", EnabledByDefault: true}},
	}
	s.mu.Unlock()

	require.Error(t, s.Refresh(context.Background()))
	v := s.View()
	require.True(t, v.Loaded, "stale-but-present beats blank state")
	require.Len(t, v.Preferences, 1)
}
