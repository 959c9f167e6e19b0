// Package model defines domain entities shared by the cache, merge and session layers.
package model

// OSPermission mirrors the operating-system push authorization status.
type OSPermission string

const (
	PermissionAuthorized    OSPermission = "authorized"
	PermissionDenied        OSPermission = "denied"
	PermissionNotDetermined OSPermission = "notDetermined"
	PermissionProvisional   OSPermission = "provisional"
	PermissionEphemeral     OSPermission = "ephemeral"
	PermissionUnknown       OSPermission = "unknown"
)

// Channel is a delivery medium that can be gated independently of per-item toggles.
type Channel string

const (
	ChannelPush Channel = "push"
	ChannelSMS  Channel = "sms"
)

// TopicType controls topic visibility: persistent topics are always shown,
// contextual topics only while subscribed.
type TopicType string

const (
	TopicPersistent TopicType = "persistent"
	TopicContextual TopicType = "contextual"
)

// DefaultScheduleTime is used when a schedule item carries no default of its own.
const DefaultScheduleTime = "09:00"

// ScheduleParameter is the schedule-specific part of a definition.
type ScheduleParameter struct {
	DefaultTime string `json:"defaultTime,omitempty"` // "HH:mm"
}

// PreferenceDefinition is one server-defined schema item. Replaced wholesale
// on every successful config fetch; never mutated client-side.
type PreferenceDefinition struct {
	ID               string             `json:"id"`
	Title            string             `json:"title"`
	Description      string             `json:"description,omitempty"`
	EnabledByDefault bool               `json:"enabledByDefault"`
	Schedule         *ScheduleParameter `json:"scheduleParameter,omitempty"`
	TimeConfigurable bool               `json:"timeConfigurable,omitempty"`
	TopicType        TopicType          `json:"topicType,omitempty"`
}

// PreferenceSchema groups definitions into the three server sections.
type PreferenceSchema struct {
	Preferences []PreferenceDefinition `json:"preferences"`
	Topics      []PreferenceDefinition `json:"topics"`
	Schedules   []PreferenceDefinition `json:"schedules"`
}

// UserPreferenceState is the user override document. Persisted as a single
// serialized unit; nil maps are normalized before first persist so a cache
// round-trip is byte-stable.
type UserPreferenceState struct {
	OSPermission      OSPermission      `json:"osPermission"`
	SubscribedTopics  []string          `json:"subscribedTopics"`
	ScheduleEnabled   map[string]bool   `json:"scheduleEnabled"`
	ScheduleTime      map[string]string `json:"scheduleTime"` // "HH:mm"
	PreferenceEnabled map[string]bool   `json:"preferenceEnabled"`
	ChannelEnabled    map[Channel]bool  `json:"channelEnabled"`
	Timezone          string            `json:"timezone,omitempty"`
}

// NewUserPreferenceState returns a state with all maps allocated.
func NewUserPreferenceState() *UserPreferenceState {
	return &UserPreferenceState{
		OSPermission:      PermissionUnknown,
		SubscribedTopics:  []string{},
		ScheduleEnabled:   map[string]bool{},
		ScheduleTime:      map[string]string{},
		PreferenceEnabled: map[string]bool{},
		ChannelEnabled:    map[Channel]bool{},
	}
}

// Normalize allocates any nil collections in place. Decoding an older cached
// record may leave maps nil; callers rely on them being writable.
func (s *UserPreferenceState) Normalize() {
	if s.SubscribedTopics == nil {
		s.SubscribedTopics = []string{}
	}
	if s.ScheduleEnabled == nil {
		s.ScheduleEnabled = map[string]bool{}
	}
	if s.ScheduleTime == nil {
		s.ScheduleTime = map[string]string{}
	}
	if s.PreferenceEnabled == nil {
		s.PreferenceEnabled = map[string]bool{}
	}
	if s.ChannelEnabled == nil {
		s.ChannelEnabled = map[Channel]bool{}
	}
	if s.OSPermission == "" {
		s.OSPermission = PermissionUnknown
	}
}

// IsSubscribed reports whether topicID is in SubscribedTopics.
func (s *UserPreferenceState) IsSubscribed(topicID string) bool {
	for _, id := range s.SubscribedTopics {
		if id == topicID {
			return true
		}
	}
	return false
}

// SetSubscribed adds or removes topicID, keeping the slice duplicate-free and
// preserving insertion order.
func (s *UserPreferenceState) SetSubscribed(topicID string, subscribed bool) {
	if subscribed {
		if !s.IsSubscribed(topicID) {
			s.SubscribedTopics = append(s.SubscribedTopics, topicID)
		}
		return
	}
	out := s.SubscribedTopics[:0]
	for _, id := range s.SubscribedTopics {
		if id != topicID {
			out = append(out, id)
		}
	}
	s.SubscribedTopics = out
}

// Clone returns a deep copy. The session hands copies to callers so the
// in-memory state is only ever mutated under its own lock.
func (s *UserPreferenceState) Clone() *UserPreferenceState {
	c := &UserPreferenceState{
		OSPermission:      s.OSPermission,
		SubscribedTopics:  append([]string{}, s.SubscribedTopics...),
		ScheduleEnabled:   make(map[string]bool, len(s.ScheduleEnabled)),
		ScheduleTime:      make(map[string]string, len(s.ScheduleTime)),
		PreferenceEnabled: make(map[string]bool, len(s.PreferenceEnabled)),
		ChannelEnabled:    make(map[Channel]bool, len(s.ChannelEnabled)),
		Timezone:          s.Timezone,
	}
	for k, v := range s.ScheduleEnabled {
		c.ScheduleEnabled[k] = v
	}
	for k, v := range s.ScheduleTime {
		c.ScheduleTime[k] = v
	}
	for k, v := range s.PreferenceEnabled {
		c.PreferenceEnabled[k] = v
	}
	for k, v := range s.ChannelEnabled {
		c.ChannelEnabled[k] = v
	}
	return c
}

// EffectivePreferenceItem is the merged, presentation-ready view of one
// schema item. Derived on demand, never persisted.
type EffectivePreferenceItem struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	Enabled        bool   `json:"enabled"`
	Time           string `json:"time,omitempty"` // schedules only
	Visible        bool   `json:"visible"`
	ChannelEnabled bool   `json:"channelEnabled"` // presentation hint, see merge.Project
}

// EffectiveTopic is the merged view of a topic definition.
type EffectiveTopic struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Type        TopicType `json:"type"`
	Subscribed  bool      `json:"subscribed"`
	Visible     bool      `json:"visible"`
}
