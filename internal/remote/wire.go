package remote

import (
	"github.com/and161185/prefsync/internal/model"
)

// Wire DTOs for the JSON API. Kept separate from internal/model so the server
// payload shape can drift without leaking into the domain types.

// --- config (server -> client) ---

type wireScheduleParam struct {
	DefaultTime string `json:"default_time,omitempty"`
}

type wireDefinition struct {
	ID               string             `json:"id"`
	Title            string             `json:"title"`
	Description      string             `json:"description,omitempty"`
	EnabledByDefault bool               `json:"enabled_by_default"`
	Schedule         *wireScheduleParam `json:"schedule_parameter,omitempty"`
	TimeConfigurable bool               `json:"time_configurable,omitempty"`
	TopicType        string             `json:"topic_type,omitempty"`
}

type wireConfig struct {
	Preferences []wireDefinition `json:"preferences"`
	Topics      []wireDefinition `json:"topics"`
	Schedules   []wireDefinition `json:"schedules"`
}

func fromWireDefinition(in wireDefinition) model.PreferenceDefinition {
	def := model.PreferenceDefinition{
		ID:               in.ID,
		Title:            in.Title,
		Description:      in.Description,
		EnabledByDefault: in.EnabledByDefault,
		TimeConfigurable: in.TimeConfigurable,
		TopicType:        model.TopicType(in.TopicType),
	}
	if in.Schedule != nil {
		def.Schedule = &model.ScheduleParameter{DefaultTime: in.Schedule.DefaultTime}
	}
	return def
}

func fromWireDefinitions(in []wireDefinition) []model.PreferenceDefinition {
	out := make([]model.PreferenceDefinition, 0, len(in))
	for _, d := range in {
		out = append(out, fromWireDefinition(d))
	}
	return out
}

func fromWireConfig(in wireConfig) *model.PreferenceSchema {
	return &model.PreferenceSchema{
		Preferences: fromWireDefinitions(in.Preferences),
		Topics:      fromWireDefinitions(in.Topics),
		Schedules:   fromWireDefinitions(in.Schedules),
	}
}

// --- user preferences (server -> client) ---

type wireUserState struct {
	OSPermission      string            `json:"os_permission,omitempty"`
	SubscribedTopics  []string          `json:"subscribed_topics,omitempty"`
	ScheduleEnabled   map[string]bool   `json:"schedule_enabled,omitempty"`
	ScheduleTime      map[string]string `json:"schedule_time,omitempty"`
	PreferenceEnabled map[string]bool   `json:"preference_enabled,omitempty"`
	ChannelEnabled    map[string]bool   `json:"channel_enabled,omitempty"`
	Timezone          string            `json:"timezone,omitempty"`
}

func fromWireUserState(in wireUserState) *model.UserPreferenceState {
	st := model.NewUserPreferenceState()
	if in.OSPermission != "" {
		st.OSPermission = model.OSPermission(in.OSPermission)
	}
	st.SubscribedTopics = append(st.SubscribedTopics, in.SubscribedTopics...)
	for k, v := range in.ScheduleEnabled {
		st.ScheduleEnabled[k] = v
	}
	for k, v := range in.ScheduleTime {
		st.ScheduleTime[k] = v
	}
	for k, v := range in.PreferenceEnabled {
		st.PreferenceEnabled[k] = v
	}
	for k, v := range in.ChannelEnabled {
		st.ChannelEnabled[model.Channel(k)] = v
	}
	st.Timezone = in.Timezone
	return st
}

// --- writes (client -> server) ---

type wireUpdate struct {
	Preferences map[string]bool   `json:"preferences,omitempty"`
	Schedules   map[string]bool   `json:"schedules,omitempty"`
	Times       map[string]string `json:"times,omitempty"`
	Channels    map[string]bool   `json:"channels,omitempty"`
	Timezone    string            `json:"timezone,omitempty"`
}

func toWireUpdate(in PreferenceUpdate) wireUpdate {
	out := wireUpdate{
		Preferences: in.Preferences,
		Schedules:   in.Schedules,
		Times:       in.Times,
		Timezone:    in.Timezone,
	}
	if in.Channels != nil {
		out.Channels = make(map[string]bool, len(in.Channels))
		for ch, v := range in.Channels {
			out.Channels[string(ch)] = v
		}
	}
	return out
}

type wireTokenReq struct {
	Token string `json:"token"`
}

type wirePhoneReq struct {
	Number string `json:"number"`
}

type wireEventReq struct {
	Meta map[string]string `json:"meta,omitempty"`
}

type wirePermissionReq struct {
	Status string `json:"status"`
}

type wireAttributesReq struct {
	Attributes map[string]string `json:"attributes"`
}

type wireError struct {
	Error string `json:"error"`
}
