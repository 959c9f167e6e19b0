// Package merge combines the cached preference schema with the user override
// document into the effective, presentation-ready view. Pure projection: no
// I/O, no errors, and the output is never stored.
package merge

import "github.com/and161185/prefsync/internal/model"

// View is the effective projection consumed by presentation layers.
// Loaded distinguishes "no schema cached yet" from "loaded and genuinely
// empty"; callers must not treat an unloaded view as an empty preference set.
type View struct {
	Loaded      bool
	Preferences []model.EffectivePreferenceItem
	Schedules   []model.EffectivePreferenceItem
	Topics      []model.EffectiveTopic
}

// Project computes the effective view. schema == nil means no schema has ever
// been cached and yields an unloaded empty view. state may be nil (fresh
// install); all defaults then apply.
//
// Channel gating is a presentation hint only: a disabled push channel is
// reported via ChannelEnabled=false on each item, but per-item Enabled/Time
// are left untouched so re-enabling the channel restores prior state exactly.
// Override entries whose id is absent from the schema are ignored, not
// deleted: a server-side removal must not erase a user override that might
// reappear.
func Project(schema *model.PreferenceSchema, state *model.UserPreferenceState) View {
	if schema == nil {
		return View{}
	}
	if state == nil {
		state = model.NewUserPreferenceState()
	}

	pushOn := channelEnabled(state, model.ChannelPush)

	v := View{
		Loaded:      true,
		Preferences: make([]model.EffectivePreferenceItem, 0, len(schema.Preferences)),
		Schedules:   make([]model.EffectivePreferenceItem, 0, len(schema.Schedules)),
		Topics:      make([]model.EffectiveTopic, 0, len(schema.Topics)),
	}

	for _, def := range schema.Preferences {
		v.Preferences = append(v.Preferences, projectItem(def, state.PreferenceEnabled, state, pushOn))
	}
	for _, def := range schema.Schedules {
		v.Schedules = append(v.Schedules, projectItem(def, state.ScheduleEnabled, state, pushOn))
	}
	for _, def := range schema.Topics {
		subscribed := state.IsSubscribed(def.ID)
		v.Topics = append(v.Topics, model.EffectiveTopic{
			ID:          def.ID,
			Title:       def.Title,
			Description: def.Description,
			Type:        topicType(def),
			Subscribed:  subscribed,
			Visible:     topicType(def) == model.TopicPersistent || subscribed,
		})
	}
	return v
}

func projectItem(def model.PreferenceDefinition, overrides map[string]bool, state *model.UserPreferenceState, pushOn bool) model.EffectivePreferenceItem {
	enabled := def.EnabledByDefault
	if v, ok := overrides[def.ID]; ok {
		enabled = v
	}
	item := model.EffectivePreferenceItem{
		ID:             def.ID,
		Title:          def.Title,
		Description:    def.Description,
		Enabled:        enabled,
		Visible:        true,
		ChannelEnabled: pushOn,
	}
	if def.Schedule != nil {
		item.Time = scheduleTime(def, state)
	}
	return item
}

func scheduleTime(def model.PreferenceDefinition, state *model.UserPreferenceState) string {
	if t, ok := state.ScheduleTime[def.ID]; ok && t != "" {
		return t
	}
	if def.Schedule != nil && def.Schedule.DefaultTime != "" {
		return def.Schedule.DefaultTime
	}
	return model.DefaultScheduleTime
}

func topicType(def model.PreferenceDefinition) model.TopicType {
	if def.TopicType == model.TopicContextual {
		return model.TopicContextual
	}
	return model.TopicPersistent
}

// channelEnabled resolves a channel gate; an absent entry means enabled.
func channelEnabled(state *model.UserPreferenceState, ch model.Channel) bool {
	if v, ok := state.ChannelEnabled[ch]; ok {
		return v
	}
	return true
}
