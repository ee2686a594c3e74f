// Package notify maps detected changes to outbound notification events.
//
// The dispatcher owns filtering (per-category toggles), in-run deduplication
// and stable ordering. Delivery over any transport is an external concern:
// the output is an ordered event list handed to a Sink.
package notify

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/profilewatch/profilewatch-go/pkg/core"
)

// Dispatcher turns a run's change list into notification events.
type Dispatcher struct{}

// NewDispatcher creates a new dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Dispatch maps changes to zero-or-one event each, honoring the per-category
// toggles in cfg.
//
// Identical Change values (same tag and fields) collapse to a single event.
// Ordering is stable: grouped by change kind, then by field name, then by
// subject, with friend events ordered lexicographically by username. Follower
// milestone events, when enabled, are appended after the change events.
// Milestones are an independent toggle: they fire on follower count crossings
// even when count change events themselves are disabled.
func (d *Dispatcher) Dispatch(subject string, changes []core.Change, cfg core.NotifyConfig) []core.NotificationEvent {
	seen := make(map[core.Change]struct{}, len(changes))
	var deduped []core.Change
	for _, c := range changes {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		deduped = append(deduped, c)
	}

	var kept []core.Change
	for _, c := range deduped {
		if enabled(c.Kind, cfg) {
			kept = append(kept, c)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.Kind != b.Kind {
			return kindRank(a.Kind) < kindRank(b.Kind)
		}
		if a.Field != b.Field {
			return a.Field < b.Field
		}
		return a.Subject < b.Subject
	})

	events := make([]core.NotificationEvent, 0, len(kept))
	for _, c := range kept {
		events = append(events, eventFor(subject, c))
	}

	if cfg.Milestones {
		events = append(events, milestoneEvents(subject, deduped, cfg)...)
	}

	return events
}

// enabled maps a change kind to its configuration toggle.
func enabled(kind core.ChangeKind, cfg core.NotifyConfig) bool {
	switch kind {
	case core.ChangeCount:
		return cfg.Counts
	case core.ChangeText:
		return cfg.Text
	case core.ChangeBoolean:
		return cfg.Flags
	case core.ChangeImage:
		return cfg.Pictures
	case core.ChangeFriendJoined, core.ChangeFriendLeft:
		return cfg.Friends
	default:
		return false
	}
}

// kindRank fixes the grouping order of change kinds in the output.
func kindRank(kind core.ChangeKind) int {
	switch kind {
	case core.ChangeCount:
		return 0
	case core.ChangeText:
		return 1
	case core.ChangeBoolean:
		return 2
	case core.ChangeImage:
		return 3
	case core.ChangeFriendJoined:
		return 4
	case core.ChangeFriendLeft:
		return 5
	default:
		return 6
	}
}

// eventFor builds the NotificationEvent for one change.
func eventFor(subject string, c core.Change) core.NotificationEvent {
	payload := map[string]interface{}{
		"field": c.Field,
	}
	switch c.Kind {
	case core.ChangeCount:
		payload["old"] = c.OldCount
		payload["new"] = c.NewCount
		payload["delta"] = c.NewCount - c.OldCount
		payload["summary"] = fmt.Sprintf("%s: %d → %d (%+d)", c.Field, c.OldCount, c.NewCount, c.NewCount-c.OldCount)
	case core.ChangeText:
		payload["old"] = c.OldText
		payload["new"] = c.NewText
		payload["summary"] = fmt.Sprintf("%s changed", c.Field)
	case core.ChangeBoolean:
		payload["old"] = c.OldText
		payload["new"] = c.NewText
		payload["summary"] = fmt.Sprintf("%s is now %s", c.Field, c.NewText)
	case core.ChangeImage:
		payload["transition"] = c.Subject
		payload["summary"] = fmt.Sprintf("profile picture %s", c.Subject)
	case core.ChangeFriendJoined:
		payload["username"] = c.Subject
		payload["summary"] = fmt.Sprintf("%s joined %s", c.Subject, c.Field)
	case core.ChangeFriendLeft:
		payload["username"] = c.Subject
		payload["summary"] = fmt.Sprintf("%s left %s", c.Subject, c.Field)
	}
	return core.NotificationEvent{
		ID:      uuid.New().String(),
		Kind:    string(c.Kind),
		Subject: subject,
		Payload: payload,
	}
}

// milestoneEvents emits one event per milestone threshold crossed by a
// follower count change, in ascending threshold order. Crossings count in
// both directions but only upward crossings notify.
func milestoneEvents(subject string, changes []core.Change, cfg core.NotifyConfig) []core.NotificationEvent {
	thresholds := cfg.MilestoneThresholds
	if len(thresholds) == 0 {
		thresholds = core.DefaultMilestoneThresholds()
	}
	sorted := append([]int64(nil), thresholds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var events []core.NotificationEvent
	for _, c := range changes {
		if c.Kind != core.ChangeCount || c.Field != "followers" || c.NewCount <= c.OldCount {
			continue
		}
		for _, threshold := range sorted {
			if c.OldCount < threshold && c.NewCount >= threshold {
				events = append(events, core.NotificationEvent{
					ID:      uuid.New().String(),
					Kind:    core.EventMilestone,
					Subject: subject,
					Payload: map[string]interface{}{
						"threshold": threshold,
						"followers": c.NewCount,
						"summary":   fmt.Sprintf("followers reached %d", threshold),
					},
				})
			}
		}
	}
	return events
}
