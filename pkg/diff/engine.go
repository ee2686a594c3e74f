// Package diff provides change detection between successive profile
// snapshots: field-by-field profile diffing, friend-set analysis, and
// profile picture fingerprinting.
package diff

import (
	"strings"

	"github.com/profilewatch/profilewatch-go/pkg/core"
)

// Engine compares two profile snapshots field by field and emits a typed
// list of changes.
//
// The engine tolerates partial data from anonymous fetches: a field absent
// on either side is skipped, and absence itself is never reported as a
// change. The caller is responsible for short-circuiting on a failed fetch
// before invoking Diff; a wholly-empty current snapshot must never overwrite
// the previous one.
//
// Example usage:
//
//	engine := diff.NewEngine()
//	changes := engine.Diff(previous, current)
type Engine struct{}

// NewEngine creates a new diff engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Snapshot field names used in emitted changes.
const (
	FieldFollowers  = "followers"
	FieldFollowing  = "following"
	FieldPosts      = "posts"
	FieldBiography  = "biography"
	FieldFullName   = "full_name"
	FieldIsPrivate  = "is_private"
	FieldIsVerified = "is_verified"
	FieldPicture    = "profile_picture"
)

// Diff compares previous and current and returns the detected changes.
//
// If previous is nil (first run), the result is empty: the first observation
// establishes the baseline, not a change. Numeric decreases are legitimate
// and reported identically to increases.
func (e *Engine) Diff(previous, current *core.ProfileSnapshot) []core.Change {
	if previous == nil || current == nil {
		return nil
	}

	var changes []core.Change

	counts := []struct {
		field    string
		old, new *int64
	}{
		{FieldFollowers, previous.Followers, current.Followers},
		{FieldFollowing, previous.Following, current.Following},
		{FieldPosts, previous.Posts, current.Posts},
	}
	for _, c := range counts {
		// Skip when either side is absent: partial anonymous data must
		// not produce false changes.
		if c.old == nil || c.new == nil {
			continue
		}
		if *c.old != *c.new {
			changes = append(changes, core.Change{
				Kind:     core.ChangeCount,
				Field:    c.field,
				Subject:  current.Username,
				OldCount: *c.old,
				NewCount: *c.new,
			})
		}
	}

	texts := []struct {
		field    string
		old, new *string
	}{
		{FieldBiography, previous.Biography, current.Biography},
		{FieldFullName, previous.FullName, current.FullName},
	}
	for _, t := range texts {
		oldText, oldSet := trimmedText(t.old)
		newText, newSet := trimmedText(t.new)
		// Empty-vs-absent is no-change: fetch modes differ in which
		// fields they can see.
		if !oldSet || !newSet {
			continue
		}
		if oldText != newText {
			changes = append(changes, core.Change{
				Kind:    core.ChangeText,
				Field:   t.field,
				Subject: current.Username,
				OldText: oldText,
				NewText: newText,
			})
		}
	}

	bools := []struct {
		field    string
		old, new *bool
	}{
		{FieldIsPrivate, previous.IsPrivate, current.IsPrivate},
		{FieldIsVerified, previous.IsVerified, current.IsVerified},
	}
	for _, b := range bools {
		// A flip requires two concrete values; absent → value is not one.
		if b.old == nil || b.new == nil {
			continue
		}
		if *b.old != *b.new {
			changes = append(changes, core.Change{
				Kind:    core.ChangeBoolean,
				Field:   b.field,
				Subject: current.Username,
				OldText: boolLabel(*b.old),
				NewText: boolLabel(*b.new),
			})
		}
	}

	return changes
}

// trimmedText returns the whitespace-trimmed value and whether the field is
// meaningfully set. An empty string after trimming counts as set only when
// the pointer itself was non-nil, so absent-vs-empty still compares equal.
func trimmedText(v *string) (string, bool) {
	if v == nil {
		return "", false
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		// Treat empty like absent to avoid noise from fetch modes that
		// return "" where others return nothing.
		return "", false
	}
	return trimmed, true
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
