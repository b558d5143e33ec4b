// Package prefs models per-user notification preferences and the admin-level
// event switches, and decides who receives which event kind.
package prefs

import (
	"encoding/json"
	"fmt"
)

// Kind identifies a notifiable event category.
type Kind string

const (
	KindItemAdded     Kind = "item_added"
	KindPlaybackStart Kind = "playback_start"
	KindPlaybackStop  Kind = "playback_stop"
)

// Flag is a tri-state preference: unset defers to the admin default.
type Flag int

const (
	FlagUnset Flag = iota
	FlagAllow
	FlagDeny
)

func (f Flag) String() string {
	switch f {
	case FlagAllow:
		return "allow"
	case FlagDeny:
		return "deny"
	default:
		return "unset"
	}
}

func (f Flag) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

func (f *Flag) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "allow":
		*f = FlagAllow
	case "deny":
		*f = FlagDeny
	case "unset", "":
		*f = FlagUnset
	default:
		return fmt.Errorf("invalid preference flag %q", s)
	}
	return nil
}

// Preferences holds one flag per event kind. The zero value means "all unset",
// which the directory treats as "no stored preferences".
type Preferences struct {
	ItemAdded     Flag `json:"item_added,omitempty"`
	PlaybackStart Flag `json:"playback_start,omitempty"`
	PlaybackStop  Flag `json:"playback_stop,omitempty"`
}

func (p Preferences) Flag(k Kind) Flag {
	switch k {
	case KindItemAdded:
		return p.ItemAdded
	case KindPlaybackStart:
		return p.PlaybackStart
	case KindPlaybackStop:
		return p.PlaybackStop
	default:
		return FlagUnset
	}
}

// Empty reports whether all flags are unset (the deletion condition).
func (p Preferences) Empty() bool {
	return p.ItemAdded == FlagUnset && p.PlaybackStart == FlagUnset && p.PlaybackStop == FlagUnset
}

// Defaults holds the admin-level per-kind switches. A disabled kind is a kill
// switch: the event is silenced for everyone regardless of per-user opt-ins.
type Defaults struct {
	ItemAdded     bool
	PlaybackStart bool
	PlaybackStop  bool
}

func (d Defaults) Enabled(k Kind) bool {
	switch k {
	case KindItemAdded:
		return d.ItemAdded
	case KindPlaybackStart:
		return d.PlaybackStart
	case KindPlaybackStop:
		return d.PlaybackStop
	default:
		return false
	}
}
