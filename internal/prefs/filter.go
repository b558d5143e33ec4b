package prefs

import (
	"pushbridge/internal/identity"
)

// Lookup resolves a stored preference set for a canonical user id.
// The second return is false when the user has no stored preferences.
type Lookup func(userID string) (Preferences, bool)

// Allowed returns the subset of candidates permitted to receive kind, in
// first-occurrence order.
//
// Candidates are canonicalized and de-duplicated first. If the admin switch
// for kind is off the result is empty for all users; no per-user override can
// re-enable a killed kind. Otherwise an explicit user flag wins, and unset
// falls back to the (enabled) admin default.
//
// Allowed has no side effects and is safe to call concurrently.
func Allowed(candidates []string, kind Kind, defaults Defaults, lookup Lookup) []string {
	if !defaults.Enabled(kind) {
		return nil
	}

	ids := identity.CanonicalUserIDs(candidates)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if lookup != nil {
			if p, ok := lookup(id); ok {
				switch p.Flag(kind) {
				case FlagDeny:
					continue
				case FlagAllow:
					out = append(out, id)
					continue
				}
			}
		}
		// Unset (or no stored preferences): admin already allowed the kind.
		out = append(out, id)
	}
	return out
}
