package directory

import (
	"context"
	"errors"
	"time"

	"pushbridge/internal/prefs"
)

var (
	ErrInvalidToken  = errors.New("invalid device token")
	ErrInvalidUserID = errors.New("invalid user id")
	ErrClosed        = errors.New("directory closed")
)

// Config configures the directory store.
//
// Driver values:
//   - "file": JSON file backend (default when empty)
//   - "sqlite": SQLite database file (optional build tag)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// User is one registered notification recipient.
//
// ID is canonical (lowercase, UUIDs rendered as bare hex). Tokens are
// canonical lowercase hex, deduplicated, order not significant.
type User struct {
	ID          string             `json:"id"`
	Tokens      []string           `json:"tokens,omitempty"`
	Preferences *prefs.Preferences `json:"preferences,omitempty"`
}

// Store is the persistence API the core consumes.
//
// Implementations serialize all operations internally; callers never hold a
// store lock across their own I/O.
type Store interface {
	// Load returns a snapshot of all users.
	Load(ctx context.Context) ([]User, error)

	// GetPreferences returns the stored preferences for userID.
	// ok is false when the user has none stored.
	GetPreferences(ctx context.Context, userID string) (p prefs.Preferences, ok bool, err error)

	// SetPreferences stores p for userID, creating the user if needed.
	// Storing an all-unset set deletes the stored preferences.
	SetPreferences(ctx context.Context, userID string, p prefs.Preferences) error

	// UpsertToken registers a device token for userID, creating the user if
	// needed. isNew is false when the token was already registered for them.
	UpsertToken(ctx context.Context, userID, token string) (isNew bool, err error)

	// RemoveToken removes the token from every user that holds it and
	// returns how many entries were removed.
	RemoveToken(ctx context.Context, token string) (int, error)

	// GetTokensForUsers returns the deduplicated tokens of the given users.
	// A nil slice of ids means all users.
	GetTokensForUsers(ctx context.Context, userIDs []string) ([]string, error)

	// DeleteUser removes the user and everything stored for them.
	DeleteUser(ctx context.Context, userID string) error

	// Compact rewrites the backing storage, dropping empty records.
	Compact(ctx context.Context) error

	Close() error
}

// FilterForEvent combines Load with the preference filter: it returns the
// subset of userIDs allowed to receive kind. A nil userIDs means all users.
//
// Preferences are read fresh from the store so changes made during a batching
// window are honored at flush time.
func FilterForEvent(ctx context.Context, st Store, userIDs []string, kind prefs.Kind, defaults prefs.Defaults) ([]string, error) {
	users, err := st.Load(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*prefs.Preferences, len(users))
	for i := range users {
		byID[users[i].ID] = users[i].Preferences
	}

	candidates := userIDs
	if candidates == nil {
		candidates = make([]string, 0, len(users))
		for i := range users {
			candidates = append(candidates, users[i].ID)
		}
	}

	return prefs.Allowed(candidates, kind, defaults, func(id string) (prefs.Preferences, bool) {
		p, ok := byID[id]
		if !ok || p == nil {
			return prefs.Preferences{}, false
		}
		return *p, true
	}), nil
}
