package directory

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"pushbridge/internal/identity"
	"pushbridge/internal/prefs"
	logx "pushbridge/pkg/logx"
)

// fileStore keeps the whole directory in memory and writes the JSON file
// through on every mutation (tmp file + rename, so a crash mid-write never
// corrupts the previous state).
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	users  map[string]*User // canonical id -> user
	closed bool
}

type fileSnapshot struct {
	Users []User `json:"users"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("directory.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: path, users: map[string]*User{}}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var snap fileSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return err
	}
	for i := range snap.Users {
		u := snap.Users[i]
		id, ok := identity.CanonicalUserID(u.ID)
		if !ok {
			continue
		}
		cp := &User{ID: id, Preferences: u.Preferences}
		seen := map[string]struct{}{}
		for _, t := range u.Tokens {
			if ct, ok := identity.CanonicalToken(t); ok {
				if _, dup := seen[ct]; !dup {
					seen[ct] = struct{}{}
					cp.Tokens = append(cp.Tokens, ct)
				}
			}
		}
		if cp.Preferences != nil && cp.Preferences.Empty() {
			cp.Preferences = nil
		}
		s.users[id] = cp
	}
	return nil
}

// saveLocked writes the current state to disk. Callers hold s.mu.
func (s *fileStore) saveLocked() error {
	snap := fileSnapshot{Users: make([]User, 0, len(s.users))}
	for _, u := range s.users {
		snap.Users = append(snap.Users, *u)
	}
	// Stable output keeps diffs and content hashes meaningful.
	sort.Slice(snap.Users, func(i, j int) bool { return snap.Users[i].ID < snap.Users[j].ID })

	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fileStore) Load(ctx context.Context) ([]User, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		cp.Tokens = append([]string(nil), u.Tokens...)
		if u.Preferences != nil {
			p := *u.Preferences
			cp.Preferences = &p
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fileStore) GetPreferences(ctx context.Context, userID string) (prefs.Preferences, bool, error) {
	_ = ctx
	id, ok := identity.CanonicalUserID(userID)
	if !ok {
		return prefs.Preferences{}, false, ErrInvalidUserID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return prefs.Preferences{}, false, ErrClosed
	}
	u := s.users[id]
	if u == nil || u.Preferences == nil {
		return prefs.Preferences{}, false, nil
	}
	return *u.Preferences, true, nil
}

func (s *fileStore) SetPreferences(ctx context.Context, userID string, p prefs.Preferences) error {
	_ = ctx
	id, ok := identity.CanonicalUserID(userID)
	if !ok {
		return ErrInvalidUserID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	u := s.users[id]
	if u == nil {
		u = &User{ID: id}
		s.users[id] = u
	}
	if p.Empty() {
		// All-unset deletes the stored preferences.
		u.Preferences = nil
	} else {
		cp := p
		u.Preferences = &cp
	}
	return s.saveLocked()
}

func (s *fileStore) UpsertToken(ctx context.Context, userID, token string) (bool, error) {
	_ = ctx
	id, ok := identity.CanonicalUserID(userID)
	if !ok {
		return false, ErrInvalidUserID
	}
	tok, ok := identity.CanonicalToken(token)
	if !ok {
		return false, ErrInvalidToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	u := s.users[id]
	if u == nil {
		u = &User{ID: id}
		s.users[id] = u
	}
	for _, t := range u.Tokens {
		if t == tok {
			return false, nil
		}
	}
	u.Tokens = append(u.Tokens, tok)
	if err := s.saveLocked(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *fileStore) RemoveToken(ctx context.Context, token string) (int, error) {
	_ = ctx
	tok, ok := identity.CanonicalToken(token)
	if !ok {
		return 0, ErrInvalidToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	removed := 0
	for _, u := range s.users {
		kept := u.Tokens[:0]
		for _, t := range u.Tokens {
			if t == tok {
				removed++
				continue
			}
			kept = append(kept, t)
		}
		u.Tokens = kept
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.saveLocked(); err != nil {
		return removed, err
	}
	return removed, nil
}

func (s *fileStore) GetTokensForUsers(ctx context.Context, userIDs []string) ([]string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	var users []*User
	if userIDs == nil {
		for _, u := range s.users {
			users = append(users, u)
		}
	} else {
		for _, raw := range userIDs {
			if id, ok := identity.CanonicalUserID(raw); ok {
				if u := s.users[id]; u != nil {
					users = append(users, u)
				}
			}
		}
	}

	seen := map[string]struct{}{}
	out := make([]string, 0, len(users))
	for _, u := range users {
		for _, t := range u.Tokens {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fileStore) DeleteUser(ctx context.Context, userID string) error {
	_ = ctx
	id, ok := identity.CanonicalUserID(userID)
	if !ok {
		return ErrInvalidUserID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, exists := s.users[id]; !exists {
		return nil
	}
	delete(s.users, id)
	return s.saveLocked()
}

func (s *fileStore) Compact(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	changed := false
	for id, u := range s.users {
		if len(u.Tokens) == 0 && u.Preferences == nil {
			delete(s.users, id)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	s.log.Debug("directory compacted", logx.Int("users", len(s.users)))
	return s.saveLocked()
}
