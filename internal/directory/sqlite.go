//go:build sqlite
// +build sqlite

package directory

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"pushbridge/internal/identity"
	"pushbridge/internal/prefs"
	logx "pushbridge/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore persists the directory in SQLite. Preferences are additionally
// cached in memory write-through, since they are read on every flush.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	// prefs cache: canonical user id -> stored preferences
	pmu    sync.Mutex
	pcache map[string]prefs.Preferences
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("directory.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	s := &sqliteStore{db: db, log: log, pcache: map[string]prefs.Preferences{}}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := map[string]*User{}
	var out []*User
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		u := &User{ID: id}
		byID[id] = u
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	trows, err := s.db.QueryContext(ctx, `SELECT user_id, token FROM tokens`)
	if err != nil {
		return nil, err
	}
	defer trows.Close()
	for trows.Next() {
		var uid, tok string
		if err := trows.Scan(&uid, &tok); err != nil {
			return nil, err
		}
		if u := byID[uid]; u != nil {
			u.Tokens = append(u.Tokens, tok)
		}
	}
	if err := trows.Err(); err != nil {
		return nil, err
	}

	prows, err := s.db.QueryContext(ctx, `SELECT user_id, item_added, playback_start, playback_stop FROM preferences`)
	if err != nil {
		return nil, err
	}
	defer prows.Close()
	for prows.Next() {
		var uid, ia, ps, pp string
		if err := prows.Scan(&uid, &ia, &ps, &pp); err != nil {
			return nil, err
		}
		if u := byID[uid]; u != nil {
			p := prefs.Preferences{
				ItemAdded:     parseFlag(ia),
				PlaybackStart: parseFlag(ps),
				PlaybackStop:  parseFlag(pp),
			}
			if !p.Empty() {
				u.Preferences = &p
			}
		}
	}
	if err := prows.Err(); err != nil {
		return nil, err
	}

	res := make([]User, 0, len(out))
	for _, u := range out {
		res = append(res, *u)
	}
	return res, nil
}

func (s *sqliteStore) GetPreferences(ctx context.Context, userID string) (prefs.Preferences, bool, error) {
	id, ok := identity.CanonicalUserID(userID)
	if !ok {
		return prefs.Preferences{}, false, ErrInvalidUserID
	}

	s.pmu.Lock()
	if p, hit := s.pcache[id]; hit {
		s.pmu.Unlock()
		return p, true, nil
	}
	s.pmu.Unlock()

	var ia, ps, pp string
	err := s.db.QueryRowContext(ctx,
		`SELECT item_added, playback_start, playback_stop FROM preferences WHERE user_id = ?`, id,
	).Scan(&ia, &ps, &pp)
	if errors.Is(err, sql.ErrNoRows) {
		return prefs.Preferences{}, false, nil
	}
	if err != nil {
		return prefs.Preferences{}, false, err
	}
	p := prefs.Preferences{ItemAdded: parseFlag(ia), PlaybackStart: parseFlag(ps), PlaybackStop: parseFlag(pp)}

	s.pmu.Lock()
	s.pcache[id] = p
	s.pmu.Unlock()
	return p, true, nil
}

func (s *sqliteStore) SetPreferences(ctx context.Context, userID string, p prefs.Preferences) error {
	id, ok := identity.CanonicalUserID(userID)
	if !ok {
		return ErrInvalidUserID
	}

	var err error
	if p.Empty() {
		_, err = s.db.ExecContext(ctx, `DELETE FROM preferences WHERE user_id = ?`, id)
	} else {
		if err = s.ensureUser(ctx, id); err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO preferences(user_id, item_added, playback_start, playback_stop) VALUES(?,?,?,?)
			 ON CONFLICT(user_id) DO UPDATE SET
			   item_added=excluded.item_added,
			   playback_start=excluded.playback_start,
			   playback_stop=excluded.playback_stop`,
			id, p.ItemAdded.String(), p.PlaybackStart.String(), p.PlaybackStop.String(),
		)
	}
	if err != nil {
		return err
	}

	// Write-through cache invalidation.
	s.pmu.Lock()
	if p.Empty() {
		delete(s.pcache, id)
	} else {
		s.pcache[id] = p
	}
	s.pmu.Unlock()
	return nil
}

func (s *sqliteStore) UpsertToken(ctx context.Context, userID, token string) (bool, error) {
	id, ok := identity.CanonicalUserID(userID)
	if !ok {
		return false, ErrInvalidUserID
	}
	tok, ok := identity.CanonicalToken(token)
	if !ok {
		return false, ErrInvalidToken
	}
	if err := s.ensureUser(ctx, id); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens(user_id, token) VALUES(?,?) ON CONFLICT(user_id, token) DO NOTHING`,
		id, tok,
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) RemoveToken(ctx context.Context, token string) (int, error) {
	tok, ok := identity.CanonicalToken(token)
	if !ok {
		return 0, ErrInvalidToken
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE token = ?`, tok)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) GetTokensForUsers(ctx context.Context, userIDs []string) ([]string, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if userIDs == nil {
		rows, err = s.db.QueryContext(ctx, `SELECT DISTINCT token FROM tokens`)
	} else {
		ids := identity.CanonicalUserIDs(userIDs)
		if len(ids) == 0 {
			return nil, nil
		}
		args := make([]any, len(ids))
		marks := make([]string, len(ids))
		for i, id := range ids {
			args[i] = id
			marks[i] = "?"
		}
		rows, err = s.db.QueryContext(ctx,
			`SELECT DISTINCT token FROM tokens WHERE user_id IN (`+strings.Join(marks, ",")+`)`, args...)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteUser(ctx context.Context, userID string) error {
	id, ok := identity.CanonicalUserID(userID)
	if !ok {
		return ErrInvalidUserID
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return err
	}
	s.pmu.Lock()
	delete(s.pcache, id)
	s.pmu.Unlock()
	return nil
}

func (s *sqliteStore) Compact(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM users WHERE id NOT IN (SELECT user_id FROM tokens) AND id NOT IN (SELECT user_id FROM preferences)`)
	return err
}

func (s *sqliteStore) ensureUser(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO users(id) VALUES(?) ON CONFLICT(id) DO NOTHING`, id)
	return err
}

func parseFlag(s string) prefs.Flag {
	switch s {
	case "allow":
		return prefs.FlagAllow
	case "deny":
		return prefs.FlagDeny
	default:
		return prefs.FlagUnset
	}
}
