// Package registry is the identity registry (C6): a persistent
// (input, provider-stream-id) → (virtual_id, chno, last_seen_run) store,
// and the simple keyed user store of spec.md §3.
//
// Grounded on the teacher's internal/plex/dvr.go, which opens a local
// SQLite file with database/sql + modernc.org/sqlite and runs plain SQL
// statements with no ORM — the same shape this module needs, retargeted
// from Plex's media_provider_resources table onto our own schema.
package registry

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ivgateway/ivproxy/internal/rewrite"
)

// Registry persists identity mappings and the simple user store to a
// single SQLite file.
type Registry struct {
	db *sql.DB
}

// Open creates (if needed) and opens the SQLite file at path, creating the
// schema on first use.
func Open(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("registry: open %q: %w", path, err)
	}
	r := &Registry{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: migrate: %w", err)
	}
	return r, nil
}

func (r *Registry) Close() error { return r.db.Close() }

func (r *Registry) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS identities (
			input_name TEXT NOT NULL,
			provider_stream_id TEXT NOT NULL,
			virtual_id INTEGER NOT NULL,
			chno INTEGER NOT NULL DEFAULT 0,
			last_seen_run INTEGER NOT NULL,
			PRIMARY KEY (input_name, provider_stream_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_identities_virtual_id ON identities(virtual_id)`,
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			token TEXT NOT NULL DEFAULT '',
			target TEXT NOT NULL DEFAULT '',
			proxy_mode TEXT NOT NULL DEFAULT 'reverse',
			server_name TEXT NOT NULL DEFAULT '',
			epg_timeshift_mins INTEGER NOT NULL DEFAULT 0,
			max_connections INTEGER NOT NULL DEFAULT 1,
			expires_at INTEGER NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 1
		)`,
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Identity is one resolved (input, provider-id) mapping.
type Identity struct {
	InputName        string
	ProviderStreamID string
	VirtualID        uint64
	Chno             int
	LastSeenRun      int64
}

// Resolve returns the existing virtual ID for (inputName, providerStreamID)
// if present, else mints one via rewrite.DeriveVirtualID and persists it,
// so the identity invariant (same inputs → same virtual ID forever) holds
// across process restarts, not just within one run.
func (r *Registry) Resolve(inputName, providerStreamID string, cluster rewrite.Cluster, run int64) (Identity, error) {
	var id Identity
	row := r.db.QueryRow(
		`SELECT input_name, provider_stream_id, virtual_id, chno, last_seen_run
		 FROM identities WHERE input_name = ? AND provider_stream_id = ?`,
		inputName, providerStreamID)
	err := row.Scan(&id.InputName, &id.ProviderStreamID, &id.VirtualID, &id.Chno, &id.LastSeenRun)
	if err == nil {
		id.LastSeenRun = run
		_, uerr := r.db.Exec(`UPDATE identities SET last_seen_run = ? WHERE input_name = ? AND provider_stream_id = ?`,
			run, inputName, providerStreamID)
		return id, uerr
	}
	if err != sql.ErrNoRows {
		return Identity{}, fmt.Errorf("registry: resolve: %w", err)
	}

	id = Identity{
		InputName:        inputName,
		ProviderStreamID: providerStreamID,
		VirtualID:        rewrite.DeriveVirtualID(inputName, providerStreamID, cluster),
		LastSeenRun:      run,
	}
	_, err = r.db.Exec(
		`INSERT INTO identities (input_name, provider_stream_id, virtual_id, chno, last_seen_run)
		 VALUES (?, ?, ?, 0, ?)`,
		id.InputName, id.ProviderStreamID, id.VirtualID, id.LastSeenRun)
	if err != nil {
		return Identity{}, fmt.Errorf("registry: insert: %w", err)
	}
	return id, nil
}

// AssignChno sets the channel number for an already-resolved identity,
// deterministically derived by the caller from (sort position, counter
// rules) per spec.md §4.6.
func (r *Registry) AssignChno(inputName, providerStreamID string, chno int) error {
	_, err := r.db.Exec(`UPDATE identities SET chno = ? WHERE input_name = ? AND provider_stream_id = ?`,
		chno, inputName, providerStreamID)
	return err
}

// PruneStale deletes identities whose last_seen_run is older than
// keepRun - 1, i.e. retains exactly one generation beyond the current run
// before pruning, so streams open during a refresh survive it (spec.md
// §4.6: "items missing from the new snapshot are retained for one
// generation... then pruned").
func (r *Registry) PruneStale(currentRun int64) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM identities WHERE last_seen_run < ?`, currentRun-1)
	if err != nil {
		return 0, fmt.Errorf("registry: prune: %w", err)
	}
	return res.RowsAffected()
}

// User is one entry in the simple keyed user store (spec.md §3: "no
// persistent user database engine", just a keyed store — SQLite here
// backs that store, it is not exposed as a general RDBMS feature).
// Fields mirror spec.md §3's User record exactly: {username,
// password_hash, token?, target, proxy_mode, server_name?,
// epg_timeshift?, max_connections, status, exp_date?, ui_enabled}.
type User struct {
	Username       string
	Password       string
	Token          string // optional bearer alternative to username/password
	Target         string // which target playlist this user resolves against
	ProxyMode      string // redirect | reverse | reverse[subset]; empty defers to the target's default
	ServerName     string
	EPGTimeshift   time.Duration // applied to xmltv.php programme times
	MaxConnections int
	ExpiresAt      time.Time // zero value = never expires
	Enabled        bool
}

func (r *Registry) PutUser(u User) error {
	var expires int64
	if !u.ExpiresAt.IsZero() {
		expires = u.ExpiresAt.Unix()
	}
	enabled := 0
	if u.Enabled {
		enabled = 1
	}
	_, err := r.db.Exec(
		`INSERT INTO users (username, password, token, target, proxy_mode, server_name, epg_timeshift_mins, max_connections, expires_at, enabled)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET
			password = excluded.password,
			token = excluded.token,
			target = excluded.target,
			proxy_mode = excluded.proxy_mode,
			server_name = excluded.server_name,
			epg_timeshift_mins = excluded.epg_timeshift_mins,
			max_connections = excluded.max_connections,
			expires_at = excluded.expires_at,
			enabled = excluded.enabled`,
		u.Username, u.Password, u.Token, u.Target, u.ProxyMode, u.ServerName,
		int64(u.EPGTimeshift/time.Minute), u.MaxConnections, expires, enabled)
	return err
}

func (r *Registry) GetUser(username string) (User, bool, error) {
	var u User
	var expires int64
	var enabled int
	var timeshiftMins int64
	row := r.db.QueryRow(
		`SELECT username, password, token, target, proxy_mode, server_name, epg_timeshift_mins, max_connections, expires_at, enabled
		 FROM users WHERE username = ?`,
		username)
	err := row.Scan(&u.Username, &u.Password, &u.Token, &u.Target, &u.ProxyMode, &u.ServerName,
		&timeshiftMins, &u.MaxConnections, &expires, &enabled)
	if err == sql.ErrNoRows {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, fmt.Errorf("registry: get user: %w", err)
	}
	if expires != 0 {
		u.ExpiresAt = time.Unix(expires, 0)
	}
	u.EPGTimeshift = time.Duration(timeshiftMins) * time.Minute
	u.Enabled = enabled != 0
	return u, true, nil
}

// GetUserByToken looks up a user by their bearer token (the `?token=T`
// alternative to username/password spec.md §5's M3U endpoint accepts).
func (r *Registry) GetUserByToken(token string) (User, bool, error) {
	var username string
	err := r.db.QueryRow(`SELECT username FROM users WHERE token = ? AND token != ''`, token).Scan(&username)
	if err == sql.ErrNoRows {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, fmt.Errorf("registry: get user by token: %w", err)
	}
	return r.GetUser(username)
}

// Expired reports whether u's expiry has passed. A zero ExpiresAt never
// expires (spec.md §8 boundary behavior analogue for users).
func (u User) Expired(now time.Time) bool {
	return !u.ExpiresAt.IsZero() && now.After(u.ExpiresAt)
}
