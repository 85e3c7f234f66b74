// Package sqlite is a single-file storage.Store on modernc.org/sqlite. It
// suits single-node deployments that want durability without a database
// server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/steven-mosley/idleverse/internal/game/character"
	"github.com/steven-mosley/idleverse/internal/game/resource"
	"github.com/steven-mosley/idleverse/internal/storage"
)

// Store implements storage.Store on an SQLite database file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Open opens or creates the database at path and ensures the schema.
//
// Precondition: path must be non-empty.
// Postcondition: Returns a ready Store or a non-nil error.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("empty sqlite path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS players (
			user_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			pos_x REAL NOT NULL,
			pos_y REAL NOT NULL,
			inventory TEXT NOT NULL,
			attributes TEXT NOT NULL,
			move_speed REAL NOT NULL,
			gather_speed REAL NOT NULL,
			resources_gathered REAL NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS resources (
			id INTEGER PRIMARY KEY,
			type TEXT NOT NULL,
			pos_x REAL NOT NULL,
			pos_y REAL NOT NULL,
			amount REAL NOT NULL,
			depleted INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS resources_active ON resources(depleted, id);`,
		`CREATE TABLE IF NOT EXISTS world_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			world_time REAL NOT NULL,
			next_resource_id INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ai_characters (
			store_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			ai_type TEXT NOT NULL,
			pos_x REAL NOT NULL,
			pos_y REAL NOT NULL,
			personality TEXT NOT NULL,
			preferences TEXT NOT NULL,
			exploration_range REAL NOT NULL,
			attributes TEXT NOT NULL,
			inventory TEXT NOT NULL,
			resources_gathered REAL NOT NULL,
			active INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS ai_characters_active ON ai_characters(active, store_id);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("sqlite schema: %w", err)
		}
	}
	return nil
}

func (s *Store) LoadPlayer(ctx context.Context, userID string) (storage.PlayerRecord, error) {
	var (
		p         storage.PlayerRecord
		inv, attr string
		updated   int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, name, pos_x, pos_y, inventory, attributes,
		       move_speed, gather_speed, resources_gathered, updated_at
		FROM players WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.Name, &p.Position.X, &p.Position.Y, &inv, &attr,
		&p.MoveSpeed, &p.GatherSpeed, &p.ResourcesGathered, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.PlayerRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.PlayerRecord{}, fmt.Errorf("loading player %s: %w", userID, err)
	}
	if err := decodeJSON(inv, &p.Inventory); err != nil {
		return storage.PlayerRecord{}, err
	}
	if err := decodeJSON(attr, &p.Attributes); err != nil {
		return storage.PlayerRecord{}, err
	}
	p.UpdatedAt = time.Unix(0, updated)
	return p.Clone(), nil
}

func (s *Store) SavePlayer(ctx context.Context, p storage.PlayerRecord) error {
	p = p.Clone()
	inv, err := encodeJSON(p.Inventory)
	if err != nil {
		return err
	}
	attr, err := encodeJSON(p.Attributes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO players (user_id, name, pos_x, pos_y, inventory, attributes,
			move_speed, gather_speed, resources_gathered, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			name = excluded.name,
			pos_x = excluded.pos_x,
			pos_y = excluded.pos_y,
			inventory = excluded.inventory,
			attributes = excluded.attributes,
			move_speed = excluded.move_speed,
			gather_speed = excluded.gather_speed,
			resources_gathered = excluded.resources_gathered,
			updated_at = excluded.updated_at`,
		p.UserID, p.Name, p.Position.X, p.Position.Y, inv, attr,
		p.MoveSpeed, p.GatherSpeed, p.ResourcesGathered, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("saving player %s: %w", p.UserID, err)
	}
	return nil
}

func (s *Store) UpdatePlayerStats(ctx context.Context, userID string, d storage.StatsDelta) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE players SET resources_gathered = resources_gathered + ?, updated_at = ?
		WHERE user_id = ?`, d.ResourcesGathered, s.now().UnixNano(), userID)
	if err != nil {
		return fmt.Errorf("updating player stats %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating player stats %s: %w", userID, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) SaveResource(ctx context.Context, n resource.Node) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resources (id, type, pos_x, pos_y, amount, depleted, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			pos_x = excluded.pos_x,
			pos_y = excluded.pos_y,
			amount = excluded.amount,
			depleted = excluded.depleted,
			updated_at = excluded.updated_at`,
		n.ID, string(n.Type), n.Position.X, n.Position.Y, n.Amount, n.Depleted, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("saving resource %d: %w", n.ID, err)
	}
	return nil
}

func (s *Store) GetActiveResources(ctx context.Context) ([]resource.Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, pos_x, pos_y, amount, depleted
		FROM resources WHERE depleted = 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing resources: %w", err)
	}
	defer rows.Close()

	out := make([]resource.Node, 0)
	for rows.Next() {
		var n resource.Node
		var typ string
		if err := rows.Scan(&n.ID, &typ, &n.Position.X, &n.Position.Y, &n.Amount, &n.Depleted); err != nil {
			return nil, fmt.Errorf("scanning resource row: %w", err)
		}
		n.Type = resource.Type(typ)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) MaxResourceID(ctx context.Context) (int64, error) {
	var highest int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM resources`).Scan(&highest); err != nil {
		return 0, fmt.Errorf("reading max resource id: %w", err)
	}
	return highest, nil
}

func (s *Store) SaveWorldState(ctx context.Context, w storage.WorldRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO world_state (id, world_time, next_resource_id, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			world_time = excluded.world_time,
			next_resource_id = excluded.next_resource_id,
			updated_at = excluded.updated_at`,
		w.Time, w.NextResourceID, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("saving world state: %w", err)
	}
	return nil
}

func (s *Store) LoadWorldState(ctx context.Context) (storage.WorldRecord, error) {
	var w storage.WorldRecord
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT world_time, next_resource_id, updated_at FROM world_state WHERE id = 1`,
	).Scan(&w.Time, &w.NextResourceID, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.WorldRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.WorldRecord{}, fmt.Errorf("loading world state: %w", err)
	}
	w.UpdatedAt = time.Unix(0, updated)
	return w, nil
}

func (s *Store) SaveAICharacter(ctx context.Context, a storage.AIRecord) error {
	a = a.Clone()
	pers, err := encodeJSON(a.Personality)
	if err != nil {
		return err
	}
	prefs, err := encodeJSON(a.Preferences)
	if err != nil {
		return err
	}
	attr, err := encodeJSON(a.Attributes)
	if err != nil {
		return err
	}
	inv, err := encodeJSON(a.Inventory)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ai_characters (store_id, name, ai_type, pos_x, pos_y, personality, preferences,
			exploration_range, attributes, inventory, resources_gathered, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(store_id) DO UPDATE SET
			name = excluded.name,
			ai_type = excluded.ai_type,
			pos_x = excluded.pos_x,
			pos_y = excluded.pos_y,
			personality = excluded.personality,
			preferences = excluded.preferences,
			exploration_range = excluded.exploration_range,
			attributes = excluded.attributes,
			inventory = excluded.inventory,
			resources_gathered = excluded.resources_gathered,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		a.StoreID, a.Name, string(a.Type), a.Position.X, a.Position.Y, pers, prefs,
		a.ExplorationRange, attr, inv, a.ResourcesGathered, a.Active, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("saving ai character %s: %w", a.StoreID, err)
	}
	return nil
}

func (s *Store) LoadAICharacters(ctx context.Context) ([]storage.AIRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT store_id, name, ai_type, pos_x, pos_y, personality, preferences,
		       exploration_range, attributes, inventory, resources_gathered, active, updated_at
		FROM ai_characters WHERE active = 1 ORDER BY store_id`)
	if err != nil {
		return nil, fmt.Errorf("listing ai characters: %w", err)
	}
	defer rows.Close()

	out := make([]storage.AIRecord, 0)
	for rows.Next() {
		var (
			a                      storage.AIRecord
			typ, pers, prefs, attr string
			inv                    string
			updated                int64
		)
		if err := rows.Scan(&a.StoreID, &a.Name, &typ, &a.Position.X, &a.Position.Y, &pers, &prefs,
			&a.ExplorationRange, &attr, &inv, &a.ResourcesGathered, &a.Active, &updated); err != nil {
			return nil, fmt.Errorf("scanning ai character row: %w", err)
		}
		a.Type = character.AIType(typ)
		if err := errors.Join(
			decodeJSON(pers, &a.Personality),
			decodeJSON(prefs, &a.Preferences),
			decodeJSON(attr, &a.Attributes),
			decodeJSON(inv, &a.Inventory),
		); err != nil {
			return nil, fmt.Errorf("decoding ai character %s: %w", a.StoreID, err)
		}
		a.UpdatedAt = time.Unix(0, updated)
		out = append(out, a.Clone())
	}
	return out, rows.Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding column: %w", err)
	}
	return string(b), nil
}

func decodeJSON(s string, v any) error {
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("decoding column: %w", err)
	}
	return nil
}
