package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/steven-mosley/idleverse/internal/game/character"
	"github.com/steven-mosley/idleverse/internal/game/resource"
	"github.com/steven-mosley/idleverse/internal/storage"
)

// Store implements storage.Store on PostgreSQL.
type Store struct {
	pool *Pool
	db   *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// NewStore wraps an open pool. The Store owns the pool and closes it.
//
// Precondition: the schema must be migrated.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool, db: pool.DB()}
}

// LoadPlayer retrieves a player by user id.
//
// Postcondition: Returns the record or storage.ErrNotFound.
func (s *Store) LoadPlayer(ctx context.Context, userID string) (storage.PlayerRecord, error) {
	var p storage.PlayerRecord
	err := s.db.QueryRow(ctx, `
		SELECT user_id, name, pos_x, pos_y, inventory, attributes,
		       move_speed, gather_speed, resources_gathered, updated_at
		FROM players WHERE user_id = $1`,
		userID,
	).Scan(
		&p.UserID, &p.Name, &p.Position.X, &p.Position.Y, &p.Inventory, &p.Attributes,
		&p.MoveSpeed, &p.GatherSpeed, &p.ResourcesGathered, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.PlayerRecord{}, storage.ErrNotFound
		}
		return storage.PlayerRecord{}, fmt.Errorf("loading player %s: %w", userID, err)
	}
	return p.Clone(), nil
}

// SavePlayer upserts a player by user id.
func (s *Store) SavePlayer(ctx context.Context, p storage.PlayerRecord) error {
	p = p.Clone()
	_, err := s.db.Exec(ctx, `
		INSERT INTO players
			(user_id, name, pos_x, pos_y, inventory, attributes,
			 move_speed, gather_speed, resources_gathered, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			name = EXCLUDED.name,
			pos_x = EXCLUDED.pos_x,
			pos_y = EXCLUDED.pos_y,
			inventory = EXCLUDED.inventory,
			attributes = EXCLUDED.attributes,
			move_speed = EXCLUDED.move_speed,
			gather_speed = EXCLUDED.gather_speed,
			resources_gathered = EXCLUDED.resources_gathered,
			updated_at = NOW()`,
		p.UserID, p.Name, p.Position.X, p.Position.Y, p.Inventory, p.Attributes,
		p.MoveSpeed, p.GatherSpeed, p.ResourcesGathered,
	)
	if err != nil {
		return fmt.Errorf("saving player %s: %w", p.UserID, err)
	}
	return nil
}

// UpdatePlayerStats increments a player's counters.
//
// Postcondition: Returns storage.ErrNotFound when no row matched.
func (s *Store) UpdatePlayerStats(ctx context.Context, userID string, d storage.StatsDelta) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE players
		SET resources_gathered = resources_gathered + $2, updated_at = NOW()
		WHERE user_id = $1`,
		userID, d.ResourcesGathered,
	)
	if err != nil {
		return fmt.Errorf("updating player stats %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SaveResource upserts a node by id.
func (s *Store) SaveResource(ctx context.Context, n resource.Node) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO resources (id, type, pos_x, pos_y, amount, depleted, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,NOW())
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			pos_x = EXCLUDED.pos_x,
			pos_y = EXCLUDED.pos_y,
			amount = EXCLUDED.amount,
			depleted = EXCLUDED.depleted,
			updated_at = NOW()`,
		n.ID, string(n.Type), n.Position.X, n.Position.Y, n.Amount, n.Depleted,
	)
	if err != nil {
		return fmt.Errorf("saving resource %d: %w", n.ID, err)
	}
	return nil
}

// GetActiveResources returns every non-depleted node ordered by id.
func (s *Store) GetActiveResources(ctx context.Context) ([]resource.Node, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, type, pos_x, pos_y, amount, depleted
		FROM resources WHERE NOT depleted ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing resources: %w", err)
	}
	defer rows.Close()

	nodes := make([]resource.Node, 0)
	for rows.Next() {
		var n resource.Node
		var typ string
		if err := rows.Scan(&n.ID, &typ, &n.Position.X, &n.Position.Y, &n.Amount, &n.Depleted); err != nil {
			return nil, fmt.Errorf("scanning resource row: %w", err)
		}
		n.Type = resource.Type(typ)
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// MaxResourceID returns the highest node id ever saved, tombstones included.
func (s *Store) MaxResourceID(ctx context.Context) (int64, error) {
	var highest int64
	if err := s.db.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM resources`).Scan(&highest); err != nil {
		return 0, fmt.Errorf("reading max resource id: %w", err)
	}
	return highest, nil
}

// SaveWorldState upserts the single world row.
func (s *Store) SaveWorldState(ctx context.Context, w storage.WorldRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO world_state (id, world_time, next_resource_id, updated_at)
		VALUES ('main', $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET
			world_time = EXCLUDED.world_time,
			next_resource_id = EXCLUDED.next_resource_id,
			updated_at = NOW()`,
		w.Time, w.NextResourceID,
	)
	if err != nil {
		return fmt.Errorf("saving world state: %w", err)
	}
	return nil
}

// LoadWorldState returns the world row or storage.ErrNotFound.
func (s *Store) LoadWorldState(ctx context.Context) (storage.WorldRecord, error) {
	var w storage.WorldRecord
	err := s.db.QueryRow(ctx, `
		SELECT world_time, next_resource_id, updated_at FROM world_state WHERE id = 'main'`,
	).Scan(&w.Time, &w.NextResourceID, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.WorldRecord{}, storage.ErrNotFound
		}
		return storage.WorldRecord{}, fmt.Errorf("loading world state: %w", err)
	}
	return w, nil
}

// SaveAICharacter upserts an AI character by store id.
func (s *Store) SaveAICharacter(ctx context.Context, a storage.AIRecord) error {
	a = a.Clone()
	_, err := s.db.Exec(ctx, `
		INSERT INTO ai_characters
			(store_id, name, ai_type, pos_x, pos_y, personality, preferences,
			 exploration_range, attributes, inventory, resources_gathered, active, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW())
		ON CONFLICT (store_id) DO UPDATE SET
			name = EXCLUDED.name,
			ai_type = EXCLUDED.ai_type,
			pos_x = EXCLUDED.pos_x,
			pos_y = EXCLUDED.pos_y,
			personality = EXCLUDED.personality,
			preferences = EXCLUDED.preferences,
			exploration_range = EXCLUDED.exploration_range,
			attributes = EXCLUDED.attributes,
			inventory = EXCLUDED.inventory,
			resources_gathered = EXCLUDED.resources_gathered,
			active = EXCLUDED.active,
			updated_at = NOW()`,
		a.StoreID, a.Name, string(a.Type), a.Position.X, a.Position.Y, a.Personality, a.Preferences,
		a.ExplorationRange, a.Attributes, a.Inventory, a.ResourcesGathered, a.Active,
	)
	if err != nil {
		return fmt.Errorf("saving ai character %s: %w", a.StoreID, err)
	}
	return nil
}

// LoadAICharacters returns the active AI characters ordered by store id.
func (s *Store) LoadAICharacters(ctx context.Context) ([]storage.AIRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT store_id, name, ai_type, pos_x, pos_y, personality, preferences,
		       exploration_range, attributes, inventory, resources_gathered, active, updated_at
		FROM ai_characters WHERE active ORDER BY store_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing ai characters: %w", err)
	}
	defer rows.Close()

	out := make([]storage.AIRecord, 0)
	for rows.Next() {
		var a storage.AIRecord
		var typ string
		if err := rows.Scan(
			&a.StoreID, &a.Name, &typ, &a.Position.X, &a.Position.Y, &a.Personality, &a.Preferences,
			&a.ExplorationRange, &a.Attributes, &a.Inventory, &a.ResourcesGathered, &a.Active, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning ai character row: %w", err)
		}
		a.Type = character.AIType(typ)
		out = append(out, a.Clone())
	}
	return out, rows.Err()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.DB().Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
