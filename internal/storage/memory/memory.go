// Package memory is an in-process Store. It backs tests and the "memory"
// storage driver, which keeps data only for the life of the process.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/steven-mosley/idleverse/internal/game/resource"
	"github.com/steven-mosley/idleverse/internal/storage"
)

// Store keeps every record in maps guarded by one mutex.
type Store struct {
	mu        sync.Mutex
	players   map[string]storage.PlayerRecord
	resources map[int64]resource.Node
	world     *storage.WorldRecord
	ai        map[string]storage.AIRecord
	now       func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		players:   make(map[string]storage.PlayerRecord),
		resources: make(map[int64]resource.Node),
		ai:        make(map[string]storage.AIRecord),
		now:       time.Now,
	}
}

// Dump is a full copy of a Store's contents.
type Dump struct {
	Players   []storage.PlayerRecord `json:"players"`
	Resources []resource.Node        `json:"resources"`
	World     *storage.WorldRecord   `json:"world,omitempty"`
	AI        []storage.AIRecord     `json:"ai"`
}

// Dump copies the contents in a stable order.
func (s *Store) Dump() Dump {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := Dump{
		Players:   make([]storage.PlayerRecord, 0, len(s.players)),
		Resources: make([]resource.Node, 0, len(s.resources)),
		AI:        make([]storage.AIRecord, 0, len(s.ai)),
	}
	for _, p := range s.players {
		d.Players = append(d.Players, p.Clone())
	}
	slices.SortFunc(d.Players, func(a, b storage.PlayerRecord) int { return cmp.Compare(a.UserID, b.UserID) })
	for _, n := range s.resources {
		d.Resources = append(d.Resources, n)
	}
	slices.SortFunc(d.Resources, func(a, b resource.Node) int { return cmp.Compare(a.ID, b.ID) })
	if s.world != nil {
		w := *s.world
		d.World = &w
	}
	for _, a := range s.ai {
		d.AI = append(d.AI, a.Clone())
	}
	slices.SortFunc(d.AI, func(a, b storage.AIRecord) int { return cmp.Compare(a.StoreID, b.StoreID) })
	return d
}

// Restore replaces the contents with d.
func (s *Store) Restore(d Dump) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.players = make(map[string]storage.PlayerRecord, len(d.Players))
	for _, p := range d.Players {
		s.players[p.UserID] = p.Clone()
	}
	s.resources = make(map[int64]resource.Node, len(d.Resources))
	for _, n := range d.Resources {
		s.resources[n.ID] = n
	}
	s.world = nil
	if d.World != nil {
		w := *d.World
		s.world = &w
	}
	s.ai = make(map[string]storage.AIRecord, len(d.AI))
	for _, a := range d.AI {
		s.ai[a.StoreID] = a.Clone()
	}
}

func (s *Store) LoadPlayer(ctx context.Context, userID string) (storage.PlayerRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.PlayerRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[userID]
	if !ok {
		return storage.PlayerRecord{}, storage.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *Store) SavePlayer(ctx context.Context, p storage.PlayerRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p = p.Clone()
	p.UpdatedAt = s.now()
	s.players[p.UserID] = p
	return nil
}

func (s *Store) UpdatePlayerStats(ctx context.Context, userID string, d storage.StatsDelta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[userID]
	if !ok {
		return storage.ErrNotFound
	}
	p.ResourcesGathered += d.ResourcesGathered
	p.UpdatedAt = s.now()
	s.players[userID] = p
	return nil
}

func (s *Store) SaveResource(ctx context.Context, n resource.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[n.ID] = n
	return nil
}

func (s *Store) GetActiveResources(ctx context.Context) ([]resource.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]resource.Node, 0, len(s.resources))
	for _, n := range s.resources {
		if !n.Depleted {
			out = append(out, n)
		}
	}
	slices.SortFunc(out, func(a, b resource.Node) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) MaxResourceID(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var highest int64
	for id := range s.resources {
		highest = max(highest, id)
	}
	return highest, nil
}

func (s *Store) SaveWorldState(ctx context.Context, w storage.WorldRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w.UpdatedAt = s.now()
	s.world = &w
	return nil
}

func (s *Store) LoadWorldState(ctx context.Context) (storage.WorldRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.WorldRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.world == nil {
		return storage.WorldRecord{}, storage.ErrNotFound
	}
	return *s.world, nil
}

func (s *Store) SaveAICharacter(ctx context.Context, a storage.AIRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a = a.Clone()
	a.UpdatedAt = s.now()
	s.ai[a.StoreID] = a
	return nil
}

func (s *Store) LoadAICharacters(ctx context.Context) ([]storage.AIRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.AIRecord, 0, len(s.ai))
	for _, a := range s.ai {
		if a.Active {
			out = append(out, a.Clone())
		}
	}
	slices.SortFunc(out, func(a, b storage.AIRecord) int { return cmp.Compare(a.StoreID, b.StoreID) })
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }
