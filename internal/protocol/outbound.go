package protocol

import (
	"fmt"

	"github.com/steven-mosley/idleverse/internal/game/character"
	"github.com/steven-mosley/idleverse/internal/game/geom"
	"github.com/steven-mosley/idleverse/internal/game/resource"
	"github.com/steven-mosley/idleverse/internal/game/world"
)

// Player is the client view of a character.
type Player struct {
	ID                string                    `json:"id"`
	Name              string                    `json:"name"`
	Position          geom.Vec2                 `json:"position"`
	State             character.State           `json:"state"`
	TargetResource    *int64                    `json:"targetResource"`
	Waypoint          *geom.Vec2                `json:"waypoint,omitempty"`
	ActionProgress    float64                   `json:"actionProgress"`
	Inventory         map[resource.Type]float64 `json:"inventory"`
	MoveSpeed         float64                   `json:"moveSpeed"`
	GatherSpeed       float64                   `json:"gatherSpeed"`
	Attributes        character.AbilityScores   `json:"attributes"`
	ResourcesGathered float64                   `json:"resourcesGathered"`
	IsAI              bool                      `json:"isAI"`
	AIType            character.AIType          `json:"aiType,omitempty"`
}

// PlayerFrom builds the client view of c.
func PlayerFrom(c *character.Character) Player {
	p := Player{
		ID:                c.ID,
		Name:              c.Name,
		Position:          c.Position,
		State:             c.State,
		TargetResource:    c.TargetResource,
		Waypoint:          c.Waypoint,
		ActionProgress:    c.ActionProgress,
		Inventory:         c.Inventory,
		MoveSpeed:         c.MoveSpeed,
		GatherSpeed:       c.GatherSpeed,
		Attributes:        c.Abilities,
		ResourcesGathered: c.ResourcesGathered,
		IsAI:              c.IsAI(),
	}
	if p.Inventory == nil {
		p.Inventory = map[resource.Type]float64{}
	}
	if c.AI != nil {
		p.AIType = c.AI.Type
	}
	return p
}

// GameState is the full snapshot sent on join and on request.
type GameState struct {
	Players       map[string]Player `json:"players"`
	Resources     []resource.Node   `json:"resources"`
	WorldTime     float64           `json:"worldTime"`
	FormattedTime string            `json:"formattedTime"`
}

// BuildGameState converts a registry snapshot. Empty collections encode as
// {} and [], never null.
func BuildGameState(s world.Snapshot) GameState {
	gs := GameState{
		Players:       make(map[string]Player, len(s.Characters)),
		Resources:     s.Resources,
		WorldTime:     s.Time,
		FormattedTime: FormatTime(s.Time),
	}
	if gs.Resources == nil {
		gs.Resources = []resource.Node{}
	}
	for _, c := range s.Characters {
		gs.Players[c.ID] = PlayerFrom(c)
	}
	return gs
}

// FormatTime renders world seconds as HH:MM on a day of 24 real minutes,
// one in-game hour per real minute.
func FormatTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int64(seconds)
	return fmt.Sprintf("%02d:%02d", (total/60)%24, total%60)
}

// ChatRelay is the chatMessage payload sent to clients.
type ChatRelay struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Message    string `json:"message"`
}

// AuthSuccess acknowledges a valid credential.
type AuthSuccess struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
}

// AuthError reports a rejected credential before the guest fallback.
type AuthError struct {
	Message string `json:"message"`
}

// EventFrame maps a registry event to its outbound frame. The boolean is
// false for events that have no client representation.
func EventFrame(ev world.Event) (Frame, bool) {
	switch ev.Kind {
	case world.CharacterJoined:
		return Frame{Type: TypePlayerJoined, Data: PlayerFrom(ev.Character)}, true
	case world.CharacterMoved:
		return Frame{Type: TypePlayerMoved, Data: PlayerFrom(ev.Character)}, true
	case world.CharacterUpdated:
		return Frame{Type: TypePlayerUpdated, Data: PlayerFrom(ev.Character)}, true
	case world.CharacterLeft:
		return Frame{Type: TypePlayerLeft, Data: ev.Character.ID}, true
	case world.ResourceUpdated:
		return Frame{Type: TypeResourceUpdated, Data: *ev.Resource}, true
	case world.ResourceSpawned:
		return Frame{Type: TypeResourceSpawned, Data: *ev.Resource}, true
	case world.ChatRelayed:
		return Frame{Type: TypeChatMessage, Data: ChatRelay{
			PlayerID:   ev.Chat.CharacterID,
			PlayerName: ev.Chat.Name,
			Message:    ev.Chat.Message,
		}}, true
	}
	return Frame{}, false
}

// EncodeEvent maps and marshals a registry event.
func EncodeEvent(ev world.Event) ([]byte, bool, error) {
	f, ok := EventFrame(ev)
	if !ok {
		return nil, false, nil
	}
	b, err := Encode(f.Type, f.Data)
	return b, true, err
}
