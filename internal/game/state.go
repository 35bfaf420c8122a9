// Package game decodes the game-master payload pushed to viewers. The
// session client treats the payload as opaque; only display code looks
// inside it.
package game

import (
	"encoding/json"
	"fmt"
	"sort"
)

// TurnStep names a step of the turn structure.
type TurnStep string

const (
	StepUntap             TurnStep = "UNTAP"
	StepUpkeep            TurnStep = "UPKEEP"
	StepDraw              TurnStep = "DRAW"
	StepMain1             TurnStep = "MAIN_1"
	StepBeginCombat       TurnStep = "BEGIN_COMBAT"
	StepDeclareAttackers  TurnStep = "DECLARE_ATTACKERS"
	StepDeclareBlockers   TurnStep = "DECLARE_BLOCKERS"
	StepFirstStrikeDamage TurnStep = "FIRST_STRIKE_DAMAGE"
	StepCombatDamage      TurnStep = "COMBAT_DAMAGE"
	StepEndCombat         TurnStep = "END_COMBAT"
	StepMain2             TurnStep = "MAIN_2"
	StepEnd               TurnStep = "END"
	StepCleanup           TurnStep = "CLEANUP"
)

// BattlefieldCard is one permanent.
type BattlefieldCard struct {
	BattlefieldID int            `json:"battlefield_id"`
	Card          string         `json:"card"`
	Owner         int            `json:"owner"`
	Counters      map[string]int `json:"counters"`
	Tapped        bool           `json:"tapped"`
	Effects       []string       `json:"effects"`
	AttachedTo    *int           `json:"attached_to"`
	MarkedDamage  int            `json:"marked_damage"`
}

// PlayerBoard holds one player's zones.
type PlayerBoard struct {
	Library     []string                   `json:"library"`
	Hand        []string                   `json:"hand"`
	Graveyard   []string                   `json:"graveyard"`
	Exile       []string                   `json:"exile"`
	Life        int                        `json:"life"`
	Counters    map[string]int             `json:"counters"`
	Battlefield map[string]BattlefieldCard `json:"battlefield"`
}

// State is the rules state of a game.
type State struct {
	PlayerBoards      []PlayerBoard `json:"player_boards"`
	Stack             []string      `json:"stack"`
	ActivePlayerIndex int           `json:"active_player_index"`
	TurnStep          TurnStep      `json:"turn_step"`
	TurnNumber        int           `json:"turn_number"`
}

// Master is the whole payload: the rules state plus arbitration metadata.
type Master struct {
	GameState      State  `json:"game_state"`
	PriorityPlayer int    `json:"priority_player"`
	Winner         *int   `json:"winner"`
	PlayerAction   string `json:"player_action"`
}

// Decode parses a game-master payload.
func Decode(raw []byte) (Master, error) {
	var m Master
	if err := json.Unmarshal(raw, &m); err != nil {
		return Master{}, fmt.Errorf("decode game state: %w", err)
	}
	return m, nil
}

// Permanents returns a board's battlefield ordered by battlefield id.
func (b PlayerBoard) Permanents() []BattlefieldCard {
	out := make([]BattlefieldCard, 0, len(b.Battlefield))
	for _, c := range b.Battlefield {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BattlefieldID < out[j].BattlefieldID })
	return out
}

// VisibleCardNames lists each distinct card name in public zones and hands,
// in first-seen order: per player, hand, battlefield, graveyard, exile; then
// the stack. Libraries are hidden.
func (s State) VisibleCardNames() []string {
	seen := map[string]bool{}
	var names []string
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
	}
	for _, b := range s.PlayerBoards {
		for _, n := range b.Hand {
			add(n)
		}
		for _, c := range b.Permanents() {
			add(c.Card)
		}
		for _, n := range b.Graveyard {
			add(n)
		}
		for _, n := range b.Exile {
			add(n)
		}
	}
	for _, n := range s.Stack {
		add(n)
	}
	return names
}
