package models

import (
	"unicode"
	"unicode/utf8"
)

// WildCardLetter marks wildcard mode: any word is accepted and scores nothing.
const WildCardLetter = '*'

// PlayerState is one side of a match.
type PlayerState struct {
	DeviceID  string
	Name      string
	Score     int
	Attempts  int
	WildCards int
}

// GameState is the shared record of one match. It is written only from the match
// session's loop; readers on other goroutines must go through the session.
type GameState struct {
	LocalDeviceID string
	GameID        string
	GameKey       int

	CurrentTurn   string
	CurrentLetter rune
	// Step is the last server mutation applied to this state.
	Step int

	Local  PlayerState
	Remote PlayerState
}

// NewGameState returns an empty state for this device.
func NewGameState(localDeviceID string) *GameState {
	return &GameState{
		LocalDeviceID: localDeviceID,
		CurrentLetter: 'A',
		Local:         PlayerState{DeviceID: localDeviceID},
	}
}

func (g GameState) IsLocalTurn() bool {
	return g.CurrentTurn != "" && g.CurrentTurn == g.LocalDeviceID
}

func (g GameState) IsWildCardLetter() bool {
	return g.CurrentLetter == WildCardLetter
}

// Active returns the player whose turn it is.
func (g *GameState) Active() *PlayerState {
	if g.IsLocalTurn() {
		return &g.Local
	}
	return &g.Remote
}

// PlayerFor returns the side owned by deviceID, or nil for a stranger.
func (g *GameState) PlayerFor(deviceID string) *PlayerState {
	switch deviceID {
	case "":
		return nil
	case g.Local.DeviceID:
		return &g.Local
	case g.Remote.DeviceID:
		return &g.Remote
	}
	return nil
}

// OtherDevice returns the device id of the player who is not deviceID.
func (g *GameState) OtherDevice(deviceID string) string {
	if deviceID == g.Local.DeviceID {
		return g.Remote.DeviceID
	}
	return g.Local.DeviceID
}

// ApplySnapshot copies a server snapshot onto the state, mapping playerOne and
// playerTwo onto local and remote by device id.
func (g *GameState) ApplySnapshot(s Snapshot) {
	if s.GameID != "" {
		g.GameID = s.GameID
	}
	if s.GameKey != 0 {
		g.GameKey = s.GameKey
	}
	if s.CurrentTurn != "" {
		g.CurrentTurn = s.CurrentTurn
	}
	if r, ok := FirstLetter(s.CurrentLetter); ok {
		g.CurrentLetter = r
	}
	if s.Step > g.Step {
		g.Step = s.Step
	}

	local, remote := s.PlayerOne, s.PlayerTwo
	if s.PlayerTwo != nil && s.PlayerTwo.DeviceID == g.LocalDeviceID {
		local, remote = s.PlayerTwo, s.PlayerOne
	}
	if local != nil {
		local.applyTo(&g.Local)
		g.Local.DeviceID = g.LocalDeviceID
	}
	if remote != nil {
		remote.applyTo(&g.Remote)
	}
}

func (p *PlayerSnapshot) applyTo(dst *PlayerState) {
	if p.DeviceID != "" {
		dst.DeviceID = p.DeviceID
	}
	if p.Name != "" {
		dst.Name = p.Name
	}
	dst.Score = p.Score
	dst.Attempts = p.Chances
	dst.WildCards = p.WildCards
}

// FirstLetter returns the upper-cased first rune of s.
func FirstLetter(s string) (rune, bool) {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 || r == utf8.RuneError {
		return 0, false
	}
	return unicode.ToUpper(r), true
}

// LastLetter returns the upper-cased last rune of s.
func LastLetter(s string) (rune, bool) {
	r, size := utf8.DecodeLastRuneInString(s)
	if size == 0 || r == utf8.RuneError {
		return 0, false
	}
	return unicode.ToUpper(r), true
}
