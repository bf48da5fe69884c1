package engine

import (
	"github.com/methodiva/littleLetters/models"
	"github.com/methodiva/littleLetters/state"
)

// TurnSummary feeds the secondary "my turn" screen.
type TurnSummary struct {
	SecondsRemaining int
	Score            string
	Attempts         int
	WildCards        int
}

// GameSummary is what the end screen shows.
type GameSummary struct {
	Result      models.Result
	LocalName   string
	LocalScore  int
	RemoteName  string
	RemoteScore int
}

// Observer is the view layer. Callbacks run on the engine's goroutine and must not block.
type Observer interface {
	OnPhaseChanged(phase state.Phase)
	OnVisibilityChanged(visible bool)
	OnTimerChanged(seconds int)
	OnLetterChanged(letter rune)
	OnTurnChanged(isLocalTurn bool)
	OnScoreChanged(local, remote int)
	OnAttemptsChanged(attempts, wildCards int)
	OnTurnSummary(summary TurnSummary)
	OnGameOver(summary GameSummary)
}

// NopObserver ignores every callback. Embed it to implement only some of them.
type NopObserver struct{}

func (NopObserver) OnPhaseChanged(state.Phase) {}
func (NopObserver) OnVisibilityChanged(bool)   {}
func (NopObserver) OnTimerChanged(int)         {}
func (NopObserver) OnLetterChanged(rune)       {}
func (NopObserver) OnTurnChanged(bool)         {}
func (NopObserver) OnScoreChanged(int, int)    {}
func (NopObserver) OnAttemptsChanged(int, int) {}
func (NopObserver) OnTurnSummary(TurnSummary)  {}
func (NopObserver) OnGameOver(GameSummary)     {}
