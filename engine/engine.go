// Package engine runs the turn state machine of one match: attempts, wildcards,
// scoring, the turn countdown and the end of the game.
//
// An Engine is not safe for concurrent use. The match session calls every
// method from its own loop; timer ticks, capture results and server events
// are dispatched there first.
package engine

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/methodiva/littleLetters/config"
	"github.com/methodiva/littleLetters/label"
	"github.com/methodiva/littleLetters/logger"
	"github.com/methodiva/littleLetters/models"
	"github.com/methodiva/littleLetters/state"
)

var (
	ErrMissingDependency = errors.New("missing engine dependency")
	ErrAlreadyStarted    = errors.New("turn engine already started")
	ErrNoTurn            = errors.New("game state has no current turn")
)

// Ticker drives Tick once per second. Start and Stop must be idempotent.
type Ticker interface {
	Start()
	Stop()
}

// Pipeline captures an image and recognizes it. The result must come back
// through OnCaptureResult with the same attempt id.
type Pipeline interface {
	RequestCapture(attemptID uint64)
}

// Intents are the requests the engine asks the server to confirm. They are
// fire-and-forget and must not call back into the engine synchronously.
type Intents interface {
	PlayChance(chances int)
	PlayWord(score int, word string, wildCards int, wildCardPosition int)
	UseWildCard(wildCards int)
	GameOver()
}

type Dependencies struct {
	Game     *models.GameState
	Rules    config.GameConfig
	Ticker   Ticker
	Pipeline Pipeline
	Intents  Intents
	Observer Observer
}

type Engine struct {
	game     *models.GameState
	rules    config.GameConfig
	ticker   Ticker
	pipeline Pipeline
	intents  Intents
	observer Observer
	machine  *state.Machine

	secondsRemaining int
	countdownActive  bool
	visible          bool

	capturing    bool
	attemptID    uint64
	pending      models.RequestKind
	stalled      models.RequestKind
	wildCardMode bool

	over    bool
	stopped bool
	result  models.Result
}

func New(deps Dependencies) (*Engine, error) {
	switch {
	case deps.Game == nil:
		return nil, fmt.Errorf("%w: game state", ErrMissingDependency)
	case deps.Ticker == nil:
		return nil, fmt.Errorf("%w: ticker", ErrMissingDependency)
	case deps.Pipeline == nil:
		return nil, fmt.Errorf("%w: capture pipeline", ErrMissingDependency)
	case deps.Intents == nil:
		return nil, fmt.Errorf("%w: intents", ErrMissingDependency)
	}
	if err := deps.Rules.Validate(); err != nil {
		return nil, err
	}
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}

	e := &Engine{
		game:     deps.Game,
		rules:    deps.Rules,
		ticker:   deps.Ticker,
		pipeline: deps.Pipeline,
		intents:  deps.Intents,
		observer: deps.Observer,
		machine:  state.NewMachine(state.Idle),
		visible:  true,
	}
	e.registerTransitions()
	return e, nil
}

func (e *Engine) registerTransitions() {
	m := e.machine
	for _, to := range []state.Phase{state.TurnActive, state.WildCardMode, state.AwaitingOpponent, state.GameOver} {
		m.AddTransition(state.Idle, to, nil)
		m.AddTransition(state.WaitingForCapture, to, nil)
	}
	for _, from := range []state.Phase{state.TurnActive, state.WildCardMode} {
		m.AddTransition(from, state.WaitingForCapture, e.CanAttempt)
		m.AddTransition(from, state.AwaitingOpponent, nil)
		m.AddTransition(from, state.GameOver, nil)
	}
	m.AddTransition(state.TurnActive, state.WildCardMode, nil)
	m.AddTransition(state.WildCardMode, state.TurnActive, nil)
	m.AddTransition(state.AwaitingOpponent, state.TurnActive, nil)
	m.AddTransition(state.AwaitingOpponent, state.WildCardMode, nil)
	m.AddTransition(state.AwaitingOpponent, state.GameOver, nil)

	m.OnEnter(state.WaitingForCapture, func(state.Phase) {
		e.capturing = true
		e.attemptID++
		e.ticker.Stop()
		logger.Log.Debugf("game %s: capture attempt %d", e.game.GameID, e.attemptID)
		e.pipeline.RequestCapture(e.attemptID)
	})
	m.OnEnter(state.GameOver, func(state.Phase) {
		e.ticker.Stop()
	})
}

// StartTurn hands a populated game state to the engine and starts the first countdown.
func (e *Engine) StartTurn() error {
	if e.machine.Current() != state.Idle {
		return ErrAlreadyStarted
	}
	if e.game.CurrentTurn == "" {
		return ErrNoTurn
	}
	e.wildCardMode = e.game.IsWildCardLetter()
	e.startCountdown()
	e.settle()
	e.publishAll()
	logger.Log.Infof("game %s: match started, local turn: %v, letter %q",
		e.game.GameID, e.game.IsLocalTurn(), e.game.CurrentLetter)
	return nil
}

// CanAttempt reports whether the local player may capture a new word now.
func (e *Engine) CanAttempt() bool {
	if e.over || e.stopped || e.processing() || e.stalled != "" || !e.game.IsLocalTurn() {
		return false
	}
	return e.game.Local.Attempts > 0 || e.game.IsWildCardLetter()
}

// OnScreenTapped starts a capture attempt. A tap that cannot start one re-sends
// a wildcard or game-over request that previously failed, otherwise it does nothing.
func (e *Engine) OnScreenTapped() bool {
	if e.stopped {
		return false
	}
	if !e.CanAttempt() {
		if e.RetryStalled() {
			return true
		}
		logger.Log.Debugf("game %s: tap ignored in phase %s", e.game.GameID, e.machine.Current())
		return false
	}
	return e.change(state.WaitingForCapture)
}

// OnCaptureResult receives the recognizer output for an attempt. Results for
// any attempt but the one in flight are dropped.
func (e *Engine) OnCaptureResult(attemptID uint64, candidates []label.Candidate, err error) {
	if e.stopped || !e.capturing || attemptID != e.attemptID {
		logger.Log.Debugf("game %s: dropping stale capture result %d", e.game.GameID, attemptID)
		return
	}
	e.capturing = false

	if err != nil {
		logger.Log.Warnf("game %s: capture failed: %v", e.game.GameID, err)
		e.resumeTicker()
		e.settle()
		return
	}

	word, found := label.SelectWord(candidates, e.game.CurrentLetter)
	switch {
	case !found && e.game.IsWildCardLetter():
		logger.Log.Debugf("game %s: no word found in wildcard mode, retry allowed", e.game.GameID)
		e.resumeTicker()
	case !found:
		e.emitPlayChance()
	case e.isCorrect(word):
		e.emitPlayWord(word)
	default:
		logger.Log.Infof("game %s: %s does not start with %q", e.game.GameID, word, e.game.CurrentLetter)
		e.emitPlayChance()
	}
	e.settle()
}

func (e *Engine) isCorrect(word string) bool {
	if e.game.IsWildCardLetter() {
		return true
	}
	first, ok := models.FirstLetter(word)
	return ok && first == e.game.CurrentLetter
}

// ScoreFor is the score a correct word earns: its length, or nothing in wildcard mode.
func ScoreFor(word string, wildCard bool) int {
	if wildCard {
		return 0
	}
	return utf8.RuneCountInString(word)
}

// Disposition is what ApplyEvent did with an event.
type Disposition int

const (
	Applied Disposition = iota
	// Duplicate events are at or behind the local step.
	Duplicate
	Foreign
	// Stale events arrive after the match ended or no longer fit the state.
	Stale
	// Gap events skip past steps this device never saw and carry no state to
	// catch up from. The caller should fetch a snapshot and Resync.
	Gap
)

func (d Disposition) String() string {
	switch d {
	case Applied:
		return "applied"
	case Duplicate:
		return "duplicate"
	case Foreign:
		return "foreign"
	case Stale:
		return "stale"
	case Gap:
		return "gap"
	}
	return fmt.Sprintf("disposition(%d)", int(d))
}

// ApplyEvent applies a server-confirmed event. An event that skips steps is
// applied through its snapshot when it has one.
func (e *Engine) ApplyEvent(ev models.Event) Disposition {
	if e.stopped || e.over {
		logger.Log.Debugf("game %s: ignoring %s after match end", e.game.GameID, ev.Type)
		return Stale
	}
	if ev.GameID != "" && ev.GameID != e.game.GameID {
		logger.Log.Warnf("game %s: ignoring %s for foreign game %s", e.game.GameID, ev.Type, ev.GameID)
		return Foreign
	}
	if ev.Step != 0 && ev.Step <= e.game.Step {
		logger.Log.Debugf("game %s: duplicate %s at step %d (state at %d)", e.game.GameID, ev.Type, ev.Step, e.game.Step)
		return Duplicate
	}
	if ev.Step > e.game.Step+1 && ev.Type != models.EventGameOver {
		if ev.State == nil {
			logger.Log.Warnf("game %s: %s at step %d, missed steps after %d", e.game.GameID, ev.Type, ev.Step, e.game.Step)
			return Gap
		}
		snap := *ev.State
		if snap.Step < ev.Step {
			snap.Step = ev.Step
		}
		if !e.Resync(snap) {
			return Stale
		}
		return Applied
	}

	var applied bool
	switch ev.Type {
	case models.EventGameStarted:
		applied = e.applyGameStarted(ev)
	case models.EventChancePlayed:
		applied = e.applyChancePlayed(ev)
	case models.EventWildCardUsed:
		applied = e.applyWildCardUsed(ev)
	case models.EventWordPlayed:
		applied = e.applyWordPlayed(ev)
	case models.EventGameOver:
		e.applyGameOver(ev)
		return Applied
	default:
		logger.Log.Warnf("game %s: unknown event type %q", e.game.GameID, ev.Type)
		return Stale
	}
	if !applied {
		return Stale
	}
	if ev.Step > e.game.Step {
		e.game.Step = ev.Step
	}
	e.settle()
	return Applied
}

// Resync adopts a server snapshot that is ahead of the local state, after
// pushes were lost. Requests still in flight are forgotten; their
// confirmations are at or behind the snapshot's step. It reports whether the
// snapshot was adopted.
func (e *Engine) Resync(snap models.Snapshot) bool {
	if e.stopped || e.over {
		return false
	}
	if snap.GameID != "" && snap.GameID != e.game.GameID {
		logger.Log.Warnf("game %s: ignoring snapshot of foreign game %s", e.game.GameID, snap.GameID)
		return false
	}
	if snap.Step <= e.game.Step {
		return false
	}
	logger.Log.Infof("game %s: resyncing from step %d to %d", e.game.GameID, e.game.Step, snap.Step)

	if snap.Status == models.StatusOver {
		e.applyGameOver(models.Event{GameID: snap.GameID, Type: models.EventGameOver, Step: snap.Step, State: &snap})
		return true
	}
	prevTurn := e.game.CurrentTurn
	e.game.ApplySnapshot(snap)
	if e.machine.Current() == state.Idle {
		return e.StartTurn() == nil
	}

	e.pending = ""
	e.stalled = ""
	e.wildCardMode = e.game.IsWildCardLetter()
	if e.game.CurrentTurn != prevTurn || e.secondsRemaining <= 0 {
		e.capturing = false
		e.startCountdown()
	} else {
		e.countdownActive = true
		e.resumeTicker()
	}
	if e.game.IsLocalTurn() && !e.capturing && !e.game.IsWildCardLetter() && e.game.Local.Attempts <= 0 {
		if e.game.Local.WildCards > 0 {
			e.emitUseWildCard()
		} else {
			e.emitGameOver()
		}
	}
	e.settle()
	e.publishAll()
	return true
}

func (e *Engine) applyGameStarted(ev models.Event) bool {
	if e.machine.Current() != state.Idle {
		return false
	}
	if ev.State != nil {
		e.game.ApplySnapshot(*ev.State)
	}
	return e.StartTurn() == nil
}

func (e *Engine) applyChancePlayed(ev models.Event) bool {
	p := e.game.PlayerFor(ev.DeviceID)
	if p == nil || ev.DeviceID != e.game.CurrentTurn || ev.Chances >= p.Attempts || ev.Chances < 0 {
		logger.Log.Debugf("game %s: stale chancePlayed from %s (%d chances, have %d)",
			e.game.GameID, ev.DeviceID, ev.Chances, attemptsOf(p))
		return false
	}
	p.Attempts = ev.Chances
	e.observer.OnAttemptsChanged(e.game.Local.Attempts, e.game.Local.WildCards)

	if p != &e.game.Local {
		return true
	}
	if e.pending == models.RequestPlayChance {
		e.pending = ""
	}
	if p.Attempts > 0 {
		e.resumeTicker()
		return true
	}
	if p.WildCards > 0 {
		e.emitUseWildCard()
	} else {
		e.emitGameOver()
	}
	return true
}

func (e *Engine) applyWildCardUsed(ev models.Event) bool {
	p := e.game.PlayerFor(ev.DeviceID)
	if p == nil || ev.DeviceID != e.game.CurrentTurn || ev.WildCards >= p.WildCards || ev.WildCards < 0 {
		logger.Log.Debugf("game %s: stale wildCardUsed from %s", e.game.GameID, ev.DeviceID)
		return false
	}
	p.WildCards = ev.WildCards
	p.Attempts = e.rules.MaxAttemptsPerTurn
	e.game.CurrentLetter = models.WildCardLetter
	e.wildCardMode = true

	if p == &e.game.Local {
		if e.pending == models.RequestUseWildCard {
			e.pending = ""
		}
		e.stalled = ""
	}
	if e.secondsRemaining <= 0 {
		e.startCountdown()
	} else {
		e.countdownActive = true
		e.resumeTicker()
	}
	e.observer.OnLetterChanged(e.game.CurrentLetter)
	e.observer.OnAttemptsChanged(e.game.Local.Attempts, e.game.Local.WildCards)
	return true
}

func (e *Engine) applyWordPlayed(ev models.Event) bool {
	p := e.game.PlayerFor(ev.DeviceID)
	last, ok := models.LastLetter(ev.Word)
	if p == nil || !ok || ev.DeviceID != e.game.CurrentTurn {
		logger.Log.Debugf("game %s: stale wordPlayed %q from %s", e.game.GameID, ev.Word, ev.DeviceID)
		return false
	}

	p.Score = ev.Score
	e.game.CurrentLetter = last
	e.wildCardMode = false
	e.game.CurrentTurn = e.game.OtherDevice(ev.DeviceID)
	if next := e.game.PlayerFor(e.game.CurrentTurn); next != nil {
		next.Attempts = e.rules.MaxAttemptsPerTurn
	}
	if ev.State != nil {
		e.game.ApplySnapshot(*ev.State)
	}

	if p == &e.game.Local {
		e.pending = ""
		e.stalled = ""
		e.capturing = false
	}
	logger.Log.Infof("game %s: %s played %s, next letter %q", e.game.GameID, ev.DeviceID, ev.Word, e.game.CurrentLetter)

	e.startCountdown()
	e.observer.OnScoreChanged(e.game.Local.Score, e.game.Remote.Score)
	e.observer.OnLetterChanged(e.game.CurrentLetter)
	e.observer.OnTurnChanged(e.game.IsLocalTurn())
	e.observer.OnAttemptsChanged(e.game.Local.Attempts, e.game.Local.WildCards)
	return true
}

func (e *Engine) applyGameOver(ev models.Event) {
	if ev.State != nil {
		e.game.ApplySnapshot(*ev.State)
	}
	if ev.Step > e.game.Step {
		e.game.Step = ev.Step
	}
	e.over = true
	e.capturing = false
	e.pending = ""
	e.stalled = ""
	e.countdownActive = false
	e.result = models.ResultFor(e.game.Local.Score, e.game.Remote.Score)
	e.change(state.GameOver)

	logger.Log.Infof("game %s: over, %s %d - %d", e.game.GameID, e.result, e.game.Local.Score, e.game.Remote.Score)
	e.observer.OnGameOver(GameSummary{
		Result:      e.result,
		LocalName:   e.game.Local.Name,
		LocalScore:  e.game.Local.Score,
		RemoteName:  e.game.Remote.Name,
		RemoteScore: e.game.Remote.Score,
	})
}

// OnIntentFailed returns the engine to where it was before the request was
// sent. Nothing is decremented; the player can try again.
func (e *Engine) OnIntentFailed(kind models.RequestKind, err error) {
	if e.stopped || e.over || kind != e.pending {
		return
	}
	logger.Log.Warnf("game %s: %s request failed: %v", e.game.GameID, kind, err)
	e.pending = ""
	switch kind {
	case models.RequestUseWildCard, models.RequestGameOver:
		e.stalled = kind
	default:
		e.resumeTicker()
	}
	e.settle()
}

// RetryStalled re-sends a wildcard or game-over request that failed. It
// reports whether one was sent.
func (e *Engine) RetryStalled() bool {
	if e.stopped || e.over || e.stalled == "" || e.pending != "" {
		return false
	}
	logger.Log.Infof("game %s: re-sending %s", e.game.GameID, e.stalled)
	e.resend()
	e.settle()
	return true
}

// Tick advances the countdown by one second.
func (e *Engine) Tick() {
	if e.stopped || e.over || !e.countdownActive || e.processing() {
		return
	}
	e.secondsRemaining--
	if e.secondsRemaining < 0 {
		e.secondsRemaining = 0
	}
	e.observer.OnTimerChanged(e.secondsRemaining)
	if e.secondsRemaining > 0 {
		return
	}

	e.countdownActive = false
	e.ticker.Stop()
	if !e.game.IsLocalTurn() {
		return
	}
	logger.Log.Infof("game %s: turn timed out", e.game.GameID)
	if e.game.Local.WildCards > 0 {
		e.emitUseWildCard()
	} else {
		e.emitGameOver()
	}
	e.settle()
}

func (e *Engine) Show() {
	if e.stopped {
		return
	}
	e.visible = true
	e.observer.OnVisibilityChanged(true)
	if !e.RetryStalled() {
		e.resumeTicker()
	}
}

// Hide pauses the countdown while the game screen is in the background.
func (e *Engine) Hide() {
	e.visible = false
	e.ticker.Stop()
	e.observer.OnVisibilityChanged(false)
}

func (e *Engine) OnTimerTapped() {
	e.observer.OnTurnSummary(TurnSummary{
		SecondsRemaining: e.secondsRemaining,
		Score:            fmt.Sprintf("%d - %d", e.game.Local.Score, e.game.Remote.Score),
		Attempts:         e.game.Local.Attempts,
		WildCards:        e.game.Local.WildCards,
	})
}

// Stop tears the engine down. Every later call is a no-op.
func (e *Engine) Stop() {
	e.stopped = true
	e.countdownActive = false
	e.capturing = false
	e.pending = ""
	e.ticker.Stop()
}

func (e *Engine) Phase() state.Phase { return e.machine.Current() }

func (e *Engine) SecondsRemaining() int { return e.secondsRemaining }

func (e *Engine) IsProcessingAttempt() bool { return e.processing() }

func (e *Engine) IsWildCardModeActive() bool { return e.wildCardMode }

// Pending is the request awaiting server confirmation, if any.
func (e *Engine) Pending() models.RequestKind { return e.pending }

// Stalled is the wildcard or game-over request that failed and waits to be re-sent.
func (e *Engine) Stalled() models.RequestKind { return e.stalled }

// Result reports the match outcome once the game is over.
func (e *Engine) Result() (models.Result, bool) {
	return e.result, e.over
}

func (e *Engine) processing() bool {
	return e.capturing || e.pending != ""
}

func (e *Engine) emitPlayChance() {
	e.pending = models.RequestPlayChance
	e.intents.PlayChance(e.game.Local.Attempts - 1)
}

func (e *Engine) emitPlayWord(word string) {
	wild := e.game.IsWildCardLetter()
	position := models.NoWildCardPosition
	if wild {
		position = 0
	}
	e.pending = models.RequestPlayWord
	e.intents.PlayWord(e.game.Local.Score+ScoreFor(word, wild), word, e.game.Local.WildCards, position)
}

func (e *Engine) emitUseWildCard() {
	e.pending = models.RequestUseWildCard
	e.ticker.Stop()
	e.intents.UseWildCard(e.game.Local.WildCards - 1)
}

func (e *Engine) emitGameOver() {
	e.pending = models.RequestGameOver
	e.ticker.Stop()
	e.intents.GameOver()
}

func (e *Engine) resend() {
	kind := e.stalled
	e.stalled = ""
	switch kind {
	case models.RequestUseWildCard:
		e.emitUseWildCard()
	case models.RequestGameOver:
		e.emitGameOver()
	}
}

func (e *Engine) startCountdown() {
	e.secondsRemaining = e.rules.TurnLengthSeconds
	e.countdownActive = true
	e.observer.OnTimerChanged(e.secondsRemaining)
	e.resumeTicker()
}

func (e *Engine) resumeTicker() {
	if e.countdownActive && e.visible && !e.processing() && !e.over && !e.stopped {
		e.ticker.Start()
	}
}

// settle moves the machine to the phase the current state implies.
func (e *Engine) settle() {
	var target state.Phase
	switch {
	case e.over:
		target = state.GameOver
	case e.capturing:
		target = state.WaitingForCapture
	case e.pending == models.RequestPlayWord || !e.game.IsLocalTurn():
		target = state.AwaitingOpponent
	case e.game.IsWildCardLetter():
		target = state.WildCardMode
	default:
		target = state.TurnActive
	}
	if target != e.machine.Current() {
		e.change(target)
	}
}

func (e *Engine) change(to state.Phase) bool {
	if err := e.machine.ChangeState(to); err != nil {
		logger.Log.Errorf("game %s: %v", e.game.GameID, err)
		return false
	}
	e.observer.OnPhaseChanged(to)
	return true
}

func (e *Engine) publishAll() {
	e.observer.OnTurnChanged(e.game.IsLocalTurn())
	e.observer.OnLetterChanged(e.game.CurrentLetter)
	e.observer.OnScoreChanged(e.game.Local.Score, e.game.Remote.Score)
	e.observer.OnAttemptsChanged(e.game.Local.Attempts, e.game.Local.WildCards)
}

func attemptsOf(p *models.PlayerState) int {
	if p == nil {
		return -1
	}
	return p.Attempts
}
