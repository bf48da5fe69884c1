// Package match owns one two-player match on the device: the handshake that
// creates or joins it and the session loop that drives the turn engine.
package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/methodiva/littleLetters/config"
	"github.com/methodiva/littleLetters/engine"
	"github.com/methodiva/littleLetters/label"
	"github.com/methodiva/littleLetters/logger"
	"github.com/methodiva/littleLetters/models"
	"github.com/methodiva/littleLetters/monitor"
	"github.com/methodiva/littleLetters/protocol"
	"github.com/methodiva/littleLetters/state"
	"github.com/methodiva/littleLetters/timer"
)

var (
	ErrMissingDependency = errors.New("missing match dependency")
	ErrClosed            = errors.New("match session closed")
)

// Back-off for re-sending a stalled request and for re-opening a lost push channel.
var (
	stalledRetryDelay    = 2 * time.Second
	maxStalledRetryDelay = 30 * time.Second
	reconnectDelay       = 500 * time.Millisecond
	maxReconnectDelay    = 30 * time.Second
)

var eventDispositions = map[engine.Disposition]string{
	engine.Applied:   monitor.EventApplied,
	engine.Duplicate: monitor.EventDuplicate,
	engine.Foreign:   monitor.EventForeign,
	engine.Stale:     monitor.EventStale,
	engine.Gap:       monitor.EventGap,
}

// Dependencies are shared by the setup and the session it produces. A client
// serves a single match.
type Dependencies struct {
	Client     *protocol.Client
	Capturer   label.Capturer
	Recognizer label.Recognizer
	Observer   engine.Observer
	Rules      config.GameConfig
	Timers     *timer.TimerManager
	Monitor    *monitor.Monitor
}

func (d Dependencies) validate() error {
	switch {
	case d.Client == nil:
		return fmt.Errorf("%w: protocol client", ErrMissingDependency)
	case d.Capturer == nil:
		return fmt.Errorf("%w: image capture", ErrMissingDependency)
	case d.Recognizer == nil:
		return fmt.Errorf("%w: label recognizer", ErrMissingDependency)
	}
	return d.Rules.Validate()
}

// Session runs every engine call on one goroutine. Timer ticks, capture results,
// request results and pushed events are queued onto it.
type Session struct {
	deps      Dependencies
	game      *models.GameState
	engine    *engine.Engine
	countdown *timer.Countdown
	ownTimers bool

	ctx    context.Context
	cancel context.CancelFunc

	actions   chan func()
	done      chan struct{}
	closeOnce sync.Once

	started   chan struct{}
	startOnce sync.Once
	ended     chan struct{}
	endOnce   sync.Once

	// owned by the loop
	retryDelay time.Duration

	resyncing    atomic.Bool
	reconnecting atomic.Bool
}

func newSession(deps Dependencies, game *models.GameState) (*Session, error) {
	if deps.Observer == nil {
		deps.Observer = engine.NopObserver{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		deps:    deps,
		game:    game,
		ctx:     ctx,
		cancel:  cancel,
		actions: make(chan func(), 16),
		done:    make(chan struct{}),
		started: make(chan struct{}),
		ended:   make(chan struct{}),
	}
	if s.deps.Timers == nil {
		s.deps.Timers = timer.NewTimerManager()
		s.ownTimers = true
	}
	s.countdown = timer.NewCountdown(s.deps.Timers, time.Second, s.onTick)

	eng, err := engine.New(engine.Dependencies{
		Game:     game,
		Rules:    deps.Rules,
		Ticker:   s.countdown,
		Pipeline: s,
		Intents:  deps.Client,
		Observer: &sessionObserver{Observer: deps.Observer, session: s},
	})
	if err != nil {
		cancel()
		if s.ownTimers {
			s.deps.Timers.Close()
		}
		return nil, err
	}
	s.engine = eng

	go s.loop()
	return s, nil
}

func (s *Session) loop() {
	for {
		select {
		case fn := <-s.actions:
			select {
			case <-s.done:
				return
			default:
			}
			fn()
		case <-s.done:
			return
		}
	}
}

// dispatch queues fn onto the session loop. It reports false once the session is closed.
func (s *Session) dispatch(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.actions <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the session loop and waits for it.
func (s *Session) call(fn func()) bool {
	finished := make(chan struct{})
	if !s.dispatch(func() {
		fn()
		close(finished)
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) onTick() {
	s.dispatch(func() {
		// a tick already in flight when the countdown was stopped
		if !s.countdown.Running() {
			return
		}
		s.engine.Tick()
	})
}

func (s *Session) start() error {
	var err error
	if !s.call(func() { err = s.engine.StartTurn() }) {
		return ErrClosed
	}
	return err
}

// RequestCapture runs capture and recognition off the loop and queues the result back.
func (s *Session) RequestCapture(attemptID uint64) {
	gameID := s.game.GameID
	go func() {
		img, err := s.deps.Capturer.Capture(s.ctx)
		var candidates []label.Candidate
		if err == nil {
			candidates, err = s.deps.Recognizer.Recognize(s.ctx, img)
		}
		s.dispatch(func() {
			if s.game.GameID != gameID {
				return
			}
			s.engine.OnCaptureResult(attemptID, candidates, err)
		})
	}()
}

// Deliver queues a server-confirmed event. An event behind a gap triggers a resync.
func (s *Session) Deliver(ev models.Event) {
	s.dispatch(func() {
		disposition := s.engine.ApplyEvent(ev)
		s.deps.Monitor.ObserveEvent(string(ev.Type), eventDispositions[disposition])
		switch disposition {
		case engine.Applied:
			if s.engine.Stalled() == "" {
				s.retryDelay = 0
			}
		case engine.Gap:
			s.resync()
		}
	})
}

// Failed queues a request failure. A failed wildcard or game-over request is
// re-sent with back-off until it goes through.
func (s *Session) Failed(kind models.RequestKind, err error) {
	s.dispatch(func() {
		s.engine.OnIntentFailed(kind, err)
		if s.engine.Stalled() != "" {
			s.scheduleRetry()
		}
	})
}

// Disconnected reopens a lost push channel and then catches up from a snapshot.
func (s *Session) Disconnected(err error) {
	select {
	case <-s.done:
		return
	default:
	}
	if !s.reconnecting.CompareAndSwap(false, true) {
		return
	}
	logger.Log.Warnf("game %s: event channel lost: %v", s.deps.Client.GameID(), err)
	go s.reconnect()
}

func (s *Session) reconnect() {
	defer s.reconnecting.Store(false)
	delay := reconnectDelay
	for {
		wait := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			wait.Stop()
			return
		case <-s.ended:
			wait.Stop()
			return
		case <-wait.C:
		}

		ctx, cancel := context.WithTimeout(s.ctx, protocol.DefaultRequestTimeout)
		err := s.deps.Client.Subscribe(ctx)
		cancel()
		if err == nil {
			logger.Log.Infof("game %s: event channel back", s.deps.Client.GameID())
			s.resync()
			return
		}
		logger.Log.Warnf("game %s: resubscribing failed, next try in %s: %v", s.deps.Client.GameID(), delay, err)
		delay = min(delay*2, maxReconnectDelay)
	}
}

// resync fetches the server's snapshot off the loop and hands it to the engine.
// At most one fetch runs at a time.
func (s *Session) resync() {
	if !s.resyncing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer s.resyncing.Store(false)
		ctx, cancel := context.WithTimeout(s.ctx, protocol.DefaultRequestTimeout)
		defer cancel()
		snap, err := s.deps.Client.GetGameState(ctx)
		if err != nil {
			logger.Log.Warnf("game %s: fetching game state failed: %v", s.deps.Client.GameID(), err)
			return
		}
		s.dispatch(func() { s.engine.Resync(*snap) })
	}()
}

// scheduleRetry must run on the loop.
func (s *Session) scheduleRetry() {
	delay := s.retryDelay
	if delay == 0 {
		delay = stalledRetryDelay
	}
	s.retryDelay = min(delay*2, maxStalledRetryDelay)
	s.deps.Timers.AddTimer(delay, 0, func() {
		s.dispatch(func() { s.engine.RetryStalled() })
	})
}

func (s *Session) Show() { s.dispatch(s.engine.Show) }

func (s *Session) Hide() { s.dispatch(s.engine.Hide) }

func (s *Session) OnTimerTapped() { s.dispatch(s.engine.OnTimerTapped) }

// OnScreenTapped reports whether the tap started an attempt or re-sent a request.
func (s *Session) OnScreenTapped() bool {
	var accepted bool
	s.call(func() { accepted = s.engine.OnScreenTapped() })
	return accepted
}

func (s *Session) Phase() state.Phase {
	phase := state.Idle
	s.call(func() { phase = s.engine.Phase() })
	return phase
}

// State returns a copy of the game state.
func (s *Session) State() models.GameState {
	var snapshot models.GameState
	s.call(func() { snapshot = *s.game })
	return snapshot
}

func (s *Session) Result() (models.Result, bool) {
	var (
		result models.Result
		over   bool
	)
	s.call(func() { result, over = s.engine.Result() })
	return result, over
}

// Started is closed once the turn engine has left its idle phase.
func (s *Session) Started() <-chan struct{} { return s.started }

// Ended is closed when the game is over.
func (s *Session) Ended() <-chan struct{} { return s.ended }

// Leave abandons the match. A game still running is ended on the server first.
func (s *Session) Leave(ctx context.Context) error {
	var err error
	if _, over := s.Result(); !over {
		if err = s.deps.Client.Forfeit(ctx); err != nil {
			logger.Log.Warnf("game %s: forfeit failed: %v", s.game.GameID, err)
		}
	}
	s.Close()
	return err
}

// Close stops the countdown and the loop. Completions arriving later are dropped.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
		s.countdown.Stop()
		s.deps.Client.SetSink(nil)
		if err := s.deps.Client.Close(); err != nil {
			logger.Log.Debugf("closing protocol client: %v", err)
		}
		if s.ownTimers {
			s.deps.Timers.Close()
		}
	})
}

type sessionObserver struct {
	engine.Observer
	session *Session
}

func (o *sessionObserver) OnPhaseChanged(phase state.Phase) {
	o.Observer.OnPhaseChanged(phase)
	if phase != state.Idle {
		o.session.startOnce.Do(func() { close(o.session.started) })
	}
}

func (o *sessionObserver) OnGameOver(summary engine.GameSummary) {
	o.Observer.OnGameOver(summary)
	o.session.deps.Monitor.ObserveResult(string(summary.Result))
	o.session.endOnce.Do(func() { close(o.session.ended) })
}
