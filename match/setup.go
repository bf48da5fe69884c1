package match

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/methodiva/littleLetters/logger"
	"github.com/methodiva/littleLetters/models"
	"github.com/methodiva/littleLetters/protocol"
)

var (
	ErrNotStarted     = errors.New("no game waiting for an opponent")
	ErrAlreadyStarted = errors.New("game already started")
)

var gameKeyPattern = regexp.MustCompile(`^\d{4}$`)

const cancelTimeout = 5 * time.Second

// FormatKey renders a join key the way players type it.
func FormatKey(key int) string {
	return fmt.Sprintf("%04d", key)
}

// Setup creates or joins one match.
type Setup struct {
	deps Dependencies

	mutex   sync.Mutex
	pending *Session
}

func NewSetup(deps Dependencies) (*Setup, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &Setup{deps: deps}, nil
}

// StartGame creates a game and returns the key to share with the opponent.
func (s *Setup) StartGame(ctx context.Context) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.pending != nil {
		return "", ErrAlreadyStarted
	}

	client := s.deps.Client
	snap, err := client.StartGame(ctx)
	if err != nil {
		return "", err
	}
	session, err := s.open(ctx, snap)
	if err != nil {
		s.withdraw()
		return "", err
	}
	s.pending = session
	// the opponent may have joined before the subscription was up
	session.resync()
	return FormatKey(snap.GameKey), nil
}

// WaitForOpponent blocks until the opponent joins and the first turn begins.
// If ctx ends first the game is withdrawn.
func (s *Setup) WaitForOpponent(ctx context.Context) (*Session, error) {
	s.mutex.Lock()
	session := s.pending
	s.mutex.Unlock()
	if session == nil {
		return nil, ErrNotStarted
	}

	select {
	case <-session.Started():
		s.mutex.Lock()
		s.pending = nil
		s.mutex.Unlock()
		logger.Log.Infof("game %s: opponent joined", session.game.GameID)
		return session, nil
	case <-session.done:
		return nil, ErrClosed
	case <-ctx.Done():
		cancelCtx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
		defer cancel()
		if err := s.Cancel(cancelCtx); err != nil {
			logger.Log.Warnf("withdrawing game failed: %v", err)
		}
		return nil, ctx.Err()
	}
}

// Cancel withdraws a game nobody has joined yet.
func (s *Setup) Cancel(ctx context.Context) error {
	s.mutex.Lock()
	session := s.pending
	s.pending = nil
	s.mutex.Unlock()
	if session == nil {
		return ErrNotStarted
	}

	err := s.deps.Client.EndStartGame(ctx)
	session.Close()
	return err
}

// JoinGame joins the game behind a four digit key and starts the match.
func (s *Setup) JoinGame(ctx context.Context, key string) (*Session, error) {
	if !gameKeyPattern.MatchString(key) {
		return nil, fmt.Errorf("%w: %q is not four digits", protocol.ErrInvalidGameKey, key)
	}
	n, _ := strconv.Atoi(key)

	snap, err := s.deps.Client.JoinGame(ctx, n)
	if err != nil {
		return nil, err
	}
	session, err := s.open(ctx, snap)
	if err != nil {
		return nil, err
	}
	if err := session.start(); err != nil {
		session.Close()
		return nil, err
	}
	// moves made before the subscription was up
	session.resync()
	return session, nil
}

// open builds a session for the game in snap and subscribes it to pushed events.
func (s *Setup) open(ctx context.Context, snap *models.Snapshot) (*Session, error) {
	client := s.deps.Client
	game := models.NewGameState(client.DeviceID())
	game.ApplySnapshot(*snap)

	session, err := newSession(s.deps, game)
	if err != nil {
		return nil, err
	}
	client.SetSink(session)
	if err := client.Subscribe(ctx); err != nil {
		session.Close()
		return nil, err
	}
	return session, nil
}

func (s *Setup) withdraw() {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if err := s.deps.Client.EndStartGame(ctx); err != nil {
		logger.Log.Warnf("withdrawing game failed: %v", err)
	}
}
