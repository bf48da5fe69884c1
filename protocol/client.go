// Package protocol talks to the game server: it sends requests, turns their
// responses into confirmed events and filters pushed events for the current game.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/methodiva/littleLetters/logger"
	"github.com/methodiva/littleLetters/models"
	"github.com/methodiva/littleLetters/monitor"
)

var (
	ErrTransport         = errors.New("transport failure")
	ErrMalformedResponse = errors.New("malformed response")
	ErrInvalidGameKey    = errors.New("incorrect game key")
	ErrRejected          = errors.New("request rejected")
	ErrNoGame            = errors.New("no game in progress")
)

const DefaultRequestTimeout = 10 * time.Second

// Transport sends one request. A non-nil error means no response arrived;
// a response with a non-2xx status is returned with its body.
type Transport interface {
	Send(ctx context.Context, req models.Request, token string) (status int, body []byte, err error)
}

// EventChannel delivers raw pushed events for the game the token was issued for.
// onLost is called once if the channel drops without Close; Subscribe may then
// be called again.
type EventChannel interface {
	Subscribe(ctx context.Context, token string, handler func(payload []byte), onLost func(err error)) error
	Close() error
}

// Sink receives the outcome of fire-and-forget requests and pushed events. It is
// called from background goroutines.
type Sink interface {
	Deliver(ev models.Event)
	Failed(kind models.RequestKind, err error)
	// Disconnected reports a lost push channel. Events may have been missed.
	Disconnected(err error)
}

type Client struct {
	transport  Transport
	events     EventChannel
	monitor    *monitor.Monitor
	deviceID   string
	playerName string
	timeout    time.Duration

	mutex  sync.RWMutex
	gameID string
	token  string
	sink   Sink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewClient(transport Transport, events EventChannel, deviceID, playerName string, m *monitor.Monitor) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		transport:  transport,
		events:     events,
		monitor:    m,
		deviceID:   deviceID,
		playerName: playerName,
		timeout:    DefaultRequestTimeout,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (c *Client) DeviceID() string { return c.deviceID }

func (c *Client) GameID() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.gameID
}

func (c *Client) SetSink(s Sink) {
	c.mutex.Lock()
	c.sink = s
	c.mutex.Unlock()
}

func (c *Client) currentSink() Sink {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.sink
}

// StartGame creates a game on the server and makes it the current one.
func (c *Client) StartGame(ctx context.Context) (*models.Snapshot, error) {
	snap, err := c.do(ctx, models.Request{EventType: models.RequestStartGame, PlayerName: c.playerName})
	if err != nil {
		return nil, err
	}
	c.adopt(snap)
	logger.Log.Infof("Device %s started game %s with key %04d", c.deviceID, snap.GameID, snap.GameKey)
	return snap, nil
}

// EndStartGame withdraws a game nobody has joined yet.
func (c *Client) EndStartGame(ctx context.Context) error {
	if c.GameID() == "" {
		return ErrNoGame
	}
	if _, err := c.do(ctx, models.Request{EventType: models.RequestEndStartGame}); err != nil {
		return err
	}
	c.mutex.Lock()
	c.gameID, c.token = "", ""
	c.mutex.Unlock()
	return nil
}

// JoinGame joins the game behind key. Any rejection is reported as ErrInvalidGameKey
// and leaves the client untouched.
func (c *Client) JoinGame(ctx context.Context, key int) (*models.Snapshot, error) {
	snap, err := c.do(ctx, models.Request{
		EventType:  models.RequestJoinGame,
		GameKey:    key,
		PlayerName: c.playerName,
	})
	switch {
	case errors.Is(err, ErrRejected), errors.Is(err, ErrMalformedResponse):
		return nil, fmt.Errorf("%w: %04d: %w", ErrInvalidGameKey, key, err)
	case err != nil:
		return nil, err
	}
	c.adopt(snap)
	logger.Log.Infof("Device %s joined game %s", c.deviceID, snap.GameID)
	return snap, nil
}

func (c *Client) GetGameState(ctx context.Context) (*models.Snapshot, error) {
	if c.GameID() == "" {
		return nil, ErrNoGame
	}
	return c.do(ctx, models.Request{EventType: models.RequestGetGameState})
}

// Forfeit ends the current game right away and waits for the answer.
func (c *Client) Forfeit(ctx context.Context) error {
	if c.GameID() == "" {
		return ErrNoGame
	}
	_, err := c.do(ctx, models.Request{EventType: models.RequestGameOver})
	return err
}

// Subscribe opens the push channel for the current game.
func (c *Client) Subscribe(ctx context.Context) error {
	c.mutex.RLock()
	gameID, token := c.gameID, c.token
	c.mutex.RUnlock()
	if gameID == "" {
		return ErrNoGame
	}
	if err := c.events.Subscribe(ctx, token, c.HandlePush, c.channelLost); err != nil {
		return fmt.Errorf("%w: subscribe: %w", ErrTransport, err)
	}
	return nil
}

func (c *Client) channelLost(err error) {
	if c.ctx.Err() != nil {
		return
	}
	logger.Log.Warnf("Event channel for game %s lost: %v", c.GameID(), err)
	if sink := c.currentSink(); sink != nil {
		sink.Disconnected(err)
	}
}

func (c *Client) PlayChance(chances int) {
	c.intent(models.Request{EventType: models.RequestPlayChance, Chances: models.IntPtr(chances)})
}

func (c *Client) PlayWord(score int, word string, wildCards int, wildCardPosition int) {
	c.intent(models.Request{
		EventType:        models.RequestPlayWord,
		Score:            models.IntPtr(score),
		Word:             word,
		WildCards:        models.IntPtr(wildCards),
		WildCardPosition: models.IntPtr(wildCardPosition),
	})
}

func (c *Client) UseWildCard(wildCards int) {
	c.intent(models.Request{EventType: models.RequestUseWildCard, WildCards: models.IntPtr(wildCards)})
}

func (c *Client) GameOver() {
	c.intent(models.Request{EventType: models.RequestGameOver})
}

// HandlePush decodes a pushed event and hands it to the sink if it belongs to
// the current game.
func (c *Client) HandlePush(payload []byte) {
	var ev models.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		logger.Log.Warnf("Dropping undecodable event %q: %v", payload, err)
		c.monitor.ObserveEvent("", monitor.EventUnknown)
		return
	}
	if !ev.Type.Known() {
		logger.Log.Warnf("Ignoring unknown event type %q", ev.Type)
		c.monitor.ObserveEvent(string(ev.Type), monitor.EventUnknown)
		return
	}
	if current := c.GameID(); ev.GameID == "" || ev.GameID != current {
		logger.Log.Warnf("Discarding %s for game %q, current game is %q", ev.Type, ev.GameID, current)
		c.monitor.ObserveEvent(string(ev.Type), monitor.EventForeign)
		return
	}
	if sink := c.currentSink(); sink != nil {
		sink.Deliver(ev)
	}
}

// Close cancels outstanding requests, waits for their goroutines and closes the push channel.
func (c *Client) Close() error {
	c.cancel()
	c.wg.Wait()
	if c.events == nil {
		return nil
	}
	return c.events.Close()
}

func (c *Client) adopt(snap *models.Snapshot) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.gameID = snap.GameID
	if snap.Token != "" {
		c.token = snap.Token
	}
}

func (c *Client) intent(req models.Request) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
		defer cancel()

		snap, err := c.do(ctx, req)
		sink := c.currentSink()
		if sink == nil {
			return
		}
		if err != nil {
			sink.Failed(req.EventType, err)
			return
		}
		sink.Deliver(c.confirmed(req, snap))
	}()
}

// confirmed builds the event a successful intent stands for from the response snapshot.
func (c *Client) confirmed(req models.Request, snap *models.Snapshot) models.Event {
	ev := models.Event{
		GameID:           snap.GameID,
		Type:             confirmationOf[req.EventType],
		DeviceID:         c.deviceID,
		Step:             snap.Step,
		Word:             req.Word,
		WildCardPosition: models.NoWildCardPosition,
		State:            snap,
	}
	if req.WildCardPosition != nil {
		ev.WildCardPosition = *req.WildCardPosition
	}
	if p := snap.Player(c.deviceID); p != nil {
		ev.Chances, ev.Score, ev.WildCards = p.Chances, p.Score, p.WildCards
	}
	// the request carries the actor's values after the change
	if req.Score != nil {
		ev.Score = *req.Score
	}
	if req.Chances != nil {
		ev.Chances = *req.Chances
	}
	if req.WildCards != nil {
		ev.WildCards = *req.WildCards
	}
	return ev
}

var confirmationOf = map[models.RequestKind]models.EventType{
	models.RequestPlayChance:  models.EventChancePlayed,
	models.RequestPlayWord:    models.EventWordPlayed,
	models.RequestUseWildCard: models.EventWildCardUsed,
	models.RequestGameOver:    models.EventGameOver,
}

func (c *Client) do(ctx context.Context, req models.Request) (*models.Snapshot, error) {
	var token string
	if req.EventType != models.RequestStartGame && req.EventType != models.RequestJoinGame {
		c.mutex.RLock()
		req.GameID, token = c.gameID, c.token
		c.mutex.RUnlock()
	}
	req.DeviceID = c.deviceID
	kind := string(req.EventType)

	begin := time.Now()
	status, body, err := c.transport.Send(ctx, req, token)
	if err != nil {
		c.monitor.ObserveRequest(kind, monitor.OutcomeTransport, time.Since(begin))
		logger.Log.Warnf("Request %s for game %q failed: %v", kind, req.GameID, err)
		return nil, fmt.Errorf("%w: %s: %w", ErrTransport, kind, err)
	}

	if status < 200 || status > 299 {
		c.monitor.ObserveRequest(kind, monitor.OutcomeRejected, time.Since(begin))
		var rejection models.ErrorResponse
		if json.Unmarshal(body, &rejection) != nil || rejection.Error == "" {
			rejection.Error = fmt.Sprintf("status %d", status)
		}
		logger.Log.Warnf("Request %s for game %q rejected: %s", kind, req.GameID, rejection.Error)
		return nil, fmt.Errorf("%w: %s: %s", ErrRejected, kind, rejection.Error)
	}

	var snap models.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil || snap.GameID == "" {
		c.monitor.ObserveRequest(kind, monitor.OutcomeMalformed, time.Since(begin))
		logger.Log.Errorf("Malformed %s response: %q", kind, body)
		return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, kind)
	}

	c.monitor.ObserveRequest(kind, monitor.OutcomeOK, time.Since(begin))
	logger.Log.Debugf("Request %s for game %s confirmed at step %d", kind, snap.GameID, snap.Step)
	return &snap, nil
}
