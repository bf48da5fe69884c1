// room/room.go
package room

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/methodiva/littleLetters/config"
	"github.com/methodiva/littleLetters/logger"
	"github.com/methodiva/littleLetters/models"
	"github.com/methodiva/littleLetters/network"
	"github.com/methodiva/littleLetters/state"
)

var (
	ErrGameNotFound   = errors.New("game not found")
	ErrKeyNotFound    = errors.New("no game with that key")
	ErrNoFreeKey      = errors.New("no free game key")
	ErrNotAPlayer     = errors.New("device is not playing this game")
	ErrNotYourTurn    = errors.New("not your turn")
	ErrAlreadyStarted = errors.New("game already started")
	ErrGameOver       = errors.New("game is over")
	ErrInvalidMove    = errors.New("invalid move")
	ErrBadRequest     = errors.New("bad request")
)

// Room statuses double as machine phases.
const (
	phaseWaiting = state.Phase(models.StatusWaiting)
	phasePlaying = state.Phase(models.StatusPlaying)
	phaseOver    = state.Phase(models.StatusOver)
)

// startLetters are the letters a game may open with.
const startLetters = "ABCDEFGHIJKLMNOPRSTW"

const maxKeyTries = 100

type Player struct {
	DeviceID  string
	Name      string
	Score     int
	Chances   int
	WildCards int
}

// Room is one game as the server sees it. The first player is the host.
type Room struct {
	ID        string
	Key       int
	CreatedAt time.Time

	mutex         sync.Mutex
	status        *state.Machine
	players       []*Player
	currentTurn   string
	currentLetter rune
	step          int
	updatedAt     time.Time
}

func newRoom(id string, key int, host *Player, now time.Time) *Room {
	r := &Room{
		ID:            id,
		Key:           key,
		CreatedAt:     now,
		status:        state.NewMachine(phaseWaiting),
		players:       []*Player{host},
		currentLetter: 'A',
		step:          1,
		updatedAt:     now,
	}
	r.status.AddTransition(phaseWaiting, phasePlaying, func() bool { return len(r.players) == 2 })
	r.status.AddTransition(phaseWaiting, phaseOver, nil)
	r.status.AddTransition(phasePlaying, phaseOver, nil)
	return r
}

func (r *Room) Status() string {
	return string(r.status.Current())
}

// Devices returns the device ids of the players.
func (r *Room) Devices() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	devices := make([]string, 0, len(r.players))
	for _, p := range r.players {
		devices = append(devices, p.DeviceID)
	}
	return devices
}

func (r *Room) Snapshot() models.Snapshot {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.snapshot()
}

func (r *Room) snapshot() models.Snapshot {
	s := models.Snapshot{
		GameID:        r.ID,
		GameKey:       r.Key,
		CurrentLetter: string(r.currentLetter),
		CurrentTurn:   r.currentTurn,
		Step:          r.step,
		Status:        r.Status(),
	}
	if len(r.players) > 0 {
		s.PlayerOne = r.players[0].snapshot()
	}
	if len(r.players) > 1 {
		s.PlayerTwo = r.players[1].snapshot()
	}
	return s
}

func (p *Player) snapshot() *models.PlayerSnapshot {
	return &models.PlayerSnapshot{
		DeviceID:  p.DeviceID,
		Name:      p.Name,
		Score:     p.Score,
		Chances:   p.Chances,
		WildCards: p.WildCards,
	}
}

func (r *Room) player(deviceID string) *Player {
	for _, p := range r.players {
		if p.DeviceID == deviceID {
			return p
		}
	}
	return nil
}

func (r *Room) other(deviceID string) *Player {
	for _, p := range r.players {
		if p.DeviceID != deviceID {
			return p
		}
	}
	return nil
}

// mutated bumps the step and builds the event describing the change.
func (r *Room) mutated(t models.EventType, actor *Player, word string, position int, now time.Time) models.Event {
	r.step++
	r.updatedAt = now
	snap := r.snapshot()
	return models.Event{
		GameID:           r.ID,
		Type:             t,
		DeviceID:         actor.DeviceID,
		Step:             r.step,
		Word:             word,
		WildCardPosition: position,
		Chances:          actor.Chances,
		Score:            actor.Score,
		WildCards:        actor.WildCards,
		State:            &snap,
	}
}

// Manager holds every game in memory, indexed by id and by join key.
type Manager struct {
	rules       config.GameConfig
	broadcaster Broadcaster
	now         func() time.Time

	randMutex sync.Mutex
	rand      *rand.Rand

	mutex sync.RWMutex
	rooms map[string]*Room
	keys  map[int]string

	onCount func(int)
}

func NewManager(rules config.GameConfig, rnd *rand.Rand, broadcaster Broadcaster) *Manager {
	return &Manager{
		rules:       rules,
		broadcaster: broadcaster,
		now:         time.Now,
		rand:        rnd,
		rooms:       make(map[string]*Room),
		keys:        make(map[int]string),
		onCount:     func(int) {},
	}
}

// OnCountChanged registers fn to receive the number of rooms after every change.
func (m *Manager) OnCountChanged(fn func(int)) {
	m.onCount = fn
}

func (m *Manager) intn(n int) int {
	m.randMutex.Lock()
	defer m.randMutex.Unlock()
	return m.rand.Intn(n)
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.rooms)
}

func (m *Manager) Get(gameID string) (*Room, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	r, ok := m.rooms[gameID]
	return r, ok
}

// Handle runs one request from deviceID and returns the resulting snapshot.
func (m *Manager) Handle(req models.Request) (models.Snapshot, error) {
	if req.DeviceID == "" {
		return models.Snapshot{}, fmt.Errorf("%w: missing deviceId", ErrBadRequest)
	}
	switch req.EventType {
	case models.RequestStartGame:
		return m.Create(req.DeviceID, req.PlayerName)
	case models.RequestJoinGame:
		return m.Join(req.GameKey, req.DeviceID, req.PlayerName)
	case models.RequestEndStartGame:
		return m.Cancel(req.GameID, req.DeviceID)
	case models.RequestGetGameState:
		r, err := m.member(req.GameID, req.DeviceID)
		if err != nil {
			return models.Snapshot{}, err
		}
		return r.Snapshot(), nil
	case models.RequestPlayChance, models.RequestPlayWord, models.RequestUseWildCard, models.RequestGameOver:
		return m.Apply(req)
	}
	return models.Snapshot{}, fmt.Errorf("%w: unknown eventType %q", ErrBadRequest, req.EventType)
}

// Create opens a game waiting for a second player and allocates its key.
func (m *Manager) Create(deviceID, name string) (models.Snapshot, error) {
	host := &Player{DeviceID: deviceID, Name: name, Chances: m.rules.MaxAttemptsPerTurn, WildCards: m.rules.WildCardsPerPlayer}

	m.mutex.Lock()
	key, err := m.freeKey()
	if err != nil {
		m.mutex.Unlock()
		return models.Snapshot{}, err
	}
	r := newRoom(uuid.NewString(), key, host, m.now())
	m.rooms[r.ID] = r
	m.keys[key] = r.ID
	count := len(m.rooms)
	m.mutex.Unlock()

	m.onCount(count)
	logger.Log.Infof("Game %s created by %s with key %04d", r.ID, deviceID, key)
	return r.Snapshot(), nil
}

// freeKey must be called with m.mutex held.
func (m *Manager) freeKey() (int, error) {
	for i := 0; i < maxKeyTries; i++ {
		key := m.intn(10000)
		if _, taken := m.keys[key]; !taken {
			return key, nil
		}
	}
	return 0, ErrNoFreeKey
}

// Join adds the second player, picks the opening letter and player, and starts the game.
func (m *Manager) Join(key int, deviceID, name string) (models.Snapshot, error) {
	m.mutex.Lock()
	id, ok := m.keys[key]
	if !ok {
		m.mutex.Unlock()
		return models.Snapshot{}, ErrKeyNotFound
	}
	r := m.rooms[id]
	m.mutex.Unlock()

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.status.Current() != phaseWaiting {
		return models.Snapshot{}, ErrAlreadyStarted
	}
	if r.player(deviceID) != nil {
		return models.Snapshot{}, fmt.Errorf("%w: cannot join your own game", ErrBadRequest)
	}
	guest := &Player{DeviceID: deviceID, Name: name, Chances: m.rules.MaxAttemptsPerTurn, WildCards: m.rules.WildCardsPerPlayer}
	r.players = append(r.players, guest)
	if err := r.status.ChangeState(phasePlaying); err != nil {
		return models.Snapshot{}, err
	}

	r.currentLetter = rune(startLetters[m.intn(len(startLetters))])
	r.currentTurn = r.players[m.intn(2)].DeviceID

	m.mutex.Lock()
	delete(m.keys, key)
	m.mutex.Unlock()

	ev := r.mutated(models.EventGameStarted, guest, "", models.NoWildCardPosition, m.now())
	m.publish(r, ev)
	logger.Log.Infof("Game %s started: %s joined, %s opens with %q", r.ID, deviceID, r.currentTurn, r.currentLetter)
	return *ev.State, nil
}

// Cancel withdraws a game before anyone joined. Only the host may do it.
func (m *Manager) Cancel(gameID, deviceID string) (models.Snapshot, error) {
	r, err := m.member(gameID, deviceID)
	if err != nil {
		return models.Snapshot{}, err
	}

	r.mutex.Lock()
	if r.status.Current() != phaseWaiting {
		r.mutex.Unlock()
		return models.Snapshot{}, ErrAlreadyStarted
	}
	r.status.ChangeState(phaseOver)
	r.step++
	snap := r.snapshot()
	r.mutex.Unlock()

	m.Remove(gameID)
	logger.Log.Infof("Game %s withdrawn by %s", gameID, deviceID)
	return snap, nil
}

// Apply validates and applies an in-game move.
func (m *Manager) Apply(req models.Request) (models.Snapshot, error) {
	r, err := m.member(req.GameID, req.DeviceID)
	if err != nil {
		return models.Snapshot{}, err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	switch r.status.Current() {
	case phaseOver:
		if req.EventType == models.RequestGameOver {
			return r.snapshot(), nil
		}
		return models.Snapshot{}, ErrGameOver
	case phaseWaiting:
		if req.EventType != models.RequestGameOver {
			return models.Snapshot{}, fmt.Errorf("%w: waiting for a second player", ErrInvalidMove)
		}
	}

	actor := r.player(req.DeviceID)
	if req.EventType != models.RequestGameOver && r.currentTurn != actor.DeviceID {
		return models.Snapshot{}, ErrNotYourTurn
	}

	var ev models.Event
	now := m.now()
	switch req.EventType {
	case models.RequestPlayChance:
		ev, err = m.playChance(r, actor, req, now)
	case models.RequestUseWildCard:
		ev, err = m.useWildCard(r, actor, req, now)
	case models.RequestPlayWord:
		ev, err = m.playWord(r, actor, req, now)
	case models.RequestGameOver:
		ev, err = m.gameOver(r, actor, now)
	}
	if err != nil {
		logger.Log.Debugf("Game %s: %s from %s refused: %v", r.ID, req.EventType, req.DeviceID, err)
		return models.Snapshot{}, err
	}
	m.publish(r, ev)
	return *ev.State, nil
}

func (m *Manager) playChance(r *Room, actor *Player, req models.Request, now time.Time) (models.Event, error) {
	if req.Chances == nil || *req.Chances != actor.Chances-1 || *req.Chances < 0 {
		return models.Event{}, fmt.Errorf("%w: chances must go from %d to %d", ErrInvalidMove, actor.Chances, actor.Chances-1)
	}
	actor.Chances = *req.Chances
	return r.mutated(models.EventChancePlayed, actor, "", models.NoWildCardPosition, now), nil
}

func (m *Manager) useWildCard(r *Room, actor *Player, req models.Request, now time.Time) (models.Event, error) {
	if req.WildCards == nil || *req.WildCards != actor.WildCards-1 || *req.WildCards < 0 {
		return models.Event{}, fmt.Errorf("%w: wildcards must go from %d to %d", ErrInvalidMove, actor.WildCards, actor.WildCards-1)
	}
	actor.WildCards = *req.WildCards
	actor.Chances = m.rules.MaxAttemptsPerTurn
	r.currentLetter = models.WildCardLetter
	return r.mutated(models.EventWildCardUsed, actor, "", models.NoWildCardPosition, now), nil
}

func (m *Manager) playWord(r *Room, actor *Player, req models.Request, now time.Time) (models.Event, error) {
	word := strings.ToUpper(strings.TrimSpace(req.Word))
	if word == "" || strings.ContainsFunc(word, unicode.IsSpace) {
		return models.Event{}, fmt.Errorf("%w: %q is not a single word", ErrInvalidMove, req.Word)
	}
	wild := r.currentLetter == models.WildCardLetter
	first, _ := models.FirstLetter(word)
	if !wild && first != r.currentLetter {
		return models.Event{}, fmt.Errorf("%w: %s does not start with %q", ErrInvalidMove, word, r.currentLetter)
	}

	want := actor.Score
	if !wild {
		want += utf8.RuneCountInString(word)
	}
	if req.Score == nil || *req.Score != want {
		return models.Event{}, fmt.Errorf("%w: score should be %d", ErrInvalidMove, want)
	}
	if req.WildCards != nil && *req.WildCards != actor.WildCards {
		return models.Event{}, fmt.Errorf("%w: wildcards cannot change with a word", ErrInvalidMove)
	}

	position := models.NoWildCardPosition
	if wild {
		position = 0
	}
	actor.Score = want
	r.currentLetter, _ = models.LastLetter(word)
	next := r.other(actor.DeviceID)
	next.Chances = m.rules.MaxAttemptsPerTurn
	r.currentTurn = next.DeviceID
	return r.mutated(models.EventWordPlayed, actor, word, position, now), nil
}

func (m *Manager) gameOver(r *Room, actor *Player, now time.Time) (models.Event, error) {
	wasWaiting := r.status.Current() == phaseWaiting
	if err := r.status.ChangeState(phaseOver); err != nil {
		return models.Event{}, err
	}
	if wasWaiting {
		m.mutex.Lock()
		delete(m.keys, r.Key)
		m.mutex.Unlock()
	}
	return r.mutated(models.EventGameOver, actor, "", models.NoWildCardPosition, now), nil
}

// member returns the room if deviceID plays in it.
func (m *Manager) member(gameID, deviceID string) (*Room, error) {
	r, ok := m.Get(gameID)
	if !ok {
		return nil, ErrGameNotFound
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.player(deviceID) == nil {
		return nil, ErrNotAPlayer
	}
	return r, nil
}

// publish must be called with r.mutex held so pushes leave in step order.
func (m *Manager) publish(r *Room, ev models.Event) {
	if m.broadcaster == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Log.Errorf("Game %s: encoding %s: %v", r.ID, ev.Type, err)
		return
	}
	devices := make([]string, 0, len(r.players))
	for _, p := range r.players {
		devices = append(devices, p.DeviceID)
	}
	if err := m.broadcaster.BroadcastToDevices(devices, network.MsgTypeGameEvent, data); err != nil {
		logger.Log.Warnf("Game %s: pushing %s: %v", r.ID, ev.Type, err)
	}
}

// Remove drops a game and frees its key.
func (m *Manager) Remove(gameID string) {
	m.mutex.Lock()
	r, ok := m.rooms[gameID]
	if ok {
		delete(m.rooms, gameID)
		if m.keys[r.Key] == gameID {
			delete(m.keys, r.Key)
		}
	}
	count := len(m.rooms)
	m.mutex.Unlock()

	if ok {
		m.onCount(count)
	}
}

// Sweep removes games that waited for an opponent longer than maxWaiting and
// finished or abandoned games untouched for maxIdle.
func (m *Manager) Sweep(maxWaiting, maxIdle time.Duration) int {
	now := m.now()
	var stale []string

	m.mutex.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mutex.RUnlock()

	for _, r := range rooms {
		r.mutex.Lock()
		switch {
		case r.status.Current() == phaseWaiting && now.Sub(r.CreatedAt) > maxWaiting:
			stale = append(stale, r.ID)
		case now.Sub(r.updatedAt) > maxIdle:
			stale = append(stale, r.ID)
		}
		r.mutex.Unlock()
	}

	for _, id := range stale {
		m.Remove(id)
	}
	if len(stale) > 0 {
		logger.Log.Infof("Swept %d stale games", len(stale))
	}
	return len(stale)
}
