package room

import (
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/methodiva/littleLetters/config"
	"github.com/methodiva/littleLetters/models"
	"github.com/methodiva/littleLetters/network"
)

// MockBroadcaster records every push.
type MockBroadcaster struct {
	mutex  sync.Mutex
	pushes []push
}

type push struct {
	devices []string
	msgID   uint16
	event   models.Event
}

func (m *MockBroadcaster) BroadcastToDevices(deviceIDs []string, msgID uint16, data []byte) error {
	var ev models.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.pushes = append(m.pushes, push{devices: deviceIDs, msgID: msgID, event: ev})
	return nil
}

func (m *MockBroadcaster) last() push {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.pushes[len(m.pushes)-1]
}

func newTestManager() (*Manager, *MockBroadcaster) {
	b := &MockBroadcaster{}
	return NewManager(config.DefaultGame(), rand.New(rand.NewSource(7)), b), b
}

// startedGame creates and joins a game and returns it with the device on turn first.
func startedGame(t *testing.T, m *Manager) (snap models.Snapshot, first, second string) {
	t.Helper()
	created, err := m.Create("host", "Ann")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	snap, err = m.Join(created.GameKey, "guest", "Ben")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	first = snap.CurrentTurn
	second = "guest"
	if first == "guest" {
		second = "host"
	}
	return snap, first, second
}

func TestManager_CreateAllocatesKeys(t *testing.T) {
	m, _ := newTestManager()

	seen := map[int]bool{}
	for i := 0; i < 50; i++ {
		snap, err := m.Create("dev", "Ann")
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if snap.GameKey < 0 || snap.GameKey > 9999 {
			t.Errorf("Key %d out of range", snap.GameKey)
		}
		if seen[snap.GameKey] {
			t.Errorf("Key %d handed out twice", snap.GameKey)
		}
		seen[snap.GameKey] = true
		if snap.Status != models.StatusWaiting || snap.Step != 1 {
			t.Errorf("Unexpected new game %+v", snap)
		}
	}
	if m.Count() != 50 {
		t.Errorf("Expected 50 rooms, got %d", m.Count())
	}
}

func TestManager_JoinStartsGame(t *testing.T) {
	m, b := newTestManager()
	snap, first, _ := startedGame(t, m)

	if snap.Status != models.StatusPlaying || snap.Step != 2 {
		t.Errorf("Unexpected started game %+v", snap)
	}
	if first != "host" && first != "guest" {
		t.Errorf("Unexpected first player %q", first)
	}
	if !strings.Contains(startLetters, snap.CurrentLetter) || len(snap.CurrentLetter) != 1 {
		t.Errorf("Unexpected opening letter %q", snap.CurrentLetter)
	}
	if snap.PlayerOne.DeviceID != "host" || snap.PlayerTwo.DeviceID != "guest" || snap.PlayerTwo.Chances != 3 {
		t.Errorf("Unexpected players %+v %+v", snap.PlayerOne, snap.PlayerTwo)
	}

	p := b.last()
	if p.msgID != network.MsgTypeGameEvent || p.event.Type != models.EventGameStarted || len(p.devices) != 2 {
		t.Errorf("Expected gameStarted pushed to both devices, got %+v", p)
	}
	if p.event.Step != snap.Step || p.event.State == nil {
		t.Errorf("Push should carry the new step and state, got %+v", p.event)
	}

	if _, err := m.Join(snap.GameKey, "third", "Cy"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Key should be released once the game starts, got %v", err)
	}
}

func TestManager_JoinErrors(t *testing.T) {
	m, _ := newTestManager()

	if _, err := m.Join(1234, "guest", "Ben"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}
	created, _ := m.Create("host", "Ann")
	if _, err := m.Join(created.GameKey, "host", "Ann"); !errors.Is(err, ErrBadRequest) {
		t.Errorf("Expected ErrBadRequest for joining own game, got %v", err)
	}
}

func TestManager_TurnValidation(t *testing.T) {
	m, _ := newTestManager()
	snap, first, second := startedGame(t, m)

	_, err := m.Apply(models.Request{EventType: models.RequestPlayChance, DeviceID: second, GameID: snap.GameID, Chances: models.IntPtr(2)})
	if !errors.Is(err, ErrNotYourTurn) {
		t.Errorf("Expected ErrNotYourTurn, got %v", err)
	}
	_, err = m.Apply(models.Request{EventType: models.RequestPlayChance, DeviceID: "stranger", GameID: snap.GameID, Chances: models.IntPtr(2)})
	if !errors.Is(err, ErrNotAPlayer) {
		t.Errorf("Expected ErrNotAPlayer, got %v", err)
	}
	_, err = m.Apply(models.Request{EventType: models.RequestPlayChance, DeviceID: first, GameID: snap.GameID, Chances: models.IntPtr(1)})
	if !errors.Is(err, ErrInvalidMove) {
		t.Errorf("Chances skipping a step should be invalid, got %v", err)
	}

	after, err := m.Apply(models.Request{EventType: models.RequestPlayChance, DeviceID: first, GameID: snap.GameID, Chances: models.IntPtr(2)})
	if err != nil {
		t.Fatalf("playchance failed: %v", err)
	}
	if after.Step != snap.Step+1 || after.Player(first).Chances != 2 {
		t.Errorf("Unexpected snapshot after chance %+v", after)
	}
}

func TestManager_PlayWord(t *testing.T) {
	m, b := newTestManager()
	snap, first, second := startedGame(t, m)
	letter := snap.CurrentLetter

	bad := models.Request{EventType: models.RequestPlayWord, DeviceID: first, GameID: snap.GameID, Word: "zz" + letter, Score: models.IntPtr(3)}
	if letter != "Z" {
		if _, err := m.Apply(bad); !errors.Is(err, ErrInvalidMove) {
			t.Errorf("Wrong first letter should be invalid, got %v", err)
		}
	}

	word := letter + "ALL"
	if _, err := m.Apply(models.Request{EventType: models.RequestPlayWord, DeviceID: first, GameID: snap.GameID, Word: word, Score: models.IntPtr(99)}); !errors.Is(err, ErrInvalidMove) {
		t.Errorf("Wrong score should be invalid, got %v", err)
	}
	if _, err := m.Apply(models.Request{EventType: models.RequestPlayWord, DeviceID: first, GameID: snap.GameID, Word: word + " CUP", Score: models.IntPtr(8)}); !errors.Is(err, ErrInvalidMove) {
		t.Errorf("A phrase should be invalid, got %v", err)
	}

	after, err := m.Apply(models.Request{
		EventType: models.RequestPlayWord, DeviceID: first, GameID: snap.GameID,
		Word: strings.ToLower(word), Score: models.IntPtr(4), WildCards: models.IntPtr(1), WildCardPosition: models.IntPtr(-1),
	})
	if err != nil {
		t.Fatalf("playword failed: %v", err)
	}
	if after.CurrentTurn != second || after.CurrentLetter != "L" || after.Player(first).Score != 4 {
		t.Errorf("Unexpected snapshot after word %+v", after)
	}
	if after.Player(second).Chances != 3 {
		t.Errorf("Expected the next player to get 3 chances, got %d", after.Player(second).Chances)
	}
	if ev := b.last().event; ev.Type != models.EventWordPlayed || ev.Word != word || ev.DeviceID != first || ev.Score != 4 {
		t.Errorf("Unexpected pushed event %+v", ev)
	}
}

func TestManager_WildCard(t *testing.T) {
	m, _ := newTestManager()
	snap, first, _ := startedGame(t, m)

	use := models.Request{EventType: models.RequestUseWildCard, DeviceID: first, GameID: snap.GameID, WildCards: models.IntPtr(1)}
	if _, err := m.Apply(use); !errors.Is(err, ErrInvalidMove) {
		t.Errorf("Wildcards must go down, got %v", err)
	}
	use.WildCards = models.IntPtr(0)
	after, err := m.Apply(use)
	if err != nil {
		t.Fatalf("usewildcard failed: %v", err)
	}
	if after.CurrentLetter != "*" || after.Player(first).WildCards != 0 || after.Player(first).Chances != 3 {
		t.Errorf("Unexpected snapshot after wildcard %+v", after)
	}
	if _, err := m.Apply(models.Request{EventType: models.RequestUseWildCard, DeviceID: first, GameID: snap.GameID, WildCards: models.IntPtr(-1)}); !errors.Is(err, ErrInvalidMove) {
		t.Errorf("Wildcards cannot go negative, got %v", err)
	}

	// any word goes, and scores nothing
	if _, err := m.Apply(models.Request{EventType: models.RequestPlayWord, DeviceID: first, GameID: snap.GameID, Word: "QUILT", Score: models.IntPtr(5)}); !errors.Is(err, ErrInvalidMove) {
		t.Errorf("Wildcard words must not score, got %v", err)
	}
	after, err = m.Apply(models.Request{EventType: models.RequestPlayWord, DeviceID: first, GameID: snap.GameID, Word: "QUILT", Score: models.IntPtr(0)})
	if err != nil {
		t.Fatalf("wildcard word failed: %v", err)
	}
	if after.CurrentLetter != "T" {
		t.Errorf("Expected next letter T, got %q", after.CurrentLetter)
	}
}

func TestManager_GameOver(t *testing.T) {
	m, b := newTestManager()
	snap, _, second := startedGame(t, m)

	// either player may end the game
	over, err := m.Apply(models.Request{EventType: models.RequestGameOver, DeviceID: second, GameID: snap.GameID})
	if err != nil {
		t.Fatalf("gameover failed: %v", err)
	}
	if over.Status != models.StatusOver {
		t.Errorf("Expected status over, got %s", over.Status)
	}
	pushes := len(b.pushes)

	again, err := m.Apply(models.Request{EventType: models.RequestGameOver, DeviceID: second, GameID: snap.GameID})
	if err != nil || again.Step != over.Step {
		t.Errorf("Repeated gameover should be a no-op, got step %d err %v", again.Step, err)
	}
	if len(b.pushes) != pushes {
		t.Error("Repeated gameover should not push again")
	}
	if _, err := m.Apply(models.Request{EventType: models.RequestPlayChance, DeviceID: over.CurrentTurn, GameID: snap.GameID, Chances: models.IntPtr(2)}); !errors.Is(err, ErrGameOver) {
		t.Errorf("Expected ErrGameOver, got %v", err)
	}
}

func TestManager_Cancel(t *testing.T) {
	m, _ := newTestManager()
	created, _ := m.Create("host", "Ann")

	if _, err := m.Cancel(created.GameID, "stranger"); !errors.Is(err, ErrNotAPlayer) {
		t.Errorf("Expected ErrNotAPlayer, got %v", err)
	}
	snap, err := m.Cancel(created.GameID, "host")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if snap.Status != models.StatusOver {
		t.Errorf("Expected status over, got %s", snap.Status)
	}
	if m.Count() != 0 {
		t.Errorf("Expected the game removed, %d left", m.Count())
	}
	if _, err := m.Join(created.GameKey, "guest", "Ben"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Expected the key released, got %v", err)
	}

	started, first, _ := startedGame(t, m)
	if _, err := m.Cancel(started.GameID, first); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}
}

func TestManager_Handle(t *testing.T) {
	m, _ := newTestManager()

	if _, err := m.Handle(models.Request{EventType: models.RequestStartGame}); !errors.Is(err, ErrBadRequest) {
		t.Errorf("Expected ErrBadRequest without a device, got %v", err)
	}
	if _, err := m.Handle(models.Request{EventType: "dance", DeviceID: "dev"}); !errors.Is(err, ErrBadRequest) {
		t.Errorf("Expected ErrBadRequest for an unknown kind, got %v", err)
	}
	created, err := m.Handle(models.Request{EventType: models.RequestStartGame, DeviceID: "host", PlayerName: "Ann"})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	got, err := m.Handle(models.Request{EventType: models.RequestGetGameState, DeviceID: "host", GameID: created.GameID})
	if err != nil || got.GameID != created.GameID {
		t.Errorf("getgamestate returned %+v, %v", got, err)
	}
	if _, err := m.Handle(models.Request{EventType: models.RequestGetGameState, DeviceID: "host", GameID: "nope"}); !errors.Is(err, ErrGameNotFound) {
		t.Errorf("Expected ErrGameNotFound, got %v", err)
	}
}

func TestManager_Sweep(t *testing.T) {
	m, _ := newTestManager()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	counts := []int{}
	m.OnCountChanged(func(n int) { counts = append(counts, n) })

	m.Create("lonely", "Ann")
	startedGame(t, m)

	now = now.Add(20 * time.Minute)
	if n := m.Sweep(10*time.Minute, time.Hour); n != 1 {
		t.Errorf("Expected the waiting game swept, got %d", n)
	}
	now = now.Add(2 * time.Hour)
	if n := m.Sweep(10*time.Minute, time.Hour); n != 1 {
		t.Errorf("Expected the idle game swept, got %d", n)
	}
	if m.Count() != 0 {
		t.Errorf("Expected no games left, got %d", m.Count())
	}
	if len(counts) == 0 || counts[len(counts)-1] != 0 {
		t.Errorf("Expected count callbacks ending at 0, got %v", counts)
	}
}
