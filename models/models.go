package models

// RequestKind is the eventType tag of an outbound request.
type RequestKind string

const (
	RequestStartGame    RequestKind = "start"
	RequestEndStartGame RequestKind = "endstart"
	RequestJoinGame     RequestKind = "join"
	RequestPlayChance   RequestKind = "playchance"
	RequestPlayWord     RequestKind = "playword"
	RequestUseWildCard  RequestKind = "usewildcard"
	RequestGameOver     RequestKind = "gameover"
	RequestGetGameState RequestKind = "getgamestate"
)

// NoWildCardPosition is sent as wildcardPosition when no wildcard letter is in the word.
const NoWildCardPosition = -1

// Request is the flat JSON body every request shares.
type Request struct {
	EventType        RequestKind `json:"eventType"`
	DeviceID         string      `json:"deviceId"`
	GameID           string      `json:"gameId,omitempty"`
	GameKey          int         `json:"gameKey,omitempty"`
	PlayerName       string      `json:"playerName,omitempty"`
	Chances          *int        `json:"chances,omitempty"`
	Score            *int        `json:"score,omitempty"`
	Word             string      `json:"word,omitempty"`
	WildCards        *int        `json:"wildcards,omitempty"`
	WildCardPosition *int        `json:"wildcardPosition,omitempty"`
}

// Game statuses reported in snapshots.
const (
	StatusWaiting = "waiting"
	StatusPlaying = "playing"
	StatusOver    = "over"
)

type PlayerSnapshot struct {
	DeviceID  string `json:"deviceId"`
	Name      string `json:"name"`
	Score     int    `json:"score"`
	Chances   int    `json:"chances"`
	WildCards int    `json:"wildcards"`
}

// Snapshot is the server's view of a game, returned by every successful request.
type Snapshot struct {
	GameID        string          `json:"gameId"`
	GameKey       int             `json:"gameKey,omitempty"`
	CurrentLetter string          `json:"currentLetter,omitempty"`
	CurrentTurn   string          `json:"currentTurn,omitempty"`
	Step          int             `json:"step"`
	Status        string          `json:"status,omitempty"`
	Token         string          `json:"token,omitempty"`
	PlayerOne     *PlayerSnapshot `json:"playerOne,omitempty"`
	PlayerTwo     *PlayerSnapshot `json:"playerTwo,omitempty"`
}

// Player returns the snapshot of deviceID's side, or nil.
func (s *Snapshot) Player(deviceID string) *PlayerSnapshot {
	if s.PlayerOne != nil && s.PlayerOne.DeviceID == deviceID {
		return s.PlayerOne
	}
	if s.PlayerTwo != nil && s.PlayerTwo.DeviceID == deviceID {
		return s.PlayerTwo
	}
	return nil
}

// ErrorResponse is the body of a rejected request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// EventType names a push-delivered game event.
type EventType string

const (
	EventGameStarted  EventType = "gameStarted"
	EventChancePlayed EventType = "chancePlayed"
	EventWordPlayed   EventType = "wordPlayed"
	EventWildCardUsed EventType = "wildCardUsed"
	EventGameOver     EventType = "gameOver"
)

// Known reports whether t is one of the event types a client understands.
func (t EventType) Known() bool {
	switch t {
	case EventGameStarted, EventChancePlayed, EventWordPlayed, EventWildCardUsed, EventGameOver:
		return true
	}
	return false
}

// Event is a server-confirmed change. DeviceID is the actor; Chances, Score and
// WildCards are the actor's values after the change.
type Event struct {
	GameID           string    `json:"gameId"`
	Type             EventType `json:"eventType"`
	DeviceID         string    `json:"deviceId,omitempty"`
	Step             int       `json:"step"`
	Word             string    `json:"word,omitempty"`
	WildCardPosition int       `json:"wildcardPosition"`
	Chances          int       `json:"chances"`
	Score            int       `json:"score"`
	WildCards        int       `json:"wildcards"`
	State            *Snapshot `json:"state,omitempty"`
}

// Result is the outcome of a finished match from the local player's side.
type Result string

const (
	ResultWin  Result = "win"
	ResultLoss Result = "loss"
	ResultDraw Result = "draw"
)

// ResultFor compares two scores.
func ResultFor(localScore, remoteScore int) Result {
	switch {
	case localScore == remoteScore:
		return ResultDraw
	case localScore > remoteScore:
		return ResultWin
	}
	return ResultLoss
}

// IntPtr is a helper for the optional numeric request fields.
func IntPtr(v int) *int {
	return &v
}
