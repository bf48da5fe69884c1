// Command client plays littleLetters from a terminal. A "photo" is a typed
// label list such as "lamp:0.92,table:0.7".
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/methodiva/littleLetters/config"
	"github.com/methodiva/littleLetters/engine"
	"github.com/methodiva/littleLetters/label"
	"github.com/methodiva/littleLetters/logger"
	"github.com/methodiva/littleLetters/match"
	"github.com/methodiva/littleLetters/monitor"
	"github.com/methodiva/littleLetters/network"
	"github.com/methodiva/littleLetters/protocol"
	"github.com/methodiva/littleLetters/state"
)

const help = `commands:
  start              create a game and wait for an opponent
  cancel             withdraw a game nobody joined
  join NNNN          join the game behind a key
  snap word:0.9,...  take a photo with these labels
  timer              show the turn summary
  hide | show        background or foreground the game
  quit               leave the match and exit`

type player struct {
	cfg      *config.Config
	monitor  *monitor.Monitor
	capturer *label.StaticCapturer

	session     *match.Session
	stopWaiting context.CancelFunc
	opponents   chan waitResult
}

type waitResult struct {
	session *match.Session
	err     error
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	// the terminal is the UI, keep the log quiet
	if cfg.LogLevel == "info" {
		cfg.LogLevel = "warn"
	}
	logger.Init(cfg.LogLevel)
	defer logger.Log.Sync()

	if cfg.Client.DeviceID == "" {
		cfg.Client.DeviceID = uuid.NewString()
	}

	p := &player{
		cfg:       cfg,
		monitor:   monitor.NewMonitor("littleletters_client"),
		capturer:  label.NewStaticCapturer(),
		opponents: make(chan waitResult, 1),
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	fmt.Printf("device %s\n%s\n", cfg.Client.DeviceID, help)
	for {
		select {
		case <-interrupt:
			p.quit()
			return
		case res := <-p.opponents:
			p.stopWaiting = nil
			if res.err != nil {
				fmt.Printf("! nobody joined: %v\n", res.err)
				continue
			}
			p.session = res.session
		case line, ok := <-lines:
			if !ok {
				p.quit()
				return
			}
			if line == "quit" {
				p.quit()
				return
			}
			if err := p.run(line); err != nil {
				fmt.Printf("! %v\n", err)
			}
		}
	}
}

func (p *player) run(line string) error {
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "":
		return nil
	case "start":
		return p.start()
	case "cancel":
		if p.stopWaiting == nil {
			return match.ErrNotStarted
		}
		p.stopWaiting()
	case "join":
		return p.join(strings.TrimSpace(arg))
	case "snap":
		if p.session == nil {
			return errors.New("no match running")
		}
		if _, err := label.ParseCandidates(arg); err != nil {
			return err
		}
		p.capturer.Load(label.Image(arg))
		if !p.session.OnScreenTapped() {
			return errors.New("you cannot take a photo right now")
		}
	case "timer":
		if p.session != nil {
			p.session.OnTimerTapped()
		}
	case "hide":
		if p.session != nil {
			p.session.Hide()
		}
	case "show":
		if p.session != nil {
			p.session.Show()
		}
	default:
		fmt.Println(help)
	}
	return nil
}

// newSetup builds a fresh client for the next match.
func (p *player) newSetup() (*match.Setup, error) {
	if p.stopWaiting != nil {
		return nil, match.ErrAlreadyStarted
	}
	if p.session != nil {
		select {
		case <-p.session.Ended():
			p.session.Close()
			p.session = nil
		default:
			return nil, match.ErrAlreadyStarted
		}
	}
	client := protocol.NewClient(
		network.NewHTTPTransport(p.cfg.Client.APIURL, protocol.DefaultRequestTimeout),
		network.NewWSEventChannel(p.cfg.Client.EventsURL),
		p.cfg.Client.DeviceID,
		p.cfg.Client.PlayerName,
		p.monitor,
	)
	return match.NewSetup(match.Dependencies{
		Client:     client,
		Capturer:   p.capturer,
		Recognizer: label.TypedRecognizer{},
		Observer:   consoleObserver{},
		Rules:      p.cfg.Game,
		Monitor:    p.monitor,
	})
}

func (p *player) start() error {
	setup, err := p.newSetup()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), protocol.DefaultRequestTimeout)
	defer cancel()
	key, err := setup.StartGame(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("game key %s, waiting for an opponent\n", key)

	// WaitForOpponent withdraws the game when waitCtx ends
	waitCtx, waitCancel := context.WithTimeout(context.Background(), p.cfg.Server.MaxWaiting)
	p.stopWaiting = waitCancel
	go func() {
		defer waitCancel()
		session, err := setup.WaitForOpponent(waitCtx)
		p.opponents <- waitResult{session: session, err: err}
	}()
	return nil
}

func (p *player) join(key string) error {
	setup, err := p.newSetup()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), protocol.DefaultRequestTimeout)
	defer cancel()
	session, err := setup.JoinGame(ctx, key)
	if err != nil {
		return err
	}
	p.session = session
	return nil
}

func (p *player) quit() {
	if p.stopWaiting != nil {
		p.stopWaiting()
		<-p.opponents
	}
	if p.session == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.session.Leave(ctx); err != nil {
		fmt.Printf("! leaving: %v\n", err)
	}
}

type consoleObserver struct {
	engine.NopObserver
}

func (consoleObserver) OnPhaseChanged(phase state.Phase) {
	switch phase {
	case state.WaitingForCapture:
		fmt.Println("... looking at the photo")
	case state.WildCardMode:
		fmt.Println("wildcard: any word goes, for no points")
	}
}

func (consoleObserver) OnTimerChanged(seconds int) {
	if seconds <= 5 || seconds%10 == 0 {
		fmt.Printf("%ds\n", seconds)
	}
}

func (consoleObserver) OnLetterChanged(letter rune) {
	fmt.Printf("letter: %c\n", letter)
}

func (consoleObserver) OnTurnChanged(isLocalTurn bool) {
	if isLocalTurn {
		fmt.Println("your turn")
	} else {
		fmt.Println("opponent's turn")
	}
}

func (consoleObserver) OnScoreChanged(local, remote int) {
	fmt.Printf("score %d - %d\n", local, remote)
}

func (consoleObserver) OnAttemptsChanged(attempts, wildCards int) {
	fmt.Printf("attempts %d, wildcards %d\n", attempts, wildCards)
}

func (consoleObserver) OnVisibilityChanged(visible bool) {
	if visible {
		fmt.Println("back in the game")
	}
}

func (consoleObserver) OnTurnSummary(s engine.TurnSummary) {
	fmt.Printf("%ds left, score %s, attempts %d, wildcards %d\n", s.SecondsRemaining, s.Score, s.Attempts, s.WildCards)
}

func (consoleObserver) OnGameOver(s engine.GameSummary) {
	fmt.Printf("game over: %s, %s %d - %s %d\n", s.Result, s.LocalName, s.LocalScore, s.RemoteName, s.RemoteScore)
}
