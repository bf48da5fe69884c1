package server

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/methodiva/littleLetters/broadcast"
	"github.com/methodiva/littleLetters/config"
	"github.com/methodiva/littleLetters/logger"
	"github.com/methodiva/littleLetters/models"
	"github.com/methodiva/littleLetters/monitor"
	"github.com/methodiva/littleLetters/network"
	"github.com/methodiva/littleLetters/room"
	"github.com/methodiva/littleLetters/session"
	"github.com/methodiva/littleLetters/timer"
)

const maxRequestSize = 64 << 10

// GameServer is the reference game server: one JSON endpoint for requests and
// a websocket per device for pushed events.
type GameServer struct {
	cfg            config.ServerConfig
	router         *chi.Mux
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	roomManager    *room.Manager
	sessionManager *session.Manager
	tokens         *TokenIssuer
	monitor        *monitor.Monitor
	timers         *timer.TimerManager
	sweepID        int64
}

func NewGameServer(cfg config.ServerConfig, rules config.GameConfig) *GameServer {
	s := &GameServer{
		cfg:            cfg,
		router:         chi.NewRouter(),
		sessionManager: session.NewManager(),
		tokens:         NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		monitor:        monitor.NewMonitor(cfg.Namespace),
		timers:         timer.NewTimerManager(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	if s.cfg.Heartbeat <= 0 {
		s.cfg.Heartbeat = network.DefaultHeartbeat
	}

	broadcaster := broadcast.NewDeviceBroadcaster(s.sessionManager)
	s.roomManager = room.NewManager(rules, rand.New(rand.NewSource(time.Now().UnixNano())), broadcaster)
	s.roomManager.OnCountChanged(s.monitor.SetActiveRooms)

	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(chimw.Recoverer)
	s.router.Use(requestLogger)

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{"games": s.roomManager.Count(), "devices": s.sessionManager.Count()})
	})
	s.router.Handle("/metrics", s.monitor.Handler())
	s.router.Post("/api", s.handleAPI)
	s.router.Get("/ws", s.handleWebSocket)

	if cfg.SweepInterval > 0 {
		s.sweepID = s.timers.AddTimer(cfg.SweepInterval, cfg.SweepInterval, func() {
			s.roomManager.Sweep(cfg.MaxWaiting, cfg.MaxIdle)
		})
	}
	return s
}

func (s *GameServer) Handler() http.Handler { return s.router }

func (s *GameServer) Rooms() *room.Manager { return s.roomManager }

func (s *GameServer) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.HTTPAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Log.Infof("Game server listening on %s", s.cfg.HTTPAddress)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, then drops every event channel.
func (s *GameServer) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.timers.Close()
	s.sessionManager.CloseAll()
	return err
}

func (s *GameServer) handleAPI(w http.ResponseWriter, r *http.Request) {
	begin := time.Now()
	var req models.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize)).Decode(&req); err != nil {
		s.reject(w, "unknown", http.StatusBadRequest, "invalid request body", begin)
		return
	}
	kind := string(req.EventType)

	switch req.EventType {
	case models.RequestStartGame, models.RequestJoinGame:
	default:
		claims, err := s.tokens.FromRequest(r)
		if err != nil {
			s.reject(w, kind, http.StatusUnauthorized, err.Error(), begin)
			return
		}
		if claims.DeviceID != req.DeviceID || claims.GameID != req.GameID {
			s.reject(w, kind, http.StatusForbidden, "token does not match request", begin)
			return
		}
	}

	snap, err := s.roomManager.Handle(req)
	if err != nil {
		s.reject(w, kind, statusFor(err), err.Error(), begin)
		return
	}
	if req.EventType == models.RequestStartGame || req.EventType == models.RequestJoinGame {
		token, err := s.tokens.Sign(req.DeviceID, snap.GameID)
		if err != nil {
			logger.Log.Errorf("Signing token for %s: %v", req.DeviceID, err)
			s.reject(w, kind, http.StatusInternalServerError, "token unavailable", begin)
			return
		}
		snap.Token = token
	}

	s.monitor.ObserveRequest(kind, monitor.OutcomeOK, time.Since(begin))
	writeJSON(w, http.StatusOK, snap)
}

func (s *GameServer) reject(w http.ResponseWriter, kind string, status int, msg string, begin time.Time) {
	s.monitor.ObserveRequest(kind, monitor.OutcomeRejected, time.Since(begin))
	logger.Log.Debugf("Rejected %s with %d: %s", kind, status, msg)
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, room.ErrGameNotFound), errors.Is(err, room.ErrKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, room.ErrNotAPlayer):
		return http.StatusForbidden
	case errors.Is(err, room.ErrNotYourTurn), errors.Is(err, room.ErrInvalidMove),
		errors.Is(err, room.ErrGameOver), errors.Is(err, room.ErrAlreadyStarted):
		return http.StatusConflict
	case errors.Is(err, room.ErrNoFreeKey):
		return http.StatusServiceUnavailable
	case errors.Is(err, room.ErrBadRequest):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := s.tokens.FromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: err.Error()})
		return
	}
	if _, ok := s.roomManager.Get(claims.GameID); !ok {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: room.ErrGameNotFound.Error()})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(network.NewWSConnection(conn), claims)
}

func (s *GameServer) handleConnection(wsConn *network.WSConnection, claims *Claims) {
	wsConn.SetHeartbeat(s.cfg.Heartbeat)
	sess := session.NewSession(uuid.NewString(), claims.DeviceID, claims.GameID, wsConn)
	if old := s.sessionManager.Add(sess); old != nil {
		logger.Log.Infof("Device %s reconnected, closing session %s", claims.DeviceID, old.ID)
		old.Close()
	}
	s.monitor.IncConnectedDevices()
	logger.Log.Infof("Device %s subscribed to game %s from %s, session %s",
		claims.DeviceID, claims.GameID, wsConn.RemoteAddr(), sess.ID)

	heartbeatID := s.timers.AddTimer(s.cfg.Heartbeat, s.cfg.Heartbeat, func() {
		if err := sess.Send(network.MsgTypeHeartbeat, nil); err != nil {
			logger.Log.Debugf("Heartbeat to session %s failed: %v", sess.ID, err)
		}
	})

	defer func() {
		s.timers.RemoveTimer(heartbeatID)
		s.sessionManager.Remove(sess)
		s.monitor.DecConnectedDevices()
		wsConn.Close()
		logger.Log.Infof("Session %s for device %s closed", sess.ID, claims.DeviceID)
	}()

	for {
		packet, err := wsConn.ReadPacket()
		if err != nil {
			return
		}
		switch packet.MsgID {
		case network.MsgTypeHeartbeat:
			sess.Touch()
		default:
			logger.Log.Infof("Unknown message type %d from session %s", packet.MsgID, sess.ID)
		}
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		begin := time.Now()
		next.ServeHTTP(ww, r)
		logger.Log.Debugw("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(begin),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warnf("Writing response: %v", err)
	}
}
