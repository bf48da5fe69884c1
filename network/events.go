package network

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/methodiva/littleLetters/logger"
)

var ErrAlreadySubscribed = errors.New("event channel already subscribed")

// Dial opens a websocket to url, presenting token as a bearer credential.
func Dial(ctx context.Context, url, token string) (*WSConnection, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return NewWSConnection(ws), nil
}

// WSEventChannel receives pushed game events over a websocket.
type WSEventChannel struct {
	url       string
	heartbeat time.Duration

	mutex sync.Mutex
	conn  *WSConnection
	done  chan struct{}
}

func NewWSEventChannel(url string) *WSEventChannel {
	return &WSEventChannel{url: url, heartbeat: DefaultHeartbeat}
}

// Subscribe dials the server and calls handler with the payload of every game
// event until Close is called or the connection drops. A drop is reported to
// onLost, after which Subscribe can be called again.
func (c *WSEventChannel) Subscribe(ctx context.Context, token string, handler func(payload []byte), onLost func(err error)) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.conn != nil {
		return ErrAlreadySubscribed
	}

	conn, err := Dial(ctx, c.url, token)
	if err != nil {
		return err
	}
	conn.SetHeartbeat(c.heartbeat)
	c.conn = conn
	c.done = make(chan struct{})
	go c.readLoop(conn, c.done, handler, onLost)
	return nil
}

func (c *WSEventChannel) readLoop(conn *WSConnection, done chan struct{}, handler func([]byte), onLost func(error)) {
	defer close(done)
	for {
		packet, err := conn.ReadPacket()
		if err != nil {
			c.lost(conn, err, onLost)
			return
		}
		switch packet.MsgID {
		case MsgTypeGameEvent:
			handler(packet.Data)
		case MsgTypeHeartbeat:
			if err := conn.Send(MsgTypeHeartbeat, nil); err != nil {
				logger.Log.Warnf("Heartbeat reply failed: %v", err)
			}
		default:
			logger.Log.Warnf("Unexpected message %d on event channel", packet.MsgID)
		}
	}
}

// lost releases a connection that dropped on its own. Close clears c.conn
// first, so a read error it caused is not reported.
func (c *WSEventChannel) lost(conn *WSConnection, err error, onLost func(error)) {
	c.mutex.Lock()
	dropped := c.conn == conn
	if dropped {
		c.conn = nil
	}
	c.mutex.Unlock()
	if !dropped {
		logger.Log.Debugf("Event channel to %s closed: %v", c.url, err)
		return
	}
	logger.Log.Warnf("Event channel to %s dropped: %v", c.url, err)
	conn.Close()
	if onLost != nil {
		onLost(err)
	}
}

// Close stops the read loop and waits for it to exit.
func (c *WSEventChannel) Close() error {
	c.mutex.Lock()
	conn, done := c.conn, c.done
	c.conn = nil
	c.mutex.Unlock()
	if conn == nil {
		return nil
	}
	err := conn.Close()
	<-done
	return err
}
