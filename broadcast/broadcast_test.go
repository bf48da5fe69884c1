package broadcast

import (
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/methodiva/littleLetters/network"
	"github.com/methodiva/littleLetters/session"
)

type MockConnection struct {
	sent    [][]byte
	sendErr error
}

func (m *MockConnection) Send(msgID uint16, data []byte) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, data)
	return nil
}

func (m *MockConnection) Close() error                         { return nil }
func (m *MockConnection) RemoteAddr() net.Addr                 { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration)  {}
func (m *MockConnection) ReadPacket() (*network.Packet, error) { return nil, nil }

func TestDeviceBroadcaster_SkipsOfflineDevices(t *testing.T) {
	manager := session.NewManager()
	online := &MockConnection{}
	manager.Add(session.NewSession("s1", "dev-a", "g1", online))

	b := NewDeviceBroadcaster(manager)
	if err := b.BroadcastToDevices([]string{"dev-a", "dev-b"}, network.MsgTypeGameEvent, []byte("ev")); err != nil {
		t.Fatalf("Expected offline devices to be skipped, got: %v", err)
	}
	if len(online.sent) != 1 || string(online.sent[0]) != "ev" {
		t.Errorf("Expected one push to dev-a, got %q", online.sent)
	}
}

func TestDeviceBroadcaster_JoinsSendErrors(t *testing.T) {
	manager := session.NewManager()
	broken := errors.New("broken pipe")
	manager.Add(session.NewSession("s1", "dev-a", "g1", &MockConnection{sendErr: broken}))
	healthy := &MockConnection{}
	manager.Add(session.NewSession("s2", "dev-b", "g1", healthy))

	err := NewDeviceBroadcaster(manager).BroadcastToDevices([]string{"dev-a", "dev-b"}, network.MsgTypeGameEvent, []byte("ev"))
	if !errors.Is(err, broken) {
		t.Fatalf("Expected the send error, got %v", err)
	}
	if !strings.Contains(err.Error(), "dev-a") {
		t.Errorf("Expected the failing device in the error, got %v", err)
	}
	if len(healthy.sent) != 1 {
		t.Errorf("Expected dev-b to still get the push, got %d", len(healthy.sent))
	}
}
