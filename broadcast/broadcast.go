// broadcast/broadcast.go
package broadcast

import (
	"errors"
	"fmt"

	"github.com/methodiva/littleLetters/logger"
	"github.com/methodiva/littleLetters/session"
)

type Broadcaster interface {
	BroadcastToDevices(deviceIDs []string, msgID uint16, data []byte) error
}

// DeviceBroadcaster pushes to whichever of the devices currently hold a session.
type DeviceBroadcaster struct {
	sessionManager *session.Manager
}

func NewDeviceBroadcaster(sessionManager *session.Manager) *DeviceBroadcaster {
	return &DeviceBroadcaster{sessionManager: sessionManager}
}

// BroadcastToDevices skips devices that are offline; they catch up with
// getgamestate. Send failures are joined into the returned error.
func (b *DeviceBroadcaster) BroadcastToDevices(deviceIDs []string, msgID uint16, data []byte) error {
	var errs []error
	for _, id := range deviceIDs {
		err := b.sessionManager.SendTo(id, msgID, data)
		switch {
		case errors.Is(err, session.ErrNotConnected):
			logger.Log.Debugf("Device %s offline, push %d skipped", id, msgID)
		case err != nil:
			errs = append(errs, fmt.Errorf("device %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
