package room

// Broadcaster pushes an encoded event to a set of devices. It is declared here
// to keep room free of the connection registry.
type Broadcaster interface {
	BroadcastToDevices(deviceIDs []string, msgID uint16, data []byte) error
}
