package network

import "time"

const (
	MsgTypeHeartbeat = 1
	MsgTypeGameEvent = 301
)

const DefaultHeartbeat = 20 * time.Second
