package monitor

import "time"

// Message directions.
const (
	DirectionIn  = "IN"
	DirectionOut = "OUT"
)

// MonitorMessage is one line of chat traffic.
type MonitorMessage struct {
	Timestamp time.Time
	Direction string // DirectionIn or DirectionOut
	Scope     string // "group" or "private"
	TargetID  int64  // group id for group traffic, user id otherwise
	Username  string // sender display name, empty for outbound
	Content   string
}

// Monitor observes chat traffic flowing through the bot.
type Monitor interface {
	Start() error
	Stop() error
	OnMessage(msg MonitorMessage)
}
