package monitor

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// CLIMonitor prints chat traffic to the terminal.
type CLIMonitor struct {
	mu     sync.Mutex
	writer io.Writer // The output destination, typically os.Stdout.
}

// NewCLIMonitor creates a monitor writing to stdout.
func NewCLIMonitor() *CLIMonitor {
	return NewCLIMonitorTo(os.Stdout)
}

// NewCLIMonitorTo creates a monitor writing to w.
func NewCLIMonitorTo(w io.Writer) *CLIMonitor {
	return &CLIMonitor{writer: w}
}

func (m *CLIMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	fmt.Fprintln(m.writer, "💬 CLI Monitor Active - chat traffic will appear here")
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	return nil
}

func (m *CLIMonitor) Stop() error {
	return nil
}

// OnMessage renders one message as "[time] [scope:id] who > text".
func (m *CLIMonitor) OnMessage(msg MonitorMessage) {
	timestamp := msg.Timestamp.Format("2006-01-02 15:04:05")

	who := msg.Username
	if msg.Direction == DirectionOut {
		who = "[BOT]"
	}
	line := fmt.Sprintf("[%s:%d] %s > %s", msg.Scope, msg.TargetID, who, msg.Content)

	m.mu.Lock()
	defer m.mu.Unlock()
	// Use gray color for timestamp
	fmt.Fprintf(m.writer, "\033[90m[%s]\033[0m %s\n", timestamp, line)
}
