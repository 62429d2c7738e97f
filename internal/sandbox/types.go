package sandbox

import "time"

// Config defines sandbox configuration
type Config struct {
	StackSize     int  // Maximum call stack depth, 0 for goja's default
	EnableConsole bool // Forward console.log/warn/error/info as LOG messages
}

// LogEntry is the payload of a forwarded console call.
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// DefaultConfig returns the stock sandbox settings.
func DefaultConfig() Config {
	return Config{
		StackSize:     1024,
		EnableConsole: true,
	}
}
