package protocol

import (
	"time"

	"github.com/bytedance/sonic"
)

// ProcessInfo is one row of a process list.
type ProcessInfo struct {
	PID        int       `json:"pid"`
	Path       string    `json:"path"`
	CreatedAt  time.Time `json:"created_at"`
	AgeSeconds int64     `json:"age_seconds"`
	State      State     `json:"state"`
}

// EncodeList serializes a process list for the reply channel.
func EncodeList(list []ProcessInfo) (string, error) {
	if list == nil {
		list = []ProcessInfo{}
	}
	return sonic.MarshalString(list)
}

// DecodeList parses a serialized process list.
func DecodeList(s string) ([]ProcessInfo, error) {
	var list []ProcessInfo
	if err := sonic.UnmarshalString(s, &list); err != nil {
		return nil, err
	}
	return list, nil
}
