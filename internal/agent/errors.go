package agent

import "errors"

var (
	ErrStopQueueFull = errors.New("stop request queue is full")
	ErrNotConnected  = errors.New("not connected to server")
)
