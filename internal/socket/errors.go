package socket

import "errors"

var (
	// ErrNotConnected is returned by Emit while no connection is established
	ErrNotConnected = errors.New("socket: not connected")

	// ErrClosed is returned after Close has been called
	ErrClosed = errors.New("socket: client closed")

	// ErrBufferFull is returned when the outbound buffer is saturated
	ErrBufferFull = errors.New("socket: send buffer full")
)
