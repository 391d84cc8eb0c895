package ports

import "depthcap/internal/core/domain"

// MessageChannel is one framed connection to the host. Send and SendBatch
// are safe for concurrent use; Receive has a single reader.
type MessageChannel interface {
	Send(msgType int32, payload []byte) error
	SendBatch(msgs ...domain.Message) error
	Receive() (domain.Message, error)
	Close() error
}
