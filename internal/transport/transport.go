// Package transport offers a uniform read/write contract over the two
// supported upstream channels: line-delimited stdio and an HTTP /mcp
// endpoint parking requests by JSON-RPC id.
package transport

import "context"

// Transport produces inbound JSON-RPC envelopes and accepts outbound ones.
// ReadMessages blocks until a message is available, the context is
// cancelled, or the channel closes (ok=false). WriteMessage delivers one
// message to whichever caller is waiting for it.
type Transport interface {
	ReadMessages(ctx context.Context) (<-chan string, <-chan error)
	WriteMessage(ctx context.Context, msg string) error
	Close() error
}
