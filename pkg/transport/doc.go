// Package transport accepts persistent WebSocket connections from
// terminals and hands raw frames to the layer above via callbacks. One
// JSON text frame per protocol message; the transport does not interpret
// frame contents.
package transport
