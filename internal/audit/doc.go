// Package audit relays flow audit events to a sink without blocking the flow.
//
// # Components
//
//   - [Sink] for event consumers (channel, JSON writer, zap logger, no-op).
//   - [Dispatcher], a buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event], one flow transition or external call outcome.
//
// This package owns buffering and delivery only. Which events to emit is decided
// by the engine.
package audit
