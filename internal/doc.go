// Package internal holds helpers shared by the reference backend that are not
// part of the public API: code generation and code hashing.
//
// # Sub-packages
//
//   - audit: asynchronous audit event dispatch and sinks
//   - limiters: Redis fixed-window throttles for code sends and checks
//   - logging: zap logger construction for the CLI
//   - stores: the Redis code store
package internal
