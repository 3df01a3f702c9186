// Package server defines the lifecycle contract shared by the network
// engines and the per-connection protocol session they all drive.
//
// Engines own sockets and scheduling; the Session owns everything between
// bytes-in and bytes-out: parsing, body framing, command execution, reply
// buffering, and the bailout flag that tells the engine to close once the
// output has drained.
package server

import "github.com/agilira/go-errors"

// Engine is a network frontend serving the cache protocol.
type Engine interface {
	// Start binds sockets and launches the workers. It returns once the
	// engine is accepting (or with the bind/setup error).
	Start() error

	// Stop signals shutdown without blocking. Workers observe it within
	// one event-wait timeout; in-flight connections are closed abruptly.
	Stop()

	// Join waits for all workers to exit and surfaces the first fatal
	// worker error, if any.
	Join() error
}

// Error codes for engine fatals. Only these cross the worker boundary via
// Join; every connection-level failure is absorbed by the session.
const (
	ErrCodeListen   errors.ErrorCode = "CACHE_LISTEN_FAILED"
	ErrCodeNotifier errors.ErrorCode = "CACHE_NOTIFIER_FAILED"
	ErrCodeFifo     errors.ErrorCode = "CACHE_FIFO_FAILED"
	ErrCodeWorker   errors.ErrorCode = "CACHE_WORKER_FAILED"
)
