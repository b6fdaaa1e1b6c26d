// Package timeouts defines shared timeout constants used across the service.
// Centralizing these values prevents drift between components and makes the
// durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// PoolAcquire caps how long a caller blocks waiting for a database session
// before receiving a retryable exhaustion error.
const PoolAcquire = 3 * time.Second

// SchedulerTick caps the time one scheduler tick may spend holding a
// database session.
const SchedulerTick = 30 * time.Second
