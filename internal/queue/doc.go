// Package queue implements the work-item queue described in §4.2: an
// unbounded, thread-safe FIFO with a shutdown signal, consumed by the
// request worker pool (internal/pool).
package queue
