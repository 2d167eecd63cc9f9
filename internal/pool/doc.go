// Package pool implements the request worker pool described in §4.3: a
// named, fixed-size pool of workers consuming from a shared
// internal/queue.Queue, with retry-on-timeout and watchdog-driven
// worker respawn.
//
// Two worker kinds are supported. A request worker owns a long-lived
// *Client (an authenticated HTTP client plus a pre-request hook for
// signing); a compute worker runs functions that take no client. Three
// pool identities are used throughout the core: Primary (foreground
// filesystem operations), Secondary (background multipart upload
// parts, kept off the foreground pool so they cannot deadlock waiting
// on themselves), and Compute (non-HTTP work).
//
// This is grounded on the teacher's internal/storage/s3.ConnectionPool
// (connection reuse, health checking, stats) and internal/circuit's
// state-machine style, generalized from "a pool of *s3.Client" to "a
// pool of workers draining a work queue with retry and watchdog
// semantics" per spec §4.3/§4.5/§9.
package pool
