// Package openfile implements the open-file engine described in §4.6:
// a handle table mapping u64 handles to open-file entries backed by
// anonymous staging files, DIRTY/FLUSHING/IN_USE status tracking, and
// a transfer engine that moves bytes between a staging file and the
// remote object in chunks fanned out across the Secondary request
// pool — single-shot for small objects, ranged/multipart for large
// ones.
//
// Grounded on spec.md §4.6's numbered Open/Read/Write/Flush algorithm
// (no direct original_source file covers this — fs/cache.cc was not
// in the retrieval pack's file list — so the handle-table and status-
// flag design follows the spec's description directly) and on the
// teacher's internal/storage/s3/multipart_state.go for the
// part-tracking shape the multipart upload path reuses, and
// internal/buffer/writebuffer.go for the general idea of a staging
// area with a flush callback.
package openfile
