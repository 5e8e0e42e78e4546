// Package cxmalloc implements a reference-counted slab allocator for
// fixed-family object records ("lines") with crash-safe persistence and
// cooperative in-place defragmentation.
//
// # Hierarchy
//
// A Family serves one object layout. It owns up to Size() allocators, one
// per size class. Each allocator owns up to 65536 blocks, and each block
// holds Quant equally sized lines:
//
//	Family ──► allocator[aidx] ──► block[bidx] ──► line[offset]
//
// A line is a 32-byte head (metaflex, flags, address, refcount, length),
// an optional object header and an array of Length() units.
//
// # Lifecycle
//
//	ln, err := fam.New(100)          // refcount 1
//	fam.Own(ln.Handle())             // refcount 2
//	fam.Discard(ln.Handle())         // refcount 1
//	fam.Discard(ln.Handle())         // refcount 0, slot returned to its block
//
// Handles carry a generation stamped when the slot is issued. A handle kept
// past the final Discard no longer resolves and operations on it fail with
// ErrStaleHandle.
//
// # Block chains
//
// Every allocator issues lines from a single head block. Partly used blocks
// wait in a re-use chain behind the head; fully freed blocks release their
// data and become holes behind the re-use chain. Trailing holes are pruned.
// Renew relocates a lone reference from a sparse block into the head block so
// sparse blocks drain over time.
//
// # Readonly sections
//
// SetReadonly opens a readonly section (persistence uses one). Structural
// changes attempted while it is open are skipped with ErrReaderActive; they
// never block. A Discard that reaches zero inside a readonly section leaks
// the line until the next Sweep.
//
// # Persistence
//
// BulkSerialize writes the family, allocator and block files under the
// descriptor's Persist.Path. NewFamily restores the allocator and block
// topology from an existing directory and RestoreObjects reloads line data
// through the family LineSerializer.
package cxmalloc
