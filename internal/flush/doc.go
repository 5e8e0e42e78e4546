// Package flush forces persisted allocator files to stable storage.
//
// File is called once per written family, allocator and block file before the
// file is closed. The platform primitive is:
//
//   - Linux/FreeBSD: fdatasync(2)
//   - macOS: fsync(2), or fcntl(F_FULLFSYNC) when full is requested
//   - Windows: FlushFileBuffers
//   - elsewhere: (*os.File).Sync
package flush
