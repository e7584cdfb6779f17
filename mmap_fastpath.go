package datastore

import (
	"os"

	"golang.org/x/sys/unix"
)

// RawBytesProvider is implemented by array-like values (e.g. a pre-serialized
// byte buffer) that can skip the Serializer and filter chain entirely and be
// written straight to disk via mmap. SerializationFileDevice checks for this
// interface only when no filters are configured - a compression or
// encryption stage needs to see the literal byte stream, so the fast path is
// only safe on an otherwise-unfiltered device.
type RawBytesProvider interface {
	RawBytes() []byte
}

// writeRawMmap truncates fd to len(data), maps it, and copies data in
// directly, bypassing the usual io.Writer path. This generalizes the
// page-aligned acquire/release pattern the teacher's mmap buffer manager
// used for fixed-size block slots to a single whole-value mapping sized
// exactly to the payload.
func writeRawMmap(fd *os.File, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := fd.Truncate(int64(len(data))); err != nil {
		return err
	}
	mapping, err := unix.Mmap(int(fd.Fd()), 0, len(data), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	defer unix.Munmap(mapping)

	copy(mapping, data)
	return unix.Msync(mapping, unix.MS_SYNC)
}

// readRawMmap maps the whole file read-only and returns a copy of its bytes.
// A copy is returned (rather than the mapping itself) so the caller can
// unmap immediately instead of keeping the mapping alive for the lifetime of
// the returned value.
func readRawMmap(fd *os.File, size int64) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	mapping, err := unix.Mmap(int(fd.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	defer unix.Munmap(mapping)

	out := make([]byte, size)
	copy(out, mapping)
	return out, nil
}
