package datastore

import (
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

const blake3DigestSize = 32

// FilterPair is one stage of a SerializationFileDevice's byte-stream
// pipeline. Stages are applied in the order they appear in the device's
// Filters slice: on write, stage 0 wraps the raw file first and later stages
// wrap progressively outward, so stage 0 is the transform closest to the
// bytes that hit disk and the last stage is the transform closest to the
// serialized value. Reading applies the same stages in the same order,
// undoing them from disk-adjacent to value-adjacent, which is why the
// pipeline is symmetric regardless of how many stages it has.
type FilterPair struct {
	Name   string
	Encode func(w io.Writer) (io.WriteCloser, error)
	Decode func(r io.Reader) (io.ReadCloser, error)
}

// ZstdFilter compresses with github.com/klauspost/compress/zstd.
func ZstdFilter() FilterPair {
	return FilterPair{
		Name: "zstd",
		Encode: func(w io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(w)
		},
		Decode: func(r io.Reader) (io.ReadCloser, error) {
			dec, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return zstdReader{dec}, nil
		},
	}
}

type zstdReader struct{ *zstd.Decoder }

func (z zstdReader) Close() error {
	z.Decoder.Close()
	return nil
}

// LZ4Filter compresses with github.com/pierrec/lz4/v4, trading ratio for
// lower CPU cost relative to the zstd filter.
func LZ4Filter() FilterPair {
	return FilterPair{
		Name: "lz4",
		Encode: func(w io.Writer) (io.WriteCloser, error) {
			return lz4.NewWriter(w), nil
		},
		Decode: func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(lz4.NewReader(r)), nil
		},
	}
}

// SnappyFilter compresses with github.com/golang/snappy, the lowest-latency
// compression option wired into the file device.
func SnappyFilter() FilterPair {
	return FilterPair{
		Name: "snappy",
		Encode: func(w io.Writer) (io.WriteCloser, error) {
			return snappy.NewBufferedWriter(w), nil
		},
		Decode: func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(snappy.NewReader(r)), nil
		},
	}
}

// BLAKE3ChecksumFilter wraps the stream with a leading BLAKE3 digest of the
// payload it wraps, to detect on-disk corruption independent of whatever
// codec runs further in the chain. It buffers the whole payload in memory on
// both sides, since a digest can only be produced (or checked) once the full
// content is known.
func BLAKE3ChecksumFilter() FilterPair {
	return FilterPair{
		Name: "blake3-checksum",
		Encode: func(w io.Writer) (io.WriteCloser, error) {
			return &blake3Encoder{dst: w, buf: new(bytes.Buffer)}, nil
		},
		Decode: func(r io.Reader) (io.ReadCloser, error) {
			all, err := io.ReadAll(r)
			if err != nil {
				return nil, err
			}
			if len(all) < blake3DigestSize {
				return nil, fmt.Errorf("blake3 filter: truncated stream (%d bytes)", len(all))
			}
			digest, payload := all[:blake3DigestSize], all[blake3DigestSize:]
			got := blake3.Sum256(payload)
			if !bytes.Equal(digest, got[:]) {
				return nil, fmt.Errorf("blake3 filter: checksum mismatch")
			}
			return io.NopCloser(bytes.NewReader(payload)), nil
		},
	}
}

type blake3Encoder struct {
	dst io.Writer
	buf *bytes.Buffer
}

func (b *blake3Encoder) Write(p []byte) (int, error) { return b.buf.Write(p) }

func (b *blake3Encoder) Close() error {
	sum := blake3.Sum256(b.buf.Bytes())
	if _, err := b.dst.Write(sum[:]); err != nil {
		return err
	}
	_, err := b.dst.Write(b.buf.Bytes())
	return err
}

// AgeFilter wraps the stream in an age-encrypted envelope using a
// passphrase-derived (scrypt) recipient/identity pair, for deployments
// storing sensitive values on the file device.
func AgeFilter(passphrase string) FilterPair {
	return FilterPair{
		Name: "age",
		Encode: func(w io.Writer) (io.WriteCloser, error) {
			r, err := age.NewScryptRecipient(passphrase)
			if err != nil {
				return nil, err
			}
			return age.Encrypt(w, r)
		},
		Decode: func(r io.Reader) (io.ReadCloser, error) {
			id, err := age.NewScryptIdentity(passphrase)
			if err != nil {
				return nil, err
			}
			dec, err := age.Decrypt(r, id)
			if err != nil {
				return nil, err
			}
			return io.NopCloser(dec), nil
		},
	}
}
